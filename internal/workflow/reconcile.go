package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"curator/internal/imaging"
	"curator/internal/ledger"
	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/registry"
	"curator/internal/services"
)

// Reconcile finds runs that committed files to the archive but never got
// their registry rows published, re-derives those rows from the archive
// contents, and publishes the repairs in a single sync. The pass is
// idempotent: rows already present are left alone, so a reconcile that
// itself dies mid-way can simply be rerun.
func (o *Orchestrator) Reconcile(ctx context.Context) (*Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := &Report{Op: ledger.OpReconcile}
	run, err := o.store.NewRun(ctx, ledger.OpReconcile, "", "")
	if err != nil {
		report.Diagnostic = err.Error()
		return report, err
	}
	report.RunID = run.ID
	ctx = services.WithRunID(ctx, run.ID)

	cutoff := time.Now().UTC().Add(-time.Duration(o.cfg.Workflow.ReconcileAfterMinutes) * time.Minute)
	stuck, err := o.store.StuckCommitted(ctx, cutoff)
	if err != nil {
		return o.finishFailure(ctx, run, report,
			services.Wrap(services.ErrTransient, "workflow", "reconcile", "query stuck runs", err))
	}
	if len(stuck) == 0 {
		if err := o.advance(ctx, run, ledger.StatusCompleted); err != nil {
			return o.finishFailure(ctx, run, report, err)
		}
		report.Success = true
		report.Diagnostic = "no runs awaiting reconciliation"
		return report, nil
	}

	if err := o.client.Login(ctx); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}
	if err := o.advance(ctx, run, ledger.StatusLoggedIn); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	reg, err := registry.Load(ctx, o.client, registry.SessionOptions(o.cfg))
	if err != nil {
		return o.finishFailure(ctx, run, report, err)
	}
	defer reg.Close()
	if err := o.advance(ctx, run, ledger.StatusValidated); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	var (
		repaired      []*ledger.Run
		flagged       int
		totalHashes   int
		totalSubjects int
	)
	for _, candidate := range stuck {
		cctx := services.WithRunID(ctx, candidate.ID)
		outcome, err := o.repairRun(cctx, reg, candidate)
		report.Files = append(report.Files, outcome.files...)
		totalHashes += outcome.restoredHashes
		totalSubjects += outcome.restoredSubjects
		if err != nil {
			// Archive outages abort the whole pass; anything else is a
			// per-run defect the next human should look at. Rows already
			// inserted for the flagged run describe files verified present,
			// so they stay and sync.
			if errors.Is(err, services.ErrTransport) {
				return o.finishFailure(ctx, run, report, err)
			}
			candidate.SetReview(err.Error())
			if uerr := o.store.Update(cctx, candidate); uerr != nil {
				logging.WithContext(cctx, o.logger).Warn("persist review flag", logging.Error(uerr))
			}
			flagged++
			continue
		}
		repaired = append(repaired, candidate)
	}

	if err := reg.Sync(ctx, o.client); err != nil {
		var conflict *registry.ConflictError
		if errors.As(err, &conflict) {
			o.publish(ctx, notifications.EventSyncConflict, notifications.Payload{"case": "reconcile"})
		}
		return o.finishFailure(ctx, run, report, err)
	}
	for _, r := range repaired {
		if err := o.store.SetStatus(ctx, r, ledger.StatusSynced); err != nil {
			o.logger.Warn("mark run synced",
				logging.Int64(logging.FieldRunID, r.ID), logging.Error(err))
		}
	}

	run.FileCount = totalHashes
	if err := o.advance(ctx, run, ledger.StatusCompleted); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	summary := fmt.Sprintf("reconciled %d of %d run(s): restored %d hash row(s), %d subject row(s)",
		len(repaired), len(stuck), totalHashes, totalSubjects)
	if flagged > 0 {
		summary += fmt.Sprintf("; %d run(s) flagged for review", flagged)
	}
	logging.WithContext(ctx, o.logger).Info("reconcile pass finished",
		logging.Int("restored_hashes", totalHashes), logging.Int("flagged", flagged))
	report.Success = true
	report.Diagnostic = summary
	o.publish(ctx, notifications.EventReconcile, notifications.Payload{"summary": summary})
	return report, nil
}

type repairOutcome struct {
	restoredHashes   int
	restoredSubjects int
	files            []FileOutcome
}

// repairRun walks the archive paths a stuck run recorded and makes the
// registry agree with them: the subject row is restored from the committed
// case snapshot when missing, and every present image gets its hash row
// back. The scan index is recovered from the path itself.
func (o *Orchestrator) repairRun(ctx context.Context, reg *registry.Registry, run *ledger.Run) (repairOutcome, error) {
	var outcome repairOutcome
	paths := run.CommittedPaths()
	if len(paths) == 0 {
		return outcome, services.Wrap(services.ErrValidation, "workflow", "reconcile",
			fmt.Sprintf("run %d is committed but recorded no archive paths", run.ID), nil)
	}

	ensured := make(map[string]bool)
	missing := 0
	for _, p := range paths {
		parts := strings.Split(p, "/")
		if len(parts) != 4 {
			return outcome, services.Wrap(services.ErrValidation, "workflow", "reconcile",
				fmt.Sprintf("run %d recorded unrecognized archive path %s", run.ID, p), nil)
		}
		uid, experiment, third := parts[0], parts[1], parts[2]
		kind := strings.TrimPrefix(experiment, uid+"-")
		if kind == experiment {
			return outcome, services.Wrap(services.ErrValidation, "workflow", "reconcile",
				fmt.Sprintf("run %d recorded path %s outside any experiment", run.ID, p), nil)
		}

		if !ensured[uid] {
			restored, err := o.ensureSubject(ctx, reg, run, uid, paths)
			if err != nil {
				return outcome, err
			}
			if restored {
				outcome.restoredSubjects++
			}
			ensured[uid] = true
		}

		scan, err := strconv.Atoi(third)
		if err != nil {
			// Resource files carry no image content; presence is all
			// the registry cares about.
			if _, err := o.client.Stat(ctx, p); err != nil {
				if !errors.Is(err, services.ErrNotFound) {
					return outcome, err
				}
				outcome.files = append(outcome.files, FileOutcome{Source: p, Skipped: true, Reason: "missing from archive"})
				missing++
			}
			continue
		}

		data, _, err := o.client.Fetch(ctx, p)
		if err != nil {
			if !errors.Is(err, services.ErrNotFound) {
				return outcome, err
			}
			outcome.files = append(outcome.files, FileOutcome{Source: p, Skipped: true, Reason: "missing from archive"})
			missing++
			continue
		}
		hash, err := imaging.HashBytes(data)
		if err != nil {
			return outcome, services.Wrap(services.ErrClassification, "workflow", "reconcile",
				fmt.Sprintf("fingerprint %s", p), err)
		}
		if reg.ContainsHash(uid, kind, hash) {
			outcome.files = append(outcome.files, FileOutcome{
				Source: p, ArchivePath: p, Hash: hash, Skipped: true, Reason: "already registered",
			})
			continue
		}
		if _, err := reg.Insert(registry.TableHashes, registry.Row{
			Name: hash,
			Extra: map[string]string{
				registry.ColSubject:     uid,
				registry.ColExperiment:  kind,
				registry.ColInstanceNum: strconv.Itoa(scan),
			},
		}); err != nil {
			return outcome, err
		}
		outcome.restoredHashes++
		outcome.files = append(outcome.files, FileOutcome{
			Source: p, ArchivePath: p, Hash: hash, Reason: "registered from archive",
		})
	}

	if missing > 0 {
		return outcome, services.Wrap(services.ErrValidation, "workflow", "reconcile",
			fmt.Sprintf("run %d: %d committed file(s) missing from archive", run.ID, missing), nil)
	}
	return outcome, nil
}

// ensureSubject restores a missing subject row from the case snapshot the
// run committed alongside its images, reusing the original UID so the
// archive paths stay truthful.
func (o *Orchestrator) ensureSubject(ctx context.Context, reg *registry.Registry, run *ledger.Run, uid string, paths []string) (bool, error) {
	if _, ok := reg.GetByUID(registry.TableSubjects, uid); ok {
		return false, nil
	}

	snapshotPath := ""
	for _, p := range paths {
		parts := strings.Split(p, "/")
		if len(parts) != 4 || parts[0] != uid || path.Base(p) != caseSnapshotName {
			continue
		}
		if _, err := strconv.Atoi(parts[2]); err != nil {
			snapshotPath = p
			break
		}
	}
	if snapshotPath == "" {
		return false, services.Wrap(services.ErrValidation, "workflow", "reconcile",
			fmt.Sprintf("subject %s is unregistered and run %d recorded no case snapshot", uid, run.ID), nil)
	}

	data, _, err := o.client.Fetch(ctx, snapshotPath)
	if err != nil {
		return false, err
	}
	var snap caseSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, services.Wrap(services.ErrValidation, "workflow", "reconcile",
			fmt.Sprintf("decode case snapshot %s", snapshotPath), err)
	}
	if !strings.EqualFold(snap.SubjectUID, uid) {
		return false, services.Wrap(services.ErrValidation, "workflow", "reconcile",
			fmt.Sprintf("case snapshot %s names subject %s, want %s", snapshotPath, snap.SubjectUID, uid), nil)
	}

	if _, err := reg.Insert(registry.TableSubjects, registry.Row{
		Name: snap.CaseKey,
		UID:  snap.SubjectUID,
		Extra: map[string]string{
			registry.ColAcquisitionSite: snap.SiteUID,
			registry.ColGroup:           snap.GroupUID,
		},
	}); err != nil {
		return false, err
	}
	logging.WithContext(ctx, o.logger).Info("restored subject row",
		logging.String(logging.FieldCaseKey, snap.CaseKey),
		logging.String("subject_uid", snap.SubjectUID))
	return true, nil
}
