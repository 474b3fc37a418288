package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"curator/internal/dicomsafe"
	"curator/internal/imaging"
	"curator/internal/intake"
	"curator/internal/ledger"
	"curator/internal/logging"
	"curator/internal/naming"
	"curator/internal/notifications"
	"curator/internal/registry"
	"curator/internal/services"
)

// CaseInput describes one new-case upload: the metadata row and the
// directory of image files acquired for the case.
type CaseInput struct {
	Row       intake.Row
	SourceDir string
	// Kind is the experiment kind to file under; empty means Source_Data.
	Kind naming.Kind
}

// caseFile is one decoded, hashed input file. data holds the bytes that
// commit uploads, which for DICOM may be the de-identified re-encoding.
type caseFile struct {
	path       string
	data       []byte
	raster     *imaging.Raster
	hash       string
	acquiredAt time.Time
	label      string
	ext        string
	// note carries a benign advisory attached to the report outcome, such
	// as a cross-subject content match.
	note string
}

// UploadNewCase runs the full intake state machine for one case directory:
// login, validate, dedup, classify, name, commit, register, sync. Duplicate
// content is skipped per file and never fails the batch; every other
// pre-commit failure aborts with nothing written.
func (o *Orchestrator) UploadNewCase(ctx context.Context, input CaseInput) (*Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	kind := input.Kind
	if kind == "" {
		kind = naming.KindSource
	}

	report := &Report{Op: ledger.OpIntake}
	run, err := o.store.NewRun(ctx, ledger.OpIntake, "", input.SourceDir)
	if err != nil {
		report.Diagnostic = err.Error()
		return report, err
	}
	report.RunID = run.ID
	ctx = services.WithRunID(ctx, run.ID)

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

	record, err := o.ruleset.Validate(input.Row, reg)
	if err != nil {
		return o.finishFailure(ctx, run, report, err)
	}
	run.CaseKey = record.CaseKey
	report.CaseKey = record.CaseKey
	ctx = services.WithCaseKey(ctx, record.CaseKey)
	if err := o.advance(ctx, run, ledger.StatusValidated); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	paths, err := collectCaseFiles(input.SourceDir)
	if err != nil {
		return o.finishFailure(ctx, run, report, err)
	}
	run.FileCount = len(paths)

	files, err := o.loadCaseFiles(ctx, paths)
	if err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	keep, skipped := o.dedup(ctx, reg, record.CaseKey, kind, files, report)
	if err := run.SetSkippedFiles(skipped); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}
	if err := o.advance(ctx, run, ledger.StatusDeduplicated); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}
	if len(skipped) > 0 {
		o.publish(ctx, notifications.EventDuplicatesSkipped, notifications.Payload{
			"count": strconv.Itoa(len(skipped)),
			"case":  record.CaseKey,
		})
	}

	if len(keep) == 0 {
		report.Success = true
		report.Diagnostic = fmt.Sprintf("all %d file(s) already registered; nothing to commit", len(files))
		if err := o.advance(ctx, run, ledger.StatusCompleted); err != nil {
			return o.finishFailure(ctx, run, report, err)
		}
		return report, nil
	}

	if err := o.classifyAll(ctx, keep); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}
	if err := o.advance(ctx, run, ledger.StatusClassified); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	loc, err := o.resolver.Resolve(ctx, reg, record, kind)
	if err != nil {
		return o.finishFailure(ctx, run, report, err)
	}
	run.SubjectUID = loc.SubjectUID
	run.Experiment = loc.Experiment
	run.ScanIndex = loc.Scan()
	report.SubjectUID = loc.SubjectUID
	report.Experiment = loc.Experiment
	report.Scan = loc.Scan()
	if err := o.advance(ctx, run, ledger.StatusNamed); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	committed, err := o.commit(ctx, run, reg, loc, keep, newCaseSnapshot(record, loc), report)
	if err != nil {
		return o.finishFailure(ctx, run, report, err)
	}
	if err := o.advance(ctx, run, ledger.StatusCommitted); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	if err := o.register(reg, loc, kind, committed); err != nil {
		return o.abandonCommitted(ctx, run, report, err)
	}
	if err := reg.Sync(ctx, o.client); err != nil {
		var conflict *registry.ConflictError
		if errors.As(err, &conflict) {
			o.publish(ctx, notifications.EventSyncConflict, notifications.Payload{"case": record.CaseKey})
		}
		return o.abandonCommitted(ctx, run, report, err)
	}
	if err := o.advance(ctx, run, ledger.StatusSynced); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	report.Success = true
	report.Diagnostic = fmt.Sprintf("committed %d file(s) to %s, skipped %d duplicate(s)",
		len(committed), loc.ScanDir(), len(skipped))
	o.publish(ctx, notifications.EventCaseCommitted, notifications.Payload{
		"case":       record.CaseKey,
		"files":      strconv.Itoa(len(committed)),
		"experiment": loc.Experiment,
	})
	return report, nil
}

// abandonCommitted records an error on a run whose files are already in the
// archive. The status stays committed; Reconcile owns the repair.
func (o *Orchestrator) abandonCommitted(ctx context.Context, run *ledger.Run, report *Report, err error) (*Report, error) {
	run.ErrorMessage = err.Error()
	if uerr := o.store.Update(ctx, run); uerr != nil {
		logging.WithContext(ctx, o.logger).Error("persist run error", logging.Error(uerr))
	}
	if !errors.Is(err, services.ErrConflict) {
		o.publish(ctx, notifications.EventError, notifications.Payload{
			"context": string(run.Op),
			"error":   err.Error(),
		})
	}
	report.Success = false
	report.Diagnostic = err.Error() + " (files committed; run reconcile to finish registration)"
	return report, err
}

// loadCaseFiles reads, decodes, and hashes every candidate in parallel.
func (o *Orchestrator) loadCaseFiles(ctx context.Context, paths []string) ([]*caseFile, error) {
	files := make([]*caseFile, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.hashWorkers())
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cf, err := o.loadCaseFile(path)
			if err != nil {
				return err
			}
			files[i] = cf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func (o *Orchestrator) loadCaseFile(path string) (*caseFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read case file: %w", err)
	}
	cf := &caseFile{
		path: path,
		data: data,
		ext:  strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}
	if dicomsafe.IsDICOM(data) {
		f, err := dicomsafe.Parse(data)
		if err != nil {
			return nil, services.Wrap(services.ErrClassification, "workflow", "load",
				fmt.Sprintf("parse DICOM %s", filepath.Base(path)), err)
		}
		if ts, ok := f.AcquisitionTime(); ok {
			cf.acquiredAt = ts
		}
		if o.cfg.Intake.DeidentifyDicom {
			if err := f.Deidentify(); err != nil {
				return nil, fmt.Errorf("deidentify %s: %w", filepath.Base(path), err)
			}
			clean, err := f.Bytes()
			if err != nil {
				return nil, fmt.Errorf("encode deidentified %s: %w", filepath.Base(path), err)
			}
			cf.data = clean
		}
		if cf.ext == "" || cf.ext == "dicom" {
			cf.ext = "dcm"
		}
	}
	raster, err := imaging.DecodeBytes(cf.data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	cf.raster = raster
	cf.hash = imaging.Hash(raster)
	if cf.acquiredAt.IsZero() {
		if info, serr := os.Stat(path); serr == nil {
			cf.acquiredAt = info.ModTime().UTC()
		}
	}
	if cf.ext == "" {
		cf.ext = sniffExt(data)
	}
	return cf, nil
}

// dedup splits files into survivors and skips. Skips never fail the batch.
// A hash already registered to a different subject is benign but noted on
// the outcome, logged, and notified.
func (o *Orchestrator) dedup(ctx context.Context, reg *registry.Registry, caseKey string, kind naming.Kind, files []*caseFile, report *Report) ([]*caseFile, []ledger.SkippedFile) {
	log := logging.WithContext(ctx, o.logger)
	subjectUID := ""
	if row, ok := reg.GetByName(registry.TableSubjects, caseKey); ok {
		subjectUID = row.UID
	}

	var (
		keep    []*caseFile
		skipped []ledger.SkippedFile
	)
	seen := make(map[string]string, len(files))
	for _, cf := range files {
		if subjectUID != "" && reg.ContainsHash(subjectUID, string(kind), cf.hash) {
			skipped = append(skipped, ledger.SkippedFile{
				Path:       cf.path,
				Hash:       cf.hash,
				SubjectUID: subjectUID,
				Experiment: string(kind),
			})
			report.Files = append(report.Files, FileOutcome{
				Source:  cf.path,
				Hash:    cf.hash,
				Skipped: true,
				Reason:  "content already registered for this subject",
			})
			log.Info("duplicate content skipped",
				logging.String("file", filepath.Base(cf.path)),
				logging.String("hash", cf.hash))
			continue
		}
		if first, dup := seen[cf.hash]; dup {
			skipped = append(skipped, ledger.SkippedFile{Path: cf.path, Hash: cf.hash})
			report.Files = append(report.Files, FileOutcome{
				Source:  cf.path,
				Hash:    cf.hash,
				Skipped: true,
				Reason:  fmt.Sprintf("identical to %s in this batch", filepath.Base(first)),
			})
			continue
		}
		seen[cf.hash] = cf.path

		if others := o.crossSubjectNames(reg, subjectUID, cf.hash); len(others) > 0 {
			cf.note = "content also registered to " + strings.Join(others, ", ")
			log.Warn("cross-subject content match",
				logging.String("file", filepath.Base(cf.path)),
				logging.String("subjects", strings.Join(others, ", ")))
			o.publish(ctx, notifications.EventCrossSubjectMatch, notifications.Payload{
				"case":  caseKey,
				"other": strings.Join(others, ", "),
			})
		}
		keep = append(keep, cf)
	}
	return keep, skipped
}

// crossSubjectNames resolves the subjects, other than the current one, that
// already registered this hash.
func (o *Orchestrator) crossSubjectNames(reg *registry.Registry, subjectUID, hash string) []string {
	var names []string
	for _, row := range reg.CrossSubjectMatches(hash) {
		uid := row.Get(registry.ColSubject)
		if uid == "" || strings.EqualFold(uid, subjectUID) {
			continue
		}
		name := uid
		if subject, ok := reg.GetByUID(registry.TableSubjects, uid); ok {
			name = subject.Name
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// classifyAll confirms every surviving file matches a modality template.
// Any failure aborts the batch before a single byte is committed.
func (o *Orchestrator) classifyAll(ctx context.Context, files []*caseFile) error {
	cls, err := o.classifier()
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.hashWorkers())
	for _, cf := range files {
		cf := cf
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			match, err := cls.Classify(cf.raster)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(cf.path), err)
			}
			cf.label = match.Label
			return nil
		})
	}
	return g.Wait()
}

// commit uploads the bundle plus the case-record snapshot, persisting each
// written path so an interrupted run remains reconcilable. Any put failure
// triggers compensating deletes of everything this run wrote.
func (o *Orchestrator) commit(ctx context.Context, run *ledger.Run, reg *registry.Registry, loc *naming.ArchiveLocator, files []*caseFile, snapshot caseSnapshot, report *Report) ([]naming.File, error) {
	input := make([]naming.File, len(files))
	byPath := make(map[string]*caseFile, len(files))
	for i, cf := range files {
		input[i] = naming.File{
			Path:       cf.path,
			Hash:       cf.hash,
			AcquiredAt: cf.acquiredAt,
			Label:      cf.label,
			Ext:        cf.ext,
		}
		byPath[cf.path] = cf
	}
	bundle := naming.BuildBundle(input)

	var committed []string
	fail := func(err error) ([]naming.File, error) {
		o.compensate(ctx, reg, loc, committed)
		_ = run.SetCommittedPaths(nil)
		return nil, err
	}

	for i, f := range bundle.Files {
		cf := byPath[f.Path]
		dest := loc.FilePath(bundle.FileName(i))
		if err := o.putTracked(ctx, run, dest, cf.data, &committed); err != nil {
			return fail(err)
		}
		report.Files = append(report.Files, FileOutcome{
			Source:      cf.path,
			ArchivePath: dest,
			Hash:        cf.hash,
			Label:       cf.label,
			Reason:      cf.note,
		})
	}

	snap, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fail(fmt.Errorf("encode case record snapshot: %w", err))
	}
	if err := o.putTracked(ctx, run, loc.ResourcePath(caseSnapshotName), snap, &committed); err != nil {
		return fail(err)
	}
	return bundle.Files, nil
}

// putTracked uploads one object and records the written path on the run
// before anything else can fail, keeping the ledger's view of the archive
// complete at every step.
func (o *Orchestrator) putTracked(ctx context.Context, run *ledger.Run, dest string, data []byte, committed *[]string) error {
	if _, err := o.client.Put(ctx, dest, data); err != nil {
		return err
	}
	*committed = append(*committed, dest)
	if err := run.SetCommittedPaths(*committed); err != nil {
		return err
	}
	return o.store.Update(ctx, run)
}

// compensate deletes everything a failed commit wrote and takes back a
// subject minted for this run. loc may be nil when no minting was possible.
func (o *Orchestrator) compensate(ctx context.Context, reg *registry.Registry, loc *naming.ArchiveLocator, paths []string) {
	for _, p := range paths {
		if _, err := o.client.Delete(ctx, p); err != nil {
			o.logger.Warn("compensating delete failed",
				logging.String("path", p),
				logging.Error(err))
		}
	}
	if loc != nil && loc.SubjectMinted {
		if err := reg.Remove(registry.TableSubjects, loc.SubjectUID); err != nil {
			o.logger.Warn("remove minted subject failed",
				logging.String("subject", loc.SubjectUID),
				logging.Error(err))
		}
	}
}

// register inserts one IMAGE_HASHES row per committed file.
func (o *Orchestrator) register(reg *registry.Registry, loc *naming.ArchiveLocator, kind naming.Kind, files []naming.File) error {
	for _, f := range files {
		if _, err := reg.Insert(registry.TableHashes, registry.Row{
			Name: f.Hash,
			Extra: map[string]string{
				registry.ColSubject:     loc.SubjectUID,
				registry.ColExperiment:  string(kind),
				registry.ColInstanceNum: strconv.Itoa(loc.ScanIndex),
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

// collectCaseFiles walks the case directory for files the decode gate can
// plausibly accept; spreadsheets and other sidecars are never candidates.
func collectCaseFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if eligibleCaseFile(name) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "collect",
			fmt.Sprintf("scan case directory %s", dir), err)
	}
	if len(paths) == 0 {
		return nil, services.Wrap(services.ErrValidation, "workflow", "collect",
			fmt.Sprintf("no eligible image files in %s", dir), nil)
	}
	sort.Strings(paths)
	return paths, nil
}

// eligibleCaseFile accepts image extensions plus extensionless files, which
// fluoroscopy exports commonly use for DICOM.
func eligibleCaseFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case "", ".dcm", ".dicom", ".png", ".jpg", ".jpeg":
		return true
	default:
		return false
	}
}

func sniffExt(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}):
		return "png"
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		return "jpg"
	default:
		return "img"
	}
}
