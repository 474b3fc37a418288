package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"curator/internal/intake"
	"curator/internal/ledger"
	"curator/internal/logging"
	"curator/internal/naming"
	"curator/internal/notifications"
	"curator/internal/registry"
	"curator/internal/services"
)

// Result-table columns for derived uploads. Each row names its target
// subject directly or through the hash of a source image already in the
// registry, plus the derived file to attach.
const (
	DerivedColSubject    = "Subject"
	DerivedColSourceHash = "Source Hash"
	DerivedColFile       = "File"
)

// DerivedInput describes one derived-data upload: a result table whose rows
// map derived files onto registered subjects.
type DerivedInput struct {
	TablePath string
	// SourceDir anchors relative file references; empty means the table's
	// own directory.
	SourceDir string
	// Kind is the derived experiment kind; empty means
	// Semantic_Segmentations.
	Kind naming.Kind
}

type derivedItem struct {
	line    int
	path    string
	subject registry.Row
	cf      *caseFile
}

// UploadDerivedData attaches result files to already-registered subjects
// under a derived experiment kind. Target resolution and the template guard
// are all-or-nothing; duplicate derived content is skipped per row.
func (o *Orchestrator) UploadDerivedData(ctx context.Context, input DerivedInput) (*Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	kind := input.Kind
	if kind == "" {
		kind = naming.KindSegmentation
	}

	report := &Report{Op: ledger.OpDerived}
	run, err := o.store.NewRun(ctx, ledger.OpDerived, "", input.TablePath)
	if err != nil {
		report.Diagnostic = err.Error()
		return report, err
	}
	report.RunID = run.ID
	ctx = services.WithRunID(ctx, run.ID)

	if kind == naming.KindSource {
		return o.finishFailure(ctx, run, report, services.Wrap(services.ErrValidation, "workflow", "derive",
			"derived data cannot target the Source_Data experiment", nil))
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

	rows, err := intake.ParseBatch(input.TablePath, intake.Delimiter(o.cfg))
	if err != nil {
		return o.finishFailure(ctx, run, report, err)
	}
	baseDir := input.SourceDir
	if baseDir == "" {
		baseDir = filepath.Dir(input.TablePath)
	}

	items := make([]*derivedItem, 0, len(rows))
	for i, row := range rows {
		item, err := o.resolveDerivedRow(reg, row, baseDir, i+1)
		if err != nil {
			return o.finishFailure(ctx, run, report, err)
		}
		items = append(items, item)
	}
	run.FileCount = len(items)
	if err := o.advance(ctx, run, ledger.StatusValidated); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	for _, item := range items {
		cf, err := o.loadCaseFile(item.path)
		if err != nil {
			return o.finishFailure(ctx, run, report, err)
		}
		item.cf = cf
	}

	keep, skipped := o.dedupDerived(reg, kind, items, report)
	if err := run.SetSkippedFiles(skipped); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}
	if err := o.advance(ctx, run, ledger.StatusDeduplicated); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}
	if len(skipped) > 0 {
		o.publish(ctx, notifications.EventDuplicatesSkipped, notifications.Payload{
			"count": strconv.Itoa(len(skipped)),
			"case":  filepath.Base(input.TablePath),
		})
	}
	if len(keep) == 0 {
		report.Success = true
		report.Diagnostic = fmt.Sprintf("all %d derived file(s) already registered; nothing to commit", len(items))
		if err := o.advance(ctx, run, ledger.StatusCompleted); err != nil {
			return o.finishFailure(ctx, run, report, err)
		}
		return report, nil
	}

	if err := o.guardDerived(keep); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}
	if err := o.advance(ctx, run, ledger.StatusClassified); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	groups, order := groupBySubject(keep)
	if len(order) == 1 {
		run.CaseKey = groups[order[0]][0].subject.Name
		report.CaseKey = run.CaseKey
		ctx = services.WithCaseKey(ctx, run.CaseKey)
	}
	if err := o.advance(ctx, run, ledger.StatusNamed); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	var (
		committed []string
		scanDirs  []string
		locators  = make(map[string]*naming.ArchiveLocator, len(order))
		registered []*derivedItem
	)
	for _, uid := range order {
		group := groups[uid]
		loc, err := o.resolver.ResolveExisting(ctx, reg, group[0].subject.Name, kind)
		if err != nil {
			o.compensate(ctx, reg, nil, committed)
			return o.finishFailure(ctx, run, report, err)
		}
		locators[uid] = loc
		scanDirs = append(scanDirs, loc.ScanDir())

		input := make([]naming.File, len(group))
		byPath := make(map[string]*derivedItem, len(group))
		for i, item := range group {
			input[i] = naming.File{
				Path:       item.cf.path,
				Hash:       item.cf.hash,
				AcquiredAt: item.cf.acquiredAt,
				Ext:        item.cf.ext,
			}
			byPath[item.cf.path] = item
		}
		bundle := naming.BuildBundle(input)
		for i, f := range bundle.Files {
			item := byPath[f.Path]
			dest := loc.FilePath(bundle.FileName(i))
			if err := o.putTracked(ctx, run, dest, item.cf.data, &committed); err != nil {
				o.compensate(ctx, reg, nil, committed)
				_ = run.SetCommittedPaths(nil)
				return o.finishFailure(ctx, run, report, err)
			}
			report.Files = append(report.Files, FileOutcome{
				Source:      item.cf.path,
				ArchivePath: dest,
				Hash:        item.cf.hash,
			})
			registered = append(registered, item)
		}
	}
	if err := o.advance(ctx, run, ledger.StatusCommitted); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	for _, item := range registered {
		loc := locators[item.subject.UID]
		if _, err := reg.Insert(registry.TableHashes, registry.Row{
			Name: item.cf.hash,
			Extra: map[string]string{
				registry.ColSubject:     loc.SubjectUID,
				registry.ColExperiment:  string(kind),
				registry.ColInstanceNum: strconv.Itoa(loc.ScanIndex),
			},
		}); err != nil {
			return o.abandonCommitted(ctx, run, report, err)
		}
	}
	if err := reg.Sync(ctx, o.client); err != nil {
		var conflict *registry.ConflictError
		if errors.As(err, &conflict) {
			o.publish(ctx, notifications.EventSyncConflict, notifications.Payload{
				"case": filepath.Base(input.TablePath),
			})
		}
		return o.abandonCommitted(ctx, run, report, err)
	}
	if err := o.advance(ctx, run, ledger.StatusSynced); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	report.Success = true
	report.Output = strings.Join(scanDirs, ", ")
	report.Diagnostic = fmt.Sprintf("committed %d derived file(s) across %d subject(s), skipped %d duplicate(s)",
		len(registered), len(order), len(skipped))
	for _, uid := range order {
		loc := locators[uid]
		o.publish(ctx, notifications.EventCaseCommitted, notifications.Payload{
			"case":       loc.SubjectName,
			"files":      strconv.Itoa(len(groups[uid])),
			"experiment": loc.Experiment,
		})
	}
	return report, nil
}

// resolveDerivedRow maps one result-table row onto a registered subject and
// an on-disk derived file.
func (o *Orchestrator) resolveDerivedRow(reg *registry.Registry, row intake.Row, baseDir string, line int) (*derivedItem, error) {
	fileRef := row.Get(DerivedColFile)
	if fileRef == "" {
		return nil, services.Wrap(services.ErrValidation, "workflow", "derive",
			fmt.Sprintf("row %d: missing %s column", line, DerivedColFile), nil)
	}
	path := fileRef
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, fileRef)
	}

	if name := row.Get(DerivedColSubject); name != "" {
		subject, ok := reg.GetByName(registry.TableSubjects, name)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "workflow", "derive",
				fmt.Sprintf("row %d: unknown subject %q", line, name), nil)
		}
		return &derivedItem{line: line, path: path, subject: subject}, nil
	}

	if hash := row.Get(DerivedColSourceHash); hash != "" {
		hashRow, ok := reg.Lookup(registry.TableHashes, func(r registry.Row) bool {
			return registry.NormalizeName(r.Name) == registry.NormalizeName(hash)
		})
		if ok {
			if subject, found := reg.GetByUID(registry.TableSubjects, hashRow.Get(registry.ColSubject)); found {
				return &derivedItem{line: line, path: path, subject: subject}, nil
			}
		}
		return nil, services.Wrap(services.ErrValidation, "workflow", "derive",
			fmt.Sprintf("row %d: source hash %s matches no registered image", line, hash), nil)
	}

	return nil, services.Wrap(services.ErrValidation, "workflow", "derive",
		fmt.Sprintf("row %d: names neither %s nor %s", line, DerivedColSubject, DerivedColSourceHash), nil)
}

// dedupDerived drops rows whose content is already registered for the target
// subject and kind, plus intra-batch repeats.
func (o *Orchestrator) dedupDerived(reg *registry.Registry, kind naming.Kind, items []*derivedItem, report *Report) ([]*derivedItem, []ledger.SkippedFile) {
	var (
		keep    []*derivedItem
		skipped []ledger.SkippedFile
	)
	seen := make(map[string]string, len(items))
	for _, item := range items {
		key := item.subject.UID + "\x00" + item.cf.hash
		if reg.ContainsHash(item.subject.UID, string(kind), item.cf.hash) {
			skipped = append(skipped, ledger.SkippedFile{
				Path:       item.cf.path,
				Hash:       item.cf.hash,
				SubjectUID: item.subject.UID,
				Experiment: string(kind),
			})
			report.Files = append(report.Files, FileOutcome{
				Source:  item.cf.path,
				Hash:    item.cf.hash,
				Skipped: true,
				Reason:  "content already registered for this subject",
			})
			o.logger.Info("duplicate derived content skipped",
				logging.String("subject", item.subject.Name),
				logging.String("file", filepath.Base(item.cf.path)))
			continue
		}
		if first, dup := seen[key]; dup {
			skipped = append(skipped, ledger.SkippedFile{Path: item.cf.path, Hash: item.cf.hash, SubjectUID: item.subject.UID})
			report.Files = append(report.Files, FileOutcome{
				Source:  item.cf.path,
				Hash:    item.cf.hash,
				Skipped: true,
				Reason:  fmt.Sprintf("identical to %s in this table", filepath.Base(first)),
			})
			continue
		}
		seen[key] = item.cf.path
		keep = append(keep, item)
	}
	return keep, skipped
}

// guardDerived rejects derived files that match a modality template: a
// frame that still looks like raw fluoroscopy was mis-filed, not derived.
func (o *Orchestrator) guardDerived(items []*derivedItem) error {
	cls, err := o.classifier()
	if err != nil {
		return err
	}
	for _, item := range items {
		match, err := cls.Classify(item.cf.raster)
		if err == nil {
			return services.Wrap(services.ErrValidation, "workflow", "derive",
				fmt.Sprintf("%s matches the %s modality template; it belongs in a source upload",
					filepath.Base(item.cf.path), match.Label), nil)
		}
	}
	return nil
}

// groupBySubject buckets items per subject UID, ordered by subject name so
// commits are deterministic.
func groupBySubject(items []*derivedItem) (map[string][]*derivedItem, []string) {
	groups := make(map[string][]*derivedItem)
	for _, item := range items {
		groups[item.subject.UID] = append(groups[item.subject.UID], item)
	}
	order := make([]string, 0, len(groups))
	for uid := range groups {
		order = append(order, uid)
	}
	sort.Slice(order, func(i, j int) bool {
		return groups[order[i]][0].subject.Name < groups[order[j]][0].subject.Name
	})
	return groups, order
}
