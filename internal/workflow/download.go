package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"curator/internal/intake"
	"curator/internal/ledger"
	"curator/internal/naming"
	"curator/internal/registry"
	"curator/internal/services"
)

// Query scopes a download: which subjects, by group, site, and operation
// date, and which experiment kinds to fetch for them.
type Query struct {
	Groups []string
	Sites  []string
	// From and To bound the operation date, inclusive, in any accepted
	// date format. Empty means unbounded.
	From string
	To   string
	// Kinds limits the experiment kinds fetched; empty means every kind.
	Kinds []naming.Kind
	// OutputDir receives the mirrored archive layout; empty means the
	// configured output directory.
	OutputDir string
}

// DownloadQueriedCases fetches every archive file of the matching subjects
// into a local directory mirroring the archive layout.
func (o *Orchestrator) DownloadQueriedCases(ctx context.Context, query Query) (*Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	outputDir := query.OutputDir
	if outputDir == "" {
		outputDir = o.cfg.Paths.OutputDir
	}

	report := &Report{Op: ledger.OpDownload, Output: outputDir}
	run, err := o.store.NewRun(ctx, ledger.OpDownload, "", outputDir)
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

	filter, err := buildSubjectFilter(reg, query)
	if err != nil {
		return o.finishFailure(ctx, run, report, err)
	}
	if err := o.advance(ctx, run, ledger.StatusValidated); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	subjects, err := reg.Table(registry.TableSubjects)
	if err != nil {
		return o.finishFailure(ctx, run, report, err)
	}
	var selected []registry.Row
	for _, row := range subjects {
		if filter.matches(row) {
			selected = append(selected, row)
		}
	}

	fetched := 0
	for _, subject := range selected {
		for _, prefix := range subjectPrefixes(subject.UID, query.Kinds) {
			entries, err := o.client.List(ctx, prefix)
			if err != nil {
				return o.finishFailure(ctx, run, report, err)
			}
			for _, entry := range entries {
				data, _, err := o.client.Fetch(ctx, entry.Path)
				if err != nil {
					return o.finishFailure(ctx, run, report, err)
				}
				dest := filepath.Join(outputDir, filepath.FromSlash(entry.Path))
				if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
					return o.finishFailure(ctx, run, report, fmt.Errorf("create output directory: %w", err))
				}
				if err := os.WriteFile(dest, data, 0o644); err != nil {
					return o.finishFailure(ctx, run, report, fmt.Errorf("write %s: %w", dest, err))
				}
				report.Files = append(report.Files, FileOutcome{Source: entry.Path, ArchivePath: dest})
				fetched++
			}
		}
	}
	run.FileCount = fetched
	if err := o.advance(ctx, run, ledger.StatusCompleted); err != nil {
		return o.finishFailure(ctx, run, report, err)
	}

	report.Success = true
	if len(selected) == 0 {
		report.Diagnostic = "no subjects matched the query"
	} else {
		report.Diagnostic = fmt.Sprintf("fetched %d file(s) for %d subject(s) into %s", fetched, len(selected), outputDir)
	}
	return report, nil
}

// subjectPrefixes returns the archive prefixes to list for one subject
// given the kind scope.
func subjectPrefixes(subjectUID string, kinds []naming.Kind) []string {
	if len(kinds) == 0 {
		return []string{subjectUID + "/"}
	}
	prefixes := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		prefixes = append(prefixes, fmt.Sprintf("%s/%s-%s/", subjectUID, subjectUID, kind))
	}
	return prefixes
}

type subjectFilter struct {
	groups map[string]bool
	sites  map[string]bool
	from   string
	to     string
}

// buildSubjectFilter resolves query names against the vocabulary tables so
// a typo fails loudly instead of matching nothing.
func buildSubjectFilter(reg *registry.Registry, query Query) (*subjectFilter, error) {
	f := &subjectFilter{groups: make(map[string]bool), sites: make(map[string]bool)}
	for _, name := range query.Groups {
		row, ok := reg.GetByName(registry.TableGroups, name)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "workflow", "download",
				fmt.Sprintf("unknown group %q", name), nil)
		}
		f.groups[row.UID] = true
	}
	for _, name := range query.Sites {
		row, ok := reg.GetByName(registry.TableSites, name)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "workflow", "download",
				fmt.Sprintf("unknown acquisition site %q", name), nil)
		}
		f.sites[row.UID] = true
	}
	var err error
	if query.From != "" {
		if f.from, err = intake.CanonicalDate(query.From); err != nil {
			return nil, services.Wrap(services.ErrValidation, "workflow", "download",
				fmt.Sprintf("invalid from date %q", query.From), err)
		}
	}
	if query.To != "" {
		if f.to, err = intake.CanonicalDate(query.To); err != nil {
			return nil, services.Wrap(services.ErrValidation, "workflow", "download",
				fmt.Sprintf("invalid to date %q", query.To), err)
		}
	}
	if f.from != "" && f.to != "" && f.to < f.from {
		return nil, services.Wrap(services.ErrValidation, "workflow", "download",
			fmt.Sprintf("date range %s..%s is inverted", f.from, f.to), nil)
	}
	return f, nil
}

func (f *subjectFilter) matches(row registry.Row) bool {
	if len(f.groups) > 0 && !f.groups[row.Get(registry.ColGroup)] {
		return false
	}
	if len(f.sites) > 0 && !f.sites[row.Get(registry.ColAcquisitionSite)] {
		return false
	}
	if f.from == "" && f.to == "" {
		return true
	}
	date, ok := subjectDate(row)
	if !ok {
		return false
	}
	if f.from != "" && date < f.from {
		return false
	}
	if f.to != "" && date > f.to {
		return false
	}
	return true
}

// subjectDate extracts the operation date embedded in a derived case key,
// falling back to the registration stamp for explicitly named cases.
func subjectDate(row registry.Row) (string, bool) {
	if len(row.Name) >= 8 {
		if _, err := time.Parse("20060102", row.Name[:8]); err == nil {
			return row.Name[:8], true
		}
	}
	if t, err := time.Parse(time.RFC3339, row.CreatedAt); err == nil {
		return t.UTC().Format("20060102"), true
	}
	return "", false
}
