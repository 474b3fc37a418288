package naming

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"curator/internal/archive"
	"curator/internal/intake"
	"curator/internal/registry"
	"curator/internal/services"
)

// ArchiveLocator addresses one scan in the archive hierarchy:
// {subject_uid}/{subject_uid}-{kind}/{scan}. The registry bookkeeps by Kind;
// paths use the full experiment label.
type ArchiveLocator struct {
	SubjectName string
	SubjectUID  string
	// SubjectMinted reports that Resolve inserted the subject row in this
	// session, so an aborted run knows to take it back out.
	SubjectMinted bool
	Kind          Kind
	Experiment    string
	ScanIndex     int
	Resource      string
}

// Scan returns the zero-padded scan label.
func (l *ArchiveLocator) Scan() string { return fmt.Sprintf("%02d", l.ScanIndex) }

// ScanDir returns the archive directory holding this scan's files.
func (l *ArchiveLocator) ScanDir() string {
	return strings.Join([]string{l.SubjectUID, l.Experiment, l.Scan()}, "/")
}

// FilePath places a committed bundle file inside the scan directory.
func (l *ArchiveLocator) FilePath(name string) string {
	return l.ScanDir() + "/" + name
}

// ResourcePath places an auxiliary file under the experiment's resource
// directory.
func (l *ArchiveLocator) ResourcePath(name string) string {
	return strings.Join([]string{l.SubjectUID, l.Experiment, l.Resource, name}, "/")
}

// Resolver derives archive locators from a registry session and the
// archive's actual contents.
type Resolver struct {
	// Client lets scan allocation see files already in the archive. When
	// nil, allocation relies on registry bookkeeping alone.
	Client archive.Client
	// Resource is the label for auxiliary experiment files; empty means SRC.
	Resource string
}

// Resolve finds or mints the subject for the case, derives the experiment
// label, and allocates the next unused scan index. Allocation takes the
// union of registry instance bookkeeping and the archive listing, so a run
// that committed files but never synced still cannot cause an index reuse.
func (r Resolver) Resolve(ctx context.Context, reg *registry.Registry, record *intake.CaseRecord, kind Kind) (*ArchiveLocator, error) {
	if record == nil || record.CaseKey == "" {
		return nil, services.Wrap(services.ErrValidation, "naming", "resolve", "case record has no case key", nil)
	}
	if strings.TrimSpace(string(kind)) == "" {
		return nil, services.Wrap(services.ErrValidation, "naming", "resolve", "experiment kind is required", nil)
	}

	subjectUID := ""
	minted := false
	if row, ok := reg.GetByName(registry.TableSubjects, record.CaseKey); ok {
		subjectUID = row.UID
	} else {
		uid, err := reg.Insert(registry.TableSubjects, registry.Row{
			Name: record.CaseKey,
			Extra: map[string]string{
				registry.ColAcquisitionSite: record.SiteUID,
				registry.ColGroup:           record.GroupUID,
			},
		})
		if err != nil {
			return nil, err
		}
		subjectUID = uid
		minted = true
	}

	experiment := fmt.Sprintf("%s-%s", subjectUID, kind)
	next, err := r.nextScanIndex(ctx, reg, subjectUID, kind, experiment)
	if err != nil {
		return nil, err
	}

	resource := strings.TrimSpace(r.Resource)
	if resource == "" {
		resource = "SRC"
	}
	return &ArchiveLocator{
		SubjectName:   record.CaseKey,
		SubjectUID:    subjectUID,
		SubjectMinted: minted,
		Kind:          kind,
		Experiment:    experiment,
		ScanIndex:     next,
		Resource:      resource,
	}, nil
}

// ResolveExisting derives a locator for a subject that must already be
// registered, as when attaching derived data. Unlike Resolve it never mints.
func (r Resolver) ResolveExisting(ctx context.Context, reg *registry.Registry, subjectName string, kind Kind) (*ArchiveLocator, error) {
	name := registry.NormalizeName(subjectName)
	if name == "" {
		return nil, services.Wrap(services.ErrValidation, "naming", "resolve", "subject name is required", nil)
	}
	if strings.TrimSpace(string(kind)) == "" {
		return nil, services.Wrap(services.ErrValidation, "naming", "resolve", "experiment kind is required", nil)
	}
	row, ok := reg.GetByName(registry.TableSubjects, name)
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "naming", "resolve",
			fmt.Sprintf("subject %q is not registered", name), nil)
	}

	experiment := fmt.Sprintf("%s-%s", row.UID, kind)
	next, err := r.nextScanIndex(ctx, reg, row.UID, kind, experiment)
	if err != nil {
		return nil, err
	}

	resource := strings.TrimSpace(r.Resource)
	if resource == "" {
		resource = "SRC"
	}
	return &ArchiveLocator{
		SubjectName: name,
		SubjectUID:  row.UID,
		Kind:        kind,
		Experiment:  experiment,
		ScanIndex:   next,
		Resource:    resource,
	}, nil
}

func (r Resolver) nextScanIndex(ctx context.Context, reg *registry.Registry, subjectUID string, kind Kind, experiment string) (int, error) {
	next := 0
	if max, ok := reg.MaxInstance(subjectUID, string(kind)); ok {
		next = max + 1
	}
	if r.Client == nil {
		return next, nil
	}
	prefix := subjectUID + "/" + experiment + "/"
	entries, err := r.Client.List(ctx, prefix)
	if err != nil {
		return 0, services.Wrap(services.ErrTransport, "naming", "resolve", "list experiment scans", err)
	}
	for _, entry := range entries {
		dir, _, ok := strings.Cut(strings.TrimPrefix(entry.Path, prefix), "/")
		if !ok {
			continue
		}
		// Non-numeric children (resource dirs) never hold scans.
		if n, err := strconv.Atoi(dir); err == nil && n+1 > next {
			next = n + 1
		}
	}
	return next, nil
}
