package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"curator/internal/archive"
	"curator/internal/config"
	"curator/internal/services"
)

// Options configures a registry session.
type Options struct {
	// DocumentKey is the archive path of the registry document.
	DocumentKey string
	// WorkingCopy is the local path of the flock-guarded working copy.
	WorkingCopy string
	// Operator is the acting user; must be present in REGISTERED_USERS.
	Operator string
	// Clock overrides the timestamp source. Defaults to time.Now.
	Clock func() time.Time
}

// SessionOptions derives registry session options from configuration.
func SessionOptions(cfg *config.Config) Options {
	return Options{
		DocumentKey: cfg.Registry.DocumentKey,
		WorkingCopy: cfg.RegistryWorkingCopy(),
		Operator:    cfg.Archive.Operator,
	}
}

// Registry is one single-writer session over the registry document: loaded
// from the archive at session start, mutated in memory, and published back
// wholesale by Sync. The local working copy is held under a file lock for the
// life of the session.
type Registry struct {
	doc         *Document
	key         string
	marker      string
	operator    string
	operatorUID string
	workingCopy string
	lock        *flock.Flock
	clock       func() time.Time
	dirty       bool
	synced      bool
	closed      bool
}

// ConflictError reports that the remote registry document changed after this
// session loaded it. The session's mutations are abandoned, never merged.
type ConflictError struct {
	Key      string
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("registry document %s changed upstream (marker %q, session loaded %q)", e.Key, e.Actual, e.Expected)
}

func (e *ConflictError) Unwrap() []error {
	return []error{services.ErrConflict, services.ErrRegistry}
}

// Load fetches the registry document, verifies its shape and integrity,
// confirms the operator is registered, and pins the session's working copy
// under a file lock.
func Load(ctx context.Context, client archive.Client, opts Options) (*Registry, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if strings.TrimSpace(opts.DocumentKey) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "registry", "load", "document key is required", nil)
	}
	if strings.TrimSpace(opts.WorkingCopy) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "registry", "load", "working copy path is required", nil)
	}
	operator := NormalizeName(opts.Operator)
	if operator == "" {
		return nil, services.Wrap(services.ErrConfiguration, "registry", "load", "operator is required", nil)
	}

	if err := os.MkdirAll(filepath.Dir(opts.WorkingCopy), 0o755); err != nil {
		return nil, services.Wrap(services.ErrRegistry, "registry", "load", "create working copy directory", err)
	}
	lock := flock.New(opts.WorkingCopy + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrRegistry, "registry", "load", "acquire working copy lock", err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrConflict, "registry", "load", "another curator session holds the registry working copy", nil)
	}

	data, marker, err := client.Fetch(ctx, opts.DocumentKey)
	if err != nil {
		_ = lock.Unlock()
		if errors.Is(err, services.ErrNotFound) {
			return nil, services.Wrap(services.ErrRegistry, "registry", "load",
				"registry document missing; run 'curator registry init'", err)
		}
		return nil, services.Wrap(services.ErrRegistry, "registry", "load", "fetch registry document", err)
	}

	doc, err := ParseDocument(data)
	if err != nil {
		_ = lock.Unlock()
		return nil, services.Wrap(services.ErrRegistry, "registry", "load", "corrupt registry document", err)
	}
	if err := doc.Validate(); err != nil {
		_ = lock.Unlock()
		return nil, services.Wrap(services.ErrRegistry, "registry", "load", "registry document failed integrity checks", err)
	}

	userRow, ok := findByName(doc, TableUsers, operator)
	if !ok {
		_ = lock.Unlock()
		return nil, services.Wrap(services.ErrValidation, "registry", "load",
			fmt.Sprintf("operator %q is not in REGISTERED_USERS", operator), nil)
	}

	r := &Registry{
		doc:         doc,
		key:         opts.DocumentKey,
		marker:      marker,
		operator:    operator,
		operatorUID: userRow.UID,
		workingCopy: opts.WorkingCopy,
		lock:        lock,
		clock:       opts.Clock,
	}
	if err := r.writeWorkingCopy(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return r, nil
}

// Marker returns the remote revision marker recorded at load (or after the
// last successful sync).
func (r *Registry) Marker() string { return r.marker }

// Dirty reports whether the session holds unpublished mutations.
func (r *Registry) Dirty() bool { return r.dirty }

// Operator returns the acting user's normalized name.
func (r *Registry) Operator() string { return r.operator }

// OperatorUID returns the acting user's UID.
func (r *Registry) OperatorUID() string { return r.operatorUID }

// Tables returns the registry table names in document order.
func (r *Registry) Tables() []string {
	return append([]string(nil), requiredTables...)
}

// Table returns a copy of the named table's rows.
func (r *Registry) Table(name string) ([]Row, error) {
	table := strings.ToUpper(strings.TrimSpace(name))
	rows, ok := r.doc.Tables[table]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "registry", "table", fmt.Sprintf("unknown table %q", name), nil)
	}
	out := make([]Row, len(rows))
	copy(out, rows)
	return out, nil
}

// Lookup returns the first row of the table matching the predicate.
func (r *Registry) Lookup(table string, predicate func(Row) bool) (Row, bool) {
	for _, row := range r.doc.Tables[strings.ToUpper(strings.TrimSpace(table))] {
		if predicate(row) {
			return row, true
		}
	}
	return Row{}, false
}

// GetByName returns the row whose normalized NAME matches name.
func (r *Registry) GetByName(table, name string) (Row, bool) {
	return findByName(r.doc, strings.ToUpper(strings.TrimSpace(table)), name)
}

// GetByUID returns the row with the given UID.
func (r *Registry) GetByUID(table, uid string) (Row, bool) {
	for _, row := range r.doc.Tables[strings.ToUpper(strings.TrimSpace(table))] {
		if strings.EqualFold(row.UID, uid) {
			return row, true
		}
	}
	return Row{}, false
}

// ContainsHash reports whether the hash is already registered for the given
// subject and experiment kind — the already-uploaded signal for dedup.
func (r *Registry) ContainsHash(subjectUID, experimentKind, hash string) bool {
	want := NormalizeName(hash)
	for _, row := range r.doc.Tables[TableHashes] {
		if strings.EqualFold(row.Extra[ColSubject], subjectUID) &&
			strings.EqualFold(row.Extra[ColExperiment], experimentKind) &&
			NormalizeName(row.Name) == want {
			return true
		}
	}
	return false
}

// CrossSubjectMatches returns every IMAGE_HASHES row carrying the given hash,
// regardless of subject. Matches under other subjects are legitimate but
// worth surfacing in run reports.
func (r *Registry) CrossSubjectMatches(hash string) []Row {
	want := NormalizeName(hash)
	var matches []Row
	for _, row := range r.doc.Tables[TableHashes] {
		if NormalizeName(row.Name) == want {
			matches = append(matches, row)
		}
	}
	return matches
}

// MaxInstance returns the highest INSTANCE_NUM registered for the subject and
// experiment kind, and whether any instance exists.
func (r *Registry) MaxInstance(subjectUID, experimentKind string) (int, bool) {
	maxSeen, found := 0, false
	for _, row := range r.doc.Tables[TableHashes] {
		if !strings.EqualFold(row.Extra[ColSubject], subjectUID) ||
			!strings.EqualFold(row.Extra[ColExperiment], experimentKind) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(row.Extra[ColInstanceNum]))
		if err != nil {
			continue
		}
		if !found || n > maxSeen {
			maxSeen, found = n, true
		}
	}
	return maxSeen, found
}

// Insert validates and appends a row, minting a UID when the caller does not
// provide one, and returns the row's UID. The mutation stays in memory (and
// the working copy) until Sync publishes the document.
func (r *Registry) Insert(table string, row Row) (string, error) {
	if r.synced || r.closed {
		return "", services.Wrap(services.ErrRegistry, "registry", "insert", "session is no longer writable", nil)
	}
	tbl := strings.ToUpper(strings.TrimSpace(table))
	if _, ok := r.doc.Tables[tbl]; !ok {
		return "", services.Wrap(services.ErrRegistry, "registry", "insert", fmt.Sprintf("unknown table %q", table), nil)
	}

	name := NormalizeName(row.Name)
	if name == "" {
		return "", services.Wrap(services.ErrRegistry, "registry", "insert", "row name is required", nil)
	}

	extras, err := r.checkExtras(tbl, row.Extra)
	if err != nil {
		return "", err
	}

	if tbl == TableHashes {
		if r.ContainsHash(extras[ColSubject], extras[ColExperiment], name) {
			return "", services.Wrap(services.ErrRegistry, "registry", "insert",
				fmt.Sprintf("hash %s already registered for subject %s experiment %s", name, extras[ColSubject], extras[ColExperiment]), nil)
		}
	} else if _, exists := r.GetByName(tbl, name); exists {
		return "", services.Wrap(services.ErrRegistry, "registry", "insert",
			fmt.Sprintf("%s already contains %q", tbl, name), nil)
	}

	uid := strings.TrimSpace(row.UID)
	if uid == "" {
		uid = MintUID()
	} else if _, exists := r.GetByUID(tbl, uid); exists {
		return "", services.Wrap(services.ErrRegistry, "registry", "insert",
			fmt.Sprintf("%s already contains UID %s", tbl, uid), nil)
	}

	now := r.stamp()
	r.doc.Tables[tbl] = append(r.doc.Tables[tbl], Row{
		Name:      name,
		UID:       uid,
		CreatedAt: now,
		CreatedBy: r.operatorUID,
		Extra:     extras,
	})
	r.touch(now)
	if err := r.writeWorkingCopy(); err != nil {
		return "", err
	}
	return uid, nil
}

// Remove deletes the row with the given UID — the audited-delete path, also
// used to compensate a failed publish. Rows still referenced by other tables
// cannot be removed.
func (r *Registry) Remove(table, uid string) error {
	if r.synced || r.closed {
		return services.Wrap(services.ErrRegistry, "registry", "remove", "session is no longer writable", nil)
	}
	tbl := strings.ToUpper(strings.TrimSpace(table))
	rows, ok := r.doc.Tables[tbl]
	if !ok {
		return services.Wrap(services.ErrRegistry, "registry", "remove", fmt.Sprintf("unknown table %q", table), nil)
	}

	index := -1
	for i, row := range rows {
		if strings.EqualFold(row.UID, uid) {
			index = i
			break
		}
	}
	if index < 0 {
		return services.Wrap(services.ErrNotFound, "registry", "remove",
			fmt.Sprintf("%s has no row with UID %s", tbl, uid), nil)
	}
	if err := r.checkRemovable(tbl, rows[index]); err != nil {
		return err
	}

	r.doc.Tables[tbl] = append(rows[:index:index], rows[index+1:]...)
	r.touch(r.stamp())
	return r.writeWorkingCopy()
}

// Sync publishes the session's mutations: it re-checks the remote marker,
// fails with *ConflictError if the document moved since load, and otherwise
// replaces the remote document wholesale. On success the working copy is
// deleted and the lock released; the session stays readable but rejects
// further writes.
func (r *Registry) Sync(ctx context.Context, client archive.Client) error {
	if !r.dirty {
		return nil
	}
	if r.synced || r.closed {
		return services.Wrap(services.ErrRegistry, "registry", "sync", "session is already finished", nil)
	}

	entry, err := client.Stat(ctx, r.key)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return &ConflictError{Key: r.key, Expected: r.marker, Actual: ""}
		}
		return services.Wrap(services.ErrRegistry, "registry", "sync", "stat remote document", err)
	}
	if entry.Marker != r.marker {
		return &ConflictError{Key: r.key, Expected: r.marker, Actual: entry.Marker}
	}

	r.touch(r.stamp())
	data, err := r.doc.MarshalBytes()
	if err != nil {
		return services.Wrap(services.ErrRegistry, "registry", "sync", "serialize document", err)
	}
	marker, err := client.Put(ctx, r.key, data)
	if err != nil {
		return services.Wrap(services.ErrRegistry, "registry", "sync", "publish registry document", err)
	}

	r.marker = marker
	r.dirty = false
	r.synced = true
	_ = os.Remove(r.workingCopy)
	_ = r.lock.Unlock()
	return nil
}

// Close releases the session lock. A clean session also removes its working
// copy; a dirty one leaves it behind for inspection.
func (r *Registry) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if !r.dirty {
		_ = os.Remove(r.workingCopy)
	}
	if r.synced {
		return nil
	}
	return r.lock.Unlock()
}

func (r *Registry) stamp() string {
	return r.clock().UTC().Format(time.RFC3339)
}

func (r *Registry) touch(now string) {
	r.doc.Metadata.LastModified = now
	r.doc.Metadata.CreatedBy = r.operatorUID
	r.dirty = true
}

func (r *Registry) writeWorkingCopy() error {
	data, err := r.doc.MarshalBytes()
	if err != nil {
		return services.Wrap(services.ErrRegistry, "registry", "working-copy", "serialize document", err)
	}
	if err := os.WriteFile(r.workingCopy, data, 0o644); err != nil {
		return services.Wrap(services.ErrRegistry, "registry", "working-copy", "write working copy", err)
	}
	return nil
}

// checkExtras verifies the extra-column set for the table matches exactly and
// that references point at existing rows.
func (r *Registry) checkExtras(table string, extra map[string]string) (map[string]string, error) {
	expected := tableExtraColumns[table]
	normalized := make(map[string]string, len(extra))
	for column, value := range extra {
		normalized[strings.ToUpper(column)] = strings.TrimSpace(value)
	}

	if len(expected) == 0 {
		if len(normalized) != 0 {
			return nil, services.Wrap(services.ErrRegistry, "registry", "insert",
				fmt.Sprintf("table %s takes no extra columns", table), nil)
		}
		return nil, nil
	}

	expectedSet := make(map[string]bool, len(expected))
	for _, column := range expected {
		expectedSet[column] = true
		if normalized[column] == "" {
			return nil, services.Wrap(services.ErrRegistry, "registry", "insert",
				fmt.Sprintf("table %s requires column %s", table, column), nil)
		}
	}
	for column := range normalized {
		if !expectedSet[column] {
			return nil, services.Wrap(services.ErrRegistry, "registry", "insert",
				fmt.Sprintf("table %s has no column %s", table, column), nil)
		}
	}

	switch table {
	case TableSubjects:
		if _, ok := r.GetByUID(TableSites, normalized[ColAcquisitionSite]); !ok {
			return nil, services.Wrap(services.ErrRegistry, "registry", "insert",
				fmt.Sprintf("acquisition site %s is not registered", normalized[ColAcquisitionSite]), nil)
		}
		if _, ok := r.GetByUID(TableGroups, normalized[ColGroup]); !ok {
			return nil, services.Wrap(services.ErrRegistry, "registry", "insert",
				fmt.Sprintf("group %s is not registered", normalized[ColGroup]), nil)
		}
	case TableHashes:
		if _, ok := r.GetByUID(TableSubjects, normalized[ColSubject]); !ok {
			return nil, services.Wrap(services.ErrRegistry, "registry", "insert",
				fmt.Sprintf("subject %s is not registered", normalized[ColSubject]), nil)
		}
		if _, err := strconv.Atoi(normalized[ColInstanceNum]); err != nil {
			return nil, services.Wrap(services.ErrRegistry, "registry", "insert",
				fmt.Sprintf("instance number %q is not numeric", normalized[ColInstanceNum]), nil)
		}
	}
	return normalized, nil
}

// checkRemovable blocks deletes that would break referential integrity.
func (r *Registry) checkRemovable(table string, row Row) error {
	blocked := func(refTable, refColumn string) error {
		for _, ref := range r.doc.Tables[refTable] {
			if strings.EqualFold(ref.Extra[refColumn], row.UID) {
				return services.Wrap(services.ErrRegistry, "registry", "remove",
					fmt.Sprintf("%s row %s is still referenced by %s", table, row.UID, refTable), nil)
			}
		}
		return nil
	}
	switch table {
	case TableSites:
		return blocked(TableSubjects, ColAcquisitionSite)
	case TableGroups:
		return blocked(TableSubjects, ColGroup)
	case TableSubjects:
		return blocked(TableHashes, ColSubject)
	}
	return nil
}

func findByName(doc *Document, table, name string) (Row, bool) {
	want := NormalizeName(name)
	for _, row := range doc.Tables[table] {
		if NormalizeName(row.Name) == want {
			return row, true
		}
	}
	return Row{}, false
}
