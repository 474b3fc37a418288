package ledger

import (
	"encoding/json"
	"strings"
	"time"
)

// OpKind identifies which orchestrator operation a run executes.
type OpKind string

const (
	OpIntake    OpKind = "intake"
	OpDerived   OpKind = "derived"
	OpDownload  OpKind = "download"
	OpReconcile OpKind = "reconcile"
)

// Status represents the lifecycle of a run. The order mirrors the intake
// state machine; review and failed are terminal failure states, synced and
// completed are terminal success states.
type Status string

const (
	StatusPending      Status = "pending"
	StatusLoggedIn     Status = "logged_in"
	StatusValidated    Status = "validated"
	StatusDeduplicated Status = "deduplicated"
	StatusClassified   Status = "classified"
	StatusNamed        Status = "named"
	StatusCommitted    Status = "committed"
	StatusSynced       Status = "synced"
	StatusCompleted    Status = "completed"
	StatusReview       Status = "review"
	StatusFailed       Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusLoggedIn,
	StatusValidated,
	StatusDeduplicated,
	StatusClassified,
	StatusNamed,
	StatusCommitted,
	StatusSynced,
	StatusCompleted,
	StatusReview,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusSynced:    {},
	StatusCompleted: {},
	StatusReview:    {},
	StatusFailed:    {},
}

// SkippedFile records one per-file duplicate skip inside a run.
type SkippedFile struct {
	Path       string `json:"path"`
	Hash       string `json:"hash"`
	SubjectUID string `json:"subject_uid,omitempty"`
	Experiment string `json:"experiment,omitempty"`
}

// HealthSummary describes aggregated run counts per key lifecycle states.
type HealthSummary struct {
	Total    int
	Active   int
	Synced   int
	Review   int
	Failed   int
	Stuck    int
}

// Run represents one orchestrated operation persisted in SQLite.
type Run struct {
	ID             int64
	Op             OpKind
	Status         Status
	CaseKey        string
	SubjectUID     string
	Experiment     string
	ScanIndex      string
	SourceDir      string
	FileCount      int
	CommittedCount int
	SkippedCount   int
	CommittedJSON  string
	SkippedJSON    string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// ParseOp converts a string into a known OpKind.
func ParseOp(value string) (OpKind, bool) {
	normalized := OpKind(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case OpIntake, OpDerived, OpDownload, OpReconcile:
		return normalized, true
	default:
		return "", false
	}
}

// IsTerminal reports whether the run can no longer progress.
func (r Run) IsTerminal() bool {
	_, ok := terminalStatuses[r.Status]
	return ok
}

// IsTerminalStatus reports whether a status is terminal.
func IsTerminalStatus(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// SetFailed marks the run as failed with the given error message.
func (r *Run) SetFailed(message string) {
	r.Status = StatusFailed
	r.ErrorMessage = message
}

// SetReview marks the run for human review with the given reason.
func (r *Run) SetReview(reason string) {
	r.Status = StatusReview
	r.ErrorMessage = reason
}

// CommittedPaths decodes the archive paths this run wrote.
func (r Run) CommittedPaths() []string {
	if strings.TrimSpace(r.CommittedJSON) == "" {
		return nil
	}
	var paths []string
	if err := json.Unmarshal([]byte(r.CommittedJSON), &paths); err != nil {
		return nil
	}
	return paths
}

// SetCommittedPaths records the archive paths this run wrote.
func (r *Run) SetCommittedPaths(paths []string) error {
	if len(paths) == 0 {
		r.CommittedJSON = ""
		r.CommittedCount = 0
		return nil
	}
	data, err := json.Marshal(paths)
	if err != nil {
		return err
	}
	r.CommittedJSON = string(data)
	r.CommittedCount = len(paths)
	return nil
}

// SkippedFiles decodes the per-file duplicate skips recorded on the run.
func (r Run) SkippedFiles() []SkippedFile {
	if strings.TrimSpace(r.SkippedJSON) == "" {
		return nil
	}
	var skipped []SkippedFile
	if err := json.Unmarshal([]byte(r.SkippedJSON), &skipped); err != nil {
		return nil
	}
	return skipped
}

// SetSkippedFiles records per-file duplicate skips on the run.
func (r *Run) SetSkippedFiles(skipped []SkippedFile) error {
	if len(skipped) == 0 {
		r.SkippedJSON = ""
		r.SkippedCount = 0
		return nil
	}
	data, err := json.Marshal(skipped)
	if err != nil {
		return err
	}
	r.SkippedJSON = string(data)
	r.SkippedCount = len(skipped)
	return nil
}
