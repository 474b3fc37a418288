package workflow

import (
	"curator/internal/ledger"
)

// FileOutcome records the fate of one file within a run.
type FileOutcome struct {
	// Source is the path the file came from: a local path on uploads,
	// an archive path on downloads.
	Source string
	// ArchivePath is the destination the file was written to; empty when
	// the file was skipped.
	ArchivePath string
	Hash        string
	Label       string
	Skipped     bool
	// Reason carries the skip explanation, or an advisory note on a
	// committed file (such as a cross-subject content match).
	Reason string
}

// Report is the structured result of one orchestrated operation.
type Report struct {
	Success    bool
	RunID      int64
	Op         ledger.OpKind
	CaseKey    string
	SubjectUID string
	Experiment string
	Scan       string
	Files      []FileOutcome
	// Output is the location payload for download-style operations.
	Output     string
	Diagnostic string
}

// Committed returns the outcomes for files this run wrote.
func (r *Report) Committed() []FileOutcome {
	var out []FileOutcome
	for _, f := range r.Files {
		if !f.Skipped {
			out = append(out, f)
		}
	}
	return out
}

// Skipped returns the outcomes for files this run left alone.
func (r *Report) Skipped() []FileOutcome {
	var out []FileOutcome
	for _, f := range r.Files {
		if f.Skipped {
			out = append(out, f)
		}
	}
	return out
}
