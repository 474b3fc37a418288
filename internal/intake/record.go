package intake

import (
	"strings"

	"curator/internal/registry"
)

// Sentinel values operators may enter where a real value is impossible or
// unavailable. They count as present for required-column checks and skip
// vocabulary resolution.
const (
	SentinelNotApplicable = "Not Applicable"
	SentinelUnknown       = "Unknown"
)

// Row is one column-name-keyed intake row, as parsed from a batch file or
// assembled by a caller.
type Row map[string]string

// Get returns the whitespace-collapsed value for a column.
func (r Row) Get(column string) string {
	return collapse(r[column])
}

// CaseRecord is the canonical, validated form of one intake row. Validate is
// the only constructor; records are read-only snapshots once returned.
type CaseRecord struct {
	// CaseKey is the normalized natural key used for subject lookup: the
	// explicit case name when one was given, otherwise derived from the
	// operation date, site, procedure, and start time.
	CaseKey string

	Filer    string
	FilerUID string

	OperationDate string // canonical 20060102

	Site    string
	SiteUID string

	Group    string
	GroupUID string

	EpicStart string // canonical 150405, a sentinel, or empty
	EpicEnd   string

	PatientSide        string
	ORLocation         string
	PerformingSurgeon  string
	SupervisingSurgeon string
	Assessor           string

	DataPath string

	// Fields holds every canonicalized column by name, including ones the
	// typed accessors above do not cover.
	Fields map[string]string
}

// Field returns the canonicalized value for a column, or "" when absent.
func (c *CaseRecord) Field(column string) string {
	return c.Fields[column]
}

func collapse(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// sentinel reports whether v is one of the accepted sentinel spellings and
// returns its canonical form.
func sentinel(v string) (string, bool) {
	switch strings.ToLower(strings.ReplaceAll(collapse(v), "-", " ")) {
	case "not applicable", "n/a":
		return SentinelNotApplicable, true
	case "unknown":
		return SentinelUnknown, true
	}
	return "", false
}

// matches reports whether a raw cell value triggers a conditional rule.
func matches(value, trigger string) bool {
	return registry.NormalizeName(value) == registry.NormalizeName(trigger)
}
