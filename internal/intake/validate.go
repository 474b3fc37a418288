package intake

import (
	"errors"
	"sort"
	"strings"
	"time"

	"curator/internal/registry"
)

var dateFormats = []string{"20060102", "2006-01-02", "2006/01/02", "01/02/2006"}

var timeFormats = []string{"150405", "15:04:05", "15:04", "1504"}

// Validate checks one intake row against the ruleset and the registry
// vocabulary and returns its canonical CaseRecord. Checks run in a fixed
// order: required columns, conditional rules, vocabulary resolution, then
// date and time canonicalization. The registry is read, never written;
// unknown vocabulary values are rejected, not inserted.
func (rs Ruleset) Validate(row Row, reg *registry.Registry) (*CaseRecord, error) {
	var missing []string
	for _, col := range rs.Required {
		if row.Get(col) == "" {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingRequiredFieldsError{Fields: missing}
	}

	for _, rule := range rs.Conditional {
		trigger := row.Get(rule.When)
		if trigger == "" || !matches(trigger, rule.Equals) {
			continue
		}
		if row.Get(rule.Require) == "" {
			return nil, &MissingConditionalFieldError{Field: rule.Require, When: rule.When, Equals: rule.Equals}
		}
	}

	fields := make(map[string]string, len(row))
	for col, raw := range row {
		col = collapse(col)
		if col == "" {
			continue
		}
		value := collapse(raw)
		if canon, ok := sentinel(value); ok {
			value = canon
		}
		fields[col] = value
	}
	// Blank personnel columns mean the operator does not know, not that the
	// row is incomplete.
	for _, col := range []string{ColPerforming, ColSupervising, ColAssessor} {
		if fields[col] == "" {
			fields[col] = SentinelUnknown
		}
	}

	uids := make(map[string]string, len(rs.Vocabulary))
	for _, binding := range rs.Vocabulary {
		value := fields[binding.Column]
		if value == "" || isSentinel(value) {
			continue
		}
		match, ok := reg.GetByName(binding.Table, value)
		if !ok {
			return nil, &UnknownVocabularyValueError{Field: binding.Column, Value: value, Table: binding.Table}
		}
		fields[binding.Column] = match.Name
		uids[binding.Column] = match.UID
	}

	for _, col := range rs.DateColumns {
		value := fields[col]
		if value == "" || isSentinel(value) {
			continue
		}
		canon, err := canonicalDate(value)
		if err != nil {
			return nil, &InvalidFieldValueError{Field: col, Value: value, Reason: err.Error()}
		}
		fields[col] = canon
	}
	for _, col := range rs.TimeColumns {
		value := fields[col]
		if value == "" || isSentinel(value) {
			continue
		}
		canon, err := canonicalTime(value)
		if err != nil {
			return nil, &InvalidFieldValueError{Field: col, Value: value, Reason: err.Error()}
		}
		fields[col] = canon
	}

	// Canonical clock strings are fixed width, so ordering is a string
	// comparison.
	if start, end := fields[ColEpicStart], fields[ColEpicEnd]; isClock(start) && isClock(end) && end < start {
		return nil, &InvalidFieldValueError{Field: ColEpicEnd, Value: end, Reason: "cannot be before " + ColEpicStart}
	}

	record := &CaseRecord{
		Filer:              fields[ColFiler],
		FilerUID:           uids[ColFiler],
		OperationDate:      fields[ColOperationDate],
		Site:               fields[ColSite],
		SiteUID:            uids[ColSite],
		Group:              fields[ColProcedure],
		GroupUID:           uids[ColProcedure],
		EpicStart:          fields[ColEpicStart],
		EpicEnd:            fields[ColEpicEnd],
		PatientSide:        fields[ColPatientSide],
		ORLocation:         fields[ColORLocation],
		PerformingSurgeon:  fields[ColPerforming],
		SupervisingSurgeon: fields[ColSupervising],
		Assessor:           fields[ColAssessor],
		DataPath:           fields[ColDataPath],
		Fields:             fields,
	}
	record.CaseKey = caseKey(record, fields)
	return record, nil
}

func isSentinel(v string) bool {
	return v == SentinelNotApplicable || v == SentinelUnknown
}

// CanonicalDate renders any accepted date input in the registry's 20060102
// form. Query surfaces share it so date filters and stored operation dates
// compare lexically.
func CanonicalDate(v string) (string, error) {
	return canonicalDate(strings.TrimSpace(v))
}

func canonicalDate(v string) (string, error) {
	for _, format := range dateFormats {
		if t, err := time.Parse(format, v); err == nil {
			return t.Format("20060102"), nil
		}
	}
	return "", errors.New("unrecognized date format")
}

func canonicalTime(v string) (string, error) {
	for _, format := range timeFormats {
		if t, err := time.Parse(format, v); err == nil {
			return t.Format("150405"), nil
		}
	}
	return "", errors.New("unrecognized time format")
}

func isClock(v string) bool {
	if len(v) != 6 {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// caseKey derives the subject lookup key. An explicit case name wins;
// otherwise the key combines the fields that identify one procedure on one
// day, so re-running the same intake resolves to the same subject.
func caseKey(record *CaseRecord, fields map[string]string) string {
	if name := fields[ColCaseName]; name != "" && !isSentinel(name) {
		return registry.NormalizeName(name)
	}
	parts := []string{record.OperationDate, record.Site, record.Group}
	if isClock(record.EpicStart) {
		parts = append(parts, record.EpicStart)
	}
	return registry.NormalizeName(strings.Join(parts, "_"))
}
