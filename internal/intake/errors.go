package intake

import (
	"fmt"
	"strings"

	"curator/internal/services"
)

// MissingRequiredFieldsError names exactly the required columns that were
// blank or absent, sorted for stable reporting.
type MissingRequiredFieldsError struct {
	Fields []string
}

func (e *MissingRequiredFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

func (e *MissingRequiredFieldsError) Unwrap() error { return services.ErrValidation }

// MissingConditionalFieldError reports a column that became required because
// another column matched the triggering value.
type MissingConditionalFieldError struct {
	Field  string
	When   string
	Equals string
}

func (e *MissingConditionalFieldError) Error() string {
	return fmt.Sprintf("missing conditionally required field %q (required when %s is %s)", e.Field, e.When, e.Equals)
}

func (e *MissingConditionalFieldError) Unwrap() error { return services.ErrValidation }

// UnknownVocabularyValueError reports a controlled-vocabulary value with no
// matching registry row. New vocabulary entries are an explicit registry
// operation, never a side effect of intake.
type UnknownVocabularyValueError struct {
	Field string
	Value string
	Table string
}

func (e *UnknownVocabularyValueError) Error() string {
	return fmt.Sprintf("unknown %s %q (no matching row in %s)", e.Field, e.Value, e.Table)
}

func (e *UnknownVocabularyValueError) Unwrap() error { return services.ErrValidation }

// InvalidFieldValueError reports a value that is present but unusable, such
// as an unparseable date or an end time before its start time.
type InvalidFieldValueError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidFieldValueError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidFieldValueError) Unwrap() error { return services.ErrValidation }
