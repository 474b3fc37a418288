package services

import (
	"errors"
	"fmt"
	"strings"

	"curator/internal/ledger"
)

var (
	ErrValidation     = errors.New("validation error")
	ErrClassification = errors.New("classification error")
	ErrRegistry       = errors.New("registry error")
	ErrConflict       = errors.New("sync conflict")
	ErrTransport      = errors.New("transport error")
	ErrConfiguration  = errors.New("configuration error")
	ErrNotFound       = errors.New("not found")
	ErrTransient      = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later status classification. The marker should
// be one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureStatus maps a run error to the ledger status the orchestrator should
// persist after the run fails. Validation and classification failures need a
// human to fix the input or templates, so they land in review rather than
// failed.
func FailureStatus(err error) ledger.Status {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrClassification),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotFound):
		return ledger.StatusReview
	default:
		return ledger.StatusFailed
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
