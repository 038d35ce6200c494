package application

import (
	"errors"
	"fmt"

	"admitflow/document"
)

// Stable machine-readable codes surfaced to API consumers.
const (
	CodeIllegalTransition      = "illegal_transition"
	CodeIncompleteForm         = "incomplete_form"
	CodeUnverifiedDocuments    = "unverified_documents"
	CodeMissingReason          = "missing_reason"
	CodeUnknownStep            = "unknown_step"
	CodeApplicationNotEditable = "application_not_editable"
	CodeTransitionConflict     = "transition_conflict"
)

var (
	// ErrNotFound is returned when no application row exists for the identifier.
	ErrNotFound = errors.New("application: not found")
	// ErrMissingReason signals a rejection attempted without a note.
	ErrMissingReason = errors.New("application: rejection requires a reason note")
	// ErrTransitionConflict signals a concurrent writer won the row lock.
	// Retryable: the caller should re-fetch and retry once.
	ErrTransitionConflict = errors.New("application: concurrent transition conflict")
)

// IllegalTransitionError is returned when the requested edge is not in the
// transition table, including any attempt to leave a terminal stage.
type IllegalTransitionError struct {
	From Stage
	To   Stage
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("application: illegal transition %s -> %s", e.From, e.To)
}

// IncompleteFormError is returned when submission is attempted before all
// mandatory steps are saved. MissingSteps is in form order for user display.
type IncompleteFormError struct {
	MissingSteps []StepID
}

func (e *IncompleteFormError) Error() string {
	return fmt.Sprintf("application: form incomplete, %d step(s) missing", len(e.MissingSteps))
}

// UnverifiedDocumentsError is returned when submission or offer generation is
// attempted while mandatory documents are not verified. Types is in display
// order.
type UnverifiedDocumentsError struct {
	Types []document.Type
}

func (e *UnverifiedDocumentsError) Error() string {
	return fmt.Sprintf("application: %d mandatory document(s) not verified", len(e.Types))
}

// UnknownStepError is returned for a step identifier outside the twelve
// defined steps. Caller bug, not retried.
type UnknownStepError struct {
	StepID string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("application: unknown step %q", e.StepID)
}

// NotEditableError is returned when a step save is attempted outside DRAFT.
type NotEditableError struct {
	Stage Stage
}

func (e *NotEditableError) Error() string {
	return fmt.Sprintf("application: not editable in stage %s", e.Stage)
}

// ErrorCode maps a workflow error to its stable code, or "" for errors
// outside the taxonomy.
func ErrorCode(err error) string {
	var (
		illegal    *IllegalTransitionError
		incomplete *IncompleteFormError
		unverified *UnverifiedDocumentsError
		unknown    *UnknownStepError
		uneditable *NotEditableError
	)
	switch {
	case errors.As(err, &illegal):
		return CodeIllegalTransition
	case errors.As(err, &incomplete):
		return CodeIncompleteForm
	case errors.As(err, &unverified):
		return CodeUnverifiedDocuments
	case errors.As(err, &unknown):
		return CodeUnknownStep
	case errors.As(err, &uneditable):
		return CodeApplicationNotEditable
	case errors.Is(err, ErrMissingReason):
		return CodeMissingReason
	case errors.Is(err, ErrTransitionConflict):
		return CodeTransitionConflict
	default:
		return ""
	}
}
