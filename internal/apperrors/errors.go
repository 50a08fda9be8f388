package apperrors

import (
	"errors"
	"fmt"
)

// Kind categorizes a structural failure in the receipt pipeline
type Kind string

const (
	KindUnsupportedFormat      Kind = "unsupported_format"
	KindEngineInitFailed       Kind = "engine_init_failed"
	KindTimeout                Kind = "timeout"
	KindValidation             Kind = "validation"
	KindTransactionFailed      Kind = "transaction_failed"
	KindAlreadyConfirmed       Kind = "already_confirmed"
	KindConfirmationInProgress Kind = "confirmation_in_progress"
	KindNothingToConfirm       Kind = "nothing_to_confirm"
	KindLinkedInventory        Kind = "linked_inventory"
	KindNotFound               Kind = "not_found"
)

// NextAction tells the caller what the user can do about a failure
type NextAction string

const (
	ActionRetry          NextAction = "retry"
	ActionRetake         NextAction = "retake"
	ActionManualEntry    NextAction = "manual_entry"
	ActionReview         NextAction = "review"
	ActionAcknowledge    NextAction = "acknowledge"
	ActionContactSupport NextAction = "contact_support"
	ActionNone           NextAction = ""
)

var actions = map[Kind]NextAction{
	KindUnsupportedFormat:      ActionRetake,
	KindEngineInitFailed:       ActionManualEntry,
	KindTimeout:                ActionRetry,
	KindValidation:             ActionReview,
	KindTransactionFailed:      ActionRetry,
	KindAlreadyConfirmed:       ActionNone,
	KindConfirmationInProgress: ActionRetry,
	KindNothingToConfirm:       ActionManualEntry,
	KindLinkedInventory:        ActionAcknowledge,
	KindNotFound:               ActionContactSupport,
}

// Error is a pipeline error carrying its Kind
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same Kind, so the exported sentinels work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NextAction returns the user-facing next step for this error
func (e *Error) NextAction() NextAction {
	return actions[e.Kind]
}

// Sentinels for errors.Is comparisons
var (
	ErrUnsupportedFormat      = &Error{Kind: KindUnsupportedFormat}
	ErrEngineInitFailed       = &Error{Kind: KindEngineInitFailed}
	ErrTimeout                = &Error{Kind: KindTimeout}
	ErrValidation             = &Error{Kind: KindValidation}
	ErrTransactionFailed      = &Error{Kind: KindTransactionFailed}
	ErrAlreadyConfirmed       = &Error{Kind: KindAlreadyConfirmed}
	ErrConfirmationInProgress = &Error{Kind: KindConfirmationInProgress}
	ErrNothingToConfirm       = &Error{Kind: KindNothingToConfirm}
	ErrLinkedInventory        = &Error{Kind: KindLinkedInventory}
	ErrNotFound               = &Error{Kind: KindNotFound}
)

// New creates an Error of the given kind
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ActionFor returns the next step for any error. Errors outside the
// taxonomy map to contacting support.
func ActionFor(err error) NextAction {
	if err == nil {
		return ActionNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.NextAction()
	}
	return ActionContactSupport
}
