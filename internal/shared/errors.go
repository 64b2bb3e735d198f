package shared

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/procureflow/internal/store"
)

// Kind classifies workflow failures.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindInvalidTransition Kind = "invalid_transition"
	KindNotFound          Kind = "not_found"
	KindDependency        Kind = "dependency"
)

var (
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("validation error")
	// ErrInvalidTransition indicates the entity is not in the required state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDependency indicates a collaborator (store, queue) failed.
	ErrDependency = errors.New("dependency failure")
)

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindInvalidTransition:
		return ErrInvalidTransition
	case KindNotFound:
		return ErrNotFound
	default:
		return ErrDependency
	}
}

// Error carries the failure kind, the operation and a human readable reason.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Validation builds a ValidationError.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition builds an InvalidTransitionError.
func InvalidTransition(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidTransition, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFoundError.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Dependency wraps a collaborator failure.
func Dependency(op string, err error) error {
	return &Error{Kind: KindDependency, Op: op, Err: err}
}

// FromStore maps store failures onto the workflow taxonomy. Errors that are
// already classified pass through untouched.
func FromStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &Error{Kind: KindNotFound, Op: op, Message: "entity does not exist", Err: err}
	case errors.Is(err, store.ErrConflict):
		return &Error{Kind: KindInvalidTransition, Op: op, Message: "entity changed concurrently or already exists", Err: err}
	default:
		return &Error{Kind: KindDependency, Op: op, Err: err}
	}
}

// KindOf reports the taxonomy kind of err, or empty when unclassified.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDependency):
		return KindDependency
	}
	return ""
}
