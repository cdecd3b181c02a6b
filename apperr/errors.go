// Package apperr defines the failure taxonomy shared by the workflow packages.
//
// Every workflow operation fails with an *Error whose Kind tells the caller whether a retry can
// help, and whose remaining fields carry enough detail to render a specific message.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindUnauthorized          Kind = "unauthorized"
	KindInvalidState          Kind = "invalid_state"
	KindNotFound              Kind = "not_found"
	KindInvalidInput          Kind = "invalid_input"
	KindDependencyUnavailable Kind = "dependency_unavailable"
)

// Sentinels matched by errors.Is against any *Error of the same Kind.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidState          = errors.New("invalid state")
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// Error is a typed workflow failure.
type Error struct {
	Kind         Kind
	Code         string
	Entity       string
	EntityID     string
	RequiredRole string
	CurrentState string
	Message      string
	Err          error
}

// Error renders the kind and code followed by the message.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		b.WriteString(" (")
		b.WriteString(e.Code)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{sentinel(e.Kind)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Retryable reports whether retrying the same request could succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindDependencyUnavailable
}

func sentinel(k Kind) error {
	switch k {
	case KindUnauthorized:
		return ErrUnauthorized
	case KindInvalidState:
		return ErrInvalidState
	case KindNotFound:
		return ErrNotFound
	case KindInvalidInput:
		return ErrInvalidInput
	default:
		return ErrDependencyUnavailable
	}
}

// Unauthorized reports that actorID lacks requiredRole on the entity.
func Unauthorized(entity, entityID, requiredRole string) *Error {
	return &Error{
		Kind:         KindUnauthorized,
		Code:         "role_required",
		Entity:       entity,
		EntityID:     entityID,
		RequiredRole: requiredRole,
		Message:      fmt.Sprintf("%s %s requires role %s", entity, entityID, requiredRole),
	}
}

// InvalidState reports a failed precondition; code names the precondition.
func InvalidState(code, entity, entityID, current string) *Error {
	return &Error{
		Kind:         KindInvalidState,
		Code:         code,
		Entity:       entity,
		EntityID:     entityID,
		CurrentState: current,
		Message:      fmt.Sprintf("%s %s is %s", entity, entityID, current),
	}
}

// NotFound reports an entity id that does not resolve.
func NotFound(entity, entityID string) *Error {
	return &Error{
		Kind:     KindNotFound,
		Code:     entity + "_not_found",
		Entity:   entity,
		EntityID: entityID,
		Message:  fmt.Sprintf("%s %s not found", entity, entityID),
	}
}

// InvalidInput reports a malformed request.
func InvalidInput(code, message string) *Error {
	return &Error{Kind: KindInvalidInput, Code: code, Message: message}
}

// Unavailable wraps a store or transport failure hit during op.
func Unavailable(op string, err error) *Error {
	return &Error{
		Kind:    KindDependencyUnavailable,
		Code:    "dependency_unavailable",
		Message: op,
		Err:     err,
	}
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, treating untyped errors as dependency failures.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindDependencyUnavailable
}

// WithMessage replaces the rendered message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	e.Message = fmt.Sprintf(format, args...)
	return e
}
