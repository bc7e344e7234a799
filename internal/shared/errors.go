package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies ledger failures for callers.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindNotFound          Kind = "not_found"
)

var (
	// ErrValidation matches malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict matches double invoicing, double payment and lost races.
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition matches illegal invoice or installment status changes.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNotFound matches missing or foreign-tenant resources.
	ErrNotFound = errors.New("not found")
)

// Error carries the structured detail a caller needs to render an actionable message.
type Error struct {
	Kind    Kind
	Entity  string
	ID      string
	Rule    string
	Message string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
		if e.ID != "" {
			b.WriteString(" ")
			b.WriteString(e.ID)
		}
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrInvalidTransition:
		return e.Kind == KindInvalidTransition
	case ErrNotFound:
		return e.Kind == KindNotFound
	}
	return false
}

// Validation builds a validation failure.
func Validation(entity, rule, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Entity: entity, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a conflict failure for the given entity id.
func Conflict(entity string, id any, rule, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Entity: entity, ID: formatID(id), Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition builds an illegal status change failure.
func InvalidTransition(entity string, id any, from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Entity:  entity,
		ID:      formatID(id),
		Rule:    from + "->" + to,
		Message: fmt.Sprintf("cannot move from %s to %s", from, to),
	}
}

// NotFound builds a missing resource failure.
func NotFound(entity string, id any) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: formatID(id), Message: "does not exist in tenant"}
}

// AsError extracts the structured ledger error, if any.
func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func formatID(id any) string {
	if id == nil {
		return ""
	}
	return fmt.Sprint(id)
}
