package agents

import (
	"errors"
	"fmt"
)

// ErrorKind classifies faults raised inside the pipeline.
type ErrorKind string

const (
	KindInputValidation  ErrorKind = "input_validation"
	KindAgentUnavailable ErrorKind = "agent_unavailable"
	KindExternalService  ErrorKind = "external_service"
	KindFusion           ErrorKind = "fusion"
)

// UnavailableMessage is the error text of a Result for an unregistered agent type.
const UnavailableMessage = "Agent not available"

// ErrAgentUnavailable is returned when no handler is registered for a task's agent type.
var ErrAgentUnavailable = &Error{Kind: KindAgentUnavailable, Err: errors.New(UnavailableMessage)}

// Error is a kind-tagged pipeline fault.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewInputError wraps err as an input validation fault.
func NewInputError(op string, err error) *Error {
	return &Error{Kind: KindInputValidation, Op: op, Err: err}
}

// NewExternalError wraps err as a failed call to an outside service.
func NewExternalError(op string, err error) *Error {
	return &Error{Kind: KindExternalService, Op: op, Err: err}
}

// NewFusionError wraps err as a confidence fusion fault.
func NewFusionError(op string, err error) *Error {
	return &Error{Kind: KindFusion, Op: op, Err: err}
}

// Inputf builds an input validation fault from a format string.
func Inputf(op, format string, args ...any) *Error {
	return NewInputError(op, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
