package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType classifies failures the way the run pipeline handles them
type ErrorType string

const (
	ErrorTypeExtraction ErrorType = "extraction"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeFetch      ErrorType = "fetch"
	ErrorTypeDelivery   ErrorType = "delivery"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeState      ErrorType = "state"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// ErrAlreadyRunning is reported by the scroll driver when a start finds a
// loop already active for the target.
var ErrAlreadyRunning = stderrors.New("scroll loop already running")

// ErrNoSession is returned when a target has no attached page session.
var ErrNoSession = stderrors.New("no page session for target")

// Error carries the failure type and the operation that produced it
type Error struct {
	Type   ErrorType
	Op     string
	Target string
	RunID  string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error during %s", e.Type, e.Op)
	if e.Target != "" {
		msg += fmt.Sprintf(" (target %s)", e.Target)
	}
	if e.RunID != "" {
		msg += fmt.Sprintf(" (run %s)", e.RunID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a type and operation name.
func New(t ErrorType, op string, err error) *Error {
	return &Error{Type: t, Op: op, Err: err}
}

// WithTarget returns a copy of e scoped to a target.
func (e *Error) WithTarget(target string) *Error {
	cp := *e
	cp.Target = target
	return &cp
}

// WithRun returns a copy of e scoped to a run id.
func (e *Error) WithRun(runID string) *Error {
	cp := *e
	cp.RunID = runID
	return &cp
}

// TypeOf returns the type of the first *Error in err's chain.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err's chain contains an *Error of type t.
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// Is and As re-export the standard library helpers so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
