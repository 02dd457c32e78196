package assign

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an assignment failure so the engine knows which side
// of the pair to blame. It is a closed set: the transport boundary maps
// whatever the worker reports into one of these three values and nothing
// downstream ever inspects error strings.
type ErrorKind string

const (
	ErrorUser    ErrorKind = "USER_ERROR"
	ErrorTask    ErrorKind = "TASK_ERROR"
	ErrorUnknown ErrorKind = "UNKNOWN"
)

// Error is a classified assignment failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// UserErr wraps err as a failure attributed to the user entity.
func UserErr(err error) error { return &Error{Kind: ErrorUser, Err: err} }

// TaskErr wraps err as a failure attributed to the task entity.
func TaskErr(err error) error { return &Error{Kind: ErrorTask, Err: err} }

// Classify extracts the ErrorKind from an assignment failure. Anything not
// wrapped as an *Error is Unknown, which the retry policy treats
// conservatively by putting both entities through the retry decision.
func Classify(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case ErrorUser, ErrorTask:
			return ae.Kind
		}
	}
	return ErrorUnknown
}

// ParseErrorKind maps a wire code back to an ErrorKind. Unrecognized codes
// collapse to Unknown rather than erroring: a misbehaving worker must not
// be able to wedge the failure path.
func ParseErrorKind(code string) ErrorKind {
	switch ErrorKind(code) {
	case ErrorUser:
		return ErrorUser
	case ErrorTask:
		return ErrorTask
	}
	return ErrorUnknown
}
