package chainvalue

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an entity lookup yields none.
var ErrNotFound = errors.New("not found")

// ErrorKind classifies a DecodeError.
type ErrorKind int

const (
	Malformed ErrorKind = iota + 1
	InvariantViolation
	UnknownStatus
)

func (k ErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case InvariantViolation:
		return "invariant_violation"
	case UnknownStatus:
		return "unknown_status"
	default:
		return "unknown"
	}
}

// DecodeError is local to one entity. Callers listing collections drop the
// entity and keep going.
type DecodeError struct {
	Kind  ErrorKind
	Field string
	Msg   string
	Err   error
}

func (e *DecodeError) Error() string {
	msg := e.Kind.String()
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Errorf builds a DecodeError of the given kind.
func Errorf(kind ErrorKind, field, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Field: field, Msg: fmt.Sprintf(format, args...)}
}

func wrapMalformed(field string, err error) *DecodeError {
	return &DecodeError{Kind: Malformed, Field: field, Err: err}
}

// KindOf returns the DecodeError kind carried by err, or 0.
func KindOf(err error) ErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}
