package internal

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures in the inbound message path.
type ErrorKind string

const (
	KindParse         ErrorKind = "parse"
	KindValidation    ErrorKind = "validation"
	KindResolution    ErrorKind = "resolution"
	KindPersistence   ErrorKind = "persistence"
	KindSerialization ErrorKind = "serialization"
)

var errorKinds = []ErrorKind{KindParse, KindValidation, KindResolution, KindPersistence, KindSerialization}

var (
	errUnauthorized = errors.New("unauthorized")
	errClientClosed = errors.New("connection closed")
)

// InboundError is returned by the inbound pipeline. The wrapped error is for
// logs; Public is what the sender sees.
type InboundError struct {
	Kind ErrorKind
	Err  error
}

func (e *InboundError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *InboundError) Unwrap() error {
	return e.Err
}

// Public hides storage and encoder internals from clients.
func (e *InboundError) Public() string {
	switch e.Kind {
	case KindPersistence:
		return "failed to save message"
	case KindSerialization:
		return "failed to encode message"
	default:
		return e.Err.Error()
	}
}

func inboundErrorf(kind ErrorKind, format string, args ...any) *InboundError {
	return &InboundError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// ErrorKindOf reports the kind of an inbound error, or "" for anything else.
func ErrorKindOf(err error) ErrorKind {
	var inErr *InboundError
	if errors.As(err, &inErr) {
		return inErr.Kind
	}
	return ""
}
