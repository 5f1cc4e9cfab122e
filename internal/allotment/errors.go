package allotment

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrorKind classifies failures raised before or around the fetch engine.
type ErrorKind string

// Error kinds surfaced by the check service.
const (
	KindRateLimited          ErrorKind = "rate_limited"
	KindValidation           ErrorKind = "validation_error"
	KindIPONotFound          ErrorKind = "ipo_not_found"
	KindAllotmentNotLive     ErrorKind = "allotment_not_live"
	KindRegistrarMissing     ErrorKind = "registrar_missing"
	KindRegistrarUnavailable ErrorKind = "registrar_unavailable"
	KindInternal             ErrorKind = "internal"
)

// Error is the typed failure returned by Service.Check.
type Error struct {
	Kind        ErrorKind
	Message     string
	Detail      string
	FallbackURL string
	RetryAfter  time.Duration
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind carried by err, or KindInternal.
func KindOf(err error) ErrorKind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}
