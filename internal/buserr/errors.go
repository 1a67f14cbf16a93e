// Package buserr defines the error taxonomy shared by the envelope,
// transport, consumer runtime and idempotency guard.
//
// Retry guidance:
//   - ValidationError and SignatureError are never retried; the message is
//     dropped (and acknowledged when it came from a stream).
//   - ErrTransportUnavailable, ErrStoreUnavailable and StillProcessingError
//     are transient; callers retry with backoff.
//   - HandlerError leaves the stream entry pending for redelivery until the
//     group's delivery budget is spent, then it is dead-lettered.
package buserr

import (
	"errors"
	"fmt"
	"time"
)

// ErrTransportUnavailable marks a transient stream transport failure. Wrap it
// with %w so errors.Is keeps working.
var ErrTransportUnavailable = errors.New("transport unavailable")

// ErrStoreUnavailable marks an unreachable idempotency store when the guard
// runs fail-closed.
var ErrStoreUnavailable = errors.New("idempotency store unavailable")

// ValidationError reports a malformed event or payload.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validation is a shorthand constructor.
func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// SignatureError reports an event whose signature does not match its fields.
type SignatureError struct {
	EventID string
}

func (e *SignatureError) Error() string {
	if e.EventID == "" {
		return "signature mismatch"
	}
	return "signature mismatch for event " + e.EventID
}

// HandlerError wraps a business-logic failure raised by a registered handler.
type HandlerError struct {
	EventType string
	EventID   string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed for event %s: %v", e.EventType, e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// StillProcessingError is returned when another execution holds the same
// idempotency key past the wait budget.
type StillProcessingError struct {
	Key    string
	Waited time.Duration
}

func (e *StillProcessingError) Error() string {
	return fmt.Sprintf("idempotency key %q still processing after %s", e.Key, e.Waited)
}

// Unavailable wraps err as a transport outage.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransportUnavailable, err)
}

// IsRetryable reports whether the caller should retry the operation later.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransportUnavailable) || errors.Is(err, ErrStoreUnavailable) {
		return true
	}
	var sp *StillProcessingError
	if errors.As(err, &sp) {
		return true
	}
	var he *HandlerError
	return errors.As(err, &he)
}

// IsPermanent reports whether err describes data that will never be accepted.
func IsPermanent(err error) bool {
	var ve *ValidationError
	var se *SignatureError
	return errors.As(err, &ve) || errors.As(err, &se)
}
