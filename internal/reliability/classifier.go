// Package reliability classifies failures from external collaborators
// and provides retry backoff. Transient failures are safe to retry;
// permanent ones need a config or code fix; consistency violations mean
// local and remote state disagree and must never be auto-resolved.
package reliability

import (
	"errors"
	"fmt"
	"time"
)

// Class is the failure classification of an external-collaborator error.
type Class int

const (
	// ClassTransient marks failures that a later retry may clear:
	// timeouts, connection errors, 429/5xx, open circuit breakers.
	ClassTransient Class = iota

	// ClassPermanent marks failures a retry cannot clear: bad request,
	// auth failure, unsupported payload.
	ClassPermanent

	// ClassConsistency marks local/remote state disagreement, e.g. a
	// remote resource that exists when the local record says absent.
	// These are logged loudly and surfaced, never silently resolved.
	ClassConsistency
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassConsistency:
		return "consistency"
	default:
		return "unknown"
	}
}

// classifiedError attaches a Class to an underlying error.
type classifiedError struct {
	class Class
	err   error
}

func (e *classifiedError) Error() string {
	return fmt.Sprintf("%s failure: %v", e.class, e.err)
}

func (e *classifiedError) Unwrap() error { return e.err }

// Transient wraps err as a retryable external failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassTransient, err: err}
}

// Permanent wraps err as a non-retryable external failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassPermanent, err: err}
}

// Consistency wraps err as a local/remote state disagreement.
func Consistency(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassConsistency, err: err}
}

// Classify returns the Class of err. Unclassified errors default to
// transient, so an unknown failure is retried rather than given up on.
func Classify(err error) Class {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	return ClassTransient
}

// IsRetryable reports whether the failure is worth retrying.
func IsRetryable(err error) bool {
	return Classify(err) == ClassTransient
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// FromHTTPStatus wraps err with the classification implied by the
// response status code.
func FromHTTPStatus(code int, err error) error {
	if IsRetryableHTTPStatus(code) {
		return Transient(err)
	}
	return Permanent(err)
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
