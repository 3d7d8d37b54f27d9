// Package llmerr provides the typed error model shared by the routing engine
// and the provider adapters: a closed set of failure kinds, operator-facing
// remediation text, and the transient/permanent classification the circuit
// breaker depends on.
package llmerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind identifies a failure class. The set is closed: callers switch on these
// values and telemetry persists them verbatim in the error_type column.
type Kind string

const (
	KindModelNotAllowed         Kind = "MODEL_NOT_ALLOWED"
	KindALSBlockTooLong         Kind = "ALS_BLOCK_TOO_LONG"
	KindGroundingRequiredError  Kind = "GROUNDING_REQUIRED_ERROR"
	KindGroundingRequiredFailed Kind = "GROUNDING_REQUIRED_FAILED"
	KindGroundingEmptyResults   Kind = "GROUNDING_EMPTY_RESULTS"
	KindCircuitOpen             Kind = "CIRCUIT_OPEN"
	KindRateLimitedWait         Kind = "RATE_LIMITED_WAIT"
	KindAuthMissing             Kind = "AUTH_MISSING"
	KindInvalidRequest          Kind = "INVALID_REQUEST"
	KindTimeout                 Kind = "TIMEOUT"
	KindCancelled               Kind = "CANCELLED"
	KindUpstream                Kind = "UPSTREAM_ERROR"
)

// Error is a classified failure. Remediation tells the operator what to
// change, in the same register as config validation messages.
type Error struct {
	Kind        Kind
	Message     string
	Remediation string
	// Status is the upstream HTTP status when one was observed, 0 otherwise.
	Status int
	cause  error
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that preserves the cause for errors.Is/As chains.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithRemediation attaches remediation text and returns the error.
func (e *Error) WithRemediation(text string) *Error {
	e.Remediation = text
	return e
}

// WithStatus attaches the upstream HTTP status and returns the error.
func (e *Error) WithStatus(code int) *Error {
	e.Status = code
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	if e.Remediation != "" {
		b.WriteString(" (remediation: ")
		b.WriteString(e.Remediation)
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps the error to an HTTP status for transport layers, using the
// observed upstream status when present and a per-kind default otherwise.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindModelNotAllowed, KindInvalidRequest, KindALSBlockTooLong:
		return 400
	case KindAuthMissing:
		return 401
	case KindGroundingRequiredError, KindGroundingRequiredFailed, KindGroundingEmptyResults:
		return 422
	case KindRateLimitedWait:
		return 429
	case KindCircuitOpen:
		return 503
	case KindTimeout:
		return 504
	case KindCancelled:
		return 499
	default:
		return 502
	}
}

// As unwraps err into a *Error if one is in the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindUpstream for untyped errors.
// Context errors are recognized even when untyped.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUpstream
}

// FromContext maps a context error to its typed equivalent. Returns nil when
// err carries no deadline or cancellation signal.
func FromContext(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindTimeout, "deadline exceeded before the provider responded", err)
	case errors.Is(err, context.Canceled):
		return Wrap(KindCancelled, "request cancelled by the caller", err)
	default:
		return nil
	}
}

// transientMarkers are substrings of provider error text that indicate a
// retryable condition regardless of HTTP status.
var transientMarkers = []string{
	"ServiceUnavailable",
	"TooManyRequests",
	"UNAVAILABLE",
	"RateLimit",
	"RESOURCE_EXHAUSTED",
	"DeadlineExceeded",
	"overloaded",
}

// transientStatus reports whether an HTTP status indicates a retryable
// upstream condition.
func transientStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// IsTransient reports whether err represents a transient upstream failure.
// Only transient failures count toward opening a circuit. Deadline and
// cancellation errors are neither transient nor permanent: they say nothing
// about provider health and never trip the breaker.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if e, ok := As(err); ok {
		switch e.Kind {
		case KindTimeout, KindCancelled:
			return false
		case KindModelNotAllowed, KindAuthMissing, KindInvalidRequest, KindALSBlockTooLong,
			KindGroundingRequiredError, KindGroundingRequiredFailed, KindGroundingEmptyResults:
			return false
		}
		if e.Status != 0 {
			return transientStatus(e.Status)
		}
		// No status recorded: classify by the cause, not by the wrapper's
		// default status mapping.
		if e.cause == nil {
			return false
		}
		err = e.cause
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		if code := sc.HTTPStatus(); code != 0 {
			return transientStatus(code)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	text := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
