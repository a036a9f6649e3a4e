// Package apperr defines the stable error taxonomy shared across the
// forecasting service (spec §7) and the envelope used to surface it over
// HTTP/WS.
package apperr

import "fmt"

// Kind is one of the stable error-kind strings from §7.
type Kind string

const (
	DataUnavailable      Kind = "data_unavailable"
	InsufficientCoverage Kind = "insufficient_coverage"
	UpstreamFailure      Kind = "upstream_failure"
	ValidationFailed     Kind = "validation_failed"
	NoValidPrediction    Kind = "no_valid_prediction"
	TrainingFailed       Kind = "training_failed"
	DuplicateJob         Kind = "duplicate_job"
	NotFound             Kind = "not_found"
	Timeout              Kind = "timeout"
	Cancelled            Kind = "cancelled"
)

// Error is an apperr-tagged error: a stable Kind plus a human message and
// optional structured detail (e.g. a validation flag list).
type Error struct {
	Kind    Kind
	Message string
	Detail  any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error of the given kind with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithDetail attaches structured detail (e.g. validation flags) and
// returns the same error for chaining.
func (e *Error) WithDetail(detail any) *Error {
	e.Detail = detail
	return e
}

// Wrap tags an existing error with a Kind, preserving it as the cause for
// errors.Is/As and %w-style unwrapping.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, or
// returns "" if not.
func KindOf(err error) Kind {
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return ""
}

// as is a tiny local errors.As to avoid importing errors just for this.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Envelope is the wire format from spec §6: {error, message, detail?}.
type Envelope struct {
	Error   Kind   `json:"error"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// ToEnvelope converts err into the wire envelope. Non-apperr errors are
// reported as an opaque internal failure so stack-trace-shaped messages
// never leak to clients.
func ToEnvelope(err error) Envelope {
	var e *Error
	if as(err, &e) {
		return Envelope{Error: e.Kind, Message: e.Message, Detail: e.Detail}
	}
	return Envelope{Error: "internal", Message: "internal error"}
}
