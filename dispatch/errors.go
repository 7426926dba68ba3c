// Package dispatch is the Dispatcher (C8): the per-request lifecycle that
// resolves a model, scores and selects an upstream (provider, mapping, key),
// forwards the request, normalizes the response, costs it, and enqueues the
// resulting log record.
//
// Grounded on the teacher's gateway.go request-handling loop (resolve,
// forward, classify-error, log), generalized to the candidate-set /
// fallback-retry shape spec.md §4.8 requires and wired to this module's own
// resolver/scorer/keyhealth/costing/providers packages instead of the
// teacher's single-provider dispatch.
package dispatch

import (
	"errors"
	"fmt"
)

// Kind is the gateway's error taxonomy, per spec.md §7.
type Kind string

const (
	KindBadRequest      Kind = "bad_request"
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindUpstream4xx     Kind = "upstream_4xx"
	KindUpstream5xx     Kind = "upstream_5xx"
	KindGatewayInternal Kind = "gateway_internal"
	KindCanceled        Kind = "canceled"
)

// UnifiedFinishReason maps an error Kind (or success) to the log record's
// unifiedFinishReason column.
func (k Kind) UnifiedFinishReason() string {
	switch k {
	case KindCanceled:
		return "canceled"
	case KindUpstream4xx, KindUpstream5xx:
		return "upstream_error"
	case KindBadRequest, KindUnauthorized, KindForbidden:
		return "client_error"
	default:
		return "gateway_error"
	}
}

// HTTPStatus returns the status code this Kind is surfaced to the caller as.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return 400
	case KindUnauthorized:
		return 401
	case KindForbidden:
		return 403
	case KindUpstream4xx:
		return 422
	case KindUpstream5xx:
		return 502
	case KindCanceled:
		return 499
	default:
		return 500
	}
}

// Retryable reports whether a fallback candidate should be tried for errors
// of this kind (per spec.md §7 and §4.8 step 8).
func (k Kind) Retryable() bool {
	switch k {
	case KindUpstream4xx, KindUpstream5xx, KindGatewayInternal:
		return true
	default:
		return false
	}
}

// Error is the error type surfaced out of Dispatch. It carries the
// classification needed for both the HTTP response and the log record, and
// unwraps to the underlying cause via errors.Is/errors.As.
type Error struct {
	Kind       Kind
	HTTPStatus int
	Status     int // upstream HTTP status, when Kind is Upstream4xx/5xx (0 otherwise)
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dispatch: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("dispatch: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, status int, message string, cause error) *Error {
	return &Error{Kind: kind, HTTPStatus: kind.HTTPStatus(), Status: status, Message: message, Cause: cause}
}

// AsDispatchError reports whether err is (or wraps) a *Error.
func AsDispatchError(err error) (*Error, bool) {
	var de *Error
	ok := errors.As(err, &de)
	return de, ok
}
