package model

import (
	"fmt"
	"net/http"
)

// Kind classifies a backend failure. Retry handling keys off the kind
// before falling back to error-text heuristics, so adapters should map
// provider errors to the most specific kind they can.
type Kind string

const (
	// KindAuth covers missing, invalid, or unauthorized credentials.
	KindAuth Kind = "auth"
	// KindInvalidRequest covers requests the provider rejected as malformed.
	KindInvalidRequest Kind = "invalid_request"
	// KindRateLimited covers quota and throughput rejections.
	KindRateLimited Kind = "rate_limited"
	// KindUnavailable covers provider-side outages and overload.
	KindUnavailable Kind = "unavailable"
	// KindTimeout covers deadline expiry, local or provider-side.
	KindTimeout Kind = "timeout"
	// KindNotFound covers unknown models and deleted resources.
	KindNotFound Kind = "not_found"
	// KindUnknown covers everything the adapter could not classify.
	KindUnknown Kind = "unknown"
)

// BackendError is a classified failure from an AI backend.
type BackendError struct {
	// Backend is the adapter name ("anthropic", "openai", "gemini", "mock").
	Backend string

	Kind Kind

	// Status is the HTTP status when the provider returned one, else 0.
	Status int

	// Message is the provider's message, or the adapter's summary.
	Message string

	// Err is the underlying SDK error, when any.
	Err error
}

func (e *BackendError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (%s, status %d)", e.Backend, e.Message, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Backend, e.Message, e.Kind)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Retryable reports whether the same request could plausibly succeed on
// a later attempt. Auth, malformed-request, and not-found failures are
// deterministic and never retry.
func (e *BackendError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindUnavailable, KindTimeout, KindUnknown:
		return true
	}
	return false
}

// KindFromStatus maps an HTTP status code to a failure kind. Adapters
// use it when the provider error carries a status but no finer type.
func KindFromStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindUnavailable
	case status >= 400:
		return KindInvalidRequest
	case status == 0:
		return KindUnknown
	}
	return KindUnknown
}
