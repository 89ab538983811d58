package retry

import (
	"context"
	"net"
	"strings"

	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/model"
)

// FailureType buckets an item failure for retry policy. The type decides
// the backoff baseline and whether the item is retried at all.
type FailureType string

const (
	// FailureNetwork covers connection drops, timeouts, and DNS trouble.
	FailureNetwork FailureType = "NETWORK_ERROR"
	// FailureRateLimit covers provider throttling.
	FailureRateLimit FailureType = "RATE_LIMIT"
	// FailureConfig covers credential and permission problems that no
	// amount of waiting will fix without operator action.
	FailureConfig FailureType = "CONFIGURATION_ERROR"
	// FailureData covers malformed payloads and validation rejections.
	FailureData FailureType = "DATA_ERROR"
	// FailurePermanent covers gone-forever conditions. Never retried.
	FailurePermanent FailureType = "PERMANENT_ERROR"
	// FailureTemporary is the default bucket for anything unrecognized.
	FailureTemporary FailureType = "TEMPORARY_ERROR"
)

// classifyRules is checked in order; the first type with a matching
// substring wins. Matching is case-insensitive over the full error text.
var classifyRules = []struct {
	ftype    FailureType
	patterns []string
}{
	{FailureNetwork, []string{"connection", "timeout", "network", "dns", "socket"}},
	{FailureRateLimit, []string{"rate limit", "too many requests", "429", "throttle"}},
	{FailureConfig, []string{"config", "permission", "auth", "forbidden", "401", "403"}},
	{FailureData, []string{"json", "parse", "format", "encoding", "validation"}},
	{FailurePermanent, []string{"not found", "404", "deleted", "suspended", "permanent"}},
}

// Classify buckets an error into a failure type. Typed errors from the
// model backends and the curator error codes are consulted first; anything
// untyped falls back to substring heuristics over the message text.
func Classify(err error) FailureType {
	if err == nil {
		return FailureTemporary
	}

	var backendErr *model.BackendError
	if errors.As(err, &backendErr) {
		switch backendErr.Kind {
		case model.KindRateLimited:
			return FailureRateLimit
		case model.KindTimeout, model.KindUnavailable:
			return FailureNetwork
		case model.KindAuth:
			return FailureConfig
		case model.KindInvalidRequest:
			return FailureData
		case model.KindNotFound:
			return FailurePermanent
		}
		// KindUnknown falls through to the text heuristics.
	}

	if ft, ok := classifyCode(err); ok {
		return ft
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return FailureNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		for _, pattern := range rule.patterns {
			if strings.Contains(msg, pattern) {
				return rule.ftype
			}
		}
	}
	return FailureTemporary
}

// classifyCode maps curator error codes onto failure types. Codes without
// a clear bucket report !ok so the message heuristics get a chance.
func classifyCode(err error) (FailureType, bool) {
	cErr := errors.AsCuratorError(err)
	if cErr == nil {
		return "", false
	}
	switch cErr.Code {
	case errors.CodeBackendRateLimited:
		return FailureRateLimit, true
	case errors.CodeBackendNetwork, errors.CodeBackendTimeout:
		return FailureNetwork, true
	case errors.CodeRouterMisconfigured, errors.CodeCapabilityMissing,
		errors.CodeConfigInvalid, errors.CodeConfigMissing:
		return FailureConfig, true
	case errors.CodeDataInvalid:
		return FailureData, true
	case errors.CodePermanentFailure, errors.CodeItemNotFound:
		return FailurePermanent, true
	default:
		return "", false
	}
}
