package llm

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/grunted/grunts/internal/errs"
)

// ClassifyProviderError wraps an upstream SDK/network error into the
// kind-tagged taxonomy. Transient conditions (429, 5xx, network, overload)
// become provider_unavailable and are retried once by the pipeline; auth,
// billing, and model-not-found conditions are fatal.
// Matching is message-pattern based because the SDKs do not share a common
// error type across providers.
func ClassifyProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindProviderUnavailable, err, "%s: request timed out", provider)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errs.Wrap(errs.KindProviderUnavailable, err, "%s: network error", provider)
	}

	msg := err.Error()
	switch {
	case isRateLimitMessage(msg), isOverloadedMessage(msg):
		return errs.Wrap(errs.KindProviderUnavailable, err, "%s: rate limited or overloaded", provider).
			WithHint("retry shortly or pick a different model")
	case isAuthMessage(msg):
		return errs.Wrap(errs.KindProviderFatal, err, "%s: authentication failed", provider).
			WithHint("check the provider API key")
	case isBillingMessage(msg):
		return errs.Wrap(errs.KindProviderFatal, err, "%s: quota or billing issue", provider)
	case isModelNotFoundMessage(msg):
		return errs.Wrap(errs.KindProviderFatal, err, "%s: model not found upstream", provider)
	case isServerErrorMessage(msg):
		return errs.Wrap(errs.KindProviderUnavailable, err, "%s: upstream server error", provider)
	default:
		return errs.Wrap(errs.KindProviderFatal, err, "%s: request failed", provider)
	}
}

func isRateLimitMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "rate limit") ||
		strings.Contains(m, "rate_limit") ||
		strings.Contains(m, "too many requests") ||
		strings.Contains(m, "429")
}

func isOverloadedMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "overloaded") ||
		strings.Contains(m, "capacity") ||
		strings.Contains(m, "server is busy")
}

func isAuthMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "401") ||
		strings.Contains(m, "403") ||
		strings.Contains(m, "unauthorized") ||
		strings.Contains(m, "invalid api key") ||
		strings.Contains(m, "invalid x-api-key") ||
		strings.Contains(m, "authentication")
}

func isBillingMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "billing") ||
		strings.Contains(m, "insufficient credit") ||
		strings.Contains(m, "insufficient_quota") ||
		strings.Contains(m, "quota exceeded") ||
		strings.Contains(m, "payment required")
}

func isModelNotFoundMessage(msg string) bool {
	m := strings.ToLower(msg)
	return (strings.Contains(m, "model") && strings.Contains(m, "not found")) ||
		strings.Contains(m, "model_not_found") ||
		strings.Contains(m, "does not exist")
}

func isServerErrorMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "500") ||
		strings.Contains(m, "502") ||
		strings.Contains(m, "503") ||
		strings.Contains(m, "504") ||
		strings.Contains(m, "internal server error") ||
		strings.Contains(m, "bad gateway") ||
		strings.Contains(m, "service unavailable")
}
