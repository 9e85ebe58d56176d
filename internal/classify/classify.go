// Package classify implements the stderr pattern classifier: it
// maps a raw line to one of a fixed set of error kinds by substring match,
// case-insensitive, in a fixed precedence order.
package classify

import (
	"strings"

	"swarmhive/internal/model"
)

// rule order matters: the first matching rule wins.
var rules = []struct {
	kind  model.ErrorKind
	match func(lower string) bool
}{
	{model.ErrSetupRequired, func(l string) bool {
		return containsAny(l, "authentication required", "auth required", "please log in",
			"login required", "not authenticated") ||
			(strings.Contains(l, "please run") && containsAny(l, "login", "auth"))
	}},
	{model.ErrRateLimited, func(l string) bool {
		return containsAny(l, "rate limit", "rate-limit", "ratelimit", "too many requests",
			"quota exceeded", "throttle", "429", "overloaded")
	}},
	{model.ErrNetworkError, func(l string) bool {
		return containsAny(l, "connection refused", "connection reset", "connection timed out",
			"network error", "dns resolution", "could not resolve", "econnrefused",
			"enotfound", "etimedout", "socket hang up", "network is unreachable")
	}},
	{model.ErrPermissionDenied, func(l string) bool {
		if containsAny(l, "permission denied", "access denied", "unauthorized", "forbidden", "403") {
			return true
		}
		return strings.Contains(l, "401") && !strings.Contains(l, "authentication required")
	}},
	{model.ErrToolExecutionError, func(l string) bool {
		return containsAny(l, "tool execution failed", "command failed", "tool error",
			"execution error", "subprocess failed")
	}},
	{model.ErrAPIError, func(l string) bool {
		return containsAny(l, "api error", "invalid request", "bad request", "model not found",
			"model unavailable", "invalid api key", "service unavailable",
			"500", "502", "503", "504")
	}},
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Classify returns the error kind for line, applying rules in the fixed
// precedence: SetupRequired, RateLimited, NetworkError, PermissionDenied,
// ToolExecutionError, ApiError, Other.
func Classify(line string) model.ErrorKind {
	lower := strings.ToLower(line)
	for _, r := range rules {
		if r.match(lower) {
			return r.kind
		}
	}
	return model.ErrOther
}
