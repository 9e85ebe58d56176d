package classify

import (
	"testing"

	"swarmhive/internal/model"
)

// Feeding "HTTP 429: Too many requests" yields RateLimited; "Connection
// refused" yields NetworkError; an unrelated string yields Other.
func TestClassifyKnownPatterns(t *testing.T) {
	cases := []struct {
		line string
		want model.ErrorKind
	}{
		{"HTTP 429: Too many requests", model.ErrRateLimited},
		{"Connection refused", model.ErrNetworkError},
		{"the quick brown fox jumps over the lazy dog", model.ErrOther},
	}
	for _, c := range cases {
		if got := Classify(c.line); got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.line, got, c.want)
		}
	}
}

func TestClassifySetupRequired(t *testing.T) {
	cases := []string{
		"Authentication required. Please run 'cursor-agent login' first.",
		"Error: Auth required to continue",
		"Please log in to your account",
		"Error: login required before running commands",
		"User not authenticated",
	}
	for _, line := range cases {
		if got := Classify(line); got != model.ErrSetupRequired {
			t.Errorf("Classify(%q) = %q, want %q", line, got, model.ErrSetupRequired)
		}
	}
}

func TestClassifyRateLimited(t *testing.T) {
	cases := []string{
		"Error: Rate limit exceeded, please try again later",
		"API quota exceeded for this month",
		"Request throttled, slow down",
		"Model is overloaded, try again",
	}
	for _, line := range cases {
		if got := Classify(line); got != model.ErrRateLimited {
			t.Errorf("Classify(%q) = %q, want %q", line, got, model.ErrRateLimited)
		}
	}
}

func TestClassifyPermissionDenied(t *testing.T) {
	cases := []string{
		"Permission denied: cannot access /etc/passwd",
		"Error: Access denied to resource",
		"HTTP 403: Forbidden",
		"Unauthorized: invalid credentials",
	}
	for _, line := range cases {
		if got := Classify(line); got != model.ErrPermissionDenied {
			t.Errorf("Classify(%q) = %q, want %q", line, got, model.ErrPermissionDenied)
		}
	}
}

func TestClassifyToolExecutionError(t *testing.T) {
	cases := []string{
		"Tool execution failed: npm install returned error",
		"Command failed with exit code 1",
		"Subprocess failed with signal SIGKILL",
	}
	for _, line := range cases {
		if got := Classify(line); got != model.ErrToolExecutionError {
			t.Errorf("Classify(%q) = %q, want %q", line, got, model.ErrToolExecutionError)
		}
	}
}

func TestClassifyAPIError(t *testing.T) {
	cases := []string{
		"API error: invalid request format",
		"Model not found: gpt-5-ultra",
		"Error: Invalid API key provided",
		"HTTP 500: Internal server error",
		"HTTP 503: Service unavailable",
	}
	for _, line := range cases {
		if got := Classify(line); got != model.ErrAPIError {
			t.Errorf("Classify(%q) = %q, want %q", line, got, model.ErrAPIError)
		}
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	cases := []struct {
		line string
		want model.ErrorKind
	}{
		{"AUTHENTICATION REQUIRED", model.ErrSetupRequired},
		{"RATE LIMIT EXCEEDED", model.ErrRateLimited},
		{"CONNECTION REFUSED", model.ErrNetworkError},
	}
	for _, c := range cases {
		if got := Classify(c.line); got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.line, got, c.want)
		}
	}
}
