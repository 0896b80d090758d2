package provider

import (
	"strings"
	"testing"
)

func TestDeriveStderrError(t *testing.T) {
	cases := []struct {
		name   string
		stderr string
		want   string
		clears bool
	}{
		{"model", "ModelNotFoundError: no such model", "model not found", false},
		{"quota", "error: quota exhausted, will reset after 2h30m", "quota exhausted (resets 2h30m)", false},
		{"quota_caps", "QUOTA EXHAUSTED. Reset after 45m.", "quota exhausted (resets 45m.)", false},
		{"rate", "429 rate-limit hit, slow down", "rate limited", false},
		{"session", "Error: No conversation found with session ID abc", "session not found", true},
		{"auth", "AuthenticationError: invalid x-api-key", "auth failed", false},
		{"forbidden", "HTTP 403: forbidden", "auth failed", false},
		{"overloaded", "upstream overloaded, try later", "provider overloaded", false},
		{"http529", "server returned 529", "provider overloaded", false},
		{"empty", "   \n\n", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, clears := DeriveStderrError(tc.stderr)
			if got != tc.want {
				t.Errorf("token = %q, want %q", got, tc.want)
			}
			if clears != tc.clears {
				t.Errorf("sessionInvalid = %v, want %v", clears, tc.clears)
			}
		})
	}
}

func TestDeriveStderrErrorFallbackTruncates(t *testing.T) {
	long := strings.Repeat("x", 300)
	stderr := "first line\n" + long + "\n\n"

	got, clears := DeriveStderrError(stderr)
	if clears {
		t.Error("fallback should not invalidate the session")
	}
	if len(got) != maxStderrTail {
		t.Errorf("fallback length = %d, want %d", len(got), maxStderrTail)
	}
	if !strings.HasPrefix(long, got) {
		t.Errorf("fallback should be the last non-empty line, got %q", got)
	}
}

func TestFirstRuleWins(t *testing.T) {
	// Both the model and rate patterns appear; the table is ordered.
	got, _ := DeriveStderrError("ModelNotFoundError: also rate limit mentioned")
	if got != "model not found" {
		t.Errorf("token = %q, want first rule's", got)
	}
}

func TestIsQuotaError(t *testing.T) {
	if !IsQuotaError("quota exhausted (resets 2h30m)") {
		t.Error("quota token should classify as quota error")
	}
	for _, token := range []string{ErrRateLimited, ErrTimeout, "", "provider overloaded"} {
		if IsQuotaError(token) {
			t.Errorf("%q should not classify as quota error", token)
		}
	}
}

func TestResumableErrors(t *testing.T) {
	set := ResumableErrors()
	want := map[string]bool{
		ErrReaped: true, ErrOrphaned: true, ErrTerminated: true, ErrTimeout: true, ErrNoSummary: true,
	}
	if len(set) != len(want) {
		t.Fatalf("resumable set = %v", set)
	}
	for _, token := range set {
		if !want[token] {
			t.Errorf("unexpected resumable token %q", token)
		}
	}
}
