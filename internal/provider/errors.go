package provider

import (
	"regexp"
	"strings"
)

// Canonical error tokens written to spawn rows. The scheduler's resume step
// and the router's quota handling match on these exact strings.
const (
	ErrTimeout       = "timeout"
	ErrTerminated    = "terminated"
	ErrReaped        = "reaped"
	ErrOrphaned      = "orphaned process"
	ErrNoSummary     = "no summary"
	ErrModelNotFound = "model not found"
	ErrRateLimited   = "rate limited"
	ErrSessionLost   = "session not found"
	ErrAuthFailed    = "auth failed"
	ErrOverloaded    = "provider overloaded"
)

// ResumableErrors is the set of crash tokens a sovereign spawn may resume
// from, once.
func ResumableErrors() []string {
	return []string{ErrReaped, ErrOrphaned, ErrTerminated, ErrTimeout, ErrNoSummary}
}

// maxStderrTail caps the fallback error taken from raw stderr.
const maxStderrTail = 120

type stderrRule struct {
	re            *regexp.Regexp
	token         func(match []string) string
	clearsSession bool
}

// First match wins.
var stderrRules = []stderrRule{
	{
		re:    regexp.MustCompile(`(?i)ModelNotFoundError:`),
		token: func([]string) string { return ErrModelNotFound },
	},
	{
		re:    regexp.MustCompile(`(?i)quota exhausted.*reset after (\S+)`),
		token: func(m []string) string { return "quota exhausted (resets " + m[1] + ")" },
	},
	{
		re:    regexp.MustCompile(`(?i)rate.?limit`),
		token: func([]string) string { return ErrRateLimited },
	},
	{
		re:            regexp.MustCompile(`(?i)No conversation found`),
		token:         func([]string) string { return ErrSessionLost },
		clearsSession: true,
	},
	{
		re:    regexp.MustCompile(`(?i)401|403.*forbidden|AuthenticationError`),
		token: func([]string) string { return ErrAuthFailed },
	},
	{
		re:    regexp.MustCompile(`(?i)overloaded|529|503.*unavailable`),
		token: func([]string) string { return ErrOverloaded },
	},
}

// DeriveStderrError maps raw vendor stderr to a canonical error token.
// sessionInvalid reports that the stored session id no longer resolves and
// must be cleared before any resume. When no pattern matches, the last
// non-empty stderr line is returned, truncated.
func DeriveStderrError(stderr string) (token string, sessionInvalid bool) {
	for _, rule := range stderrRules {
		if m := rule.re.FindStringSubmatch(stderr); m != nil {
			return rule.token(m), rule.clearsSession
		}
	}
	return lastLine(stderr), false
}

// IsQuotaError reports whether a canonical token represents quota
// exhaustion, which routes into a provider cooldown.
func IsQuotaError(token string) bool {
	return strings.HasPrefix(token, "quota exhausted")
}

func lastLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if len(line) > maxStderrTail {
			line = line[:maxStderrTail]
		}
		return line
	}
	return ""
}
