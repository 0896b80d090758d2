// Package timeparsing turns human time expressions into absolute times:
// duration offsets ("+2h", "+3d"), calendar dates ("2026-01-15"), and
// natural language ("tomorrow", "next monday").
package timeparsing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var parser = when.New(nil)

func init() {
	parser.Add(en.All...)
	parser.Add(common.All...)
}

// unitSuffixes maps single-letter duration suffixes to their length.
// time.ParseDuration stops at hours, so days and weeks are handled here.
var unitSuffixes = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseRelativeTime resolves input against now. Offsets are anchored to
// now; calendar dates parse in now's location at midnight.
func ParseRelativeTime(input string, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	if t, ok := parseOffset(s, now); ok {
		return t, nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}

	r, err := parser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse time expression %q: %w", input, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time expression %q", input)
	}
	return r.Time, nil
}

// parseOffset handles "+<n><unit>" and compound Go durations like
// "+1h30m". The leading + is optional for single-unit forms ("2d").
func parseOffset(s string, now time.Time) (time.Time, bool) {
	trimmed := strings.TrimPrefix(s, "+")
	if trimmed == "" {
		return time.Time{}, false
	}

	lower := strings.ToLower(trimmed)
	if unit, ok := unitSuffixes[lower[len(lower)-1]]; ok {
		if n, err := strconv.ParseFloat(lower[:len(lower)-1], 64); err == nil && n >= 0 {
			return now.Add(time.Duration(n * float64(unit))), true
		}
	}

	if strings.HasPrefix(s, "+") {
		if d, err := time.ParseDuration(trimmed); err == nil && d >= 0 {
			return now.Add(d), true
		}
	}
	return time.Time{}, false
}
