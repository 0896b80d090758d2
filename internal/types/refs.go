package types

import (
	"regexp"
	"strings"
)

// Ref is a parsed short reference to a ledger artifact.
type Ref struct {
	Type  ArtifactType
	Short string
}

func (r Ref) String() string { return r.Type.RefPrefix() + "/" + r.Short }

// citationRe matches the citable forms embedded in free text: i/<8hex> for
// insights and d/<8hex> for decisions. Longer prefixes are matched at their
// first 8 chars by the trailing boundary.
var citationRe = regexp.MustCompile(`\b(i|d)/([a-f0-9]{8})\b`)

// ExtractCitations scans free text for citation references. Duplicates are
// collapsed, first-seen order is preserved.
func ExtractCitations(text string) []Ref {
	matches := citationRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[Ref]bool, len(matches))
	refs := make([]Ref, 0, len(matches))
	for _, m := range matches {
		ref := Ref{Short: m[2]}
		switch m[1] {
		case "i":
			ref.Type = ArtifactInsight
		case "d":
			ref.Type = ArtifactDecision
		}
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

// refPrefixes maps the one-letter external reference prefixes for ParseRef.
var refPrefixes = map[string]ArtifactType{
	"i": ArtifactInsight,
	"d": ArtifactDecision,
	"t": ArtifactTask,
	"s": ArtifactSpawn,
	"r": ArtifactReply,
}

// ParseRef parses an external short reference like "i/a1b2c3d4" or
// "s/deadbeefcafe". The id part must be at least 8 hex chars; longer
// prefixes are accepted and resolved downstream.
func ParseRef(s string) (Ref, error) {
	prefix, rest, ok := strings.Cut(s, "/")
	if !ok {
		return Ref{}, Validationf("invalid reference %q (want <type>/<hex>, e.g. i/a1b2c3d4)", s)
	}
	t, ok := refPrefixes[prefix]
	if !ok {
		return Ref{}, Validationf("invalid reference prefix %q (want one of i, d, t, s, r)", prefix)
	}
	if !IsHexRef(rest) {
		return Ref{}, Validationf("invalid reference id %q (want 8+ hex chars)", rest)
	}
	return Ref{Type: t, Short: rest}, nil
}

// mentionRe matches @handle mentions. Handles are word chars plus dash.
var mentionRe = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)

// ExtractMentions returns the distinct handles mentioned in text, without
// the @ sign, in first-seen order.
func ExtractMentions(text string) []string {
	matches := mentionRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		h := m[1]
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}

// MentionsHuman reports whether text contains the @human wildcard.
func MentionsHuman(text string) bool {
	for _, h := range ExtractMentions(text) {
		if h == HumanMention {
			return true
		}
	}
	return false
}
