package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// RenderMarkdown pretty-prints markdown for terminal display, falling
// back to the raw text when rendering is unavailable (piped output, odd
// terminals).
func RenderMarkdown(text string, width int) string {
	if !ShouldUseColor() {
		return text
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n") + "\n"
}
