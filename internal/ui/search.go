package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// SearchHit is the render model for one full-text match. The cmd layer
// maps ledger rows into these.
type SearchHit struct {
	Kind    string // decision, insight, task, reply
	Ref     string // short id with sigil, e.g. d/4f2a91c8
	Agent   string
	Snippet string
}

var searchBoxStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorMuted).
	Padding(0, 1).
	Margin(1, 0)

// RenderSearchResults renders matches grouped under a query header.
func RenderSearchResults(query string, hits []SearchHit, width int) string {
	var sections []string

	header := fmt.Sprintf("Search: %q", query)
	if ShouldUseEmoji() {
		header = "🔍 " + header
	}
	sections = append(sections, TableHeaderStyle.Render(header), "")

	if len(hits) == 0 {
		sections = append(sections, RenderMuted("No matches."))
		return searchBoxStyle.Width(width - 2).Render(strings.Join(sections, "\n"))
	}

	rows := make([][]string, 0, len(hits))
	for _, h := range hits {
		rows = append(rows, []string{h.Ref, h.Kind, h.Agent, h.Snippet})
	}
	t := NewTable(width - 4).
		Headers("Ref", "Kind", "Agent", "Match").
		Rows(rows...)
	sections = append(sections, t.String())

	return searchBoxStyle.Width(width - 2).Render(strings.Join(sections, "\n"))
}
