package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/list"
	"github.com/charmbracelet/lipgloss/table"
)

// DoctorCheck is one pass/fail line in the health report.
type DoctorCheck struct {
	Name   string
	OK     bool
	Detail string
}

// DoctorReport aggregates everything the doctor command found.
type DoctorReport struct {
	Checks    []DoctorCheck
	Details   [][]string // component, value
	Issues    []string
	NextSteps []string
}

// Healthy reports whether every check passed.
func (r DoctorReport) Healthy() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// RenderDoctorReport generates the styled health report.
func RenderDoctorReport(rep DoctorReport, width int) string {
	var sections []string

	header := "space is healthy"
	style := lipgloss.NewStyle().Bold(true).Foreground(ColorPass)
	if !rep.Healthy() {
		header = "space needs attention"
		style = lipgloss.NewStyle().Bold(true).Foreground(ColorWarn)
	}
	sections = append(sections, style.Render(header), "")

	checks := list.New().
		Enumerator(func(_ list.Items, i int) string {
			if i < len(rep.Checks) && !rep.Checks[i].OK {
				return RenderFail(IconFail)
			}
			return RenderPass(IconPass)
		}).
		EnumeratorStyle(lipgloss.NewStyle().MarginRight(1))
	for _, c := range rep.Checks {
		label := c.Name
		if c.Detail != "" {
			label += " " + RenderMuted(c.Detail)
		}
		checks.Item(label)
	}
	sections = append(sections, checks.String(), "")

	if len(rep.Details) > 0 {
		t := table.New().
			Headers("Component", "Configuration").
			Rows(rep.Details...).
			Border(lipgloss.RoundedBorder()).
			BorderStyle(TableBorderStyle).
			Width(width).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return TableHeaderStyle
				}
				s := TableCellStyle
				if col == 0 {
					s = s.Bold(true).Foreground(ColorAccent)
				}
				return s
			})
		sections = append(sections, t.String(), "")
	}

	if len(rep.Issues) > 0 {
		warnBox := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorWarn).
			Padding(0, 1).
			Width(width - 2)

		content := []string{lipgloss.NewStyle().Bold(true).Foreground(ColorWarn).Render("Issues:")}
		for _, issue := range rep.Issues {
			content = append(content, "  • "+issue)
		}
		sections = append(sections, warnBox.Render(strings.Join(content, "\n")), "")
	}

	if len(rep.NextSteps) > 0 {
		sections = append(sections, RenderBold("Next Steps:"))
		for _, step := range rep.NextSteps {
			sections = append(sections, "  • "+RenderAccent(step))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
