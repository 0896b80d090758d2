package ui

import "github.com/charmbracelet/lipgloss"

// Palette. ANSI-256 values so the colors survive basic terminals.
var (
	ColorAccent = lipgloss.Color("39")  // blue
	ColorPass   = lipgloss.Color("42")  // green
	ColorWarn   = lipgloss.Color("214") // orange
	ColorErr    = lipgloss.Color("196") // red
	ColorMuted  = lipgloss.Color("245") // gray
)

// Icons paired with the render helpers in status lines.
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorErr)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
func RenderBold(s string) string   { return boldStyle.Render(s) }
