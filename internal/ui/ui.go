// Package ui renders terminal output for the obra CLI.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/mschirtzinger/obracontrol/internal/obra/gateway"
	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
)

var (
	ColorAccent  = lipgloss.Color("#f59e0b")
	ColorSuccess = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#eab308")
	ColorError   = lipgloss.Color("#ef4444")
	ColorMuted   = lipgloss.Color("#9ca3af")
	ColorInfo    = lipgloss.Color("#38bdf8")
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	HeaderStyle  = lipgloss.NewStyle().Bold(true)
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	InfoStyle    = lipgloss.NewStyle().Foreground(ColorInfo)
)

// Setup picks the color profile for w. Non-terminals and NO_COLOR get plain
// text.
func Setup(w io.Writer) {
	lipgloss.SetColorProfile(termenv.NewOutput(w).EnvColorProfile())
}

// DisableColor forces plain output.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// Status renders a sync status with its Spanish label.
func Status(s gateway.Status) string {
	style := MutedStyle
	switch s {
	case gateway.StatusSynced:
		style = SuccessStyle
	case gateway.StatusSyncing:
		style = InfoStyle
	case gateway.StatusError:
		style = ErrorStyle
	}
	return style.Render("● " + s.Label())
}

// Material renders a material status.
func Material(s schema.MaterialStatus) string {
	switch s {
	case schema.MaterialReceived:
		return SuccessStyle.Render(s.Label())
	case schema.MaterialOrdered:
		return InfoStyle.Render(s.Label())
	default:
		return WarningStyle.Render(s.Label())
	}
}

// Project renders a project status.
func Project(s schema.ProjectStatus) string {
	if s == schema.StatusPaused {
		return WarningStyle.Render(s.Label())
	}
	return SuccessStyle.Render(s.Label())
}

// Progress renders a fixed-width bar such as [██████░░░░] 60%.
func Progress(pct, width int) string {
	pct = min(max(pct, 0), 100)
	if width <= 0 {
		width = 10
	}
	filled := pct * width / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("[%s] %3d%%", bar, pct)
}

// Check renders a task checkbox.
func Check(done bool) string {
	if done {
		return SuccessStyle.Render("[x]")
	}
	return "[ ]"
}

// Warn renders an inline warning marker with text.
func Warn(text string) string {
	return WarningStyle.Render("⚠ " + text)
}

// RenderPass renders a success marker.
func RenderPass(s string) string { return SuccessStyle.Render(s) }

// RenderWarn renders a warning marker.
func RenderWarn(s string) string { return WarningStyle.Render(s) }

// RenderFail renders an error marker.
func RenderFail(s string) string { return ErrorStyle.Render(s) }

// RenderAccent renders a heading accent.
func RenderAccent(s string) string { return TitleStyle.Render(s) }

// RenderMuted renders secondary text.
func RenderMuted(s string) string { return MutedStyle.Render(s) }
