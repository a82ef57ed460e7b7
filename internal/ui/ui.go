// Package ui provides terminal rendering helpers for inklet's CLI
// output.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "27", Dark: "39"})
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "42"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "130", Dark: "214"})
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "160", Dark: "196"})
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "243", Dark: "245"})
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// ColorEnabled reports whether the terminal supports color output.
func ColorEnabled() bool {
	return termenv.DefaultOutput().Profile != termenv.Ascii
}

func render(style lipgloss.Style, s string) string {
	if !ColorEnabled() {
		return s
	}
	return style.Render(s)
}

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass renders s in the success color.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn renders s in the warning color.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderError renders s in the error color.
func RenderError(s string) string { return render(errorStyle, s) }

// RenderDim renders s dimmed.
func RenderDim(s string) string { return render(dimStyle, s) }

// RenderBold renders s in bold.
func RenderBold(s string) string { return render(boldStyle, s) }
