// Package ui provides terminal styling for the garage CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Palette colors used by the CLI.
const (
	ColorAccent = "#7aa2f7"
	ColorPass   = "#9ece6a"
	ColorWarn   = "#e0af68"
	ColorFail   = "#f7768e"
	ColorMuted  = "#737aa2"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorPass)).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWarn))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorFail)).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorMuted))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent)).Bold(true).Underline(true)
)

func init() {
	if !IsTerminal(os.Stdout) {
		DisableColor()
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// DisableColor strips all styling from subsequent renders.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// EnableColor restores styling using the profile detected from the environment.
func EnableColor() {
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
}

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders s as a success marker.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s as a warning marker.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s as a failure marker.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted renders secondary text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderHeader renders a section title.
func RenderHeader(s string) string { return headerStyle.Render(s) }

// RenderOnline renders a connectivity badge.
func RenderOnline(online bool) string {
	if online {
		return RenderPass("online")
	}
	return RenderWarn("offline")
}

// KeyValue renders aligned "key: value" rows. Keys are padded to the
// widest key.
func KeyValue(rows [][2]string) string {
	width := 0
	for _, r := range rows {
		if w := lipgloss.Width(r[0]); w > width {
			width = w
		}
	}
	var b strings.Builder
	for _, r := range rows {
		pad := strings.Repeat(" ", width-lipgloss.Width(r[0]))
		fmt.Fprintf(&b, "  %s:%s %s\n", RenderMuted(r[0]), pad, r[1])
	}
	return b.String()
}
