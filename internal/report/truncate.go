package report

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const ellipsis = "..."

// fit truncates s to width visible columns, ending it with "..." when cut.
// ANSI styling and wide characters are measured by their rendered width.
// A width of zero or less returns s unchanged.
func fit(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	if width <= len(ellipsis) {
		return ellipsis[:width]
	}
	return ansi.Truncate(s, width, ellipsis)
}
