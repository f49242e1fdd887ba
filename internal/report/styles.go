package report

import "github.com/charmbracelet/lipgloss"

var (
	// Colors meet WCAG AA contrast on dark terminals.
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
	keyStyle   = lipgloss.NewStyle().Bold(true)

	statusStyles = map[string]lipgloss.Style{
		"completed": lipgloss.NewStyle().Foreground(successColor),
		"failed":    lipgloss.NewStyle().Bold(true).Foreground(errorColor),
		"skipped":   lipgloss.NewStyle().Foreground(warningColor),
		"pending":   lipgloss.NewStyle().Foreground(mutedColor),
	}
)

// painter applies styles only when color output is enabled.
type painter struct {
	color bool
}

func (p painter) paint(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

func (p painter) title(s string) string { return p.paint(titleStyle, s) }
func (p painter) muted(s string) string { return p.paint(mutedStyle, s) }
func (p painter) key(s string) string   { return p.paint(keyStyle, s) }

func (p painter) status(status, s string) string {
	style, ok := statusStyles[status]
	if !ok {
		return s
	}
	return p.paint(style, s)
}
