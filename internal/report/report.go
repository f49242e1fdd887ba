// Package report renders run summaries, level plans and store contents for
// the terminal.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/Iron-Ham/autodev/internal/contextstore"
	"github.com/Iron-Ham/autodev/internal/scheduler"
)

// Options controls rendering.
type Options struct {
	// Color enables lipgloss styling. Use IsTerminal to decide.
	Color bool
	// Width truncates unit and event lines to this many columns. Zero
	// leaves lines whole.
	Width int
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of f, or fallback when f is not a
// terminal.
func Width(f *os.File, fallback int) int {
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
		return w
	}
	return fallback
}

type row struct {
	status string
	id     string
	detail string
}

// Summary writes a human-readable listing of a run summary: a header line
// with the counts, then one line per unit grouped by outcome.
func Summary(w io.Writer, s *scheduler.RunSummary, opts Options) error {
	p := painter{color: opts.Color}

	var rows []row
	for _, t := range s.Tasks.Completed {
		rows = append(rows, row{"completed", t.ID, nameDetail(t)})
	}
	for _, t := range s.Tasks.Failed {
		rows = append(rows, row{"failed", t.ID, t.Error})
	}
	for _, t := range s.Tasks.Skipped {
		rows = append(rows, row{"skipped", t.ID, t.Error})
	}
	for _, t := range s.Tasks.Pending {
		rows = append(rows, row{"pending", t.ID, nameDetail(t)})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", p.title("Run"), p.muted(s.RunID))
	fmt.Fprintf(&b, "%d/%d completed (%.0f%%), %d failed, %d skipped, %d pending\n",
		s.Completed, s.Total, s.SuccessRate*100, s.Failed, s.Skipped, len(s.Tasks.Pending))

	statusWidth, idWidth := 0, 0
	for _, r := range rows {
		statusWidth = max(statusWidth, len(r.status))
		idWidth = max(idWidth, len(r.id))
	}
	for _, r := range rows {
		status := p.status(r.status, fmt.Sprintf("%-*s", statusWidth, r.status))
		line := fmt.Sprintf("  %s  %-*s", status, idWidth, r.id)
		if r.detail != "" {
			line += "  " + p.muted(r.detail)
		}
		b.WriteString(fit(strings.TrimRight(line, " "), opts.Width) + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func nameDetail(t scheduler.TaskRef) string {
	if t.Name == t.ID {
		return ""
	}
	return t.Name
}

// SummaryJSON writes the summary as indented JSON.
func SummaryJSON(w io.Writer, s *scheduler.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// Levels writes a level decomposition, one level per line.
func Levels(w io.Writer, levels [][]string, opts Options) error {
	p := painter{color: opts.Color}

	var b strings.Builder
	for i, ids := range levels {
		fmt.Fprintf(&b, "%s %s\n", p.key(fmt.Sprintf("level %d:", i)), strings.Join(ids, ", "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Context writes the store's version, the data entries in key order and
// the given events.
func Context(w io.Writer, store *contextstore.Store, data map[string]any, events []contextstore.Event, opts Options) error {
	p := painter{color: opts.Color}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", p.title("Context"), store.ProjectName(),
		p.muted(fmt.Sprintf("(version %d, %d keys, %d events)", store.Version(), len(store.Data()), len(store.Events()))))

	if len(data) > 0 {
		b.WriteString(p.key("Data") + "\n")
		for _, k := range contextstore.SortedKeys(data) {
			b.WriteString(fit(fmt.Sprintf("  %s = %s", k, compact(data[k])), opts.Width) + "\n")
		}
	}

	if len(events) > 0 {
		b.WriteString(p.key("Events") + "\n")
		for _, e := range events {
			line := fmt.Sprintf("  %s %s %s %s",
				p.muted(fmt.Sprintf("v%d", e.Version)),
				p.muted(e.Timestamp.Format("15:04:05")),
				e.Kind,
				compact(e.Payload))
			b.WriteString(fit(line, opts.Width) + "\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// compact renders a value as single-line JSON, falling back to %v.
func compact(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
