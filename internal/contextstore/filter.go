package contextstore

import (
	"sort"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/autodev/internal/errors"
)

// KeyFilter selects data keys by glob pattern. '*' matches any run of
// characters except '.', so "step.*" matches "step.build" but not
// "step.build.output"; '**' crosses separators.
type KeyFilter struct {
	patterns []glob.Glob
}

// NewKeyFilter compiles the given patterns. No patterns matches every key.
func NewKeyFilter(patterns ...string) (*KeyFilter, error) {
	f := &KeyFilter{}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, errors.NewValidationError("invalid key pattern").
				WithField("keys").WithValue(p).WithCause(err)
		}
		f.patterns = append(f.patterns, g)
	}
	return f, nil
}

// Match reports whether key matches any pattern.
func (f *KeyFilter) Match(key string) bool {
	if len(f.patterns) == 0 {
		return true
	}
	for _, g := range f.patterns {
		if g.Match(key) {
			return true
		}
	}
	return false
}

// Apply returns the matching subset of data.
func (f *KeyFilter) Apply(data map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range data {
		if f.Match(k) {
			out[k] = v
		}
	}
	return out
}

// SortedKeys returns the keys of data in lexical order.
func SortedKeys(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TailEvents returns the last n events, or all of them when n <= 0 or
// n exceeds the log length.
func TailEvents(events []Event, n int) []Event {
	if n <= 0 || n >= len(events) {
		return events
	}
	return events[len(events)-n:]
}
