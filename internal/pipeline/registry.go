package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/autodev/internal/contextstore"
	"github.com/Iron-Ham/autodev/internal/errors"
	"github.com/Iron-Ham/autodev/internal/logging"
)

// StepFunc implements a step kind.
type StepFunc func(ctx context.Context, env StepEnv) (any, error)

// StepEnv is what a step function sees of its surroundings.
type StepEnv struct {
	StepID string
	Agent  string
	// Attempt is the 1-based attempt number of this invocation.
	Attempt int
	Params  map[string]any
	Store   *contextstore.Store
	Logger  *logging.Logger
	// OutputDir is the agent's output directory, or "" when the plan has none.
	OutputDir string
}

// String returns params[key] as a string, or def when absent.
func (e StepEnv) String(key, def string) string {
	v, ok := e.Params[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns params[key] as an int, or def when absent or not a number.
func (e StepEnv) Int(key string, def int) int {
	switch v := e.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Bool returns params[key] as a bool, or def when absent.
func (e StepEnv) Bool(key string, def bool) bool {
	if v, ok := e.Params[key].(bool); ok {
		return v
	}
	return def
}

// Duration returns params[key] parsed as a duration ("250ms", "2s"), or def
// when absent. A bare number is read as milliseconds.
func (e StepEnv) Duration(key string, def time.Duration) (time.Duration, error) {
	switch v := e.Params[key].(type) {
	case nil:
		return def, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, errors.NewValidationError("invalid duration").
				WithField("params." + key).WithValue(v).WithCause(err)
		}
		return d, nil
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return time.Duration(v * float64(time.Millisecond)), nil
	default:
		return 0, errors.NewValidationError("invalid duration").WithField("params." + key).WithValue(v)
	}
}

// Registry maps step kinds to their implementations. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]StepFunc
}

// NewRegistry creates a registry holding the built-in step kinds.
func NewRegistry() *Registry {
	r := &Registry{steps: make(map[string]StepFunc)}
	registerBuiltins(r)
	return r
}

// Register adds or replaces a step kind.
func (r *Registry) Register(kind string, fn StepFunc) error {
	if kind == "" {
		return errors.NewValidationError("step kind cannot be empty").WithField("kind")
	}
	if fn == nil {
		return errors.NewValidationError("step function cannot be nil").WithField("func").WithValue(kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[kind] = fn
	return nil
}

// Lookup returns the implementation of kind.
func (r *Registry) Lookup(kind string) (StepFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.steps[kind]
	return fn, ok
}

// Kinds returns the registered kinds in lexical order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.steps))
	for k := range r.steps {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
