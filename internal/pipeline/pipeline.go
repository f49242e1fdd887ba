package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"

	"github.com/Iron-Ham/autodev/internal/contextstore"
	"github.com/Iron-Ham/autodev/internal/errors"
	"github.com/Iron-Ham/autodev/internal/event"
	"github.com/Iron-Ham/autodev/internal/logging"
	"github.com/Iron-Ham/autodev/internal/scheduler"
)

// Event kinds the orchestrator records into the context store.
const (
	EventTaskComplete = "task_complete"
	EventTaskFailed   = "task_failed"
	EventTaskSkipped  = "task_skipped"

	// LastRunKey holds the summary of the most recent run.
	LastRunKey = "last_run"
)

// Orchestrator turns plans into scheduler runs against a context store.
type Orchestrator struct {
	registry    *Registry
	logger      *logging.Logger
	bus         *event.Bus
	maxParallel int
	defaults    scheduler.Limits
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRegistry sets the step registry. The default holds the built-in kinds.
func WithRegistry(r *Registry) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.OrNop(l)
	}
}

// WithBus sets the event bus scheduler events are published on, so callers
// can observe progress. By default each orchestrator has a private bus.
func WithBus(b *event.Bus) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.bus = b
		}
	}
}

// WithMaxParallel sets the scheduler admission cap.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) {
		o.maxParallel = n
	}
}

// WithDefaults sets the limits steps inherit when neither the step nor the
// plan defaults override them.
func WithDefaults(l scheduler.Limits) Option {
	return func(o *Orchestrator) {
		o.defaults = l
	}
}

// New creates an Orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:    NewRegistry(),
		logger:      logging.NopLogger(),
		maxParallel: scheduler.DefaultMaxParallel,
		defaults:    scheduler.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bus == nil {
		o.bus = event.NewBus(event.WithLogger(o.logger))
	}
	return o
}

// Bus returns the bus scheduler events are published on.
func (o *Orchestrator) Bus() *event.Bus {
	return o.bus
}

// Registry returns the step registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Build registers one scheduler unit per plan step. Step functions run
// against store. Unknown step kinds are reported here; dependency and cycle
// errors are reported by the scheduler's Run or Levels.
func (o *Orchestrator) Build(plan *Plan, store *contextstore.Store) (*scheduler.Scheduler, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	sched := scheduler.New(
		scheduler.WithMaxParallel(o.maxParallel),
		scheduler.WithDefaults(plan.Defaults.over(o.defaults)),
		scheduler.WithLogger(o.logger),
		scheduler.WithBus(o.bus),
	)

	for i := range plan.Steps {
		step := &plan.Steps[i]
		fn, ok := o.registry.Lookup(step.Kind)
		if !ok {
			return nil, errors.NewValidationError("unknown step kind").
				WithField("steps." + step.ID + ".kind").WithValue(step.Kind)
		}

		spec := scheduler.UnitSpec{
			ID:        step.ID,
			Name:      step.Name,
			DependsOn: step.DependsOn,
			Func:      o.bind(step, fn, plan.OutputDir, store),
		}
		step.StepLimits.apply(&spec)
		if err := sched.AddTask(spec); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// bind closes a step function over its environment. Each invocation is one
// attempt and sees its attempt number.
func (o *Orchestrator) bind(step *Step, fn StepFunc, outputDir string, store *contextstore.Store) scheduler.WorkFunc {
	agent := step.AgentName()
	env := StepEnv{
		StepID: step.ID,
		Agent:  agent,
		Params: step.Params,
		Store:  store,
		Logger: o.logger.WithUnit(step.ID),
	}
	if outputDir != "" {
		env.OutputDir = filepath.Join(outputDir, agent)
	}

	var attempts atomic.Int64
	return func(ctx context.Context) (any, error) {
		e := env
		e.Attempt = int(attempts.Add(1))
		return fn(ctx, e)
	}
}

// Run builds the plan and executes it. Unit outcomes are appended to the
// store's event log as they happen, and the summary is stored under
// "last_run". The store is not saved; callers checkpoint with Save.
//
// A graph error returns a nil summary and executes nothing. Cancellation
// returns the partial summary together with ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, plan *Plan, store *contextstore.Store, failFast bool) (*scheduler.RunSummary, error) {
	sched, err := o.Build(plan, store)
	if err != nil {
		return nil, err
	}

	rec := &recorder{store: store}
	subs := []string{
		o.bus.Subscribe(event.TypeUnitCompleted, rec.completed),
		o.bus.Subscribe(event.TypeUnitFailed, rec.failed),
		o.bus.Subscribe(event.TypeUnitSkipped, rec.skipped),
	}
	defer func() {
		for _, id := range subs {
			o.bus.Unsubscribe(id)
		}
	}()

	o.logger.Info("plan started", "plan", plan.Name, "steps", len(plan.Steps), "fail_fast", failFast)
	summary, runErr := sched.Run(ctx, failFast)
	if summary == nil {
		return nil, runErr
	}

	store.Set(LastRunKey, summaryRecord(plan.Name, summary))
	o.logger.Info("plan finished",
		"plan", plan.Name,
		"run_id", summary.RunID,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
	return summary, runErr
}

// recorder mirrors unit outcomes into the store.
type recorder struct {
	store *contextstore.Store
}

func (r *recorder) completed(e event.Event) {
	ev, ok := e.(event.UnitCompletedEvent)
	if !ok {
		return
	}
	r.store.AppendEvent(EventTaskComplete, map[string]any{
		"task":        ev.UnitID,
		"run_id":      ev.RunID,
		"attempts":    float64(ev.Attempts),
		"duration_ms": float64(ev.Duration.Milliseconds()),
	})
}

func (r *recorder) failed(e event.Event) {
	ev, ok := e.(event.UnitFailedEvent)
	if !ok {
		return
	}
	r.store.AppendEvent(EventTaskFailed, map[string]any{
		"task":     ev.UnitID,
		"run_id":   ev.RunID,
		"attempts": float64(ev.Attempts),
		"kind":     ev.Kind,
		"error":    ev.Error,
	})
}

func (r *recorder) skipped(e event.Event) {
	ev, ok := e.(event.UnitSkippedEvent)
	if !ok {
		return
	}
	r.store.AppendEvent(EventTaskSkipped, map[string]any{
		"task":       ev.UnitID,
		"run_id":     ev.RunID,
		"dependency": ev.Dependency,
	})
}

// summaryRecord converts a summary to the JSON shape it has after a store
// round trip, so in-memory and reloaded values compare equal.
func summaryRecord(planName string, summary *scheduler.RunSummary) map[string]any {
	record := map[string]any{}
	raw, err := json.Marshal(summary)
	if err == nil {
		_ = json.Unmarshal(raw, &record)
	}
	record["plan"] = planName
	return record
}
