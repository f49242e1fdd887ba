package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Iron-Ham/autodev/internal/errors"
	"github.com/Iron-Ham/autodev/internal/event"
	"github.com/Iron-Ham/autodev/internal/logging"
)

// Scheduler runs a graph of work units level by level with bounded
// parallelism, per-attempt timeouts and retries with exponential backoff.
// It is safe for concurrent use; Run calls are serialized.
type Scheduler struct {
	mu      sync.Mutex
	units   map[string]*Unit
	order   []string // registration order
	running bool

	maxParallel int
	defaults    Limits
	logger      *logging.Logger
	bus         *event.Bus
	jitter      func() float64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxParallel sets the admission cap: the maximum number of unit bodies
// executing at once across the whole run. Values below 1 are treated as 1.
func WithMaxParallel(n int) Option {
	return func(s *Scheduler) {
		if n < 1 {
			n = 1
		}
		s.maxParallel = n
	}
}

// WithDefaults sets the limits used for UnitSpec fields left at zero.
func WithDefaults(l Limits) Option {
	return func(s *Scheduler) {
		s.defaults = l
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logging.OrNop(l)
	}
}

// WithBus sets the event bus lifecycle events are published on.
func WithBus(b *event.Bus) Option {
	return func(s *Scheduler) {
		s.bus = b
	}
}

// WithJitter replaces the uniform [0, 1) source used for backoff jitter.
func WithJitter(fn func() float64) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.jitter = fn
		}
	}
}

// New creates a Scheduler with no units.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		units:       make(map[string]*Unit),
		maxParallel: DefaultMaxParallel,
		defaults:    DefaultLimits(),
		logger:      logging.NopLogger(),
		jitter:      rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddTask registers a work unit. It fails with a ValidationError when the id
// is empty or already registered, when Func is nil, or while a run is in
// progress. Dependencies may name units registered later; unknown ids are
// reported by Run.
func (s *Scheduler) AddTask(spec UnitSpec) error {
	if strings.TrimSpace(spec.ID) == "" {
		return errors.NewValidationError("unit id cannot be empty").WithField("id")
	}
	if spec.Func == nil {
		return errors.NewValidationError("unit function cannot be nil").WithField("func").WithValue(spec.ID)
	}

	deps := make([]string, 0, len(spec.DependsOn))
	seen := make(map[string]bool, len(spec.DependsOn))
	for _, dep := range spec.DependsOn {
		if dep == spec.ID {
			return errors.NewValidationError("unit cannot depend on itself").WithField("depends_on").WithValue(dep)
		}
		if seen[dep] {
			continue
		}
		seen[dep] = true
		deps = append(deps, dep)
	}

	name := spec.Name
	if name == "" {
		name = spec.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.NewValidationError("cannot add units while a run is in progress").WithValue(spec.ID)
	}
	if _, exists := s.units[spec.ID]; exists {
		return errors.NewValidationError("unit id already registered").
			WithField("id").WithValue(spec.ID).WithCause(errors.ErrDuplicateUnit)
	}

	s.units[spec.ID] = &Unit{
		ID:        spec.ID,
		Name:      name,
		DependsOn: deps,
		Limits:    spec.limits(s.defaults),
		fn:        spec.Func,
		Status:    StatusPending,
	}
	s.order = append(s.order, spec.ID)

	s.logger.Debug("unit registered", "unit_id", spec.ID, "depends_on", deps)
	return nil
}

// Len returns the number of registered units.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Unit returns a snapshot of the unit with the given id.
func (s *Scheduler) Unit(id string) (UnitSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[id]
	if !ok {
		return UnitSnapshot{}, false
	}
	return u.snapshot(), true
}

// Units returns snapshots of every unit in registration order.
func (s *Scheduler) Units() []UnitSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]UnitSnapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.units[id].snapshot())
	}
	return out
}

// Validate checks that every dependency exists and the graph is acyclic.
func (s *Scheduler) Validate() error {
	_, err := s.Levels()
	return err
}

// Levels returns the level decomposition of the registered graph without
// executing anything. Units in a level have no edges between them.
func (s *Scheduler) Levels() ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newGraph(s.order, s.units).plan(s.units)
}

// run holds the state shared by the units of one Run call.
type run struct {
	id     string
	logger *logging.Logger
	sem    *semaphore.Weighted
}

// Run validates the graph and executes every unit that has not completed,
// level by level. A GraphError aborts before any unit executes.
//
// A failed dependency causes its dependents to be skipped. With failFast,
// the run stops after the first level containing a failure; later units stay
// pending. Cancelling ctx stops the run: in-flight attempts end failed with
// ErrCanceled, unstarted units stay pending, and Run returns the summary
// together with ctx.Err().
//
// Run may be called again after it returns. Completed units are kept; every
// other unit is evaluated again from its current state, so a unit that
// exhausted its retries gets exactly one more attempt.
func (s *Scheduler) Run(ctx context.Context, failFast bool) (*RunSummary, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, errors.NewValidationError("scheduler is already running")
	}
	levels, err := newGraph(s.order, s.units).plan(s.units)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("invalid task graph", "error", err)
		return nil, err
	}
	s.running = true
	total := len(s.order)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	r := &run{
		id:  uuid.NewString(),
		sem: semaphore.NewWeighted(int64(s.maxParallel)),
	}
	r.logger = s.logger.WithRun(r.id)
	r.logger.Info("run started",
		"levels", len(levels),
		"units", total,
		"max_parallel", s.maxParallel,
		"fail_fast", failFast)

	start := time.Now()
	stopped := false
	for i, level := range levels {
		if ctx.Err() != nil {
			stopped = true
			break
		}
		if failed := s.runLevel(ctx, r, i, level); failed && failFast {
			r.logger.Error("fail-fast enabled, stopping run", "graph_level", i)
			stopped = true
			break
		}
	}
	if ctx.Err() != nil {
		stopped = true
	}

	s.mu.Lock()
	summary := s.summarize(r.id)
	s.mu.Unlock()

	r.logger.Info("run finished",
		"completed", summary.Completed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"pending", len(summary.Tasks.Pending),
		"duration", time.Since(start).String())
	s.publish(event.NewRunCompletedEvent(r.id, summary.Total, summary.Completed, summary.Failed,
		summary.Skipped, len(summary.Tasks.Pending), time.Since(start), stopped))

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// runLevel skips units whose dependencies did not complete, runs the rest
// concurrently and waits for all of them to settle. It reports whether any
// unit of the level ended failed.
func (s *Scheduler) runLevel(ctx context.Context, r *run, index int, ids []string) bool {
	logger := r.logger.WithLevel(index)

	var runnable []*Unit
	var skipped []event.Event
	s.mu.Lock()
	for _, id := range ids {
		u := s.units[id]
		if u.Status == StatusCompleted {
			continue
		}
		if dep, blocked := s.blockingDependency(u); blocked {
			u.Status = StatusSkipped
			u.Err = errors.NewSkippedError(u.ID, dep)
			u.EndedAt = time.Now()
			logger.Warn("skipping unit", "unit_id", u.ID, "dependency", dep)
			skipped = append(skipped, event.NewUnitSkippedEvent(r.id, u.ID, dep))
			continue
		}
		runnable = append(runnable, u)
	}
	s.mu.Unlock()

	for _, e := range skipped {
		s.publish(e)
	}

	if len(runnable) == 0 {
		return false
	}

	runnableIDs := make([]string, len(runnable))
	for i, u := range runnable {
		runnableIDs[i] = u.ID
	}
	logger.Info("level started", "units", runnableIDs)
	s.publish(event.NewLevelStartedEvent(r.id, index, runnableIDs))

	var g errgroup.Group
	for _, u := range runnable {
		g.Go(func() error {
			s.executeUnit(ctx, r, index, u)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range runnable {
		if u.Status == StatusFailed {
			return true
		}
	}
	return false
}

// blockingDependency returns the first dependency of u that did not
// complete. The caller must hold s.mu.
func (s *Scheduler) blockingDependency(u *Unit) (string, bool) {
	for _, dep := range u.DependsOn {
		if s.units[dep].Status != StatusCompleted {
			return dep, true
		}
	}
	return "", false
}

// executeUnit drives one unit through its attempts until it reaches a
// terminal state, or leaves it pending when the run is cancelled before an
// attempt could be admitted.
func (s *Scheduler) executeUnit(ctx context.Context, r *run, level int, u *Unit) {
	logger := r.logger.WithLevel(level).WithUnit(u.ID)

	for attempted := false; ; attempted = true {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			if attempted {
				s.fail(r, u, errors.Wrapf(errors.ErrCanceled, "unit %s", u.ID), logger)
			}
			return
		}

		s.mu.Lock()
		u.Status = StatusRunning
		u.StartedAt = time.Now()
		u.Attempts++
		attempt := u.Attempts
		limits := u.Limits
		fn := u.fn
		s.mu.Unlock()

		logger.Info("executing unit",
			"attempt", attempt,
			"max_attempts", limits.MaxRetries+1)
		s.publish(event.NewUnitStartedEvent(r.id, u.ID, level, attempt))

		result, err := s.invoke(ctx, r.sem, fn, limits.Timeout)
		if err == nil {
			s.mu.Lock()
			u.Status = StatusCompleted
			u.Result = result
			u.Err = nil
			u.EndedAt = time.Now()
			elapsed := u.EndedAt.Sub(u.StartedAt)
			s.mu.Unlock()

			logger.Info("unit completed", "attempt", attempt, "duration", elapsed.String())
			s.publish(event.NewUnitCompletedEvent(r.id, u.ID, attempt, elapsed, result))
			return
		}

		failure := s.classify(ctx, u.ID, attempt, limits.Timeout, err)

		s.mu.Lock()
		u.RetryCount++
		u.Err = failure
		retryCount := u.RetryCount
		if !errors.IsRetryable(failure) || retryCount > limits.MaxRetries {
			s.mu.Unlock()
			s.fail(r, u, failure, logger)
			return
		}
		u.Status = StatusPending
		s.mu.Unlock()

		delay := Backoff(limits.BaseBackoff, limits.MaxBackoff, retryCount-1, s.jitter())
		logger.Warn("unit attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", limits.MaxRetries+1,
			"kind", errors.Kind(failure),
			"error", failure.Error(),
			"backoff", delay.String())
		s.publish(event.NewUnitRetryingEvent(r.id, u.ID, attempt, delay, failure.Error()))

		if err := sleep(ctx, delay); err != nil {
			s.fail(r, u, errors.Wrapf(errors.ErrCanceled, "unit %s", u.ID), logger)
			return
		}
	}
}

// fail marks u failed with err and publishes the failure.
func (s *Scheduler) fail(r *run, u *Unit, err error, logger *logging.Logger) {
	s.mu.Lock()
	u.Status = StatusFailed
	u.Err = err
	u.EndedAt = time.Now()
	attempts := u.Attempts
	s.mu.Unlock()

	logger.Error("unit failed",
		"attempts", attempts,
		"kind", errors.Kind(err),
		"error", err.Error())
	s.publish(event.NewUnitFailedEvent(r.id, u.ID, attempts, errors.Kind(err), err.Error()))
}

// invoke runs fn once under an optional deadline. The admission slot is
// released when fn returns, even if the attempt was abandoned at its
// deadline, so the cap always bounds executing bodies.
func (s *Scheduler) invoke(ctx context.Context, sem *semaphore.Weighted, fn WorkFunc, timeout time.Duration) (any, error) {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer sem.Release(1)
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		result, err := fn(attemptCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		return nil, attemptCtx.Err()
	}
}

// classify maps an attempt error onto the error taxonomy: run cancellation,
// per-attempt timeout, or a unit failure.
func (s *Scheduler) classify(ctx context.Context, unitID string, attempt int, timeout time.Duration, err error) error {
	switch {
	case ctx.Err() != nil:
		return errors.Wrapf(errors.ErrCanceled, "unit %s", unitID)
	case errors.Is(err, context.DeadlineExceeded) && timeout > 0:
		return errors.NewTimeoutError(fmt.Sprintf("unit %s", unitID), timeout).WithCause(err)
	default:
		return errors.NewUnitError(unitID, attempt, err)
	}
}

func (s *Scheduler) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}
