package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/autodev/internal/errors"
	"github.com/Iron-Ham/autodev/internal/event"
)

// fastLimits keeps retry tests quick.
var fastLimits = Limits{
	MaxRetries:  3,
	Timeout:     5 * time.Second,
	BaseBackoff: time.Millisecond,
	MaxBackoff:  5 * time.Millisecond,
}

func newTestScheduler(opts ...Option) *Scheduler {
	return New(append([]Option{WithDefaults(fastLimits), WithJitter(func() float64 { return 0 })}, opts...)...)
}

func sleepFunc(d time.Duration) WorkFunc {
	return func(ctx context.Context) (any, error) {
		select {
		case <-time.After(d):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func alwaysFail(calls *atomic.Int32) WorkFunc {
	return func(context.Context) (any, error) {
		calls.Add(1)
		return nil, fmt.Errorf("boom")
	}
}

func unit(t *testing.T, s *Scheduler, id string) UnitSnapshot {
	t.Helper()
	u, ok := s.Unit(id)
	if !ok {
		t.Fatalf("unit %q not found", id)
	}
	return u
}

func ids(refs []TaskRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.ID)
	}
	return out
}

func TestAddTask_Validation(t *testing.T) {
	tests := []struct {
		name string
		spec UnitSpec
	}{
		{"empty id", UnitSpec{ID: "", Func: noop}},
		{"blank id", UnitSpec{ID: "  ", Func: noop}},
		{"nil func", UnitSpec{ID: "a"}},
		{"self dependency", UnitSpec{ID: "a", Func: noop, DependsOn: []string{"a"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().AddTask(tt.spec)
			if !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("AddTask() = %v, want validation error", err)
			}
		})
	}
}

func TestAddTask_DuplicateRejected(t *testing.T) {
	s := New()
	mustAdd(t, s, UnitSpec{ID: "a", Name: "first"})

	err := s.AddTask(UnitSpec{ID: "a", Name: "second", Func: noop})
	if !errors.Is(err, errors.ErrDuplicateUnit) {
		t.Fatalf("AddTask() = %v, want ErrDuplicateUnit", err)
	}
	var verr *errors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error %T should be a *ValidationError", err)
	}

	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
	if got := unit(t, s, "a").Name; got != "first" {
		t.Errorf("duplicate overwrote the unit: name = %q", got)
	}
}

func TestAddTask_DefaultsAndCopies(t *testing.T) {
	s := New()
	deps := []string{"x", "y", "x"}
	mustAdd(t, s, UnitSpec{ID: "x"})
	mustAdd(t, s, UnitSpec{ID: "y"})
	mustAdd(t, s, UnitSpec{ID: "a", DependsOn: deps})
	deps[0] = "mutated"

	u := unit(t, s, "a")
	if u.Name != "a" {
		t.Errorf("Name = %q, want id fallback", u.Name)
	}
	if diff := cmp.Diff([]string{"x", "y"}, u.DependsOn); diff != "" {
		t.Errorf("DependsOn mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(DefaultLimits(), u.Limits); diff != "" {
		t.Errorf("Limits mismatch (-want +got):\n%s", diff)
	}
	if u.Status != StatusPending {
		t.Errorf("Status = %s, want pending", u.Status)
	}
}

func TestUnitSpecLimits(t *testing.T) {
	defaults := DefaultLimits()
	tests := []struct {
		name string
		spec UnitSpec
		want Limits
	}{
		{"zero uses defaults", UnitSpec{}, defaults},
		{
			"explicit values",
			UnitSpec{MaxRetries: 1, Timeout: time.Second, BaseBackoff: time.Millisecond, MaxBackoff: time.Second},
			Limits{MaxRetries: 1, Timeout: time.Second, BaseBackoff: time.Millisecond, MaxBackoff: time.Second},
		},
		{
			"negative disables",
			UnitSpec{MaxRetries: NoRetries, Timeout: -1, BaseBackoff: -1, MaxBackoff: -1},
			Limits{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.spec.limits(defaults)); diff != "" {
				t.Errorf("limits() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRun_ParallelFanIn(t *testing.T) {
	s := newTestScheduler(WithMaxParallel(4))
	mustAdd(t, s, UnitSpec{ID: "A", Func: sleepFunc(100 * time.Millisecond)})
	mustAdd(t, s, UnitSpec{ID: "B", Func: sleepFunc(100 * time.Millisecond)})
	mustAdd(t, s, UnitSpec{ID: "C", Func: sleepFunc(10 * time.Millisecond), DependsOn: []string{"A", "B"}})

	summary, err := s.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Completed != 3 || summary.Total != 3 || summary.SuccessRate != 1 {
		t.Errorf("summary = %+v, want 3/3 completed", summary)
	}

	a, b, c := unit(t, s, "A"), unit(t, s, "B"), unit(t, s, "C")
	if c.StartedAt.Before(a.EndedAt) || c.StartedAt.Before(b.EndedAt) {
		t.Errorf("C started at %v before its dependencies ended (A %v, B %v)", c.StartedAt, a.EndedAt, b.EndedAt)
	}
	if !a.StartedAt.Before(b.EndedAt) || !b.StartedAt.Before(a.EndedAt) {
		t.Errorf("A [%v, %v] and B [%v, %v] did not overlap", a.StartedAt, a.EndedAt, b.StartedAt, b.EndedAt)
	}
	if a.Result != "done" {
		t.Errorf("A result = %v, want done", a.Result)
	}
}

func TestRun_StartAfterDependenciesEnd(t *testing.T) {
	s := newTestScheduler(WithMaxParallel(3))
	mustAdd(t, s, UnitSpec{ID: "a", Func: sleepFunc(15 * time.Millisecond)})
	mustAdd(t, s, UnitSpec{ID: "b", Func: sleepFunc(5 * time.Millisecond), DependsOn: []string{"a"}})
	mustAdd(t, s, UnitSpec{ID: "c", Func: sleepFunc(20 * time.Millisecond)})
	mustAdd(t, s, UnitSpec{ID: "d", Func: sleepFunc(5 * time.Millisecond), DependsOn: []string{"b", "c"}})
	mustAdd(t, s, UnitSpec{ID: "e", Func: sleepFunc(1 * time.Millisecond), DependsOn: []string{"a"}})
	mustAdd(t, s, UnitSpec{ID: "f", Func: sleepFunc(1 * time.Millisecond), DependsOn: []string{"d", "e"}})

	if _, err := s.Run(context.Background(), false); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, u := range s.Units() {
		if u.Status != StatusCompleted {
			t.Errorf("%s status = %s, want completed", u.ID, u.Status)
		}
		for _, dep := range u.DependsOn {
			d := unit(t, s, dep)
			if u.StartedAt.Before(d.EndedAt) {
				t.Errorf("%s started before dependency %s ended", u.ID, dep)
			}
		}
	}
}

func TestRun_CycleExecutesNothing(t *testing.T) {
	var calls atomic.Int32
	fn := func(context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	}

	s := newTestScheduler()
	mustAdd(t, s, UnitSpec{ID: "A", Func: fn, DependsOn: []string{"C"}})
	mustAdd(t, s, UnitSpec{ID: "B", Func: fn, DependsOn: []string{"A"}})
	mustAdd(t, s, UnitSpec{ID: "C", Func: fn, DependsOn: []string{"B"}})
	mustAdd(t, s, UnitSpec{ID: "free", Func: fn})

	summary, err := s.Run(context.Background(), false)
	if !errors.Is(err, errors.ErrInvalidGraph) {
		t.Fatalf("Run() error = %v, want InvalidGraph", err)
	}
	if summary != nil {
		t.Errorf("Run() summary = %+v, want nil", summary)
	}
	if calls.Load() != 0 {
		t.Errorf("%d units executed, want 0", calls.Load())
	}
	for _, u := range s.Units() {
		if u.Status != StatusPending {
			t.Errorf("%s status = %s, want pending", u.ID, u.Status)
		}
	}
}

func TestRun_UnknownDependencyExecutesNothing(t *testing.T) {
	var calls atomic.Int32
	s := newTestScheduler()
	mustAdd(t, s, UnitSpec{ID: "a", Func: func(context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	}})
	mustAdd(t, s, UnitSpec{ID: "b", DependsOn: []string{"missing"}})

	_, err := s.Run(context.Background(), false)
	if !errors.Is(err, errors.ErrInvalidGraph) || !errors.Is(err, errors.ErrUnknownDependency) {
		t.Fatalf("Run() error = %v, want unknown dependency graph error", err)
	}
	if calls.Load() != 0 {
		t.Errorf("%d units executed, want 0", calls.Load())
	}
}

func TestRun_RetriesExhausted(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("max_retries=%d", maxRetries), func(t *testing.T) {
			spec := UnitSpec{ID: "u", MaxRetries: maxRetries}
			if maxRetries == 0 {
				spec.MaxRetries = NoRetries
			}
			var calls atomic.Int32
			spec.Func = alwaysFail(&calls)

			s := newTestScheduler()
			mustAdd(t, s, spec)

			summary, err := s.Run(context.Background(), false)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if got := int(calls.Load()); got != maxRetries+1 {
				t.Errorf("attempted %d times, want %d", got, maxRetries+1)
			}
			u := unit(t, s, "u")
			if u.Status != StatusFailed {
				t.Errorf("status = %s, want failed", u.Status)
			}
			if u.RetryCount != maxRetries+1 || u.Attempts != maxRetries+1 {
				t.Errorf("RetryCount = %d, Attempts = %d, want %d", u.RetryCount, u.Attempts, maxRetries+1)
			}
			if errors.Kind(u.Err) != errors.KindUnitFailure {
				t.Errorf("error kind = %q, want %q", errors.Kind(u.Err), errors.KindUnitFailure)
			}
			if u.EndedAt.IsZero() {
				t.Error("EndedAt should be recorded for a failed unit")
			}
			if summary.Failed != 1 || len(summary.Tasks.Failed) != 1 {
				t.Fatalf("summary = %+v, want one failure", summary)
			}
			if !strings.Contains(summary.Tasks.Failed[0].Error, "boom") {
				t.Errorf("failure error = %q, want it to mention boom", summary.Tasks.Failed[0].Error)
			}
		})
	}
}

func TestRun_SucceedsAfterTransientFailures(t *testing.T) {
	const failures = 2
	var calls atomic.Int32
	fn := func(context.Context) (any, error) {
		if calls.Add(1) <= failures {
			return nil, fmt.Errorf("transient")
		}
		return 42, nil
	}

	s := newTestScheduler()
	mustAdd(t, s, UnitSpec{ID: "flaky", Func: fn, MaxRetries: 3})

	summary, err := s.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	u := unit(t, s, "flaky")
	if u.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", u.Status)
	}
	if u.RetryCount != failures {
		t.Errorf("RetryCount = %d, want %d", u.RetryCount, failures)
	}
	if u.Result != 42 {
		t.Errorf("Result = %v, want 42", u.Result)
	}
	if u.Err != nil {
		t.Errorf("Err = %v, want nil after success", u.Err)
	}
	if summary.Completed != 1 {
		t.Errorf("Completed = %d, want 1", summary.Completed)
	}
}

func TestRun_SkipCascades(t *testing.T) {
	var calls atomic.Int32
	gRan := false

	s := newTestScheduler()
	mustAdd(t, s, UnitSpec{ID: "F", Func: alwaysFail(&calls), MaxRetries: NoRetries})
	mustAdd(t, s, UnitSpec{ID: "G", DependsOn: []string{"F"}, Func: func(context.Context) (any, error) {
		gRan = true
		return nil, nil
	}})
	mustAdd(t, s, UnitSpec{ID: "H", DependsOn: []string{"G"}})
	mustAdd(t, s, UnitSpec{ID: "ok"})

	summary, err := s.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Failed != 1 || summary.Skipped != 2 || summary.Completed != 1 {
		t.Errorf("summary counts = completed %d failed %d skipped %d, want 1/1/2",
			summary.Completed, summary.Failed, summary.Skipped)
	}
	if gRan {
		t.Error("G ran even though its dependency failed")
	}

	g := unit(t, s, "G")
	if g.Status != StatusSkipped {
		t.Errorf("G status = %s, want skipped", g.Status)
	}
	if g.Attempts != 0 || !g.StartedAt.IsZero() {
		t.Errorf("G should never have been running: attempts %d, started %v", g.Attempts, g.StartedAt)
	}
	if !errors.Is(g.Err, errors.ErrSkipped) {
		t.Errorf("G error = %v, want ErrSkipped", g.Err)
	}
	if errors.Kind(g.Err) != errors.KindSkipped {
		t.Errorf("G error kind = %q, want %q", errors.Kind(g.Err), errors.KindSkipped)
	}
	if h := unit(t, s, "H"); h.Status != StatusSkipped {
		t.Errorf("H status = %s, want skipped (cascade)", h.Status)
	}
	if diff := cmp.Diff([]string{"G", "H"}, ids(summary.Tasks.Skipped)); diff != "" {
		t.Errorf("skipped list mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_FailFast(t *testing.T) {
	var calls atomic.Int32
	laterRan := atomic.Bool{}
	later := func(context.Context) (any, error) {
		laterRan.Store(true)
		return nil, nil
	}

	s := newTestScheduler()
	mustAdd(t, s, UnitSpec{ID: "bad", Func: alwaysFail(&calls), MaxRetries: NoRetries})
	mustAdd(t, s, UnitSpec{ID: "sibling", Func: sleepFunc(10 * time.Millisecond)})
	mustAdd(t, s, UnitSpec{ID: "next", Func: later, DependsOn: []string{"sibling"}})
	mustAdd(t, s, UnitSpec{ID: "last", Func: later, DependsOn: []string{"next"}})

	summary, err := s.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if laterRan.Load() {
		t.Error("a unit in a later level ran despite fail-fast")
	}
	if sib := unit(t, s, "sibling"); sib.Status != StatusCompleted {
		t.Errorf("sibling in the failing level should settle, got %s", sib.Status)
	}
	for _, id := range []string{"next", "last"} {
		if u := unit(t, s, id); u.Status != StatusPending {
			t.Errorf("%s status = %s, want pending", id, u.Status)
		}
	}
	if diff := cmp.Diff([]string{"next", "last"}, ids(summary.Tasks.Pending)); diff != "" {
		t.Errorf("pending list mismatch (-want +got):\n%s", diff)
	}
	if summary.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", summary.Skipped)
	}
}

func TestRun_WithoutFailFastContinues(t *testing.T) {
	var calls atomic.Int32
	s := newTestScheduler()
	mustAdd(t, s, UnitSpec{ID: "bad", Func: alwaysFail(&calls), MaxRetries: NoRetries})
	mustAdd(t, s, UnitSpec{ID: "good"})
	mustAdd(t, s, UnitSpec{ID: "after", DependsOn: []string{"good"}})

	summary, err := s.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if u := unit(t, s, "after"); u.Status != StatusCompleted {
		t.Errorf("after status = %s, want completed", u.Status)
	}
	if summary.OK() {
		t.Error("OK() should be false with a failure")
	}
}

func TestRun_AdmissionCap(t *testing.T) {
	tests := []struct {
		maxParallel int
		units       int
	}{
		{1, 4},
		{2, 6},
		{3, 10},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("max_parallel=%d", tt.maxParallel), func(t *testing.T) {
			var active, peak atomic.Int32
			fn := func(context.Context) (any, error) {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(15 * time.Millisecond)
				active.Add(-1)
				return nil, nil
			}

			s := newTestScheduler(WithMaxParallel(tt.maxParallel))
			for i := range tt.units {
				mustAdd(t, s, UnitSpec{ID: fmt.Sprintf("u%d", i), Func: fn})
			}

			summary, err := s.Run(context.Background(), false)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if summary.Completed != tt.units {
				t.Errorf("Completed = %d, want %d", summary.Completed, tt.units)
			}
			if got := int(peak.Load()); got > tt.maxParallel {
				t.Errorf("peak concurrency = %d, exceeds cap %d", got, tt.maxParallel)
			}
			if tt.maxParallel > 1 && peak.Load() < 2 {
				t.Errorf("peak concurrency = %d, expected real parallelism", peak.Load())
			}
		})
	}
}

func TestRun_Timeout(t *testing.T) {
	var calls atomic.Int32
	s := newTestScheduler()
	mustAdd(t, s, UnitSpec{
		ID:         "slow",
		MaxRetries: 1,
		Timeout:    20 * time.Millisecond,
		Func: func(ctx context.Context) (any, error) {
			calls.Add(1)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	mustAdd(t, s, UnitSpec{ID: "sibling", Func: sleepFunc(5 * time.Millisecond)})

	summary, err := s.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if calls.Load() != 2 {
		t.Errorf("attempted %d times, want 2 (timeouts are retried)", calls.Load())
	}
	u := unit(t, s, "slow")
	if u.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", u.Status)
	}
	if !errors.Is(u.Err, errors.ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", u.Err)
	}
	if errors.Kind(u.Err) != errors.KindTimeout {
		t.Errorf("kind = %q, want %q", errors.Kind(u.Err), errors.KindTimeout)
	}
	if sib := unit(t, s, "sibling"); sib.Status != StatusCompleted {
		t.Errorf("sibling status = %s; a unit timeout must not affect siblings", sib.Status)
	}
	if summary.Completed != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRun_TimeoutAbandonsUncooperativeFunc(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	s := newTestScheduler(WithMaxParallel(2))
	mustAdd(t, s, UnitSpec{
		ID:         "stuck",
		MaxRetries: NoRetries,
		Timeout:    20 * time.Millisecond,
		Func: func(context.Context) (any, error) {
			<-release
			return nil, nil
		},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Run(context.Background(), false)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the unit's deadline")
	}
	if u := unit(t, s, "stuck"); !errors.Is(u.Err, errors.ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", u.Err)
	}
}

func TestRun_FatalNotRetried(t *testing.T) {
	var calls atomic.Int32
	s := newTestScheduler()
	mustAdd(t, s, UnitSpec{
		ID:         "fatal",
		MaxRetries: 5,
		Func: func(context.Context) (any, error) {
			calls.Add(1)
			return nil, errors.Fatal(fmt.Errorf("bad input"))
		},
	})

	if _, err := s.Run(context.Background(), false); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("attempted %d times, want 1", calls.Load())
	}
	u := unit(t, s, "fatal")
	if u.Status != StatusFailed || !errors.IsFatal(u.Err) {
		t.Errorf("status = %s err = %v, want failed with a fatal error", u.Status, u.Err)
	}
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	s := newTestScheduler()
	mustAdd(t, s, UnitSpec{
		ID:         "panics",
		MaxRetries: NoRetries,
		Func: func(context.Context) (any, error) {
			panic("kaboom")
		},
	})

	if _, err := s.Run(context.Background(), false); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	u := unit(t, s, "panics")
	if u.Status != StatusFailed || !strings.Contains(u.Err.Error(), "kaboom") {
		t.Errorf("status = %s err = %v, want failure mentioning panic", u.Status, u.Err)
	}
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	s := newTestScheduler(WithMaxParallel(1))
	mustAdd(t, s, UnitSpec{ID: "running", Func: func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	mustAdd(t, s, UnitSpec{ID: "queued", Func: noop})
	mustAdd(t, s, UnitSpec{ID: "later", Func: noop, DependsOn: []string{"running"}})

	go func() {
		<-started
		cancel()
	}()

	summary, err := s.Run(ctx, false)
	if err != context.Canceled {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if summary == nil {
		t.Fatal("Run() should return a summary on cancellation")
	}

	r := unit(t, s, "running")
	if r.Status != StatusFailed || !errors.Is(r.Err, errors.ErrCanceled) {
		t.Errorf("running unit: status %s err %v, want failed with ErrCanceled", r.Status, r.Err)
	}
	if errors.Kind(r.Err) != errors.KindCanceled {
		t.Errorf("kind = %q, want %q", errors.Kind(r.Err), errors.KindCanceled)
	}
	if r.Attempts != 1 {
		t.Errorf("canceled unit attempted %d times, want 1", r.Attempts)
	}
	if l := unit(t, s, "later"); l.Status != StatusPending {
		t.Errorf("later status = %s, want pending", l.Status)
	}
	if q := unit(t, s, "queued"); q.Status == StatusRunning {
		t.Errorf("queued status = %s, must not be left running", q.Status)
	}
}

func TestRun_CancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	s := New(WithDefaults(Limits{MaxRetries: 3, BaseBackoff: time.Hour, MaxBackoff: time.Hour}))
	mustAdd(t, s, UnitSpec{ID: "u", Func: func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()
		}
		return nil, fmt.Errorf("fail")
	}})

	start := time.Now()
	_, err := s.Run(ctx, false)
	if err != context.Canceled {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("backoff sleep ignored cancellation")
	}
	u := unit(t, s, "u")
	if u.Status != StatusFailed || !errors.Is(u.Err, errors.ErrCanceled) {
		t.Errorf("status %s err %v, want failed with ErrCanceled", u.Status, u.Err)
	}
	if calls.Load() != 1 {
		t.Errorf("attempted %d times, want 1", calls.Load())
	}
}

func TestRun_AlreadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestScheduler()
	mustAdd(t, s, UnitSpec{ID: "a"})

	summary, err := s.Run(ctx, false)
	if err != context.Canceled {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(summary.Tasks.Pending) != 1 {
		t.Errorf("pending = %v, want [a]", ids(summary.Tasks.Pending))
	}
}

func TestRun_RerunContinuesFromState(t *testing.T) {
	var aCalls, bCalls atomic.Int32
	bShouldFail := atomic.Bool{}
	bShouldFail.Store(true)

	s := newTestScheduler()
	mustAdd(t, s, UnitSpec{ID: "a", Func: func(context.Context) (any, error) {
		aCalls.Add(1)
		return nil, nil
	}})
	mustAdd(t, s, UnitSpec{ID: "b", MaxRetries: NoRetries, Func: func(context.Context) (any, error) {
		bCalls.Add(1)
		if bShouldFail.Load() {
			return nil, fmt.Errorf("not yet")
		}
		return "ok", nil
	}})
	mustAdd(t, s, UnitSpec{ID: "c", DependsOn: []string{"b"}})

	first, err := s.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if first.Failed != 1 || first.Skipped != 1 {
		t.Fatalf("first run = %+v, want one failure and one skip", first)
	}

	bShouldFail.Store(false)
	second, err := s.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second.Completed != 3 {
		t.Errorf("second run completed %d, want 3", second.Completed)
	}
	if aCalls.Load() != 1 {
		t.Errorf("completed unit re-executed: %d calls", aCalls.Load())
	}
	if bCalls.Load() != 2 {
		t.Errorf("b attempted %d times, want 2", bCalls.Load())
	}
	if u := unit(t, s, "b"); u.RetryCount != 1 {
		t.Errorf("b RetryCount = %d, want 1 carried over", u.RetryCount)
	}
	if first.RunID == second.RunID {
		t.Error("each run should get its own run id")
	}
}

func TestRun_ConcurrentRunRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	s := newTestScheduler()
	mustAdd(t, s, UnitSpec{ID: "block", Func: func(context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	}})

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), false)
		done <- err
	}()
	<-started

	if _, err := s.Run(context.Background(), false); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("second concurrent Run() = %v, want validation error", err)
	}
	if err := s.AddTask(UnitSpec{ID: "new", Func: noop}); err == nil {
		t.Error("AddTask during a run should fail")
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("first Run() error = %v", err)
	}
}

func TestRun_EmptyScheduler(t *testing.T) {
	summary, err := New().Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Total != 0 || summary.SuccessRate != 0 {
		t.Errorf("summary = %+v, want empty", summary)
	}
	if summary.Tasks.Completed == nil || summary.Tasks.Failed == nil {
		t.Error("task lists should be empty, not nil")
	}
}

func TestRun_PublishesLifecycleEvents(t *testing.T) {
	bus := event.NewBus()
	var mu sync.Mutex
	counts := make(map[string]int)
	bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		counts[e.EventType()]++
		mu.Unlock()
	})

	var retried atomic.Int32
	s := newTestScheduler(WithBus(bus))
	mustAdd(t, s, UnitSpec{ID: "ok"})
	mustAdd(t, s, UnitSpec{ID: "flaky", MaxRetries: 2, Func: func(context.Context) (any, error) {
		if retried.Add(1) == 1 {
			return nil, fmt.Errorf("once")
		}
		return nil, nil
	}})
	mustAdd(t, s, UnitSpec{ID: "bad", MaxRetries: NoRetries, Func: alwaysFail(new(atomic.Int32))})
	mustAdd(t, s, UnitSpec{ID: "child", DependsOn: []string{"bad"}})

	var completed event.RunCompletedEvent
	bus.Subscribe(event.TypeRunCompleted, func(e event.Event) {
		completed = e.(event.RunCompletedEvent)
	})

	if _, err := s.Run(context.Background(), false); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := map[string]int{
		event.TypeLevelStarted:  1,
		event.TypeUnitStarted:   4,
		event.TypeUnitRetrying:  1,
		event.TypeUnitCompleted: 2,
		event.TypeUnitFailed:    1,
		event.TypeUnitSkipped:   1,
		event.TypeRunCompleted:  1,
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("event counts mismatch (-want +got):\n%s", diff)
	}
	if completed.Total != 4 || completed.Failed != 1 || completed.Skipped != 1 || completed.Stopped {
		t.Errorf("run.completed = %+v", completed)
	}
}

func TestUnit_NotFound(t *testing.T) {
	if _, ok := New().Unit("nope"); ok {
		t.Error("Unit() should report missing ids")
	}
}
