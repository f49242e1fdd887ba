package scheduler

import (
	"context"
	"time"
)

// Status represents the lifecycle state of a work unit.
type Status string

const (
	// StatusPending indicates the unit has not run yet, or is waiting out a
	// retry backoff.
	StatusPending Status = "pending"

	// StatusRunning indicates an attempt of the unit is executing.
	StatusRunning Status = "running"

	// StatusCompleted indicates the unit's function returned successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the unit exhausted its retries, failed fatally,
	// or was cut short by cancellation.
	StatusFailed Status = "failed"

	// StatusSkipped indicates a dependency did not complete, so the unit was
	// never run.
	StatusSkipped Status = "skipped"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// WorkFunc is the body of a work unit. Arguments are bound by closure when
// the unit is built. Implementations should return promptly once ctx is done;
// a function that ignores ctx is abandoned at its deadline but keeps its
// admission slot until it returns.
type WorkFunc func(ctx context.Context) (any, error)

// Limits are the per-unit retry and timeout settings.
type Limits struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// Timeout bounds each attempt. Zero or negative means no deadline.
	Timeout time.Duration

	// BaseBackoff is the delay before the first retry; it doubles per retry.
	BaseBackoff time.Duration

	// MaxBackoff caps the exponential delay (before jitter).
	MaxBackoff time.Duration
}

// Default limits applied when neither the unit nor the scheduler overrides them.
const (
	DefaultMaxRetries  = 3
	DefaultTimeout     = 300 * time.Second
	DefaultBaseBackoff = 2 * time.Second
	DefaultMaxBackoff  = 60 * time.Second
	DefaultMaxParallel = 4
)

// NoRetries disables retries when used as UnitSpec.MaxRetries. A zero
// MaxRetries means "use the scheduler default".
const NoRetries = -1

// DefaultLimits returns the built-in per-unit limits.
func DefaultLimits() Limits {
	return Limits{
		MaxRetries:  DefaultMaxRetries,
		Timeout:     DefaultTimeout,
		BaseBackoff: DefaultBaseBackoff,
		MaxBackoff:  DefaultMaxBackoff,
	}
}

// UnitSpec describes a work unit to register with AddTask.
//
// Zero-valued limits fall back to the scheduler's defaults. A negative
// MaxRetries means no retries, a negative Timeout means no deadline, and
// negative backoffs mean retry immediately.
type UnitSpec struct {
	ID        string
	Name      string // Defaults to ID
	Func      WorkFunc
	DependsOn []string

	MaxRetries  int
	Timeout     time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// limits resolves the unit's limits against defaults.
func (s UnitSpec) limits(defaults Limits) Limits {
	l := Limits{
		MaxRetries:  s.MaxRetries,
		Timeout:     s.Timeout,
		BaseBackoff: s.BaseBackoff,
		MaxBackoff:  s.MaxBackoff,
	}

	switch {
	case l.MaxRetries == 0:
		l.MaxRetries = defaults.MaxRetries
	case l.MaxRetries < 0:
		l.MaxRetries = 0
	}
	switch {
	case l.Timeout == 0:
		l.Timeout = defaults.Timeout
	case l.Timeout < 0:
		l.Timeout = 0
	}
	switch {
	case l.BaseBackoff == 0:
		l.BaseBackoff = defaults.BaseBackoff
	case l.BaseBackoff < 0:
		l.BaseBackoff = 0
	}
	switch {
	case l.MaxBackoff == 0:
		l.MaxBackoff = defaults.MaxBackoff
	case l.MaxBackoff < 0:
		l.MaxBackoff = 0
	}
	return l
}

// Unit is a registered work unit together with its execution state.
// All fields are guarded by the owning Scheduler's mutex.
type Unit struct {
	ID        string
	Name      string
	DependsOn []string
	Limits    Limits

	fn WorkFunc

	Status     Status
	RetryCount int // Failed attempts so far
	Attempts   int // Attempts started so far
	Err        error
	Result     any
	StartedAt  time.Time // Start of the most recent attempt
	EndedAt    time.Time // When the unit reached a terminal state
}

// UnitSnapshot is a point-in-time copy of a unit's state.
type UnitSnapshot struct {
	ID         string
	Name       string
	DependsOn  []string
	Limits     Limits
	Status     Status
	RetryCount int
	Attempts   int
	Err        error
	Result     any
	StartedAt  time.Time
	EndedAt    time.Time
}

func (u *Unit) snapshot() UnitSnapshot {
	return UnitSnapshot{
		ID:         u.ID,
		Name:       u.Name,
		DependsOn:  append([]string(nil), u.DependsOn...),
		Limits:     u.Limits,
		Status:     u.Status,
		RetryCount: u.RetryCount,
		Attempts:   u.Attempts,
		Err:        u.Err,
		Result:     u.Result,
		StartedAt:  u.StartedAt,
		EndedAt:    u.EndedAt,
	}
}
