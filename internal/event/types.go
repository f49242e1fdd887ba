package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "unit.started", "run.completed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers published by the scheduler.
const (
	TypeUnitStarted   = "unit.started"
	TypeUnitRetrying  = "unit.retrying"
	TypeUnitCompleted = "unit.completed"
	TypeUnitFailed    = "unit.failed"
	TypeUnitSkipped   = "unit.skipped"
	TypeLevelStarted  = "level.started"
	TypeRunCompleted  = "run.completed"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Unit Lifecycle Events
// -----------------------------------------------------------------------------

// UnitStartedEvent is emitted when an attempt of a unit begins.
type UnitStartedEvent struct {
	baseEvent
	RunID   string
	UnitID  string
	Level   int // Index of the graph level the unit belongs to
	Attempt int // 1 for the first attempt
}

// NewUnitStartedEvent creates a UnitStartedEvent.
func NewUnitStartedEvent(runID, unitID string, level, attempt int) UnitStartedEvent {
	return UnitStartedEvent{
		baseEvent: newBaseEvent(TypeUnitStarted),
		RunID:     runID,
		UnitID:    unitID,
		Level:     level,
		Attempt:   attempt,
	}
}

// UnitRetryingEvent is emitted when a failed attempt will be retried after Delay.
type UnitRetryingEvent struct {
	baseEvent
	RunID   string
	UnitID  string
	Attempt int           // The attempt that just failed
	Delay   time.Duration // Backoff before the next attempt
	Error   string
}

// NewUnitRetryingEvent creates a UnitRetryingEvent.
func NewUnitRetryingEvent(runID, unitID string, attempt int, delay time.Duration, errMsg string) UnitRetryingEvent {
	return UnitRetryingEvent{
		baseEvent: newBaseEvent(TypeUnitRetrying),
		RunID:     runID,
		UnitID:    unitID,
		Attempt:   attempt,
		Delay:     delay,
		Error:     errMsg,
	}
}

// UnitCompletedEvent is emitted when a unit reaches the completed status.
type UnitCompletedEvent struct {
	baseEvent
	RunID    string
	UnitID   string
	Attempts int
	Duration time.Duration // Duration of the successful attempt
	Result   any
}

// NewUnitCompletedEvent creates a UnitCompletedEvent.
func NewUnitCompletedEvent(runID, unitID string, attempts int, duration time.Duration, result any) UnitCompletedEvent {
	return UnitCompletedEvent{
		baseEvent: newBaseEvent(TypeUnitCompleted),
		RunID:     runID,
		UnitID:    unitID,
		Attempts:  attempts,
		Duration:  duration,
		Result:    result,
	}
}

// UnitFailedEvent is emitted when a unit exhausts its retries or fails fatally.
type UnitFailedEvent struct {
	baseEvent
	RunID    string
	UnitID   string
	Attempts int
	Kind     string // Error kind, see errors.Kind
	Error    string
}

// NewUnitFailedEvent creates a UnitFailedEvent.
func NewUnitFailedEvent(runID, unitID string, attempts int, kind, errMsg string) UnitFailedEvent {
	return UnitFailedEvent{
		baseEvent: newBaseEvent(TypeUnitFailed),
		RunID:     runID,
		UnitID:    unitID,
		Attempts:  attempts,
		Kind:      kind,
		Error:     errMsg,
	}
}

// UnitSkippedEvent is emitted when a unit is skipped because Dependency did
// not complete.
type UnitSkippedEvent struct {
	baseEvent
	RunID      string
	UnitID     string
	Dependency string
}

// NewUnitSkippedEvent creates a UnitSkippedEvent.
func NewUnitSkippedEvent(runID, unitID, dependency string) UnitSkippedEvent {
	return UnitSkippedEvent{
		baseEvent:  newBaseEvent(TypeUnitSkipped),
		RunID:      runID,
		UnitID:     unitID,
		Dependency: dependency,
	}
}

// -----------------------------------------------------------------------------
// Run Events
// -----------------------------------------------------------------------------

// LevelStartedEvent is emitted before the units of a graph level are dispatched.
type LevelStartedEvent struct {
	baseEvent
	RunID   string
	Level   int
	UnitIDs []string
}

// NewLevelStartedEvent creates a LevelStartedEvent. unitIDs is copied.
func NewLevelStartedEvent(runID string, level int, unitIDs []string) LevelStartedEvent {
	ids := make([]string, len(unitIDs))
	copy(ids, unitIDs)
	return LevelStartedEvent{
		baseEvent: newBaseEvent(TypeLevelStarted),
		RunID:     runID,
		Level:     level,
		UnitIDs:   ids,
	}
}

// RunCompletedEvent is emitted once a run settles, even when it stopped early.
type RunCompletedEvent struct {
	baseEvent
	RunID     string
	Total     int
	Completed int
	Failed    int
	Skipped   int
	Pending   int
	Duration  time.Duration
	Stopped   bool // true when fail-fast or cancellation ended the run early
}

// NewRunCompletedEvent creates a RunCompletedEvent.
func NewRunCompletedEvent(runID string, total, completed, failed, skipped, pending int, duration time.Duration, stopped bool) RunCompletedEvent {
	return RunCompletedEvent{
		baseEvent: newBaseEvent(TypeRunCompleted),
		RunID:     runID,
		Total:     total,
		Completed: completed,
		Failed:    failed,
		Skipped:   skipped,
		Pending:   pending,
		Duration:  duration,
		Stopped:   stopped,
	}
}
