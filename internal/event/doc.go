// Package event provides a pub-sub event bus and the lifecycle events a
// scheduler run publishes.
//
// Subscribers (the pipeline orchestrator, the CLI's progress output, tests)
// observe a run without the scheduler knowing about them.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Unit lifecycle:
//   - [UnitStartedEvent]: an attempt of a unit began
//   - [UnitRetryingEvent]: an attempt failed and will be retried after a backoff
//   - [UnitCompletedEvent]: the unit completed
//   - [UnitFailedEvent]: the unit failed permanently
//   - [UnitSkippedEvent]: a dependency did not complete, so the unit never ran
//
// Run progress:
//   - [LevelStartedEvent]: a graph level is being dispatched
//   - [RunCompletedEvent]: the run settled
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called synchronously
// on the publishing goroutine and protected against panics.
//
// # Basic Usage
//
//	bus := event.NewBus(event.WithLogger(logger))
//
//	bus.Subscribe(event.TypeUnitFailed, func(e event.Event) {
//	    failed := e.(event.UnitFailedEvent)
//	    fmt.Printf("%s failed after %d attempts\n", failed.UnitID, failed.Attempts)
//	})
//
//	bus.SubscribeAll(func(e event.Event) {
//	    logger.Debug("event", "type", e.EventType())
//	})
package event
