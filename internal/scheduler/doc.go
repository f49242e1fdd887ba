// Package scheduler executes a dependency graph of work units.
//
// Units are registered with [Scheduler.AddTask] and executed by
// [Scheduler.Run]. Run validates the graph (unknown dependencies and cycles
// are reported as *errors.GraphError before anything executes), splits it
// into levels with Kahn's algorithm and runs the levels strictly in order.
// Units within a level run concurrently, bounded by an admission cap shared
// by the whole run.
//
// Each attempt runs under its own deadline. Failed attempts are retried with
// exponential backoff plus jitter (see [Backoff]) until MaxRetries is
// exhausted; errors marked with errors.Fatal are not retried. A unit whose
// dependency did not complete is skipped, which cascades to its own
// dependents.
//
// Usage:
//
//	s := scheduler.New(scheduler.WithMaxParallel(4), scheduler.WithLogger(logger))
//	_ = s.AddTask(scheduler.UnitSpec{ID: "a", Func: buildA})
//	_ = s.AddTask(scheduler.UnitSpec{ID: "b", Func: buildB})
//	_ = s.AddTask(scheduler.UnitSpec{ID: "c", Func: link, DependsOn: []string{"a", "b"}})
//
//	summary, err := s.Run(ctx, false)
//	if err != nil {
//	    return err // invalid graph or cancellation
//	}
//	fmt.Printf("%d/%d completed\n", summary.Completed, summary.Total)
package scheduler
