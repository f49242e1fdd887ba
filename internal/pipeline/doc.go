// Package pipeline runs YAML-described plans on the scheduler against a
// shared context store.
//
// # Plans
//
// A [Plan] lists steps with ids, dependencies, optional retry and timeout
// overrides, and a kind. Kinds resolve through a [Registry]; the built-in
// kinds are noop, sleep, fail, flaky, set, increment and artifact. Custom
// kinds are registered with [Registry.Register].
//
// # Orchestration
//
// [Orchestrator.Run] registers one scheduler unit per step, records each
// unit's outcome into the store's event log as task_complete, task_failed
// or task_skipped, and stores the run summary under "last_run". Scheduler
// lifecycle events remain available on [Orchestrator.Bus] for progress
// output.
//
// # Usage
//
//	plan, _ := pipeline.LoadPlan("plan.yaml")
//	store, _ := contextstore.Load("shop", ".autodev/ctx")
//	o := pipeline.New(pipeline.WithMaxParallel(4))
//	summary, err := o.Run(ctx, plan, store, false)
//	_ = store.Save()
package pipeline
