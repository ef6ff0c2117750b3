// Package flow runs a single task through the agent pipeline under a hard
// deadline and turns the outcome into a task.Result.
//
// Invariants:
// - The pipeline is invoked exactly once per Run.
// - Exchanges are recorded only when the pipeline returns a value before the deadline.
// - Run never returns an error or panics; every failure becomes a Failed result.
// - User-facing messages never carry error detail; detail is logged.
package flow
