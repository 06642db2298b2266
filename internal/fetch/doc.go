// Package fetch implements the bulk fetch scheduler.
//
// A Runner drives repeated passes over a URL list. Each pass is executed by a
// Scheduler that admits at most TargetConcurrency single-fetch operations at a
// time, dispatching tasks in input order, and stops admitting work once more
// than ForbiddenThreshold tasks have come back forbidden. Tasks that end a pass
// forbidden or never dispatched are resubmitted in the next pass after the
// BackoffPolicy delay; tasks that succeeded (with any status code other than
// 403) are terminal and collected as Results.
//
// Ownership: a task is mutated only by the operation goroutine that holds it
// while it is in flight. The operation hands the task back to the scheduler on
// the completion channel, which is the only synchronisation point needed.
package fetch
