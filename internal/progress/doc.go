// Package progress provides the event primitives, non-blocking hub, and emitter
// interface the fetch scheduler uses to report run progress. Events are batched
// on a background goroutine and fanned out to sinks such as structured logs,
// Prometheus collectors, or the in-memory snapshot served by the ops API.
package progress
