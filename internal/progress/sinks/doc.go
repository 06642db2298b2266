// Package sinks contains progress.Sink implementations: structured logging,
// Prometheus collectors, and an in-memory snapshot of the current run.
package sinks
