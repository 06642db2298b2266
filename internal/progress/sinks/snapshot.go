package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/bulk-fetcher/internal/progress"
)

// RunSnapshot is the latest known state of a run.
type RunSnapshot struct {
	RunID        string         `json:"run_id"`
	State        string         `json:"state"`
	Pass         int            `json:"pass"`
	Dispatched   int            `json:"dispatched"`
	InFlight     int            `json:"in_flight"`
	Succeeded    int            `json:"succeeded"`
	Forbidden    int            `json:"forbidden"`
	Pending      int            `json:"pending"`
	BreakerTrips int            `json:"breaker_trips"`
	Outcomes     map[string]int `json:"outcomes"`
	StartedAt    time.Time      `json:"started_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Run states reported in RunSnapshot.State.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateBackoff  = "backoff"
	StateFinished = "finished"
)

// SnapshotSink folds events into a RunSnapshot for the ops API.
type SnapshotSink struct {
	mu   sync.RWMutex
	snap RunSnapshot
}

// NewSnapshotSink returns an idle sink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{snap: RunSnapshot{State: StateIdle, Outcomes: map[string]int{}}}
}

// Consume applies batch in order.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *SnapshotSink) apply(evt progress.Event) {
	snap := &s.snap
	switch evt.Stage {
	case progress.StageRunStart:
		*snap = RunSnapshot{
			RunID:     progress.FormatID(evt.RunID),
			State:     StateRunning,
			Pending:   evt.Pending,
			Outcomes:  map[string]int{},
			StartedAt: evt.TS,
		}
	case progress.StagePassStart:
		snap.State = StateRunning
		snap.Pass = evt.Pass
		snap.Dispatched = 0
		snap.InFlight = 0
		snap.Forbidden = 0
		snap.Pending = evt.Pending
	case progress.StageFetchStart:
		snap.Dispatched++
		snap.InFlight++
	case progress.StageFetchDone:
		if snap.InFlight > 0 {
			snap.InFlight--
		}
		snap.Outcomes[evt.Outcome]++
	case progress.StagePassProgress:
		snap.Forbidden = evt.Forbidden
	case progress.StageBreakerTripped:
		snap.BreakerTrips++
		snap.Forbidden = evt.Forbidden
	case progress.StagePassDone:
		snap.Dispatched = evt.Dispatched
		snap.InFlight = 0
		snap.Forbidden = evt.Forbidden
		snap.Succeeded += evt.Succeeded
	case progress.StageBackoff:
		snap.State = StateBackoff
		snap.Pending = evt.Pending
	case progress.StageRunDone:
		snap.State = StateFinished
		snap.Succeeded = evt.Succeeded
		snap.Pending = evt.Pending
	}
	snap.UpdatedAt = evt.TS
}

// Snapshot returns a copy of the current state.
func (s *SnapshotSink) Snapshot() RunSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.Outcomes = make(map[string]int, len(s.snap.Outcomes))
	for k, v := range s.snap.Outcomes {
		out.Outcomes[k] = v
	}
	return out
}

// Close implements progress.Sink; it performs no action.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
