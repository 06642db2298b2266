// Package progress defines the events emitted while a fetch run is underway.
package progress

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StagePassStart      Stage = "PASS_START"
	StagePassProgress   Stage = "PASS_PROGRESS"
	StageFetchStart     Stage = "FETCH_START"
	StageFetchDone      Stage = "FETCH_DONE"
	StageBreakerTripped Stage = "BREAKER_TRIPPED"
	StagePassDone       Stage = "PASS_DONE"
	StageBackoff        Stage = "BACKOFF"
	StageRunDone        Stage = "RUN_DONE"
)

// Event captures a single step of run progress. Counter fields are snapshots
// taken by the emitter, not deltas, except where noted.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Pass is the 1-based pass number; zero for run-level events.
	Pass int
	Site string
	URL  string
	// Outcome labels a finished fetch: "200", "404", "410", "unknown", "403",
	// "transport" or "cancelled".
	Outcome string
	// Bytes is the body size recorded for a fetch.
	Bytes      int64
	Dispatched int
	InFlight   int
	Succeeded  int
	Forbidden  int
	Pending    int
	// Dur is fetch latency, pass or run wall time, or the backoff delay.
	Dur  time.Duration
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StagePassStart, StagePassProgress, StagePassDone, StageBreakerTripped, StageBackoff:
		if e.Pass <= 0 {
			return fmt.Errorf("%s requires pass number", e.Stage)
		}
	case StageFetchStart:
		if e.Site == "" {
			return errors.New("fetch start requires site")
		}
	case StageFetchDone:
		if e.Site == "" {
			return errors.New("fetch done requires site")
		}
		if e.Outcome == "" {
			return errors.New("fetch done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// FormatID renders a binary run ID in canonical UUID text form.
func FormatID(id [16]byte) string {
	return uuid.UUID(id).String()
}

// SiteOf extracts a lowercase hostname label from a URL, or "unknown".
func SiteOf(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
