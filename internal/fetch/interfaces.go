package fetch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Response is what the HTTP client hands back for a completed exchange.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client performs a single GET. Any returned error is a transport failure or
// a cancellation; HTTP error statuses must come back as a Response.
type Client interface {
	Get(ctx context.Context, url string) (Response, error)
}

// Limiter paces requests before they reach the Client.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper waits between passes. Clocks that implement it replace the
// runner's timer-based wait.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
