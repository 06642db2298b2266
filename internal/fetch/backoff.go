package fetch

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// DefaultInterPassBackoff is the courtesy delay between passes.
const DefaultInterPassBackoff = 5 * time.Minute

// BackoffPolicy decides whether another pass may run after completedPasses
// passes left URLs pending, and how long to wait before it.
type BackoffPolicy interface {
	Next(completedPasses int) (time.Duration, bool)
}

// FixedBackoff waits the same delay before every pass. MaxPasses <= 0 means
// passes are retried until every URL resolves.
type FixedBackoff struct {
	Delay     time.Duration
	MaxPasses int
}

// NewFixedBackoff returns the reference policy: a fixed delay with no cap.
func NewFixedBackoff(delay time.Duration) FixedBackoff {
	return FixedBackoff{Delay: delay}
}

// Next implements BackoffPolicy.
func (p FixedBackoff) Next(completedPasses int) (time.Duration, bool) {
	if p.MaxPasses > 0 && completedPasses >= p.MaxPasses {
		return 0, false
	}
	if p.Delay < 0 {
		return 0, true
	}
	return p.Delay, true
}

// maxBackoffDelay bounds ExponentialBackoff when Max is unset.
const maxBackoffDelay = time.Duration(math.MaxInt64)

// ExponentialBackoff doubles the delay after each pass, capped at Max, with
// jitter over the upper half of the window. Max <= 0 caps at the largest
// representable duration.
type ExponentialBackoff struct {
	Base      time.Duration
	Max       time.Duration
	MaxPasses int
}

// Next implements BackoffPolicy.
func (p ExponentialBackoff) Next(completedPasses int) (time.Duration, bool) {
	if p.MaxPasses > 0 && completedPasses >= p.MaxPasses {
		return 0, false
	}
	if p.Base <= 0 {
		return 0, true
	}
	exp := completedPasses - 1
	if exp < 0 {
		exp = 0
	}
	ceiling := p.Max
	if ceiling <= 0 {
		ceiling = maxBackoffDelay
	}
	delay := min(p.Base, ceiling)
	for ; exp > 0 && delay < ceiling; exp-- {
		if delay > ceiling/2 {
			delay = ceiling
			break
		}
		delay *= 2
	}
	half := delay / 2
	return half + randomJitter(delay-half), true
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
