// Package ratelimit implements a per-host token bucket that paces fetches.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/bulk-fetcher/internal/progress"
)

// Limiter manages per-host rate limits. It implements fetch.Limiter.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	delay        *prometheus.HistogramVec
	logger       *zap.Logger
}

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS is the per-host request rate; <= 0 disables pacing.
	DefaultRPS   float64
	DefaultBurst int
	// Registerer receives the delay histogram when set.
	Registerer prometheus.Registerer
	Logger     *zap.Logger
}

// New creates a new Limiter.
func New(cfg Config) (*Limiter, error) {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		logger:       logger,
	}
	if cfg.Registerer != nil {
		l.delay = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fetcher_rate_limit_delay_seconds",
			Help:    "Time spent waiting for a per-host rate limit token.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"site"})
		if err := cfg.Registerer.Register(l.delay); err != nil {
			return nil, fmt.Errorf("register rate limit histogram: %w", err)
		}
	}
	return l, nil
}

// Enabled reports whether the limiter paces anything at all.
func (l *Limiter) Enabled() bool {
	return l.defaultRate != rate.Inf
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if !l.Enabled() {
		return nil
	}
	site := progress.SiteOf(rawURL)
	limiter := l.forSite(site)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		if l.delay != nil {
			l.delay.WithLabelValues(site).Observe(waited.Seconds())
		}
		l.logger.Debug("rate limited", zap.String("site", site), zap.Duration("waited", waited))
	}
	return nil
}

// Hosts returns how many hosts have a bucket.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) forSite(site string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[site]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[site] = limiter
	}
	return limiter
}
