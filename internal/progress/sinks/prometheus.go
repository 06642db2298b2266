package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/bulk-fetcher/internal/progress"
)

// PrometheusSink exports run progress via Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	passes        *prometheus.CounterVec
	breakerTrips  prometheus.Counter
	inFlight      prometheus.Gauge
	pending       prometheus.Gauge
	runtime       prometheus.Histogram

	fetches       *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	backoff       prometheus.Counter
}

// NewPrometheusSink registers the collectors against reg (default registerer
// when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_runs_started_total",
			Help: "Fetch runs started.",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_runs_completed_total",
			Help: "Fetch runs finished.",
		}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetcher_passes_total",
			Help: "Passes finished, partitioned by how they ended.",
		}, []string{"result"}),
		breakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_breaker_trips_total",
			Help: "Passes stopped because the forbidden threshold was exceeded.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetcher_in_flight",
			Help: "Fetch operations currently in flight.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetcher_pending_urls",
			Help: "URLs still waiting for a terminal outcome.",
		}),
		runtime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fetcher_pass_runtime_seconds",
			Help:    "Wall time per pass.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetcher_fetches_total",
			Help: "Fetch attempts partitioned by site and outcome.",
		}, []string{"site", "outcome"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetcher_fetch_bytes_total",
			Help: "Body bytes recorded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fetcher_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by outcome.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		backoff: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_backoff_seconds_total",
			Help: "Time scheduled for inter-pass backoff.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.passes,
		s.breakerTrips,
		s.inFlight,
		s.pending,
		s.runtime,
		s.fetches,
		s.fetchBytes,
		s.fetchDuration,
		s.backoff,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		s.pending.Set(float64(evt.Pending))
	case progress.StageRunDone:
		s.runsCompleted.Inc()
		s.pending.Set(float64(evt.Pending))
	case progress.StageFetchStart:
		s.inFlight.Inc()
	case progress.StageFetchDone:
		s.inFlight.Dec()
		s.handleFetch(evt)
	case progress.StageBreakerTripped:
		s.breakerTrips.Inc()
	case progress.StagePassDone:
		s.passes.WithLabelValues(evt.Note).Inc()
		s.pending.Set(float64(evt.Pending))
		if evt.Dur > 0 {
			s.runtime.Observe(evt.Dur.Seconds())
		}
	case progress.StageBackoff:
		s.pending.Set(float64(evt.Pending))
		s.backoff.Add(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetch(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	s.fetches.WithLabelValues(site, evt.Outcome).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
