package fetch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-fetcher/internal/progress"
)

// Scheduler defaults.
const (
	DefaultTargetConcurrency  = 1000
	DefaultForbiddenThreshold = 10
	DefaultProgressInterval   = 100
)

// PassConfig controls admission for a single pass.
type PassConfig struct {
	// TargetConcurrency is the ceiling on simultaneous in-flight operations.
	TargetConcurrency int
	// ForbiddenThreshold is the number of forbidden tasks tolerated; the pass
	// stops dispatching once the count exceeds it. Negative selects the default.
	ForbiddenThreshold int
	// ProgressInterval emits a progress report every N dispatched tasks.
	ProgressInterval int
	// Verbose promotes progress reports from debug to info.
	Verbose bool
}

// DefaultPassConfig returns the reference settings: 1000 in flight, a
// breaker that trips above 10 forbidden tasks, and a report every 100
// dispatches. Start from it rather than a zero PassConfig, whose
// ForbiddenThreshold of 0 trips on the first forbidden task.
func DefaultPassConfig() PassConfig {
	return PassConfig{
		TargetConcurrency:  DefaultTargetConcurrency,
		ForbiddenThreshold: DefaultForbiddenThreshold,
		ProgressInterval:   DefaultProgressInterval,
	}
}

func (c PassConfig) withDefaults() PassConfig {
	if c.TargetConcurrency <= 0 {
		c.TargetConcurrency = DefaultTargetConcurrency
	}
	if c.ForbiddenThreshold < 0 {
		c.ForbiddenThreshold = DefaultForbiddenThreshold
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	return c
}

// PassMeta identifies a pass for progress reporting.
type PassMeta struct {
	RunID  [16]byte
	Number int
}

// PassResult is the batch of tasks handed back by a pass, in input order.
type PassResult struct {
	Tasks      []*Task
	Dispatched int
	// Tripped is informational: the breaker stopped dispatch. Callers classify
	// tasks by status, not by this flag.
	Tripped  bool
	Duration time.Duration
}

// Pending returns the URLs of tasks that are forbidden or were never resolved.
func (r PassResult) Pending() []string {
	var urls []string
	for _, t := range r.Tasks {
		if s := t.Status(); s == StatusForbidden || s == StatusNew {
			urls = append(urls, t.URL())
		}
	}
	return urls
}

// Counts tallies tasks by outcome label (see Outcome).
func (r PassResult) Counts() map[string]int {
	out := make(map[string]int)
	for _, t := range r.Tasks {
		out[Outcome(t)]++
	}
	return out
}

// Scheduler runs admission-controlled passes.
type Scheduler struct {
	cfg     PassConfig
	op      *Operation
	emitter progress.Emitter
	clock   Clock
	logger  *zap.Logger
}

// NewScheduler builds a Scheduler. emitter may be nil. Zero
// TargetConcurrency and ProgressInterval take their defaults, but a zero
// ForbiddenThreshold is honoured as "trip on the first forbidden task"; pass a
// negative threshold, or start from DefaultPassConfig, for the default of 10.
func NewScheduler(cfg PassConfig, op *Operation, emitter progress.Emitter, clock Clock, logger *zap.Logger) *Scheduler {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		op:      op,
		emitter: emitter,
		clock:   clock,
		logger:  logger,
	}
}

// Config returns the effective pass configuration.
func (s *Scheduler) Config() PassConfig {
	return s.cfg
}

// RunPass fetches urls with bounded concurrency and returns once every
// dispatched operation has finished or observed cancellation. Cancelling ctx
// stops dispatch and cancels in-flight operations; their tasks come back new.
func (s *Scheduler) RunPass(ctx context.Context, meta PassMeta, urls []string) PassResult {
	ctx, span := tracer().Start(ctx, "fetch.pass")
	defer span.End()
	span.SetAttributes(
		attribute.Int("fetch.pass", meta.Number),
		attribute.Int("fetch.urls", len(urls)),
	)

	start := s.clock.Now()
	tasks := make([]*Task, len(urls))
	for i, u := range urls {
		tasks[i] = NewTask(u)
	}
	s.emit(progress.Event{
		RunID:   meta.RunID,
		Stage:   progress.StagePassStart,
		Pass:    meta.Number,
		Pending: len(tasks),
	})

	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := passState{
		done: make(chan *Task, s.cfg.TargetConcurrency),
	}
	var tripped bool

	for {
		if st.forbidden > s.cfg.ForbiddenThreshold {
			tripped = true
			s.tripBreaker(meta, &st)
			break
		}
		if passCtx.Err() != nil {
			break
		}
		for st.next < len(tasks) && st.inFlight < s.cfg.TargetConcurrency {
			s.dispatch(passCtx, meta, tasks[st.next], &st)
			st.next++
			if st.next%s.cfg.ProgressInterval == 0 {
				s.report(meta, &st, len(tasks), start)
			}
		}
		if st.inFlight == 0 {
			break
		}
		select {
		case t := <-st.done:
			s.complete(meta, t, &st)
		case <-passCtx.Done():
		}
	}

	cancel()
	for st.inFlight > 0 {
		s.complete(meta, <-st.done, &st)
	}

	res := PassResult{
		Tasks:      tasks,
		Dispatched: st.next,
		Tripped:    tripped,
		Duration:   s.clock.Now().Sub(start),
	}
	s.emit(progress.Event{
		RunID:      meta.RunID,
		Stage:      progress.StagePassDone,
		Pass:       meta.Number,
		Dispatched: st.next,
		Succeeded:  st.succeeded,
		Forbidden:  st.forbidden,
		Pending:    len(tasks) - st.succeeded,
		Dur:        res.Duration,
		Note:       passNote(tripped, ctx.Err() != nil),
	})
	span.SetAttributes(
		attribute.Int("fetch.dispatched", st.next),
		attribute.Int("fetch.succeeded", st.succeeded),
		attribute.Int("fetch.forbidden", st.forbidden),
		attribute.Bool("fetch.tripped", tripped),
	)
	return res
}

type passState struct {
	done      chan *Task
	next      int
	inFlight  int
	forbidden int
	succeeded int
}

func (s *Scheduler) dispatch(ctx context.Context, meta PassMeta, t *Task, st *passState) {
	if err := t.begin(); err != nil {
		s.logger.Error("dispatch rejected", zap.String("url", t.URL()), zap.Error(err))
		return
	}
	st.inFlight++
	site := progress.SiteOf(t.URL())
	s.emit(progress.Event{
		RunID: meta.RunID,
		Stage: progress.StageFetchStart,
		Pass:  meta.Number,
		Site:  site,
		URL:   t.URL(),
	})
	done := st.done
	go func() {
		started := s.clock.Now()
		s.op.Execute(ctx, t)
		s.emit(progress.Event{
			RunID:   meta.RunID,
			Stage:   progress.StageFetchDone,
			Pass:    meta.Number,
			Site:    site,
			URL:     t.URL(),
			Outcome: Outcome(t),
			Bytes:   bodyLen(t),
			Dur:     s.clock.Now().Sub(started),
		})
		done <- t
	}()
}

func (s *Scheduler) complete(_ PassMeta, t *Task, st *passState) {
	st.inFlight--
	switch t.Status() {
	case StatusForbidden:
		st.forbidden++
	case StatusSucceeded:
		st.succeeded++
	}
}

func (s *Scheduler) tripBreaker(meta PassMeta, st *passState) {
	s.logger.Warn("forbidden threshold exceeded; stopping pass",
		zap.Int("pass", meta.Number),
		zap.Int("forbidden", st.forbidden),
		zap.Int("threshold", s.cfg.ForbiddenThreshold),
		zap.Int("in_flight", st.inFlight),
		zap.Int("dispatched", st.next),
	)
	s.emit(progress.Event{
		RunID:      meta.RunID,
		Stage:      progress.StageBreakerTripped,
		Pass:       meta.Number,
		Dispatched: st.next,
		InFlight:   st.inFlight,
		Forbidden:  st.forbidden,
	})
}

func (s *Scheduler) report(meta PassMeta, st *passState, total int, start time.Time) {
	elapsed := s.clock.Now().Sub(start)
	fields := []zap.Field{
		zap.Int("pass", meta.Number),
		zap.Int("scheduled", st.next),
		zap.Int("running", st.inFlight),
		zap.Int("remaining", total-st.next),
		zap.Int("succeeded", st.succeeded),
		zap.Int("forbidden", st.forbidden),
		zap.Duration("elapsed", elapsed),
	}
	if s.cfg.Verbose {
		s.logger.Info("pass progress", fields...)
	} else {
		s.logger.Debug("pass progress", fields...)
	}
	s.emit(progress.Event{
		RunID:      meta.RunID,
		Stage:      progress.StagePassProgress,
		Pass:       meta.Number,
		Dispatched: st.next,
		InFlight:   st.inFlight,
		Succeeded:  st.succeeded,
		Forbidden:  st.forbidden,
		Pending:    total - st.next,
		Dur:        elapsed,
	})
}

func (s *Scheduler) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = s.clock.Now()
	}
	s.emitter.Emit(evt)
}

func passNote(tripped, canceled bool) string {
	switch {
	case canceled:
		return "canceled"
	case tripped:
		return "tripped"
	default:
		return "completed"
	}
}

func bodyLen(t *Task) int64 {
	body, ok := t.Body()
	if !ok {
		return 0
	}
	return int64(len(body))
}

type nopEmitter struct{}

func (nopEmitter) Emit(progress.Event) {}
