package fetch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-fetcher/internal/progress"
)

const tracerName = "github.com/JakeFAU/bulk-fetcher/internal/fetch"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Report is the outcome of a Run.
type Report struct {
	RunID [16]byte
	// Results holds one record per submitted URL that reached StatusSucceeded,
	// in the order they were resolved.
	Results []Result
	// Unresolved lists URLs still pending when a bounded policy gave up or the
	// run was canceled.
	Unresolved []string
	Passes     int
	Duration   time.Duration
}

// Runner repeats passes until no URL is pending.
type Runner struct {
	scheduler *Scheduler
	backoff   BackoffPolicy
	ids       IDGenerator
	emitter   progress.Emitter
	clock     Clock
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRunner builds a Runner. ids and emitter may be nil.
func NewRunner(
	scheduler *Scheduler,
	backoff BackoffPolicy,
	ids IDGenerator,
	emitter progress.Emitter,
	clock Clock,
	logger *zap.Logger,
) *Runner {
	if backoff == nil {
		backoff = NewFixedBackoff(DefaultInterPassBackoff)
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := sleepContext
	if s, ok := clock.(Sleeper); ok {
		sleep = s.Sleep
	}
	return &Runner{
		scheduler: scheduler,
		backoff:   backoff,
		ids:       ids,
		emitter:   emitter,
		clock:     clock,
		logger:    logger,
		sleep:     sleep,
	}
}

// Run fetches every URL, re-submitting forbidden and undispatched URLs until
// they resolve or the backoff policy stops further passes. The only error
// returned is ctx's, alongside the partial report.
func (r *Runner) Run(ctx context.Context, urls []string) (Report, error) {
	start := r.clock.Now()
	report := Report{RunID: r.newRunID()}
	verbose := r.scheduler.Config().Verbose

	ctx, span := tracer().Start(ctx, "fetch.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("fetch.run_id", fmtRunID(report.RunID)),
		attribute.Int("fetch.urls", len(urls)),
	)

	r.logger.Info("starting fetch run",
		zap.String("run_id", fmtRunID(report.RunID)),
		zap.Int("urls", len(urls)),
	)
	r.emit(progress.Event{RunID: report.RunID, Stage: progress.StageRunStart, Pending: len(urls)})

	pending := append([]string(nil), urls...)
	var runErr error
	for len(pending) > 0 {
		report.Passes++
		res := r.scheduler.RunPass(ctx, PassMeta{RunID: report.RunID, Number: report.Passes}, pending)
		for _, t := range res.Tasks {
			if t.Resolved() {
				report.Results = append(report.Results, newResult(t, report.Passes))
			}
		}
		pending = res.Pending()
		r.logPass(report, res, len(pending), verbose)

		if len(pending) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("fetch run canceled: %w", err)
			break
		}
		delay, ok := r.backoff.Next(report.Passes)
		if !ok {
			r.logger.Warn("pass limit reached; giving up on pending urls",
				zap.Int("passes", report.Passes),
				zap.Int("pending", len(pending)),
			)
			break
		}
		r.logger.Info("urls pending; backing off before next pass",
			zap.Int("pending", len(pending)),
			zap.Duration("delay", delay),
			zap.Duration("elapsed", r.clock.Now().Sub(start)),
		)
		r.emit(progress.Event{
			RunID:   report.RunID,
			Stage:   progress.StageBackoff,
			Pass:    report.Passes,
			Pending: len(pending),
			Dur:     delay,
		})
		if err := r.sleep(ctx, delay); err != nil {
			runErr = fmt.Errorf("fetch run canceled: %w", err)
			break
		}
	}

	report.Unresolved = pending
	report.Duration = r.clock.Now().Sub(start)
	r.emit(progress.Event{
		RunID:     report.RunID,
		Stage:     progress.StageRunDone,
		Pass:      report.Passes,
		Succeeded: len(report.Results),
		Pending:   len(report.Unresolved),
		Dur:       report.Duration,
	})
	r.logger.Info("fetch run finished",
		zap.String("run_id", fmtRunID(report.RunID)),
		zap.Int("passes", report.Passes),
		zap.Int("results", len(report.Results)),
		zap.Int("unresolved", len(report.Unresolved)),
		zap.Duration("elapsed", report.Duration),
	)
	span.SetAttributes(
		attribute.Int("fetch.passes", report.Passes),
		attribute.Int("fetch.unresolved", len(report.Unresolved)),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "run canceled")
	}
	return report, runErr
}

func (r *Runner) logPass(report Report, res PassResult, pending int, verbose bool) {
	fields := []zap.Field{
		zap.Int("pass", report.Passes),
		zap.Int("dispatched", res.Dispatched),
		zap.Bool("tripped", res.Tripped),
		zap.Int("pending", pending),
		zap.Int("resolved_total", len(report.Results)),
		zap.Duration("pass_elapsed", res.Duration),
	}
	counts := res.Counts()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Int("code_"+k, counts[k]))
	}
	if verbose {
		r.logger.Info("pass finished", fields...)
		return
	}
	r.logger.Debug("pass finished", fields...)
}

func (r *Runner) newRunID() [16]byte {
	if r.ids == nil {
		return [16]byte{}
	}
	id, err := r.ids.NewRawID()
	if err != nil {
		r.logger.Warn("run id generation failed", zap.Error(err))
		return [16]byte{}
	}
	return progress.UUIDToBytes(id)
}

func (r *Runner) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = r.clock.Now()
	}
	r.emitter.Emit(evt)
}

func fmtRunID(id [16]byte) string {
	if id == [16]byte{} {
		return ""
	}
	return progress.FormatID(id)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
