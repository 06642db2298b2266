package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-fetcher/internal/progress"
)

// LogSink writes each event as a structured log line. It is enabled by
// verbose output.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event except per-fetch starts, which only add noise.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if evt.Stage == progress.StageFetchStart {
			continue
		}
		s.logger.Info("progress event",
			zap.String("run_id", progress.FormatID(evt.RunID)),
			zap.String("stage", string(evt.Stage)),
			zap.Int("pass", evt.Pass),
			zap.String("url", evt.URL),
			zap.String("outcome", evt.Outcome),
			zap.Int64("bytes", evt.Bytes),
			zap.Int("dispatched", evt.Dispatched),
			zap.Int("in_flight", evt.InFlight),
			zap.Int("succeeded", evt.Succeeded),
			zap.Int("forbidden", evt.Forbidden),
			zap.Int("pending", evt.Pending),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements progress.Sink; the logger owner is responsible for Sync.
func (s *LogSink) Close(context.Context) error {
	return nil
}
