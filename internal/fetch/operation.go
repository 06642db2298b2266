package fetch

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Operation executes a single fetch for an in-flight task.
type Operation struct {
	client  Client
	limiter Limiter
	clock   Clock
	logger  *zap.Logger
}

// NewOperation builds an Operation. limiter may be nil.
func NewOperation(client Client, limiter Limiter, clock Clock, logger *zap.Logger) *Operation {
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Operation{
		client:  client,
		limiter: limiter,
		clock:   clock,
		logger:  logger,
	}
}

// Execute issues one GET for t and records exactly one outcome on it. ctx is
// the pass context: if it is done by the time the request fails, the task is
// reset to new instead of being counted as a failure.
func (o *Operation) Execute(ctx context.Context, t *Task) {
	if t.Status() != StatusInFlight {
		o.logger.Error("execute called on task that is not in flight",
			zap.String("url", t.URL()),
			zap.Stringer("status", t.Status()),
		)
		return
	}

	resp, err := o.get(ctx, t.URL())
	if err != nil {
		if ctx.Err() != nil {
			o.record(t, t.reset())
			return
		}
		o.logger.Debug("transport failure", zap.String("url", t.URL()), zap.Error(err))
		o.record(t, t.fail(o.clock.Now()))
		return
	}

	now := o.clock.Now()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusGone:
		o.record(t, t.succeed(resp.StatusCode, resp.StatusCode, string(resp.Body), now))
	case http.StatusNotFound:
		o.record(t, t.succeed(http.StatusNotFound, http.StatusNotFound, BodyNotFound, now))
	case http.StatusForbidden:
		o.record(t, t.forbid(now))
	default:
		o.record(t, t.succeed(CodeUnknown, resp.StatusCode, BodyUnknown, now))
	}
}

func (o *Operation) get(ctx context.Context, url string) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("client panic: %v", r)
		}
	}()
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, url); err != nil {
			return Response{}, fmt.Errorf("limiter wait: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return Response{}, fmt.Errorf("fetch canceled: %w", err)
	}
	resp, err = o.client.Get(ctx, url)
	if err != nil {
		return Response{}, fmt.Errorf("get %s: %w", url, err)
	}
	return resp, nil
}

func (o *Operation) record(t *Task, err error) {
	if err != nil {
		o.logger.Error("task transition rejected", zap.String("url", t.URL()), zap.Error(err))
	}
}
