package fetch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bulk-fetcher/internal/progress"
)

func makeURLs(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://site%d.example/page", i)
	}
	return urls
}

func indexOf(urls []string, u string) int {
	for i, v := range urls {
		if v == u {
			return i
		}
	}
	return -1
}

func newTestScheduler(cfg PassConfig, client Client, emitter progress.Emitter) *Scheduler {
	return NewScheduler(cfg, NewOperation(client, nil, nil, nil), emitter, nil, nil)
}

func statusCounts(tasks []*Task) map[Status]int {
	out := make(map[Status]int)
	for _, t := range tasks {
		out[t.Status()]++
	}
	return out
}

func requireNoneInFlight(t *testing.T, tasks []*Task) {
	t.Helper()
	for _, task := range tasks {
		require.NotEqual(t, StatusInFlight, task.Status(), "task %s left in flight", task.URL())
	}
}

func TestRunPassRespectsConcurrencyCeiling(t *testing.T) {
	t.Parallel()

	client := newFakeClient(func(ctx context.Context, _ string, _ int) (Response, error) {
		return waitThen(ctx, 2*time.Millisecond, Response{StatusCode: 200, Body: []byte("ok")})
	})
	sched := newTestScheduler(PassConfig{TargetConcurrency: 5}, client, nil)
	urls := makeURLs(60)

	res := sched.RunPass(context.Background(), testMeta(), urls)

	require.Len(t, res.Tasks, len(urls))
	require.LessOrEqual(t, client.maxActive.Load(), int32(5))
	require.Equal(t, len(urls), res.Dispatched)
	require.False(t, res.Tripped)
	for i, task := range res.Tasks {
		require.Equal(t, urls[i], task.URL())
		require.Equal(t, StatusSucceeded, task.Status())
	}
	require.Empty(t, res.Pending())
}

func TestRunPassDispatchesInInputOrder(t *testing.T) {
	t.Parallel()

	client := newFakeClient(respond(200, "ok"))
	sched := newTestScheduler(PassConfig{TargetConcurrency: 1}, client, nil)
	urls := makeURLs(12)

	sched.RunPass(context.Background(), testMeta(), urls)

	require.Equal(t, urls, client.Order())
}

func TestRunPassEmptyInput(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	sched := newTestScheduler(PassConfig{}, newFakeClient(respond(200, "")), emitter)

	res := sched.RunPass(context.Background(), testMeta(), nil)

	require.Empty(t, res.Tasks)
	require.Zero(t, res.Dispatched)
	require.Equal(t, 1, emitter.Count(progress.StagePassStart))
	require.Equal(t, 1, emitter.Count(progress.StagePassDone))
}

func TestRunPassBreakerSequential(t *testing.T) {
	t.Parallel()

	urls := makeURLs(20)
	client := newFakeClient(func(_ context.Context, u string, _ int) (Response, error) {
		if indexOf(urls, u) < 15 {
			return Response{StatusCode: 403}, nil
		}
		return Response{StatusCode: 200, Body: []byte("ok")}, nil
	})
	emitter := &recordingEmitter{}
	sched := newTestScheduler(PassConfig{TargetConcurrency: 1, ForbiddenThreshold: 3}, client, emitter)

	res := sched.RunPass(context.Background(), testMeta(), urls)

	require.True(t, res.Tripped)
	require.Equal(t, 4, res.Dispatched)
	require.Equal(t, 4, client.TotalCalls())
	counts := statusCounts(res.Tasks)
	require.Equal(t, 4, counts[StatusForbidden])
	require.Equal(t, 16, counts[StatusNew])
	require.Len(t, res.Pending(), 20)
	require.Equal(t, 1, emitter.Count(progress.StageBreakerTripped))
	done, ok := emitter.Last(progress.StagePassDone)
	require.True(t, ok)
	require.Equal(t, "tripped", done.Note)
}

func TestRunPassBreakerCancelsInFlight(t *testing.T) {
	t.Parallel()

	urls := makeURLs(20)
	client := newFakeClient(func(ctx context.Context, u string, _ int) (Response, error) {
		i := indexOf(urls, u)
		if i >= 15 {
			return Response{StatusCode: 200, Body: []byte("ok")}, nil
		}
		return waitThen(ctx, time.Duration(i+1)*15*time.Millisecond, Response{StatusCode: 403})
	})
	// The five fast URLs are placed first so they resolve before the breaker trips.
	ordered := append(append([]string(nil), urls[15:]...), urls[:15]...)
	sched := newTestScheduler(PassConfig{TargetConcurrency: 20, ForbiddenThreshold: 3}, client, nil)

	res := sched.RunPass(context.Background(), testMeta(), ordered)

	require.True(t, res.Tripped)
	requireNoneInFlight(t, res.Tasks)
	counts := statusCounts(res.Tasks)
	require.Equal(t, 5, counts[StatusSucceeded])
	require.GreaterOrEqual(t, counts[StatusForbidden], 4)
	require.Equal(t, 15, counts[StatusForbidden]+counts[StatusNew])
	for _, task := range res.Tasks {
		if task.Status() == StatusNew {
			_, hasBody := task.Body()
			require.False(t, hasBody)
		}
	}
}

func TestRunPassThresholdZeroTripsOnFirstForbidden(t *testing.T) {
	t.Parallel()

	client := newFakeClient(respond(403, ""))
	sched := newTestScheduler(PassConfig{TargetConcurrency: 1, ForbiddenThreshold: 0}, client, nil)

	res := sched.RunPass(context.Background(), testMeta(), makeURLs(5))

	require.True(t, res.Tripped)
	require.Equal(t, 1, client.TotalCalls())
}

func TestRunPassTransportFailuresCountTowardBreaker(t *testing.T) {
	t.Parallel()

	client := newFakeClient(func(context.Context, string, int) (Response, error) {
		return Response{}, errTimeout
	})
	sched := newTestScheduler(PassConfig{TargetConcurrency: 1, ForbiddenThreshold: 1}, client, nil)

	res := sched.RunPass(context.Background(), testMeta(), makeURLs(6))

	require.True(t, res.Tripped)
	require.Equal(t, 2, res.Dispatched)
	for _, task := range res.Tasks[:2] {
		require.Equal(t, CauseTransport, task.Cause())
	}
}

func TestRunPassCancellation(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 3)
	client := newFakeClient(func(ctx context.Context, _ string, _ int) (Response, error) {
		started <- struct{}{}
		<-ctx.Done()
		return Response{}, ctx.Err()
	})
	emitter := &recordingEmitter{}
	sched := newTestScheduler(PassConfig{TargetConcurrency: 3}, client, emitter)
	ctx, cancel := context.WithCancel(context.Background())

	resCh := make(chan PassResult, 1)
	go func() { resCh <- sched.RunPass(ctx, testMeta(), makeURLs(3)) }()
	for range 3 {
		<-started
	}
	cancel()

	var res PassResult
	select {
	case res = <-resCh:
	case <-time.After(5 * time.Second):
		t.Fatal("pass did not return after cancellation")
	}
	for _, task := range res.Tasks {
		require.Equal(t, StatusNew, task.Status())
		_, hasBody := task.Body()
		require.False(t, hasBody)
	}
	require.Len(t, res.Pending(), 3)
	require.Equal(t, 3, emitter.Count(progress.StageFetchDone))
	done, ok := emitter.Last(progress.StagePassDone)
	require.True(t, ok)
	require.Equal(t, "canceled", done.Note)
}

func TestRunPassEmitsProgress(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	sched := newTestScheduler(PassConfig{TargetConcurrency: 10, ProgressInterval: 3, Verbose: true},
		newFakeClient(respond(200, "body")), emitter)

	res := sched.RunPass(context.Background(), testMeta(), makeURLs(10))

	require.Len(t, res.Tasks, 10)
	assert.Equal(t, 3, emitter.Count(progress.StagePassProgress))
	assert.Equal(t, 10, emitter.Count(progress.StageFetchStart))
	assert.Equal(t, 10, emitter.Count(progress.StageFetchDone))
	done, ok := emitter.Last(progress.StagePassDone)
	require.True(t, ok)
	assert.Equal(t, 10, done.Succeeded)
	assert.Equal(t, "completed", done.Note)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	for _, evt := range emitter.events {
		require.NoError(t, evt.Validate(), "stage %s", evt.Stage)
		if evt.Stage == progress.StageFetchDone {
			assert.Equal(t, "200", evt.Outcome)
			assert.Equal(t, int64(4), evt.Bytes)
		}
	}
}

func TestPassConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := PassConfig{ForbiddenThreshold: -1}.withDefaults()
	require.Equal(t, DefaultTargetConcurrency, cfg.TargetConcurrency)
	require.Equal(t, DefaultForbiddenThreshold, cfg.ForbiddenThreshold)
	require.Equal(t, DefaultProgressInterval, cfg.ProgressInterval)

	zero := PassConfig{TargetConcurrency: 4}.withDefaults()
	require.Zero(t, zero.ForbiddenThreshold)
}

func TestDefaultPassConfigToleratesTenForbidden(t *testing.T) {
	t.Parallel()

	cfg := DefaultPassConfig()
	require.Equal(t, DefaultTargetConcurrency, cfg.TargetConcurrency)
	require.Equal(t, DefaultForbiddenThreshold, cfg.ForbiddenThreshold)
	require.Equal(t, DefaultProgressInterval, cfg.ProgressInterval)

	urls := makeURLs(15)
	client := newFakeClient(func(_ context.Context, u string, _ int) (Response, error) {
		if indexOf(urls, u) < 10 {
			return Response{StatusCode: 403}, nil
		}
		return Response{StatusCode: 200, Body: []byte("ok")}, nil
	})
	cfg.TargetConcurrency = 1
	sched := newTestScheduler(cfg, client, nil)

	res := sched.RunPass(context.Background(), testMeta(), urls)

	require.False(t, res.Tripped)
	require.Equal(t, len(urls), res.Dispatched)
	require.Len(t, res.Pending(), 10)
}
