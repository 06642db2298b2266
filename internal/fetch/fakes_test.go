package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/bulk-fetcher/internal/progress"
)

type handlerFunc func(ctx context.Context, url string, call int) (Response, error)

type fakeClient struct {
	mu        sync.Mutex
	calls     map[string]int
	order     []string
	handle    handlerFunc
	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeClient(h handlerFunc) *fakeClient {
	return &fakeClient{calls: make(map[string]int), handle: h}
}

func (f *fakeClient) Get(ctx context.Context, url string) (Response, error) {
	f.mu.Lock()
	f.calls[url]++
	n := f.calls[url]
	f.order = append(f.order, url)
	f.mu.Unlock()

	cur := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.maxActive.Load()
		if cur <= peak || f.maxActive.CompareAndSwap(peak, cur) {
			break
		}
	}
	return f.handle(ctx, url, n)
}

func (f *fakeClient) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeClient) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

func (f *fakeClient) Order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func respond(code int, body string) handlerFunc {
	return func(context.Context, string, int) (Response, error) {
		return Response{StatusCode: code, Body: []byte(body)}, nil
	}
}

var errTimeout = errors.New("i/o timeout")

// waitThen blocks for d (or until ctx ends) before answering.
func waitThen(ctx context.Context, d time.Duration, resp Response) (Response, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-timer.C:
		return resp, nil
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Count(stage progress.Stage) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Stage == stage {
			n++
		}
	}
	return n
}

func (r *recordingEmitter) Last(stage progress.Stage) (progress.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Stage == stage {
			return r.events[i], true
		}
	}
	return progress.Event{}, false
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type fakeIDs struct {
	id  uuid.UUID
	err error
}

func (f fakeIDs) NewRawID() (uuid.UUID, error) { return f.id, f.err }

type fakeLimiter struct {
	err   error
	calls atomic.Int32
}

func (l *fakeLimiter) Wait(context.Context, string) error {
	l.calls.Add(1)
	return l.err
}

func testMeta() PassMeta {
	return PassMeta{RunID: progress.UUIDToBytes(uuid.New()), Number: 1}
}
