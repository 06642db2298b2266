package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bulk-fetcher/internal/fetch"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello " + r.UserAgent()))
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "go away", http.StatusForbidden)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte("gone for good"))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
			_, _ = w.Write([]byte("late"))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetcherGetStatusCodes(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{UserAgent: "bulk-test", Timeout: 2 * time.Second})

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{path: "/ok", wantCode: http.StatusOK, wantBody: "hello bulk-test"},
		{path: "/forbidden", wantCode: http.StatusForbidden, wantBody: "go away\n"},
		{path: "/gone", wantCode: http.StatusGone, wantBody: "gone for good"},
		{path: "/missing", wantCode: http.StatusNotFound},
		{path: "/broken", wantCode: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			resp, err := f.Get(context.Background(), srv.URL+tt.path)
			require.NoError(t, err)
			require.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantBody != "" {
				require.Equal(t, tt.wantBody, string(resp.Body))
			}
		})
	}
}

func TestFetcherAllowsRevisit(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{})
	for range 3 {
		resp, err := f.Get(context.Background(), srv.URL+"/forbidden")
		require.NoError(t, err)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestFetcherMaxBodySize(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{MaxBodySize: 100})
	resp, err := f.Get(context.Background(), srv.URL+"/big")
	require.NoError(t, err)
	require.Len(t, resp.Body, 100)
}

func TestFetcherTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(Config{Timeout: time.Second})
	_, err := f.Get(context.Background(), addr+"/closed")
	require.Error(t, err)
}

func TestFetcherTimeout(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{Timeout: 50 * time.Millisecond})
	_, err := f.Get(context.Background(), srv.URL+"/slow")
	require.Error(t, err)
}

func TestFetcherCancellation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{Timeout: 10 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.Get(ctx, srv.URL+"/slow")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestFetcherImplementsClient(t *testing.T) {
	t.Parallel()
	var _ fetch.Client = New(Config{})
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	var (
		result   fetch.Response
		gotResp  bool
		fetchErr error
	)

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &gotResp, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	body := []byte("body")
	hooks.onResponse(&colly.Response{StatusCode: http.StatusCreated, Body: body})
	body[0] = 'X'
	require.True(t, gotResp)
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
