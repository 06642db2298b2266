package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	// 10 RPS with burst 1: the second call on the same host waits ~100ms.
	l, err := New(Config{DefaultRPS: 10, DefaultBurst: 1, Registerer: reg})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://TEST.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, 1, l.Hosts())
	require.Equal(t, 1, testutil.CollectAndCount(reg, "fetcher_rate_limit_delay_seconds"))
}

func TestLimiter_DifferentHosts(t *testing.T) {
	t.Parallel()

	l, err := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))

	// Host B is not blocked by A.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, 2, l.Hosts())
}

func TestLimiter_DisabledIsUnlimited(t *testing.T) {
	t.Parallel()

	l, err := New(Config{})
	require.NoError(t, err)
	require.False(t, l.Enabled())

	start := time.Now()
	for range 100 {
		require.NoError(t, l.Wait(context.Background(), "https://example.com"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Zero(t, l.Hosts())
}

func TestLimiter_ContextCanceled(t *testing.T) {
	t.Parallel()

	l, err := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, err)
	require.NoError(t, l.Wait(context.Background(), "https://slow.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.com"))
}

func TestLimiter_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := New(Config{DefaultRPS: 1, Registerer: reg})
	require.NoError(t, err)
	_, err = New(Config{DefaultRPS: 1, Registerer: reg})
	require.Error(t, err)
}
