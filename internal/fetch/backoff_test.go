package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixedBackoff(t *testing.T) {
	t.Parallel()

	unbounded := NewFixedBackoff(5 * time.Minute)
	for _, n := range []int{1, 10, 1000} {
		d, ok := unbounded.Next(n)
		require.True(t, ok)
		require.Equal(t, 5*time.Minute, d)
	}

	capped := FixedBackoff{Delay: time.Second, MaxPasses: 2}
	_, ok := capped.Next(1)
	require.True(t, ok)
	_, ok = capped.Next(2)
	require.False(t, ok)

	d, ok := FixedBackoff{Delay: -time.Second}.Next(1)
	require.True(t, ok)
	require.Zero(t, d)
}

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	p := ExponentialBackoff{Base: time.Second, Max: 10 * time.Second}
	tests := []struct {
		pass    int
		ceiling time.Duration
	}{
		{pass: 1, ceiling: time.Second},
		{pass: 2, ceiling: 2 * time.Second},
		{pass: 3, ceiling: 4 * time.Second},
		{pass: 4, ceiling: 8 * time.Second},
		{pass: 5, ceiling: 10 * time.Second},
		{pass: 40, ceiling: 10 * time.Second},
	}
	for _, tt := range tests {
		d, ok := p.Next(tt.pass)
		require.True(t, ok)
		require.GreaterOrEqual(t, d, tt.ceiling/2, "pass %d", tt.pass)
		require.LessOrEqual(t, d, tt.ceiling, "pass %d", tt.pass)
	}

	_, ok := ExponentialBackoff{Base: time.Second, MaxPasses: 1}.Next(1)
	require.False(t, ok)

	d, ok := ExponentialBackoff{}.Next(3)
	require.True(t, ok)
	require.Zero(t, d)
}

func TestExponentialBackoffWithoutMaxNeverGoesNegative(t *testing.T) {
	t.Parallel()

	p := ExponentialBackoff{Base: 5 * time.Minute}
	prev := time.Duration(0)
	for _, pass := range []int{1, 10, 20, 30, 40, 100, 2000} {
		d, ok := p.Next(pass)
		require.True(t, ok)
		require.Positive(t, d, "pass %d", pass)
		require.GreaterOrEqual(t, d, prev/2, "pass %d", pass)
		prev = d
	}

	d, ok := p.Next(2000)
	require.True(t, ok)
	require.GreaterOrEqual(t, d, maxBackoffDelay/2)
}

func TestExponentialBackoffBaseAboveMax(t *testing.T) {
	t.Parallel()

	d, ok := ExponentialBackoff{Base: time.Hour, Max: time.Minute}.Next(1)
	require.True(t, ok)
	require.GreaterOrEqual(t, d, 30*time.Second)
	require.LessOrEqual(t, d, time.Minute)
}
