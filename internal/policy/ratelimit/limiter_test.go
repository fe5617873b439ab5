package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitUnlimitedNeverBlocks(t *testing.T) {
	t.Parallel()
	l := New(Config{})

	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "example.com"))
	}
	require.Less(t, time.Since(start), time.Second)
}

func TestWaitSpacesRequestsPerHost(t *testing.T) {
	t.Parallel()
	l := New(Config{PerHostRPS: 10, Burst: 1})

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "example.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "example.com"))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitHostsAreIndependent(t *testing.T) {
	t.Parallel()
	l := New(Config{PerHostRPS: 0.1, Burst: 1})

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "a.example"))

	// A different host has its own bucket and gets a token immediately.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "b.example"))
	require.Less(t, time.Since(start), time.Second)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	t.Parallel()
	l := New(Config{PerHostRPS: 0.01, Burst: 1})

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "slow.example"))

	canceled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(canceled, "slow.example"))
}
