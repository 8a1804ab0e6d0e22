package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/restockwatch/internal/stock"
)

func makeTargets(n int) []stock.Target {
	out := make([]stock.Target, n)
	for i := range out {
		out[i] = stock.Target{Name: fmt.Sprintf("t%d", i), URL: fmt.Sprintf("https://shop.example/%d", i)}
	}
	return out
}

func echoFetch(_ context.Context, t stock.Target) stock.FetchResult {
	return stock.FetchResult{Outcome: stock.OutcomeFetched, Response: stock.FetchResponse{URL: t.URL}}
}

func TestSequentialPreservesOrder(t *testing.T) {
	t.Parallel()

	targets := makeTargets(5)
	var visited []string
	fetch := func(ctx context.Context, tg stock.Target) stock.FetchResult {
		visited = append(visited, tg.Name)
		return echoFetch(ctx, tg)
	}

	results := NewSequential(Options{}).Run(context.Background(), targets, fetch)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, targets[i], r.Target)
		assert.Equal(t, targets[i].URL, r.Response.URL)
	}
	assert.Equal(t, []string{"t0", "t1", "t2", "t3", "t4"}, visited)
}

func TestShuffleChangesVisitOrderNotResultOrder(t *testing.T) {
	t.Parallel()

	targets := makeTargets(4)
	var visited []string
	fetch := func(ctx context.Context, tg stock.Target) stock.FetchResult {
		visited = append(visited, tg.Name)
		return echoFetch(ctx, tg)
	}
	// Always picking 0 rotates the visit order left by one.
	opts := Options{Shuffle: true, Rand: func(int64) int64 { return 0 }}

	results := NewSequential(opts).Run(context.Background(), targets, fetch)
	assert.Equal(t, []string{"t1", "t2", "t3", "t0"}, visited)
	for i, r := range results {
		assert.Equal(t, targets[i], r.Target)
	}
}

func TestJitterSleepsWithinBound(t *testing.T) {
	t.Parallel()

	var slept time.Duration
	opts := Options{
		Jitter: 20 * time.Second,
		Rand:   func(n int64) int64 { return n - 1 },
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = d
			return nil
		},
	}
	NewPool(2, opts).Run(context.Background(), makeTargets(1), echoFetch)
	assert.Equal(t, 20*time.Second, slept)
}

func TestJitterCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := Options{Jitter: time.Hour}
	var calls atomic.Int32
	results := NewSequential(opts).Run(ctx, makeTargets(2), func(ctx context.Context, tg stock.Target) stock.FetchResult {
		calls.Add(1)
		return echoFetch(ctx, tg)
	})
	assert.Zero(t, calls.Load())
	for _, r := range results {
		assert.Equal(t, stock.OutcomeFailed, r.Outcome)
		assert.True(t, errors.Is(r.Err, context.Canceled))
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	const limit = 3
	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		mu       sync.Mutex
		seen     = map[string]bool{}
	)
	fetch := func(ctx context.Context, tg stock.Target) stock.FetchResult {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		mu.Lock()
		seen[tg.URL] = true
		mu.Unlock()
		return echoFetch(ctx, tg)
	}

	targets := makeTargets(12)
	results := NewPool(limit, Options{}).Run(context.Background(), targets, fetch)

	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.Len(t, seen, 12)
	for i, r := range results {
		assert.Equal(t, targets[i], r.Target)
		assert.Equal(t, stock.OutcomeFetched, r.Outcome)
	}
}

func TestPoolDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultConcurrency, NewPool(0, Options{}).Concurrency())
	assert.Empty(t, NewPool(1, Options{}).Run(context.Background(), nil, echoFetch))
}

func TestFailuresStayLocal(t *testing.T) {
	t.Parallel()

	boom := errors.New("timeout")
	fetch := func(ctx context.Context, tg stock.Target) stock.FetchResult {
		if tg.Name == "t1" {
			return stock.FetchResult{Outcome: stock.OutcomeFailed, Err: boom}
		}
		return echoFetch(ctx, tg)
	}
	results := NewPool(2, Options{}).Run(context.Background(), makeTargets(3), fetch)
	assert.Equal(t, stock.OutcomeFetched, results[0].Outcome)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.Equal(t, stock.OutcomeFetched, results[2].Outcome)
}
