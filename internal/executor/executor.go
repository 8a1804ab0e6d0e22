// Package executor runs a batch of target fetches either one at a time or on
// a bounded pool. Both strategies return one result per target in target
// order so the caller can merge state single-threaded.
package executor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/restockwatch/internal/metrics"
	"github.com/JakeFAU/restockwatch/internal/stock"
)

// DefaultConcurrency is the pool size when none is configured.
const DefaultConcurrency = 8

// FetchFunc fetches and classifies a single target.
type FetchFunc = func(context.Context, stock.Target) stock.FetchResult

// Options shape how a batch starts.
type Options struct {
	// Jitter delays the batch start by a random duration in [0, Jitter].
	Jitter time.Duration
	// Shuffle randomizes the fetch order. Results stay in target order.
	Shuffle bool
	// Sleep waits for d or until ctx ends; defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a value in [0, n); defaults to math/rand/v2.
	Rand func(n int64) int64
}

func (o Options) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (o Options) randN(n int64) int64 {
	if o.Rand != nil {
		return o.Rand(n)
	}
	return rand.Int64N(n)
}

// startDelay returns the jitter to wait before the first fetch.
func (o Options) startDelay() time.Duration {
	if o.Jitter <= 0 {
		return 0
	}
	return time.Duration(o.randN(int64(o.Jitter) + 1))
}

// order returns the indices to visit.
func (o Options) order(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if !o.Shuffle {
		return idx
	}
	for i := n - 1; i > 0; i-- {
		j := int(o.randN(int64(i + 1)))
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx
}

// Sequential fetches one target at a time.
type Sequential struct {
	opts Options
}

var _ stock.Executor = (*Sequential)(nil)

// NewSequential builds a Sequential executor.
func NewSequential(opts Options) *Sequential {
	return &Sequential{opts: opts}
}

// Run implements stock.Executor.
func (s *Sequential) Run(ctx context.Context, targets []stock.Target, fetch FetchFunc) []stock.FetchResult {
	results := make([]stock.FetchResult, len(targets))
	if err := s.opts.sleep(ctx, s.opts.startDelay()); err != nil {
		fillCanceled(results, targets, err)
		return results
	}
	for _, i := range s.opts.order(len(targets)) {
		if err := ctx.Err(); err != nil {
			results[i] = canceled(targets[i], err)
			continue
		}
		results[i] = tracked(ctx, targets[i], fetch)
	}
	return results
}

// Pool fetches up to Concurrency targets at once.
type Pool struct {
	concurrency int
	opts        Options
}

var _ stock.Executor = (*Pool)(nil)

// NewPool builds a Pool executor. Non-positive concurrency uses
// DefaultConcurrency.
func NewPool(concurrency int, opts Options) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pool{concurrency: concurrency, opts: opts}
}

// Concurrency reports the pool size.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// Run implements stock.Executor. Each goroutine writes only its own slot.
func (p *Pool) Run(ctx context.Context, targets []stock.Target, fetch FetchFunc) []stock.FetchResult {
	results := make([]stock.FetchResult, len(targets))
	if err := p.opts.sleep(ctx, p.opts.startDelay()); err != nil {
		fillCanceled(results, targets, err)
		return results
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, i := range p.opts.order(len(targets)) {
		if err := ctx.Err(); err != nil {
			results[i] = canceled(targets[i], err)
			continue
		}
		g.Go(func() error {
			results[i] = tracked(ctx, targets[i], fetch)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func tracked(ctx context.Context, target stock.Target, fetch FetchFunc) stock.FetchResult {
	metrics.IncActiveFetches()
	defer metrics.DecActiveFetches()
	res := fetch(ctx, target)
	res.Target = target
	return res
}

func canceled(target stock.Target, err error) stock.FetchResult {
	return stock.FetchResult{
		Target:  target,
		Outcome: stock.OutcomeFailed,
		Err:     fmt.Errorf("fetch skipped: %w", err),
	}
}

func fillCanceled(results []stock.FetchResult, targets []stock.Target, err error) {
	for i := range targets {
		results[i] = canceled(targets[i], err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("start jitter: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
