// Package parallel runs independent jobs over a bounded set of goroutines.
package parallel

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// PoolConfig bounds concurrency for Map and ForEach.
type PoolConfig struct {
	// MaxWorkers caps concurrent jobs. Zero means DefaultPoolConfig's value.
	MaxWorkers int
	// Timeout bounds the whole run. Zero means none.
	Timeout time.Duration
	// OnProgress, when set, is called after each successful job with the
	// number of completed jobs and the total.
	OnProgress func(completed, total int)
}

// DefaultPoolConfig uses NumCPU workers clamped to [2, 8].
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxWorkers: min(max(runtime.NumCPU(), 2), 8)}
}

// WithWorkers returns a copy using n workers.
func (c PoolConfig) WithWorkers(n int) PoolConfig {
	c.MaxWorkers = n
	return c
}

// WithTimeout returns a copy with the given overall timeout.
func (c PoolConfig) WithTimeout(d time.Duration) PoolConfig {
	c.Timeout = d
	return c
}

func (c PoolConfig) workers(jobs int) int {
	n := c.MaxWorkers
	if n <= 0 {
		n = DefaultPoolConfig().MaxWorkers
	}
	return max(min(n, jobs), 1)
}

// Map applies fn to every input concurrently and returns the outputs in
// input order. The first error cancels the remaining jobs and is returned.
func Map[T any, R any](
	ctx context.Context,
	inputs []T,
	config PoolConfig,
	fn func(ctx context.Context, input T) (R, error),
) ([]R, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	results := make([]R, len(inputs))
	var completed atomic.Int64

	// gctx is canceled once Wait returns, so the parent ctx is checked after.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.workers(len(inputs)))

	for i := range inputs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, inputs[i])
			if err != nil {
				return err
			}
			results[i] = r
			done := completed.Add(1)
			if config.OnProgress != nil {
				config.OnProgress(int(done), len(inputs))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// ForEach is Map without results.
func ForEach[T any](
	ctx context.Context,
	items []T,
	config PoolConfig,
	fn func(ctx context.Context, item T) error,
) error {
	_, err := Map(ctx, items, config, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	})
	return err
}
