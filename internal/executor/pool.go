// Package executor runs blocking SDK calls on a bounded set of goroutines
// so callers never hold more than a fixed number of them in flight.
package executor

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is used when a pool is created with a non-positive size.
const DefaultWorkers = 4

// Pool bounds the number of concurrent blocking calls.
type Pool struct {
	sem     *semaphore.Weighted
	workers int
}

// New returns a pool that allows at most workers concurrent calls.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), workers: workers}
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

// Run executes fn on a pool goroutine and waits for it to finish.
// ctx only bounds the wait for a free slot: once started, fn runs to
// completion because the SDK calls it wraps cannot be interrupted.
func Run[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, fmt.Errorf("executor: waiting for worker: %w", err)
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer p.sem.Release(1)
		v, err := fn()
		done <- result{v: v, err: err}
	}()

	r := <-done
	return r.v, r.err
}

// Do is Run for calls that return only an error.
func Do(ctx context.Context, p *Pool, fn func() error) error {
	_, err := Run(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
