// Package workpool bounds the number of blocking stream readers running at
// once across every subscription owned by a client.
package workpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is the number of concurrent readers used when a client does not
// configure its own limit.
const DefaultSize = 64

// Pool hands out goroutines guarded by a weighted semaphore.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// New returns a Pool that runs at most size functions at once. A size of zero
// or less means unbounded.
func New(size int64) *Pool {
	p := &Pool{}
	if size > 0 {
		p.sem = semaphore.NewWeighted(size)
	}
	return p
}

// Go runs fn on a new goroutine once a slot is free. It never blocks the
// caller.
//
// If ctx ends while waiting for a slot, fn still runs, without holding a
// slot, so it can observe ctx.Err() and report its own cancellation.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if p.sem == nil {
			fn(ctx)
			return
		}
		if err := p.sem.Acquire(ctx, 1); err != nil {
			fn(ctx)
			return
		}
		defer p.sem.Release(1)
		fn(ctx)
	}()
}

// Wait blocks until every function started with Go has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
