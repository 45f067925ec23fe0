package workpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(2)

	var active, peak atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		p.Go(t.Context(), func(context.Context) {
			n := active.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			active.Add(-1)
		})
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	p.Wait()

	if got := peak.Load(); got > 2 {
		t.Errorf("want at most 2 concurrent functions, saw %d", got)
	}
}

func TestPoolRunsCancelledWork(t *testing.T) {
	p := New(1)

	block := make(chan struct{})
	p.Go(t.Context(), func(context.Context) { <-block })

	ctx, cancel := context.WithCancel(t.Context())
	got := make(chan error, 1)
	p.Go(ctx, func(ctx context.Context) { got <- ctx.Err() })
	cancel()

	select {
	case err := <-got:
		if err == nil {
			t.Errorf("want a cancelled context")
		}
	case <-time.After(time.Second):
		t.Fatalf("cancelled work never ran")
	}

	close(block)
	p.Wait()
}

func TestUnboundedPool(t *testing.T) {
	p := New(0)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		p.Go(t.Context(), func(context.Context) { n.Add(1) })
	}
	p.Wait()
	if n.Load() != 10 {
		t.Errorf("want 10 runs, got %d", n.Load())
	}
}
