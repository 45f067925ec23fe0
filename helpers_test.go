package pushstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/pushstream-go/subscription"
	"github.com/ggoodman/pushstream-go/wire"
)

type collector struct {
	mu    sync.Mutex
	calls []string
	ids   []string
	errs  []error
	ends  []*wire.EndOfStream
}

func (c *collector) listeners() subscription.Listeners {
	return subscription.Listeners{
		OnOpen: func(wire.Headers) { c.add("open") },
		OnEvent: func(ev wire.Event) {
			c.mu.Lock()
			c.ids = append(c.ids, ev.ID)
			c.mu.Unlock()
			c.add("event:" + ev.ID)
		},
		OnEnd: func(eos *wire.EndOfStream) {
			c.mu.Lock()
			c.ends = append(c.ends, eos)
			c.mu.Unlock()
			if eos == nil {
				c.add("end")
				return
			}
			c.add(fmt.Sprintf("end:%d", eos.StatusCode))
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
			c.add("error")
		},
		OnRetrying: func() { c.add("retrying") },
	}
}

func (c *collector) add(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *collector) eventIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *collector) terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)+len(c.ends) > 0
}

func (c *collector) count(call string) int {
	n := 0
	for _, got := range c.snapshot() {
		if got == call {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ============================================================================

// logBridge is an implementation of slog.Handler that works
// with the stdlib testing pkg.
type logBridge struct {
	slog.Handler
	t    testing.TB
	buf  *bytes.Buffer
	mu   *sync.Mutex
	done *bool
}

// Handle implements slog.Handler.
func (b *logBridge) Handle(ctx context.Context, rec slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.Handler.Handle(ctx, rec)
	if err != nil {
		return err
	}

	output, err := io.ReadAll(b.buf)
	if err != nil {
		return err
	}
	if *b.done {
		return nil
	}

	output = bytes.TrimSuffix(output, []byte("\n"))
	b.t.Helper()
	b.t.Log(string(output))

	return nil
}

// WithAttrs implements slog.Handler.
func (b *logBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &logBridge{t: b.t, buf: b.buf, mu: b.mu, done: b.done, Handler: b.Handler.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (b *logBridge) WithGroup(name string) slog.Handler {
	return &logBridge{t: b.t, buf: b.buf, mu: b.mu, done: b.done, Handler: b.Handler.WithGroup(name)}
}

func testLogger(t *testing.T) *slog.Logger {
	b := &logBridge{t: t, buf: &bytes.Buffer{}, mu: &sync.Mutex{}, done: new(bool)}
	b.Handler = slog.NewTextHandler(b.buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	t.Cleanup(func() {
		b.mu.Lock()
		*b.done = true
		b.mu.Unlock()
	})
	return slog.New(b)
}
