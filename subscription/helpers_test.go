package subscription

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/pushstream-go/wire"
)

// recorder captures every listener call in order.
type recorder struct {
	mu     sync.Mutex
	calls  []string
	events []wire.Event
	errs   []error
	ends   []*wire.EndOfStream
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) listeners() Listeners {
	return Listeners{
		OnOpen: func(wire.Headers) { r.add("open") },
		OnEvent: func(e wire.Event) {
			r.mu.Lock()
			r.events = append(r.events, e)
			r.mu.Unlock()
			r.add("event:" + e.ID)
		},
		OnEnd: func(eos *wire.EndOfStream) {
			r.mu.Lock()
			r.ends = append(r.ends, eos)
			r.mu.Unlock()
			if eos == nil {
				r.add("end")
				return
			}
			r.add(fmt.Sprintf("end:%d", eos.StatusCode))
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.add("error")
		},
		OnRetrying:  func() { r.add("retrying") },
		OnSubscribe: func() { r.add("subscribe") },
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(call string) int {
	n := 0
	for _, c := range r.snapshot() {
		if c == call {
			n++
		}
	}
	return n
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) endings() []*wire.EndOfStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*wire.EndOfStream(nil), r.ends...)
}

func (r *recorder) terminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)+len(r.ends) > 0
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

// fakeAttempt is one invocation of a fakeStrategy.
type fakeAttempt struct {
	l        Listeners
	h        wire.Headers
	mu       sync.Mutex
	unsubbed int
}

func (a *fakeAttempt) Unsubscribe() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unsubbed++
}

func (a *fakeAttempt) unsubscribed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unsubbed
}

// fakeStrategy records every attempt so tests can drive its listeners.
type fakeStrategy struct {
	mu       sync.Mutex
	attempts []*fakeAttempt
}

func (f *fakeStrategy) strategy(l Listeners, h wire.Headers) Subscription {
	a := &fakeAttempt{l: l, h: h}
	f.mu.Lock()
	f.attempts = append(f.attempts, a)
	f.mu.Unlock()
	return a
}

func (f *fakeStrategy) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

func (f *fakeStrategy) attempt(i int) *fakeAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[i]
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

	// Background readers may still log after the test returned; t.Log
	// would panic then.
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
	return &logBridge{
		t:       b.t,
		buf:     b.buf,
		mu:      b.mu,
		done:    b.done,
		Handler: b.Handler.WithAttrs(attrs),
	}
}

// WithGroup implements slog.Handler.
func (b *logBridge) WithGroup(name string) slog.Handler {
	return &logBridge{
		t:       b.t,
		buf:     b.buf,
		mu:      b.mu,
		done:    b.done,
		Handler: b.Handler.WithGroup(name),
	}
}

func testLogHandler(t *testing.T) *logBridge {
	b := &logBridge{
		t:    t,
		buf:  &bytes.Buffer{},
		mu:   &sync.Mutex{},
		done: new(bool),
	}
	b.Handler = slog.NewTextHandler(b.buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	t.Cleanup(func() {
		b.mu.Lock()
		*b.done = true
		b.mu.Unlock()
	})
	return b
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(testLogHandler(t))
}
