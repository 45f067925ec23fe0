package pushstream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/pushstream-go/auth/authtest"
	"github.com/ggoodman/pushstream-go/cursor/memory"
	"github.com/ggoodman/pushstream-go/internal/streamtest"
	"github.com/ggoodman/pushstream-go/retry"
	"github.com/ggoodman/pushstream-go/subscription"
	"github.com/ggoodman/pushstream-go/wire"
)

var fastRetry = retry.Options{InitialTimeout: 5 * time.Millisecond, MaxTimeout: 20 * time.Millisecond, Limit: -1}

func newTestClient(t *testing.T, opts ...Option) (*Client, *streamtest.Server) {
	t.Helper()
	srv := streamtest.New()
	hs := srv.Start(t)
	c, err := New(hs.URL, append([]Option{WithLogger(testLogger(t))}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func TestSubscribeResumingDeliversEventsThenEnd(t *testing.T) {
	c, srv := newTestClient(t)
	var want []string
	for i := 0; i < 10; i++ {
		want = append(want, srv.Publish(map[string]int{"n": i}))
	}
	srv.End(wire.EndOfStream{StatusCode: 200})

	var col collector
	sub := c.SubscribeResuming("feeds/news", col.listeners())
	defer sub.Unsubscribe()

	waitFor(t, "end of stream", col.terminated)

	if got := col.eventIDs(); !equalStrings(want, got) {
		t.Errorf("want events %v, got %v", want, got)
	}
	calls := col.snapshot()
	if calls[0] != "open" || calls[len(calls)-1] != "end:200" {
		t.Errorf("want open first and end:200 last, got %v", calls)
	}

	reqs := srv.Requests()
	if len(reqs) != 1 {
		t.Fatalf("want 1 request, got %d", len(reqs))
	}
	if reqs[0].Method != "SUBSCRIBE" || reqs[0].Path != "/feeds/news" {
		t.Errorf("unexpected request %s %s", reqs[0].Method, reqs[0].Path)
	}
	if got := reqs[0].Headers.Get(wire.LastEventIDHeader); got != "" {
		t.Errorf("first attempt should not send Last-Event-Id, got %q", got)
	}
}

func TestExpiredTokenIsRefreshedSilently(t *testing.T) {
	c, srv := newTestClient(t)
	srv.FailNext(streamtest.Failure{
		Status: http.StatusUnauthorized,
		Body:   wire.ErrorResponseBody{Error: subscription.ExpiredTokenCode},
	})
	srv.Publish("hello")
	srv.End(wire.EndOfStream{StatusCode: 200})

	tp := authtest.Tokens("stale", "fresh")
	var col collector
	sub := c.SubscribeNonResuming("feed", col.listeners(), WithTokenProvider(tp, "params"), WithRetryOptions(fastRetry))
	defer sub.Unsubscribe()

	waitFor(t, "end of stream", col.terminated)

	if col.count("error") != 0 || col.count("retrying") != 0 {
		t.Errorf("token refresh should be invisible, got %v", col.snapshot())
	}
	reqs := srv.Requests()
	if len(reqs) != 2 {
		t.Fatalf("want 2 requests, got %d", len(reqs))
	}
	if got := reqs[0].Headers.Get("Authorization"); got != "Bearer stale" {
		t.Errorf("first attempt: want Bearer stale, got %q", got)
	}
	if got := reqs[1].Headers.Get("Authorization"); got != "Bearer fresh" {
		t.Errorf("second attempt: want Bearer fresh, got %q", got)
	}
	if got := tp.Cleared(); !equalStrings([]string{"stale"}, got) {
		t.Errorf("want stale token cleared, got %v", got)
	}
	for _, p := range tp.Params() {
		if p != "params" {
			t.Errorf("want token params passed through, got %v", p)
		}
	}
}

func TestResumesAfterDisconnect(t *testing.T) {
	c, srv := newTestClient(t)
	for i := 0; i < 3; i++ {
		srv.Publish(i)
	}

	var col collector
	sub := c.SubscribeResuming("feed", col.listeners(), WithRetryOptions(fastRetry))
	defer sub.Unsubscribe()

	waitFor(t, "first three events", func() bool { return len(col.eventIDs()) == 3 })

	srv.Disconnect()
	srv.Publish(3)
	srv.Publish(4)

	waitFor(t, "events after reconnect", func() bool { return len(col.eventIDs()) == 5 })

	if got, want := col.eventIDs(), []string{"1", "2", "3", "4", "5"}; !equalStrings(want, got) {
		t.Errorf("want %v, got %v", want, got)
	}
	if col.count("retrying") < 1 {
		t.Errorf("want onRetrying before the reconnect, got %v", col.snapshot())
	}
	reqs := srv.Requests()
	if len(reqs) < 2 {
		t.Fatalf("want at least 2 requests, got %d", len(reqs))
	}
	if got := reqs[1].Headers.Get(wire.LastEventIDHeader); got != "3" {
		t.Errorf("want Last-Event-Id 3 on reconnect, got %q", got)
	}
	if col.terminated() {
		t.Errorf("subscription should still be live, got %v", col.snapshot())
	}
}

func TestNonResumingReconnectsWithoutCursor(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Publish("a")

	var col collector
	sub := c.SubscribeNonResuming("feed", col.listeners(), WithRetryOptions(fastRetry))
	defer sub.Unsubscribe()

	waitFor(t, "first event", func() bool { return len(col.eventIDs()) == 1 })
	srv.Disconnect()
	waitFor(t, "second request", func() bool { return len(srv.Requests()) >= 2 })

	for i, r := range srv.Requests() {
		if got := r.Headers.Get(wire.LastEventIDHeader); got != "" {
			t.Errorf("request %d: unexpected Last-Event-Id %q", i, got)
		}
	}
	// Without a cursor the server replays everything.
	waitFor(t, "replayed event", func() bool { return len(col.eventIDs()) == 2 })
}

func TestNonRetryableErrorIsTerminal(t *testing.T) {
	c, srv := newTestClient(t)
	srv.FailNext(streamtest.Failure{Status: http.StatusNotFound, Body: wire.ErrorResponseBody{Error: "not_found", ErrorDescription: "no such feed"}})

	var col collector
	sub := c.SubscribeResuming("missing", col.listeners(), WithRetryOptions(fastRetry))
	defer sub.Unsubscribe()

	waitFor(t, "terminal error", col.terminated)

	col.mu.Lock()
	errs := append([]error(nil), col.errs...)
	col.mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("want 1 error, got %v", errs)
	}
	var er *wire.ErrorResponse
	if !errors.As(errs[0], &er) {
		t.Fatalf("want *wire.ErrorResponse, got %T", errs[0])
	}
	if er.StatusCode != 404 || er.Code != "not_found" || er.Description != "no such feed" {
		t.Errorf("unexpected error %+v", er)
	}
	if n := len(srv.Requests()); n != 1 {
		t.Errorf("want no retries, got %d requests", n)
	}
}

func TestUnsubscribeIsIdempotentAndSilent(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Publish(1)

	var col collector
	sub := c.SubscribeResuming("feed", col.listeners())
	waitFor(t, "first event", func() bool { return len(col.eventIDs()) == 1 })

	sub.Unsubscribe()
	sub.Unsubscribe()
	before := len(col.snapshot())

	srv.Publish(2)
	waitFor(t, "stream closed", func() bool { return srv.Subscribers() == 0 })
	c.Wait()
	time.Sleep(20 * time.Millisecond)

	if after := col.snapshot(); len(after) != before {
		t.Errorf("callbacks after unsubscribe: %v", after[before:])
	}
}

func TestHeadersAndSDKInfo(t *testing.T) {
	c, srv := newTestClient(t, WithSDKInfo(SDKInfo{Product: "feeds", Version: "1.2.3", Language: "go", Platform: "server"}))
	srv.End(wire.EndOfStream{StatusCode: 200})

	var col collector
	sub := c.SubscribeNonResuming("feed", col.listeners(), WithHeaders(wire.Headers{"X-Trace": {"abc"}, "x-sdk-platform": {"custom"}}))
	defer sub.Unsubscribe()
	waitFor(t, "end", col.terminated)

	h := srv.Requests()[0].Headers
	for name, want := range map[string]string{
		"X-SDK-Product":  "feeds",
		"X-SDK-Version":  "1.2.3",
		"X-SDK-Language": "go",
		"X-SDK-Platform": "custom",
		"X-Trace":        "abc",
	} {
		if got := h.Get(name); got != want {
			t.Errorf("%s: want %q, got %q", name, want, got)
		}
	}
}

func TestCursorIsLoadedAndSaved(t *testing.T) {
	c, srv := newTestClient(t)
	for i := 0; i < 4; i++ {
		srv.Publish(i)
	}
	srv.End(wire.EndOfStream{StatusCode: 200})

	store, err := memory.New(8)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	ctx := context.Background()
	if err := store.Save(ctx, "news", "2"); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	var col collector
	sub := c.SubscribeResuming("feed", col.listeners(), WithCursor(store, "news"))
	defer sub.Unsubscribe()
	waitFor(t, "end", col.terminated)

	if got := col.eventIDs(); !equalStrings([]string{"3", "4"}, got) {
		t.Errorf("want events after the saved cursor, got %v", got)
	}
	if got := srv.Requests()[0].Headers.Get(wire.LastEventIDHeader); got != "2" {
		t.Errorf("want Last-Event-Id 2, got %q", got)
	}
	waitFor(t, "cursor saved", func() bool {
		id, _ := store.Load(ctx, "news")
		return id == "4"
	})
}

// gatedStore holds every Load until gate is closed.
type gatedStore struct {
	*memory.Store
	gate   chan struct{}
	loaded chan struct{}
}

func newGatedStore(t *testing.T) *gatedStore {
	t.Helper()
	store, err := memory.New(8)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	return &gatedStore{Store: store, gate: make(chan struct{}), loaded: make(chan struct{})}
}

func (g *gatedStore) Load(ctx context.Context, key string) (string, error) {
	defer close(g.loaded)
	select {
	case <-g.gate:
		return g.Store.Load(ctx, key)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestCursorLoadDoesNotBlockSubscribe(t *testing.T) {
	c, srv := newTestClient(t)
	for i := 0; i < 3; i++ {
		srv.Publish(i)
	}
	srv.End(wire.EndOfStream{StatusCode: 200})

	store := newGatedStore(t)
	if err := store.Save(context.Background(), "news", "2"); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	var col collector
	returned := make(chan subscription.Subscription, 1)
	go func() { returned <- c.SubscribeResuming("feed", col.listeners(), WithCursor(store, "news")) }()

	var sub subscription.Subscription
	select {
	case sub = <-returned:
	case <-time.After(time.Second):
		t.Fatalf("SubscribeResuming waited on the cursor store")
	}
	defer sub.Unsubscribe()

	if n := len(srv.Requests()); n != 0 {
		t.Fatalf("want no request before the cursor loads, got %d", n)
	}

	close(store.gate)
	waitFor(t, "end", col.terminated)

	if got := col.eventIDs(); !equalStrings([]string{"3"}, got) {
		t.Errorf("want events after the saved cursor, got %v", got)
	}
	if got := srv.Requests()[0].Headers.Get(wire.LastEventIDHeader); got != "2" {
		t.Errorf("want Last-Event-Id 2, got %q", got)
	}
}

func TestUnsubscribeWhileCursorLoads(t *testing.T) {
	c, srv := newTestClient(t)
	srv.End(wire.EndOfStream{StatusCode: 200})

	store := newGatedStore(t)

	var col collector
	sub := c.SubscribeResuming("feed", col.listeners(), WithCursor(store, "news"))
	sub.Unsubscribe()
	sub.Unsubscribe()

	select {
	case <-store.loaded:
	case <-time.After(time.Second):
		t.Fatalf("want the pending load cancelled by Unsubscribe")
	}
	time.Sleep(50 * time.Millisecond)

	if n := len(srv.Requests()); n != 0 {
		t.Errorf("want no request after unsubscribe, got %d", n)
	}
	if calls := col.snapshot(); len(calls) != 0 {
		t.Errorf("want no callbacks, got %v", calls)
	}
}

func TestInitialEventIDWinsOverCursor(t *testing.T) {
	c, srv := newTestClient(t)
	srv.End(wire.EndOfStream{StatusCode: 200})

	store, _ := memory.New(8)
	_ = store.Save(context.Background(), "news", "2")

	var col collector
	sub := c.SubscribeResuming("feed", col.listeners(), WithCursor(store, "news"), WithInitialEventID("9"))
	defer sub.Unsubscribe()
	waitFor(t, "end", col.terminated)

	if got := srv.Requests()[0].Headers.Get(wire.LastEventIDHeader); got != "9" {
		t.Errorf("want Last-Event-Id 9, got %q", got)
	}
}

func TestObserverSeesEveryLayer(t *testing.T) {
	var (
		mu     sync.Mutex
		layers = map[string]bool{}
	)
	c, srv := newTestClient(t, WithObserver(func(tr subscription.Transition) {
		mu.Lock()
		layers[tr.Layer] = true
		mu.Unlock()
	}))
	srv.End(wire.EndOfStream{StatusCode: 200})

	var col collector
	sub := c.SubscribeResuming("feed", col.listeners(), WithTokenProvider(authtest.Tokens("t"), nil), WithSubscriptionID("sub-1"))
	defer sub.Unsubscribe()
	waitFor(t, "end", col.terminated)

	mu.Lock()
	defer mu.Unlock()
	for _, l := range []string{subscription.LayerResuming, subscription.LayerToken} {
		if !layers[l] {
			t.Errorf("no transition observed for layer %s", l)
		}
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, u := range []string{"ftp://example.com", "://bad", "https://"} {
		if _, err := New(u); err == nil {
			t.Errorf("New(%q): expected error", u)
		}
	}
}

func TestURL(t *testing.T) {
	c, err := New("https://us1.example.com/base/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tests := []struct {
		path string
		want string
	}{
		{"feeds/news", "https://us1.example.com/base/feeds/news"},
		{"/feeds//news/", "https://us1.example.com/base/feeds/news"},
		{"feeds?limit=5", "https://us1.example.com/base/feeds?limit=5"},
		{"https://other.example.com//raw", "https://other.example.com//raw"},
	}
	for _, tt := range tests {
		if got := c.URL(tt.path); got != tt.want {
			t.Errorf("URL(%q): want %q, got %q", tt.path, tt.want, got)
		}
	}
}
