package pushstream

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/ggoodman/pushstream-go/internal/workpool"
	"github.com/ggoodman/pushstream-go/retry"
	"github.com/ggoodman/pushstream-go/subscription"
	"github.com/ggoodman/pushstream-go/wire"
)

// Client opens subscriptions against one base URL.
type Client struct {
	base     *url.URL
	http     *http.Client
	log      *slog.Logger
	headers  wire.Headers
	pool     *workpool.Pool
	observer subscription.Observer
	resolver []retry.ResolverOption
}

// New returns a Client for baseURL, which must be an absolute http or https
// URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("base URL must use HTTP or HTTPS scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", baseURL)
	}

	cfg := &clientConfig{poolSize: defaultPoolSize}
	for _, opt := range opts {
		opt(cfg)
	}
	return newClient(u, cfg), nil
}

func newClient(u *url.URL, cfg *clientConfig) *Client {
	c := &Client{
		base:     u,
		http:     cfg.httpClient,
		log:      cfg.logger,
		pool:     workpool.New(cfg.poolSize),
		observer: cfg.observer,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.log == nil {
		c.log = slog.New(slog.DiscardHandler)
	}
	if cfg.sdk != nil {
		c.headers = cfg.sdk.headers()
	}
	if cfg.connectivity != nil {
		c.resolver = append(c.resolver, retry.WithConnectivity(cfg.connectivity))
	}
	if cfg.unconditional {
		c.resolver = append(c.resolver, retry.WithUnconditionalRetry())
	}
	return c
}

const defaultPoolSize = workpool.DefaultSize

var repeatedSlashes = regexp.MustCompile(`/{2,}`)

// URL resolves path against the base URL. Absolute http and https URLs are
// returned unchanged. Runs of slashes in the path collapse to one and a
// trailing slash is dropped. A query string in path is kept.
func (c *Client) URL(path string) string {
	if isAbsolute(path) {
		return path
	}
	u := *c.base
	if i := strings.IndexByte(path, '?'); i >= 0 {
		u.RawQuery = path[i+1:]
		path = path[:i]
	}
	p := repeatedSlashes.ReplaceAllString(u.Path+"/"+path, "/")
	p = strings.TrimSuffix(p, "/")
	u.Path = p
	u.RawPath = ""
	return u.String()
}

func isAbsolute(path string) bool {
	return strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://")
}

// SubscribeResuming opens a subscription that reconnects after retryable
// failures and resumes from the last delivered event by sending its id as
// Last-Event-Id.
func (c *Client) SubscribeResuming(path string, l subscription.Listeners, opts ...SubscribeOption) subscription.Subscription {
	return c.subscribe(path, l, true, opts)
}

// SubscribeNonResuming opens a subscription that reconnects after retryable
// failures without a resumption cursor.
func (c *Client) SubscribeNonResuming(path string, l subscription.Listeners, opts ...SubscribeOption) subscription.Subscription {
	return c.subscribe(path, l, false, opts)
}

func (c *Client) subscribe(path string, l subscription.Listeners, resuming bool, opts []SubscribeOption) subscription.Subscription {
	cfg := &subscribeConfig{retry: retry.DefaultOptions()}
	for _, opt := range opts {
		opt(cfg)
	}

	envOpts := []subscription.EnvOption{subscription.WithLogger(c.log)}
	if c.observer != nil {
		envOpts = append(envOpts, subscription.WithObserver(c.observer))
	}
	if cfg.id != "" {
		envOpts = append(envOpts, subscription.WithID(cfg.id))
	}
	if cfg.delivery != nil {
		envOpts = append(envOpts, subscription.WithDelivery(cfg.delivery))
	}
	env := subscription.NewEnv(path, envOpts...)

	headers := c.headers.Clone()
	for name, vals := range cfg.headers {
		headers = headers.With(name, vals...)
	}

	var saver *cursorSaver
	if cfg.store != nil {
		saver = newCursorSaver(env.Logger(), cfg.store, cfg.cursorKey, cfg.cursorOpts)
		l = saver.listeners(l)
	}

	strategy := subscription.NewBase(env, subscription.BaseConfig{
		Client: c.http,
		URL:    c.URL(path),
		Parse:  cfg.parse,
		Pool:   c.pool,
	})
	strategy = subscription.NewTokenProviding(env, subscription.TokenConfig{
		Provider: cfg.provider,
		Params:   cfg.tokenParams,
		Expired:  cfg.expired,
	}, strategy)

	rc := subscription.RetryConfig{Options: cfg.retry, ResolverOptions: c.resolver}
	start := func(initialID string) subscription.Subscription {
		if resuming {
			return subscription.NewResuming(env, rc, initialID, strategy)(l, headers)
		}
		return subscription.NewRetrying(env, rc, strategy)(l, headers)
	}

	var sub subscription.Subscription
	if resuming && cfg.store != nil && cfg.initialID == "" {
		sub = startFromCursor(env.Logger(), cfg.store, cfg.cursorKey, start)
	} else {
		sub = start(cfg.initialID)
	}
	if saver != nil {
		return &savingSubscription{Subscription: sub, saver: saver}
	}
	return sub
}

// Wait blocks until every read loop started by c has returned. Unsubscribe
// every subscription first.
func (c *Client) Wait() {
	c.pool.Wait()
}
