package pushstream

import (
	"log/slog"
	"net/http"

	"github.com/ggoodman/pushstream-go/auth"
	"github.com/ggoodman/pushstream-go/cursor"
	"github.com/ggoodman/pushstream-go/retry"
	"github.com/ggoodman/pushstream-go/scheduler"
	"github.com/ggoodman/pushstream-go/subscription"
	"github.com/ggoodman/pushstream-go/wire"
)

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	httpClient    *http.Client
	logger        *slog.Logger
	sdk           *SDKInfo
	observer      subscription.Observer
	connectivity  retry.Connectivity
	poolSize      int64
	unconditional bool
	host          string
}

// SDKInfo identifies the calling SDK. Every request carries it as X-SDK-*
// headers.
type SDKInfo struct {
	Product  string
	Version  string
	Language string
	Platform string
}

func (s SDKInfo) headers() wire.Headers {
	return wire.Headers{
		"X-SDK-Product":  {s.Product},
		"X-SDK-Version":  {s.Version},
		"X-SDK-Language": {s.Language},
		"X-SDK-Platform": {s.Platform},
	}
}

// WithHTTPClient sets the client used for every SUBSCRIBE request. The
// client must not set an overall Timeout, since streams are long-lived.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) { cfg.httpClient = c }
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) { cfg.logger = l }
}

// WithSDKInfo adds X-SDK-Product, X-SDK-Version, X-SDK-Language and
// X-SDK-Platform to every request.
func WithSDKInfo(info SDKInfo) Option {
	return func(cfg *clientConfig) { cfg.sdk = &info }
}

// WithObserver receives the state transitions of every subscription. See
// metrics.Collector.
func WithObserver(o subscription.Observer) Option {
	return func(cfg *clientConfig) { cfg.observer = o }
}

// WithConnectivity makes retries after network errors wait until c reports
// the network as reachable.
func WithConnectivity(c retry.Connectivity) Option {
	return func(cfg *clientConfig) { cfg.connectivity = c }
}

// WithPoolSize bounds how many read loops run at once. Zero or less means
// unbounded. Defaults to workpool.DefaultSize.
func WithPoolSize(n int64) Option {
	return func(cfg *clientConfig) { cfg.poolSize = n }
}

// WithUnconditionalRetry retries every error, including client errors and
// unsafe methods, ignoring the retry limit.
func WithUnconditionalRetry() Option {
	return func(cfg *clientConfig) { cfg.unconditional = true }
}

// WithHost overrides the host NewInstance derives from the locator. It
// accepts a bare host ("localhost:8080") or a URL with a scheme. New ignores
// it.
func WithHost(host string) Option {
	return func(cfg *clientConfig) { cfg.host = host }
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	headers     wire.Headers
	provider    auth.TokenProvider
	tokenParams any
	expired     func(error) bool
	retry       retry.Options
	initialID   string
	parse       wire.BodyParser
	store       cursor.Store
	cursorKey   string
	cursorOpts  []cursor.Option
	id          string
	delivery    scheduler.Scheduler
}

// WithHeaders adds headers to every attempt. They override SDK headers of
// the same name.
func WithHeaders(h wire.Headers) SubscribeOption {
	return func(c *subscribeConfig) {
		for name, vals := range h {
			c.headers = c.headers.With(name, vals...)
		}
	}
}

// WithTokenProvider authenticates every attempt with a bearer token from tp.
// params is passed through to FetchToken.
func WithTokenProvider(tp auth.TokenProvider, params any) SubscribeOption {
	return func(c *subscribeConfig) {
		c.provider = tp
		c.tokenParams = params
	}
}

// WithTokenExpiry replaces the predicate that decides which errors mean the
// token expired. subscription.TokenExpired by default.
func WithTokenExpiry(expired func(error) bool) SubscribeOption {
	return func(c *subscribeConfig) { c.expired = expired }
}

// WithRetryOptions replaces retry.DefaultOptions.
func WithRetryOptions(o retry.Options) SubscribeOption {
	return func(c *subscribeConfig) { c.retry = o }
}

// WithInitialEventID resumes from id on the first attempt. Only
// SubscribeResuming honors it.
func WithInitialEventID(id string) SubscribeOption {
	return func(c *subscribeConfig) { c.initialID = id }
}

// WithBodyParser decodes event bodies. Bodies are kept as json.RawMessage by
// default.
func WithBodyParser(p wire.BodyParser) SubscribeOption {
	return func(c *subscribeConfig) { c.parse = p }
}

// WithCursor persists the id of every delivered event under key. With
// SubscribeResuming and no WithInitialEventID, the saved cursor is loaded in
// the background and used as the initial event id; the first request is sent
// once the load finishes or times out.
func WithCursor(store cursor.Store, key string, opts ...cursor.Option) SubscribeOption {
	return func(c *subscribeConfig) {
		c.store = store
		c.cursorKey = key
		c.cursorOpts = opts
	}
}

// WithSubscriptionID overrides the generated id used in logs and
// transitions.
func WithSubscriptionID(id string) SubscribeOption {
	return func(c *subscribeConfig) { c.id = id }
}

// WithDelivery runs every callback of the subscription on s instead of a
// private serial scheduler. s must run one action at a time.
func WithDelivery(s scheduler.Scheduler) SubscribeOption {
	return func(c *subscribeConfig) { c.delivery = s }
}
