package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// Fetcher obtains a fresh token from wherever tokens come from.
type Fetcher func(ctx context.Context, params any) (string, error)

// Caching is a TokenProvider that remembers the last fetched token.
//
// When the token is a JWT carrying an exp claim, it is reused until exp
// minus the configured leeway. Opaque tokens are reused until cleared.
type Caching struct {
	fetch  Fetcher
	leeway time.Duration
	now    func() time.Time
	log    *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	token   string
	expires time.Time
}

type CachingOption func(*Caching)

// WithLeeway treats tokens as expired this long before their exp claim.
// The default is 30 seconds.
func WithLeeway(d time.Duration) CachingOption {
	return func(c *Caching) { c.leeway = d }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) CachingOption {
	return func(c *Caching) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(l *slog.Logger) CachingOption {
	return func(c *Caching) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCaching wraps fetch in a cache.
func NewCaching(fetch Fetcher, opts ...CachingOption) *Caching {
	c := &Caching{
		fetch:  fetch,
		leeway: 30 * time.Second,
		now:    time.Now,
		log:    slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Caching) FetchToken(ctx context.Context, params any) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	ch := c.group.DoChan("token", func() (any, error) {
		// The fetch is shared by every waiter, so one caller giving up must
		// not abort it for the others.
		tok, err := c.fetch(context.WithoutCancel(ctx), params)
		if err != nil {
			return "", err
		}
		if tok == "" {
			return "", ErrNoToken
		}
		c.store(tok)
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("fetch token: %w", res.Err)
		}
		return res.Val.(string), nil
	}
}

// ClearToken drops the cached token if it is token. Clearing a token that
// has already been replaced does nothing.
func (c *Caching) ClearToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
		c.expires = time.Time{}
		c.log.Debug("auth.token_cleared")
	}
}

func (c *Caching) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", false
	}
	if !c.expires.IsZero() && !c.now().Before(c.expires.Add(-c.leeway)) {
		c.token = ""
		c.expires = time.Time{}
		return "", false
	}
	return c.token, true
}

func (c *Caching) store(tok string) {
	exp := expiryOf(tok)
	c.mu.Lock()
	c.token = tok
	c.expires = exp
	c.mu.Unlock()
	c.log.Debug("auth.token_fetched", slog.Time("expires", exp))
}

// expiryOf returns the exp claim of a JWT without verifying its signature.
// Opaque tokens yield the zero time.
func expiryOf(tok string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(tok, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
