package auth

import (
	"context"
	"errors"
)

// ErrNoToken is returned by providers that have nothing to hand out, for
// example a file-backed provider whose file is empty.
var ErrNoToken = errors.New("no token available")

// TokenProvider supplies bearer tokens for authenticated subscriptions.
// Implementations must be safe for concurrent use.
type TokenProvider interface {
	// FetchToken returns a token. It may block and must honour ctx
	// cancellation. params is passed through unchanged from the subscribe
	// call.
	FetchToken(ctx context.Context, params any) (string, error)
	// ClearToken tells the provider that token was rejected as expired so
	// the next FetchToken must not return it again.
	ClearToken(token string)
}

// ProviderFunc adapts a plain function to a TokenProvider with a no-op
// ClearToken.
type ProviderFunc func(ctx context.Context, params any) (string, error)

func (f ProviderFunc) FetchToken(ctx context.Context, params any) (string, error) {
	return f(ctx, params)
}

func (ProviderFunc) ClearToken(string) {}

// Static always returns the same token.
type Static string

func (s Static) FetchToken(context.Context, any) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

func (Static) ClearToken(string) {}
