// Package auth provides the bearer token providers consumed by
// authenticated subscriptions.
//
// A TokenProvider hands out tokens on demand and is told, through
// ClearToken, when the server rejected one as expired. The subscription
// pipeline then fetches again and resubscribes without surfacing the
// rejection to the caller.
//
// # Providers
//
// Static returns a fixed token and ProviderFunc adapts a function. Caching
// wraps any fetch function and reuses its result until the token's JWT exp
// claim (minus a leeway) passes or the token is cleared; concurrent fetches
// are collapsed into one.
//
//	tp := auth.NewCaching(func(ctx context.Context, params any) (string, error) {
//	    return myIssuer.Mint(ctx)
//	}, auth.WithLeeway(30*time.Second))
//
// The clientcredentials and filetoken subpackages provide ready-made
// fetchers for OAuth 2.0 client credentials and rotated token files.
package auth
