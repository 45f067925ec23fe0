// Package pushstream is a client for server-push streams carried over a
// long-lived HTTP SUBSCRIBE request.
//
// A Client composes the layers of the subscription package into a fixed
// pipeline. SubscribeResuming builds
//
//	Resuming -> TokenProviding -> Base
//
// and SubscribeNonResuming builds
//
//	Retrying -> TokenProviding -> Base
//
// The TokenProviding layer is left out entirely when no token provider is
// given. Each returned subscription.Subscription delivers its callbacks one
// at a time, in wire order, and stops delivering once Unsubscribe returns.
//
// Basic usage:
//
//	c, err := pushstream.New("https://us1.example.com")
//	if err != nil {
//		log.Fatal(err)
//	}
//	sub := c.SubscribeResuming("feeds/news/items", subscription.Listeners{
//		OnEvent: func(ev wire.Event) { fmt.Println(ev.ID) },
//		OnError: func(err error) { log.Print(err) },
//	}, pushstream.WithTokenProvider(auth.Static("t0k3n"), nil))
//	defer sub.Unsubscribe()
//
// Instance scopes relative paths to one hosted service instance identified by
// a locator of the form "v1:<cluster>:<id>".
package pushstream
