package subscription

import "github.com/ggoodman/pushstream-go/wire"

// Listeners holds the callbacks a subscription reports to. Nil fields are
// skipped.
type Listeners struct {
	// OnOpen fires once the server accepted the request, with the response
	// headers.
	OnOpen func(headers wire.Headers)
	// OnEvent fires for every Event message, in wire order.
	OnEvent func(event wire.Event)
	// OnEnd fires when the stream ended. eos is nil when the stream closed
	// without an EndOfStream message.
	OnEnd func(eos *wire.EndOfStream)
	// OnError fires when the subscription failed for good.
	OnError func(err error)
	// OnRetrying fires before every reconnection attempt.
	OnRetrying func()
	// OnSubscribe fires every time a request is sent.
	OnSubscribe func()
}

// Compose returns Listeners that call every bundle in ls, in order.
func Compose(ls ...Listeners) Listeners {
	return Listeners{
		OnOpen: func(h wire.Headers) {
			for _, l := range ls {
				l.open(h)
			}
		},
		OnEvent: func(e wire.Event) {
			for _, l := range ls {
				l.event(e)
			}
		},
		OnEnd: func(eos *wire.EndOfStream) {
			for _, l := range ls {
				l.end(eos)
			}
		},
		OnError: func(err error) {
			for _, l := range ls {
				l.error(err)
			}
		},
		OnRetrying: func() {
			for _, l := range ls {
				l.retrying()
			}
		},
		OnSubscribe: func() {
			for _, l := range ls {
				l.subscribe()
			}
		},
	}
}

func (l Listeners) open(h wire.Headers) {
	if l.OnOpen != nil {
		l.OnOpen(h)
	}
}

func (l Listeners) event(e wire.Event) {
	if l.OnEvent != nil {
		l.OnEvent(e)
	}
}

func (l Listeners) end(eos *wire.EndOfStream) {
	if l.OnEnd != nil {
		l.OnEnd(eos)
	}
}

func (l Listeners) error(err error) {
	if l.OnError != nil {
		l.OnError(err)
	}
}

func (l Listeners) retrying() {
	if l.OnRetrying != nil {
		l.OnRetrying()
	}
}

func (l Listeners) subscribe() {
	if l.OnSubscribe != nil {
		l.OnSubscribe()
	}
}
