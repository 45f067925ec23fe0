package subscription

import (
	"log/slog"
	"sync"

	"github.com/ggoodman/pushstream-go/retry"
	"github.com/ggoodman/pushstream-go/wire"
)

// RetryConfig configures the Retrying and Resuming layers. Every chain gets
// its own Resolver built from these values, scheduling on the chain's
// delivery scheduler.
type RetryConfig struct {
	Options         retry.Options
	ResolverOptions []retry.ResolverOption
}

// NewRetrying returns a Strategy that resubscribes next after retryable
// failures.
func NewRetrying(env *Env, cfg RetryConfig, next Strategy) Strategy {
	return func(l Listeners, h wire.Headers) Subscription {
		return startRetrying(env, cfg, LayerRetrying, next, l, h, "")
	}
}

// NewResuming is NewRetrying plus resumption: the id of the last delivered
// event is sent as Last-Event-Id on every attempt, starting from
// initialEventID when it is not empty.
func NewResuming(env *Env, cfg RetryConfig, initialEventID string, next Strategy) Strategy {
	return func(l Listeners, h wire.Headers) Subscription {
		return startRetrying(env, cfg, LayerResuming, next, l, h, initialEventID)
	}
}

type retrying struct {
	env      *Env
	layer    string
	next     Strategy
	l        Listeners
	headers  wire.Headers
	resolver *retry.Resolver

	mu      sync.Mutex
	state   State
	attempt int
	inner   Subscription
	// lastEventID is only tracked by the resuming layer.
	lastEventID string
}

func startRetrying(env *Env, cfg RetryConfig, layer string, next Strategy, l Listeners, h wire.Headers, initialEventID string) *retrying {
	ropts := append([]retry.ResolverOption{retry.WithLogger(env.log)}, cfg.ResolverOptions...)
	r := &retrying{
		env:         env,
		layer:       layer,
		next:        next,
		l:           l,
		headers:     h.Clone(),
		resolver:    retry.NewResolver(cfg.Options, env.delivery, ropts...),
		state:       StateOpening,
		attempt:     1,
		lastEventID: initialEventID,
	}
	env.transition(layer, "", StateOpening, ReasonSubscribe)
	r.open(1)
	return r
}

func (r *retrying) resumes() bool { return r.layer == LayerResuming }

// open starts attempt n against the next strategy.
func (r *retrying) open(n int) {
	r.mu.Lock()
	h := r.headers
	if r.resumes() && r.lastEventID != "" {
		h = h.With(wire.LastEventIDHeader, r.lastEventID)
		r.env.log.DebugContext(r.env.logContext(r.layer, r.state), "subscription.resume", slog.String("last_event_id", r.lastEventID), slog.Int("attempt", n))
	}
	r.mu.Unlock()

	inner := r.next(r.attemptListeners(n), h)

	r.mu.Lock()
	if r.attempt != n || r.state.Terminal() {
		r.mu.Unlock()
		inner.Unsubscribe()
		return
	}
	r.inner = inner
	r.mu.Unlock()
}

// liveLocked reports whether callbacks from attempt n may still change the
// layer's state.
func (r *retrying) liveLocked(n int) bool {
	return r.attempt == n && (r.state == StateOpening || r.state == StateOpen)
}

func (r *retrying) attemptListeners(n int) Listeners {
	return Listeners{
		OnOpen: func(h wire.Headers) {
			r.mu.Lock()
			if !r.liveLocked(n) {
				r.mu.Unlock()
				return
			}
			from := r.state
			r.state = StateOpen
			r.mu.Unlock()
			r.env.transition(r.layer, from, StateOpen, ReasonOpen)
			r.l.open(h)
		},
		OnEvent: func(e wire.Event) {
			r.mu.Lock()
			if !r.liveLocked(n) {
				r.mu.Unlock()
				return
			}
			if r.resumes() {
				r.lastEventID = e.ID
			}
			r.mu.Unlock()
			r.l.event(e)
		},
		OnSubscribe: func() {
			r.mu.Lock()
			live := r.liveLocked(n)
			r.mu.Unlock()
			if live {
				r.l.subscribe()
			}
		},
		OnRetrying: func() {
			r.mu.Lock()
			live := r.liveLocked(n)
			r.mu.Unlock()
			if live {
				r.l.retrying()
			}
		},
		OnEnd: func(eos *wire.EndOfStream) {
			r.mu.Lock()
			switch {
			case r.attempt == n && r.state == StateEnding:
				r.state = StateEnded
				r.inner = nil
				r.mu.Unlock()
				r.env.transition(r.layer, StateEnding, StateEnded, ReasonEnd)
			case r.liveLocked(n):
				from := r.state
				r.state = StateEnded
				r.inner = nil
				r.mu.Unlock()
				r.resolver.Cancel()
				r.env.transition(r.layer, from, StateEnded, ReasonEnd)
				r.l.end(eos)
			default:
				r.mu.Unlock()
			}
		},
		OnError: func(err error) {
			r.mu.Lock()
			if !r.liveLocked(n) {
				r.mu.Unlock()
				return
			}
			from := r.state
			r.state = StateRetryPending
			inner := r.inner
			r.inner = nil
			r.mu.Unlock()

			r.env.transition(r.layer, from, StateRetryPending, ReasonError)
			if inner != nil {
				inner.Unsubscribe()
			}
			r.resolver.Resolve(err, func(d retry.Decision) { r.resolved(n, err, d) })
		},
	}
}

func (r *retrying) resolved(n int, err error, d retry.Decision) {
	r.mu.Lock()
	if r.attempt != n || r.state != StateRetryPending {
		r.mu.Unlock()
		return
	}

	if d == retry.DoNotRetry {
		r.state = StateFailed
		r.mu.Unlock()
		r.env.log.DebugContext(r.env.logContext(r.layer, StateFailed), "subscription.give_up", slog.Int("retries", r.resolver.Retries()), slog.String("err", err.Error()))
		r.env.transition(r.layer, StateRetryPending, StateFailed, ReasonGiveUp)
		r.l.error(err)
		return
	}

	r.attempt++
	next := r.attempt
	r.state = StateOpening
	r.mu.Unlock()

	r.env.transition(r.layer, StateRetryPending, StateOpening, ReasonRetry)
	r.l.retrying()
	r.open(next)
}

// Unsubscribe stops the current attempt and any pending retry, leaving the
// layer Ended once the inner subscription has been released. Calling it on a
// subscription that already ended, failed or is ending does nothing.
func (r *retrying) Unsubscribe() {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	from := r.state
	r.state = StateEnding
	inner := r.inner
	r.inner = nil
	r.mu.Unlock()

	r.resolver.Cancel()
	r.env.transition(r.layer, from, StateEnding, ReasonUnsubscribe)
	if inner != nil {
		inner.Unsubscribe()
	}

	// Inner layers that swallow their own drain, such as the token layer,
	// never report an end for this attempt.
	r.mu.Lock()
	if r.state != StateEnding {
		r.mu.Unlock()
		return
	}
	r.state = StateEnded
	r.mu.Unlock()
	r.env.transition(r.layer, StateEnding, StateEnded, ReasonUnsubscribe)
}
