package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ggoodman/pushstream-go/auth"
	"github.com/ggoodman/pushstream-go/wire"
)

// ExpiredTokenCode is the server error code that marks a rejected, expired
// bearer token.
const ExpiredTokenCode = "authentication/expired"

// TokenExpired is the default expiry predicate: a 401 response carrying
// ExpiredTokenCode.
func TokenExpired(err error) bool {
	var er *wire.ErrorResponse
	return errors.As(err, &er) && er.StatusCode == 401 && er.Code == ExpiredTokenCode
}

// TokenConfig configures the token-providing layer.
type TokenConfig struct {
	Provider auth.TokenProvider
	// Params is passed to every FetchToken call.
	Params any
	// Expired decides which errors trigger a silent refresh. TokenExpired
	// when nil.
	Expired func(error) bool
}

// NewTokenProviding returns a Strategy that fetches a bearer token before
// subscribing next, and refreshes it when the server reports it expired.
// Without a provider it returns next unchanged.
func NewTokenProviding(env *Env, cfg TokenConfig, next Strategy) Strategy {
	if cfg.Provider == nil {
		return next
	}
	if cfg.Expired == nil {
		cfg.Expired = TokenExpired
	}
	return func(l Listeners, h wire.Headers) Subscription {
		s := &tokenSubscription{env: env, cfg: cfg, next: next, l: l, headers: h.Clone(), state: StateActive}
		env.transition(LayerToken, "", StateActive, ReasonSubscribe)
		s.mu.Lock()
		s.fetchLocked()
		s.mu.Unlock()
		return s
	}
}

type tokenSubscription struct {
	env     *Env
	cfg     TokenConfig
	next    Strategy
	l       Listeners
	headers wire.Headers

	mu    sync.Mutex
	state State
	// gen identifies the current fetch and inner subscription; callbacks
	// carrying an older gen are dropped.
	gen         int
	cancelFetch context.CancelFunc
	inner       Subscription
}

func (s *tokenSubscription) fetchLocked() {
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFetch = cancel

	go func() {
		token, err := s.cfg.Provider.FetchToken(ctx, s.cfg.Params)
		s.env.delivery.Schedule(func() { s.fetched(gen, token, err) })
	}()
}

func (s *tokenSubscription) currentLocked(gen int) bool {
	return s.state == StateActive && s.gen == gen
}

func (s *tokenSubscription) fetched(gen int, token string, err error) {
	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		return
	}
	s.cancelFetch()
	s.cancelFetch = nil

	if err != nil {
		s.state = StateInactive
		s.mu.Unlock()
		s.env.log.DebugContext(s.env.logContext(LayerToken, StateInactive), "subscription.token.fetch_failed", slog.String("err", err.Error()))
		s.env.transition(LayerToken, StateActive, StateInactive, ReasonTokenFailed)
		s.l.error(err)
		return
	}
	s.mu.Unlock()

	inner := s.next(s.innerListeners(gen, token), s.headers.With(wire.AuthorizationHeader, "Bearer "+token))

	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		inner.Unsubscribe()
		return
	}
	s.inner = inner
	s.mu.Unlock()
}

func (s *tokenSubscription) live(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(gen)
}

func (s *tokenSubscription) innerListeners(gen int, token string) Listeners {
	return Listeners{
		OnOpen: func(h wire.Headers) {
			if s.live(gen) {
				s.l.open(h)
			}
		},
		OnEvent: func(e wire.Event) {
			if s.live(gen) {
				s.l.event(e)
			}
		},
		OnSubscribe: func() {
			if s.live(gen) {
				s.l.subscribe()
			}
		},
		OnRetrying: func() {
			if s.live(gen) {
				s.l.retrying()
			}
		},
		OnEnd: func(eos *wire.EndOfStream) {
			if s.deactivate(gen, ReasonEnd) {
				s.l.end(eos)
			}
		},
		OnError: func(err error) {
			if !s.cfg.Expired(err) {
				if s.deactivate(gen, ReasonError) {
					s.l.error(err)
				}
				return
			}
			s.refresh(gen, token)
		},
	}
}

func (s *tokenSubscription) refresh(gen int, token string) {
	if !s.live(gen) {
		return
	}
	s.env.log.DebugContext(s.env.logContext(LayerToken, StateActive), "subscription.token.expired")
	s.cfg.Provider.ClearToken(token)

	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		return
	}
	s.inner = nil
	s.fetchLocked()
	s.mu.Unlock()
	s.env.transition(LayerToken, StateActive, StateActive, ReasonTokenExpired)
}

func (s *tokenSubscription) deactivate(gen int, reason Reason) bool {
	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		return false
	}
	s.state = StateInactive
	s.inner = nil
	s.mu.Unlock()
	s.env.transition(LayerToken, StateActive, StateInactive, reason)
	return true
}

// Unsubscribe aborts an in-flight token fetch and stops the inner
// subscription.
func (s *tokenSubscription) Unsubscribe() {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateInactive
	s.gen++
	cancel, inner := s.cancelFetch, s.inner
	s.cancelFetch, s.inner = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if inner != nil {
		inner.Unsubscribe()
	}
	s.env.transition(LayerToken, StateActive, StateInactive, ReasonUnsubscribe)
}
