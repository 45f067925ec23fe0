// Package subscription implements the layered subscribe pipeline.
//
// Every layer is a Strategy: given listeners and request headers it starts
// a Subscription. Layers wrap the next Strategy and intercept the callbacks
// flowing back up from it:
//
//	Resuming or Retrying  reconnect on retryable failures
//	TokenProviding        attach a bearer token, refresh it on expiry
//	Base                  one streaming SUBSCRIBE request
//
// All callbacks of one chain run on the chain's delivery scheduler, one at
// a time and in wire order. Unsubscribe may be called from any goroutine.
package subscription

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ggoodman/pushstream-go/internal/logctx"
	"github.com/ggoodman/pushstream-go/scheduler"
	"github.com/ggoodman/pushstream-go/wire"
)

// Subscription is a live, cancellable stream. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Strategy starts a subscription reporting to l, sending headers h.
type Strategy func(l Listeners, h wire.Headers) Subscription

// State is one node of a layer's state machine.
type State string

const (
	StateOpening      State = "opening"
	StateOpen         State = "open"
	StateRetryPending State = "retry_pending"
	StateEnding       State = "ending"
	StateEnded        State = "ended"
	StateFailed       State = "failed"

	StateActive   State = "active"
	StateInactive State = "inactive"
)

// Terminal reports whether no further transitions can leave s.
func (s State) Terminal() bool {
	switch s {
	case StateEnding, StateEnded, StateFailed, StateInactive:
		return true
	}
	return false
}

// Layer names used in transitions and logs.
const (
	LayerBase     = "base"
	LayerToken    = "token"
	LayerRetrying = "retrying"
	LayerResuming = "resuming"
)

// Reason explains why a transition happened.
type Reason string

const (
	ReasonSubscribe    Reason = "subscribe"
	ReasonOpen         Reason = "open"
	ReasonEnd          Reason = "end"
	ReasonError        Reason = "error"
	ReasonRetry        Reason = "retry"
	ReasonGiveUp       Reason = "give_up"
	ReasonUnsubscribe  Reason = "unsubscribe"
	ReasonTokenExpired Reason = "token_expired"
	ReasonTokenFailed  Reason = "token_failed"
)

// Transition describes one state change of one layer.
type Transition struct {
	SubscriptionID string
	Layer          string
	From, To       State
	Reason         Reason
}

// Observer receives every Transition. It may be called from several
// goroutines at once.
type Observer func(Transition)

// Env is shared by every layer of one chain.
type Env struct {
	id       string
	path     string
	delivery scheduler.Scheduler
	log      *slog.Logger
	observe  Observer
	ctx      context.Context
}

type EnvOption func(*Env)

// WithID overrides the generated subscription id.
func WithID(id string) EnvOption {
	return func(e *Env) {
		if id != "" {
			e.id = id
		}
	}
}

// WithDelivery sets the scheduler callbacks are delivered on. It must never
// run two actions at once; wrap concurrent schedulers in scheduler.Serial.
func WithDelivery(s scheduler.Scheduler) EnvOption {
	return func(e *Env) {
		if s != nil {
			e.delivery = s
		}
	}
}

func WithLogger(l *slog.Logger) EnvOption {
	return func(e *Env) {
		if l != nil {
			e.log = l
		}
	}
}

func WithObserver(o Observer) EnvOption {
	return func(e *Env) { e.observe = o }
}

// NewEnv returns the environment of a new chain for path. Without
// WithDelivery, callbacks are serialized on a fresh scheduler.Serial.
func NewEnv(path string, opts ...EnvOption) *Env {
	e := &Env{
		id:   uuid.NewString(),
		path: path,
		log:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(e)
	}
	if e.delivery == nil {
		e.delivery = scheduler.NewSerial(scheduler.New())
	}
	e.log = slog.New(logctx.Wrap(e.log.Handler()))
	e.ctx = logctx.WithSubscriptionData(context.Background(), &logctx.SubscriptionData{ID: e.id, Path: e.path})
	return e
}

// ID returns the chain's subscription id.
func (e *Env) ID() string { return e.id }

// Delivery returns the chain's delivery scheduler.
func (e *Env) Delivery() scheduler.Scheduler { return e.delivery }

// Logger returns the chain's logger.
func (e *Env) Logger() *slog.Logger { return e.log }

func (e *Env) logContext(layer string, state State) context.Context {
	return logctx.WithLayerData(e.ctx, &logctx.LayerData{Name: layer, State: string(state)})
}

func (e *Env) transition(layer string, from, to State, reason Reason) {
	e.log.DebugContext(e.logContext(layer, to), "subscription.transition",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", string(reason)),
	)
	if e.observe != nil {
		e.observe(Transition{SubscriptionID: e.id, Layer: layer, From: from, To: to, Reason: reason})
	}
}
