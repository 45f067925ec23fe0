package pushstream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/pushstream-go/cursor"
	"github.com/ggoodman/pushstream-go/subscription"
	"github.com/ggoodman/pushstream-go/wire"
)

const cursorTimeout = 5 * time.Second

func loadCursor(ctx context.Context, log *slog.Logger, store cursor.Store, key string) string {
	id, err := store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Warn("cursor.load.fail", slog.String("key", key), slog.String("err", err.Error()))
		}
		return ""
	}
	return id
}

// loadingSubscription loads the saved cursor on its own goroutine and then
// starts the chain from it, so subscribing never waits on the store.
type loadingSubscription struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	sub     subscription.Subscription
}

func startFromCursor(log *slog.Logger, store cursor.Store, key string, start func(initialID string) subscription.Subscription) *loadingSubscription {
	ctx, cancel := context.WithTimeout(context.Background(), cursorTimeout)
	s := &loadingSubscription{cancel: cancel}
	go func() {
		id := loadCursor(ctx, log, store, key)
		cancel()

		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}

		sub := start(id)

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			sub.Unsubscribe()
			return
		}
		s.sub = sub
		s.mu.Unlock()
	}()
	return s
}

// Unsubscribe abandons a pending load, or stops the chain once it started.
func (s *loadingSubscription) Unsubscribe() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	sub := s.sub
	s.mu.Unlock()

	s.cancel()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// cursorSaver writes the latest delivered event id from its own goroutine so
// a slow store never holds up delivery. Intermediate ids may be skipped.
type cursorSaver struct {
	log   *slog.Logger
	store cursor.Store
	key   string
	opts  []cursor.Option

	mu      sync.Mutex
	pending string

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newCursorSaver(log *slog.Logger, store cursor.Store, key string, opts []cursor.Option) *cursorSaver {
	s := &cursorSaver{
		log:   log,
		store: store,
		key:   key,
		opts:  opts,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// listeners records event ids after l has seen them, and flushes on the
// terminal callbacks.
func (s *cursorSaver) listeners(l subscription.Listeners) subscription.Listeners {
	return subscription.Compose(l, subscription.Listeners{
		OnEvent: func(ev wire.Event) { s.offer(ev.ID) },
		OnEnd:   func(*wire.EndOfStream) { s.close() },
		OnError: func(error) { s.close() },
	})
}

func (s *cursorSaver) offer(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.pending = id
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *cursorSaver) run() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			s.flush()
		case <-s.stop:
			s.flush()
			return
		}
	}
}

func (s *cursorSaver) flush() {
	s.mu.Lock()
	id := s.pending
	s.pending = ""
	s.mu.Unlock()
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cursorTimeout)
	defer cancel()
	if err := s.store.Save(ctx, s.key, id, s.opts...); err != nil {
		s.log.Warn("cursor.save.fail", slog.String("key", s.key), slog.String("event_id", id), slog.String("err", err.Error()))
	}
}

func (s *cursorSaver) close() {
	s.once.Do(func() { close(s.stop) })
}

type savingSubscription struct {
	subscription.Subscription
	saver *cursorSaver
}

func (s *savingSubscription) Unsubscribe() {
	s.Subscription.Unsubscribe()
	s.saver.close()
}
