// Package cursor persists resumption cursors so a resuming subscription can
// pick up where a previous process left off.
//
// A cursor is the id of the last event delivered to the caller. Stores are
// keyed by an application-chosen name, usually one per logical feed.
package cursor

import (
	"context"
	"time"
)

// Store saves and loads cursors. Implementations must be safe for
// concurrent use.
type Store interface {
	// Load returns the saved cursor for key, or "" when there is none or it
	// expired. An error is returned only for backend failures.
	Load(ctx context.Context, key string) (string, error)

	// Save records eventID as the cursor for key.
	Save(ctx context.Context, key, eventID string, opts ...Option) error

	// Delete forgets the cursor for key.
	Delete(ctx context.Context, key string) error

	// Close releases the backend.
	Close() error
}

// Option configures a Save.
type Option func(*Options)

// Options holds per-Save settings.
type Options struct {
	TTL *time.Duration // nil = keep forever
}

// WithTTL expires the saved cursor after ttl.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.TTL = &ttl
	}
}

// ApplyOptions folds opts into an Options value.
func ApplyOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
