// Package retry decides whether a failed subscription attempt should be
// retried and schedules the retry after an exponential backoff.
package retry

import (
	"time"
)

// Options controls the backoff schedule and the retry budget.
type Options struct {
	// InitialTimeout is the delay before the first retry.
	InitialTimeout time.Duration `yaml:"initial_timeout" env:"PUSHSTREAM_RETRY_INITIAL_TIMEOUT,default=1s"`
	// MaxTimeout caps every computed delay; zero leaves the doubling
	// uncapped. Retry-After is not capped.
	MaxTimeout time.Duration `yaml:"max_timeout" env:"PUSHSTREAM_RETRY_MAX_TIMEOUT,default=5s"`
	// Limit is the maximum number of retries. Negative means unlimited and
	// zero disables retries entirely.
	Limit int `yaml:"limit" env:"PUSHSTREAM_RETRY_LIMIT,default=-1"`
}

// DefaultOptions returns 1s initial delay, 5s cap and no retry limit.
func DefaultOptions() Options {
	return Options{
		InitialTimeout: time.Second,
		MaxTimeout:     5 * time.Second,
		Limit:          -1,
	}
}

// Decision is the outcome of resolving an error.
type Decision int

const (
	DoNotRetry Decision = iota
	Retry
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case DoNotRetry:
		return "do_not_retry"
	default:
		return "unknown"
	}
}

// Connectivity reports whether the network is reachable. OnConnected
// registers fn to run once when connectivity returns (immediately if it is
// already connected) and returns a function that unregisters it.
type Connectivity interface {
	IsConnected() bool
	OnConnected(fn func()) (cancel func())
}

// AlwaysConnected is a Connectivity that never reports being offline.
type AlwaysConnected struct{}

func (AlwaysConnected) IsConnected() bool { return true }

func (AlwaysConnected) OnConnected(fn func()) func() {
	fn()
	return func() {}
}
