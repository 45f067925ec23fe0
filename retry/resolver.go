package retry

import (
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/pushstream-go/scheduler"
	"github.com/ggoodman/pushstream-go/wire"
)

// Resolver classifies subscription errors and owns at most one pending
// retry callback. A Resolver belongs to a single subscription chain; its
// retry count accumulates across every attempt of that chain.
type Resolver struct {
	opts          Options
	sched         scheduler.Scheduler
	conn          Connectivity
	unconditional bool
	log           *slog.Logger

	mu    sync.Mutex
	count int
	job   scheduler.Job
	wait  *connWait
}

type connWait struct {
	cancel func()
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithConnectivity makes network errors wait for connectivity before retrying
// while the helper reports the device as offline.
func WithConnectivity(c Connectivity) ResolverOption {
	return func(r *Resolver) {
		if c != nil {
			r.conn = c
		}
	}
}

// WithUnconditionalRetry retries every error, ignoring both the limit and
// the classification rules.
func WithUnconditionalRetry() ResolverOption {
	return func(r *Resolver) { r.unconditional = true }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// NewResolver returns a Resolver that schedules retries on sched.
func NewResolver(opts Options, sched scheduler.Scheduler, ropts ...ResolverOption) *Resolver {
	r := &Resolver{
		opts:  opts,
		sched: sched,
		conn:  AlwaysConnected{},
		log:   slog.New(slog.DiscardHandler),
	}
	for _, o := range ropts {
		o(r)
	}
	return r
}

// IsSafeMethod reports whether a request with the given method may be
// repeated after a server error.
func IsSafeMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "SUBSCRIBE", "HEAD", "PUT":
		return true
	default:
		return false
	}
}

// IsRetryable reports whether an error response is a server error on a safe
// request method.
func IsRetryable(e *wire.ErrorResponse) bool {
	return e.StatusCode >= 500 && e.StatusCode <= 599 && IsSafeMethod(e.Method())
}

// Decide classifies err. For Retry it returns the delay before the next
// attempt and counts the retry against the limit.
func (r *Resolver) Decide(err error) (Decision, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decideLocked(err)
}

func (r *Resolver) decideLocked(err error) (Decision, time.Duration) {
	if !r.unconditional {
		if r.opts.Limit >= 0 && r.count >= r.opts.Limit {
			return DoNotRetry, 0
		}
		if !classify(err) {
			return DoNotRetry, 0
		}
	}

	delay := r.backoffLocked()
	var er *wire.ErrorResponse
	if errors.As(err, &er) {
		if ra := er.Headers.RetryAfter(); ra > 0 {
			delay = ra
		}
	}
	r.count++
	return Retry, delay
}

func classify(err error) bool {
	var ne *wire.NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var er *wire.ErrorResponse
	if errors.As(err, &er) {
		return IsRetryable(er)
	}
	return false
}

// backoffLocked returns InitialTimeout doubled once per retry already
// taken, capped at MaxTimeout.
func (r *Resolver) backoffLocked() time.Duration {
	d := r.opts.InitialTimeout
	for i := 0; i < r.count; i++ {
		if r.opts.MaxTimeout > 0 && d >= r.opts.MaxTimeout {
			break
		}
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
	}
	if r.opts.MaxTimeout > 0 && d > r.opts.MaxTimeout {
		d = r.opts.MaxTimeout
	}
	return d
}

// Resolve decides on err and reports the decision to cb. DoNotRetry is
// reported synchronously; Retry is reported through the scheduler once the
// backoff has elapsed, or once connectivity returns for network errors
// raised while offline. Any previously pending retry is cancelled.
func (r *Resolver) Resolve(err error, cb func(Decision)) {
	r.mu.Lock()
	r.cancelLocked()
	decision, delay := r.decideLocked(err)
	if decision == DoNotRetry {
		count := r.count
		r.mu.Unlock()
		r.log.Debug("retry.resolve", slog.String("decision", decision.String()), slog.Int("retries", count), slog.String("err", err.Error()))
		cb(DoNotRetry)
		return
	}

	var ne *wire.NetworkError
	if errors.As(err, &ne) && !r.conn.IsConnected() {
		w := &connWait{}
		r.wait = w
		r.mu.Unlock()
		r.log.Debug("retry.wait_connectivity", slog.String("err", err.Error()))

		cancel := r.conn.OnConnected(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.wait != w {
				return
			}
			r.wait = nil
			r.job = r.sched.Schedule(func() { r.fire(cb) })
		})

		r.mu.Lock()
		if r.wait == w {
			w.cancel = cancel
			cancel = nil
		}
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	}

	r.job = r.sched.ScheduleAfter(delay, func() { r.fire(cb) })
	count := r.count
	r.mu.Unlock()
	r.log.Debug("retry.resolve", slog.String("decision", decision.String()), slog.Duration("delay", delay), slog.Int("retries", count), slog.String("err", err.Error()))
}

func (r *Resolver) fire(cb func(Decision)) {
	r.mu.Lock()
	r.job = nil
	r.mu.Unlock()
	cb(Retry)
}

// Cancel drops the pending retry, if any, without running it. It is safe to
// call at any time and any number of times.
func (r *Resolver) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
}

func (r *Resolver) cancelLocked() {
	if r.job != nil {
		r.job.Cancel()
		r.job = nil
	}
	if r.wait != nil {
		if r.wait.cancel != nil {
			r.wait.cancel()
		}
		r.wait = nil
	}
}

// Retries returns how many retries have been granted so far.
func (r *Resolver) Retries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
