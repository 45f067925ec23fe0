package subscription

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/elnormous/contenttype"

	"github.com/ggoodman/pushstream-go/internal/workpool"
	"github.com/ggoodman/pushstream-go/wire"
)

// MethodSubscribe is the HTTP method of every streaming request.
const MethodSubscribe = "SUBSCRIBE"

const (
	initialLineBuffer = 64 * 1024
	maxLineSize       = 1024 * 1024
	maxErrorBody      = 64 * 1024
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// BaseConfig configures the transport-facing leaf of the pipeline.
type BaseConfig struct {
	// Client performs the request. http.DefaultClient when nil.
	Client *http.Client
	// URL is the absolute target of the SUBSCRIBE request.
	URL string
	// Parse decodes event bodies. wire.RawBody when nil.
	Parse wire.BodyParser
	// Pool runs the blocking read loop. A private unbounded pool when nil.
	Pool *workpool.Pool
}

// NewBase returns the Strategy that performs a single streaming request per
// invocation.
func NewBase(env *Env, cfg BaseConfig) Strategy {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Parse == nil {
		cfg.Parse = wire.RawBody
	}
	if cfg.Pool == nil {
		cfg.Pool = workpool.New(0)
	}
	return func(l Listeners, h wire.Headers) Subscription {
		return startBase(env, cfg, l, h)
	}
}

type base struct {
	env *Env
	cfg BaseConfig
	l   Listeners

	cancel   context.CancelFunc
	stopped  atomic.Bool
	terminal sync.Once
}

func startBase(env *Env, cfg BaseConfig, l Listeners, h wire.Headers) *base {
	ctx, cancel := context.WithCancel(context.Background())
	b := &base{env: env, cfg: cfg, l: l, cancel: cancel}
	h = h.Clone()
	cfg.Pool.Go(ctx, func(ctx context.Context) {
		defer cancel()
		b.run(ctx, h)
	})
	return b
}

// Unsubscribe cancels the request and its body read. Only a final
// OnEnd(nil) may still be delivered afterwards.
func (b *base) Unsubscribe() {
	if b.stopped.CompareAndSwap(false, true) {
		b.env.log.DebugContext(b.env.logContext(LayerBase, StateEnding), "subscription.base.unsubscribe")
		b.cancel()
	}
}

func (b *base) run(ctx context.Context, h wire.Headers) {
	if ctx.Err() != nil {
		b.end(nil)
		return
	}

	req, err := http.NewRequestWithContext(ctx, MethodSubscribe, b.cfg.URL, nil)
	if err != nil {
		b.fail(&wire.OtherError{Reason: "could not build subscribe request", Err: err})
		return
	}
	h.ApplyTo(req.Header)

	b.deliver(b.l.subscribe)
	resp, err := b.cfg.Client.Do(req)
	if err != nil {
		b.transportFailure(ctx, err)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		b.stream(ctx, resp)
	case resp.StatusCode >= 400 && resp.StatusCode <= 599:
		b.fail(errorResponse(resp))
	default:
		b.fail(&wire.NetworkError{Reason: "connection failed: unexpected status " + resp.Status})
	}
}

func (b *base) stream(ctx context.Context, resp *http.Response) {
	headers := wire.FromHTTP(resp.Header)
	b.deliver(func() { b.l.open(headers) })

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, initialLineBuffer), maxLineSize)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		msg, err := wire.Decode(line, b.cfg.Parse)
		if err != nil {
			b.fail(err)
			return
		}

		switch m := msg.(type) {
		case wire.Event:
			b.deliver(func() { b.l.event(m) })
		case wire.EndOfStream:
			b.end(&m)
			return
		}
	}

	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			b.fail(&wire.OtherError{Reason: "subscription message exceeds maximum line size", Err: err})
			return
		}
		b.transportFailure(ctx, err)
		return
	}
	b.end(nil)
}

func (b *base) transportFailure(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil:
		b.end(nil)
	case isTLSFailure(err):
		b.fail(&wire.OtherError{Reason: "tls handshake failed", Err: err})
	default:
		b.fail(&wire.NetworkError{Reason: "connection failed", Err: err})
	}
}

// deliver posts fn to the delivery scheduler unless the subscription has been
// stopped by the time it runs.
func (b *base) deliver(fn func()) {
	b.env.delivery.Schedule(func() {
		if b.stopped.Load() {
			return
		}
		fn()
	})
}

func (b *base) end(eos *wire.EndOfStream) {
	b.terminal.Do(func() {
		b.env.delivery.Schedule(func() {
			// A clean end caused by Unsubscribe is still reported.
			if eos != nil && b.stopped.Load() {
				return
			}
			b.l.end(eos)
		})
	})
}

func (b *base) fail(err error) {
	b.terminal.Do(func() {
		b.env.log.DebugContext(b.env.logContext(LayerBase, StateFailed), "subscription.base.error", slog.String("err", err.Error()))
		b.deliver(func() { b.l.error(err) })
	})
}

func errorResponse(resp *http.Response) *wire.ErrorResponse {
	er := &wire.ErrorResponse{
		StatusCode:    resp.StatusCode,
		Headers:       wire.FromHTTP(resp.Header),
		RequestMethod: MethodSubscribe,
		Code:          "unknown",
		Description:   "could not parse error response body",
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return er
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, err := contenttype.ParseMediaType(ct)
		if err != nil || !mt.Matches(jsonMediaType) {
			return er
		}
	}

	var eb wire.ErrorResponseBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error == "" {
		return er
	}
	er.Code = eb.Error
	er.Description = eb.ErrorDescription
	er.URI = eb.ErrorURI
	return er
}

func isTLSFailure(err error) bool {
	var (
		recordErr    tls.RecordHeaderError
		alertErr     tls.AlertError
		verifyErr    *tls.CertificateVerificationError
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr)
}
