package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ggoodman/pushstream-go"
	"github.com/ggoodman/pushstream-go/auth"
	"github.com/ggoodman/pushstream-go/auth/clientcredentials"
	"github.com/ggoodman/pushstream-go/auth/filetoken"
	cursorredis "github.com/ggoodman/pushstream-go/cursor/redis"
	"github.com/ggoodman/pushstream-go/metrics"
	"github.com/ggoodman/pushstream-go/subscription"
	"github.com/ggoodman/pushstream-go/wire"
)

type tailFlags struct {
	resumeFrom string
	noResume   bool
	cursorKey  string
	count      int
}

// line is the JSON shape printed per event.
type line struct {
	ID      string          `json:"id"`
	Headers wire.Headers    `json:"headers,omitempty"`
	Body    json.RawMessage `json:"body"`
}

func newTailCmd(a *app) *cobra.Command {
	var f tailFlags
	cmd := &cobra.Command{
		Use:   "tail <path>",
		Short: "Print events from a subscription until it ends or is interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.tail(ctx, args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.resumeFrom, "resume-from", "", "event id to resume after")
	cmd.Flags().BoolVar(&f.noResume, "no-resume", false, "reconnect without a resumption cursor")
	cmd.Flags().StringVar(&f.cursorKey, "cursor-key", "", "key of the persisted cursor (default is the path); requires redis_url")
	cmd.Flags().IntVar(&f.count, "count", 0, "stop after this many events (0 = no limit)")
	return cmd
}

type subscriber interface {
	SubscribeResuming(path string, l subscription.Listeners, opts ...pushstream.SubscribeOption) subscription.Subscription
	SubscribeNonResuming(path string, l subscription.Listeners, opts ...pushstream.SubscribeOption) subscription.Subscription
}

func (a *app) tail(ctx context.Context, path string, f tailFlags) error {
	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)
	if a.cfg.MetricsAddr != "" {
		stopMetrics := a.serveMetrics(reg)
		defer stopMetrics()
	}

	clientOpts := []pushstream.Option{
		pushstream.WithLogger(a.log),
		pushstream.WithObserver(collector.Observe),
		pushstream.WithPoolSize(a.cfg.PoolSize),
	}
	client, err := a.newSubscriber(clientOpts)
	if err != nil {
		return err
	}

	subOpts := []pushstream.SubscribeOption{pushstream.WithRetryOptions(a.cfg.Retry)}

	tp, closeTP, err := a.tokenProvider(ctx)
	if err != nil {
		return err
	}
	defer closeTP()
	if tp != nil {
		subOpts = append(subOpts, pushstream.WithTokenProvider(tp, nil))
	}

	if a.cfg.RedisURL != "" {
		store, err := cursorredis.Open(a.cfg.RedisURL, a.cfg.CursorKeyPrefix)
		if err != nil {
			return err
		}
		defer store.Close()
		key := f.cursorKey
		if key == "" {
			key = path
		}
		subOpts = append(subOpts, pushstream.WithCursor(store, key))
	} else if f.cursorKey != "" {
		return errors.New("--cursor-key requires redis_url")
	}

	if f.resumeFrom != "" {
		if f.noResume {
			return errors.New("--resume-from and --no-resume are mutually exclusive")
		}
		subOpts = append(subOpts, pushstream.WithInitialEventID(f.resumeFrom))
	}

	p := newPrinter(a.stdout, f.count)
	if f.noResume {
		sub := client.SubscribeNonResuming(path, p.listeners(), subOpts...)
		return p.wait(ctx, sub)
	}
	sub := client.SubscribeResuming(path, p.listeners(), subOpts...)
	return p.wait(ctx, sub)
}

func (a *app) newSubscriber(opts []pushstream.Option) (subscriber, error) {
	if a.cfg.Locator != "" {
		if a.cfg.Host != "" {
			opts = append(opts, pushstream.WithHost(a.cfg.Host))
		}
		return pushstream.NewInstance(a.cfg.Locator, a.cfg.Service, a.cfg.ServiceVersion, opts...)
	}
	return pushstream.New(a.cfg.BaseURL, opts...)
}

func (a *app) tokenProvider(ctx context.Context) (auth.TokenProvider, func(), error) {
	noop := func() {}
	switch {
	case a.cfg.Token != "":
		return auth.Static(a.cfg.Token), noop, nil
	case a.cfg.TokenFile != "":
		p, err := filetoken.New(a.cfg.TokenFile, filetoken.WithLogger(a.log))
		if err != nil {
			return nil, noop, err
		}
		return p, func() { _ = p.Close() }, nil
	case a.cfg.OAuth.Enabled():
		p, err := clientcredentials.New(ctx, a.cfg.OAuth, clientcredentials.WithLogger(a.log))
		if err != nil {
			return nil, noop, err
		}
		return p, noop, nil
	}
	return nil, noop, nil
}

func (a *app) serveMetrics(reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics.serve.fail", slog.String("err", err.Error()))
		}
	}()
	return func() { _ = srv.Close() }
}

// printer writes events as JSON lines and turns the terminal callback into
// the command's result.
type printer struct {
	enc   *json.Encoder
	limit int

	mu   sync.Mutex
	seen int
	err  error
	done chan struct{}
	once sync.Once
}

func newPrinter(w io.Writer, limit int) *printer {
	return &printer{enc: json.NewEncoder(w), limit: limit, done: make(chan struct{})}
}

func (p *printer) listeners() subscription.Listeners {
	return subscription.Listeners{
		OnEvent: func(ev wire.Event) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.limit > 0 && p.seen >= p.limit {
				return
			}
			body, _ := ev.Body.(json.RawMessage)
			if body == nil {
				raw, err := json.Marshal(ev.Body)
				if err != nil {
					p.finishLocked(fmt.Errorf("encode event %s: %w", ev.ID, err))
					return
				}
				body = raw
			}
			if err := p.enc.Encode(line{ID: ev.ID, Headers: ev.Headers, Body: body}); err != nil {
				p.finishLocked(err)
				return
			}
			p.seen++
			if p.limit > 0 && p.seen >= p.limit {
				p.finishLocked(nil)
			}
		},
		OnEnd: func(eos *wire.EndOfStream) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if eos != nil && (eos.StatusCode < 200 || eos.StatusCode > 299) {
				p.finishLocked(fmt.Errorf("stream ended with status %d: %s", eos.StatusCode, eos.Error.Reason))
				return
			}
			p.finishLocked(nil)
		},
		OnError: func(err error) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.finishLocked(err)
		},
	}
}

func (p *printer) finishLocked(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *printer) wait(ctx context.Context, sub subscription.Subscription) error {
	defer sub.Unsubscribe()
	select {
	case <-ctx.Done():
		return nil
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.err
	}
}
