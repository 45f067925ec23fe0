// Package filetoken provides a TokenProvider backed by a file that an
// external agent rotates, such as a projected service account token.
package filetoken

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ggoodman/pushstream-go/auth"
)

var _ auth.TokenProvider = (*Provider)(nil)

// Provider serves the trimmed contents of a file and reloads it whenever
// its directory changes.
//
// After ClearToken, FetchToken waits for the file to hold a different token
// instead of handing the rejected one out again.
type Provider struct {
	path        string
	waitTimeout time.Duration
	log         *slog.Logger

	watcher   *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	mu       sync.Mutex
	token    string
	rejected string
	changed  chan struct{}
}

type Option func(*Provider)

// WithWaitTimeout bounds how long FetchToken waits for a usable token before
// failing with auth.ErrNoToken. The default is 30 seconds.
func WithWaitTimeout(d time.Duration) Option {
	return func(p *Provider) { p.waitTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.log = l
		}
	}
}

// New reads path and starts watching its directory.
func New(path string, opts ...Option) (*Provider, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve token path: %w", err)
	}
	p := &Provider{
		path:        abs,
		waitTimeout: 30 * time.Second,
		log:         slog.New(slog.DiscardHandler),
		done:        make(chan struct{}),
		changed:     make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}

	if err := p.reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch token file: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch token directory: %w", err)
	}
	p.watcher = w

	p.wg.Add(1)
	go p.watch()
	return p, nil
}

func (p *Provider) watch() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			// Rotations often swap a symlinked directory, so any change in
			// the directory may have replaced the file.
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if err := p.reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
				p.log.Debug("filetoken.reload_failed", slog.String("path", p.path), slog.String("err", err.Error()))
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Debug("filetoken.watch_error", slog.String("err", err.Error()))
		}
	}
}

func (p *Provider) reload() error {
	b, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	tok := strings.TrimSpace(string(b))

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok == p.token {
		return nil
	}
	p.token = tok
	close(p.changed)
	p.changed = make(chan struct{})
	p.log.Debug("filetoken.reloaded", slog.String("path", p.path))
	return nil
}

// FetchToken returns the current token, waiting up to the configured timeout
// for one to appear when the file is empty or still holds a rejected token.
func (p *Provider) FetchToken(ctx context.Context, _ any) (string, error) {
	var timeout <-chan time.Time
	if p.waitTimeout > 0 {
		t := time.NewTimer(p.waitTimeout)
		defer t.Stop()
		timeout = t.C
	}

	for {
		p.mu.Lock()
		tok, changed := p.token, p.changed
		usable := tok != "" && tok != p.rejected
		p.mu.Unlock()
		if usable {
			return tok, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timeout:
			return "", fmt.Errorf("%w in %s", auth.ErrNoToken, p.path)
		case <-changed:
		}
	}
}

// ClearToken marks token as rejected and rereads the file.
func (p *Provider) ClearToken(token string) {
	p.mu.Lock()
	p.rejected = token
	p.mu.Unlock()
	if err := p.reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.log.Debug("filetoken.reload_failed", slog.String("path", p.path), slog.String("err", err.Error()))
	}
}

// Close stops watching the file.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.closeErr = p.watcher.Close()
		p.wg.Wait()
	})
	return p.closeErr
}
