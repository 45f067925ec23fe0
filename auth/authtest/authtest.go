// Package authtest provides a scripted TokenProvider for tests.
package authtest

import (
	"context"
	"sync"

	"github.com/ggoodman/pushstream-go/auth"
)

var _ auth.TokenProvider = (*Provider)(nil)

// Result is one scripted FetchToken outcome.
type Result struct {
	Token string
	Err   error
}

// Provider returns scripted results in order, repeating the last one once
// the script runs out. It records every fetch and clear.
type Provider struct {
	// Gate, when non-nil, blocks every FetchToken until it receives a value
	// or is closed, or until the fetch context ends.
	Gate chan struct{}

	mu      sync.Mutex
	script  []Result
	fetches int
	params  []any
	cleared []string
}

// NewProvider returns a Provider that plays back results.
func NewProvider(results ...Result) *Provider {
	return &Provider{script: results}
}

// Tokens returns a Provider that hands out tokens in order.
func Tokens(tokens ...string) *Provider {
	results := make([]Result, 0, len(tokens))
	for _, t := range tokens {
		results = append(results, Result{Token: t})
	}
	return NewProvider(results...)
}

func (p *Provider) FetchToken(ctx context.Context, params any) (string, error) {
	if p.Gate != nil {
		select {
		case <-p.Gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.params = append(p.params, params)
	idx := p.fetches
	p.fetches++
	if len(p.script) == 0 {
		return "", auth.ErrNoToken
	}
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	r := p.script[idx]
	return r.Token, r.Err
}

func (p *Provider) ClearToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared = append(p.cleared, token)
}

// Fetches returns how many fetches completed.
func (p *Provider) Fetches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches
}

// Params returns the params passed to each completed fetch.
func (p *Provider) Params() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.params...)
}

// Cleared returns every token passed to ClearToken, in order.
func (p *Provider) Cleared() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cleared...)
}
