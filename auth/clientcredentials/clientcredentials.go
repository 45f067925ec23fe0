// Package clientcredentials provides a TokenProvider that obtains access
// tokens with the OAuth 2.0 client credentials grant. The token endpoint is
// found through OpenID Connect discovery unless configured explicitly.
package clientcredentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ggoodman/pushstream-go/auth"
)

// Config describes the client and where to find its authorization server.
type Config struct {
	// Issuer is used for discovery when TokenURL is empty.
	Issuer       string   `yaml:"issuer" env:"PUSHSTREAM_OAUTH_ISSUER"`
	TokenURL     string   `yaml:"token_url" env:"PUSHSTREAM_OAUTH_TOKEN_URL"`
	ClientID     string   `yaml:"client_id" env:"PUSHSTREAM_OAUTH_CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"PUSHSTREAM_OAUTH_CLIENT_SECRET"`
	Scopes       []string `yaml:"scopes" env:"PUSHSTREAM_OAUTH_SCOPES"`
	// Audience is sent as the audience endpoint parameter when set.
	Audience string `yaml:"audience" env:"PUSHSTREAM_OAUTH_AUDIENCE"`
}

// Enabled reports whether enough is configured to request tokens.
func (c Config) Enabled() bool {
	return c.ClientID != "" && (c.Issuer != "" || c.TokenURL != "")
}

// Provider is a caching TokenProvider fed by the client credentials grant.
type Provider struct {
	*auth.Caching
	tokenURL string
}

type Option func(*options)

type options struct {
	client  *http.Client
	log     *slog.Logger
	caching []auth.CachingOption
}

// WithHTTPClient sets the client used for discovery and token requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithCachingOptions forwards options to the underlying auth.Caching.
func WithCachingOptions(opts ...auth.CachingOption) Option {
	return func(o *options) { o.caching = append(o.caching, opts...) }
}

// New resolves the token endpoint and returns a Provider. Discovery happens
// once, here; token requests happen lazily on FetchToken.
func New(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("clientcredentials: client id is required")
	}
	o := &options{client: http.DefaultClient, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(o)
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		if cfg.Issuer == "" {
			return nil, errors.New("clientcredentials: issuer or token url is required")
		}
		provider, err := oidc.NewProvider(oidc.ClientContext(ctx, o.client), cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("discover token endpoint: %w", err)
		}
		tokenURL = provider.Endpoint().TokenURL
		if tokenURL == "" {
			return nil, fmt.Errorf("issuer %s does not advertise a token endpoint", cfg.Issuer)
		}
		o.log.Debug("clientcredentials.discovered", slog.String("issuer", cfg.Issuer), slog.String("token_url", tokenURL))
	}

	base := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleAutoDetect,
	}
	if cfg.Audience != "" {
		base.EndpointParams = url.Values{"audience": {cfg.Audience}}
	}

	fetch := func(ctx context.Context, params any) (string, error) {
		cc := base
		// Extra scopes may be requested per subscription.
		if scopes, ok := params.([]string); ok && len(scopes) > 0 {
			cc.Scopes = append(append([]string(nil), base.Scopes...), scopes...)
		}
		tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, o.client))
		if err != nil {
			return "", err
		}
		o.log.Debug("clientcredentials.token", slog.Time("expiry", tok.Expiry))
		return tok.AccessToken, nil
	}

	cachingOpts := append([]auth.CachingOption{auth.WithLogger(o.log)}, o.caching...)
	return &Provider{Caching: auth.NewCaching(fetch, cachingOpts...), tokenURL: tokenURL}, nil
}

// TokenURL returns the token endpoint in use.
func (p *Provider) TokenURL() string { return p.tokenURL }
