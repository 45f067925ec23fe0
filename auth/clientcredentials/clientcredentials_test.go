package clientcredentials

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type issuer struct {
	*httptest.Server
	tokens atomic.Int32
	scopes atomic.Value
}

func newIssuer(t *testing.T) *issuer {
	iss := &issuer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 iss.URL,
			"authorization_endpoint": iss.URL + "/authorize",
			"token_endpoint":         iss.URL + "/oauth/token",
			"jwks_uri":               iss.URL + "/jwks",
		})
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id, secret, ok := r.BasicAuth()
		if !ok {
			id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
		}
		if id != "client" || secret != "secret" || r.PostForm.Get("grant_type") != "client_credentials" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
			return
		}
		iss.scopes.Store(r.PostForm.Get("scope"))
		n := iss.tokens.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	iss.Server = httptest.NewServer(mux)
	t.Cleanup(iss.Close)
	return iss
}

func TestDiscoversTokenEndpointAndFetches(t *testing.T) {
	iss := newIssuer(t)

	p, err := New(t.Context(), Config{Issuer: iss.URL, ClientID: "client", ClientSecret: "secret", Scopes: []string{"feeds:read"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if want := iss.URL + "/oauth/token"; p.TokenURL() != want {
		t.Errorf("want token url %s, got %s", want, p.TokenURL())
	}

	tok, err := p.FetchToken(t.Context(), nil)
	if err != nil {
		t.Fatalf("FetchToken: %v", err)
	}
	if tok != "access-1" {
		t.Errorf("want access-1, got %q", tok)
	}
	if got, _ := iss.scopes.Load().(string); got != "feeds:read" {
		t.Errorf("want scope feeds:read, got %q", got)
	}

	again, _ := p.FetchToken(t.Context(), nil)
	if again != tok || iss.tokens.Load() != 1 {
		t.Errorf("want cached token reused, got %q after %d requests", again, iss.tokens.Load())
	}

	p.ClearToken(tok)
	fresh, _ := p.FetchToken(t.Context(), []string{"feeds:write"})
	if fresh != "access-2" {
		t.Errorf("want a new token after clear, got %q", fresh)
	}
	if got, _ := iss.scopes.Load().(string); got != "feeds:read feeds:write" {
		t.Errorf("want extra scopes requested, got %q", got)
	}
}

func TestExplicitTokenURLSkipsDiscovery(t *testing.T) {
	iss := newIssuer(t)

	p, err := New(t.Context(), Config{TokenURL: iss.URL + "/oauth/token", ClientID: "client", ClientSecret: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.FetchToken(t.Context(), nil); err != nil {
		t.Fatalf("FetchToken: %v", err)
	}
}

func TestRejectedCredentials(t *testing.T) {
	iss := newIssuer(t)

	p, err := New(t.Context(), Config{TokenURL: iss.URL + "/oauth/token", ClientID: "client", ClientSecret: "wrong"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.FetchToken(t.Context(), nil)
	if err == nil || !strings.Contains(err.Error(), "invalid_client") {
		t.Errorf("want invalid_client error, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := New(t.Context(), Config{Issuer: "https://example.invalid"}); err == nil {
		t.Errorf("want an error without a client id")
	}
	if _, err := New(t.Context(), Config{ClientID: "client"}); err == nil {
		t.Errorf("want an error without issuer or token url")
	}
	if (Config{ClientID: "c"}).Enabled() {
		t.Errorf("config without endpoint should not be enabled")
	}
	if !(Config{ClientID: "c", TokenURL: "https://x"}).Enabled() {
		t.Errorf("config with token url should be enabled")
	}
}
