package pushstream

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ggoodman/pushstream-go/subscription"
)

// HostBase is the domain instance clusters live under.
const HostBase = "pusherplatform.io"

// Locator identifies a hosted service instance. Its string form is
// "<version>:<cluster>:<id>", for example "v1:us1:1a234-123a-1234".
type Locator struct {
	Version string
	Cluster string
	ID      string
}

// ParseLocator parses the string form of a Locator.
func ParseLocator(s string) (Locator, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Locator{}, fmt.Errorf("expecting locator of the form 'v1:us1:1a234-123a-1234-12a3-1234123aa12', got %q", s)
	}
	for i, p := range parts {
		if p == "" {
			return Locator{}, fmt.Errorf("locator %q has an empty segment at position %d", s, i)
		}
	}
	return Locator{Version: parts[0], Cluster: parts[1], ID: parts[2]}, nil
}

// Host returns "<cluster>.<HostBase>".
func (l Locator) Host() string {
	return l.Cluster + "." + HostBase
}

func (l Locator) String() string {
	return l.Version + ":" + l.Cluster + ":" + l.ID
}

// Instance is a Client scoped to one service instance. Relative paths become
// "services/<service>/<version>/<id>/<path>"; absolute URLs pass through.
type Instance struct {
	client  *Client
	locator Locator
	service string
	version string
}

// NewInstance parses locator and returns an Instance of service at version.
// Requests go to https://<cluster>.pusherplatform.io unless WithHost says
// otherwise.
func NewInstance(locator, service, version string, opts ...Option) (*Instance, error) {
	loc, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	if service == "" || version == "" {
		return nil, fmt.Errorf("service name and version are required")
	}

	cfg := &clientConfig{poolSize: defaultPoolSize}
	for _, opt := range opts {
		opt(cfg)
	}

	host := cfg.host
	if host == "" {
		host = loc.Host()
	}
	if !isAbsolute(host) {
		host = "https://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid host %q: %w", host, err)
	}

	return &Instance{client: newClient(u, cfg), locator: loc, service: service, version: version}, nil
}

// Client returns the unscoped client the instance sends requests through.
func (i *Instance) Client() *Client { return i.client }

// Locator returns the parsed locator.
func (i *Instance) Locator() Locator { return i.locator }

// Scope maps a relative path into the instance's service namespace.
func (i *Instance) Scope(path string) string {
	if isAbsolute(path) {
		return path
	}
	return "services/" + i.service + "/" + i.version + "/" + i.locator.ID + "/" + path
}

// SubscribeResuming is Client.SubscribeResuming on the scoped path.
func (i *Instance) SubscribeResuming(path string, l subscription.Listeners, opts ...SubscribeOption) subscription.Subscription {
	return i.client.SubscribeResuming(i.Scope(path), l, opts...)
}

// SubscribeNonResuming is Client.SubscribeNonResuming on the scoped path.
func (i *Instance) SubscribeNonResuming(path string, l subscription.Listeners, opts ...SubscribeOption) subscription.Subscription {
	return i.client.SubscribeNonResuming(i.Scope(path), l, opts...)
}
