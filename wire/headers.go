package wire

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// Use canonical header names for clarity; lookups are case-insensitive.
	RetryAfterHeader    = "Retry-After"
	RequestMethodHeader = "Request-Method"
	LastEventIDHeader   = "Last-Event-Id"
	AuthorizationHeader = "Authorization"
)

// Headers maps a header name to its values. Names keep whatever casing they
// arrived with on the wire; Get and Values match names case-insensitively.
type Headers map[string][]string

// FromHTTP copies an http.Header into Headers.
func FromHTTP(h http.Header) Headers {
	out := make(Headers, len(h))
	for k, vs := range h {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Values returns every value stored under name, matching case-insensitively.
// An exact-case match wins over folded matches.
func (h Headers) Values(name string) []string {
	if vs, ok := h[name]; ok {
		return vs
	}
	for k, vs := range h {
		if strings.EqualFold(k, name) {
			return vs
		}
	}
	return nil
}

// Get returns the first value stored under name or "".
func (h Headers) Get(name string) string {
	vs := h.Values(name)
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Clone returns a deep copy of h. Cloning a nil Headers returns an empty map.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, vs := range h {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// With returns a copy of h where name is set to values, replacing any
// existing entry regardless of its casing. h is never mutated.
func (h Headers) With(name string, values ...string) Headers {
	out := make(Headers, len(h)+1)
	for k, vs := range h {
		if strings.EqualFold(k, name) {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	out[name] = append([]string(nil), values...)
	return out
}

// ApplyTo adds every header value onto an outgoing http.Header.
func (h Headers) ApplyTo(dst http.Header) {
	for k, vs := range h {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// maxRetryAfterSecs is the largest whole number of seconds a Duration holds.
const maxRetryAfterSecs = int64(math.MaxInt64 / time.Second)

// RetryAfter interprets the Retry-After header as a number of seconds. It
// returns 0 when the header is absent, malformed or not positive. Values too
// large for a Duration saturate.
func (h Headers) RetryAfter() time.Duration {
	raw := strings.TrimSpace(h.Get(RetryAfterHeader))
	if raw == "" {
		return 0
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if errors.Is(err, strconv.ErrRange) && secs > 0 {
		secs = maxRetryAfterSecs
	} else if err != nil || secs <= 0 {
		return 0
	}
	if secs > maxRetryAfterSecs {
		secs = maxRetryAfterSecs
	}
	return time.Duration(secs) * time.Second
}
