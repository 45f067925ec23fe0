// Package streamtest provides an in-process SUBSCRIBE server for tests.
//
// The server keeps an ordered log of published events with monotonically
// increasing ids and replays everything after Last-Event-Id to each new
// subscriber before streaming live events.
package streamtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/ggoodman/pushstream-go/wire"
)

// Request records one request seen by the server.
type Request struct {
	Method  string
	Path    string
	Headers http.Header
}

// Failure is a scripted error response.
type Failure struct {
	Status  int
	Headers http.Header
	Body    wire.ErrorResponseBody
}

// Server is an http.Handler speaking the subscription wire format.
type Server struct {
	mu          sync.Mutex
	events      []wire.Event
	counter     int
	ended       *wire.EndOfStream
	failures    []Failure
	requests    []Request
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	ch   chan string
	drop chan struct{}
}

// New returns an empty Server.
func New() *Server {
	return &Server{subscribers: make(map[*subscriber]struct{})}
}

// Start serves s on a new httptest.Server closed at the end of the test.
func (s *Server) Start(tb interface{ Cleanup(func()) }) *httptest.Server {
	srv := httptest.NewServer(s)
	tb.Cleanup(func() {
		s.Disconnect()
		srv.Close()
	})
	return srv
}

// Publish appends an event with the next id and pushes it to every live
// subscriber. It returns the id.
func (s *Server) Publish(body any) string {
	raw, err := json.Marshal(body)
	if err != nil {
		panic(fmt.Sprintf("streamtest: marshal body: %v", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	ev := wire.Event{ID: strconv.Itoa(s.counter), Headers: wire.Headers{}, Body: json.RawMessage(raw)}
	s.events = append(s.events, ev)

	line := mustEncode(wire.EncodeEvent(ev))
	for sub := range s.subscribers {
		sub.ch <- line
	}
	return ev.ID
}

// End sends an EndOfStream to every live subscriber and to every future one
// after its replay.
func (s *Server) End(eos wire.EndOfStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = &eos

	line := mustEncode(wire.EncodeEndOfStream(eos))
	for sub := range s.subscribers {
		sub.ch <- line
	}
}

// FailNext makes the next requests fail with f, one per call.
func (s *Server) FailNext(f ...Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f...)
}

// Disconnect aborts every live stream without an EndOfStream.
func (s *Server) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		close(sub.drop)
		delete(s.subscribers, sub)
	}
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Subscribers returns the number of live streams.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Headers: r.Header.Clone()})

	if len(s.failures) > 0 {
		f := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		writeFailure(w, f)
		return
	}

	if r.Method != "SUBSCRIBE" {
		s.mu.Unlock()
		writeFailure(w, Failure{Status: http.StatusMethodNotAllowed, Body: wire.ErrorResponseBody{Error: "method_not_allowed"}})
		return
	}

	replay := s.replayLocked(r.Header.Get(wire.LastEventIDHeader))
	sub := &subscriber{ch: make(chan string, 1024), drop: make(chan struct{})}
	for _, line := range replay {
		sub.ch <- line
	}
	if s.ended != nil {
		sub.ch <- mustEncode(wire.EncodeEndOfStream(*s.ended))
	}
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subscribers, sub)
		s.mu.Unlock()
	}()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.drop:
			panic(http.ErrAbortHandler)
		case line := <-sub.ch:
			if _, err := fmt.Fprintln(w, line); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			if isEndOfStream(line) {
				return
			}
		}
	}
}

// replayLocked returns the lines after lastEventID, or every line when the
// id is empty or unknown.
func (s *Server) replayLocked(lastEventID string) []string {
	start := 0
	if lastEventID != "" {
		for i, ev := range s.events {
			if ev.ID == lastEventID {
				start = i + 1
				break
			}
		}
	}
	lines := make([]string, 0, len(s.events)-start)
	for _, ev := range s.events[start:] {
		lines = append(lines, mustEncode(wire.EncodeEvent(ev)))
	}
	return lines
}

func writeFailure(w http.ResponseWriter, f Failure) {
	for k, vs := range f.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.Status)
	_ = json.NewEncoder(w).Encode(f.Body)
}

func isEndOfStream(line string) bool {
	msg, err := wire.Decode(line, nil)
	if err != nil {
		return false
	}
	_, ok := msg.(wire.EndOfStream)
	return ok
}

func mustEncode(line string, err error) string {
	if err != nil {
		panic(fmt.Sprintf("streamtest: %v", err))
	}
	return line
}
