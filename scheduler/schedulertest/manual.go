// Package schedulertest provides a deterministic, manually driven
// scheduler.Scheduler for tests.
package schedulertest

import (
	"sort"
	"sync"
	"time"

	"github.com/ggoodman/pushstream-go/scheduler"
)

var _ scheduler.Scheduler = (*Manual)(nil)

// Manual queues every action on a virtual clock. Nothing runs until the test
// calls RunPending or Advance, and actions always run on the calling
// goroutine.
type Manual struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []*entry
	delays  []time.Duration
}

type entry struct {
	at        time.Duration
	seq       int
	fn        func()
	cancelled bool
	m         *Manual
}

func (e *entry) Cancel() {
	e.m.mu.Lock()
	e.cancelled = true
	e.m.mu.Unlock()
}

// NewManual returns a Manual at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

// Schedule queues fn to run at the current virtual time.
func (m *Manual) Schedule(fn func()) scheduler.Job {
	return m.add(0, fn, false)
}

// ScheduleAfter queues fn to run once the virtual clock advances by d. The
// requested delay is recorded and visible through Delays.
func (m *Manual) ScheduleAfter(d time.Duration, fn func()) scheduler.Job {
	return m.add(d, fn, true)
}

func (m *Manual) add(d time.Duration, fn func(), record bool) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e := &entry{at: m.now + d, seq: m.seq, fn: fn, m: m}
	m.pending = append(m.pending, e)
	if record {
		m.delays = append(m.delays, d)
	}
	return e
}

// Delays returns every delay passed to ScheduleAfter, in call order.
func (m *Manual) Delays() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.delays...)
}

// Pending reports how many non-cancelled actions are queued, due or not.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.pending {
		if !e.cancelled {
			n++
		}
	}
	return n
}

// Now returns the virtual time.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// RunPending runs every due action, including actions that become due while
// running, until none are left.
func (m *Manual) RunPending() {
	for {
		e := m.nextDue()
		if e == nil {
			return
		}
		e.fn()
	}
}

// Advance moves the virtual clock forward by d, running actions as they
// become due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.RunPending()

		m.mu.Lock()
		next := time.Duration(-1)
		for _, e := range m.pending {
			if !e.cancelled && e.at <= target && (next < 0 || e.at < next) {
				next = e.at
			}
		}
		if next < 0 {
			m.now = target
			m.mu.Unlock()
			m.RunPending()
			return
		}
		m.now = next
		m.mu.Unlock()
	}
}

func (m *Manual) nextDue() *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.pending[:0]
	for _, e := range m.pending {
		if !e.cancelled {
			live = append(live, e)
		}
	}
	m.pending = live

	sort.SliceStable(m.pending, func(i, j int) bool {
		if m.pending[i].at != m.pending[j].at {
			return m.pending[i].at < m.pending[j].at
		}
		return m.pending[i].seq < m.pending[j].seq
	})

	if len(m.pending) == 0 || m.pending[0].at > m.now {
		return nil
	}
	e := m.pending[0]
	m.pending = m.pending[1:]
	return e
}
