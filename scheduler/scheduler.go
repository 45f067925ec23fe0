// Package scheduler provides the schedule-now / schedule-after-delay
// primitive used by subscription chains, plus Serial, a single-consumer
// delivery context that runs actions one at a time in submission order.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// Job is a handle to a scheduled action. Cancel prevents the action from
// running if it has not started yet; it is idempotent and always safe.
type Job interface {
	Cancel()
}

// Scheduler runs actions asynchronously, either as soon as possible or after
// a delay.
type Scheduler interface {
	Schedule(fn func()) Job
	ScheduleAfter(d time.Duration, fn func()) Job
}

// New returns a Scheduler backed by goroutines and time.AfterFunc.
func New() Scheduler {
	return realtime{}
}

type realtime struct{}

type timerJob struct {
	cancelled atomic.Bool
	timer     *time.Timer
}

func (j *timerJob) Cancel() {
	j.cancelled.Store(true)
	if j.timer != nil {
		j.timer.Stop()
	}
}

func (realtime) Schedule(fn func()) Job {
	j := &timerJob{}
	go func() {
		if !j.cancelled.Load() {
			fn()
		}
	}()
	return j
}

func (realtime) ScheduleAfter(d time.Duration, fn func()) Job {
	j := &timerJob{}
	j.timer = time.AfterFunc(d, func() {
		if !j.cancelled.Load() {
			fn()
		}
	})
	return j
}

// Serial is a FIFO delivery context: actions submitted through it never run
// concurrently with each other, and run in the order they became due.
//
// A drain loop is started on the parent scheduler only while work is queued,
// so an idle Serial holds no goroutine.
type Serial struct {
	parent Scheduler

	mu      sync.Mutex
	queue   []*task
	running bool
}

// NewSerial returns a Serial that borrows execution from parent.
func NewSerial(parent Scheduler) *Serial {
	return &Serial{parent: parent}
}

type task struct {
	fn        func()
	cancelled atomic.Bool
}

func (t *task) Cancel() { t.cancelled.Store(true) }

type delayedTask struct {
	*task
	timer Job
}

func (d *delayedTask) Cancel() {
	d.task.Cancel()
	d.timer.Cancel()
}

// Schedule queues fn behind every action already queued.
func (s *Serial) Schedule(fn func()) Job {
	t := &task{fn: fn}
	s.enqueue(t)
	return t
}

// ScheduleAfter queues fn once d has elapsed.
func (s *Serial) ScheduleAfter(d time.Duration, fn func()) Job {
	t := &task{fn: fn}
	timer := s.parent.ScheduleAfter(d, func() {
		if !t.cancelled.Load() {
			s.enqueue(t)
		}
	})
	return &delayedTask{task: t, timer: timer}
}

func (s *Serial) enqueue(t *task) {
	s.mu.Lock()
	s.queue = append(s.queue, t)
	start := !s.running
	s.running = true
	s.mu.Unlock()

	if start {
		s.parent.Schedule(s.drain)
	}
}

func (s *Serial) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		t := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if !t.cancelled.Load() {
			t.fn()
		}
	}
}
