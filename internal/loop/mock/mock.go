// Package mock provides a manual, deterministic [loop.Scheduler] for tests.
//
// Nothing runs on its own. Posted closures wait in a queue until [Scheduler.Flush];
// workers started with Go wait until [Scheduler.RunJob]; timers fire only
// when [Scheduler.Advance] moves the fake clock past their deadline.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/proctora/internal/loop"
)

type timer struct {
	id  uint64
	at  time.Time
	fn  func()
	dur time.Duration
}

// Scheduler is a manual [loop.Scheduler].
type Scheduler struct {
	mu     sync.Mutex
	now    time.Time
	queue  []func()
	jobs   []func(ctx context.Context) func()
	timers []*timer
	nextID uint64

	ctx    context.Context
	cancel context.CancelFunc

	// GoCalls counts calls to Go.
	GoCalls int
}

// New returns a Scheduler whose clock starts at start.
func New(start time.Time) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{now: start, ctx: ctx, cancel: cancel}
}

// Post implements [loop.Scheduler].
func (s *Scheduler) Post(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, fn)
}

// Go implements [loop.Scheduler]. The work is held until RunJob.
func (s *Scheduler) Go(work func(ctx context.Context) func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GoCalls++
	s.jobs = append(s.jobs, work)
}

// After implements [loop.Scheduler].
func (s *Scheduler) After(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.timers = append(s.timers, &timer{id: id, at: s.now.Add(d), fn: fn, dur: d})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, t := range s.timers {
			if t.id == id {
				s.timers = append(s.timers[:i], s.timers[i+1:]...)
				return
			}
		}
	}
}

// Now implements [loop.Scheduler].
func (s *Scheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Flush runs queued closures, including ones they post, until the queue is
// empty. It returns the number of closures run.
func (s *Scheduler) Flush() int {
	n := 0
	for s.FlushOne() {
		n++
	}
	return n
}

// FlushOne runs the oldest queued closure. It reports whether one ran.
func (s *Scheduler) FlushOne() bool {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return false
	}
	fn := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()
	fn()
	return true
}

// Jobs returns the number of workers waiting to run.
func (s *Scheduler) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Pending returns the number of queued closures.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RunJob runs the oldest waiting worker synchronously, posts its
// continuation and flushes the queue. It reports whether a job ran.
func (s *Scheduler) RunJob() bool {
	s.mu.Lock()
	if len(s.jobs) == 0 {
		s.mu.Unlock()
		return false
	}
	work := s.jobs[0]
	s.jobs = s.jobs[1:]
	ctx := s.ctx
	s.mu.Unlock()

	if next := work(ctx); next != nil && ctx.Err() == nil {
		s.Post(next)
	}
	s.Flush()
	return true
}

// RunJobs runs workers until none are waiting, including workers started by
// continuations.
func (s *Scheduler) RunJobs() int {
	n := 0
	for s.RunJob() {
		n++
	}
	return n
}

// Timers returns the durations of armed timers, in arming order.
func (s *Scheduler) Timers() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.timers))
	for i, t := range s.timers {
		out[i] = t.dur
	}
	return out
}

// Advance moves the clock forward by d, posts every timer that became due
// (earliest first) and flushes the queue.
func (s *Scheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	var due, keep []*timer
	for _, t := range s.timers {
		if !t.at.After(s.now) {
			due = append(due, t)
		} else {
			keep = append(keep, t)
		}
	}
	s.timers = keep
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		s.queue = append(s.queue, t.fn)
	}
	s.mu.Unlock()
	s.Flush()
}

// Stop cancels the worker context. Jobs run afterwards see a cancelled
// context and their continuations are dropped.
func (s *Scheduler) Stop() { s.cancel() }

// Compile-time interface assertion.
var _ loop.Scheduler = (*Scheduler)(nil)
