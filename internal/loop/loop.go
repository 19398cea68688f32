// Package loop provides the single-goroutine event loop that owns all state
// of one interview view.
//
// Producers (sensor callbacks, network workers, timers) never touch view
// state directly. They [Loop.Post] a closure, and the loop goroutine runs the
// closures one at a time in arrival order. Because every mutation happens on
// that one goroutine, the gaze window, noise baseline, strike state and
// session need no locking.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStopped is returned by [Loop.Run] when the loop was stopped with
// [Loop.Stop] rather than through its context.
var ErrStopped = errors.New("loop: stopped")

// Scheduler is the subset of the loop that view components depend on.
// [mock.Scheduler] implements it deterministically for tests.
type Scheduler interface {
	// Post enqueues fn to run on the loop goroutine. Posting after the loop
	// has stopped is a silent no-op.
	Post(fn func())

	// Go runs work on a new worker goroutine. The continuation returned by
	// work (which may be nil) is posted back to the loop. ctx is cancelled
	// when the loop stops; continuations of workers that finish after that
	// are discarded.
	Go(work func(ctx context.Context) func())

	// After posts fn to the loop once d has elapsed. The returned function
	// cancels the timer; it is safe to call more than once.
	After(d time.Duration, fn func()) (cancel func())

	// Now returns the current time.
	Now() time.Time
}

// Loop is a cooperative single-goroutine executor. The zero value is not
// usable; create one with [New].
type Loop struct {
	name string

	mu      sync.Mutex
	queue   []func()
	stopped bool
	timers  map[uint64]*time.Timer
	nextID  uint64
	wake    chan struct{}
	stopCh  chan struct{}
	stopOne sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Loop.
type Option func(*Loop)

// WithName sets the name used in log messages.
func WithName(name string) Option {
	return func(l *Loop) { l.name = name }
}

// New creates a Loop. Call [Loop.Run] to start processing.
func New(opts ...Option) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		name:   "loop",
		timers: make(map[uint64]*time.Timer),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Post implements [Scheduler].
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Go implements [Scheduler].
func (l *Loop) Go(work func(ctx context.Context) func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		next := work(l.ctx)
		if next != nil && l.ctx.Err() == nil {
			l.Post(next)
		}
	}()
}

// After implements [Scheduler].
func (l *Loop) After(d time.Duration, fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return func() {}
	}
	id := l.nextID
	l.nextID++
	l.timers[id] = time.AfterFunc(d, func() {
		l.mu.Lock()
		_, live := l.timers[id]
		delete(l.timers, id)
		l.mu.Unlock()
		if live {
			l.Post(fn)
		}
	})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if t, ok := l.timers[id]; ok {
			t.Stop()
			delete(l.timers, id)
		}
	}
}

// Now implements [Scheduler].
func (l *Loop) Now() time.Time { return time.Now() }

// Run processes posted closures until ctx is cancelled or [Loop.Stop] is
// called. A panicking closure is logged and does not stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopCh:
			return ErrStopped
		case <-l.wake:
		}
		for {
			fn, ok := l.pop()
			if !ok {
				break
			}
			l.exec(fn)
		}
	}
}

// Stop halts the loop, cancels every pending timer and the worker context,
// drops queued closures and waits for running workers to return. Safe to call
// more than once and from any goroutine except a worker.
func (l *Loop) Stop() {
	l.stopOne.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		for id, t := range l.timers {
			t.Stop()
			delete(l.timers, id)
		}
		l.mu.Unlock()

		l.cancel()
		close(l.stopCh)
	})
}

// Wait blocks until all workers started with [Loop.Go] have returned.
func (l *Loop) Wait() { l.wg.Wait() }

// Done returns a channel closed once the loop is stopped.
func (l *Loop) Done() <-chan struct{} { return l.stopCh }

func (l *Loop) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("loop: closure panicked", "loop", l.name, "panic", r)
		}
	}()
	fn()
}

// Compile-time interface assertion.
var _ Scheduler = (*Loop)(nil)
