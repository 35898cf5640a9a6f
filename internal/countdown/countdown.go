// Package countdown runs the pre-roll countdown shown before a recording
// starts.
package countdown

import (
	"errors"
	"sync"
	"time"
)

// ErrActive is returned by Begin while a countdown is already running.
var ErrActive = errors.New("countdown already active")

const defaultInterval = 100 * time.Millisecond

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithInterval overrides how often the clock is sampled.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// Scheduler counts down whole seconds by sampling the wall clock, so a
// stalled or coarse ticker never stretches the countdown.
//
// Callbacks run on the scheduler's goroutine while it holds an internal
// lock; they must not block or call back into the Scheduler.
type Scheduler struct {
	now      func() time.Time
	interval time.Duration

	fireMu sync.Mutex
	mu     sync.Mutex
	active bool
	gen    uint64
	stop   chan struct{}
}

// New constructs an idle Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{now: time.Now, interval: defaultInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin starts a countdown of d. onTick receives the remaining whole seconds
// (rounded up) each time that value changes, starting with the initial
// value. onComplete fires once when d has elapsed.
func (s *Scheduler) Begin(d time.Duration, onTick func(remaining int), onComplete func()) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrActive
	}
	s.active = true
	s.gen++
	gen := s.gen
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	go s.run(gen, stop, s.now(), d, onTick, onComplete)
	return nil
}

// Cancel stops the running countdown. Once Cancel returns, no callback from
// that countdown fires. Safe to call when idle.
func (s *Scheduler) Cancel() {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	close(s.stop)
}

// Active reports whether a countdown is running.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Scheduler) run(gen uint64, stop <-chan struct{}, start time.Time, d time.Duration, onTick func(int), onComplete func()) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := -1
	for {
		remaining := d - s.now().Sub(start)
		if remaining <= 0 {
			s.fire(gen, true, onComplete)
			return
		}
		if secs := ceilSeconds(remaining); secs != last {
			last = secs
			if onTick != nil {
				s.fire(gen, false, func() { onTick(secs) })
			}
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) fire(gen uint64, final bool, fn func()) {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	s.mu.Lock()
	live := s.active && s.gen == gen
	if live && final {
		s.active = false
		close(s.stop)
	}
	s.mu.Unlock()

	if live && fn != nil {
		fn()
	}
}

func ceilSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}
