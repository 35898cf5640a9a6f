// Package deadline enforces the recording budget with two independent
// timers: the primary deadline and a watchdog that fires a grace period
// later in case the primary path is stuck.
package deadline

import (
	"errors"
	"sync"
	"time"
)

// ErrArmed is returned by Arm while the guard is already armed.
var ErrArmed = errors.New("deadline guard already armed")

const defaultInterval = 100 * time.Millisecond

// Trip identifies which timer expired.
type Trip int

const (
	TripPrimary Trip = iota + 1
	TripWatchdog
)

func (t Trip) String() string {
	switch t {
	case TripPrimary:
		return "primary"
	case TripWatchdog:
		return "watchdog"
	default:
		return "unknown"
	}
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithInterval overrides how often the clock is sampled.
func WithInterval(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.interval = d
		}
	}
}

// WithTick receives the time left before the primary deadline whenever the
// whole-second value changes.
func WithTick(fn func(remaining time.Duration)) Option {
	return func(g *Guard) { g.onTick = fn }
}

// WithSuppressed keeps the named trips from ever firing. Used to exercise
// the watchdog when the primary path is unavailable.
func WithSuppressed(trips ...Trip) Option {
	return func(g *Guard) {
		for _, trip := range trips {
			g.suppressed[trip] = true
		}
	}
}

// Guard arms a primary deadline and a watchdog from a single origin. Each
// timer runs on its own goroutine and samples the wall clock, so a clock
// jump is honoured at the next sample.
//
// Callbacks hold an internal lock while they run; they must not block or
// call back into the Guard.
type Guard struct {
	now        func() time.Time
	interval   time.Duration
	onTick     func(time.Duration)
	suppressed map[Trip]bool

	fireMu sync.Mutex
	mu     sync.Mutex
	armed  bool
	gen    uint64
	stop   chan struct{}
}

// New constructs a disarmed Guard.
func New(opts ...Option) *Guard {
	g := &Guard{now: time.Now, interval: defaultInterval, suppressed: make(map[Trip]bool)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Arm starts the primary timer at d and the watchdog at d+grace. onExpire
// may be called once per trip; the guard stays armed until Disarm or the
// watchdog fires.
func (g *Guard) Arm(d, grace time.Duration, onExpire func(Trip)) error {
	g.mu.Lock()
	if g.armed {
		g.mu.Unlock()
		return ErrArmed
	}
	g.armed = true
	g.gen++
	gen := g.gen
	stop := make(chan struct{})
	g.stop = stop
	g.mu.Unlock()

	origin := g.now()
	if !g.suppressed[TripPrimary] {
		go g.watch(gen, stop, origin.Add(d), TripPrimary, onExpire, g.onTick)
	}
	if !g.suppressed[TripWatchdog] {
		go g.watch(gen, stop, origin.Add(d+grace), TripWatchdog, onExpire, nil)
	}
	return nil
}

// Disarm cancels both timers. Once it returns no callback fires. Safe to
// call when disarmed.
func (g *Guard) Disarm() {
	g.fireMu.Lock()
	defer g.fireMu.Unlock()
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.armed {
		return
	}
	g.armed = false
	close(g.stop)
}

// Armed reports whether the guard is armed.
func (g *Guard) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

func (g *Guard) watch(gen uint64, stop <-chan struct{}, deadline time.Time, trip Trip, onExpire func(Trip), onTick func(time.Duration)) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	lastSecond := -1
	for {
		remaining := deadline.Sub(g.now())
		if remaining <= 0 {
			g.fire(gen, trip == TripWatchdog, func() {
				if onExpire != nil {
					onExpire(trip)
				}
			})
			return
		}
		if onTick != nil {
			if secs := int((remaining + time.Second - 1) / time.Second); secs != lastSecond {
				lastSecond = secs
				g.fire(gen, false, func() { onTick(remaining) })
			}
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (g *Guard) fire(gen uint64, final bool, fn func()) {
	g.fireMu.Lock()
	defer g.fireMu.Unlock()

	g.mu.Lock()
	live := g.armed && g.gen == gen
	if live && final {
		g.armed = false
		close(g.stop)
	}
	g.mu.Unlock()

	if live {
		fn()
	}
}
