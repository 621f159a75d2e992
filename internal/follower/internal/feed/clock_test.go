package feed

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// fakeClock is a manual clock. Timers fire only through FireNext.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	armed  []time.Duration
}

type fakeTimer struct {
	clock  *fakeClock
	at     time.Time
	d      time.Duration
	f      func()
	active bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), d: d, f: f, active: true}
	c.timers = append(c.timers, t)
	c.armed = append(c.armed, d)
	return t
}

// FireNext moves the clock to the earliest active timer and fires it.
func (c *fakeClock) FireNext() (time.Duration, bool) {
	c.mu.Lock()
	var next *fakeTimer
	for _, t := range c.timers {
		if t.active && (next == nil || t.at.Before(next.at)) {
			next = t
		}
	}
	if next == nil {
		c.mu.Unlock()
		return 0, false
	}
	if next.at.After(c.now) {
		c.now = next.at
	}
	next.active = false
	c.mu.Unlock()

	next.f()
	return next.d, true
}

// Active returns the durations of the timers still pending.
func (c *fakeClock) Active() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if t.active {
			out = append(out, t.d)
		}
	}
	return out
}

// Armed returns the number of timers ever armed.
func (c *fakeClock) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.armed)
}

func (t *fakeTimer) Chan() <-chan time.Time { return nil }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.active
	t.active = false
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.active
	t.active = true
	t.d = d
	t.at = t.clock.now.Add(d)
	return was
}
