// Package backoff turns repeated failures into an increasing, capped delay.
package backoff

import "time"

// Backoff doubles its delay on every Next call, between Initial and Max.
// It is not safe for concurrent use.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// New creates a Backoff. A max below initial is raised to initial.
func New(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	return &Backoff{
		initial: initial,
		max:     max,
		current: initial,
	}
}

// Reset sets the current delay back to the initial value.
func (b *Backoff) Reset() {
	b.current = b.initial
}

// Next returns the delay to wait before the next retry and then doubles the
// stored delay, clamped to the maximum.
func (b *Backoff) Next() time.Duration {
	d := b.current
	if b.current > b.max/2 {
		b.current = b.max
	} else {
		b.current *= 2
	}
	return d
}

// Current returns the delay the next call to Next will return.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Initial returns the configured initial delay.
func (b *Backoff) Initial() time.Duration {
	return b.initial
}

// Max returns the configured maximum delay.
func (b *Backoff) Max() time.Duration {
	return b.max
}
