// Package retry holds the exponential backoff used by the bridge's
// reconnect and upload loops.
package retry

import "time"

const (
	DefaultInitial = 1 * time.Second
	DefaultMax     = 60 * time.Second
)

// Backoff doubles on every consecutive failure up to Max and returns to
// Initial after Reset. The zero value is not usable; use New or Default.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	current time.Duration
}

// New returns a Backoff starting at initial and capped at max.
func New(initial, max time.Duration) *Backoff {
	return &Backoff{Initial: initial, Max: max, current: initial}
}

// Default returns the 1s..60s backoff used throughout the bridge.
func Default() *Backoff {
	return New(DefaultInitial, DefaultMax)
}

// Current returns the wait the next failure should use.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Next returns the wait for the current failure and advances the
// backoff for the one after it.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.Max {
		b.current = b.Max
	}
	return d
}

// Reset returns the backoff to its initial wait.
func (b *Backoff) Reset() {
	b.current = b.Initial
}
