// Package clock abstracts time for the bridge's loops so backoff and
// scheduling behavior can be driven deterministically in tests.
//
// Production code takes a Clock and uses Real(). Tests use Fake(), then
// call WaitForTimers before Advance so that a goroutine has registered
// its wait before time moves.
package clock

import (
	"context"
	"time"
)

// Clock is the subset of the time package the bridge depends on.
type Clock interface {
	Now() time.Time
	// After returns a channel that receives once d has elapsed. If
	// d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sleep waits for d on clk or until ctx is done, whichever comes first.
// It returns ctx.Err() when the wait was cut short.
func Sleep(ctx context.Context, clk Clock, d time.Duration) error {
	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
