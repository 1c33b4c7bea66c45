package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, epoch.Add(5*time.Second), got)
	default:
		t.Fatal("did not fire at deadline")
	}
}

func TestFakeAfterNonPositiveIsImmediate(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("expected immediate fire")
	}
	assert.Empty(t, c.Pending())
}

func TestSleepHonorsContext(t *testing.T) {
	c := Fake(epoch)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Sleep(ctx, c, time.Hour) }()

	c.WaitForTimers(1)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestSleepReturnsAfterAdvance(t *testing.T) {
	c := Fake(epoch)
	done := make(chan error, 1)
	go func() { done <- Sleep(context.Background(), c, time.Minute) }()

	c.WaitForTimers(1)
	assert.Equal(t, []time.Duration{time.Minute}, c.Pending())
	c.Advance(time.Minute)
	require.NoError(t, <-done)
}
