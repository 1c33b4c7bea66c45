package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func windowed() Schedule {
	return Schedule{
		Start:           t0,
		End:             t0.Add(3600 * time.Second),
		ActivePeriod:    60 * time.Second,
		InactivePeriod:  30 * time.Second,
		DefaultInterval: 300 * time.Second,
	}
}

func TestIntervalInsideWindowAlternates(t *testing.T) {
	s := windowed()
	assert.Equal(t, 60*time.Second, s.Interval(t0.Add(10*time.Second)))
	assert.Equal(t, 30*time.Second, s.Interval(t0.Add(70*time.Second)))
	assert.Equal(t, 60*time.Second, s.Interval(t0.Add(90*time.Second)))
	assert.Equal(t, 30*time.Second, s.Interval(t0.Add(179*time.Second)))
}

func TestIntervalWindowBoundsInclusive(t *testing.T) {
	s := windowed()
	assert.Equal(t, 60*time.Second, s.Interval(t0))
	// 3600 % 90 == 0, so the end instant is at the start of an active slot.
	assert.Equal(t, 60*time.Second, s.Interval(t0.Add(3600*time.Second)))
}

func TestIntervalOutsideWindowUsesDefault(t *testing.T) {
	s := windowed()
	assert.Equal(t, 300*time.Second, s.Interval(t0.Add(5000*time.Second)))
	assert.Equal(t, 300*time.Second, s.Interval(t0.Add(-time.Second)))
}

func TestIntervalMissingBoundUsesDefault(t *testing.T) {
	s := windowed()
	s.End = time.Time{}
	assert.Equal(t, 300*time.Second, s.Interval(t0.Add(10*time.Second)))

	s = windowed()
	s.Start = time.Time{}
	assert.Equal(t, 300*time.Second, s.Interval(t0.Add(10*time.Second)))
}

func TestIntervalZeroCycleUsesDefault(t *testing.T) {
	s := windowed()
	s.ActivePeriod = 0
	s.InactivePeriod = 0
	assert.Equal(t, 300*time.Second, s.Interval(t0.Add(10*time.Second)))
}

func TestDefaultSchedule(t *testing.T) {
	s := Default(45 * time.Second)
	assert.False(t, s.HasWindow())
	assert.Equal(t, 45*time.Second, s.Interval(t0))
}

func TestHolderStoreInstallsCurrentInterval(t *testing.T) {
	h := NewHolder(Default(60 * time.Second))
	assert.Equal(t, 60*time.Second, h.Installed())

	got := h.Store(windowed(), t0.Add(70*time.Second))
	assert.Equal(t, 30*time.Second, got)
	assert.Equal(t, 30*time.Second, h.Installed())
	assert.Equal(t, windowed(), h.Load())

	assert.Equal(t, 60*time.Second, h.Current(t0.Add(95*time.Second)))
	assert.Equal(t, 60*time.Second, h.Installed())
}
