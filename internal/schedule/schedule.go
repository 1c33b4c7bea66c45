// Package schedule derives the telemetry upload interval from the
// server-provided time window.
package schedule

import (
	"sync"
	"time"
)

// Schedule describes when uploads happen. Inside [Start, End] the
// interval alternates between ActivePeriod and InactivePeriod; outside
// the window, or when either bound is unset, DefaultInterval applies.
type Schedule struct {
	Start           time.Time // zero means unset
	End             time.Time // zero means unset
	ActivePeriod    time.Duration
	InactivePeriod  time.Duration
	DefaultInterval time.Duration
}

// Default returns a schedule with no window that uploads every interval.
func Default(interval time.Duration) Schedule {
	return Schedule{
		ActivePeriod:    interval,
		InactivePeriod:  interval,
		DefaultInterval: interval,
	}
}

// HasWindow reports whether both bounds are set.
func (s Schedule) HasWindow() bool {
	return !s.Start.IsZero() && !s.End.IsZero()
}

// Interval returns the sleep duration that applies at now.
func (s Schedule) Interval(now time.Time) time.Duration {
	if !s.HasWindow() || now.Before(s.Start) || now.After(s.End) {
		return s.DefaultInterval
	}
	cycle := s.ActivePeriod + s.InactivePeriod
	if cycle <= 0 {
		return s.DefaultInterval
	}
	elapsed := now.Sub(s.Start).Truncate(time.Second)
	if elapsed%cycle < s.ActivePeriod {
		return s.ActivePeriod
	}
	return s.InactivePeriod
}

// Holder guards the schedule shared between the command dispatcher,
// which replaces it, and the telemetry loop, which reads it.
type Holder struct {
	mu       sync.RWMutex
	schedule Schedule
	current  time.Duration
}

// NewHolder returns a Holder initialized with s.
func NewHolder(s Schedule) *Holder {
	return &Holder{schedule: s, current: s.DefaultInterval}
}

// Load returns the installed schedule.
func (h *Holder) Load() Schedule {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.schedule
}

// Store replaces the schedule as a whole and installs the interval it
// yields at now, which is returned.
func (h *Holder) Store(s Schedule, now time.Time) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.schedule = s
	h.current = s.Interval(now)
	return h.current
}

// Current recomputes the interval for now and records it as installed.
func (h *Holder) Current(now time.Time) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = h.schedule.Interval(now)
	return h.current
}

// Installed returns the most recently computed interval without
// recomputing it.
func (h *Holder) Installed() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}
