// Package schedule decides whether a reporting cycle is due.
package schedule

import "time"

// DefaultMinInterval is the minimum time between two successful cycles.
const DefaultMinInterval = 3 * time.Hour

// ShouldRun reports whether a cycle is due at now. A non-positive interval
// disables reporting. A missing lastRun means no cycle ever succeeded.
func ShouldRun(lastRun *time.Time, minInterval time.Duration, now time.Time) bool {
	if minInterval <= 0 {
		return false
	}
	if lastRun == nil {
		return true
	}
	return now.After(lastRun.Add(minInterval))
}

// Gate binds ShouldRun to a fixed interval and clock.
type Gate struct {
	MinInterval time.Duration
	Now         func() time.Time
}

// NewGate creates a gate using the wall clock.
func NewGate(minInterval time.Duration) Gate {
	return Gate{MinInterval: minInterval, Now: time.Now}
}

// ShouldRun reports whether a cycle is due now.
func (g Gate) ShouldRun(lastRun *time.Time) bool {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return ShouldRun(lastRun, g.MinInterval, now())
}

// NextRun returns when the gate opens again, or the zero time if it never will.
func (g Gate) NextRun(lastRun *time.Time) time.Time {
	if g.MinInterval <= 0 {
		return time.Time{}
	}
	if lastRun == nil {
		if g.Now != nil {
			return g.Now()
		}
		return time.Now()
	}
	return lastRun.Add(g.MinInterval)
}
