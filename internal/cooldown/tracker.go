// Package cooldown tracks when each command last ran successfully within a session.
package cooldown

import (
	"math"
	"time"
)

// Tracker maps command name to its last successful invocation.
// It is owned by a single session and is not safe for concurrent use.
type Tracker struct {
	last map[string]time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{last: make(map[string]time.Time)}
}

// LastInvoked returns when name last ran successfully.
func (t *Tracker) LastInvoked(name string) (time.Time, bool) {
	at, ok := t.last[name]
	return at, ok
}

// Remaining returns how long name must still wait under window.
// Zero means the command may run. A command that never ran is always allowed.
func (t *Tracker) Remaining(name string, window time.Duration, now time.Time) time.Duration {
	if window <= 0 {
		return 0
	}
	at, ok := t.last[name]
	if !ok {
		return 0
	}
	elapsed := now.Sub(at)
	if elapsed >= window {
		return 0
	}
	return window - elapsed
}

// Mark records a successful invocation at now. Timestamps never move backwards.
func (t *Tracker) Mark(name string, now time.Time) {
	if at, ok := t.last[name]; ok && now.Before(at) {
		return
	}
	t.last[name] = now
}

// WaitSeconds rounds a remaining duration up to whole seconds.
func WaitSeconds(remaining time.Duration) int {
	return int(math.Ceil(remaining.Seconds()))
}
