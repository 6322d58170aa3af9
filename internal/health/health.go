// Package health tracks best-effort backend health for the readiness probe.
package health

import (
	"sync/atomic"
	"time"
)

// Tracker records the outcome of upstream calls. Writes are fire-and-forget
// and advisory only; readers tolerate races by design of the probe.
type Tracker struct {
	healthy     atomic.Bool
	lastSuccess atomic.Int64
	lastFailure atomic.Int64
}

// Status is a point-in-time view of the tracker.
type Status struct {
	Healthy     bool
	LastSuccess time.Time
	LastFailure time.Time
}

// NewTracker returns a tracker with no observations yet.
func NewTracker() *Tracker {
	return &Tracker{}
}

// MarkSuccess records a successful upstream call.
func (t *Tracker) MarkSuccess() {
	t.healthy.Store(true)
	t.lastSuccess.Store(time.Now().UnixNano())
}

// MarkFailure records a failed upstream call.
func (t *Tracker) MarkFailure() {
	t.healthy.Store(false)
	t.lastFailure.Store(time.Now().UnixNano())
}

// Snapshot returns the current view. Zero time values mean the respective
// outcome has never been observed.
func (t *Tracker) Snapshot() Status {
	s := Status{Healthy: t.healthy.Load()}
	if ns := t.lastSuccess.Load(); ns != 0 {
		s.LastSuccess = time.Unix(0, ns)
	}
	if ns := t.lastFailure.Load(); ns != 0 {
		s.LastFailure = time.Unix(0, ns)
	}
	return s
}

// Observed reports whether any upstream call has completed yet.
func (t *Tracker) Observed() bool {
	return t.lastSuccess.Load() != 0 || t.lastFailure.Load() != 0
}
