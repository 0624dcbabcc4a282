package queue

import (
	"sync"
	"time"
)

// TimeoutTracker tracks per-job execution deadlines and reports jobs that
// have overrun theirs.
type TimeoutTracker struct {
	defaultTimeout time.Duration
	mu             sync.Mutex
	entries        map[string]timeoutEntry
	now            func() time.Time
}

type timeoutEntry struct {
	start   time.Time
	timeout time.Duration
}

// NewTimeoutTracker builds a TimeoutTracker with the given default timeout,
// used when a job is tracked without an explicit override.
func NewTimeoutTracker(defaultTimeout time.Duration) *TimeoutTracker {
	return &TimeoutTracker{
		defaultTimeout: defaultTimeout,
		entries:        make(map[string]timeoutEntry),
		now:            time.Now,
	}
}

// StartTracking begins tracking jobID's timeout. A zero timeout uses the
// tracker's default.
func (t *TimeoutTracker) StartTracking(jobID string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}
	t.mu.Lock()
	t.entries[jobID] = timeoutEntry{start: t.now(), timeout: timeout}
	t.mu.Unlock()
}

// StopTracking stops tracking jobID, e.g. once it reaches a terminal state.
func (t *TimeoutTracker) StopTracking(jobID string) {
	t.mu.Lock()
	delete(t.entries, jobID)
	t.mu.Unlock()
}

// TimedOut returns the IDs of jobs whose tracked deadline has passed.
func (t *TimeoutTracker) TimedOut() []string {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for jobID, e := range t.entries {
		if now.Sub(e.start) > e.timeout {
			out = append(out, jobID)
		}
	}
	return out
}

// Remaining returns the time left before jobID times out, or false if it
// is not tracked.
func (t *TimeoutTracker) Remaining(jobID string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[jobID]
	if !ok {
		return 0, false
	}
	remaining := e.timeout - t.now().Sub(e.start)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}
