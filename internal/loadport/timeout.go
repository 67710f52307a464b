package loadport

import "time"

// Timeout is a single-shot deadline. It is owned by the drive goroutine and
// is not safe for concurrent use.
type Timeout struct {
	now      func() time.Time
	deadline time.Time
	armed    bool
}

// NewTimeout creates a disarmed Timeout reading time from now.
func NewTimeout(now func() time.Time) *Timeout {
	if now == nil {
		now = time.Now
	}
	return &Timeout{now: now}
}

// Arm sets the deadline d from now, replacing any previous deadline.
func (t *Timeout) Arm(d time.Duration) {
	t.deadline = t.now().Add(d)
	t.armed = true
}

// Disarm clears the deadline.
func (t *Timeout) Disarm() {
	t.armed = false
	t.deadline = time.Time{}
}

// Expired reports true exactly once after the deadline passes, then disarms.
func (t *Timeout) Expired() bool {
	if !t.armed || t.now().Before(t.deadline) {
		return false
	}
	t.Disarm()
	return true
}

// Armed reports whether a deadline is outstanding.
func (t *Timeout) Armed() bool { return t.armed }

// Remaining returns the time left until the deadline, or zero when disarmed
// or already past.
func (t *Timeout) Remaining() time.Duration {
	if !t.armed {
		return 0
	}
	if d := t.deadline.Sub(t.now()); d > 0 {
		return d
	}
	return 0
}
