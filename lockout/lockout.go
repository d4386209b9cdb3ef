// Package lockout implements the progressive login-lockout policy as pure
// functions of the stored failure counter and the clock. The policy holds no
// state of its own; the credential store owns the counter and the
// locked-until timestamp.
package lockout

import "time"

// Policy configures the failed-login lockout behavior.
type Policy struct {
	// Threshold is the number of consecutive failures that triggers a lock.
	Threshold int
	// Duration is how long a triggered lock lasts.
	Duration time.Duration
}

// DefaultPolicy locks an account for 15 minutes after 5 consecutive
// failures.
func DefaultPolicy() Policy {
	return Policy{Threshold: 5, Duration: 15 * time.Minute}
}

// Enabled reports whether the policy is active at all.
func (p Policy) Enabled() bool {
	return p.Threshold > 0 && p.Duration > 0
}

// Active reports whether a stored locked-until timestamp still blocks login
// at now.
func (p Policy) Active(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// ShouldLock reports whether recording one more failure on top of failures
// crosses the threshold.
func (p Policy) ShouldLock(failures int) bool {
	return p.Enabled() && failures+1 >= p.Threshold
}

// LockUntil returns the unlock time for a lock triggered at now.
func (p Policy) LockUntil(now time.Time) time.Time {
	return now.Add(p.Duration)
}
