package lockout

import (
	"testing"
	"time"
)

func TestActive(t *testing.T) {
	p := DefaultPolicy()
	now := time.Now()

	if p.Active(nil, now) {
		t.Error("nil locked-until must not be active")
	}
	past := now.Add(-time.Minute)
	if p.Active(&past, now) {
		t.Error("elapsed lock must not be active")
	}
	future := now.Add(time.Minute)
	if !p.Active(&future, now) {
		t.Error("future lock must be active")
	}
}

func TestShouldLockAtThreshold(t *testing.T) {
	p := Policy{Threshold: 5, Duration: 15 * time.Minute}

	// Failures 1..4 stay below the threshold; the fifth locks.
	for prior := 0; prior < 3; prior++ {
		if p.ShouldLock(prior) {
			t.Errorf("ShouldLock(%d) = true, want false", prior)
		}
	}
	if !p.ShouldLock(4) {
		t.Error("fifth consecutive failure must lock")
	}
	if !p.ShouldLock(9) {
		t.Error("failures beyond the threshold must lock")
	}
}

func TestDisabledPolicyNeverLocks(t *testing.T) {
	p := Policy{}
	if p.Enabled() {
		t.Error("zero policy must be disabled")
	}
	if p.ShouldLock(100) {
		t.Error("disabled policy must never lock")
	}
}

func TestLockUntil(t *testing.T) {
	p := Policy{Threshold: 5, Duration: 15 * time.Minute}
	now := time.Now()
	if got := p.LockUntil(now); !got.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("LockUntil = %v, want now+15m", got)
	}
}
