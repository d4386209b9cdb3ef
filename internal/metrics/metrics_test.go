package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LoginAttempt(LoginOK)
	m.LoginAttempt(LoginOK)
	m.LoginAttempt(LoginRejected)
	m.Lockout()
	m.RefreshRotated()
	m.RefreshRejected(RefreshReused)
	m.SessionsRevoked(3)
	m.SessionsRevoked(0)
	m.ResetRequested()
	m.ResetRedeemed()
	m.ObserveFlow("login", time.Now())

	if got := testutil.ToFloat64(m.loginAttempts.WithLabelValues(LoginOK)); got != 2 {
		t.Errorf("login ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.loginAttempts.WithLabelValues(LoginRejected)); got != 1 {
		t.Errorf("login rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.lockouts); got != 1 {
		t.Errorf("lockouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sessionsRevoked); got != 3 {
		t.Errorf("sessions revoked = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.refreshRejected.WithLabelValues(RefreshReused)); got != 1 {
		t.Errorf("refresh reused = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.LoginAttempt(LoginOK)
	m.Lockout()
	m.RefreshRotated()
	m.RefreshRejected(RefreshInvalid)
	m.SessionsRevoked(1)
	m.ResetRequested()
	m.ResetRedeemed()
	m.ObserveFlow("login", time.Now())
}
