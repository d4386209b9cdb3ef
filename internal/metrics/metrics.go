// Package metrics exposes Prometheus collectors for the authentication
// flows. A nil *Metrics is valid and records nothing, so instrumentation
// never becomes a hard dependency of the flows.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Login outcome labels.
const (
	LoginOK       = "ok"
	LoginRejected = "rejected"
	LoginLocked   = "locked"
	LoginDisabled = "disabled"
	LoginError    = "error"
)

// Refresh rejection reason labels.
const (
	RefreshInvalid = "invalid"
	RefreshExpired = "expired"
	RefreshReused  = "reused"
)

type Metrics struct {
	loginAttempts   *prometheus.CounterVec
	lockouts        prometheus.Counter
	rotations       prometheus.Counter
	refreshRejected *prometheus.CounterVec
	sessionsRevoked prometheus.Counter
	resetRequested  prometheus.Counter
	resetRedeemed   prometheus.Counter
	flowDuration    *prometheus.HistogramVec
}

// New registers the collectors with reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		loginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicauth_login_attempts_total", Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		lockouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "clinicauth_lockouts_total", Help: "Accounts locked after repeated failures",
		}),
		rotations: factory.NewCounter(prometheus.CounterOpts{
			Name: "clinicauth_refresh_rotations_total", Help: "Successful refresh-token rotations",
		}),
		refreshRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicauth_refresh_rejected_total", Help: "Rejected refresh attempts by reason",
		}, []string{"reason"}),
		sessionsRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "clinicauth_sessions_revoked_total", Help: "Refresh sessions revoked outside natural expiry",
		}),
		resetRequested: factory.NewCounter(prometheus.CounterOpts{
			Name: "clinicauth_password_reset_requests_total", Help: "Password reset tokens issued",
		}),
		resetRedeemed: factory.NewCounter(prometheus.CounterOpts{
			Name: "clinicauth_password_resets_total", Help: "Password resets completed",
		}),
		flowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "clinicauth_flow_duration_seconds", Help: "Flow handling duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"flow"}),
	}
}

func (m *Metrics) LoginAttempt(outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) RefreshRotated() {
	if m == nil {
		return
	}
	m.rotations.Inc()
}

func (m *Metrics) RefreshRejected(reason string) {
	if m == nil {
		return
	}
	m.refreshRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionsRevoked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsRevoked.Add(float64(n))
}

func (m *Metrics) ResetRequested() {
	if m == nil {
		return
	}
	m.resetRequested.Inc()
}

func (m *Metrics) ResetRedeemed() {
	if m == nil {
		return
	}
	m.resetRedeemed.Inc()
}

func (m *Metrics) ObserveFlow(flow string, start time.Time) {
	if m == nil {
		return
	}
	m.flowDuration.WithLabelValues(flow).Observe(time.Since(start).Seconds())
}
