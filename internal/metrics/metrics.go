package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultSuccess     = "success"
	ResultFailure     = "failure"
	ResultRateLimited = "rate_limited"
)

// Auth holds the counters for session operations. A nil *Auth is valid
// and records nothing.
type Auth struct {
	Logins        *prometheus.CounterVec
	Refreshes     *prometheus.CounterVec
	Logouts       prometheus.Counter
	Registrations *prometheus.CounterVec
	ResetRequests prometheus.Counter
	Resets        *prometheus.CounterVec
	Revocations   prometheus.Counter
}

func New(reg prometheus.Registerer) *Auth {
	f := promauto.With(reg)
	return &Auth{
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_logins_total", Help: "Login attempts by result",
		}, []string{"result"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_refreshes_total", Help: "Refresh rotations by result",
		}, []string{"result"}),
		Logouts: f.NewCounter(prometheus.CounterOpts{
			Name: "auth_logouts_total", Help: "Logout calls",
		}),
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_registrations_total", Help: "Registrations by result",
		}, []string{"result"}),
		ResetRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "auth_password_reset_requests_total", Help: "Password reset requests",
		}),
		Resets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_password_resets_total", Help: "Password resets by result",
		}, []string{"result"}),
		Revocations: f.NewCounter(prometheus.CounterOpts{
			Name: "auth_refresh_tokens_revoked_total", Help: "Refresh tokens revoked in bulk by admin action or password reset",
		}),
	}
}

func (m *Auth) Login(result string) {
	if m != nil {
		m.Logins.WithLabelValues(result).Inc()
	}
}

func (m *Auth) Refresh(result string) {
	if m != nil {
		m.Refreshes.WithLabelValues(result).Inc()
	}
}

func (m *Auth) Logout() {
	if m != nil {
		m.Logouts.Inc()
	}
}

func (m *Auth) Register(result string) {
	if m != nil {
		m.Registrations.WithLabelValues(result).Inc()
	}
}

func (m *Auth) ResetRequest() {
	if m != nil {
		m.ResetRequests.Inc()
	}
}

func (m *Auth) Reset(result string) {
	if m != nil {
		m.Resets.WithLabelValues(result).Inc()
	}
}

func (m *Auth) Revoked(n int64) {
	if m != nil && n > 0 {
		m.Revocations.Add(float64(n))
	}
}
