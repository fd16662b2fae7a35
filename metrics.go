package authcore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by the engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Logins         *prometheus.CounterVec
	Registrations  *prometheus.CounterVec
	PasswordResets *prometheus.CounterVec
	RateLimited    *prometheus.CounterVec
	OAuthLogins    *prometheus.CounterVec
	HashDuration   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_logins_total",
				Help: "Password logins by result",
			},
			[]string{"result"},
		),
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_registrations_total",
				Help: "Registrations by result",
			},
			[]string{"result"},
		),
		PasswordResets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_password_resets_total",
				Help: "Password reset requests and completions by result",
			},
			[]string{"stage", "result"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_rate_limited_total",
				Help: "Requests rejected by the rate limiter by bucket",
			},
			[]string{"bucket"},
		),
		OAuthLogins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_oauth_logins_total",
				Help: "Provider sign-ins by result",
			},
			[]string{"result"},
		),
		HashDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authcore_password_hash_seconds",
			Help:    "Time spent computing password digests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),
	}

	reg.MustRegister(m.Logins, m.Registrations, m.PasswordResets, m.RateLimited, m.OAuthLogins, m.HashDuration)
	return m
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return string(auditCode(err))
}

func (m *Metrics) login(err error) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) registration(err error) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) passwordReset(stage string, err error) {
	if m == nil {
		return
	}
	m.PasswordResets.WithLabelValues(stage, resultLabel(err)).Inc()
}

func (m *Metrics) rateLimited(bucket string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(bucket).Inc()
}

func (m *Metrics) oauthLogin(err error) {
	if m == nil {
		return
	}
	m.OAuthLogins.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) observeHash(start time.Time) {
	if m == nil {
		return
	}
	m.HashDuration.Observe(time.Since(start).Seconds())
}
