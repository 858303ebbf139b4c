// Package metrics holds the Prometheus collectors for the auth flows.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the auth collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Registrations      prometheus.Counter
	Logins             *prometheus.CounterVec
	TokensIssued       *prometheus.CounterVec
	TokenFailures      *prometheus.CounterVec
	OAuthCallbacks     *prometheus.CounterVec
	OrphanedLinks      prometheus.Counter
	ProviderLatency    *prometheus.HistogramVec
	MailDispatch       *prometheus.CounterVec
	AuditEventsDropped prometheus.Counter
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer in
// the server and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registrations: f.NewCounter(prometheus.CounterOpts{
			Name: "authgate_registrations_total",
			Help: "Total number of local accounts registered",
		}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_logins_total",
			Help: "Password logins by result",
		}, []string{"result"}),
		TokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_tokens_issued_total",
			Help: "Tokens issued by kind",
		}, []string{"kind"}),
		TokenFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_token_verification_failures_total",
			Help: "Token verification failures by reason",
		}, []string{"reason"}),
		OAuthCallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_oauth_callbacks_total",
			Help: "OAuth callbacks by reconciliation outcome",
		}, []string{"provider", "outcome"}),
		OrphanedLinks: f.NewCounter(prometheus.CounterOpts{
			Name: "authgate_orphaned_links_total",
			Help: "Provider links found pointing at a missing user",
		}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authgate_provider_request_duration_seconds",
			Help:    "Latency of identity provider calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		MailDispatch: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_mail_dispatch_total",
			Help: "Verification mail dispatch attempts by result",
		}, []string{"result"}),
		AuditEventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "authgate_audit_events_dropped_total",
			Help: "Audit events dropped because the publisher buffer was full",
		}),
	}
}

func (m *Metrics) IncrementRegistrations() {
	if m == nil {
		return
	}
	m.Registrations.Inc()
}

func (m *Metrics) IncrementLogins(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementTokensIssued(kind string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementTokenFailures(reason string) {
	if m == nil {
		return
	}
	m.TokenFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementOAuthCallbacks(provider, outcome string) {
	if m == nil {
		return
	}
	m.OAuthCallbacks.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) IncrementOrphanedLinks() {
	if m == nil {
		return
	}
	m.OrphanedLinks.Inc()
}

func (m *Metrics) ObserveProviderLatency(provider, operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderLatency.WithLabelValues(provider, operation).Observe(d.Seconds())
}

func (m *Metrics) IncrementMailDispatch(result string) {
	if m == nil {
		return
	}
	m.MailDispatch.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementAuditDropped() {
	if m == nil {
		return
	}
	m.AuditEventsDropped.Inc()
}
