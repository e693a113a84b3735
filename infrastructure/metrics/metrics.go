// Package metrics provides Prometheus metrics collection for the wallet
// engine's agents and orchestrator.
package metrics

import (
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the wallet engine.
type Metrics struct {
	VRFProofsTotal *prometheus.CounterVec

	SessionsMintedTotal    prometheus.Counter
	SessionsDispensedTotal prometheus.Counter
	SessionsExhaustedTotal prometheus.Counter
	SessionsExpiredTotal   prometheus.Counter

	SignaturesIssuedTotal *prometheus.CounterVec

	IntentDigestMismatchTotal prometheus.Counter
	NonceContentionTotal      *prometheus.CounterVec

	RelayCallDuration *prometheus.HistogramVec

	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against a custom
// registerer (tests pass a fresh prometheus.NewRegistry() to avoid
// colliding with other tests registering the same collector names).
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		VRFProofsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_vrf_proofs_total",
				Help: "Total number of VRF proofs generated, by outcome",
			},
			[]string{"outcome"},
		),
		SessionsMintedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wallet_sessions_minted_total",
				Help: "Total number of signing sessions minted",
			},
		),
		SessionsDispensedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wallet_sessions_dispensed_total",
				Help: "Total number of times a signing session authorized a request",
			},
		),
		SessionsExhaustedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wallet_sessions_exhausted_total",
				Help: "Total number of rejected session dispense attempts other than expiry (exhausted or unknown session)",
			},
		),
		SessionsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wallet_sessions_expired_total",
				Help: "Total number of session dispense attempts rejected because the session had expired",
			},
		),
		SignaturesIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_signatures_issued_total",
				Help: "Total number of signatures issued, by signer mode",
			},
			[]string{"signer_mode"},
		),
		IntentDigestMismatchTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wallet_intent_digest_mismatch_total",
				Help: "Total number of requests rejected for an intent digest mismatch",
			},
		),
		NonceContentionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_nonce_contention_total",
				Help: "Total number of nonce reservation contentions, by account",
			},
			[]string{"account"},
		),
		RelayCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_relay_call_duration_seconds",
				Help:    "Relay call duration in seconds, by route",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wallet_service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wallet_service_info",
				Help: "Service build information",
			},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.VRFProofsTotal,
			m.SessionsMintedTotal,
			m.SessionsDispensedTotal,
			m.SessionsExhaustedTotal,
			m.SessionsExpiredTotal,
			m.SignaturesIssuedTotal,
			m.IntentDigestMismatchTotal,
			m.NonceContentionTotal,
			m.RelayCallDuration,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0").Set(1)
	return m
}

// RecordVRFProof records a VRF proof generation outcome ("ok" or "error").
func (m *Metrics) RecordVRFProof(outcome string) {
	m.VRFProofsTotal.WithLabelValues(outcome).Inc()
}

// RecordSignature records a signature issued under the given signer_mode
// ("local-signer" or "threshold-signer").
func (m *Metrics) RecordSignature(signerMode string) {
	m.SignaturesIssuedTotal.WithLabelValues(signerMode).Inc()
}

// RecordNonceContention records a nonce reservation conflict for an account.
func (m *Metrics) RecordNonceContention(account string) {
	m.NonceContentionTotal.WithLabelValues(account).Inc()
}

// RecordRelayCall records the duration of a relay call for a given route.
func (m *Metrics) RecordRelayCall(route string, duration time.Duration) {
	m.RelayCallDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// UpdateUptime sets the uptime gauge relative to startTime.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// Handler returns an HTTP handler exposing every collector registered
// against prometheus.DefaultGatherer, for cmd/walletd to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Enabled reports whether Prometheus metrics should be exposed, controlled
// by METRICS_ENABLED (defaults to enabled).
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return true
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance, initializing it with an
// "unknown" service name if Init was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
