package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Chain RPC Metrics
	chainRPCCallsTotal   *prometheus.CounterVec
	chainRPCCallDuration *prometheus.HistogramVec

	// Sponsorship Metrics
	sponsorshipDecisionsTotal *prometheus.CounterVec
	relayerBalanceWei         prometheus.Gauge

	// Settlement Metrics
	settlementsTotal   *prometheus.CounterVec
	settlementDuration *prometheus.HistogramVec

	// Ledger Metrics
	ledgerTransitionsTotal *prometheus.CounterVec

	// Notification Metrics
	notificationsPublished *prometheus.CounterVec
	notifyPublishDuration  *prometheus.HistogramVec

	// Reconciliation Metrics
	reconcileOutcomesTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		chainRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chain_rpc_calls_total",
				Help: "Total number of chain RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		chainRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chain_rpc_call_duration_seconds",
				Help:    "Duration of chain RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		sponsorshipDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gas_sponsorship_decisions_total",
				Help: "Total number of gas sponsorship decisions by outcome",
			},
			[]string{"outcome"},
		),
		relayerBalanceWei: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relayer_balance_wei",
				Help: "Last observed relayer wallet native balance in wei",
			},
		),
		settlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlements_total",
				Help: "Total number of settlement attempts by outcome and sponsorship",
			},
			[]string{"status", "sponsored"},
		),
		settlementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "settlement_duration_seconds",
				Help:    "Duration of the settlement protocol (submission, not confirmation)",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"sponsored"},
		),
		ledgerTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transitions_total",
				Help: "Total number of ledger state transitions by resulting status",
			},
			[]string{"status"},
		),
		notificationsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_published_total",
				Help: "Total number of notification events published by kind and status",
			},
			[]string{"kind", "status"},
		),
		notifyPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notify_publish_duration_seconds",
				Help:    "Duration of NATS notification publishes in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"kind"},
		),
		reconcileOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_outcomes_total",
				Help: "Total number of reconciliation sweep outcomes per stale row",
			},
			[]string{"outcome"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"handler", "method"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by handler, method, and status code",
			},
			[]string{"handler", "method", "code"},
		),
	}
}

// RecordChainRPCCall records a chain RPC call with its duration.
func (m *Metrics) RecordChainRPCCall(method, status string, duration float64) {
	m.chainRPCCallsTotal.WithLabelValues(method, status).Inc()
	m.chainRPCCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordSponsorshipDecision records the outcome of a gas sponsorship decision
// ("pay_own_gas", "sponsored", "unavailable", "error").
func (m *Metrics) RecordSponsorshipDecision(outcome string) {
	m.sponsorshipDecisionsTotal.WithLabelValues(outcome).Inc()
}

// SetRelayerBalance records the last observed relayer balance in wei.
func (m *Metrics) SetRelayerBalance(wei float64) {
	m.relayerBalanceWei.Set(wei)
}

// RecordSettlement records a settlement attempt.
func (m *Metrics) RecordSettlement(status string, sponsored bool, duration float64) {
	s := "false"
	if sponsored {
		s = "true"
	}
	m.settlementsTotal.WithLabelValues(status, s).Inc()
	m.settlementDuration.WithLabelValues(s).Observe(duration)
}

// RecordLedgerTransition records a ledger state transition.
func (m *Metrics) RecordLedgerTransition(status string) {
	m.ledgerTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordNotificationPublish records a notification publish attempt.
func (m *Metrics) RecordNotificationPublish(kind, status string, duration float64) {
	m.notificationsPublished.WithLabelValues(kind, status).Inc()
	m.notifyPublishDuration.WithLabelValues(kind).Observe(duration)
}

// RecordReconcileOutcome records the outcome of reconciling one stale row
// ("confirmed", "failed", "still_pending", "error").
func (m *Metrics) RecordReconcileOutcome(outcome string) {
	m.reconcileOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	m.httpRequestDuration.WithLabelValues(handler, method).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, statusCodeLabel(statusCode)).Inc()
}

func statusCodeLabel(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
