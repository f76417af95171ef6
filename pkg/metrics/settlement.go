package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementSnapshot mirrors the aggregate numbers exported as gauges.
type SettlementSnapshot struct {
	TotalProcessed  int64
	InEscrow        int64
	PayoutReady     int64
	PlatformRevenue int64
	Reconciled      bool
}

// SettlementMetrics exports settlement engine activity.
type SettlementMetrics struct {
	totalProcessed  prometheus.Gauge
	inEscrow        prometheus.Gauge
	payoutReady     prometheus.Gauge
	platformRevenue prometheus.Gauge
	reconciled      prometheus.Gauge
	transitions     *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	refused         *prometheus.CounterVec
	sessionLatency  *prometheus.HistogramVec
}

// NewSettlementMetrics registers the settlement metrics on reg. A nil
// registerer yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}
	m := &SettlementMetrics{
		totalProcessed:  gauge("settlement_total_processed", "Gross value of valid sales."),
		inEscrow:        gauge("settlement_in_escrow", "Gross value of valid sales not yet delivered."),
		payoutReady:     gauge("settlement_payout_ready", "Net value owed to vendors for delivered sales."),
		platformRevenue: gauge("settlement_platform_revenue", "Commission earned on valid sales."),
		reconciled:      gauge("settlement_reconciled", "1 when escrow, payout and delivered commission add up to the processed total."),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_transitions_total",
			Help: "Settlement operations by action and result.",
		}, []string{"action", "result"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_webhook_events_total",
			Help: "Gateway webhook deliveries by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		refused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_refused_payment_outcomes_total",
			Help: "Gateway outcomes the state machine refused. Refused succeeded outcomes need a manual refund.",
		}, []string{"verdict", "reason"}),
		sessionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_checkout_session_seconds",
			Help:    "Latency of hosted checkout session creation.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"result"}),
	}
	reg.MustRegister(m.totalProcessed, m.inEscrow, m.payoutReady, m.platformRevenue, m.reconciled,
		m.transitions, m.webhooks, m.refused, m.sessionLatency)
	return m
}

// RecordSnapshot publishes the latest aggregate numbers.
func (m *SettlementMetrics) RecordSnapshot(s SettlementSnapshot) {
	if m == nil || m.totalProcessed == nil {
		return
	}
	m.totalProcessed.Set(float64(s.TotalProcessed))
	m.inEscrow.Set(float64(s.InEscrow))
	m.payoutReady.Set(float64(s.PayoutReady))
	m.platformRevenue.Set(float64(s.PlatformRevenue))
	if s.Reconciled {
		m.reconciled.Set(1)
	} else {
		m.reconciled.Set(0)
	}
}

// IncTransition counts one settlement operation. result is applied, noop or conflict.
func (m *SettlementMetrics) IncTransition(action, result string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(action), normalizeLabel(result)).Inc()
}

// IncWebhook counts one gateway delivery.
func (m *SettlementMetrics) IncWebhook(eventType, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// IncRefusedOutcome counts one gateway outcome refused by a transition rule.
func (m *SettlementMetrics) IncRefusedOutcome(verdict, reason string) {
	if m == nil || m.refused == nil {
		return
	}
	m.refused.WithLabelValues(normalizeLabel(verdict), normalizeLabel(reason)).Inc()
}

// ObserveSession records how long a hosted session call took.
func (m *SettlementMetrics) ObserveSession(result string, d time.Duration) {
	if m == nil || m.sessionLatency == nil {
		return
	}
	m.sessionLatency.WithLabelValues(normalizeLabel(result)).Observe(d.Seconds())
}
