package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSettlementMetricsSnapshotAndCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)

	m.RecordSnapshot(SettlementSnapshot{
		TotalProcessed:  20000,
		InEscrow:        10000,
		PayoutReady:     9000,
		PlatformRevenue: 2000,
		Reconciled:      true,
	})
	m.IncTransition("force_release", "applied")
	m.IncTransition("force_release", "applied")
	m.IncWebhook("payment_intent.succeeded", "duplicate")
	m.IncRefusedOutcome("succeeded", "payment_final")
	m.ObserveSession("ok", 300*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	escrow := findMetricFamily(mfs, "settlement_in_escrow")
	if escrow == nil || escrow.GetMetric()[0].GetGauge().GetValue() != 10000 {
		t.Fatalf("unexpected escrow gauge %v", escrow)
	}
	reconciled := findMetricFamily(mfs, "settlement_reconciled")
	if reconciled == nil || reconciled.GetMetric()[0].GetGauge().GetValue() != 1 {
		t.Fatalf("expected reconciled gauge 1")
	}
	if got, err := fetchCounterValue(mfs, "settlement_transitions_total", "action", "force_release"); err != nil || got != 2 {
		t.Fatalf("expected 2 force releases, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "settlement_webhook_events_total", "outcome", "duplicate"); err != nil || got != 1 {
		t.Fatalf("expected 1 duplicate webhook, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "settlement_refused_payment_outcomes_total", "reason", "payment_final"); err != nil || got != 1 {
		t.Fatalf("expected 1 refused outcome, got %f (%v)", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "settlement_checkout_session_seconds", "result", "ok"); err != nil || got <= 0 {
		t.Fatalf("expected session latency recorded, got %f (%v)", got, err)
	}
}

func TestNilRegistererIsNoop(t *testing.T) {
	m := NewSettlementMetrics(nil)
	m.RecordSnapshot(SettlementSnapshot{TotalProcessed: 1})
	m.IncTransition("x", "y")
	m.IncWebhook("x", "y")
	m.ObserveSession("ok", time.Second)

	var nilMetrics *SettlementMetrics
	nilMetrics.IncTransition("x", "y")

	h := NewHTTPMetrics(nil)
	h.Observe("GET", "/x", 200, time.Millisecond)
}

func TestHTTPMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHTTPMetrics(reg)
	h.Observe("POST", "/api/v1/checkout", 201, 50*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "http_requests_total", "route", "/api/v1/checkout"); err != nil || got != 1 {
		t.Fatalf("expected 1 request, got %f (%v)", got, err)
	}
}
