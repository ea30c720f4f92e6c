package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDecisionIncrementsByKind(t *testing.T) {
	r := New(DefaultConfig())
	r.RecordDecision("place")
	r.RecordDecision("place")
	r.RecordDecision("cancel")

	if got := testutil.ToFloat64(r.decisionsEmitted.WithLabelValues("place")); got != 2 {
		t.Fatalf("place decisions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.decisionsEmitted.WithLabelValues("cancel")); got != 1 {
		t.Fatalf("cancel decisions = %v, want 1", got)
	}
}

func TestOrderLifecycleCounters(t *testing.T) {
	r := New(DefaultConfig())
	r.RecordOrderPlaced()
	r.RecordOrderAcked()
	r.RecordOrderRejected()
	r.RecordRetryAttempt("place")
	r.RecordRetryAttempt("place")

	if got := testutil.ToFloat64(r.ordersPlaced); got != 1 {
		t.Fatalf("ordersPlaced = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.ordersAcked); got != 1 {
		t.Fatalf("ordersAcked = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.ordersRejected); got != 1 {
		t.Fatalf("ordersRejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.retryAttempts.WithLabelValues("place")); got != 2 {
		t.Fatalf("retryAttempts[place] = %v, want 2", got)
	}
}

func TestSetRiskLevelMapsLadderToGaugeValue(t *testing.T) {
	r := New(DefaultConfig())

	r.SetRiskLevel("NORMAL")
	if got := testutil.ToFloat64(r.riskLevel); got != 0 {
		t.Fatalf("riskLevel(NORMAL) = %v, want 0", got)
	}
	r.SetRiskLevel("MEDIUM")
	if got := testutil.ToFloat64(r.riskLevel); got != 1 {
		t.Fatalf("riskLevel(MEDIUM) = %v, want 1", got)
	}
	r.SetRiskLevel("HIGH")
	if got := testutil.ToFloat64(r.riskLevel); got != 2 {
		t.Fatalf("riskLevel(HIGH) = %v, want 2", got)
	}
}

func TestActiveOrderCountLabelsBySide(t *testing.T) {
	r := New(DefaultConfig())
	r.SetActiveOrderCount("buy", 3)
	r.SetActiveOrderCount("sell", 1)

	if got := testutil.ToFloat64(r.activeOrderCount.WithLabelValues("buy")); got != 3 {
		t.Fatalf("activeOrderCount[buy] = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.activeOrderCount.WithLabelValues("sell")); got != 1 {
		t.Fatalf("activeOrderCount[sell] = %v, want 1", got)
	}
}

func TestBusDropsLabelByTopic(t *testing.T) {
	r := New(DefaultConfig())
	r.RecordBusDrop("decision")
	r.RecordBusDrop("decision")

	if got := testutil.ToFloat64(r.busDrops.WithLabelValues("decision")); got != 2 {
		t.Fatalf("busDrops[decision] = %v, want 2", got)
	}
}
