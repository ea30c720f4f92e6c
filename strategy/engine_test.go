package strategy

import (
	"testing"
	"time"

	"github.com/yanun0323/decimal"

	"passive-mm/bus"
	"passive-mm/order"
	"passive-mm/reset"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func baseConfig() Config {
	return Config{
		Symbol:              "BTCUSDT",
		MinSpread:           d("0.002"),
		MaxSpread:           d("0.004"),
		MinOrderValue:       d("10000"),
		TargetOrdersPerSide: 1,
		ModifyThreshold:     d("0.0005"),
		MaxModifyDeviation:  d("0.01"),
		RebalanceInterval:   0,
		TickSize:            d("0.01"),
		StepSize:            d("0.0001"),
		MinQty:              d("0.0001"),
	}
}

// S1: cold start, one side. Expect one Place on each side, sell at the
// mid-band markup and buy at its mirror, each notional >= min_order_value.
func TestColdStartPlacesBothSides(t *testing.T) {
	m := order.NewManager(nil, nil, 2)
	e := New(bus.New(), m, nil, baseConfig())
	e.referencePrice = d("30000")
	e.havePrice = true

	decisions := e.Evaluate()
	if len(decisions) != 2 {
		t.Fatalf("want 2 decisions, got %d", len(decisions))
	}

	var sawSell, sawBuy bool
	for _, dec := range decisions {
		p, ok := dec.(order.PlaceDecision)
		if !ok {
			t.Fatalf("decision type = %T, want PlaceDecision", dec)
		}
		if !p.Price.Mul(p.Quantity).Greater(d("10000")) && !p.Price.Mul(p.Quantity).Equal(d("10000")) {
			t.Fatalf("notional %s below min_order_value", p.Price.Mul(p.Quantity))
		}
		switch p.Side {
		case order.SideSell:
			sawSell = true
			if !p.Price.Equal(d("30090")) {
				t.Fatalf("sell price = %s, want 30090", p.Price)
			}
		case order.SideBuy:
			sawBuy = true
			if !p.Price.Equal(d("29910")) {
				t.Fatalf("buy price = %s, want 29910", p.Price)
			}
		}
	}
	if !sawSell || !sawBuy {
		t.Fatal("expected a Place decision on both sides")
	}
}

func activeSellOrder(t *testing.T, m *order.Manager, id string, price decimal.Decimal) {
	t.Helper()
	if _, err := m.AcceptPlace(id, "BTCUSDT", order.SideSell, price, d("0.5")); err != nil {
		t.Fatalf("AcceptPlace: %v", err)
	}
	if _, err := m.ApplyOrderAck(id, "ex-"+id); err != nil {
		t.Fatalf("ApplyOrderAck: %v", err)
	}
}

// S2: small drift keeps the deviation within max_modify_deviation -> Amend.
func TestSmallDriftAmends(t *testing.T) {
	m := order.NewManager(nil, nil, 2)
	activeSellOrder(t, m, "c1", d("30090"))

	e := New(bus.New(), m, nil, baseConfig())
	e.referencePrice = d("30030")
	e.havePrice = true

	decisions := e.Evaluate()
	var amended bool
	for _, dec := range decisions {
		if a, ok := dec.(order.AmendDecision); ok {
			amended = true
			if a.ClientOrderID != "c1" {
				t.Fatalf("amend targeted %q, want c1", a.ClientOrderID)
			}
		}
		if _, ok := dec.(order.CancelDecision); ok {
			t.Fatal("small drift must not cancel")
		}
	}
	if !amended {
		t.Fatal("expected an Amend decision for the drifted sell order")
	}
}

// S3: large drift exceeds max_modify_deviation -> Cancel, no Place in the
// same cycle since the cancelled order still occupies its slot until the
// manager observes the cancel.
func TestLargeDriftCancels(t *testing.T) {
	m := order.NewManager(nil, nil, 2)
	activeSellOrder(t, m, "c1", d("30090"))

	e := New(bus.New(), m, nil, baseConfig())
	e.referencePrice = d("30600")
	e.havePrice = true

	decisions := e.Evaluate()
	var cancelled, placedSell bool
	for _, dec := range decisions {
		switch v := dec.(type) {
		case order.CancelDecision:
			if v.ClientOrderID != "c1" {
				t.Fatalf("cancel targeted %q, want c1", v.ClientOrderID)
			}
			cancelled = true
		case order.PlaceDecision:
			if v.Side == order.SideSell {
				placedSell = true
			}
		}
	}
	if !cancelled {
		t.Fatal("expected a Cancel decision for the drifted sell order")
	}
	if placedSell {
		t.Fatal("must not top up the sell side in the same cycle as its cancel")
	}
}

// S4: a ResetTick cancels every non-terminal order immediately, bypassing
// the rebalance rate-limit.
func TestResetTickCancelsEverything(t *testing.T) {
	m := order.NewManager(nil, nil, 2)
	activeSellOrder(t, m, "c1", d("30090"))
	if _, err := m.AcceptPlace("c2", "BTCUSDT", order.SideBuy, d("29910"), d("0.5")); err != nil {
		t.Fatalf("AcceptPlace: %v", err)
	}

	b := bus.New()
	ch, unsub := b.Subscribe(bus.TopicDecision)
	defer unsub()

	e := New(b, m, nil, baseConfig())
	e.onResetTick(reset.Tick{Time: time.Now()})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case evt := <-ch:
			cancel, ok := evt.Payload.(order.CancelDecision)
			if !ok {
				t.Fatalf("decision type = %T, want CancelDecision", evt.Payload)
			}
			seen[cancel.ClientOrderID] = true
		default:
			t.Fatal("expected a Cancel decision for every non-terminal order")
		}
	}
	if !seen["c1"] || !seen["c2"] {
		t.Fatalf("expected cancels for both c1 and c2, got %v", seen)
	}
}

// The strategy engine never caps amend concurrency itself — that guard
// belongs to the order manager (enforced downstream by the execution
// engine). It emits one decision per drifting order unconditionally.
func TestEmitsOneDecisionPerDriftingOrder(t *testing.T) {
	m := order.NewManager(nil, nil, 2)
	activeSellOrder(t, m, "c1", d("30090"))

	cfg := baseConfig()
	cfg.TargetOrdersPerSide = 3
	e := New(bus.New(), m, nil, cfg)
	e.referencePrice = d("30000")
	e.havePrice = true

	// Top up the sell side to 3 slots, then drift the reference so all
	// three resting sells need an amend.
	e.Evaluate()
	activeSellOrder(t, m, "c2", d("30090"))
	activeSellOrder(t, m, "c3", d("30090"))

	e.referencePrice = d("30030")
	decisions := e.Evaluate()

	amends := 0
	for _, dec := range decisions {
		if _, ok := dec.(order.AmendDecision); ok {
			amends++
		}
	}
	if amends != 3 {
		t.Fatalf("amends = %d, want 3 (capping is the manager's job, not the engine's)", amends)
	}
}

// Emergency stop suppresses Place and Amend; an over-deviation order still
// gets cancelled so the book can wind down.
func TestEmergencyStopOnlyCancels(t *testing.T) {
	m := order.NewManager(nil, nil, 2)
	activeSellOrder(t, m, "c1", d("30090"))

	e := New(bus.New(), m, nil, baseConfig())
	e.referencePrice = d("30030")
	e.havePrice = true
	e.setEmergencyStop(true)

	decisions := e.Evaluate()
	for _, dec := range decisions {
		switch dec.(type) {
		case order.PlaceDecision:
			t.Fatal("emergency stop must not emit Place")
		case order.AmendDecision:
			t.Fatal("emergency stop must not emit Amend")
		}
	}
}

func TestRebalanceIntervalGatesEvaluation(t *testing.T) {
	m := order.NewManager(nil, nil, 2)
	cfg := baseConfig()
	cfg.RebalanceInterval = time.Minute
	cfg.DriftThreshold = d("0.05")

	b := bus.New()
	ch, unsub := b.Subscribe(bus.TopicDecision)
	defer unsub()

	e := New(b, m, nil, cfg)
	now := time.Now()
	e.maybeEvaluate(decimal.Zero, now)
	drainAll(ch)

	// Second trigger arrives immediately with sub-threshold drift: gated.
	e.referencePrice = d("30000")
	e.havePrice = true
	e.maybeEvaluate(d("0.001"), now.Add(time.Second))
	select {
	case <-ch:
		t.Fatal("expected the second cycle to be rate-limited")
	default:
	}

	// A drift above drift_threshold bypasses the gate immediately.
	e.maybeEvaluate(d("0.06"), now.Add(2*time.Second))
	select {
	case <-ch:
	default:
		t.Fatal("expected drift_threshold to override rebalance_interval")
	}
}

func drainAll(ch <-chan bus.Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
