package risk

import (
	"testing"
	"time"

	"github.com/yanun0323/decimal"

	"passive-mm/bus"
	"passive-mm/order"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCancelAlwaysAllowed(t *testing.T) {
	g := New(bus.New(), Config{MaxPosition: d("1")})
	g.SetPosition(d("100"))
	allow, _ := g.Evaluate(order.CancelDecision{ClientOrderID: "c1"}, decimal.Zero)
	if !allow {
		t.Fatal("cancel must always be allowed")
	}
}

func TestPositionLimitBlocksIncreasingDecision(t *testing.T) {
	g := New(bus.New(), Config{MaxPosition: d("10")})
	g.SetPosition(d("9"))
	allow, reason := g.Evaluate(order.PlaceDecision{Side: order.SideBuy, Price: d("100"), Quantity: d("5")}, d("5"))
	if allow {
		t.Fatal("expected the position check to block this Place")
	}
	if reason == "" {
		t.Fatal("expected a reason")
	}
}

func TestPositionLimitAllowsReducingAmend(t *testing.T) {
	g := New(bus.New(), Config{MaxPosition: d("10")})
	g.SetPosition(d("9"))
	allow, _ := g.Evaluate(order.AmendDecision{ClientOrderID: "c1", NewPrice: d("100"), NewQuantity: d("1")}, d("-5"))
	if !allow {
		t.Fatal("a reducing amend must not be blocked by the position check")
	}
}

func TestOrderCountLimitBlocksPlace(t *testing.T) {
	g := New(bus.New(), Config{MaxOrderCount: 2})
	g.SetOrderCount(2)
	allow, _ := g.Evaluate(order.PlaceDecision{Side: order.SideBuy, Price: d("100"), Quantity: d("1")}, decimal.Zero)
	if allow {
		t.Fatal("expected the order count check to block this Place")
	}
}

func TestEmergencyStopBlocksEverythingButCancel(t *testing.T) {
	b := bus.New()
	g := New(b, Config{MaxDailyLoss: d("100")})
	g.RecordFillPnL(d("-150"))
	g.CheckDailyLoss(time.Now())
	if !g.Stopped() {
		t.Fatal("expected daily loss breach to trip EmergencyStop")
	}
	allow, _ := g.Evaluate(order.PlaceDecision{Side: order.SideBuy, Price: d("100"), Quantity: d("1")}, decimal.Zero)
	if allow {
		t.Fatal("expected Place to be blocked once stopped")
	}
	allow, _ = g.Evaluate(order.CancelDecision{ClientOrderID: "c1"}, decimal.Zero)
	if !allow {
		t.Fatal("cancel must still be allowed once stopped")
	}
}

func TestDailyLossBreachPublishesEmergencyStop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.TopicEmergencyStop)
	defer unsub()

	g := New(b, Config{MaxDailyLoss: d("100")})
	g.RecordFillPnL(d("-200"))
	g.CheckDailyLoss(time.Now())

	select {
	case evt := <-ch:
		if _, ok := evt.Payload.(Stop); !ok {
			t.Fatalf("payload type = %T, want Stop", evt.Payload)
		}
	default:
		t.Fatal("expected an EmergencyStop event")
	}
}

func TestPriceChangeSingleBreachRaisesAlert(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.TopicRiskAlert)
	defer unsub()

	g := New(b, Config{MaxPriceChange: d("0.01"), CheckInterval: time.Minute})
	now := time.Now()
	g.CheckPriceChange(now, d("30000"))
	g.CheckPriceChange(now.Add(time.Second), d("30600"))

	select {
	case evt := <-ch:
		alert, ok := evt.Payload.(Alert)
		if !ok || alert.Level != LevelMedium {
			t.Fatalf("expected a Medium Alert, got %+v", evt.Payload)
		}
	default:
		t.Fatal("expected a RiskAlert for the single breach")
	}
	if g.Stopped() {
		t.Fatal("a single breach must not trip EmergencyStop")
	}
}

func TestPriceChangeSustainedBreachEscalates(t *testing.T) {
	b := bus.New()
	g := New(b, Config{MaxPriceChange: d("0.01"), CheckInterval: time.Minute})
	now := time.Now()
	g.CheckPriceChange(now, d("30000"))
	g.CheckPriceChange(now.Add(time.Second), d("30600"))
	g.CheckPriceChange(now.Add(2*time.Second), d("31200"))

	if !g.Stopped() {
		t.Fatal("expected two consecutive breaches to escalate to EmergencyStop")
	}
	if g.Level() != LevelHigh {
		t.Fatalf("level = %s, want HIGH", g.Level())
	}
}

func TestPriceChangeWindowTrimsOldSamples(t *testing.T) {
	b := bus.New()
	g := New(b, Config{MaxPriceChange: d("0.01"), CheckInterval: time.Second})
	now := time.Now()
	g.CheckPriceChange(now, d("30000"))
	// arrives after the 1s window has rolled past the first sample, so the
	// comparison base shifts forward and no breach should be detected.
	g.CheckPriceChange(now.Add(5*time.Second), d("30600"))
	if g.Level() == LevelHigh {
		t.Fatal("a stale sample outside check_interval must not contribute to the comparison")
	}
}
