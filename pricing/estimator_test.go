package pricing

import (
	"testing"
	"time"

	"github.com/yanun0323/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func baseConfig(method Method) Config {
	return Config{
		Method:           method,
		WindowSize:       5,
		SmoothingFactor:  decimal.NewFromFloat(0.5),
		ChangeThreshold:  decimal.NewFromFloat(0.001),
		AnomalyThreshold: decimal.NewFromFloat(0.1),
	}
}

func TestNoEmissionBelowTwoSamples(t *testing.T) {
	e := New(baseConfig(MethodTWAP))
	now := time.Now()
	if _, ok := e.OnTrade(Trade{Price: d("100"), Quantity: d("1"), Timestamp: now}); ok {
		t.Fatal("first sample must not emit")
	}
}

func TestTWAPEmitsAfterTwoSamples(t *testing.T) {
	e := New(baseConfig(MethodTWAP))
	now := time.Now()
	e.OnTrade(Trade{Price: d("100"), Quantity: d("1"), Timestamp: now})
	update, ok := e.OnTrade(Trade{Price: d("102"), Quantity: d("1"), Timestamp: now.Add(time.Second)})
	if !ok {
		t.Fatal("expected emission on second sample")
	}
	if !update.Value.Equal(d("101")) {
		t.Fatalf("TWAP = %s, want 101", update.Value)
	}
}

func TestVWAPWeightsByQuantity(t *testing.T) {
	e := New(baseConfig(MethodVWAP))
	now := time.Now()
	e.OnTrade(Trade{Price: d("100"), Quantity: d("1"), Timestamp: now})
	update, ok := e.OnTrade(Trade{Price: d("110"), Quantity: d("3"), Timestamp: now.Add(time.Second)})
	if !ok {
		t.Fatal("expected emission")
	}
	// (100*1 + 110*3) / 4 = 107.5
	if !update.Value.Equal(d("107.5")) {
		t.Fatalf("VWAP = %s, want 107.5", update.Value)
	}
}

func TestHybridBlendsTwapAndVwap(t *testing.T) {
	e := New(baseConfig(MethodHybrid))
	now := time.Now()
	e.OnTrade(Trade{Price: d("100"), Quantity: d("1"), Timestamp: now})
	update, ok := e.OnTrade(Trade{Price: d("200"), Quantity: d("1"), Timestamp: now.Add(time.Second)})
	if !ok {
		t.Fatal("expected emission")
	}
	// TWAP = 150, VWAP = 150 (equal qty) -> hybrid = 150
	if !update.Value.Equal(d("150")) {
		t.Fatalf("hybrid = %s, want 150", update.Value)
	}
}

func TestEMAEmitsOnEverySample(t *testing.T) {
	e := New(baseConfig(MethodEMA))
	now := time.Now()
	if _, ok := e.OnTrade(Trade{Price: d("100"), Quantity: d("1"), Timestamp: now}); !ok {
		t.Fatal("EMA must emit on the very first sample")
	}
	update, ok := e.OnTrade(Trade{Price: d("102"), Quantity: d("1"), Timestamp: now.Add(time.Millisecond)})
	if !ok {
		t.Fatal("EMA must emit on every accepted sample")
	}
	// alpha=0.5: ema = 0.5*102 + 0.5*100 = 101
	if !update.Value.Equal(d("101")) {
		t.Fatalf("EMA = %s, want 101", update.Value)
	}
}

func TestChangeThresholdSuppressesChatter(t *testing.T) {
	e := New(baseConfig(MethodTWAP))
	now := time.Now()
	e.OnTrade(Trade{Price: d("100"), Quantity: d("1"), Timestamp: now})
	e.OnTrade(Trade{Price: d("100"), Quantity: d("1"), Timestamp: now.Add(time.Second)})
	// moves the window mean by far less than 0.1% -> suppressed
	if _, ok := e.OnTrade(Trade{Price: d("100.001"), Quantity: d("1"), Timestamp: now.Add(2 * time.Second)}); ok {
		t.Fatal("sub-threshold movement must not emit")
	}
}

func TestAnomalyRejection(t *testing.T) {
	e := New(baseConfig(MethodTWAP))
	now := time.Now()
	e.OnTrade(Trade{Price: d("100"), Quantity: d("1"), Timestamp: now})
	e.OnTrade(Trade{Price: d("100"), Quantity: d("1"), Timestamp: now.Add(time.Second)})
	// 1000 deviates by 10x, well past the 10% anomaly threshold
	if _, ok := e.OnTrade(Trade{Price: d("1000"), Quantity: d("1"), Timestamp: now.Add(2 * time.Second)}); ok {
		t.Fatal("anomalous sample must be dropped, not emitted")
	}
	dropped, _ := e.Stats()
	if dropped != 1 {
		t.Fatalf("dropped anomaly count = %d, want 1", dropped)
	}
}

func TestOutOfOrderSamplesDropped(t *testing.T) {
	e := New(baseConfig(MethodTWAP))
	now := time.Now()
	e.OnTrade(Trade{Price: d("100"), Quantity: d("1"), Timestamp: now})
	if _, ok := e.OnTrade(Trade{Price: d("101"), Quantity: d("1"), Timestamp: now.Add(-time.Second)}); ok {
		t.Fatal("out-of-order sample must not emit")
	}
	_, outOfOrder := e.Stats()
	if outOfOrder != 1 {
		t.Fatalf("dropped out-of-order count = %d, want 1", outOfOrder)
	}
}

func TestBookUpdateUsesMidPrice(t *testing.T) {
	e := New(baseConfig(MethodTWAP))
	now := time.Now()
	e.OnBookUpdate(BookUpdate{BestBid: d("99"), BestAsk: d("101"), Timestamp: now})
	update, ok := e.OnBookUpdate(BookUpdate{BestBid: d("100"), BestAsk: d("102"), Timestamp: now.Add(time.Second)})
	if !ok {
		t.Fatal("expected emission")
	}
	// mids are 100 and 101 -> TWAP 100.5
	if !update.Value.Equal(d("100.5")) {
		t.Fatalf("mid TWAP = %s, want 100.5", update.Value)
	}
}
