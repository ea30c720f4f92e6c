// Package pricing implements the reference-price estimator: a smoothed,
// outlier-resistant price derived from trades and book updates, per
// spec.md §4.1. Grounded on original_source's ReferencePriceEngine for the
// TWAP/VWAP/EMA/Hybrid formulas, and on risk.CircuitBreaker's sliding-window
// trim idiom for the bounded sample ring.
package pricing

import (
	"sync"
	"time"

	"github.com/yanun0323/decimal"
)

// Method selects which formula Estimator uses to derive a reference price.
type Method string

const (
	MethodTWAP   Method = "TWAP"
	MethodVWAP   Method = "VWAP"
	MethodEMA    Method = "EMA"
	MethodHybrid Method = "HYBRID"
)

// Sample is one accepted market observation: either a trade (Quantity > 0)
// or a book mid-quote (Quantity is zero and only Price is meaningful).
type Sample struct {
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp time.Time
}

// Trade is the raw input from the exchange adapter's trade stream.
type Trade struct {
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp time.Time
}

// BookUpdate is the raw input from the exchange adapter's depth stream.
type BookUpdate struct {
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Timestamp time.Time
}

// Config tunes Estimator per spec.md §6's price section.
type Config struct {
	Method           Method
	WindowSize       int
	SmoothingFactor  decimal.Decimal // EMA alpha
	ChangeThreshold  decimal.Decimal // fractional; suppresses chatter
	AnomalyThreshold decimal.Decimal // fractional; outlier rejection
}

// PriceUpdate is the payload published on bus.TopicPriceUpdate.
type PriceUpdate struct {
	Value     decimal.Decimal
	Timestamp time.Time
	Method    Method
}

// Estimator consumes MarketTrade/BookUpdate observations and produces
// PriceUpdate samples. The sample ring is written only by the estimator
// itself; readers get copied values and never the ring itself, per spec.md §5's
// "market data rings" ownership rule.
type Estimator struct {
	mu sync.Mutex

	cfg Config

	window    []Sample
	lastValue decimal.Decimal
	haveValue bool

	lastEmitted  decimal.Decimal
	haveEmitted  bool

	ema       decimal.Decimal
	haveEMA   bool
	lastTs    time.Time

	droppedAnomalies int
	droppedOutOfOrder int
}

// New constructs an Estimator. An unset WindowSize defaults to 20.
func New(cfg Config) *Estimator {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}
	return &Estimator{cfg: cfg, window: make([]Sample, 0, cfg.WindowSize)}
}

// OnTrade ingests a trade tick, returning a PriceUpdate when the estimator's
// value has moved enough to publish (or ok=false otherwise).
func (e *Estimator) OnTrade(t Trade) (PriceUpdate, bool) {
	return e.ingest(Sample{Price: t.Price, Quantity: t.Quantity, Timestamp: t.Timestamp})
}

// OnBookUpdate ingests a book mid-quote as a zero-quantity sample.
func (e *Estimator) OnBookUpdate(b BookUpdate) (PriceUpdate, bool) {
	if b.BestBid.IsZero() && b.BestAsk.IsZero() {
		return PriceUpdate{}, false
	}
	mid := b.BestBid.Add(b.BestAsk).Div(decimal.NewFromInt(2))
	return e.ingest(Sample{Price: mid, Quantity: decimal.Zero, Timestamp: b.Timestamp})
}

func (e *Estimator) ingest(s Sample) (PriceUpdate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.lastTs.IsZero() && s.Timestamp.Before(e.lastTs) {
		e.droppedOutOfOrder++
		return PriceUpdate{}, false
	}

	if e.haveValue && !e.lastValue.IsZero() {
		dev := s.Price.Sub(e.lastValue).Abs().Div(e.lastValue)
		if dev.Greater(e.cfg.AnomalyThreshold) && e.cfg.AnomalyThreshold.Greater(decimal.Zero) {
			e.droppedAnomalies++
			return PriceUpdate{}, false
		}
	}

	e.lastTs = s.Timestamp
	e.window = append(e.window, s)
	if len(e.window) > e.cfg.WindowSize {
		e.window = e.window[len(e.window)-e.cfg.WindowSize:]
	}

	if e.cfg.Method == MethodEMA {
		return e.emitEMA(s)
	}

	if len(e.window) < 2 {
		return PriceUpdate{}, false
	}

	value := e.compute()
	e.lastValue = value
	e.haveValue = true
	return e.emitIfMoved(value, s.Timestamp)
}

func (e *Estimator) emitEMA(s Sample) (PriceUpdate, bool) {
	alpha := e.cfg.SmoothingFactor
	if alpha.IsZero() {
		alpha = decimal.NewFromFloat(0.1)
	}
	if !e.haveEMA {
		e.ema = s.Price
		e.haveEMA = true
	} else {
		e.ema = alpha.Mul(s.Price).Add(decimal.NewFromInt(1).Sub(alpha).Mul(e.ema))
	}
	e.lastValue = e.ema
	e.haveValue = true
	// EMA emits on every accepted sample, per spec.md P5.
	return PriceUpdate{Value: e.ema, Timestamp: s.Timestamp, Method: MethodEMA}, true
}

// emitIfMoved suppresses chatter: a PriceUpdate is only published once the
// value has moved by at least change_threshold since the last emission,
// per spec.md §4.1/P5. Called with the lock held.
func (e *Estimator) emitIfMoved(value decimal.Decimal, ts time.Time) (PriceUpdate, bool) {
	if e.haveEmitted && !e.lastEmitted.IsZero() {
		dev := value.Sub(e.lastEmitted).Abs().Div(e.lastEmitted)
		if dev.Less(e.cfg.ChangeThreshold) {
			return PriceUpdate{}, false
		}
	}
	e.lastEmitted = value
	e.haveEmitted = true
	return PriceUpdate{Value: value, Timestamp: ts, Method: e.cfg.Method}, true
}

// compute applies TWAP/VWAP/Hybrid over the current window. Called with the
// lock held.
func (e *Estimator) compute() decimal.Decimal {
	switch e.cfg.Method {
	case MethodVWAP:
		return e.vwap()
	case MethodHybrid:
		twap := e.twap()
		vwap := e.vwap()
		return twap.Mul(decimal.NewFromFloat(0.6)).Add(vwap.Mul(decimal.NewFromFloat(0.4)))
	default: // MethodTWAP and unset fall back to arithmetic mean
		return e.twap()
	}
}

func (e *Estimator) twap() decimal.Decimal {
	sum := decimal.Zero
	for _, s := range e.window {
		sum = sum.Add(s.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(e.window))))
}

// vwap is quantity-weighted; samples with zero quantity (bare book mid
// quotes) fall back to an equal-weight contribution of 1 so a mixed
// trade/book window still produces a usable average instead of dividing by
// zero total volume.
func (e *Estimator) vwap() decimal.Decimal {
	totalValue := decimal.Zero
	totalQty := decimal.Zero
	for _, s := range e.window {
		qty := s.Quantity
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		}
		totalValue = totalValue.Add(s.Price.Mul(qty))
		totalQty = totalQty.Add(qty)
	}
	if totalQty.IsZero() {
		return e.twap()
	}
	return totalValue.Div(totalQty)
}

// Value returns the last computed reference price and whether one exists
// yet (the window has not reached 2 samples for TWAP/VWAP/Hybrid, or no
// sample has arrived yet for EMA).
func (e *Estimator) Value() (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastValue, e.haveValue
}

// Stats reports counters useful for metrics: samples dropped as anomalies
// and samples dropped for arriving out of timestamp order.
func (e *Estimator) Stats() (droppedAnomalies, droppedOutOfOrder int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.droppedAnomalies, e.droppedOutOfOrder
}
