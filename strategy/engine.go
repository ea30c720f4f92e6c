// Package strategy implements the band-maintenance decision engine of
// spec.md §4.2: given the current reference price and the order manager's
// live view, it emits Place/Amend/Cancel decisions that keep a fixed number
// of resting orders inside a narrow band on each side. Grounded on
// original_source's StrategyEngine for the overall trigger/evaluate/publish
// shape (_analyze_current_orders, _generate_order_decisions); the decision
// formulas themselves follow spec.md exactly rather than the source's
// 0.8*max_spread approximation.
package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/decimal"

	"passive-mm/bus"
	"passive-mm/order"
	"passive-mm/pricing"
	"passive-mm/reset"
)

// Config tunes Engine per spec.md §6's strategy section.
type Config struct {
	Symbol string

	MinSpread     decimal.Decimal
	MaxSpread     decimal.Decimal
	MinOrderValue decimal.Decimal

	TargetOrdersPerSide int

	DriftThreshold    decimal.Decimal
	RebalanceInterval time.Duration

	ModifyThreshold     decimal.Decimal
	MaxModifyDeviation  decimal.Decimal

	TickSize decimal.Decimal
	StepSize decimal.Decimal
	MinQty   decimal.Decimal
}

// Engine evaluates the band-maintenance algorithm on every trigger
// (PriceUpdate, OrderStateChanged, ResetTick) and publishes the resulting
// Decisions to the bus. It is pure over its inputs: it never retries and
// never mutates order state directly, per spec.md §4.2's failure semantics.
type Engine struct {
	cfg       Config
	bus       *bus.Bus
	manager   *order.Manager
	scheduler *reset.Scheduler

	mu             sync.Mutex
	lastEval       time.Time
	haveLastEval   bool
	referencePrice decimal.Decimal
	havePrice      bool
	emergencyStop  bool
}

// New constructs an Engine. scheduler may be nil if the caller does not
// need ResetTick cascade-drain notifications acknowledged.
func New(b *bus.Bus, m *order.Manager, scheduler *reset.Scheduler, cfg Config) *Engine {
	return &Engine{cfg: cfg, bus: b, manager: m, scheduler: scheduler}
}

// Run subscribes to every trigger topic and evaluates until ctx is
// cancelled. Meant to be launched as its own task, per spec.md §5.
func (e *Engine) Run(ctx context.Context) {
	priceCh, unsubPrice := e.bus.Subscribe(bus.TopicPriceUpdate)
	stateCh, unsubState := e.bus.Subscribe(bus.TopicOrderStateChange)
	resetCh, unsubReset := e.bus.Subscribe(bus.TopicResetTick)
	stopCh, unsubStop := e.bus.Subscribe(bus.TopicEmergencyStop)
	defer unsubPrice()
	defer unsubState()
	defer unsubReset()
	defer unsubStop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-priceCh:
			if !ok {
				return
			}
			if pu, ok := evt.Payload.(pricing.PriceUpdate); ok {
				e.onPriceUpdate(pu)
			}
		case evt, ok := <-stateCh:
			if !ok {
				return
			}
			if _, ok := evt.Payload.(order.OrderStateChanged); ok {
				e.maybeEvaluate(decimal.Zero, time.Now())
			}
		case evt, ok := <-resetCh:
			if !ok {
				return
			}
			if tick, ok := evt.Payload.(reset.Tick); ok {
				e.onResetTick(tick)
			}
		case _, ok := <-stopCh:
			if !ok {
				return
			}
			e.setEmergencyStop(true)
		}
	}
}

func (e *Engine) onPriceUpdate(pu pricing.PriceUpdate) {
	e.mu.Lock()
	prevPrice := e.referencePrice
	havePrev := e.havePrice
	e.referencePrice = pu.Value
	e.havePrice = true
	e.mu.Unlock()

	drift := decimal.Zero
	if havePrev && !prevPrice.IsZero() {
		drift = pu.Value.Sub(prevPrice).Abs().Div(prevPrice)
	}
	e.maybeEvaluate(drift, pu.Timestamp)
}

// onResetTick emits a Cancel for every non-terminal order immediately,
// bypassing the rebalance rate-limit entirely, per spec.md §4.2's ResetTick
// handling. The top-up branch runs on the following trigger once the
// order manager reflects the resulting cancellations.
func (e *Engine) onResetTick(tick reset.Tick) {
	orders := e.manager.NonTerminal(e.cfg.Symbol)
	decisions := make([]order.Decision, 0, len(orders))
	for _, o := range orders {
		decisions = append(decisions, order.CancelDecision{ClientOrderID: o.ClientOrderID})
	}
	e.publish(decisions)
	if e.scheduler != nil {
		e.scheduler.MarkDrainComplete()
	}
}

func (e *Engine) setEmergencyStop(v bool) {
	e.mu.Lock()
	e.emergencyStop = v
	e.mu.Unlock()
}

// maybeEvaluate applies the rebalance rate-limit: two consecutive cycles
// must be separated by rebalance_interval unless drift exceeds
// drift_threshold, in which case drift takes precedence and the cycle runs
// immediately (per SPEC_FULL.md §13's Open Question resolution).
func (e *Engine) maybeEvaluate(drift decimal.Decimal, now time.Time) {
	e.mu.Lock()
	elapsedOK := !e.haveLastEval || now.Sub(e.lastEval) >= e.cfg.RebalanceInterval
	driftOverride := e.cfg.DriftThreshold.Greater(decimal.Zero) && drift.Greater(e.cfg.DriftThreshold)
	if !elapsedOK && !driftOverride {
		e.mu.Unlock()
		return
	}
	e.lastEval = now
	e.haveLastEval = true
	e.mu.Unlock()

	e.publish(e.Evaluate())
}

// Evaluate runs one full decision cycle over both sides and returns the
// resulting decisions without publishing them. Exported so tests (and a
// future backtest harness) can exercise the algorithm directly.
func (e *Engine) Evaluate() []order.Decision {
	e.mu.Lock()
	price := e.referencePrice
	havePrice := e.havePrice
	stopped := e.emergencyStop
	e.mu.Unlock()
	if !havePrice {
		return nil
	}

	var decisions []order.Decision
	decisions = append(decisions, e.evaluateSide(order.SideSell, price, stopped)...)
	decisions = append(decisions, e.evaluateSide(order.SideBuy, price, stopped)...)
	return decisions
}

func (e *Engine) evaluateSide(side order.Side, price decimal.Decimal, stopped bool) []order.Decision {
	desiredPrice := e.desiredPrice(side, price)
	desiredQty := e.desiredQuantity(desiredPrice)

	live := e.manager.OccupiedSlots(e.cfg.Symbol, side)

	var decisions []order.Decision
	for _, o := range live {
		dev := o.Price.Sub(desiredPrice).Abs().Div(desiredPrice)
		switch {
		case !dev.Greater(e.cfg.ModifyThreshold):
			// within tolerance: leave untouched.
		case !dev.Greater(e.cfg.MaxModifyDeviation):
			if stopped {
				decisions = append(decisions, order.CancelDecision{ClientOrderID: o.ClientOrderID})
				continue
			}
			decisions = append(decisions, order.AmendDecision{
				ClientOrderID: o.ClientOrderID,
				NewPrice:      desiredPrice,
				NewQuantity:   desiredQty,
			})
		default:
			decisions = append(decisions, order.CancelDecision{ClientOrderID: o.ClientOrderID})
		}
	}

	if !stopped {
		need := e.cfg.TargetOrdersPerSide - len(live)
		for i := 0; i < need; i++ {
			decisions = append(decisions, order.PlaceDecision{
				Side:     side,
				Price:    desiredPrice,
				Quantity: desiredQty,
			})
		}
	}

	return decisions
}

// desiredPrice computes P·(1 + (min_spread+max_spread)/2) for a sell slot,
// and the mirror for a buy slot, rounded to the exchange tick.
func (e *Engine) desiredPrice(side order.Side, ref decimal.Decimal) decimal.Decimal {
	midBand := e.cfg.MinSpread.Add(e.cfg.MaxSpread).Div(decimal.NewFromInt(2))
	var raw decimal.Decimal
	if side == order.SideSell {
		raw = ref.Mul(decimal.NewFromInt(1).Add(midBand))
	} else {
		raw = ref.Mul(decimal.NewFromInt(1).Sub(midBand))
	}
	return roundToTick(raw, e.cfg.TickSize)
}

// desiredQuantity picks the smallest step-aligned quantity such that
// price*quantity >= min_order_value, clamped up to min_qty.
func (e *Engine) desiredQuantity(price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return e.cfg.MinQty
	}
	qty := e.cfg.MinOrderValue.Div(price)
	qty = roundUpToStep(qty, e.cfg.StepSize)
	if qty.Less(e.cfg.MinQty) {
		qty = e.cfg.MinQty
	}
	return qty
}

func (e *Engine) publish(decisions []order.Decision) {
	for _, d := range decisions {
		e.bus.Publish(bus.TopicDecision, d)
	}
}

// roundToTick rounds value to the nearest multiple of tick. A zero tick is
// treated as "no rounding constraint".
func roundToTick(value, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return value
	}
	ratio := value.Div(tick)
	return ratio.Round(0).Mul(tick)
}

// roundUpToStep rounds value up to the nearest multiple of step that is not
// smaller than value, so a quantity computed from min_order_value never
// ends up under the floor after alignment. A zero step is "no constraint".
func roundUpToStep(value, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return value
	}
	ratio := value.Div(step)
	rounded := ratio.Round(0).Mul(step)
	if rounded.Less(value) {
		rounded = rounded.Add(step)
	}
	return rounded
}
