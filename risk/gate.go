// Package risk implements the risk gate of spec.md §4.6: an ordered set of
// checks that can veto a Decision before it reaches the execution engine, or
// raise a RiskAlert/EmergencyStop on sustained breaches. The price-change
// check's sliding window is grounded on CircuitBreaker's trim-by-cutoff
// idiom (circuit.go, superseded by this file); the ordered-checks shape is
// grounded on MultiGuard's sequential composition (guard.go, superseded).
package risk

import (
	"sync"
	"time"

	"github.com/yanun0323/decimal"

	"passive-mm/bus"
	"passive-mm/order"
)

// Level is the risk escalation ladder of SPEC_FULL.md §12.
type Level string

const (
	LevelNormal Level = "NORMAL"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Alert is the payload published on bus.TopicRiskAlert.
type Alert struct {
	Level  Level
	Reason string
	Time   time.Time
}

// Stop is the payload published on bus.TopicEmergencyStop.
type Stop struct {
	Reason string
	Time   time.Time
}

// Config tunes Gate per spec.md §6's risk section.
type Config struct {
	MaxPosition    decimal.Decimal
	MaxOrderCount  int
	MaxPriceChange decimal.Decimal
	CheckInterval  time.Duration
	MaxDailyLoss   decimal.Decimal
}

type priceSample struct {
	price decimal.Decimal
	at    time.Time
}

// Gate holds the mutable risk state (position, order count, realized PnL,
// the price-change window) and evaluates decisions against it. Position,
// order count and realized PnL are pushed in by the caller (the
// orchestrator feeds them from fill-poller callbacks and its periodic
// order-count recompute).
type Gate struct {
	cfg Config
	bus *bus.Bus

	mu                  sync.Mutex
	level               Level
	stopped             bool
	position            decimal.Decimal
	orderCount          int
	realizedPnL         decimal.Decimal
	priceWindow         []priceSample
	consecutiveBreaches int
}

// New constructs a Gate starting at Level Normal.
func New(b *bus.Bus, cfg Config) *Gate {
	return &Gate{cfg: cfg, bus: b, level: LevelNormal}
}

// SetPosition records the engine's current net exposure, as tracked by the
// caller from fills.
func (g *Gate) SetPosition(p decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.position = p
}

// SetOrderCount records the current count of active (non-terminal) orders.
func (g *Gate) SetOrderCount(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orderCount = n
}

// RecordFillPnL accumulates delta (positive profit, negative loss) into the
// running daily realized PnL used by check 4.
func (g *Gate) RecordFillPnL(delta decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.realizedPnL = g.realizedPnL.Add(delta)
}

// ResetDaily zeroes the realized-PnL accumulator, meant to be called by the
// engine's day-boundary housekeeping.
func (g *Gate) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.realizedPnL = decimal.Zero
}

// Level reports the current escalation level.
func (g *Gate) Level() Level {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

// Stopped reports whether an EmergencyStop has been raised.
func (g *Gate) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

// Evaluate runs checks 1 and 2 against a single Decision: position limit and
// order count. Cancel decisions, and any decision once an EmergencyStop has
// fired, follow spec.md §4.6's exceptions. positionDelta is the prospective
// signed change to current_position the caller computed for this decision;
// a delta that brings |position| closer to zero never trips the position
// check, regardless of its sign.
func (g *Gate) Evaluate(d order.Decision, positionDelta decimal.Decimal) (bool, string) {
	if _, ok := d.(order.CancelDecision); ok {
		return true, ""
	}

	g.mu.Lock()
	stopped := g.stopped
	pos := g.position
	orderCount := g.orderCount
	g.mu.Unlock()

	if stopped {
		return false, "emergency stop in effect: only cancels are allowed"
	}

	if g.cfg.MaxPosition.Greater(decimal.Zero) {
		prospective := pos.Add(positionDelta).Abs()
		increasesExposure := prospective.Greater(pos.Abs())
		if increasesExposure && prospective.Greater(g.cfg.MaxPosition) {
			return false, "decision would exceed max_position"
		}
	}

	if _, ok := d.(order.PlaceDecision); ok {
		if g.cfg.MaxOrderCount > 0 && orderCount >= g.cfg.MaxOrderCount {
			return false, "active_order_count already at max_order_count"
		}
	}

	return true, ""
}

// CheckPriceChange runs check 3: the fractional change of price against the
// oldest sample still inside check_interval. A single breach raises a
// Medium RiskAlert; a breach sustained over two consecutive calls escalates
// to an EmergencyStop, per spec.md §4.6.
func (g *Gate) CheckPriceChange(now time.Time, price decimal.Decimal) {
	g.mu.Lock()
	g.priceWindow = append(g.priceWindow, priceSample{price: price, at: now})
	cutoff := now.Add(-g.cfg.CheckInterval)
	i := 0
	for ; i < len(g.priceWindow); i++ {
		if g.priceWindow[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		g.priceWindow = g.priceWindow[i:]
	}

	if len(g.priceWindow) < 2 || !g.cfg.MaxPriceChange.Greater(decimal.Zero) {
		g.mu.Unlock()
		return
	}

	first := g.priceWindow[0].price
	last := g.priceWindow[len(g.priceWindow)-1].price
	if first.IsZero() {
		g.mu.Unlock()
		return
	}
	change := last.Sub(first).Abs().Div(first)
	breach := change.Greater(g.cfg.MaxPriceChange)

	var sustained bool
	if breach {
		g.consecutiveBreaches++
		sustained = g.consecutiveBreaches >= 2
		if sustained {
			g.level = LevelHigh
		} else if g.level == LevelNormal {
			g.level = LevelMedium
		}
	} else {
		g.consecutiveBreaches = 0
		if g.level != LevelHigh {
			g.level = LevelNormal
		}
	}
	g.mu.Unlock()

	if !breach {
		return
	}
	if sustained {
		g.raiseStop(now, "max_price_change breach sustained over two consecutive checks")
		return
	}
	g.raiseAlert(LevelMedium, now, "max_price_change breach")
}

// CheckDailyLoss runs check 4: breaching max_daily_loss raises an immediate
// EmergencyStop, per spec.md §4.6.
func (g *Gate) CheckDailyLoss(now time.Time) {
	g.mu.Lock()
	pnl := g.realizedPnL
	breach := g.cfg.MaxDailyLoss.Greater(decimal.Zero) &&
		pnl.Less(decimal.Zero) &&
		pnl.Abs().Greater(g.cfg.MaxDailyLoss)
	g.mu.Unlock()

	if breach {
		g.raiseStop(now, "daily_realized_loss exceeded max_daily_loss")
	}
}

func (g *Gate) raiseAlert(level Level, now time.Time, reason string) {
	g.bus.Publish(bus.TopicRiskAlert, Alert{Level: level, Reason: reason, Time: now})
}

func (g *Gate) raiseStop(now time.Time, reason string) {
	g.mu.Lock()
	g.stopped = true
	g.level = LevelHigh
	g.mu.Unlock()
	g.bus.Publish(bus.TopicEmergencyStop, Stop{Reason: reason, Time: now})
}
