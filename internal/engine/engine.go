// Package engine wires the bus, order manager, pricing estimator, strategy
// engine, execution engine, risk gate, and reset scheduler into the single
// running process spec.md §5 describes as five independent tasks sharing
// the bus. Grounded on internal/engine/trading_engine.go's
// EngineState/Statistics/stopChan-doneChan shape, re-targeted from a single
// tick-driven loop onto the event-driven task model this system actually
// uses.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yanun0323/decimal"
	"go.uber.org/zap"

	"passive-mm/bus"
	"passive-mm/config"
	"passive-mm/execution"
	"passive-mm/gateway"
	"passive-mm/gateway/streamfeed"
	"passive-mm/infrastructure/logger"
	"passive-mm/metrics"
	"passive-mm/order"
	"passive-mm/pricing"
	"passive-mm/reset"
	"passive-mm/risk"
	"passive-mm/strategy"
)

// State is the coarse lifecycle of the running engine.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Statistics mirrors the teacher's Statistics block, re-scoped to this
// engine's event counts instead of tick counts.
type Statistics struct {
	StartTime        time.Time
	TotalDecisions   int64
	TotalOrderAcks   int64
	TotalRejects     int64
	TotalRiskAlerts  int64
	LastPriceTime    time.Time
	mu               sync.RWMutex
}

func (s *Statistics) snapshot() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Statistics{
		StartTime:       s.StartTime,
		TotalDecisions:  s.TotalDecisions,
		TotalOrderAcks:  s.TotalOrderAcks,
		TotalRejects:    s.TotalRejects,
		TotalRiskAlerts: s.TotalRiskAlerts,
		LastPriceTime:   s.LastPriceTime,
	}
}

// Engine owns every component and the goroutines that run them.
type Engine struct {
	cfg    config.AppConfig
	durs   config.Durations
	symbol string

	bus     *bus.Bus
	manager *order.Manager
	gate    *risk.Gate

	estimator *pricing.Estimator
	strategy  *strategy.Engine
	execution *execution.Engine
	scheduler *reset.Scheduler
	feed      *streamfeed.Feed

	poller *gateway.FillPoller

	log     *logger.Logger
	metrics *metrics.Registry

	mu    sync.RWMutex
	state State
	stats Statistics

	posMu    sync.Mutex
	position decimal.Decimal

	stopChan chan struct{}
	doneChan chan struct{}
}

// New constructs every component from cfg but starts nothing. exchange is
// injected so tests can substitute fakes; production wiring passes a
// *gateway.BinanceExchange, which also gets a background FillPoller since it
// is the only concrete Exchange with a REST endpoint to poll.
func New(cfg config.AppConfig, log *logger.Logger, reg *metrics.Registry, exchange execution.Exchange, constraints order.SymbolConstraints) *Engine {
	durs := cfg.AsDurations()
	symbol := strings.ToUpper(cfg.Strategy.Symbol)

	b := bus.New()
	history := order.NewHistory(1024)
	manager := order.NewManager(b, history, cfg.OrderManagement.MaxPendingModifications)

	gate := risk.New(b, risk.Config{
		MaxPosition:    decimalOf(cfg.Risk.MaxPosition),
		MaxOrderCount:  cfg.Risk.MaxOrderCount,
		MaxPriceChange: decimalOf(cfg.Risk.MaxPriceChange),
		CheckInterval:  durs.CheckInterval,
		MaxDailyLoss:   decimalOf(cfg.Risk.MaxDailyLoss),
	})

	estimator := pricing.New(pricing.Config{
		Method:           pricing.Method(cfg.Price.Method),
		WindowSize:       cfg.Price.WindowSize,
		SmoothingFactor:  decimalOf(cfg.Price.SmoothingFactor),
		ChangeThreshold:  decimalOf(cfg.Price.ChangeThreshold),
		AnomalyThreshold: decimalOf(cfg.Price.AnomalyThreshold),
	})

	scheduler := reset.New(b, durs.ResetInterval)

	strat := strategy.New(b, manager, scheduler, strategy.Config{
		Symbol:              symbol,
		MinSpread:           decimalOf(cfg.Strategy.MinSpread),
		MaxSpread:           decimalOf(cfg.Strategy.MaxSpread),
		MinOrderValue:       decimalOf(cfg.Strategy.MinOrderValue),
		TargetOrdersPerSide: cfg.Strategy.TargetOrdersPerSide,
		DriftThreshold:      decimalOf(cfg.Strategy.DriftThreshold),
		RebalanceInterval:   durs.RebalanceInterval,
		ModifyThreshold:     decimalOf(cfg.Strategy.ModifyThreshold),
		MaxModifyDeviation:  decimalOf(cfg.Strategy.MaxModifyDeviation),
		TickSize:            constraints.TickSize,
		StepSize:            constraints.StepSize,
		MinQty:              constraints.MinQty,
	})

	placeLimiter := gateway.NewTokenBucketLimiter(cfg.Execution.RateLimit, cfg.Execution.BatchSize)
	amendLimiter := gateway.NewTokenBucketLimiter(cfg.Execution.ModifyRateLimit, cfg.Execution.BatchSize)

	exec := execution.New(b, manager, exchange, gate, symbol, placeLimiter, amendLimiter, execution.Config{
		WorkerCount:       cfg.Execution.WorkerCount,
		ModifyWorkerCount: cfg.Execution.ModifyWorkerCount,
		MaxRetries:        cfg.Execution.MaxRetries,
		RetryDelay:        durs.RetryDelay,
		CallTimeout:       10 * time.Second,
	})

	e := &Engine{
		cfg:       cfg,
		durs:      durs,
		symbol:    symbol,
		bus:       b,
		manager:   manager,
		gate:      gate,
		estimator: estimator,
		strategy:  strat,
		execution: exec,
		scheduler: scheduler,
		feed:      streamfeed.New(b, symbol),
		log:       log,
		metrics:   reg,
		state:     StateIdle,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}

	if be, ok := exchange.(*gateway.BinanceExchange); ok {
		e.poller = &gateway.FillPoller{
			Exchange:  be,
			Manager:   manager,
			Symbol:    symbol,
			Interval:  durs.CheckInterval,
			OnFillPnL: e.onFillPnL,
			OnFill:    e.onFill,
		}
	}

	return e
}

// onFill updates the running net position from a fill's signed delta and
// pushes it into the risk gate, per risk.Gate's documented expectation that
// position is pushed in by the fill-detection consumer.
func (e *Engine) onFill(side order.Side, deltaQty decimal.Decimal) {
	signed := deltaQty
	if side == order.SideSell {
		signed = signed.Mul(decimal.NewFromInt(-1))
	}
	e.posMu.Lock()
	e.position = e.position.Add(signed)
	pos := e.position
	e.posMu.Unlock()
	e.gate.SetPosition(pos)
}

// onFillPnL accumulates realized PnL and immediately re-checks the daily
// loss limit, since realized PnL only moves on a fill.
func (e *Engine) onFillPnL(delta decimal.Decimal) {
	e.gate.RecordFillPnL(delta)
	e.gate.CheckDailyLoss(time.Now())
}

// Bus exposes the shared bus for tests and CLI introspection tools.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Manager exposes the order manager for tests and CLI introspection tools.
func (e *Engine) Manager() *order.Manager { return e.manager }

// Start launches every task goroutine and returns immediately. The tasks
// run until ctx is cancelled; Stop additionally stops the reset scheduler.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return fmt.Errorf("engine: already started (state %s)", e.state)
	}
	e.state = StateRunning
	e.stats.mu.Lock()
	e.stats.StartTime = time.Now()
	e.stats.mu.Unlock()
	e.mu.Unlock()

	e.log.Info("engine starting",
		zap.String("symbol", e.symbol),
		zap.String("price_method", e.cfg.Price.Method))

	go e.runEstimatorBridge(ctx)
	go e.strategy.Run(ctx)
	go e.execution.Run(ctx)
	go e.runDecisionObserver(ctx)
	go e.runOrderOutcomeObserver(ctx)
	go e.runRiskAlertObserver(ctx)
	go e.runStaleAmendReaper(ctx)
	go e.runDailyReset(ctx)
	go e.scheduler.Start()

	if e.poller != nil {
		go e.poller.Run(ctx)
	}

	go func() {
		if err := e.feed.Run(ctx); err != nil {
			e.log.LogError(err, map[string]interface{}{"component": "streamfeed"})
		}
	}()

	go func() {
		defer close(e.doneChan)
		select {
		case <-ctx.Done():
		case <-e.stopChan:
		}
	}()

	e.log.Info("engine started")
	return nil
}

// Stop closes stopChan, waits for the shutdown watcher and stops the reset
// scheduler. The other tasks exit only when the ctx passed to Start is
// cancelled.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = StateStopped
	e.mu.Unlock()

	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}
	<-e.doneChan
	e.scheduler.Stop()
	e.log.Info("engine stopped")
}

// Statistics returns a snapshot of the engine's running counters.
func (e *Engine) Statistics() Statistics { return e.stats.snapshot() }

// runEstimatorBridge feeds inbound market data into the reference-price
// estimator and republishes PriceUpdates for the strategy engine, per
// spec.md §5's estimator task.
func (e *Engine) runEstimatorBridge(ctx context.Context) {
	tradeCh, unsubTrade := e.bus.Subscribe(bus.TopicMarketTrade)
	bookCh, unsubBook := e.bus.Subscribe(bus.TopicBookUpdate)
	defer unsubTrade()
	defer unsubBook()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-tradeCh:
			if !ok {
				return
			}
			if t, ok := evt.Payload.(pricing.Trade); ok {
				e.onSample(e.estimator.OnTrade(t))
			}
		case evt, ok := <-bookCh:
			if !ok {
				return
			}
			if bk, ok := evt.Payload.(pricing.BookUpdate); ok {
				e.onSample(e.estimator.OnBookUpdate(bk))
			}
		}
	}
}

func (e *Engine) onSample(pu pricing.PriceUpdate, emitted bool) {
	if !emitted {
		return
	}
	e.stats.mu.Lock()
	e.stats.LastPriceTime = pu.Timestamp
	e.stats.mu.Unlock()
	if e.metrics != nil {
		if f, err := strconv.ParseFloat(pu.Value.String(), 64); err == nil {
			e.metrics.SetReferencePrice(f)
		}
	}
	e.gate.CheckPriceChange(pu.Timestamp, pu.Value)
	e.bus.Publish(bus.TopicPriceUpdate, pu)
}

// runDecisionObserver logs and counts every decision the strategy engine
// emits, independently of whether the execution engine's risk gate check
// ultimately admits it.
func (e *Engine) runDecisionObserver(ctx context.Context) {
	ch, unsub := e.bus.Subscribe(bus.TopicDecision)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			e.stats.mu.Lock()
			e.stats.TotalDecisions++
			e.stats.mu.Unlock()

			kind, fields := describeDecision(evt.Payload)
			if e.metrics != nil {
				e.metrics.RecordDecision(kind)
			}
			e.log.LogDecision(kind, fields)
		}
	}
}

func describeDecision(payload interface{}) (string, map[string]interface{}) {
	switch d := payload.(type) {
	case order.PlaceDecision:
		return "place", map[string]interface{}{"side": string(d.Side), "price": d.Price.String(), "quantity": d.Quantity.String()}
	case order.AmendDecision:
		return "amend", map[string]interface{}{"client_order_id": d.ClientOrderID, "new_price": d.NewPrice.String()}
	case order.CancelDecision:
		return "cancel", map[string]interface{}{"client_order_id": d.ClientOrderID}
	default:
		return "unknown", nil
	}
}

// runOrderOutcomeObserver counts and logs the terminal acks/rejects the
// execution engine publishes for placed, amended, and cancelled orders.
func (e *Engine) runOrderOutcomeObserver(ctx context.Context) {
	go e.watchOutcome(ctx, bus.TopicOrderAck, "order_ack", true, e.recordOrderAck)
	go e.watchOutcome(ctx, bus.TopicOrderReject, "order_reject", false, e.recordOrderReject)
	go e.watchOutcome(ctx, bus.TopicAmendAck, "amend_ack", true, e.recordAmendAck)
	go e.watchOutcome(ctx, bus.TopicAmendReject, "amend_reject", false, e.recordAmendReject)
	go e.watchOutcome(ctx, bus.TopicCancelAck, "cancel_ack", true, e.recordCancelAck)
	go e.watchOutcome(ctx, bus.TopicCancelReject, "cancel_reject", false, e.recordCancelReject)
	<-ctx.Done()
}

func (e *Engine) watchOutcome(ctx context.Context, topic bus.Topic, event string, ack bool, record func()) {
	ch, unsub := e.bus.Subscribe(topic)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			resp, _ := evt.Payload.(execution.Response)
			e.stats.mu.Lock()
			if ack {
				e.stats.TotalOrderAcks++
			} else {
				e.stats.TotalRejects++
			}
			e.stats.mu.Unlock()
			record()
			e.log.LogOrderEvent(event, resp.OrderID, map[string]interface{}{"reason": resp.Reason})
		}
	}
}

func (e *Engine) recordOrderAck() {
	if e.metrics != nil {
		e.metrics.RecordOrderAcked()
	}
}
func (e *Engine) recordOrderReject() {
	if e.metrics != nil {
		e.metrics.RecordOrderRejected()
	}
}
func (e *Engine) recordAmendAck() {
	if e.metrics != nil {
		e.metrics.RecordAmendAcked()
	}
}
func (e *Engine) recordAmendReject() {
	if e.metrics != nil {
		e.metrics.RecordAmendRejected()
	}
}
func (e *Engine) recordCancelAck() {
	if e.metrics != nil {
		e.metrics.RecordCancelAcked()
	}
}
func (e *Engine) recordCancelReject() {
	if e.metrics != nil {
		e.metrics.RecordCancelRejected()
	}
}

// runRiskAlertObserver mirrors risk.Gate's escalation ladder into the
// metrics gauge and structured logs.
func (e *Engine) runRiskAlertObserver(ctx context.Context) {
	alertCh, unsubAlert := e.bus.Subscribe(bus.TopicRiskAlert)
	stopCh, unsubStop := e.bus.Subscribe(bus.TopicEmergencyStop)
	defer unsubAlert()
	defer unsubStop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-alertCh:
			if !ok {
				return
			}
			a, ok := evt.Payload.(risk.Alert)
			if !ok {
				continue
			}
			e.stats.mu.Lock()
			e.stats.TotalRiskAlerts++
			e.stats.mu.Unlock()
			if e.metrics != nil {
				e.metrics.SetRiskLevel(string(a.Level))
				e.metrics.RecordRiskRejection(a.Reason)
			}
			e.log.LogRisk(a.Reason, map[string]interface{}{"level": string(a.Level)})
		case evt, ok := <-stopCh:
			if !ok {
				return
			}
			s, ok := evt.Payload.(risk.Stop)
			if !ok {
				continue
			}
			if e.metrics != nil {
				e.metrics.SetRiskLevel("HIGH")
			}
			e.log.LogRisk("emergency_stop", map[string]interface{}{"reason": s.Reason})
		}
	}
}

// runStaleAmendReaper moves orders stuck in an in-flight amend or cancel
// past modification_timeout to PendingCancel via ForceCancelStale, per
// spec.md §4.3's housekeeping pass. No cancel request is sent to the
// exchange for them.
// Grounded on the teacher's onReconcile ticker-driven periodic pass.
func (e *Engine) runStaleAmendReaper(ctx context.Context) {
	if e.durs.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.durs.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			stale := e.manager.ForceCancelStale(now, e.durs.ModificationTimeout)
			for _, o := range stale {
				e.log.LogOrderEvent("force_cancel_stale", o.ClientOrderID, map[string]interface{}{"symbol": o.Symbol})
			}
			e.manager.Cleanup()
			buyCount := len(e.manager.OccupiedSlots(e.symbol, order.SideBuy))
			sellCount := len(e.manager.OccupiedSlots(e.symbol, order.SideSell))
			e.gate.SetOrderCount(buyCount + sellCount)
			if e.metrics != nil {
				e.metrics.SetActiveOrderCount("buy", buyCount)
				e.metrics.SetActiveOrderCount("sell", sellCount)
				e.metrics.SetPendingAmends(e.manager.PendingAmendCount())
			}
		}
	}
}

// runDailyReset zeroes the risk gate's realized-PnL accumulator at each UTC
// day boundary, matching spec.md's daily-loss check resetting once per day.
func (e *Engine) runDailyReset(ctx context.Context) {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			e.gate.ResetDaily()
			e.log.LogReset(map[string]interface{}{"reason": "daily_boundary"})
		}
	}
}

func decimalOf(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
