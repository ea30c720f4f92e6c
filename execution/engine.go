// Package execution implements the execution engine of spec.md §4.4: two
// independent worker pools drain Place/Cancel and Amend decisions under
// separate rate budgets, call the exchange adapter, and reconcile responses
// back into the order manager. Grounded on original_source's ExecutionEngine
// for the dual-queue worker shape (_execution_worker / _modify_worker) and
// its exponential-backoff retry (retry_delay * 2**retry_count).
package execution

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/decimal"

	"passive-mm/bus"
	"passive-mm/order"
	"passive-mm/risk"
)

// RateLimiter is the narrow interface the engine needs from a rate budget;
// gateway.TokenBucketLimiter satisfies it structurally so this package never
// imports the gateway package (it is wired together at the orchestrator
// level, per spec.md §9's no-circular-dependency note).
type RateLimiter interface {
	Wait()
}

// Config tunes Engine per spec.md §6's execution section.
type Config struct {
	WorkerCount       int
	ModifyWorkerCount int
	MaxRetries        int
	RetryDelay        time.Duration
	CallTimeout       time.Duration
}

// Engine drains approved decisions into two worker pools and reconciles
// exchange responses into the order manager.
type Engine struct {
	cfg      Config
	bus      *bus.Bus
	manager  *order.Manager
	exchange Exchange
	gate     *risk.Gate
	symbol   string

	placeLimiter RateLimiter
	amendLimiter RateLimiter

	placeCancelCh chan order.Decision
	amendCh       chan order.Decision

	decisions      <-chan bus.Event
	unsubDecisions func()

	seq uint64
}

// New constructs an Engine and subscribes it to bus.TopicDecision, so that
// decisions published between New and Run are buffered rather than lost.
// gate may be nil to run without risk vetoing (used in tests exercising the
// execution path in isolation).
func New(b *bus.Bus, m *order.Manager, ex Exchange, gate *risk.Gate, symbol string, placeLimiter, amendLimiter RateLimiter, cfg Config) *Engine {
	decisions, unsub := b.Subscribe(bus.TopicDecision)
	return &Engine{
		cfg:           cfg,
		bus:           b,
		manager:       m,
		exchange:      ex,
		gate:          gate,
		symbol:        symbol,
		placeLimiter:  placeLimiter,
		amendLimiter:  amendLimiter,
		placeCancelCh: make(chan order.Decision, cfg.WorkerCount*4+1),
		amendCh:       make(chan order.Decision, cfg.ModifyWorkerCount*4+1),

		decisions:      decisions,
		unsubDecisions: unsub,
	}
}

// Run drains the bus.TopicDecision subscription made by New, fans approved
// decisions into the two worker pools, and blocks until ctx is cancelled.
// The subscription is released when Run returns. In-flight exchange calls
// are awaited to completion before Run returns, per spec.md §5's
// cancellation contract.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.transactionalWorker(ctx)
		}()
	}
	for i := 0; i < e.cfg.ModifyWorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.amendWorker(ctx)
		}()
	}

	ch := e.decisions
	defer e.unsubDecisions()

dispatch:
	for {
		select {
		case <-ctx.Done():
			break dispatch
		case evt, ok := <-ch:
			if !ok {
				break dispatch
			}
			d, ok := evt.Payload.(order.Decision)
			if !ok {
				continue
			}
			if e.gate != nil {
				if allow, _ := e.gate.Evaluate(d, positionDelta(d, e.manager)); !allow {
					continue
				}
			}
			target := e.placeCancelCh
			if _, isAmend := d.(order.AmendDecision); isAmend {
				target = e.amendCh
			}
			select {
			case target <- d:
			case <-ctx.Done():
				break dispatch
			}
		}
	}

	wg.Wait()
}

// positionDelta estimates the prospective signed change to net position a
// decision would cause, for the risk gate's exposure check. Buy-side
// quantity is positive, sell-side negative.
func positionDelta(d order.Decision, m *order.Manager) decimal.Decimal {
	switch v := d.(type) {
	case order.PlaceDecision:
		if v.Side == order.SideBuy {
			return v.Quantity
		}
		return decimal.Zero.Sub(v.Quantity)
	case order.AmendDecision:
		o, ok := m.Get(v.ClientOrderID)
		if !ok {
			return decimal.Zero
		}
		diff := v.NewQuantity.Sub(o.OriginalQuantity)
		if o.Side == order.SideSell {
			diff = decimal.Zero.Sub(diff)
		}
		return diff
	default:
		return decimal.Zero
	}
}

func (e *Engine) transactionalWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-e.placeCancelCh:
			if !ok {
				return
			}
			e.placeLimiter.Wait()
			switch v := d.(type) {
			case order.PlaceDecision:
				e.executePlace(ctx, v)
			case order.CancelDecision:
				e.executeCancel(ctx, v)
			}
		}
	}
}

func (e *Engine) amendWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-e.amendCh:
			if !ok {
				return
			}
			e.amendLimiter.Wait()
			if v, ok := d.(order.AmendDecision); ok {
				e.executeAmend(ctx, v)
			}
		}
	}
}

func (e *Engine) executePlace(ctx context.Context, d order.PlaceDecision) {
	clientOrderID := e.nextClientOrderID()
	if _, err := e.manager.AcceptPlace(clientOrderID, e.symbol, d.Side, d.Price, d.Quantity); err != nil {
		return
	}

	e.callWithRetry(ctx,
		func(cctx context.Context) (Response, error) {
			return e.exchange.Place(cctx, e.symbol, d.Side, d.Price, d.Quantity, clientOrderID)
		},
		func(resp Response) {
			if resp.Accepted {
				if _, err := e.manager.ApplyOrderAck(clientOrderID, resp.OrderID); err != nil {
					e.reconcileLateResponse(clientOrderID, err)
					return
				}
				e.bus.Publish(bus.TopicOrderAck, resp)
				return
			}
			e.manager.ApplyOrderReject(clientOrderID)
			e.bus.Publish(bus.TopicOrderReject, resp)
		},
		func() {
			e.manager.ApplyOrderReject(clientOrderID)
			e.bus.Publish(bus.TopicOrderReject, Response{Reason: "retries exhausted"})
		},
	)
}

func (e *Engine) executeCancel(ctx context.Context, d order.CancelDecision) {
	o, ok := e.manager.Get(d.ClientOrderID)
	if !ok {
		return
	}
	if _, err := e.manager.SubmitCancel(d.ClientOrderID); err != nil {
		return
	}

	e.callWithRetry(ctx,
		func(cctx context.Context) (Response, error) {
			return e.exchange.Cancel(cctx, o.OrderID)
		},
		func(resp Response) {
			if resp.Accepted {
				if _, err := e.manager.ApplyCancelAck(d.ClientOrderID); err != nil {
					e.reconcileLateResponse(d.ClientOrderID, err)
					return
				}
				e.bus.Publish(bus.TopicCancelAck, resp)
				return
			}
			e.manager.ApplyCancelReject(d.ClientOrderID)
			e.bus.Publish(bus.TopicCancelReject, resp)
		},
		func() {
			e.manager.ApplyCancelReject(d.ClientOrderID)
		},
	)
}

func (e *Engine) executeAmend(ctx context.Context, d order.AmendDecision) {
	o, ok := e.manager.Get(d.ClientOrderID)
	if !ok {
		return
	}
	if _, err := e.manager.SubmitAmend(d.ClientOrderID, d.NewPrice, d.NewQuantity); err != nil {
		if errors.Is(err, order.ErrMaxPendingModifications) {
			// No amend slot available: surface a rejection and fall back to
			// cancel+place, per spec.md §4.3's overflow handling, rather than
			// re-emitting the same amend every cycle until a slot frees up.
			e.bus.Publish(bus.TopicAmendReject, Response{Reason: "max_pending_modifications"})
			e.executeCancel(ctx, order.CancelDecision{ClientOrderID: d.ClientOrderID})
		}
		return
	}

	e.callWithRetry(ctx,
		func(cctx context.Context) (Response, error) {
			return e.exchange.Amend(cctx, o.OrderID, d.NewPrice, d.NewQuantity)
		},
		func(resp Response) {
			if resp.Accepted {
				if _, err := e.manager.ApplyAmendAck(d.ClientOrderID); err != nil {
					e.reconcileLateResponse(d.ClientOrderID, err)
					return
				}
				e.bus.Publish(bus.TopicAmendAck, resp)
				return
			}
			e.manager.ApplyAmendReject(d.ClientOrderID)
			e.bus.Publish(bus.TopicAmendReject, resp)
		},
		func() {
			e.manager.ApplyAmendReject(d.ClientOrderID)
		},
	)
}

// callWithRetry retries a transient failure up to max_retries times with
// delay retry_delay*2^attempt plus a small jitter, per spec.md §4.4/P8.
// Permanent failures propagate to onExhausted on the first attempt.
func (e *Engine) callWithRetry(ctx context.Context, call func(context.Context) (Response, error), onSuccess func(Response), onExhausted func()) {
	for attempt := 0; ; attempt++ {
		cctx := context.WithoutCancel(ctx)
		var cancel context.CancelFunc
		if e.cfg.CallTimeout > 0 {
			cctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
		}
		resp, err := call(cctx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			onSuccess(resp)
			return
		}

		var callErr *CallError
		transient := errors.As(err, &callErr) && callErr.Transient
		if !transient || attempt >= e.cfg.MaxRetries {
			onExhausted()
			return
		}

		delay := e.cfg.RetryDelay * time.Duration(int64(1)<<uint(attempt))
		jitter := time.Duration(rand.Int63n(int64(e.cfg.RetryDelay)/2 + 1))
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			onExhausted()
			return
		}
	}
}

// reconcileLateResponse handles an exchange ack that arrives after its order
// has already left the manager's live indices, e.g. because a fill drove it
// to Filled, or a cancel ack to Cancelled, while this call was still in
// flight. A hit against history confirms the order is already terminal and the ack
// is informational; a miss means the client_order_id was never ours.
func (e *Engine) reconcileLateResponse(clientOrderID string, err error) {
	if !errors.Is(err, order.ErrUnknownOrder) {
		return
	}
	if archived, ok := e.manager.History().Find(clientOrderID); ok {
		e.bus.Publish(bus.TopicOrderStateChange, archived)
	}
}

func (e *Engine) nextClientOrderID() string {
	n := atomic.AddUint64(&e.seq, 1)
	return fmt.Sprintf("mm-%d-%d", time.Now().UnixNano(), n)
}
