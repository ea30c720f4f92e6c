package order

import (
	"errors"
	"sync"
	"time"

	"github.com/yanun0323/decimal"

	"passive-mm/bus"
)

var (
	// ErrUnknownOrder is returned when a client_order_id has no live entry in
	// the primary index.
	ErrUnknownOrder = errors.New("order: unknown client_order_id")
	// ErrNoChange is returned by SubmitAmend when the requested price and
	// quantity already match the order's current values, per the
	// modify-request no-op short-circuit (original_source's has_changes
	// check). The caller must not forward this to the execution engine.
	ErrNoChange = errors.New("order: amend request has no changes")
	// ErrAmendInFlight is returned when an order already has an outstanding
	// amend or cancel, per spec.md §4.3's single-outstanding-modification
	// guard.
	ErrAmendInFlight = errors.New("order: amend or cancel already in flight")
	// ErrMaxPendingModifications is returned when the global amend
	// concurrency cap (max_pending_modifications) is reached.
	ErrMaxPendingModifications = errors.New("order: max pending modifications reached")
)

type secondaryKey struct {
	symbol string
	side   Side
	status Status
}

// Manager is the sole owner of Order state, per spec.md §4.3. It exposes a
// primary index by ClientOrderID and a secondary index by
// (symbol, side, status), both O(1) to update and O(k) to query.
type Manager struct {
	mu sync.RWMutex

	bus *bus.Bus

	maxPendingAmends int
	pendingAmends    int

	primary   map[string]*Order
	secondary map[secondaryKey]map[string]*Order

	history *History
}

// NewManager constructs a Manager. b may be nil in tests that do not need
// OrderStateChanged publication.
func NewManager(b *bus.Bus, history *History, maxPendingAmends int) *Manager {
	if history == nil {
		history = NewHistory(defaultHistorySize)
	}
	return &Manager{
		bus:              b,
		maxPendingAmends: maxPendingAmends,
		primary:          make(map[string]*Order),
		secondary:        make(map[secondaryKey]map[string]*Order),
		history:          history,
	}
}

// OrderStateChanged is the payload published on bus.TopicOrderStateChange.
type OrderStateChanged struct {
	Order     *Order
	OldStatus Status
	Event     EventKind
}

func (m *Manager) index(o *Order) {
	key := secondaryKey{o.Symbol, o.Side, o.Status}
	bucket, ok := m.secondary[key]
	if !ok {
		bucket = make(map[string]*Order)
		m.secondary[key] = bucket
	}
	bucket[o.ClientOrderID] = o
}

func (m *Manager) unindex(o *Order, status Status) {
	key := secondaryKey{o.Symbol, o.Side, status}
	if bucket, ok := m.secondary[key]; ok {
		delete(bucket, o.ClientOrderID)
		if len(bucket) == 0 {
			delete(m.secondary, key)
		}
	}
}

func (m *Manager) reindex(o *Order, oldStatus Status) {
	m.unindex(o, oldStatus)
	m.index(o)
}

func (m *Manager) publish(o *Order, old Status, ev EventKind) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.TopicOrderStateChange, OrderStateChanged{
		Order:     o.Clone(),
		OldStatus: old,
		Event:     ev,
	})
}

// AcceptPlace registers a new order in PendingNew, the moment a Place
// decision is accepted into the exchange dispatcher (spec.md §3's
// "Ownership" clause).
func (m *Manager) AcceptPlace(clientOrderID, symbol string, side Side, price, qty decimal.Decimal) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	to, err := Next("", EventPlaceAccepted)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	o := &Order{
		ClientOrderID:    clientOrderID,
		Symbol:           symbol,
		Side:             side,
		Price:            price,
		OriginalQuantity: qty,
		ExecutedQuantity: decimal.Zero,
		Status:           to,
		CreateTime:       now,
		UpdateTime:       now,
		LastEventTime:    now,
	}
	m.primary[clientOrderID] = o
	m.index(o)
	m.publish(o, "", EventPlaceAccepted)
	return o.Clone(), nil
}

// ApplyOrderAck transitions PendingNew -> Active on exchange acknowledgement,
// recording the exchange-assigned order id.
func (m *Manager) ApplyOrderAck(clientOrderID, orderID string) (*Order, error) {
	return m.transition(clientOrderID, EventOrderAck, func(o *Order) {
		o.OrderID = orderID
	})
}

// ApplyOrderReject transitions PendingNew -> Rejected (terminal).
func (m *Manager) ApplyOrderReject(clientOrderID string) (*Order, error) {
	return m.transition(clientOrderID, EventOrderReject, nil)
}

// SubmitAmend transitions Active -> PendingAmend, enforcing the single
// outstanding modification guard, the global max_pending_modifications cap,
// and the no-op short-circuit.
func (m *Manager) SubmitAmend(clientOrderID string, newPrice, newQty decimal.Decimal) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.primary[clientOrderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	if o.Status == StatusPendingAmend || o.Status == StatusPendingCancel {
		return nil, ErrAmendInFlight
	}
	if newPrice.Equal(o.Price) && newQty.Equal(o.OriginalQuantity) {
		return o.Clone(), ErrNoChange
	}
	if m.pendingAmends >= m.maxPendingAmends && m.maxPendingAmends > 0 {
		return nil, ErrMaxPendingModifications
	}

	to, err := Next(o.Status, EventAmendAccepted)
	if err != nil {
		return nil, err
	}
	old := o.Status
	o.Status = to
	o.Pending = &PendingAmend{TargetPrice: newPrice, TargetQuantity: newQty}
	o.UpdateTime = time.Now()
	o.LastAmendTime = o.UpdateTime
	o.LastEventTime = o.UpdateTime
	m.reindex(o, old)
	m.pendingAmends++
	m.publish(o, old, EventAmendAccepted)
	return o.Clone(), nil
}

// ApplyAmendAck transitions PendingAmend -> Active, replacing price/quantity
// with the pending tuple and incrementing amend_count. Per spec.md §9's
// Open Question resolution, amend_count increments on any successful amend
// (price-only, quantity-only, or both).
func (m *Manager) ApplyAmendAck(clientOrderID string) (*Order, error) {
	return m.transition(clientOrderID, EventAmendAck, func(o *Order) {
		if o.Pending != nil {
			o.Price = o.Pending.TargetPrice
			o.OriginalQuantity = o.Pending.TargetQuantity
		}
		o.AmendCount++
		o.Pending = nil
		m.pendingAmends--
	})
}

// ApplyAmendReject transitions PendingAmend -> Active, discarding the
// pending tuple. A fill observed while the amend was outstanding stands, per
// spec.md §9's amend/fill race note: the reject is a no-op over the fill.
func (m *Manager) ApplyAmendReject(clientOrderID string) (*Order, error) {
	return m.transition(clientOrderID, EventAmendReject, func(o *Order) {
		o.Pending = nil
		m.pendingAmends--
	})
}

// SubmitCancel transitions Active -> PendingCancel.
func (m *Manager) SubmitCancel(clientOrderID string) (*Order, error) {
	return m.transition(clientOrderID, EventCancelAccepted, nil)
}

// ApplyCancelAck transitions PendingCancel -> Cancelled (terminal) and
// archives the order.
func (m *Manager) ApplyCancelAck(clientOrderID string) (*Order, error) {
	return m.transition(clientOrderID, EventCancelAck, nil)
}

// ApplyCancelReject transitions PendingCancel -> Active.
func (m *Manager) ApplyCancelReject(clientOrderID string) (*Order, error) {
	return m.transition(clientOrderID, EventCancelReject, nil)
}

// ApplyFill records a fill against an order in Active, PendingAmend, or
// PendingCancel. complete indicates the fill exhausts the remaining
// quantity, driving the order to Filled.
func (m *Manager) ApplyFill(clientOrderID string, execQty decimal.Decimal, complete bool) (*Order, error) {
	event := EventPartialFill
	if complete {
		event = EventCompleteFill
	}
	return m.transition(clientOrderID, event, func(o *Order) {
		o.ExecutedQuantity = o.ExecutedQuantity.Add(execQty)
		if o.Status != StatusPendingAmend && o.Pending != nil {
			o.Pending = nil
			m.pendingAmends--
		}
	})
}

// ForceCancelStale moves any order in PendingAmend or PendingCancel whose
// last amend/event time is older than timeout to PendingCancel, releasing
// its amend slot, per spec.md §4.3's last transition-table row. It changes
// local state only; no cancel request is sent to the exchange.
func (m *Manager) ForceCancelStale(now time.Time, timeout time.Duration) []*Order {
	m.mu.Lock()
	var stale []string
	for id, o := range m.primary {
		if o.Status != StatusPendingAmend && o.Status != StatusPendingCancel {
			continue
		}
		ref := o.LastEventTime
		if o.Status == StatusPendingAmend && o.LastAmendTime.After(ref) {
			ref = o.LastAmendTime
		}
		if now.Sub(ref) > timeout {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	out := make([]*Order, 0, len(stale))
	for _, id := range stale {
		o, err := m.transition(id, EventForceCancel, func(o *Order) {
			if o.Pending != nil {
				o.Pending = nil
				m.pendingAmends--
			}
		})
		if err == nil {
			out = append(out, o)
		}
	}
	return out
}

// transition runs a (status, event) edge under the lock, applying mutate to
// the order before it is re-indexed and published. Terminal destinations are
// archived into history and removed from the primary/secondary indices.
func (m *Manager) transition(clientOrderID string, event EventKind, mutate func(*Order)) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.primary[clientOrderID]
	if !ok {
		return nil, ErrUnknownOrder
	}

	to, err := Next(o.Status, event)
	if err != nil {
		return nil, err
	}

	old := o.Status
	o.Status = to
	now := time.Now()
	o.UpdateTime = now
	o.LastEventTime = now

	if mutate != nil {
		mutate(o)
	}

	if to.IsTerminal() {
		m.unindex(o, old)
		delete(m.primary, clientOrderID)
		m.history.Add(o.Clone())
	} else {
		m.reindex(o, old)
	}

	m.publish(o, old, event)
	return o.Clone(), nil
}

// Get looks up a live order by ClientOrderID.
func (m *Manager) Get(clientOrderID string) (*Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.primary[clientOrderID]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Query returns a read-only snapshot of every live order matching
// (symbol, side, status).
func (m *Manager) Query(symbol string, side Side, status Status) []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.secondary[secondaryKey{symbol, side, status}]
	out := make([]*Order, 0, len(bucket))
	for _, o := range bucket {
		out = append(out, o.Clone())
	}
	return out
}

// OccupiedSlots returns every order on side that currently occupies a
// resting slot — PendingNew, Active, or PendingAmend — used by the strategy
// engine to decide how many top-up Place decisions a side still needs, per
// spec.md §4.2 step 4. An order in PendingCancel is on its way out and does
// not count toward the target.
func (m *Manager) OccupiedSlots(symbol string, side Side) []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	statuses := []Status{StatusPendingNew, StatusActive, StatusPendingAmend}
	out := make([]*Order, 0)
	for _, st := range statuses {
		for _, o := range m.secondary[secondaryKey{symbol, side, st}] {
			out = append(out, o.Clone())
		}
	}
	return out
}

// NonTerminal returns every live order on symbol regardless of side or
// status — used by ResetTick handling to cancel everything outstanding.
func (m *Manager) NonTerminal(symbol string) []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Order, 0, len(m.primary))
	for _, o := range m.primary {
		if o.Symbol == symbol {
			out = append(out, o.Clone())
		}
	}
	return out
}

// Snapshot returns every live order currently indexed, regardless of status.
func (m *Manager) Snapshot() []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Order, 0, len(m.primary))
	for _, o := range m.primary {
		out = append(out, o.Clone())
	}
	return out
}

// PendingAmendCount reports the number of amends currently in flight
// globally, for P4 (global amends-in-flight <= max_pending_modifications).
func (m *Manager) PendingAmendCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pendingAmends
}

// Cleanup is the periodic sweep described in spec.md §4.3: it is a no-op
// against the primary index because terminal orders are archived into
// History at the moment they transition (see transition above); Cleanup
// instead trims anything left dangling in the secondary index by a stale
// status bucket, which should never happen but is swept defensively.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, bucket := range m.secondary {
		if !key.status.IsTerminal() {
			continue
		}
		for id := range bucket {
			if _, live := m.primary[id]; !live {
				delete(bucket, id)
			}
		}
		if len(bucket) == 0 {
			delete(m.secondary, key)
		}
	}
}

// History exposes the bounded archive of terminal orders.
func (m *Manager) History() *History {
	return m.history
}
