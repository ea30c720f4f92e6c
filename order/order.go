package order

import (
	"time"

	"github.com/yanun0323/decimal"
)

// Side is which side of the book an order rests on.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PendingAmend carries the (target_price, target_quantity) tuple an order
// in PendingAmend is waiting to resolve to, per spec.md §3.
type PendingAmend struct {
	TargetPrice    decimal.Decimal
	TargetQuantity decimal.Decimal
}

// Order is the authoritative representation of a single resting order. All
// mutation of an Order happens inside Manager; every other component holds
// read-only copies.
type Order struct {
	OrderID       string // exchange-assigned; empty until OrderAck
	ClientOrderID string // locally-unique, stable across amendments

	Symbol string
	Side   Side

	Price            decimal.Decimal
	OriginalQuantity decimal.Decimal
	ExecutedQuantity decimal.Decimal

	Status Status

	CreateTime     time.Time
	UpdateTime     time.Time
	LastEventTime  time.Time
	LastAmendTime  time.Time

	AmendCount int

	Pending *PendingAmend // non-nil only while Status == StatusPendingAmend
}

// RemainingQuantity is OriginalQuantity - ExecutedQuantity, grounded on
// OrderState.remaining_quantity.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.OriginalQuantity.Sub(o.ExecutedQuantity)
}

// Value is the order's notional at its resting price, grounded on
// OrderState.order_value.
func (o *Order) Value() decimal.Decimal {
	return o.Price.Mul(o.RemainingQuantity())
}

// IsActive reports whether the order can still receive fills (Active or one
// of the pending-modification states).
func (o *Order) IsActive() bool {
	switch o.Status {
	case StatusActive, StatusPendingAmend, StatusPendingCancel:
		return true
	default:
		return false
	}
}

// Clone returns a deep-enough copy safe for a read-only snapshot handed to
// another component (the order manager is the only mutator of the original).
func (o *Order) Clone() *Order {
	cp := *o
	if o.Pending != nil {
		pending := *o.Pending
		cp.Pending = &pending
	}
	return &cp
}
