package order

import "github.com/yanun0323/decimal"

// Decision is the tagged variant spec.md §3/§9 calls for: a sum type over
// Place/Amend/Cancel, dispatched by type switch rather than by a shared
// interface method doing the real work. Grounded on original_source's
// OrderDecision split (PlaceOrderDecision/CancelOrderDecision), generalized
// to the third Amend variant this system adds.
type Decision interface {
	decisionVariant()
}

// PlaceDecision requests a new resting order.
type PlaceDecision struct {
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

func (PlaceDecision) decisionVariant() {}

// AmendDecision requests an in-place price/quantity modification of an
// existing order, preserving its OrderID.
type AmendDecision struct {
	ClientOrderID string
	NewPrice      decimal.Decimal
	NewQuantity   decimal.Decimal
}

func (AmendDecision) decisionVariant() {}

// CancelDecision requests cancellation of an existing order.
type CancelDecision struct {
	ClientOrderID string
}

func (CancelDecision) decisionVariant() {}
