package execution

import (
	"context"

	"github.com/yanun0323/decimal"

	"passive-mm/order"
)

// Response is the exchange's reply to a single Place/Amend/Cancel call.
type Response struct {
	OrderID  string
	Accepted bool
	Reason   string
}

// CallError wraps an exchange-call failure with the transience classifier
// spec.md §4.4/§7 needs to decide whether to retry. Network errors, HTTP
// 5xx, and rate-limit refusals are Transient; invalid-order, unknown-symbol,
// and insufficient-balance responses are not.
type CallError struct {
	Transient bool
	Err       error
}

func (e *CallError) Error() string { return e.Err.Error() }
func (e *CallError) Unwrap() error { return e.Err }

// Exchange is the adapter boundary spec.md §6 describes: a callable
// capability the execution engine drives, and a streaming side the
// reference-price estimator consumes independently (not modeled here — see
// gateway/streamfeed).
type Exchange interface {
	Place(ctx context.Context, symbol string, side order.Side, price, qty decimal.Decimal, clientOrderID string) (Response, error)
	Amend(ctx context.Context, orderID string, newPrice, newQty decimal.Decimal) (Response, error)
	Cancel(ctx context.Context, orderID string) (Response, error)
}
