package order

import (
	"fmt"

	"github.com/yanun0323/decimal"
)

// SymbolConstraints describes the exchange's precision and notional rules
// for a symbol, fetched at startup from exchangeInfo. Grounded on
// original_source's ExchangeAPI.get_exchange_info and PRICE_FILTER/
// LOT_SIZE/MIN_NOTIONAL filters, reshaped as decimal.Decimal to match the
// rest of the domain instead of the teacher's float64 original.
type SymbolConstraints struct {
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// Validate checks that price/qty align to the exchange's precision grid and
// respect its quantity and notional bounds.
func (c SymbolConstraints) Validate(price, qty decimal.Decimal) error {
	if c.TickSize.Greater(decimal.Zero) && !isMultiple(price, c.TickSize) {
		return fmt.Errorf("price %s not aligned to tick_size %s", price.String(), c.TickSize.String())
	}
	if c.StepSize.Greater(decimal.Zero) && !isMultiple(qty, c.StepSize) {
		return fmt.Errorf("qty %s not aligned to step_size %s", qty.String(), c.StepSize.String())
	}
	if c.MinQty.Greater(decimal.Zero) && qty.Less(c.MinQty) {
		return fmt.Errorf("qty %s < min_qty %s", qty.String(), c.MinQty.String())
	}
	if c.MaxQty.Greater(decimal.Zero) && qty.Greater(c.MaxQty) {
		return fmt.Errorf("qty %s > max_qty %s", qty.String(), c.MaxQty.String())
	}
	if c.MinNotional.Greater(decimal.Zero) && price.Mul(qty).Less(c.MinNotional) {
		return fmt.Errorf("notional %s < min_notional %s", price.Mul(qty).String(), c.MinNotional.String())
	}
	return nil
}

func isMultiple(value, step decimal.Decimal) bool {
	if !step.Greater(decimal.Zero) {
		return true
	}
	ratio := value.Div(step)
	return ratio.Sub(ratio.Round(0)).Abs().Less(decimal.RequireFromString("0.00000001"))
}
