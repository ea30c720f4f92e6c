package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/yanun0323/decimal"

	"passive-mm/order"
)

// FillPoller periodically queries order status for every non-terminal
// order and feeds executed-quantity deltas into the order manager.
// Grounded on original_source's ExchangeAPI.get_order_status: the original
// implementation has no authenticated push feed for fills, only this
// signed GET /api/v3/order query, so this adapts the same polling shape
// into a background task instead of inventing a user-data websocket the
// source never had.
type FillPoller struct {
	Exchange *BinanceExchange
	Manager  *order.Manager
	Symbol   string
	Interval time.Duration

	OnFillPnL func(realizedDelta decimal.Decimal)
	OnFill    func(side order.Side, deltaQty decimal.Decimal)
}

type orderStatusResp struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	Price         string `json:"price"`
}

// Run polls every Interval until ctx is cancelled.
func (p *FillPoller) Run(ctx context.Context) {
	if p.Interval <= 0 {
		p.Interval = 2 * time.Second
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *FillPoller) pollOnce(ctx context.Context) {
	for _, o := range p.Manager.NonTerminal(p.Symbol) {
		if o.OrderID == "" {
			continue // not yet acked, nothing to poll
		}
		resp, err := p.queryOrder(ctx, o.OrderID)
		if err != nil {
			continue
		}
		execQty, err := decimal.NewFromString(resp.ExecutedQty)
		if err != nil {
			continue
		}
		delta := execQty.Sub(o.ExecutedQuantity)
		if !delta.Greater(decimal.Zero) {
			continue
		}
		complete := resp.Status == "FILLED"
		fillPrice := o.Price
		if px, err := decimal.NewFromString(resp.Price); err == nil && !px.IsZero() {
			fillPrice = px
		}
		if _, err := p.Manager.ApplyFill(o.ClientOrderID, delta, complete); err != nil {
			continue
		}
		if p.OnFill != nil {
			p.OnFill(o.Side, delta)
		}
		if p.OnFillPnL != nil {
			signedDelta := delta.Mul(fillPrice)
			if o.Side == order.SideSell {
				p.OnFillPnL(signedDelta)
			} else {
				p.OnFillPnL(signedDelta.Mul(decimal.NewFromInt(-1)))
			}
		}
	}
}

func (p *FillPoller) queryOrder(ctx context.Context, orderID string) (orderStatusResp, error) {
	params := map[string]string{
		"symbol":    p.Symbol,
		"orderId":   orderID,
		"timestamp": strconv.FormatInt(timeNowMillis(), 10),
	}
	query, sig := SignParams(params, p.Exchange.Secret)
	endpoint := p.Exchange.BaseURL + "/api/v3/order?" + query + "&signature=" + url.QueryEscape(sig)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return orderStatusResp{}, err
	}
	req.Header.Set("X-MBX-APIKEY", p.Exchange.APIKey)

	resp, err := p.Exchange.HTTPClient.Do(req)
	if err != nil {
		return orderStatusResp{}, err
	}
	defer resp.Body.Close()

	var body orderStatusResp
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return orderStatusResp{}, err
	}
	return body, nil
}
