package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/yanun0323/decimal"

	"passive-mm/order"
)

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			TickSize    string `json:"tickSize"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			MaxQty      string `json:"maxQty"`
			MinNotional string `json:"minNotional"`
			Notional    string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// FetchSymbolConstraints calls the exchange's exchangeInfo endpoint and
// extracts PRICE_FILTER/LOT_SIZE/(MIN_)NOTIONAL into order.SymbolConstraints.
// Grounded on original_source's ExchangeAPI.get_exchange_info.
func FetchSymbolConstraints(ctx context.Context, httpClient *http.Client, baseURL, symbol string) (order.SymbolConstraints, error) {
	if httpClient == nil {
		httpClient = NewDefaultHTTPClient()
	}
	endpoint := baseURL + "/api/v3/exchangeInfo?symbol=" + symbol
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return order.SymbolConstraints{}, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return order.SymbolConstraints{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return order.SymbolConstraints{}, fmt.Errorf("exchangeInfo status %d", resp.StatusCode)
	}

	var body exchangeInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return order.SymbolConstraints{}, err
	}
	if len(body.Symbols) == 0 {
		return order.SymbolConstraints{}, fmt.Errorf("exchangeInfo: symbol %s not found", symbol)
	}

	var c order.SymbolConstraints
	for _, f := range body.Symbols[0].Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			c.TickSize = parseOrZero(f.TickSize)
		case "LOT_SIZE":
			c.StepSize = parseOrZero(f.StepSize)
			c.MinQty = parseOrZero(f.MinQty)
			c.MaxQty = parseOrZero(f.MaxQty)
		case "MIN_NOTIONAL", "NOTIONAL":
			if f.MinNotional != "" {
				c.MinNotional = parseOrZero(f.MinNotional)
			} else {
				c.MinNotional = parseOrZero(f.Notional)
			}
		}
	}
	return c, nil
}

func parseOrZero(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}
