package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/decimal"

	"passive-mm/execution"
	"passive-mm/order"
)

// timeNowMillis is a var so tests can pin it for deterministic signatures.
var timeNowMillis = func() int64 { return time.Now().UnixMilli() }

// SignParams builds Binance's query-string-plus-HMAC-SHA256 signature: keys
// sorted, URL-escaped, joined with '&', then signed over that exact string.
func SignParams(params map[string]string, secret string) (query, signature string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	query = b.String()

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return query, hex.EncodeToString(mac.Sum(nil))
}

// NewDefaultHTTPClient returns a client with a sane timeout for exchange calls.
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// BinanceExchange implements execution.Exchange against Binance's signed
// order-entry REST endpoints, for the single symbol it was constructed with.
type BinanceExchange struct {
	BaseURL    string
	Symbol     string
	APIKey     string
	Secret     string
	HTTPClient *http.Client
}

// NewBinanceExchange constructs a BinanceExchange with a default HTTP client.
func NewBinanceExchange(baseURL, symbol, apiKey, secret string) *BinanceExchange {
	return &BinanceExchange{
		BaseURL:    baseURL,
		Symbol:     symbol,
		APIKey:     apiKey,
		Secret:     secret,
		HTTPClient: NewDefaultHTTPClient(),
	}
}

type orderResp struct {
	OrderID string `json:"orderId"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
}

// call signs params, issues the request, and classifies any failure into an
// execution.CallError per spec.md §4.4/§7: network errors, 5xx, and 429 are
// transient; everything else (bad params, unknown order, insufficient
// balance) is permanent.
func (c *BinanceExchange) call(ctx context.Context, method, path string, params map[string]string) (orderResp, error) {
	if c.HTTPClient == nil {
		return orderResp{}, &execution.CallError{Transient: false, Err: fmt.Errorf("http client not set")}
	}
	params["timestamp"] = strconv.FormatInt(timeNowMillis(), 10)
	query, sig := SignParams(params, c.Secret)
	endpoint := c.BaseURL + path + "?" + query + "&signature=" + url.QueryEscape(sig)

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewBuffer(nil))
	if err != nil {
		return orderResp{}, &execution.CallError{Transient: false, Err: err}
	}
	req.Header.Set("X-MBX-APIKEY", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return orderResp{}, &execution.CallError{Transient: true, Err: err}
	}
	defer resp.Body.Close()

	var body orderResp
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return body, &execution.CallError{Transient: true, Err: fmt.Errorf("exchange call failed: status %d: %s", resp.StatusCode, body.Msg)}
	case resp.StatusCode >= 300:
		return body, &execution.CallError{Transient: false, Err: fmt.Errorf("exchange call rejected: status %d: %s", resp.StatusCode, body.Msg)}
	}
	return body, nil
}

func sideString(s order.Side) string {
	if s == order.SideSell {
		return "SELL"
	}
	return "BUY"
}

// Place submits a new GTC limit order.
func (c *BinanceExchange) Place(ctx context.Context, symbol string, side order.Side, price, qty decimal.Decimal, clientOrderID string) (execution.Response, error) {
	params := map[string]string{
		"symbol":           symbol,
		"side":             sideString(side),
		"type":             "LIMIT",
		"timeInForce":      "GTC",
		"price":            price.String(),
		"quantity":         qty.String(),
		"newClientOrderId": clientOrderID,
	}
	body, err := c.call(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return execution.Response{Reason: body.Msg}, err
	}
	return execution.Response{OrderID: body.OrderID, Accepted: true}, nil
}

// Amend modifies price and quantity of a resting order in place.
func (c *BinanceExchange) Amend(ctx context.Context, orderID string, newPrice, newQty decimal.Decimal) (execution.Response, error) {
	params := map[string]string{
		"symbol":   c.Symbol,
		"orderId":  orderID,
		"price":    newPrice.String(),
		"quantity": newQty.String(),
	}
	body, err := c.call(ctx, http.MethodPut, "/api/v3/order", params)
	if err != nil {
		return execution.Response{Reason: body.Msg}, err
	}
	return execution.Response{OrderID: body.OrderID, Accepted: true}, nil
}

// Cancel cancels a resting order.
func (c *BinanceExchange) Cancel(ctx context.Context, orderID string) (execution.Response, error) {
	params := map[string]string{
		"symbol":  c.Symbol,
		"orderId": orderID,
	}
	body, err := c.call(ctx, http.MethodDelete, "/api/v3/order", params)
	if err != nil {
		return execution.Response{Reason: body.Msg}, err
	}
	return execution.Response{OrderID: body.OrderID, Accepted: true}, nil
}
