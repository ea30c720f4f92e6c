package streamfeed

import (
	"encoding/json"
	"time"

	"github.com/yanun0323/decimal"

	"passive-mm/pricing"
)

type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// depthPayload is Binance's partial-depth update: top-of-book bid/ask level
// arrays, each [price, quantity] as strings.
type depthPayload struct {
	Bids [][2]string `json:"b"`
	Asks [][2]string `json:"a"`
}

type tradePayload struct {
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// parseDepth extracts the best bid/ask from a depth@100ms message, grounded
// on gateway/binance_ws_parser.go's ParseCombinedDepth.
func parseDepth(raw json.RawMessage) (pricing.BookUpdate, bool) {
	var d depthPayload
	if err := json.Unmarshal(raw, &d); err != nil || len(d.Bids) == 0 || len(d.Asks) == 0 {
		return pricing.BookUpdate{}, false
	}
	bid, err := decimal.NewFromString(d.Bids[0][0])
	if err != nil {
		return pricing.BookUpdate{}, false
	}
	ask, err := decimal.NewFromString(d.Asks[0][0])
	if err != nil {
		return pricing.BookUpdate{}, false
	}
	return pricing.BookUpdate{BestBid: bid, BestAsk: ask, Timestamp: time.Now().UTC()}, true
}

func parseTrade(raw json.RawMessage) (pricing.Trade, bool) {
	var t tradePayload
	if err := json.Unmarshal(raw, &t); err != nil {
		return pricing.Trade{}, false
	}
	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return pricing.Trade{}, false
	}
	qty, err := decimal.NewFromString(t.Quantity)
	if err != nil {
		return pricing.Trade{}, false
	}
	ts := time.Now().UTC()
	if t.TradeTime > 0 {
		ts = time.UnixMilli(t.TradeTime).UTC()
	}
	return pricing.Trade{Price: price, Quantity: qty, Timestamp: ts}, true
}
