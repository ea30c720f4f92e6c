// Package streamfeed adapts Binance's combined websocket stream into the
// bus's MarketTrade/BookUpdate topics. Grounded on
// gateway/binance_ws_real.go's combined-stream dial and
// gateway/binance_ws_parser.go's message parsing, rebuilt against this
// module's bus/pricing types instead of the old market.Service/OrderBook
// pair those files depended on (an old-module-path dependency that does not
// exist under the renamed module).
package streamfeed

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"passive-mm/bus"
)

// DefaultEndpoint is Binance's spot combined-stream host.
const DefaultEndpoint = "wss://stream.binance.com:9443"

// Feed dials a single symbol's depth and trade streams and republishes them
// onto the bus.
type Feed struct {
	Endpoint string
	Symbol   string
	Dialer   *websocket.Dialer
	Bus      *bus.Bus
}

// New constructs a Feed for symbol against the default endpoint.
func New(b *bus.Bus, symbol string) *Feed {
	return &Feed{
		Endpoint: DefaultEndpoint,
		Symbol:   symbol,
		Dialer:   websocket.DefaultDialer,
		Bus:      b,
	}
}

func (f *Feed) streams() []string {
	sym := strings.ToLower(f.Symbol)
	return []string{sym + "@depth20@100ms", sym + "@trade"}
}

// Run dials the combined stream and publishes BookUpdate/MarketTrade events
// until ctx is cancelled or the connection drops with an error. Reconnection
// with backoff is the caller's responsibility, per spec.md §7's
// connection-loss disposition — Run itself makes exactly one connection
// attempt per call.
func (f *Feed) Run(ctx context.Context) error {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(f.Endpoint, "wss://"), "ws://")
	u := url.URL{Scheme: "wss", Host: endpoint, Path: "/stream"}
	q := u.Query()
	q.Set("streams", strings.Join(f.streams(), "/"))
	u.RawQuery = q.Encode()

	conn, _, err := f.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopped:
		}
	}()
	defer close(stopped)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		f.dispatch(message)
	}
}

func (f *Feed) dispatch(raw []byte) {
	var msg combinedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	switch {
	case strings.HasSuffix(msg.Stream, "@trade"):
		if t, ok := parseTrade(msg.Data); ok {
			f.Bus.Publish(bus.TopicMarketTrade, t)
		}
	case strings.Contains(msg.Stream, "@depth"):
		if bu, ok := parseDepth(msg.Data); ok {
			f.Bus.Publish(bus.TopicBookUpdate, bu)
		}
	}
}
