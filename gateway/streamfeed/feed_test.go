package streamfeed

import (
	"testing"

	"passive-mm/bus"
)

func TestDispatchPublishesBookUpdate(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.TopicBookUpdate)
	defer unsub()

	f := &Feed{Bus: b, Symbol: "BTCUSDT"}
	f.dispatch([]byte(`{"stream":"btcusdt@depth20@100ms","data":{"b":[["30000.50","1.0"]],"a":[["30001.00","1.0"]]}}`))

	select {
	case evt := <-ch:
		if evt.Payload == nil {
			t.Fatal("expected a BookUpdate payload")
		}
	default:
		t.Fatal("expected a BookUpdate event")
	}
}

func TestDispatchPublishesMarketTrade(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.TopicMarketTrade)
	defer unsub()

	f := &Feed{Bus: b, Symbol: "BTCUSDT"}
	f.dispatch([]byte(`{"stream":"btcusdt@trade","data":{"p":"30000.50","q":"0.5","T":1700000000000}}`))

	select {
	case evt := <-ch:
		if evt.Payload == nil {
			t.Fatal("expected a Trade payload")
		}
	default:
		t.Fatal("expected a MarketTrade event")
	}
}

func TestDispatchIgnoresUnparseableMessage(t *testing.T) {
	b := bus.New()
	f := &Feed{Bus: b, Symbol: "BTCUSDT"}
	f.dispatch([]byte(`not json`))
}

func TestStreamsBuildsLowercasedSymbolPair(t *testing.T) {
	f := &Feed{Symbol: "BTCUSDT"}
	streams := f.streams()
	if len(streams) != 2 {
		t.Fatalf("want 2 streams, got %d", len(streams))
	}
	if streams[0] != "btcusdt@depth20@100ms" || streams[1] != "btcusdt@trade" {
		t.Fatalf("unexpected streams %v", streams)
	}
}
