package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yanun0323/decimal"
)

func TestFetchSymbolConstraintsParsesFilters(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"symbols": [{
				"symbol": "BTCUSDT",
				"filters": [
					{"filterType":"PRICE_FILTER","tickSize":"0.01000000"},
					{"filterType":"LOT_SIZE","stepSize":"0.00010000","minQty":"0.00010000","maxQty":"9000.00000000"},
					{"filterType":"NOTIONAL","notional":"10.00000000"}
				]
			}]
		}`)
	}))
	defer ts.Close()

	c, err := FetchSymbolConstraints(context.Background(), ts.Client(), ts.URL, "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.TickSize.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("tick size = %s, want 0.01", c.TickSize)
	}
	if !c.StepSize.Equal(decimal.RequireFromString("0.0001")) {
		t.Fatalf("step size = %s, want 0.0001", c.StepSize)
	}
	if !c.MinNotional.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("min notional = %s, want 10", c.MinNotional)
	}
}

func TestFetchSymbolConstraintsUnknownSymbol(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"symbols": []}`)
	}))
	defer ts.Close()

	if _, err := FetchSymbolConstraints(context.Background(), ts.Client(), ts.URL, "BTCUSDT"); err == nil {
		t.Fatal("expected an error for an unknown symbol")
	}
}
