package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smartflow-perp/config"
	"smartflow-perp/models"
)

func TestSignREST(t *testing.T) {
	cfg := &config.Config{}
	client := NewRESTClient(cfg, nil)
	got := client.SignREST("secret", "1690000000000", "key", "5000", "param=1")

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("1690000000000" + "key" + "5000" + "param=1"))
	want := mac.Sum(nil)
	if got != "1c841861eb3bfcf8e5fe5ee1b44618f0c1be32c5002407acf77e64a5d80eb9c4" {
		t.Fatalf("SignREST mismatch: got %s want %x", got, want)
	}
}

func testClient(t *testing.T, h http.HandlerFunc) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := config.LoadConfig()
	cfg.RESTHost = srv.URL
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	client := NewRESTClient(cfg, nil)
	client.HTTP.InitialInterval = time.Millisecond
	return client
}

func TestSignedHeaders(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		for _, h := range []string{"X-BAPI-API-KEY", "X-BAPI-TIMESTAMP", "X-BAPI-RECV-WINDOW", "X-BAPI-SIGN"} {
			if r.Header.Get(h) == "" {
				t.Errorf("missing header %s", h)
			}
		}
		if r.Header.Get("X-BAPI-SIGN-TYPE") != "2" {
			t.Errorf("sign type = %q", r.Header.Get("X-BAPI-SIGN-TYPE"))
		}
		_, _ = w.Write([]byte(`{"retCode":0,"result":{"list":[{"lastPrice":"101.5","markPrice":"101.4","fundingRate":"0.0001"}]}}`))
	})
	price, err := client.Price(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Price error: %v", err)
	}
	if price != 101.5 {
		t.Fatalf("price = %v", price)
	}
}

func TestInstrument(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/instruments-info" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"retCode":0,
			"retMsg":"OK",
			"result":{"list":[{"lotSizeFilter":{"minNotionalValue":"10","minOrderQty":"0.001","qtyStep":"0.001"},"priceFilter":{"tickSize":"0.10"}}]}
		}`))
	})

	info, err := client.Instrument(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Instrument error: %v", err)
	}
	if info.MinNotional != 10 || info.MinQty != 0.001 || info.QtyStep != 0.001 || info.TickSize != 0.1 {
		t.Fatalf("unexpected instrument info: %+v", info)
	}
}

func TestEquity(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/account/wallet-balance" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("accountType") == "" {
			t.Fatalf("accountType missing")
		}
		_, _ = w.Write([]byte(`{
			"retCode":0,
			"retMsg":"OK",
			"result":{"list":[{"totalEquity":"123.45"}]}
		}`))
	})

	bal, err := client.Equity(context.Background())
	if err != nil {
		t.Fatalf("Equity error: %v", err)
	}
	if bal != 123.45 {
		t.Fatalf("equity mismatch: %f", bal)
	}
}

func TestOpenPositions(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/position/list" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"retCode":0,
			"result":{"list":[
				{"symbol":"BTCUSDT","side":"Sell","size":"0.01","avgPrice":"100.0","markPrice":"99","unrealisedPnl":"0.01"},
				{"symbol":"ETHUSDT","side":"","size":"0","avgPrice":"0"}
			]}
		}`))
	})

	list, err := client.OpenPositions(context.Background())
	if err != nil {
		t.Fatalf("OpenPositions error: %v", err)
	}
	if len(list) != 1 || list[0].Symbol != "BTCUSDT" || list[0].Direction != models.Short || list[0].Size != 0.01 {
		t.Fatalf("unexpected position list: %+v", list)
	}
}

func TestCandlesChronological(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("interval") != "240" || r.URL.Query().Get("limit") != "3" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"retCode":0,"result":{"list":[
			["1700007200000","3","4","2","3.5","10","0"],
			["1700003600000","2","3","1","3","10","0"],
			["1700000000000","1","2","0.5","2","10","0"]
		]}}`))
	})

	candles, err := client.Candles(context.Background(), "BTCUSDT", "240", 3)
	if err != nil {
		t.Fatalf("Candles error: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("len = %d", len(candles))
	}
	if candles[0].Close != 2 || candles[2].Close != 3.5 {
		t.Fatalf("candles not chronological: %+v", candles)
	}
}

func TestLongShortRatio(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/account-ratio" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"retCode":0,"result":{"list":[{"buyRatio":"0.6","sellRatio":"0.4"}]}}`))
	})

	ratio, err := client.LongShortRatio(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("LongShortRatio error: %v", err)
	}
	if ratio < 1.4999 || ratio > 1.5001 {
		t.Fatalf("ratio = %v", ratio)
	}
}

func TestPlaceStopOrderBody(t *testing.T) {
	var gotBody []byte
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/order/create" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"orderId":"abc"}}`))
	})

	id, err := client.PlaceStopOrder(context.Background(), "BTCUSDT", "Sell", 0.0123, 0.001, 95.123, 0.01, 2)
	if err != nil {
		t.Fatalf("PlaceStopOrder error: %v", err)
	}
	if id != "abc" {
		t.Fatalf("order id = %q", id)
	}

	var parsed map[string]any
	if err := json.Unmarshal(gotBody, &parsed); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if parsed["triggerPrice"] != "95.12" || parsed["qty"] != "0.012" || parsed["reduceOnly"] != true {
		t.Fatalf("unexpected body: %v", parsed)
	}
	if parsed["triggerDirection"] != float64(2) {
		t.Fatalf("triggerDirection = %v", parsed["triggerDirection"])
	}
}

func TestAPIErrorAndLeverageNotModified(t *testing.T) {
	reply := func(code int) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"retCode": code, "retMsg": "nope"})
		}
	}

	err := testClient(t, reply(10001)).CancelAllOrders(context.Background(), "BTCUSDT")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.RetCode != 10001 {
		t.Fatalf("expected APIError, got %v", err)
	}

	if err := testClient(t, reply(leverageNotModified)).SetLeverage(context.Background(), "BTCUSDT", 5); err != nil {
		t.Fatalf("SetLeverage should ignore not-modified: %v", err)
	}
}
