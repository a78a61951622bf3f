package marketstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTopicKeyRoundTrip(t *testing.T) {
	key := topicKey("BTCUSDT", "1")
	if key != "BTCUSDT:1" {
		t.Fatalf("expected BTCUSDT:1, got %s", key)
	}
	if arg := klineArg(key); arg != "kline.1.BTCUSDT" {
		t.Fatalf("expected kline.1.BTCUSDT, got %s", arg)
	}
}

func TestParseKlineTopic(t *testing.T) {
	symbol, interval, ok := parseKlineTopic("kline.1.BTCUSDT")
	if !ok || symbol != "BTCUSDT" || interval != "1" {
		t.Fatalf("expected BTCUSDT/1, got %s/%s ok=%v", symbol, interval, ok)
	}

	if _, _, ok := parseKlineTopic("orderbook.50.BTCUSDT"); ok {
		t.Fatalf("expected non-kline topics to be rejected")
	}
}

func TestDecodeCandle(t *testing.T) {
	data := klineData{
		Start:   1700000000000,
		Open:    "100.50",
		High:    "101.00",
		Low:     "99.75",
		Close:   "100.90",
		Volume:  "12.3",
		Confirm: true,
	}
	candle, err := decodeCandle("BTCUSDT", "1", data)
	if err != nil {
		t.Fatalf("decodeCandle: %v", err)
	}
	if candle.Close.String() != "100.90" {
		t.Fatalf("expected close 100.90, got %s", candle.Close.String())
	}
	if !candle.Confirmed {
		t.Fatalf("expected confirmed candle")
	}
}

func TestDecodeCandleRejectsGarbage(t *testing.T) {
	data := klineData{Open: "not-a-number", High: "1", Low: "1", Close: "1", Volume: "1"}
	if _, err := decodeCandle("BTCUSDT", "1", data); err == nil {
		t.Fatalf("expected an error decoding a non-numeric field")
	}
}

func TestSubscribeReplaysLatestCachedCandle(t *testing.T) {
	c := NewClient("wss://example.invalid")
	key := topicKey("BTCUSDT", "1")
	c.mu.Lock()
	c.latest[key] = Candle{Symbol: "BTCUSDT", Interval: "1"}
	c.mu.Unlock()

	ch, err := c.Subscribe("BTCUSDT", "1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	select {
	case candle := <-ch:
		if candle.Symbol != "BTCUSDT" {
			t.Fatalf("expected replayed candle for BTCUSDT, got %s", candle.Symbol)
		}
	default:
		t.Fatalf("expected the cached candle to be replayed immediately")
	}
}

func TestSeedATHATLRecordsMaxHighMinLow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp klineResponse
		resp.Result.List = [][7]string{
			{"1700000000000", "100", "150", "90", "120", "10", "1000"},
			{"1699000000000", "100", "200", "80", "110", "10", "1000"},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	historical := NewHistoricalClient(server.URL, "linear", time.Second)
	c := NewClient("wss://example.invalid")
	c.SeedATHATL(context.Background(), "BTCUSDT", historical)

	got, ok := c.ATHATL("BTCUSDT")
	if !ok || !got.Ok {
		t.Fatalf("expected ATH/ATL to be seeded")
	}
	if got.ATH.String() != "200" {
		t.Fatalf("expected ath 200, got %s", got.ATH.String())
	}
	if got.ATL.String() != "80" {
		t.Fatalf("expected atl 80, got %s", got.ATL.String())
	}
}

func TestSeedATHATLLeavesUnsetOnUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	historical := NewHistoricalClient(server.URL, "linear", time.Second)
	c := NewClient("wss://example.invalid")
	c.SeedATHATL(context.Background(), "BTCUSDT", historical)

	if _, ok := c.ATHATL("BTCUSDT"); ok {
		t.Fatalf("expected ATH/ATL to remain unseeded after an upstream failure")
	}
}

func TestSubscribeTracksTopicForResubscribe(t *testing.T) {
	c := NewClient("wss://example.invalid")
	if _, err := c.Subscribe("ETHUSDT", "1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	c.mu.RLock()
	subscribed := c.topics[topicKey("ETHUSDT", "1")]
	c.mu.RUnlock()
	if !subscribed {
		t.Fatalf("expected the topic to be tracked for reconnect re-subscription")
	}
}
