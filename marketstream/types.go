package marketstream

import (
	"time"

	"github.com/epic1st/paperfx/money"
)

// Candle is one OHLCV bar for a symbol/interval pair.
type Candle struct {
	Symbol    string       `json:"symbol"`
	Interval  string       `json:"interval"`
	Start     time.Time    `json:"start"`
	Open      money.Amount `json:"open"`
	High      money.Amount `json:"high"`
	Low       money.Amount `json:"low"`
	Close     money.Amount `json:"close"`
	Volume    money.Amount `json:"volume"`
	Confirmed bool         `json:"confirmed"`
}

// AthAtl is the read-only all-time-high/low exposed after startup weekly-
// candle seeding (spec §4.5). Ok is false until SeedATHATL has completed
// at least once for the symbol; an upstream failure during seeding leaves
// it false rather than zero-valued ATH/ATL fields.
type AthAtl struct {
	ATH money.Amount
	ATL money.Amount
	Ok  bool
}

// subscribeFrame is the upstream subscribe control message: {"op":
// "subscribe", "args": ["kline.<interval>.<symbol>", ...]}.
type subscribeFrame struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// klineEvent is the upstream push envelope for a kline topic.
type klineEvent struct {
	Topic string      `json:"topic"`
	Data  []klineData `json:"data"`
}

// klineData mirrors the upstream kline payload shape; numeric fields arrive
// as strings so they decode straight into exact decimals.
type klineData struct {
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	Interval  string `json:"interval"`
	Open      string `json:"open"`
	Close     string `json:"close"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Volume    string `json:"volume"`
	Confirm   bool   `json:"confirm"`
}

// topicKey is the fan-out key used both for upstream subscribe args and
// for internal subscriber routing: "<symbol>:<interval>".
func topicKey(symbol, interval string) string {
	return symbol + ":" + interval
}
