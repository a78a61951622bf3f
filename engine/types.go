package engine

import (
	"time"

	"github.com/epic1st/paperfx/money"
)

// Side is a position's or order's directional leg.
type Side string

const (
	SideFlat  Side = "FLAT"
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// OrderSide is BUY/SELL, distinct from Side since an order can close a
// position of the opposite Side.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	OrderStop   OrderType = "STOP"
)

// OrderRequest is the transient, per-call order-intake payload of spec §3.
type OrderRequest struct {
	Symbol       string
	Side         OrderSide
	Type         OrderType
	Qty          money.Amount
	Price        money.Amount // optional; zero means "no limit/stop price supplied"
	HasPrice     bool
	ReduceOnly   bool
	Leverage     int // optional override; 0 means "use the portfolio default"
}

// OrderResult is the transient, per-call result of spec §3.
type OrderResult struct {
	Success   bool
	Code      Code
	Message   string
	OrderID   string
	FilledQty money.Amount
	FillPrice money.Amount
	Fee       money.Amount
	Position  PositionSnapshot
}

func fail(code Code, message string) OrderResult {
	return OrderResult{Success: false, Code: code, Message: message}
}

// JournalEntry is the durable, write-once record emitted exactly once per
// position-closing or -reducing fill (spec §3).
type JournalEntry struct {
	UserID      string
	Symbol      string
	Side        Side // the side that was closed/reduced
	EntryPrice  money.Amount
	ExitPrice   money.Amount
	Qty         money.Amount
	RealizedPnL money.Amount
	PnLPercent  money.Amount
	EntryTime   time.Time
	ExitTime    time.Time
}

// PositionSnapshot is the read-only view of a Position exposed to callers
// and serialised onto the wire; it never aliases the engine's live state.
type PositionSnapshot struct {
	Symbol           string       `json:"symbol"`
	Side             Side         `json:"side"`
	Qty              money.Amount `json:"qty"`
	EntryPrice       money.Amount `json:"entryPrice"`
	CurrentPrice     money.Amount `json:"currentPrice"`
	UnrealizedPnL    money.Amount `json:"unrealizedPnL"`
	RealizedPnL      money.Amount `json:"realizedPnL"`
	Leverage         int          `json:"leverage"`
	LiquidationPrice money.Amount `json:"liquidationPrice,omitempty"`
	HasLiquidation   bool         `json:"-"`
}

// PortfolioSnapshot is the read-only view of a Portfolio fanned out to
// subscribers and returned from get_portfolio.
type PortfolioSnapshot struct {
	UserID             string                      `json:"userId"`
	Balance            money.Amount                `json:"balance"`
	StartingBalance    money.Amount                `json:"startingBalance"`
	Equity             money.Amount                `json:"equity"`
	MarginUsed         money.Amount                `json:"marginUsed"`
	AvailableMargin    money.Amount                `json:"availableMargin"`
	Leverage           int                          `json:"leverage"`
	MaxEquityWatermark money.Amount                 `json:"maxEquityWatermark"`
	IsLiquidated       bool                         `json:"isLiquidated"`
	IsActive           bool                         `json:"isActive"`
	Positions          map[string]PositionSnapshot `json:"positions"`
}

// PushEvent is the external push-channel envelope of spec §6.
type PushEvent struct {
	Type      string            `json:"type"` // "portfolio_update" | "portfolio_snapshot"
	Data      PortfolioSnapshot `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}
