// Package exchange is the paper exchange façade of spec §4.4: the single
// entry point order intake goes through, sitting on top of the portfolio
// registry and the market price feed.
package exchange

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/epic1st/paperfx/engine"
	"github.com/epic1st/paperfx/logging"
	"github.com/epic1st/paperfx/metrics"
	"github.com/epic1st/paperfx/money"
)

// PriceSource is the read side of the registry's price cache.
type PriceSource interface {
	CurrentPrice(symbol string) (money.Amount, bool)
}

// JournalSink persists a realized-trade record; nil is a valid no-op sink
// for tests that don't need durability.
type JournalSink interface {
	SaveJournalEntry(ctx context.Context, entry *engine.JournalEntry) error
}

// OrderSink persists the write-once order record; nil is a valid no-op
// sink for tests.
type OrderSink interface {
	SaveOrder(ctx context.Context, orderID, userID string, req engine.OrderRequest, result engine.OrderResult) error
}

// Registry is the subset of *engine.PortfolioRegistry the exchange needs,
// narrowed so exchange tests can supply a lightweight fake.
type Registry interface {
	WithPortfolio(userID string, fn func(p *engine.Portfolio)) engine.PortfolioSnapshot
}

// Exchange validates, prices, and dispatches order requests, emitting
// journal entries and order records for anything that actually fills.
type Exchange struct {
	registry          Registry
	prices            PriceSource
	supportedSymbols  map[string]bool
	supportedLeverage map[int]bool
	journal           JournalSink
	orders            OrderSink
}

func New(registry Registry, prices PriceSource, supportedSymbols []string, supportedLeverage []int, journal JournalSink, orders OrderSink) *Exchange {
	symbols := make(map[string]bool, len(supportedSymbols))
	for _, s := range supportedSymbols {
		symbols[s] = true
	}
	leverages := make(map[int]bool, len(supportedLeverage))
	for _, l := range supportedLeverage {
		leverages[l] = true
	}
	return &Exchange{
		registry:          registry,
		prices:            prices,
		supportedSymbols:  symbols,
		supportedLeverage: leverages,
		journal:           journal,
		orders:            orders,
	}
}

// SubmitOrder runs the full order-intake pipeline of spec §4.4: symbol
// validation, leverage override, price resolution per order type, then
// dispatch into the portfolio under the registry's lock.
func (e *Exchange) SubmitOrder(ctx context.Context, userID string, req engine.OrderRequest) engine.OrderResult {
	start := time.Now()
	result := e.submitOrder(ctx, userID, req)

	outcome := "filled"
	if !result.Success {
		outcome = string(result.Code)
	}
	metrics.OrdersTotal.WithLabelValues(string(req.Type), outcome).Inc()
	metrics.OrderLatency.WithLabelValues(string(req.Type)).Observe(float64(time.Since(start).Milliseconds()))
	return result
}

func (e *Exchange) submitOrder(ctx context.Context, userID string, req engine.OrderRequest) engine.OrderResult {
	if !e.supportedSymbols[req.Symbol] {
		return rejectResult(engine.CodeInvalidSymbol, "unsupported symbol "+req.Symbol)
	}
	if !req.Qty.IsPos() {
		return rejectResult(engine.CodeInvalidQty, "qty must be positive")
	}
	if req.Leverage != 0 && !e.supportedLeverage[req.Leverage] {
		return rejectResult(engine.CodeInvalidLeverage, "unsupported leverage")
	}

	currentPrice, hasPrice := e.prices.CurrentPrice(req.Symbol)
	if !hasPrice {
		return rejectResult(engine.CodeNoPrice, "no current price for "+req.Symbol)
	}

	fillPrice, code, message := resolveFillPrice(req, currentPrice)
	if code != engine.CodeNone {
		return rejectResult(code, message)
	}

	orderID := uuid.NewString()
	var (
		result  engine.OrderResult
		journal *engine.JournalEntry
	)

	e.registry.WithPortfolio(userID, func(p *engine.Portfolio) {
		leverage := req.Leverage
		if leverage == 0 {
			leverage = p.Leverage
		}

		if req.ReduceOnly {
			result, journal = p.Close(req.Symbol, req.Qty, true, fillPrice)
			return
		}
		result, journal = p.SubmitBuySell(req.Symbol, req.Side, req.Qty, fillPrice, leverage)
	})
	result.OrderID = orderID

	if e.orders != nil {
		if err := e.orders.SaveOrder(ctx, orderID, userID, req, result); err != nil {
			logging.Error("failed to persist order", err, logging.UserID(userID), logging.OrderID(orderID))
		}
	}
	if journal != nil && e.journal != nil {
		if err := e.journal.SaveJournalEntry(ctx, journal); err != nil {
			logging.Error("failed to persist journal entry", err, logging.UserID(userID))
		}
	}

	return result
}

// ClosePosition closes a position in full or in part (spec §4.4). A partial
// close is a reduce-only MARKET order through SubmitOrder. A full close goes
// through closeFull instead, which saves the journal entry but writes no
// order record and records no order metrics.
func (e *Exchange) ClosePosition(ctx context.Context, userID, symbol string, qty money.Amount, hasQty bool) engine.OrderResult {
	req := engine.OrderRequest{
		Symbol:     symbol,
		Type:       engine.OrderMarket,
		ReduceOnly: true,
		Qty:        qty,
	}
	if !hasQty {
		// SubmitOrder's qty>0 guard rejects a zero qty on every order,
		// reduce-only included, so a full close calls Portfolio.Close with
		// hasQty=false through closeFull instead.
		return e.closeFull(ctx, userID, symbol)
	}
	return e.SubmitOrder(ctx, userID, req)
}

func (e *Exchange) closeFull(ctx context.Context, userID, symbol string) engine.OrderResult {
	if !e.supportedSymbols[symbol] {
		return rejectResult(engine.CodeInvalidSymbol, "unsupported symbol "+symbol)
	}
	currentPrice, hasPrice := e.prices.CurrentPrice(symbol)
	if !hasPrice {
		return rejectResult(engine.CodeNoPrice, "no current price for "+symbol)
	}

	orderID := uuid.NewString()
	var (
		result  engine.OrderResult
		journal *engine.JournalEntry
	)
	e.registry.WithPortfolio(userID, func(p *engine.Portfolio) {
		result, journal = p.Close(symbol, money.Zero, false, currentPrice)
	})
	result.OrderID = orderID

	if journal != nil && e.journal != nil {
		if err := e.journal.SaveJournalEntry(ctx, journal); err != nil {
			logging.Error("failed to persist journal entry", err, logging.UserID(userID))
		}
	}
	return result
}

// resolveFillPrice implements spec §4.4 step 6 / §9's resolution of
// limit-fill semantics. MARKET fills at the current price. LIMIT only
// fills if it has actually crossed — BUY when current ≤ limit, SELL when
// current ≥ limit — and then at min(current, limit) / max(current, limit)
// respectively; a limit that hasn't crossed is LIMIT_NOT_QUEUED rather
// than filled, since the exchange keeps no standing-order book to queue
// it against (per spec's Non-goals). STOP orders are not implemented and
// always return UNSUPPORTED.
func resolveFillPrice(req engine.OrderRequest, currentPrice money.Amount) (money.Amount, engine.Code, string) {
	switch req.Type {
	case engine.OrderMarket:
		return currentPrice, engine.CodeNone, ""
	case engine.OrderStop:
		return money.Zero, engine.CodeUnsupported, "stop orders are not implemented"
	case engine.OrderLimit:
		if !req.HasPrice {
			return money.Zero, engine.CodeLimitNotQueued, "limit order requires a price"
		}
		if req.Side == engine.OrderBuy {
			if currentPrice.GT(req.Price) {
				return money.Zero, engine.CodeLimitNotQueued, "limit buy has not crossed the current price"
			}
			return money.Min(currentPrice, req.Price), engine.CodeNone, ""
		}
		if currentPrice.LT(req.Price) {
			return money.Zero, engine.CodeLimitNotQueued, "limit sell has not crossed the current price"
		}
		return money.Max(currentPrice, req.Price), engine.CodeNone, ""
	default:
		return money.Zero, engine.CodeUnsupported, "unsupported order type"
	}
}

func rejectResult(code engine.Code, message string) engine.OrderResult {
	return engine.OrderResult{Success: false, Code: code, Message: message}
}
