package exchange

import (
	"context"
	"testing"

	"github.com/epic1st/paperfx/engine"
	"github.com/epic1st/paperfx/money"
)

func mustAmt(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.Parse(s)
	if err != nil {
		t.Fatalf("money.Parse(%q): %v", s, err)
	}
	return a
}

type fakePrices struct {
	prices map[string]money.Amount
}

func (f *fakePrices) CurrentPrice(symbol string) (money.Amount, bool) {
	p, ok := f.prices[symbol]
	return p, ok
}

type fakeRegistry struct {
	portfolios map[string]*engine.Portfolio
}

func (f *fakeRegistry) WithPortfolio(userID string, fn func(p *engine.Portfolio)) engine.PortfolioSnapshot {
	p, ok := f.portfolios[userID]
	if !ok {
		p = engine.NewPortfolio(userID, money.MustNew(10000, 0), 10, []string{"BTCUSDT", "ETHUSDT"})
		f.portfolios[userID] = p
	}
	fn(p)
	return p.Snapshot()
}

type fakeJournal struct {
	entries []*engine.JournalEntry
}

func (f *fakeJournal) SaveJournalEntry(ctx context.Context, entry *engine.JournalEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeOrders struct {
	saved []engine.OrderResult
}

func (f *fakeOrders) SaveOrder(ctx context.Context, orderID, userID string, req engine.OrderRequest, result engine.OrderResult) error {
	f.saved = append(f.saved, result)
	return nil
}

func newTestExchange() (*Exchange, *fakeRegistry, *fakeJournal) {
	registry := &fakeRegistry{portfolios: make(map[string]*engine.Portfolio)}
	prices := &fakePrices{prices: map[string]money.Amount{"BTCUSDT": money.MustNew(100, 0)}}
	journal := &fakeJournal{}
	orders := &fakeOrders{}
	return New(registry, prices, []string{"BTCUSDT", "ETHUSDT"}, []int{5, 10, 20}, journal, orders), registry, journal
}

func TestSubmitOrderRejectsUnsupportedSymbol(t *testing.T) {
	ex, _, _ := newTestExchange()
	result := ex.SubmitOrder(context.Background(), "u1", engine.OrderRequest{
		Symbol: "DOGEUSDT", Type: engine.OrderMarket, Side: engine.OrderBuy, Qty: mustAmt(t, "1"),
	})
	if result.Success || result.Code != engine.CodeInvalidSymbol {
		t.Fatalf("expected CodeInvalidSymbol, got success=%v code=%s", result.Success, result.Code)
	}
}

func TestSubmitOrderRejectsMissingPrice(t *testing.T) {
	ex, _, _ := newTestExchange()
	result := ex.SubmitOrder(context.Background(), "u1", engine.OrderRequest{
		Symbol: "ETHUSDT", Type: engine.OrderMarket, Side: engine.OrderBuy, Qty: mustAmt(t, "1"),
	})
	if result.Success || result.Code != engine.CodeNoPrice {
		t.Fatalf("expected CodeNoPrice, got success=%v code=%s", result.Success, result.Code)
	}
}

func TestSubmitMarketOrderFills(t *testing.T) {
	ex, _, _ := newTestExchange()
	result := ex.SubmitOrder(context.Background(), "u1", engine.OrderRequest{
		Symbol: "BTCUSDT", Type: engine.OrderMarket, Side: engine.OrderBuy, Qty: mustAmt(t, "1"), Leverage: 10,
	})
	if !result.Success {
		t.Fatalf("expected success, got code=%s message=%s", result.Code, result.Message)
	}
	if result.FillPrice.String() != "100" {
		t.Fatalf("expected market fill at current price 100, got %s", result.FillPrice.String())
	}
	if result.OrderID == "" {
		t.Fatalf("expected a generated order id")
	}
}

func TestSubmitLimitBuyRejectsWhenNotCrossed(t *testing.T) {
	ex, _, _ := newTestExchange()
	result := ex.SubmitOrder(context.Background(), "u1", engine.OrderRequest{
		Symbol: "BTCUSDT", Type: engine.OrderLimit, Side: engine.OrderBuy,
		Qty: mustAmt(t, "1"), Price: mustAmt(t, "90"), HasPrice: true, Leverage: 10,
	})
	if result.Success || result.Code != engine.CodeLimitNotQueued {
		t.Fatalf("expected LIMIT_NOT_QUEUED for an uncrossed buy limit (current 100 > limit 90), got success=%v code=%s", result.Success, result.Code)
	}
}

func TestSubmitLimitBuyFillsAtLowerOfCurrentAndLimitWhenCrossed(t *testing.T) {
	ex, _, _ := newTestExchange()
	result := ex.SubmitOrder(context.Background(), "u1", engine.OrderRequest{
		Symbol: "BTCUSDT", Type: engine.OrderLimit, Side: engine.OrderBuy,
		Qty: mustAmt(t, "1"), Price: mustAmt(t, "110"), HasPrice: true, Leverage: 10,
	})
	if !result.Success {
		t.Fatalf("expected success, got %s", result.Message)
	}
	if result.FillPrice.String() != "100" {
		t.Fatalf("expected limit fill at 100 (min of current 100 and limit 110), got %s", result.FillPrice.String())
	}
}

func TestSubmitLimitSellRejectsWhenNotCrossed(t *testing.T) {
	ex, _, _ := newTestExchange()
	result := ex.SubmitOrder(context.Background(), "u1", engine.OrderRequest{
		Symbol: "BTCUSDT", Type: engine.OrderLimit, Side: engine.OrderSell,
		Qty: mustAmt(t, "1"), Price: mustAmt(t, "110"), HasPrice: true, Leverage: 10,
	})
	if result.Success || result.Code != engine.CodeLimitNotQueued {
		t.Fatalf("expected LIMIT_NOT_QUEUED for an uncrossed sell limit (current 100 < limit 110), got success=%v code=%s", result.Success, result.Code)
	}
}

func TestSubmitLimitSellFillsAtHigherOfCurrentAndLimitWhenCrossed(t *testing.T) {
	ex, _, _ := newTestExchange()
	result := ex.SubmitOrder(context.Background(), "u1", engine.OrderRequest{
		Symbol: "BTCUSDT", Type: engine.OrderLimit, Side: engine.OrderSell,
		Qty: mustAmt(t, "1"), Price: mustAmt(t, "90"), HasPrice: true, Leverage: 10,
	})
	if !result.Success {
		t.Fatalf("expected success, got %s", result.Message)
	}
	if result.FillPrice.String() != "100" {
		t.Fatalf("expected limit fill at 100 (max of current 100 and limit 90), got %s", result.FillPrice.String())
	}
}

func TestSubmitStopOrderIsUnsupported(t *testing.T) {
	ex, _, _ := newTestExchange()
	result := ex.SubmitOrder(context.Background(), "u1", engine.OrderRequest{
		Symbol: "BTCUSDT", Type: engine.OrderStop, Side: engine.OrderBuy, Qty: mustAmt(t, "1"), Leverage: 10,
	})
	if result.Success || result.Code != engine.CodeUnsupported {
		t.Fatalf("expected CodeUnsupported for a stop order, got success=%v code=%s", result.Success, result.Code)
	}
}

func TestClosePositionEmitsJournalEntry(t *testing.T) {
	ex, _, journal := newTestExchange()
	if result := ex.SubmitOrder(context.Background(), "u1", engine.OrderRequest{
		Symbol: "BTCUSDT", Type: engine.OrderMarket, Side: engine.OrderBuy, Qty: mustAmt(t, "1"), Leverage: 10,
	}); !result.Success {
		t.Fatalf("open failed: %s", result.Message)
	}

	result := ex.ClosePosition(context.Background(), "u1", "BTCUSDT", money.Zero, false)
	if !result.Success {
		t.Fatalf("close failed: %s", result.Message)
	}
	if len(journal.entries) != 1 {
		t.Fatalf("expected exactly one journal entry, got %d", len(journal.entries))
	}
}
