package engine

import (
	"testing"

	"github.com/epic1st/paperfx/money"
)

func amt(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.Parse(s)
	if err != nil {
		t.Fatalf("money.Parse(%q): %v", s, err)
	}
	return a
}

func TestPositionOpenAndCloseRoundTrip(t *testing.T) {
	pos := NewPosition("BTCUSDT")
	margin, err := pos.Open(SideLong, amt(t, "1"), amt(t, "100"), 10)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if margin.String() != "10" {
		t.Fatalf("expected initial margin 10, got %s", margin.String())
	}

	pos.UpdatePrice(amt(t, "110"))
	if pos.UnrealizedPnL.String() != "10" {
		t.Fatalf("expected unrealized 10, got %s", pos.UnrealizedPnL.String())
	}

	delta, err := pos.Close(amt(t, "110"))
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if delta.String() != "10" {
		t.Fatalf("expected realized delta 10, got %s", delta.String())
	}
	if pos.Side != SideFlat || !pos.Qty.IsZero() {
		t.Fatalf("expected FLAT/zero qty after close, got side=%s qty=%s", pos.Side, pos.Qty.String())
	}
}

func TestPositionLiquidationPriceLong(t *testing.T) {
	pos := NewPosition("BTCUSDT")
	if _, err := pos.Open(SideLong, amt(t, "1"), amt(t, "100"), 10); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := pos.LiquidationPrice; got.Cmp(amt(t, "90.5")) != 0 {
		t.Fatalf("expected liquidation price 90.5, got %s", got.String())
	}

	pos.UpdatePrice(amt(t, "90.5"))
	if !pos.CheckLiquidation() {
		t.Fatalf("expected liquidation at the exact boundary price")
	}
}

func TestPositionLiquidationPriceShort(t *testing.T) {
	pos := NewPosition("BTCUSDT")
	if _, err := pos.Open(SideShort, amt(t, "1"), amt(t, "100"), 20); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := pos.LiquidationPrice; got.Cmp(amt(t, "104.5")) != 0 {
		t.Fatalf("expected liquidation price 104.5, got %s", got.String())
	}

	pos.UpdatePrice(amt(t, "104.5"))
	if !pos.CheckLiquidation() {
		t.Fatalf("expected liquidation at the exact boundary price")
	}
}

func TestPositionIncreaseWeightedAverage(t *testing.T) {
	pos := NewPosition("BTCUSDT")
	if _, err := pos.Open(SideLong, amt(t, "1"), amt(t, "100"), 10); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := pos.Increase(amt(t, "1"), amt(t, "200")); err != nil {
		t.Fatalf("Increase: %v", err)
	}
	if got := pos.EntryPrice.String(); got != "150" {
		t.Fatalf("expected weighted entry 150, got %s", got)
	}
	if got := pos.Qty.String(); got != "2" {
		t.Fatalf("expected qty 2, got %s", got)
	}
}

func TestPositionReduceClampsToOpenQty(t *testing.T) {
	pos := NewPosition("BTCUSDT")
	if _, err := pos.Open(SideLong, amt(t, "1"), amt(t, "100"), 10); err != nil {
		t.Fatalf("Open: %v", err)
	}
	delta, err := pos.Reduce(amt(t, "5"), amt(t, "120"))
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if delta.String() != "20" {
		t.Fatalf("expected realized delta 20 (clamped to 1 unit), got %s", delta.String())
	}
	if pos.Side != SideFlat || !pos.Qty.IsZero() {
		t.Fatalf("expected position to close after over-reduce, got side=%s qty=%s", pos.Side, pos.Qty.String())
	}
}

func TestPositionReducePartial(t *testing.T) {
	pos := NewPosition("ETHUSDT")
	if _, err := pos.Open(SideShort, amt(t, "4"), amt(t, "50"), 5); err != nil {
		t.Fatalf("Open: %v", err)
	}
	delta, err := pos.Reduce(amt(t, "1"), amt(t, "40"))
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if delta.String() != "10" {
		t.Fatalf("expected realized delta 10 on short reduce, got %s", delta.String())
	}
	if pos.Side != SideShort || pos.Qty.String() != "3" {
		t.Fatalf("expected SHORT qty 3 remaining, got side=%s qty=%s", pos.Side, pos.Qty.String())
	}
	if pos.EntryPrice.String() != "50" {
		t.Fatalf("entry price must not change on a reduce, got %s", pos.EntryPrice.String())
	}
}

func TestPositionOpenOnOpenPositionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic opening an already-open position")
		}
	}()
	pos := NewPosition("BTCUSDT")
	if _, err := pos.Open(SideLong, amt(t, "1"), amt(t, "100"), 10); err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, _ = pos.Open(SideLong, amt(t, "1"), amt(t, "100"), 10)
}
