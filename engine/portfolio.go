package engine

import (
	"time"

	"github.com/epic1st/paperfx/money"
)

// feeRate is the fixed taker fee rate of spec §6 (0.0006 = 6bps).
var feeRate = money.MustNew(6, 4)

// SetFeeRate overrides the package-wide fee rate; the composition root
// calls it with the configured fee rate at startup.
func SetFeeRate(rate money.Amount) {
	feeRate = rate
}

// Portfolio is one user's wallet: balance, leverage default, dense
// positions map, and the margin/liquidation accounting of spec §4.2.
// All mutation is expected to happen while the caller holds the
// PortfolioRegistry's mutex (spec §5) — Portfolio itself holds no lock.
type Portfolio struct {
	UserID             string
	Balance            money.Amount
	StartingBalance    money.Amount
	Leverage           int
	MaxEquityWatermark money.Amount
	IsLiquidated       bool
	IsActive           bool
	Positions          map[string]*Position
}

// NewPortfolio pre-creates a FLAT Position for every supported symbol, the
// "dense positions map" design note of spec §9.
func NewPortfolio(userID string, startingBalance money.Amount, leverage int, symbols []string) *Portfolio {
	positions := make(map[string]*Position, len(symbols))
	for _, s := range symbols {
		positions[s] = NewPosition(s)
	}
	return &Portfolio{
		UserID:             userID,
		Balance:            startingBalance,
		StartingBalance:    startingBalance,
		Leverage:           leverage,
		MaxEquityWatermark: startingBalance,
		IsActive:           true,
		Positions:          positions,
	}
}

// SeedPrices stamps CurrentPrice onto every still-FLAT position whose
// symbol has a known price (spec §4.3's get_or_create: "positions with
// the latest known prices (where > 0)"), so a portfolio created after
// ticks have already arrived doesn't start every symbol's current_price
// at zero.
func (p *Portfolio) SeedPrices(prices map[string]money.Amount) {
	for symbol, pos := range p.Positions {
		if pos.Side != SideFlat {
			continue
		}
		if price, ok := prices[symbol]; ok && price.IsPos() {
			pos.CurrentPrice = price
		}
	}
}

// RehydratePortfolio rebuilds a Portfolio from a previously-taken snapshot,
// for the storage layer's load path. Any supported symbol missing from the
// snapshot (e.g. one added after the snapshot was written) gets a fresh
// FLAT position rather than being silently dropped.
func RehydratePortfolio(s PortfolioSnapshot, symbols []string) *Portfolio {
	positions := make(map[string]*Position, len(symbols))
	for _, symbol := range symbols {
		if snap, ok := s.Positions[symbol]; ok {
			positions[symbol] = RehydratePosition(snap)
		} else {
			positions[symbol] = NewPosition(symbol)
		}
	}
	return &Portfolio{
		UserID:             s.UserID,
		Balance:            s.Balance,
		StartingBalance:    s.StartingBalance,
		Leverage:           s.Leverage,
		MaxEquityWatermark: s.MaxEquityWatermark,
		IsLiquidated:       s.IsLiquidated,
		IsActive:           s.IsActive,
		Positions:          positions,
	}
}

// Equity implements INV-Po1.
func (p *Portfolio) Equity() money.Amount {
	equity := p.Balance
	for _, pos := range p.Positions {
		if pos.Side != SideFlat {
			equity = equity.Add(pos.UnrealizedPnL)
		}
	}
	return equity
}

// MarginUsed implements INV-Po2's numerator.
func (p *Portfolio) MarginUsed() money.Amount {
	used := money.Zero
	for _, pos := range p.Positions {
		if pos.Side == SideFlat {
			continue
		}
		notional := pos.Qty.Mul(pos.EntryPrice)
		margin, err := notional.Quo(leverageAmount(pos.Leverage))
		if err != nil {
			violate("INV-Po2", "margin_used division by zero leverage for "+pos.Symbol)
		}
		used = used.Add(margin)
	}
	return used
}

// AvailableMargin implements INV-Po2.
func (p *Portfolio) AvailableMargin() money.Amount {
	return p.Equity().Sub(p.MarginUsed())
}

func (p *Portfolio) bumpWatermark() {
	equity := p.Equity()
	if equity.GT(p.MaxEquityWatermark) {
		p.MaxEquityWatermark = equity
	}
}

// UpdateLeverage changes the default for future opens only; open positions
// keep their per-trade leverage (spec §4.2).
func (p *Portfolio) UpdateLeverage(n int) {
	p.Leverage = n
}

// SubmitBuySell runs the non-reduce-only order pipeline of spec §4.2 steps
// 1-6. price is the execution price already resolved by the caller
// (current price for MARKET, the resolved crossed price for LIMIT).
func (p *Portfolio) SubmitBuySell(symbol string, side OrderSide, qty, price money.Amount, leverage int) (OrderResult, *JournalEntry) {
	if p.IsLiquidated {
		return fail(CodeAccountLiquidated, "account is liquidated"), nil
	}

	requiredMargin, err := qty.Mul(price).Quo(leverageAmount(leverage))
	if err != nil {
		return fail(CodeInvalidLeverage, "leverage must be positive"), nil
	}
	fee := qty.Mul(price).Mul(feeRate)

	if p.AvailableMargin().LT(requiredMargin.Add(fee)) {
		return fail(CodeInsufficientMargin, "available margin is insufficient for this order"), nil
	}

	p.Balance = p.Balance.Sub(fee) // debit fee once, per step 4

	pos := p.Positions[symbol]
	wantSide := sideFor(side)

	var (
		realized money.Amount
		journal  *JournalEntry
	)

	switch {
	case pos.Side == SideFlat:
		if _, err := pos.Open(wantSide, qty, price, leverage); err != nil {
			violate("INV-P2", err.Error())
		}
	case pos.Side == wantSide:
		if _, err := pos.Increase(qty, price); err != nil {
			violate("INV-P2", err.Error())
		}
	default:
		// Opposite side: compute close_qty and the realized delta from the
		// pre-mutation position *before* any field is zeroed or
		// reassigned (spec §9's resolution of the flip-ordering bug).
		closeQty := money.Min(qty, pos.Qty)
		entryBefore := pos.EntryPrice
		sideBefore := pos.Side
		leverageBefore := pos.Leverage

		if qty.GTE(pos.Qty) {
			delta, err := pos.Close(price)
			if err != nil {
				violate("INV-P2", err.Error())
			}
			realized = delta
			p.Balance = p.Balance.Add(realized)
			journal = buildJournalEntry(p.UserID, symbol, sideBefore, entryBefore, price, closeQty, realized, leverageBefore)

			remainder := qty.Sub(closeQty)
			if remainder.IsPos() {
				if _, err := pos.Open(wantSide, remainder, price, leverage); err != nil {
					violate("INV-P2", err.Error())
				}
			}
		} else {
			delta, err := pos.Reduce(qty, price)
			if err != nil {
				violate("INV-P2", err.Error())
			}
			realized = delta
			p.Balance = p.Balance.Add(realized)
			journal = buildJournalEntry(p.UserID, symbol, sideBefore, entryBefore, price, qty, realized, leverageBefore)
		}
	}

	p.bumpWatermark()

	result := OrderResult{
		Success:   true,
		FilledQty: qty,
		FillPrice: price,
		Fee:       fee,
		Position:  pos.Snapshot(),
	}
	return result, journal
}

// Close is the reduce-only/user-initiated close path of spec §4.2. qty nil
// (represented here by the zero Amount with hasQty=false) closes the
// full position.
func (p *Portfolio) Close(symbol string, qty money.Amount, hasQty bool, price money.Amount) (OrderResult, *JournalEntry) {
	if p.IsLiquidated {
		return fail(CodeAccountLiquidated, "account is liquidated"), nil
	}
	pos := p.Positions[symbol]
	if pos.Side == SideFlat {
		return fail(CodeInvalidQty, "no open position to close for "+symbol), nil
	}

	closeQty := pos.Qty
	if hasQty {
		closeQty = money.Min(qty, pos.Qty) // clamp to open qty, never negative
	}
	fee := closeQty.Mul(price).Mul(feeRate)

	entryBefore := pos.EntryPrice
	sideBefore := pos.Side
	leverageBefore := pos.Leverage

	var (
		realized money.Amount
		err      error
	)
	if closeQty.GTE(pos.Qty) {
		realized, err = pos.Close(price)
	} else {
		realized, err = pos.Reduce(closeQty, price)
	}
	if err != nil {
		violate("INV-P2", err.Error())
	}

	p.Balance = p.Balance.Add(realized).Sub(fee)
	p.bumpWatermark()

	journal := buildJournalEntry(p.UserID, symbol, sideBefore, entryBefore, price, closeQty, realized, leverageBefore)

	result := OrderResult{
		Success:   true,
		FilledQty: closeQty,
		FillPrice: price,
		Fee:       fee,
		Position:  pos.Snapshot(),
	}
	return result, journal
}

// UpdatePrices revalues every open position touched by the given symbol→
// price map and liquidates any that breach their liquidation price. It
// returns the symbols that liquidated.
func (p *Portfolio) UpdatePrices(prices map[string]money.Amount) []string {
	var liquidated []string
	for symbol, pos := range p.Positions {
		price, ok := prices[symbol]
		if !ok || pos.Side == SideFlat {
			continue
		}
		pos.UpdatePrice(price)
		if pos.CheckLiquidation() {
			p.liquidatePosition(symbol)
			liquidated = append(liquidated, symbol)
		}
	}
	p.bumpWatermark()
	return liquidated
}

// liquidatePosition forcibly closes a position at the price that triggered
// the breach (which may already be past LiquidationPrice if the feed
// gapped) and realizes whatever delta that implies straight into Balance.
// No separate exit fee is charged here: the realized loss itself is the
// liquidation penalty, per SPEC_FULL.md §4.2's resolution of the
// liquidation-fee open question.
func (p *Portfolio) liquidatePosition(symbol string) {
	pos := p.Positions[symbol]
	closePrice := pos.CurrentPrice

	delta, err := pos.Close(closePrice)
	if err != nil {
		violate("INV-P2", err.Error())
	}
	p.Balance = p.Balance.Add(delta)

	if p.Balance.LTE(money.Zero) || p.Equity().LTE(money.Zero) {
		p.IsLiquidated = true
		p.IsActive = false
	}
}

// Snapshot returns a read-only view for fan-out/serialisation.
func (p *Portfolio) Snapshot() PortfolioSnapshot {
	positions := make(map[string]PositionSnapshot, len(p.Positions))
	for symbol, pos := range p.Positions {
		positions[symbol] = pos.Snapshot()
	}
	return PortfolioSnapshot{
		UserID:             p.UserID,
		Balance:            p.Balance,
		StartingBalance:    p.StartingBalance,
		Equity:             p.Equity(),
		MarginUsed:         p.MarginUsed(),
		AvailableMargin:    p.AvailableMargin(),
		Leverage:           p.Leverage,
		MaxEquityWatermark: p.MaxEquityWatermark,
		IsLiquidated:       p.IsLiquidated,
		IsActive:           p.IsActive,
		Positions:          positions,
	}
}

func sideFor(orderSide OrderSide) Side {
	if orderSide == OrderBuy {
		return SideLong
	}
	return SideShort
}

// buildJournalEntry computes pnl_percent = realized_pnl / (qty·entry/leverage) · 100,
// per spec §4.4 step 7.
func buildJournalEntry(userID, symbol string, side Side, entryPrice, exitPrice, qty, realized money.Amount, leverage int) *JournalEntry {
	marginUsed, err := qty.Mul(entryPrice).Quo(leverageAmount(leverage))
	pnlPercent := money.Zero
	if err == nil && !marginUsed.IsZero() {
		hundred := money.MustNew(100, 0)
		if pct, err := realized.Mul(hundred).Quo(marginUsed); err == nil {
			pnlPercent = pct
		}
	}
	now := time.Now()
	return &JournalEntry{
		UserID:      userID,
		Symbol:      symbol,
		Side:        side,
		EntryPrice:  entryPrice,
		ExitPrice:   exitPrice,
		Qty:         qty,
		RealizedPnL: realized,
		PnLPercent:  pnlPercent,
		EntryTime:   now, // the engine does not track per-fill open time on Position; entry/exit collapse to fill time for a reduce that didn't originate the whole lot
		ExitTime:    now,
	}
}
