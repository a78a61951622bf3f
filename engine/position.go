package engine

import (
	"github.com/epic1st/paperfx/money"
)

// maintenanceMarginRate is the fixed mmr of spec §4.1 / §6.
var maintenanceMarginRate = money.MustNew(5, 3) // 0.005

// SetMaintenanceMarginRate overrides the package-wide maintenance margin
// rate used by the liquidation-price formula.
func SetMaintenanceMarginRate(rate money.Amount) {
	maintenanceMarginRate = rate
}

// Position owns the math of one symbol's exposure for one portfolio. Every
// operation is synchronous and pure with respect to its own fields; the
// caller (Portfolio) holds whatever lock makes that appear atomic to
// concurrent observers (spec §5).
type Position struct {
	Symbol           string
	Side             Side
	Qty              money.Amount
	EntryPrice       money.Amount
	CurrentPrice     money.Amount
	UnrealizedPnL    money.Amount
	RealizedPnL      money.Amount
	Leverage         int
	LiquidationPrice money.Amount
	hasLiquidation   bool
}

// NewPosition creates a FLAT position for a symbol, per the Portfolio's
// pre-creation rule (§4.2): every supported symbol gets a dense entry.
func NewPosition(symbol string) *Position {
	return &Position{Symbol: symbol, Side: SideFlat}
}

func (p *Position) checkFlatInvariant() {
	flat := p.Side == SideFlat
	zeroQty := p.Qty.IsZero()
	if flat != zeroQty {
		violate("INV-P1", "side=FLAT must coincide with qty=0 for "+p.Symbol)
	}
	if flat {
		if p.EntryPrice.IsPos() || !p.UnrealizedPnL.IsZero() || p.hasLiquidation {
			violate("INV-P1", "FLAT position must have zero entry/pnl and no liquidation price for "+p.Symbol)
		}
	}
}

// Open opens a new position on a currently-FLAT Position. Returns the
// initial margin qty·price/leverage.
func (p *Position) Open(side Side, qty, price money.Amount, leverage int) (money.Amount, error) {
	if side == SideFlat {
		violate("precondition", "Open called with side=FLAT")
	}
	if p.Side != SideFlat {
		violate("precondition", "Open called on an already-open position "+p.Symbol)
	}
	if !qty.IsPos() {
		violate("precondition", "Open called with non-positive qty")
	}

	p.Side = side
	p.Qty = qty
	p.EntryPrice = price
	p.CurrentPrice = price
	p.Leverage = leverage
	p.UnrealizedPnL = money.Zero
	if err := p.recomputeLiquidationPrice(); err != nil {
		return money.Zero, err
	}
	margin, err := qty.Mul(price).Quo(leverageAmount(leverage))
	if err != nil {
		return money.Zero, err
	}
	p.checkFlatInvariant()
	return margin, nil
}

// Increase adds to the same side at a size-weighted average entry price.
// Returns the additional margin qty·price/leverage.
func (p *Position) Increase(qty, price money.Amount) (money.Amount, error) {
	if p.Side == SideFlat {
		violate("precondition", "Increase called on a FLAT position "+p.Symbol)
	}

	notionalExisting := p.Qty.Mul(p.EntryPrice)
	notionalAdded := qty.Mul(price)
	newQty := p.Qty.Add(qty)
	newEntry, err := notionalExisting.Add(notionalAdded).Quo(newQty)
	if err != nil {
		return money.Zero, err
	}

	p.Qty = newQty
	p.EntryPrice = newEntry
	if err := p.recomputeLiquidationPrice(); err != nil {
		return money.Zero, err
	}
	p.recomputeUnrealized()

	margin, err := qty.Mul(price).Quo(leverageAmount(p.Leverage))
	if err != nil {
		return money.Zero, err
	}
	return margin, nil
}

// Reduce partially closes qty of the current side at closePrice, crediting
// the realized delta into RealizedPnL and returning it. A remainder of
// zero transitions the position to FLAT via Close.
func (p *Position) Reduce(qty, closePrice money.Amount) (money.Amount, error) {
	if p.Side == SideFlat {
		violate("precondition", "Reduce called on a FLAT position "+p.Symbol)
	}
	qty = money.Min(qty, p.Qty) // clamp to open qty; no negative qty appears

	delta := signedDelta(p.Side, p.EntryPrice, closePrice, qty)
	p.RealizedPnL = p.RealizedPnL.Add(delta)
	p.Qty = p.Qty.Sub(qty)

	if p.Qty.IsZero() {
		// Close realizes the (now zero) remainder; the delta for this
		// reduce has already been booked above, so Close's own return
		// value is discarded here.
		if _, err := p.Close(closePrice); err != nil {
			return money.Zero, err
		}
		return delta, nil
	}

	if err := p.recomputeLiquidationPrice(); err != nil {
		return money.Zero, err
	}
	p.recomputeUnrealized()
	return delta, nil
}

// Close realizes PnL on the remaining qty and transitions to FLAT.
func (p *Position) Close(price money.Amount) (money.Amount, error) {
	if p.Side == SideFlat {
		violate("precondition", "Close called on a FLAT position "+p.Symbol)
	}

	delta := signedDelta(p.Side, p.EntryPrice, price, p.Qty)
	p.RealizedPnL = p.RealizedPnL.Add(delta)

	p.Side = SideFlat
	p.Qty = money.Zero
	p.EntryPrice = money.Zero
	p.CurrentPrice = price
	p.UnrealizedPnL = money.Zero
	p.LiquidationPrice = money.Zero
	p.hasLiquidation = false
	p.Leverage = 0

	p.checkFlatInvariant()
	return delta, nil
}

// UpdatePrice sets CurrentPrice and recomputes UnrealizedPnL per INV-P3.
func (p *Position) UpdatePrice(price money.Amount) {
	p.CurrentPrice = price
	if p.Side == SideFlat {
		return
	}
	p.recomputeUnrealized()
}

// CheckLiquidation is an idempotent read: true if CurrentPrice has
// breached LiquidationPrice.
func (p *Position) CheckLiquidation() bool {
	if p.Side == SideFlat || !p.hasLiquidation {
		return false
	}
	switch p.Side {
	case SideLong:
		return p.CurrentPrice.LTE(p.LiquidationPrice)
	case SideShort:
		return p.CurrentPrice.GTE(p.LiquidationPrice)
	default:
		return false
	}
}

// RehydratePosition rebuilds a Position from a previously-taken snapshot,
// for the storage layer's load path. It trusts the snapshot's fields
// rather than re-deriving them and does not run checkFlatInvariant.
func RehydratePosition(s PositionSnapshot) *Position {
	return &Position{
		Symbol:           s.Symbol,
		Side:             s.Side,
		Qty:              s.Qty,
		EntryPrice:       s.EntryPrice,
		CurrentPrice:     s.CurrentPrice,
		UnrealizedPnL:    s.UnrealizedPnL,
		RealizedPnL:      s.RealizedPnL,
		Leverage:         s.Leverage,
		LiquidationPrice: s.LiquidationPrice,
		hasLiquidation:   s.HasLiquidation,
	}
}

// Snapshot returns a read-only copy for external consumption.
func (p *Position) Snapshot() PositionSnapshot {
	return PositionSnapshot{
		Symbol:           p.Symbol,
		Side:             p.Side,
		Qty:              p.Qty,
		EntryPrice:       p.EntryPrice,
		CurrentPrice:     p.CurrentPrice,
		UnrealizedPnL:    p.UnrealizedPnL,
		RealizedPnL:      p.RealizedPnL,
		Leverage:         p.Leverage,
		LiquidationPrice: p.LiquidationPrice,
		HasLiquidation:   p.hasLiquidation,
	}
}

// recomputeLiquidationPrice applies the Bybit-style formula of spec §4.1:
//
//	LONG:  liq = entry · (1 − imr + mmr)
//	SHORT: liq = entry · (1 + imr − mmr)
//
// where imr = 1/leverage.
func (p *Position) recomputeLiquidationPrice() error {
	imr, err := money.MustNew(1, 0).Quo(leverageAmount(p.Leverage))
	if err != nil {
		return err
	}
	one := money.MustNew(1, 0)
	switch p.Side {
	case SideLong:
		factor := one.Sub(imr).Add(maintenanceMarginRate)
		p.LiquidationPrice = p.EntryPrice.Mul(factor)
	case SideShort:
		factor := one.Add(imr).Sub(maintenanceMarginRate)
		p.LiquidationPrice = p.EntryPrice.Mul(factor)
	default:
		p.LiquidationPrice = money.Zero
		p.hasLiquidation = false
		return nil
	}
	p.hasLiquidation = true
	return nil
}

func (p *Position) recomputeUnrealized() {
	p.UnrealizedPnL = signedDelta(p.Side, p.EntryPrice, p.CurrentPrice, p.Qty)
}

// signedDelta is (price2 - price1)·qty for LONG, negated for SHORT; it is
// the shared math behind INV-P3, Reduce's realized delta, and Close's
// realized delta.
func signedDelta(side Side, entry, price, qty money.Amount) money.Amount {
	diff := price.Sub(entry)
	delta := diff.Mul(qty)
	if side == SideShort {
		return delta.Neg()
	}
	return delta
}

func leverageAmount(leverage int) money.Amount {
	return money.MustNew(int64(leverage), 0)
}
