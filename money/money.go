// Package money provides the fixed-point decimal type used throughout the
// engine for every balance, price, quantity and fee. Floating binary is
// never used on this path: govalues/decimal carries ≥19 significant digits
// and exact rounding, which is what lets fees and PnL round-trip exactly.
package money

import (
	"fmt"

	"github.com/govalues/decimal"
)

// Amount is a fixed-point decimal value. The zero Amount is zero.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{}

// New builds an Amount from an integer coefficient and scale, e.g.
// New(12345, 2) == 123.45.
func New(coef int64, scale int) (Amount, error) {
	d, err := decimal.New(coef, scale)
	if err != nil {
		return Amount{}, fmt.Errorf("money: new: %w", err)
	}
	return Amount{d: d}, nil
}

// MustNew is New but panics on error; reserved for compile-time constants.
func MustNew(coef int64, scale int) Amount {
	a, err := New(coef, scale)
	if err != nil {
		panic(err)
	}
	return a
}

// Parse decodes a decimal string such as "100000.00000000" exactly, with no
// binary-float intermediate step.
func Parse(s string) (Amount, error) {
	d, err := decimal.Parse(s)
	if err != nil {
		return Amount{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Amount{d: d}, nil
}

// FromFloat converts a float64 into an Amount; the result is exact decimal
// from that point on. The feed decoders do not use it: upstream kline
// fields arrive as strings and go through Parse.
func FromFloat(f float64) (Amount, error) {
	d, err := decimal.NewFromFloat64(f)
	if err != nil {
		return Amount{}, fmt.Errorf("money: from float %v: %w", f, err)
	}
	return Amount{d: d}, nil
}

func (a Amount) Add(b Amount) Amount {
	d, err := a.d.Add(b.d)
	if err != nil {
		panic(fmt.Errorf("money: add overflow: %w", err))
	}
	return Amount{d: d}
}

func (a Amount) Sub(b Amount) Amount {
	d, err := a.d.Sub(b.d)
	if err != nil {
		panic(fmt.Errorf("money: sub overflow: %w", err))
	}
	return Amount{d: d}
}

func (a Amount) Mul(b Amount) Amount {
	d, err := a.d.Mul(b.d)
	if err != nil {
		panic(fmt.Errorf("money: mul overflow: %w", err))
	}
	return Amount{d: d}
}

// Quo divides a by b. Division by zero returns an error rather than
// panicking since leverage/price inputs can legitimately be attacker- or
// caller-supplied zero.
func (a Amount) Quo(b Amount) (Amount, error) {
	d, err := a.d.Quo(b.d)
	if err != nil {
		return Amount{}, fmt.Errorf("money: quo: %w", err)
	}
	return Amount{d: d}, nil
}

func (a Amount) Neg() Amount {
	return Amount{d: a.d.Neg()}
}

func (a Amount) Abs() Amount {
	return Amount{d: a.d.Abs()}
}

// Cmp returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int {
	return a.d.Cmp(b.d)
}

func (a Amount) IsZero() bool { return a.d.IsZero() }
func (a Amount) IsNeg() bool  { return a.d.IsNeg() }
func (a Amount) IsPos() bool  { return a.d.IsPos() }

func (a Amount) GT(b Amount) bool { return a.Cmp(b) > 0 }
func (a Amount) GTE(b Amount) bool { return a.Cmp(b) >= 0 }
func (a Amount) LT(b Amount) bool { return a.Cmp(b) < 0 }
func (a Amount) LTE(b Amount) bool { return a.Cmp(b) <= 0 }

// Min and Max make guard clauses ("clamp to open qty") read naturally.
func Min(a, b Amount) Amount {
	if a.LTE(b) {
		return a
	}
	return b
}

func Max(a, b Amount) Amount {
	if a.GTE(b) {
		return a
	}
	return b
}

func (a Amount) String() string {
	return a.d.String()
}

// Float64 is for boundary serialisation to JSON transports that expect a
// number rather than a decimal string (e.g. legacy chart clients); exact
// money accounting never uses the result for further arithmetic.
func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// MarshalJSON emits the exact decimal string, per the design notes'
// "boundary serialisation emits decimal strings" rule.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.d.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" || s == "" {
		*a = Zero
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
