package money

import "testing"

func TestAddSub(t *testing.T) {
	a := MustNew(1000000, 2)  // 10000.00
	b := MustNew(600, 2)      // 6.00
	got := a.Sub(b)
	want := MustNew(999400, 2) // 9994.00
	if got.Cmp(want) != 0 {
		t.Fatalf("10000.00 - 6.00 = %s, want %s", got, want)
	}
}

func TestMulQuo(t *testing.T) {
	qty, _ := Parse("0.1")
	price, _ := Parse("100000")
	notional := qty.Mul(price)
	want, _ := Parse("10000")
	if notional.Cmp(want) != 0 {
		t.Fatalf("0.1 * 100000 = %s, want %s", notional, want)
	}

	leverage, _ := Parse("10")
	margin, err := notional.Quo(leverage)
	if err != nil {
		t.Fatal(err)
	}
	wantMargin, _ := Parse("1000")
	if margin.Cmp(wantMargin) != 0 {
		t.Fatalf("margin = %s, want %s", margin, wantMargin)
	}
}

func TestQuoByZero(t *testing.T) {
	a := MustNew(100, 0)
	if _, err := a.Quo(Zero); err == nil {
		t.Fatal("expected error dividing by zero")
	}
}

func TestMinMax(t *testing.T) {
	a, _ := Parse("0.2")
	b, _ := Parse("0.05")
	if Min(a, b).Cmp(b) != 0 {
		t.Fatal("Min(0.2, 0.05) should be 0.05")
	}
	if Max(a, b).Cmp(a) != 0 {
		t.Fatal("Max(0.2, 0.05) should be 0.2")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	a, _ := Parse("90.5")
	b, err := a.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	var out Amount
	if err := out.UnmarshalJSON(b); err != nil {
		t.Fatal(err)
	}
	if out.Cmp(a) != 0 {
		t.Fatalf("round trip: got %s want %s", out, a)
	}
}
