package engine

import (
	"testing"

	"github.com/epic1st/paperfx/money"
)

func newTestRegistry() *PortfolioRegistry {
	return NewPortfolioRegistry(testSymbols, money.MustNew(10000, 0), 10, nil)
}

func TestRegistryGetOrCreateIsStable(t *testing.T) {
	r := newTestRegistry()
	a := r.GetOrCreate("u1")
	b := r.GetOrCreate("u1")
	if a != b {
		t.Fatalf("expected the same Portfolio instance on repeated GetOrCreate")
	}
}

func TestRegistrySubscribeReplaysSnapshot(t *testing.T) {
	r := newTestRegistry()
	ch := r.Subscribe("u1")
	select {
	case event := <-ch:
		if event.Type != "portfolio_snapshot" {
			t.Fatalf("expected an initial snapshot event, got %s", event.Type)
		}
	default:
		t.Fatalf("expected an immediate snapshot on subscribe")
	}
}

func TestRegistryBroadcastDropsOnFullQueue(t *testing.T) {
	r := newTestRegistry()
	ch := r.Subscribe("u1")
	<-ch // drain the initial snapshot

	r.WithPortfolio("u1", func(p *Portfolio) {
		if result, _ := p.SubmitBuySell("BTCUSDT", OrderBuy, amt(t, "1"), amt(t, "100"), 10); !result.Success {
			t.Fatalf("open failed: %s", result.Message)
		}
	})

	// Never drain further: flood past capacity and confirm the registry
	// doesn't block, which would deadlock this goroutine.
	for i := 0; i < subscriberCapacity+10; i++ {
		r.OnPriceUpdate("BTCUSDT", amt(t, "101"))
	}
}

func TestRegistryUnsubscribeIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	ch := r.Subscribe("u1")
	r.Unsubscribe("u1", ch)
	r.Unsubscribe("u1", ch) // must not panic
}

func TestRegistryIgnoresUnsupportedSymbol(t *testing.T) {
	r := newTestRegistry()
	liquidated := r.OnPriceUpdate("DOGEUSDT", amt(t, "1"))
	if liquidated != nil {
		t.Fatalf("expected no effect from an unsupported symbol")
	}
	if _, ok := r.CurrentPrice("DOGEUSDT"); ok {
		t.Fatalf("unsupported symbol must not be recorded as a current price")
	}
}
