package engine

import (
	"sync"
	"time"

	"github.com/epic1st/paperfx/metrics"
	"github.com/epic1st/paperfx/money"
)

// subscriberCapacity bounds the per-subscriber fan-out channel; a slow or
// stalled reader never blocks a price tick from reaching everyone else
// (spec §4.3/§5 — "never block on subscriber enqueue").
const subscriberCapacity = 64

// PortfolioStore is the persistence seam the registry calls through to
// warm-read and durably save portfolios. Implementations live in storage/.
type PortfolioStore interface {
	LoadPortfolio(userID string) (*Portfolio, bool, error)
	SavePortfolio(p *Portfolio) error
}

// PortfolioRegistry owns every user's Portfolio plus the latest price per
// symbol, and fans out portfolio snapshots to subscribers on every price
// tick or order fill that changes a watched portfolio. One mutex guards
// all three concerns, matching the teacher's PnLEngine (spec §4.3/§5).
type PortfolioRegistry struct {
	mu             sync.Mutex
	symbols        []string
	defaultBalance money.Amount
	defaultLev     int
	store          PortfolioStore

	portfolios    map[string]*Portfolio
	currentPrices map[string]money.Amount
	subscribers   map[string][]chan PushEvent
}

// NewPortfolioRegistry builds a registry for the given supported symbol set.
// store may be nil, in which case get_or_create never warm-reads and saves
// become no-ops — useful for tests that don't need a database.
func NewPortfolioRegistry(symbols []string, defaultBalance money.Amount, defaultLeverage int, store PortfolioStore) *PortfolioRegistry {
	return &PortfolioRegistry{
		symbols:        symbols,
		defaultBalance: defaultBalance,
		defaultLev:     defaultLeverage,
		store:          store,
		portfolios:     make(map[string]*Portfolio),
		currentPrices:  make(map[string]money.Amount),
		subscribers:    make(map[string][]chan PushEvent),
	}
}

// GetOrCreate returns the user's Portfolio, warm-reading it from the store
// on first touch and falling back to a freshly seeded one if the store has
// nothing for this user (spec §4.3 step: get_or_create).
func (r *PortfolioRegistry) GetOrCreate(userID string) *Portfolio {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(userID)
}

func (r *PortfolioRegistry) getOrCreateLocked(userID string) *Portfolio {
	if p, ok := r.portfolios[userID]; ok {
		return p
	}

	if r.store != nil {
		if loaded, found, err := r.store.LoadPortfolio(userID); err == nil && found {
			r.portfolios[userID] = loaded
			return loaded
		}
	}

	p := NewPortfolio(userID, r.defaultBalance, r.defaultLev, r.symbols)
	p.SeedPrices(r.currentPrices)
	r.portfolios[userID] = p
	return p
}

// WithPortfolio runs fn against userID's Portfolio under the registry lock,
// then fans out the resulting snapshot to subscribers. This is the single
// entry point order submission and closes should go through so every
// mutation and broadcast stays atomic with respect to concurrent price
// ticks (spec §5).
func (r *PortfolioRegistry) WithPortfolio(userID string, fn func(p *Portfolio)) PortfolioSnapshot {
	r.mu.Lock()
	p := r.getOrCreateLocked(userID)
	fn(p)
	snapshot := p.Snapshot()
	r.broadcastLocked(userID, "portfolio_update", snapshot)
	r.refreshActivePositionsLocked()
	r.mu.Unlock()

	if r.store != nil {
		_ = r.store.SavePortfolio(p)
	}
	return snapshot
}

// OnPriceUpdate applies a single symbol's new price to every portfolio that
// holds it, sweeping liquidations, and returns the user IDs that were
// liquidated by this tick.
func (r *PortfolioRegistry) OnPriceUpdate(symbol string, price money.Amount) []string {
	return r.OnMultiPriceUpdate(map[string]money.Amount{symbol: price})
}

// OnMultiPriceUpdate applies a batch of symbol→price updates across every
// portfolio in one pass. Symbols outside the registry's supported set are
// silently ignored (spec §4.3).
func (r *PortfolioRegistry) OnMultiPriceUpdate(prices map[string]money.Amount) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	supported := make(map[string]money.Amount, len(prices))
	for symbol, price := range prices {
		if r.isSupportedLocked(symbol) {
			supported[symbol] = price
			r.currentPrices[symbol] = price
		}
	}
	if len(supported) == 0 {
		return nil
	}

	var liquidatedUsers []string
	for userID, p := range r.portfolios {
		touched := false
		for symbol := range supported {
			if pos, ok := p.Positions[symbol]; ok && pos.Side != SideFlat {
				touched = true
				break
			}
		}
		if !touched {
			continue
		}
		liquidatedSymbols := p.UpdatePrices(supported)
		snapshot := p.Snapshot()
		r.broadcastLocked(userID, "portfolio_update", snapshot)
		if len(liquidatedSymbols) > 0 {
			liquidatedUsers = append(liquidatedUsers, userID)
		}
		if r.store != nil {
			_ = r.store.SavePortfolio(p)
		}
	}
	r.refreshActivePositionsLocked()
	return liquidatedUsers
}

// refreshActivePositionsLocked recomputes the paperfx_active_positions gauge
// across every tracked portfolio. Called with r.mu held, after a mutation
// that can open, flip, or close a position.
func (r *PortfolioRegistry) refreshActivePositionsLocked() {
	counts := make(map[[2]string]int, len(r.symbols)*2)
	for _, p := range r.portfolios {
		for symbol, pos := range p.Positions {
			if pos.Side == SideFlat {
				continue
			}
			counts[[2]string{symbol, string(pos.Side)}]++
		}
	}
	for _, symbol := range r.symbols {
		for _, side := range []Side{SideLong, SideShort} {
			metrics.ActivePositions.WithLabelValues(symbol, string(side)).Set(float64(counts[[2]string{symbol, string(side)}]))
		}
	}
}

func (r *PortfolioRegistry) isSupportedLocked(symbol string) bool {
	for _, s := range r.symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// CurrentPrice returns the latest known price for symbol, if any.
func (r *PortfolioRegistry) CurrentPrice(symbol string) (money.Amount, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.currentPrices[symbol]
	return p, ok
}

// Subscribe registers a bounded channel that receives every subsequent
// push event for userID, replaying the current snapshot immediately so a
// newly-connected subscriber is never a tick behind (spec §4.3).
func (r *PortfolioRegistry) Subscribe(userID string) <-chan PushEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan PushEvent, subscriberCapacity)
	r.subscribers[userID] = append(r.subscribers[userID], ch)

	p := r.getOrCreateLocked(userID)
	ch <- PushEvent{Type: "portfolio_snapshot", Data: p.Snapshot(), Timestamp: time.Now()}
	return ch
}

// Unsubscribe removes ch from userID's subscriber list. It is idempotent:
// unsubscribing twice, or a channel never subscribed, is a no-op.
func (r *PortfolioRegistry) Unsubscribe(userID string, ch <-chan PushEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subscribers[userID]
	for i, candidate := range subs {
		if candidate == ch {
			r.subscribers[userID] = append(subs[:i], subs[i+1:]...)
			close(candidate)
			return
		}
	}
}

// broadcastLocked fans a push event out to every subscriber of userID
// without blocking: a full channel just drops the tick for that reader,
// who will catch up on the next one (spec §4.3/§5).
func (r *PortfolioRegistry) broadcastLocked(userID, eventType string, snapshot PortfolioSnapshot) {
	event := PushEvent{Type: eventType, Data: snapshot, Timestamp: time.Now()}
	for _, ch := range r.subscribers[userID] {
		select {
		case ch <- event:
		default:
			metrics.SubscriberDrops.WithLabelValues("portfolio").Inc()
		}
	}
}
