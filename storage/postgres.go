package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epic1st/paperfx/engine"
	"github.com/epic1st/paperfx/money"
)

// schema (acknowledged here, applied by an out-of-band migration the way
// the teacher's own migration tooling works):
//
//	users(id, created_at)
//	portfolios(user_id, balance, starting_balance, leverage,
//	           max_equity_watermark, is_liquidated, is_active,
//	           positions jsonb, updated_at)
//	positions(user_id, symbol, ...)            -- denormalized view, optional
//	orders(id, user_id, symbol, side, type, qty, price, fee, status, created_at)
//	journal_entries(id, user_id, symbol, side, entry_price, exit_price, qty,
//	                realized_pnl, pnl_percent, entry_time, exit_time)
//	payments(id, user_id, amount, kind, created_at)  -- acknowledged, never written
//
// This store only touches portfolios, orders, and journal_entries; users
// and payments belong to account provisioning and billing, out of this
// engine's scope.

// Postgres is the durable store behind PortfolioStore, order persistence,
// and journal-entry persistence. Every call acquires its own pooled
// connection and releases it via defer, the pattern the teacher's database
// package uses throughout.
type Postgres struct {
	pool    *pgxpool.Pool
	symbols []string
}

func NewPostgres(ctx context.Context, dsn string, symbols []string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}
	return &Postgres{pool: pool, symbols: symbols}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

// LoadPortfolio implements engine.PortfolioStore.
func (s *Postgres) LoadPortfolio(userID string) (*engine.Portfolio, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	defer conn.Release()

	var (
		positionsJSON []byte
		snapshot      engine.PortfolioSnapshot
	)
	row := conn.QueryRow(ctx, `
		SELECT balance, starting_balance, leverage, max_equity_watermark,
		       is_liquidated, is_active, positions
		FROM portfolios WHERE user_id = $1`, userID)

	var balance, startingBalance, watermark string
	if err := row.Scan(&balance, &startingBalance, &snapshot.Leverage,
		&watermark, &snapshot.IsLiquidated, &snapshot.IsActive, &positionsJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	snapshot.UserID = userID
	if snapshot.Balance, err = money.Parse(balance); err != nil {
		return nil, false, err
	}
	if snapshot.StartingBalance, err = money.Parse(startingBalance); err != nil {
		return nil, false, err
	}
	if snapshot.MaxEquityWatermark, err = money.Parse(watermark); err != nil {
		return nil, false, err
	}
	if len(positionsJSON) > 0 {
		if err := json.Unmarshal(positionsJSON, &snapshot.Positions); err != nil {
			return nil, false, err
		}
	}

	return engine.RehydratePortfolio(snapshot, s.symbols), true, nil
}

// SavePortfolio implements engine.PortfolioStore with an upsert, since the
// first save for a user has no prior row.
func (s *Postgres) SavePortfolio(p *engine.Portfolio) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snapshot := p.Snapshot()
	positionsJSON, err := json.Marshal(snapshot.Positions)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO portfolios (user_id, balance, starting_balance, leverage,
		                        max_equity_watermark, is_liquidated, is_active,
		                        positions, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (user_id) DO UPDATE SET
			balance = EXCLUDED.balance,
			leverage = EXCLUDED.leverage,
			max_equity_watermark = EXCLUDED.max_equity_watermark,
			is_liquidated = EXCLUDED.is_liquidated,
			is_active = EXCLUDED.is_active,
			positions = EXCLUDED.positions,
			updated_at = now()`,
		snapshot.UserID, snapshot.Balance.String(), snapshot.StartingBalance.String(),
		snapshot.Leverage, snapshot.MaxEquityWatermark.String(), snapshot.IsLiquidated,
		snapshot.IsActive, positionsJSON)
	return err
}

// SaveOrder persists the write-once order record of spec §3.
func (s *Postgres) SaveOrder(ctx context.Context, orderID, userID string, req engine.OrderRequest, result engine.OrderResult) error {
	status := "FILLED"
	if !result.Success {
		status = "REJECTED"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, user_id, symbol, side, type, qty, price, fee, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		orderID, userID, req.Symbol, req.Side, req.Type,
		req.Qty.String(), result.FillPrice.String(), result.Fee.String(), status)
	return err
}

// SaveJournalEntry persists the realized-trade record emitted on every
// closing or reducing fill.
func (s *Postgres) SaveJournalEntry(ctx context.Context, entry *engine.JournalEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO journal_entries (id, user_id, symbol, side, entry_price, exit_price,
		                             qty, realized_pnl, pnl_percent, entry_time, exit_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.NewString(), entry.UserID, entry.Symbol, entry.Side,
		entry.EntryPrice.String(), entry.ExitPrice.String(), entry.Qty.String(),
		entry.RealizedPnL.String(), entry.PnLPercent.String(), entry.EntryTime, entry.ExitTime)
	return err
}
