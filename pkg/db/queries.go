package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("record not found")

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Symbol  string
	SweepID string
	Limit   int
}

// RunQueries provides read access to stored runs and cached prices.
type RunQueries struct {
	db *sql.DB
}

// NewRunQueries creates a new RunQueries instance.
func NewRunQueries(db *sql.DB) *RunQueries {
	return &RunQueries{db: db}
}

// Queries returns the read helpers bound to this database.
func (d *Database) Queries() *RunQueries {
	return NewRunQueries(d.DB)
}

const runColumns = `
	id, sweep_id, symbol, benchmark, start_ts, end_ts, macd_fast, macd_slow, macd_signal,
	total_return, sharpe_ratio, max_drawdown, total_trades, final_value, summary, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r                         Run
		startTS, endTS, createdMS int64
	)
	err := s.Scan(&r.ID, &r.SweepID, &r.Symbol, &r.Benchmark, &startTS, &endTS, &r.MACDFast, &r.MACDSlow, &r.MACDSignal,
		&r.TotalReturn, &r.SharpeRatio, &r.MaxDrawdown, &r.TotalTrades, &r.FinalValue, &r.Summary, &createdMS)
	if err != nil {
		return r, err
	}
	r.Start = fromUnix(startTS)
	r.End = fromUnix(endTS)
	r.CreatedAt = time.UnixMilli(createdMS).UTC()
	return r, nil
}

// ----------------------------------------
// Run Queries
// ----------------------------------------

// GetRun returns one run or ErrNotFound.
func (q *RunQueries) GetRun(ctx context.Context, id string) (*Run, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", id, err)
	}
	return &r, nil
}

// ListRuns returns runs newest first.
func (q *RunQueries) ListRuns(ctx context.Context, f RunFilter) ([]Run, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM backtest_runs
		WHERE (? = '' OR symbol = ?) AND (? = '' OR sweep_id = ?)
		ORDER BY created_at DESC, id
		LIMIT ?
	`, f.Symbol, f.Symbol, f.SweepID, f.SweepID, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRunTrades returns the fills of a run in execution order.
func (q *RunQueries) ListRunTrades(ctx context.Context, runID string) ([]RunTrade, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT run_id, seq, ts, signal, price, quantity, commission
		FROM backtest_trades WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]RunTrade, 0)
	for rows.Next() {
		var (
			t  RunTrade
			ts int64
		)
		if err := rows.Scan(&t.RunID, &t.Seq, &ts, &t.Signal, &t.Price, &t.Quantity, &t.Commission); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Time = fromUnix(ts)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListEquityPoints returns a run's equity curve in bar order.
func (q *RunQueries) ListEquityPoints(ctx context.Context, runID string) ([]EquityPoint, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT run_id, seq, ts, price, cash, position_value, portfolio_value, position_quantity, unrealized_pnl
		FROM equity_points WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query equity points: %w", err)
	}
	defer rows.Close()

	points := make([]EquityPoint, 0)
	for rows.Next() {
		var (
			p  EquityPoint
			ts int64
		)
		if err := rows.Scan(&p.RunID, &p.Seq, &ts, &p.Price, &p.Cash, &p.PositionValue, &p.PortfolioValue, &p.PositionQuantity, &p.UnrealizedPnL); err != nil {
			return nil, fmt.Errorf("scan equity point: %w", err)
		}
		p.Time = fromUnix(ts)
		points = append(points, p)
	}
	return points, rows.Err()
}

// ----------------------------------------
// Price Cache Queries
// ----------------------------------------

// HasPriceFetch reports whether [start, end) was previously loaded for symbol,
// either exactly or inside a wider bounded fetch.
func (q *RunQueries) HasPriceFetch(ctx context.Context, symbol string, start, end time.Time) (bool, error) {
	s, e := unix(start), unix(end)
	var one int
	err := q.db.QueryRowContext(ctx, `
		SELECT 1 FROM price_fetches
		WHERE symbol = ? AND (
			(start_ts = ? AND end_ts = ?)
			OR (? > 0 AND ? > 0 AND start_ts > 0 AND end_ts > 0 AND start_ts <= ? AND end_ts >= ?)
		)
		LIMIT 1
	`, symbol, s, e, s, e, s, e).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query price fetches: %w", err)
	}
	return true, nil
}

// PriceBars returns cached bars with start <= time < end ordered by time.
// A zero end is unbounded.
func (q *RunQueries) PriceBars(ctx context.Context, symbol string, start, end time.Time) ([]PriceBar, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT symbol, ts, open, high, low, close, volume
		FROM price_bars
		WHERE symbol = ? AND ts >= ? AND (? = 0 OR ts < ?)
		ORDER BY ts
	`, symbol, unix(start), unix(end), unix(end))
	if err != nil {
		return nil, fmt.Errorf("query price bars: %w", err)
	}
	defer rows.Close()

	bars := make([]PriceBar, 0)
	for rows.Next() {
		var (
			b  PriceBar
			ts int64
		)
		if err := rows.Scan(&b.Symbol, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan price bar: %w", err)
		}
		b.Time = fromUnix(ts)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}
