package db

import (
	"context"
	"fmt"
	"time"
)

// Run is one stored backtest. Summary holds the JSON result summary.
type Run struct {
	ID          string
	SweepID     string
	Symbol      string
	Benchmark   string
	Start       time.Time
	End         time.Time
	MACDFast    int
	MACDSlow    int
	MACDSignal  int
	TotalReturn float64
	SharpeRatio float64
	MaxDrawdown float64
	TotalTrades int
	FinalValue  float64
	Summary     string
	CreatedAt   time.Time
}

// RunTrade is a fill belonging to a run, ordered by Seq.
type RunTrade struct {
	RunID      string
	Seq        int
	Time       time.Time
	Signal     string
	Price      float64
	Quantity   int
	Commission float64
}

// EquityPoint is one bar of a run's equity curve, ordered by Seq.
type EquityPoint struct {
	RunID            string
	Seq              int
	Time             time.Time
	Price            float64
	Cash             float64
	PositionValue    float64
	PortfolioValue   float64
	PositionQuantity int
	UnrealizedPnL    float64
}

// PriceBar is a cached daily bar.
type PriceBar struct {
	Symbol string
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Statements shared with batched writers.
const (
	InsertRunSQL = `
		INSERT INTO backtest_runs (
			id, sweep_id, symbol, benchmark, start_ts, end_ts, macd_fast, macd_slow, macd_signal,
			total_return, sharpe_ratio, max_drawdown, total_trades, final_value, summary, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	InsertRunTradeSQL = `
		INSERT OR REPLACE INTO backtest_trades (run_id, seq, ts, signal, price, quantity, commission)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	InsertEquityPointSQL = `
		INSERT OR REPLACE INTO equity_points (
			run_id, seq, ts, price, cash, position_value, portfolio_value, position_quantity, unrealized_pnl
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	UpsertPriceBarSQL = `
		INSERT INTO price_bars (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, ts) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`
)

// RunArgs returns the InsertRunSQL arguments for r. A zero CreatedAt is
// stamped with the current time.
func RunArgs(r Run) []any {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return []any{
		r.ID, r.SweepID, r.Symbol, r.Benchmark, unix(r.Start), unix(r.End), r.MACDFast, r.MACDSlow, r.MACDSignal,
		r.TotalReturn, r.SharpeRatio, r.MaxDrawdown, r.TotalTrades, r.FinalValue, r.Summary, r.CreatedAt.UnixMilli(),
	}
}

// TradeArgs returns the InsertRunTradeSQL arguments for t.
func TradeArgs(t RunTrade) []any {
	return []any{t.RunID, t.Seq, unix(t.Time), t.Signal, t.Price, t.Quantity, t.Commission}
}

// EquityArgs returns the InsertEquityPointSQL arguments for p.
func EquityArgs(p EquityPoint) []any {
	return []any{p.RunID, p.Seq, unix(p.Time), p.Price, p.Cash, p.PositionValue, p.PortfolioValue, p.PositionQuantity, p.UnrealizedPnL}
}

// CreateRun inserts a run row.
func (d *Database) CreateRun(ctx context.Context, r Run) error {
	if _, err := d.DB.ExecContext(ctx, InsertRunSQL, RunArgs(r)...); err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// DeleteRun removes a run with its trades and equity curve.
func (d *Database) DeleteRun(ctx context.Context, id string) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM backtest_trades WHERE run_id = ?`,
		`DELETE FROM equity_points WHERE run_id = ?`,
		`DELETE FROM backtest_runs WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete run %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// UpsertPriceBars stores bars in one transaction.
func (d *Database) UpsertPriceBars(ctx context.Context, bars []PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, UpsertPriceBarSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Symbol, unix(b.Time), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("upsert bar %s %s: %w", b.Symbol, b.Time.Format(time.DateOnly), err)
		}
	}
	return tx.Commit()
}

// RecordPriceFetch marks [start, end) as fully loaded for symbol.
func (d *Database) RecordPriceFetch(ctx context.Context, symbol string, start, end time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO price_fetches (symbol, start_ts, end_ts, fetched_at)
		VALUES (?, ?, ?, ?)
	`, symbol, unix(start), unix(end), time.Now().Unix())
	return err
}

// unix stores the zero time as 0 so open-ended ranges round-trip.
func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}
