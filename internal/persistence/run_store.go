package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"backtest-core/internal/backtest"
	"backtest-core/internal/strategy"
	"backtest-core/pkg/db"
)

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = db.ErrNotFound

// StoredRun is a persisted run header with its summary.
type StoredRun struct {
	ID        string           `json:"id"`
	SweepID   string           `json:"sweep_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Summary   backtest.Summary `json:"summary"`
}

// RunStore persists backtest results to sqlite. A run header, its trades and
// its equity curve are committed in one transaction.
type RunStore struct {
	db     *db.Database
	q      *db.RunQueries
	writer *BatchWriter
	log    *slog.Logger
}

// NewRunStore creates a store on an already migrated database.
func NewRunStore(database *db.Database, log *slog.Logger) *RunStore {
	if log == nil {
		log = slog.Default()
	}
	return &RunStore{
		db:     database,
		q:      database.Queries(),
		writer: NewBatchWriter(database.DB, log),
		log:    log,
	}
}

// Save stores res under id. Either the whole run is committed or nothing is.
func (s *RunStore) Save(ctx context.Context, id, sweepID string, res *backtest.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sum := res.Summary()
	payload, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	cfg := res.Config
	batch := NewBatch(1 + len(res.Trades) + len(res.EquityCurve))
	batch.Add("backtest_runs", db.InsertRunSQL, db.RunArgs(db.Run{
		ID:          id,
		SweepID:     sweepID,
		Symbol:      cfg.Symbol,
		Benchmark:   cfg.Benchmark,
		Start:       cfg.Start,
		End:         cfg.End,
		MACDFast:    cfg.MACDFast,
		MACDSlow:    cfg.MACDSlow,
		MACDSignal:  cfg.MACDSignal,
		TotalReturn: res.TotalReturn,
		SharpeRatio: res.SharpeRatio,
		MaxDrawdown: res.MaxDrawdown,
		TotalTrades: res.TotalTrades,
		FinalValue:  res.FinalValue,
		Summary:     string(payload),
	})...)
	for i, t := range res.Trades {
		row := db.RunTrade{RunID: id, Seq: i, Time: t.Time, Signal: t.Signal.String(), Price: t.Price, Quantity: t.Quantity, Commission: t.Commission}
		batch.Add("backtest_trades", db.InsertRunTradeSQL, db.TradeArgs(row)...)
	}
	for i, p := range res.EquityCurve {
		batch.Add("equity_points", db.InsertEquityPointSQL, db.EquityArgs(db.EquityPoint{
			RunID:            id,
			Seq:              i,
			Time:             p.Time,
			Price:            p.Price,
			Cash:             p.Cash,
			PositionValue:    p.PositionValue,
			PortfolioValue:   p.PortfolioValue,
			PositionQuantity: p.PositionQuantity,
			UnrealizedPnL:    p.UnrealizedPnL,
		})...)
	}
	if err := s.writer.Commit(ctx, batch); err != nil {
		return fmt.Errorf("save run %s: %w", id, err)
	}
	s.log.Debug("run saved", "run_id", id, "trades", len(res.Trades), "points", len(res.EquityCurve))
	return nil
}

// Get returns the stored header and summary of a run.
func (s *RunStore) Get(ctx context.Context, id string) (*StoredRun, error) {
	r, err := s.q.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return toStored(*r)
}

// List returns runs newest first.
func (s *RunStore) List(ctx context.Context, f db.RunFilter) ([]StoredRun, error) {
	rows, err := s.q.ListRuns(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]StoredRun, 0, len(rows))
	for _, r := range rows {
		sr, err := toStored(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *sr)
	}
	return out, nil
}

// Trades returns the fills of a run.
func (s *RunStore) Trades(ctx context.Context, id string) ([]backtest.Trade, error) {
	rows, err := s.q.ListRunTrades(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]backtest.Trade, 0, len(rows))
	for _, r := range rows {
		sig, err := strategy.ParseSignalType(r.Signal)
		if err != nil {
			return nil, fmt.Errorf("run %s trade %d: %w", id, r.Seq, err)
		}
		out = append(out, backtest.Trade{Time: r.Time, Signal: sig, Price: r.Price, Quantity: r.Quantity, Commission: r.Commission})
	}
	return out, nil
}

// Equity returns the equity curve of a run.
func (s *RunStore) Equity(ctx context.Context, id string) ([]backtest.EquityPoint, error) {
	rows, err := s.q.ListEquityPoints(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]backtest.EquityPoint, len(rows))
	for i, r := range rows {
		out[i] = backtest.EquityPoint{
			Time:             r.Time,
			Price:            r.Price,
			Cash:             r.Cash,
			PositionValue:    r.PositionValue,
			PortfolioValue:   r.PortfolioValue,
			PositionQuantity: r.PositionQuantity,
			UnrealizedPnL:    r.UnrealizedPnL,
		}
	}
	return out, nil
}

// Delete removes a run and its children.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	if _, err := s.q.GetRun(ctx, id); err != nil {
		return err
	}
	return s.db.DeleteRun(ctx, id)
}

// WriterMetrics exposes the batch writer statistics.
func (s *RunStore) WriterMetrics() BatchWriterMetrics {
	return s.writer.GetMetrics()
}

func toStored(r db.Run) (*StoredRun, error) {
	var sum backtest.Summary
	if err := json.Unmarshal([]byte(r.Summary), &sum); err != nil {
		return nil, fmt.Errorf("decode summary of %s: %w", r.ID, err)
	}
	return &StoredRun{ID: r.ID, SweepID: r.SweepID, CreatedAt: r.CreatedAt, Summary: sum}, nil
}
