package persistence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"backtest-core/internal/backtest"
	"backtest-core/internal/market"
	"backtest-core/internal/strategy"
	"backtest-core/pkg/db"
)

func newTestStore(t *testing.T) *RunStore {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	store := NewRunStore(database, nil)
	t.Cleanup(func() {
		database.Close()
	})
	return store
}

func sampleResult() *backtest.Result {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := backtest.DefaultConfig("AAPL", start, start.AddDate(0, 0, 3))
	bars := market.FromCloses(start, []float64{10, 11, 12})
	trades := []backtest.Trade{
		{Time: bars[0].Time, Signal: strategy.Buy, Price: 10, Quantity: 100, Commission: 1},
		{Time: bars[2].Time, Signal: strategy.Sell, Price: 12, Quantity: 100, Commission: 1.2},
	}
	curve := []backtest.EquityPoint{
		{Time: bars[0].Time, Price: 10, Cash: 98999, PositionValue: 1000, PortfolioValue: 99999, PositionQuantity: 100},
		{Time: bars[1].Time, Price: 11, Cash: 98999, PositionValue: 1100, PortfolioValue: 100099, PositionQuantity: 100, UnrealizedPnL: 100},
		{Time: bars[2].Time, Price: 12, Cash: 100197.8, PortfolioValue: 100197.8},
	}
	rows := make([]strategy.Row, len(bars))
	for i, b := range bars {
		rows[i] = strategy.Row{Time: b.Time, Close: b.Close, MACD: math.NaN(), SignalLine: math.NaN(), Histogram: math.NaN()}
	}
	return backtest.Assemble(cfg, bars, rows, trades, curve, nil)
}

func TestRunStoreSaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	res := sampleResult()

	if err := store.Save(ctx, "run-1", "sweep-x", res); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SweepID != "sweep-x" || got.Summary.Symbol != "AAPL" || got.Summary.TotalTrades != 2 {
		t.Fatalf("unexpected stored run %+v", got)
	}
	// no losing pairs: profit factor is +Inf and must survive the JSON column
	if !math.IsInf(float64(got.Summary.ProfitFactor), 1) {
		t.Fatalf("profit factor = %v, want +Inf", got.Summary.ProfitFactor)
	}

	trades, err := store.Trades(ctx, "run-1")
	if err != nil {
		t.Fatalf("Trades: %v", err)
	}
	if len(trades) != 2 || trades[0].Signal != strategy.Buy || trades[1].Signal != strategy.Sell {
		t.Fatalf("unexpected trades %+v", trades)
	}
	if !trades[1].Time.Equal(res.Trades[1].Time) || trades[1].Commission != 1.2 {
		t.Fatalf("trade mismatch: %+v vs %+v", trades[1], res.Trades[1])
	}

	curve, err := store.Equity(ctx, "run-1")
	if err != nil {
		t.Fatalf("Equity: %v", err)
	}
	if len(curve) != len(res.EquityCurve) || curve[2].PortfolioValue != 100197.8 {
		t.Fatalf("unexpected curve %+v", curve)
	}

	m := store.WriterMetrics()
	// header, two trades and three equity points in one batch
	if m.TotalWrites != 6 || m.TotalBatches != 1 || m.LastBatchSize != 6 || m.TotalErrors != 0 {
		t.Fatalf("unexpected writer metrics %+v", m)
	}
}

func TestRunStoreListAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	res := sampleResult()

	for _, id := range []string{"a", "b"} {
		if err := store.Save(ctx, id, "", res); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	runs, err := store.List(ctx, db.RunFilter{Symbol: "AAPL"})
	if err != nil || len(runs) != 2 {
		t.Fatalf("List = %d runs (%v), want 2", len(runs), err)
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should report ErrNotFound, got %v", err)
	}
}

func TestRunStoreSaveCancelled(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Save(ctx, "x", "", sampleResult()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunStoreConcurrentSavesAreAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.db.DB.Exec(`
		CREATE TRIGGER reject_bad_equity BEFORE INSERT ON equity_points
		WHEN NEW.run_id = 'bad' AND NEW.seq = 2
		BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	ids := []string{"bad"}
	for i := 0; i < 8; i++ {
		ids = append(ids, fmt.Sprintf("good-%d", i))
	}
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = store.Save(ctx, id, "sweep", sampleResult())
		}(i, id)
	}
	wg.Wait()

	if errs[0] == nil {
		t.Fatalf("expected the rejected run to fail")
	}
	if _, err := store.Get(ctx, "bad"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed run left a header behind: %v", err)
	}
	if trades, _ := store.Trades(ctx, "bad"); len(trades) != 0 {
		t.Fatalf("failed run left %d trades behind", len(trades))
	}
	if curve, _ := store.Equity(ctx, "bad"); len(curve) != 0 {
		t.Fatalf("failed run left %d equity points behind", len(curve))
	}

	for i, id := range ids[1:] {
		if errs[i+1] != nil {
			t.Fatalf("Save %s: %v", id, errs[i+1])
		}
		trades, err := store.Trades(ctx, id)
		if err != nil || len(trades) != 2 {
			t.Fatalf("%s trades = %d (%v), want 2", id, len(trades), err)
		}
		curve, err := store.Equity(ctx, id)
		if err != nil || len(curve) != 3 {
			t.Fatalf("%s equity points = %d (%v), want 3", id, len(curve), err)
		}
	}

	m := store.WriterMetrics()
	if m.TotalBatches != uint64(len(ids)) || m.TotalErrors != 1 || m.TotalWrites != uint64(6*(len(ids)-1)) {
		t.Fatalf("unexpected writer metrics %+v", m)
	}
}
