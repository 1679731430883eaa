// Package backtest simulates a MACD strategy over daily bars: a ledger is
// threaded through every bar, fills are recorded, and the equity curve is
// summarized into a Result.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"backtest-core/internal/market"
	"backtest-core/internal/performance"
)

// PriceSource supplies daily bars for [start, end). Implementations return bars
// ordered by time without duplicates.
type PriceSource interface {
	History(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error)
}

// Engine runs single backtests against a price source. It holds no per-run
// state and is safe for concurrent use.
type Engine struct {
	source PriceSource
	log    *slog.Logger
}

// NewEngine creates an engine. A nil logger falls back to slog.Default.
func NewEngine(source PriceSource, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{source: source, log: log}
}

// Run validates cfg, fetches the bars, generates signals, simulates and
// assembles the result.
func (e *Engine) Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := e.log.With("symbol", cfg.Symbol, "params", cfg.Label())
	log.Info("backtest started", "start", cfg.Start.Format(time.DateOnly), "end", cfg.End.Format(time.DateOnly))

	bars, err := e.source.History(ctx, cfg.Symbol, cfg.Start, cfg.End)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDataUnavailable, cfg.Symbol, err)
	}
	if usable := market.DropUntradable(bars); len(usable) != len(bars) {
		log.Warn("dropped bars without a usable close", "dropped", len(bars)-len(usable))
		bars = usable
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s", ErrDataUnavailable, cfg.Symbol)
	}
	if err := market.ValidateSeries(bars); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Symbol, err)
	}
	log.Debug("bars loaded", "count", len(bars))

	benchmark := e.benchmarkReturns(ctx, cfg, log)

	rows := cfg.Strategy().GenerateSignals(bars)
	trades, curve := Simulate(cfg, bars, rows)
	res := Assemble(cfg, bars, rows, trades, curve, benchmark)

	log.Info("backtest finished",
		"total_return", res.TotalReturn,
		"sharpe", res.SharpeRatio,
		"trades", res.TotalTrades,
	)
	return res, nil
}

// benchmarkReturns fetches the benchmark series. Failures only drop the
// relative metrics.
func (e *Engine) benchmarkReturns(ctx context.Context, cfg Config, log *slog.Logger) []performance.Observation {
	if cfg.Benchmark == "" {
		return nil
	}
	bars, err := e.source.History(ctx, cfg.Benchmark, cfg.Start, cfg.End)
	if err == nil && len(bars) < 2 {
		err = fmt.Errorf("%d bars", len(bars))
	}
	if err == nil {
		err = market.ValidateSeries(bars)
	}
	if err != nil {
		log.Warn("benchmark unavailable", "benchmark", cfg.Benchmark, "error", err)
		return nil
	}
	closes := make([]performance.Observation, len(bars))
	for i, b := range bars {
		closes[i] = performance.Observation{Time: b.Time, Value: b.Close}
	}
	return performance.ReturnsSeries(closes)
}
