// Package data provides the price sources behind backtest.PriceSource.
package data

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"backtest-core/internal/backtest"
	"backtest-core/internal/market"
	"backtest-core/pkg/config"
	"backtest-core/pkg/db"
	"backtest-core/pkg/market/binance"
)

// ObserveFunc receives the duration and outcome of every fetch.
type ObserveFunc func(source string, d time.Duration, err error)

// Instrumented reports fetch timings of a source.
type Instrumented struct {
	name    string
	inner   backtest.PriceSource
	observe ObserveFunc
}

// Instrument wraps src so every History call is reported to observe.
func Instrument(name string, src backtest.PriceSource, observe ObserveFunc) *Instrumented {
	return &Instrumented{name: name, inner: src, observe: observe}
}

// History delegates to the wrapped source.
func (s *Instrumented) History(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	began := time.Now()
	bars, err := s.inner.History(ctx, symbol, start, end)
	if s.observe != nil {
		s.observe(s.name, time.Since(began), err)
	}
	return bars, err
}

// Name returns the source name.
func (s *Instrumented) Name() string { return s.name }

// Close closes the wrapped source if it holds resources.
func (s *Instrumented) Close() error {
	if c, ok := s.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// New builds the source selected by cfg.DataSource. When cfg.PriceCache is
// set the source is wrapped in a CachedSource backed by database.
func New(ctx context.Context, cfg *config.Config, database *db.Database, observe ObserveFunc, log *slog.Logger) (*Instrumented, error) {
	if log == nil {
		log = slog.Default()
	}
	var (
		src    backtest.PriceSource
		closer io.Closer
	)
	switch cfg.DataSource {
	case config.SourceBinance:
		opts := []binance.Option{binance.WithLogger(log)}
		if cfg.BinanceBaseURL != "" {
			opts = append(opts, binance.WithBaseURL(cfg.BinanceBaseURL))
		}
		src = NewBinanceSource(binance.NewClient(cfg.BinanceTestnet, opts...))
	case config.SourceCSV:
		src = CSVSource{Dir: cfg.CSVDir}
	case config.SourcePostgres:
		pg, err := NewPostgresSource(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		src, closer = pg, pg
	case config.SourceSynthetic:
		src = SyntheticSource{Drift: 0.0003, Volatility: 0.02, Weekdays: true}
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.DataSource)
	}

	if cfg.PriceCache {
		src = &closingCache{CachedSource: NewCachedSource(src, database, log), closer: closer}
	}
	log.Info("price source ready", "source", cfg.DataSource, "cache", cfg.PriceCache)
	return Instrument(cfg.DataSource, src, observe), nil
}

// closingCache keeps the inner source closable through the cache wrapper.
type closingCache struct {
	*CachedSource
	closer io.Closer
}

func (c *closingCache) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
