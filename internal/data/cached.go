package data

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"backtest-core/internal/backtest"
	"backtest-core/internal/market"
	"backtest-core/pkg/cache"
	"backtest-core/pkg/db"
)

// CachedSource puts an in-memory cache and an optional sqlite cache in front
// of another source. Only non-empty fetches are cached.
type CachedSource struct {
	inner backtest.PriceSource
	mem   *cache.Sharded[[]market.Bar]
	db    *db.Database
	log   *slog.Logger
}

// NewCachedSource wraps inner. database may be nil for a memory-only cache.
func NewCachedSource(inner backtest.PriceSource, database *db.Database, log *slog.Logger) *CachedSource {
	if log == nil {
		log = slog.Default()
	}
	return &CachedSource{
		inner: inner,
		mem:   cache.NewSharded[[]market.Bar](),
		db:    database,
		log:   log.With("component", "price_cache"),
	}
}

func cacheKey(symbol string, start, end time.Time) string {
	return fmt.Sprintf("%s|%d|%d", symbol, start.Unix(), end.Unix())
}

// History serves from memory, then sqlite, then the wrapped source.
func (s *CachedSource) History(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	key := cacheKey(symbol, start, end)
	if bars, ok := s.mem.Get(key); ok {
		return clone(bars), nil
	}

	if bars, ok := s.fromDB(ctx, symbol, start, end); ok {
		s.mem.Set(key, bars)
		return clone(bars), nil
	}

	bars, err := s.inner.History(ctx, symbol, start, end)
	if err != nil || len(bars) == 0 {
		return bars, err
	}
	bars = market.Normalize(bars)
	s.toDB(ctx, symbol, start, end, bars)
	s.mem.Set(key, bars)
	return clone(bars), nil
}

// Stats reports the in-memory tier.
func (s *CachedSource) Stats() cache.Stats {
	return s.mem.Stats()
}

func (s *CachedSource) fromDB(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, bool) {
	if s.db == nil {
		return nil, false
	}
	q := s.db.Queries()
	ok, err := q.HasPriceFetch(ctx, symbol, start, end)
	if err != nil {
		s.log.Warn("price cache lookup failed", "symbol", symbol, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	rows, err := q.PriceBars(ctx, symbol, start, end)
	if err != nil || len(rows) == 0 {
		return nil, false
	}
	bars := make([]market.Bar, len(rows))
	for i, r := range rows {
		bars[i] = market.Bar{Time: r.Time, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume}
	}
	return bars, true
}

func (s *CachedSource) toDB(ctx context.Context, symbol string, start, end time.Time, bars []market.Bar) {
	if s.db == nil {
		return
	}
	rows := make([]db.PriceBar, len(bars))
	for i, b := range bars {
		rows[i] = db.PriceBar{Symbol: symbol, Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}
	if err := s.db.UpsertPriceBars(ctx, rows); err != nil {
		s.log.Warn("price cache write failed", "symbol", symbol, "error", err)
		return
	}
	if err := s.db.RecordPriceFetch(ctx, symbol, start, end); err != nil {
		s.log.Warn("price fetch record failed", "symbol", symbol, "error", err)
	}
}

func clone(bars []market.Bar) []market.Bar {
	out := make([]market.Bar, len(bars))
	copy(out, bars)
	return out
}
