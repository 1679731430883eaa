package data

import (
	"context"
	"time"

	"backtest-core/internal/market"
)

// SyntheticSource generates a deterministic random walk per symbol. It needs
// no network and is the default for demos and tests.
type SyntheticSource struct {
	Drift      float64
	Volatility float64
	Weekdays   bool
}

// History returns generated bars in [start, end). A zero end means today and
// a zero start means one year before end.
func (s SyntheticSource) History(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if end.IsZero() {
		end = time.Now().UTC().Truncate(24 * time.Hour)
	}
	if start.IsZero() {
		start = end.AddDate(-1, 0, 0)
	}
	gen := market.Synthetic{
		Seed:       market.SeedFor(symbol),
		StartPrice: 100,
		Drift:      s.Drift,
		Volatility: s.Volatility,
		Weekdays:   s.Weekdays,
	}
	return gen.Generate(start, end), nil
}
