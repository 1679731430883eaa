package data

import (
	"context"
	"time"

	"backtest-core/internal/market"
	"backtest-core/pkg/market/binance"
)

// BinanceSource fetches daily klines from the Binance spot REST API.
type BinanceSource struct {
	client   *binance.Client
	interval string
}

// NewBinanceSource wraps a REST client.
func NewBinanceSource(client *binance.Client) *BinanceSource {
	return &BinanceSource{client: client, interval: "1d"}
}

// History returns daily bars opening in [start, end).
func (s *BinanceSource) History(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	klines, err := s.client.KlinesRange(ctx, symbol, s.interval, start, end)
	if err != nil {
		return nil, err
	}

	bars := make([]market.Bar, 0, len(klines))
	for _, k := range klines {
		bars = append(bars, market.Bar{
			Time:   k.OpenTime,
			Open:   k.Open.InexactFloat64(),
			High:   k.High.InexactFloat64(),
			Low:    k.Low.InexactFloat64(),
			Close:  k.Close.InexactFloat64(),
			Volume: k.Volume.InexactFloat64(),
		})
	}
	return market.InRange(market.Normalize(bars), start, end), nil
}
