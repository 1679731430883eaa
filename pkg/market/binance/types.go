package binance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kline represents a single candlestick with the Binance fields used here.
type Kline struct {
	Symbol         string
	OpenTime       time.Time       // 0: Open time
	Open           decimal.Decimal // 1: Open price
	High           decimal.Decimal // 2: High price
	Low            decimal.Decimal // 3: Low price
	Close          decimal.Decimal // 4: Close price
	Volume         decimal.Decimal // 5: Base asset volume
	CloseTime      time.Time       // 6: Close time
	QuoteVolume    decimal.Decimal // 7: Quote asset volume
	NumberOfTrades int64           // 8: Number of trades
}

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance %s status %d: %s", e.Path, e.Status, e.Body)
}

// RateLimited reports whether Binance rejected the request for exceeding limits.
func (e *APIError) RateLimited() bool {
	return e.Status == 429 || e.Status == 418
}
