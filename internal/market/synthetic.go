package market

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"
)

// Synthetic generates a deterministic geometric random walk of daily bars.
// The same seed and date range always produce the same series.
type Synthetic struct {
	Seed       int64
	StartPrice float64
	Drift      float64 // mean daily return
	Volatility float64 // stdev of daily return
	Weekdays   bool    // skip Saturdays and Sundays
}

// SeedFor derives a stable seed from a symbol so every symbol gets its own path.
func SeedFor(symbol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return int64(h.Sum64() & math.MaxInt64)
}

// Generate returns one bar per day in [start, end).
func (s Synthetic) Generate(start, end time.Time) []Bar {
	price := s.StartPrice
	if price <= 0 {
		price = 100.0
	}
	vol := s.Volatility
	if vol <= 0 {
		vol = 0.02
	}
	rng := rand.New(rand.NewSource(s.Seed))

	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	var bars []Bar
	for ; day.Before(end); day = day.AddDate(0, 0, 1) {
		if s.Weekdays && (day.Weekday() == time.Saturday || day.Weekday() == time.Sunday) {
			continue
		}
		open := price
		ret := s.Drift + vol*rng.NormFloat64()
		price = math.Max(open*(1+ret), 0.01)
		wick := math.Abs(rng.NormFloat64()) * vol / 2
		bars = append(bars, Bar{
			Time:   day,
			Open:   open,
			High:   math.Max(open, price) * (1 + wick),
			Low:    math.Min(open, price) * (1 - wick),
			Close:  price,
			Volume: math.Round(1_000_000 * (1 + rng.Float64())),
		})
	}
	return bars
}

// FromCloses builds consecutive daily bars from a close series. Open, High
// and Low are set to the close.
func FromCloses(start time.Time, closes []float64) []Bar {
	bars := make([]Bar, len(closes))
	for i, c := range closes {
		bars[i] = Bar{
			Time:  start.AddDate(0, 0, i),
			Open:  c,
			High:  c,
			Low:   c,
			Close: c,
		}
	}
	return bars
}
