package market

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrUnorderedSeries is returned when bar timestamps are not strictly increasing.
var ErrUnorderedSeries = errors.New("bar timestamps not strictly increasing")

// Bar is a single daily OHLCV candle.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Closes extracts the closing prices in order.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// ValidateSeries checks that timestamps are strictly increasing.
func ValidateSeries(bars []Bar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return fmt.Errorf("%w: bar %d (%s) not after bar %d (%s)", ErrUnorderedSeries,
				i, bars[i].Time.Format(time.RFC3339), i-1, bars[i-1].Time.Format(time.RFC3339))
		}
	}
	return nil
}

// Tradable reports whether the bar has a finite, positive close.
func (b Bar) Tradable() bool {
	return b.Close > 0 && !math.IsInf(b.Close, 1)
}

// DropUntradable returns the bars with a usable close, in order. Missing
// closes are stored as NaN by the sources.
func DropUntradable(bars []Bar) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if b.Tradable() {
			out = append(out, b)
		}
	}
	return out
}

// Normalize drops untradable bars, sorts by time and drops duplicate
// timestamps, keeping the last occurrence. Sources use it before handing bars
// to the engine.
func Normalize(bars []Bar) []Bar {
	if len(bars) == 0 {
		return bars
	}
	sorted := DropUntradable(bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	out := sorted[:0]
	for _, b := range sorted {
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

// InRange keeps bars with start <= Time < end. A zero end means unbounded.
func InRange(bars []Bar, start, end time.Time) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if !start.IsZero() && b.Time.Before(start) {
			continue
		}
		if !end.IsZero() && !b.Time.Before(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}
