package indicators

import "math"

// EMA calculates an exponential moving average with smoothing 2/(period+1).
//
// The average is seeded with the first non-NaN value and is reported as NaN
// until period non-NaN observations have been seen. Leading NaNs in values
// are passed through. A non-positive period yields an all-NaN series.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 {
		return out
	}

	alpha := 2.0 / (float64(period) + 1.0)
	ema := math.NaN()
	seen := 0
	for i, v := range values {
		if math.IsNaN(v) {
			if seen > 0 && seen >= period {
				out[i] = ema
			}
			continue
		}
		if seen == 0 {
			ema = v
		} else {
			// incremental form keeps a flat series exactly flat
			ema += alpha * (v - ema)
		}
		seen++
		if seen >= period {
			out[i] = ema
		}
	}
	return out
}
