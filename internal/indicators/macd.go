package indicators

// MACDSeries holds the three MACD outputs aligned with the input closes.
type MACDSeries struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the MACD line (fast EMA - slow EMA), its signal line and the
// histogram. MACD is defined from index slow-1 and the signal line from
// index slow+signal-2; earlier values are NaN.
func MACD(closes []float64, fast, slow, signal int) MACDSeries {
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig := EMA(line, signal)

	hist := make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - sig[i]
	}
	return MACDSeries{MACD: line, Signal: sig, Histogram: hist}
}

// Len returns the number of rows.
func (m MACDSeries) Len() int { return len(m.MACD) }
