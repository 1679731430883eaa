package strategy

import (
	"fmt"
	"math"

	"backtest-core/internal/indicators"
	"backtest-core/internal/market"
	"backtest-core/pkg/i18n"
)

// MACDStrategy turns a daily close series into BUY/SELL/HOLD decisions.
// BUY is edge-triggered on a bullish cross above zero. SELL fires on a
// bearish cross or on every bar where MACD and histogram are both negative.
type MACDStrategy struct {
	Fast   int
	Slow   int
	Signal int
}

// NewMACDStrategy creates a new MACD strategy.
func NewMACDStrategy(fast, slow, signal int) MACDStrategy {
	return MACDStrategy{Fast: fast, Slow: slow, Signal: signal}
}

func (s MACDStrategy) Name() string {
	return fmt.Sprintf("MACD_%d_%d_%d", s.Fast, s.Slow, s.Signal)
}

// GenerateSignals returns one Row per bar. Bars are expected in timestamp order.
func (s MACDStrategy) GenerateSignals(bars []market.Bar) []Row {
	series := indicators.MACD(market.Closes(bars), s.Fast, s.Slow, s.Signal)

	rows := make([]Row, len(bars))
	for i, b := range bars {
		row := Row{
			Time:       b.Time,
			Close:      b.Close,
			MACD:       series.MACD[i],
			SignalLine: series.Signal[i],
			Histogram:  series.Histogram[i],
			Signal:     Hold,
		}
		if i > 0 {
			row.Cross = ClassifyCross(series.MACD[i-1], series.Signal[i-1], series.MACD[i], series.Signal[i])
		}
		row.Signal = decide(row)
		if row.Signal != Hold {
			row.Strength = math.Abs(row.Histogram)
		}
		rows[i] = row
	}
	return rows
}

// ClassifyCross compares two consecutive (macd, signal) pairs. It returns +1
// when MACD moves from at-or-below to strictly above the signal line, -1 for
// the mirror case and 0 otherwise. Any NaN input yields 0.
func ClassifyCross(prevMACD, prevSignal, macd, signal float64) int {
	switch {
	case macd > signal && prevMACD <= prevSignal:
		return 1
	case macd < signal && prevMACD >= prevSignal:
		return -1
	}
	return 0
}

func decide(r Row) SignalType {
	if r.Cross > 0 && r.MACD > 0 && r.Histogram > 0 {
		return Buy
	}
	if r.Cross < 0 || (r.MACD < 0 && r.Histogram < 0) {
		return Sell
	}
	return Hold
}

// Explain renders a one-line description of the decision in the given language.
func (r Row) Explain(lang i18n.Language) string {
	msg := i18n.For(lang)
	switch r.Signal {
	case Buy:
		return fmt.Sprintf(msg.SignalBuy, r.MACD, r.SignalLine, r.Histogram)
	case Sell:
		return fmt.Sprintf(msg.SignalSell, r.MACD, r.SignalLine, r.Histogram)
	default:
		return fmt.Sprintf(msg.SignalHold, r.MACD, r.SignalLine)
	}
}
