package strategy

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"backtest-core/internal/market"
	"backtest-core/pkg/i18n"
)

var day0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

// flat for n bars, then up by step for up bars, then down by step for down bars.
func trendCloses(flat, up, down int, step float64) []float64 {
	closes := make([]float64, 0, flat+up+down)
	price := 100.0
	for i := 0; i < flat; i++ {
		closes = append(closes, price)
	}
	for i := 0; i < up; i++ {
		price += step
		closes = append(closes, price)
	}
	for i := 0; i < down; i++ {
		price -= step
		closes = append(closes, price)
	}
	return closes
}

func TestClassifyCross(t *testing.T) {
	nan := math.NaN()
	cases := []struct {
		name               string
		prevM, prevS, m, s float64
		want               int
	}{
		{"bullish from below", -1, 0, 1, 0, 1},
		{"bullish from equal", 0, 0, 0.5, 0, 1},
		{"bearish from above", 1, 0, -1, 0, -1},
		{"bearish from equal", 0, 0, -0.5, 0, -1},
		{"stays above", 1, 0, 2, 0, 0},
		{"stays below", -1, 0, -2, 0, 0},
		{"touch is not a cross", -1, 0, 0, 0, 0},
		{"nan previous", nan, nan, 1, 0, 0},
		{"nan current", -1, 0, nan, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyCross(tc.prevM, tc.prevS, tc.m, tc.s); got != tc.want {
				t.Fatalf("ClassifyCross = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestGenerateSignalsConstantSeriesHolds(t *testing.T) {
	bars := market.FromCloses(day0, trendCloses(60, 0, 0, 0))
	rows := NewMACDStrategy(12, 26, 9).GenerateSignals(bars)
	if len(rows) != len(bars) {
		t.Fatalf("expected %d rows, got %d", len(bars), len(rows))
	}
	for i, r := range rows {
		if r.Signal != Hold || r.Strength != 0 {
			t.Fatalf("row %d: expected HOLD with zero strength, got %s %.4f", i, r.Signal, r.Strength)
		}
	}
}

func TestGenerateSignalsRiseThenFall(t *testing.T) {
	bars := market.FromCloses(day0, trendCloses(40, 30, 40, 1))
	rows := NewMACDStrategy(12, 26, 9).GenerateSignals(bars)

	if rows[0].Signal != Hold {
		t.Fatalf("first bar must be HOLD, got %s", rows[0].Signal)
	}
	// MACD and signal are exactly zero on the flat stretch, so the first up
	// bar is a bullish cross above zero.
	if rows[40].Signal != Buy {
		t.Fatalf("expected BUY on first rising bar, got %s (macd=%.6f sig=%.6f)", rows[40].Signal, rows[40].MACD, rows[40].SignalLine)
	}
	for i := 0; i < 40; i++ {
		if rows[i].Signal != Hold {
			t.Fatalf("row %d: expected HOLD before the trend, got %s", i, rows[i].Signal)
		}
	}

	buys := 0
	firstSell := -1
	consecutiveSells := false
	for i, r := range rows {
		switch r.Signal {
		case Buy:
			buys++
			if r.Cross != 1 || !(r.MACD > 0) || !(r.Histogram > 0) {
				t.Fatalf("row %d: BUY without bullish cross above zero: %+v", i, r)
			}
		case Sell:
			if firstSell < 0 {
				firstSell = i
			}
			if i > 0 && rows[i-1].Signal == Sell {
				consecutiveSells = true
			}
		}
		if r.Signal != Hold && r.Strength != math.Abs(r.Histogram) {
			t.Fatalf("row %d: strength %.6f != |hist| %.6f", i, r.Strength, math.Abs(r.Histogram))
		}
		if r.Signal == Hold && r.Strength != 0 {
			t.Fatalf("row %d: HOLD must have zero strength", i)
		}
	}
	if buys != 1 {
		t.Fatalf("expected exactly one BUY, got %d", buys)
	}
	if firstSell <= 40 {
		t.Fatalf("expected a SELL after the BUY, first sell at %d", firstSell)
	}
	if !consecutiveSells {
		t.Fatalf("expected repeated SELLs while MACD and histogram stay negative")
	}
}

func TestGenerateSignalsShortSeries(t *testing.T) {
	bars := market.FromCloses(day0, []float64{1, 2, 3, 4, 5})
	rows := NewMACDStrategy(12, 26, 9).GenerateSignals(bars)
	for i, r := range rows {
		if r.Signal != Hold || !math.IsNaN(r.MACD) {
			t.Fatalf("row %d: expected NaN HOLD row, got %+v", i, r)
		}
	}
	if len(NewMACDStrategy(12, 26, 9).GenerateSignals(nil)) != 0 {
		t.Fatalf("expected no rows for empty input")
	}
}

func TestSignalTypeText(t *testing.T) {
	payload, err := json.Marshal(map[string]SignalType{"a": Buy, "b": Sell, "c": Hold})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `{"a":"BUY","b":"SELL","c":"HOLD"}` {
		t.Fatalf("unexpected json %s", payload)
	}

	var back map[string]SignalType
	if err := json.Unmarshal(payload, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["a"] != Buy || back["b"] != Sell || back["c"] != Hold {
		t.Fatalf("unexpected round trip %+v", back)
	}
	if _, err := ParseSignalType("short"); err == nil {
		t.Fatalf("expected error for unknown signal")
	}
}

func TestRowExplain(t *testing.T) {
	r := Row{MACD: 1.5, SignalLine: 1.0, Histogram: 0.5, Signal: Buy}
	if got := r.Explain(i18n.LangEN); !strings.HasPrefix(got, "BUY:") || !strings.Contains(got, "1.5000") {
		t.Fatalf("unexpected english explanation %q", got)
	}
	if got := r.Explain(i18n.LangZH); !strings.Contains(got, "买入") {
		t.Fatalf("unexpected chinese explanation %q", got)
	}
	r.Signal = Hold
	if got := r.Explain(i18n.LangEN); !strings.HasPrefix(got, "HOLD:") {
		t.Fatalf("unexpected hold explanation %q", got)
	}
}
