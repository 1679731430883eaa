package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"backtest-core/internal/backtest"
)

// File names written by WriteCSV.
const (
	EquityFile  = "equity_curve.csv"
	TradesFile  = "trades.csv"
	SignalsFile = "signals.csv"
)

// WriteCSV writes the equity curve, the trade ledger and the signal rows of
// res into dir, creating it if needed.
func WriteCSV(dir string, res *backtest.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	equity := [][]string{{"date", "price", "cash", "position_value", "portfolio_value", "position_quantity", "unrealized_pnl"}}
	for _, p := range res.EquityCurve {
		equity = append(equity, []string{
			p.Time.Format(time.DateOnly), num(p.Price), num(p.Cash), num(p.PositionValue),
			num(p.PortfolioValue), strconv.Itoa(p.PositionQuantity), num(p.UnrealizedPnL),
		})
	}

	trades := [][]string{{"date", "signal", "price", "quantity", "commission", "total_value"}}
	for _, t := range res.Trades {
		trades = append(trades, []string{
			t.Time.Format(time.DateOnly), t.Signal.String(), num(t.Price),
			strconv.Itoa(t.Quantity), num(t.Commission), num(t.TotalValue()),
		})
	}

	signals := [][]string{{"date", "close", "macd", "signal_line", "histogram", "cross", "signal", "strength"}}
	for _, r := range res.Signals {
		signals = append(signals, []string{
			r.Time.Format(time.DateOnly), num(r.Close), num(r.MACD), num(r.SignalLine),
			num(r.Histogram), strconv.Itoa(r.Cross), r.Signal.String(), num(r.Strength),
		})
	}

	for name, records := range map[string][][]string{EquityFile: equity, TradesFile: trades, SignalsFile: signals} {
		if err := writeFile(filepath.Join(dir, name), records); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// num writes NaN warm-up values as empty cells.
func num(v float64) string {
	if v != v {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
