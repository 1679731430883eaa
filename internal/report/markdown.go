// Package report renders backtest results for humans and spreadsheets.
package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"backtest-core/internal/backtest"
	"backtest-core/internal/performance"
	"backtest-core/internal/strategy"
	"backtest-core/pkg/i18n"
)

// DefaultRecentSignals is how many BUY/SELL explanations Markdown lists.
const DefaultRecentSignals = 10

// Markdown renders the performance report of res in lang. recent limits the
// signal section to the last n BUY/SELL bars; n <= 0 uses DefaultRecentSignals.
func Markdown(res *backtest.Result, lang i18n.Language, recent int) string {
	if recent <= 0 {
		recent = DefaultRecentSignals
	}
	m := i18n.For(lang)
	cfg := res.Config
	var b strings.Builder

	fmt.Fprintf(&b, "# "+m.ReportTitle+"\n\n", cfg.Symbol)

	section(&b, m.SectionOverview)
	table(&b, [][2]string{
		{m.LabelSymbol, cfg.Symbol},
		{m.LabelPeriod, period(res)},
		{m.LabelParameters, fmt.Sprintf("%d / %d / %d", cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)},
		{m.LabelInitialCapital, money(cfg.InitialCapital)},
		{m.LabelFinalValue, money(res.FinalValue)},
	})

	section(&b, m.SectionReturns)
	table(&b, [][2]string{
		{m.LabelTotalReturn, pct(res.TotalReturn)},
		{m.LabelAnnualReturn, pct(res.AnnualizedReturn)},
		{m.LabelSharpe, ratio(res.SharpeRatio)},
		{m.LabelSortino, ratio(res.Risk.Sortino)},
		{m.LabelCalmar, ratio(res.Risk.Calmar)},
	})

	section(&b, m.SectionRisk)
	risk := [][2]string{
		{m.LabelMaxDrawdown, pct(res.MaxDrawdown)},
		{m.LabelVolatility, pct(res.Risk.Volatility)},
		{m.LabelVaR, pct(res.Risk.VaR95)},
		{m.LabelCVaR, pct(res.Risk.CVaR95)},
	}
	if res.Risk.HasBenchmark {
		risk = append(risk,
			[2]string{m.LabelBeta, ratio(res.Risk.Beta)},
			[2]string{m.LabelAlpha, pct(res.Risk.Alpha)},
			[2]string{m.LabelInfoRatio, ratio(res.Risk.InformationRatio)},
		)
	} else {
		risk = append(risk, [2]string{m.LabelBeta, m.NoBenchmark})
	}
	table(&b, risk)

	section(&b, m.SectionTrades)
	if res.TotalTrades == 0 {
		b.WriteString(m.NoTrades + "\n\n")
	} else {
		table(&b, [][2]string{
			{m.LabelTotalTrades, fmt.Sprint(res.TotalTrades)},
			{m.LabelWinningTrades, fmt.Sprint(res.WinningTrades)},
			{m.LabelLosingTrades, fmt.Sprint(res.LosingTrades)},
			{m.LabelWinRate, pct(res.WinRate)},
			{m.LabelAvgWin, money(res.AvgWin)},
			{m.LabelAvgLoss, money(res.AvgLoss)},
			{m.LabelProfitFactor, ratio(res.ProfitFactor)},
		})
	}

	if months := performance.MonthlyReturns(res.DailyReturns); len(months) > 0 {
		section(&b, m.SectionMonthly)
		fmt.Fprintf(&b, "| %s | %s |\n|---|---:|\n", m.LabelMonth, m.LabelReturn)
		for _, mr := range months {
			fmt.Fprintf(&b, "| %s | %s |\n", mr.Month.Format("2006-01"), pct(mr.Return))
		}
		b.WriteString("\n")
	}

	if rows := recentSignals(res.Signals, recent); len(rows) > 0 {
		section(&b, m.SectionSignals)
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n|---|---|---:|---|\n", m.LabelDate, m.LabelSignal, m.LabelPrice, m.LabelExplanation)
		for _, r := range rows {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", r.Time.Format(time.DateOnly), r.Signal, money(r.Close), r.Explain(lang))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func section(b *strings.Builder, title string) {
	fmt.Fprintf(b, "## %s\n\n", title)
}

func table(b *strings.Builder, rows [][2]string) {
	b.WriteString("| | |\n|---|---:|\n")
	for _, r := range rows {
		fmt.Fprintf(b, "| %s | %s |\n", r[0], r[1])
	}
	b.WriteString("\n")
}

func period(res *backtest.Result) string {
	start, end := res.Config.Start, res.Config.End
	if n := len(res.EquityCurve); n > 0 {
		if start.IsZero() {
			start = res.EquityCurve[0].Time
		}
		if end.IsZero() {
			end = res.EquityCurve[n-1].Time
		}
	}
	return start.Format(time.DateOnly) + " - " + end.Format(time.DateOnly)
}

func recentSignals(rows []strategy.Row, n int) []strategy.Row {
	var out []strategy.Row
	for i := len(rows) - 1; i >= 0 && len(out) < n; i-- {
		if rows[i].Signal != strategy.Hold {
			out = append(out, rows[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func money(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ratio(v)
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}

func pct(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ratio(v)
	}
	return decimal.NewFromFloat(v * 100).StringFixed(2) + "%"
}

func ratio(v float64) string {
	switch {
	case math.IsNaN(v):
		return "n/a"
	case math.IsInf(v, 1):
		return "∞"
	case math.IsInf(v, -1):
		return "-∞"
	}
	return fmt.Sprintf("%.2f", v)
}
