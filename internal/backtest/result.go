package backtest

import (
	"math"

	"backtest-core/internal/market"
	"backtest-core/internal/performance"
	"backtest-core/internal/strategy"
)

// Assemble derives the result statistics from a finished simulation.
// benchmark holds the daily returns of cfg.Benchmark and may be nil.
func Assemble(cfg Config, bars []market.Bar, rows []strategy.Row, trades []Trade, curve []EquityPoint, benchmark []performance.Observation) *Result {
	res := &Result{
		Config:      cfg,
		Trades:      trades,
		EquityCurve: curve,
		Signals:     rows,
		TotalTrades: len(trades),
		FinalValue:  cfg.InitialCapital,
	}

	portfolio := res.Portfolio()
	res.DailyReturns = performance.ReturnsSeries(portfolio)
	if len(curve) > 0 {
		res.FinalValue = curve[len(curve)-1].PortfolioValue
	}

	values := performance.Values(portfolio)
	returns := performance.Values(res.DailyReturns)

	res.TotalReturn = performance.TotalReturn(cfg.InitialCapital, res.FinalValue)
	res.AnnualizedReturn = performance.AnnualizedReturn(res.TotalReturn, periodDays(cfg, bars))
	res.MaxDrawdown = performance.MaxDrawdown(values)
	res.SharpeRatio = performance.SharpeRatio(returns, cfg.RiskFreeRate)

	res.Risk = Risk{
		Volatility: performance.Volatility(returns, true),
		Sortino:    performance.SortinoRatio(returns, cfg.RiskFreeRate),
		Calmar:     performance.CalmarRatio(res.AnnualizedReturn, res.MaxDrawdown),
		VaR95:      performance.VaR(returns, performance.DefaultVaRLevel),
		CVaR95:     performance.CVaR(returns, performance.DefaultVaRLevel),
	}
	if len(benchmark) > 0 {
		res.Risk.HasBenchmark = true
		res.Risk.Beta = performance.Beta(res.DailyReturns, benchmark)
		res.Risk.Alpha = performance.Alpha(res.DailyReturns, benchmark, cfg.RiskFreeRate)
		res.Risk.InformationRatio = performance.InformationRatio(res.DailyReturns, benchmark)
	}

	stats := tradeStats(trades)
	res.WinRate = stats.winRate
	res.ProfitFactor = stats.profitFactor
	res.WinningTrades = stats.winners
	res.LosingTrades = stats.losers
	res.AvgWin = stats.avgWin
	res.AvgLoss = stats.avgLoss
	return res
}

// periodDays is the whole number of days between the configured dates, or
// between the first and last bar when either date is unset.
func periodDays(cfg Config, bars []market.Bar) int {
	start, end := cfg.Start, cfg.End
	if start.IsZero() || end.IsZero() {
		if len(bars) == 0 {
			return 0
		}
		start, end = bars[0].Time, bars[len(bars)-1].Time
	}
	return int(end.Sub(start).Hours() / 24)
}

type roundTrips struct {
	winners      int
	losers       int
	winRate      float64
	avgWin       float64
	avgLoss      float64
	profitFactor float64
}

// tradeStats pairs trades strictly by position: (0,1), (2,3), ... and counts
// a pair only when it is a BUY followed by a SELL. Partial exits and scale-ins
// can therefore be misattributed.
func tradeStats(trades []Trade) roundTrips {
	var profits []float64
	for i := 0; i+1 < len(trades); i += 2 {
		buy, sell := trades[i], trades[i+1]
		if buy.Signal != strategy.Buy || sell.Signal != strategy.Sell {
			continue
		}
		profit := (sell.Price-buy.Price)*float64(buy.Quantity) - buy.Commission - sell.Commission
		profits = append(profits, profit)
	}

	var rt roundTrips
	if len(profits) == 0 {
		return rt
	}

	var sumWin, sumLoss float64
	for _, p := range profits {
		switch {
		case p > 0:
			rt.winners++
			sumWin += p
		case p < 0:
			rt.losers++
			sumLoss += p
		}
	}
	rt.winRate = float64(rt.winners) / float64(len(profits))
	if rt.winners > 0 {
		rt.avgWin = sumWin / float64(rt.winners)
	}
	if rt.losers > 0 {
		rt.avgLoss = sumLoss / float64(rt.losers)
		rt.profitFactor = math.Abs(sumWin / sumLoss)
	} else {
		rt.profitFactor = math.Inf(1)
	}
	return rt
}
