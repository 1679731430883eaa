// Package performance holds stateless return and risk statistics over daily
// series. Sample statistics use n-1 degrees of freedom and annualization
// assumes 252 trading days.
package performance

import (
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
)

const (
	TradingDays     = 252
	DefaultRiskFree = 0.02
	DefaultVaRLevel = 0.05
)

var sqrtTradingDays = math.Sqrt(TradingDays)

// Returns is the percentage change between consecutive values. The result is
// one element shorter than the input.
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return []float64{}
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = values[i]/values[i-1] - 1
	}
	return out
}

// ReturnsSeries is Returns keeping the timestamp of the later observation.
func ReturnsSeries(obs []Observation) []Observation {
	if len(obs) < 2 {
		return []Observation{}
	}
	out := make([]Observation, len(obs)-1)
	for i := 1; i < len(obs); i++ {
		out[i-1] = Observation{Time: obs[i].Time, Value: obs[i].Value/obs[i-1].Value - 1}
	}
	return out
}

func CumulativeReturns(returns []float64) []float64 {
	out := make([]float64, len(returns))
	acc := 1.0
	for i, r := range returns {
		acc *= 1 + r
		out[i] = acc - 1
	}
	return out
}

func TotalReturn(start, end float64) float64 {
	if start == 0 {
		return 0
	}
	return (end - start) / start
}

// AnnualizedReturn compounds total over days calendar days. For days <= 0 the
// total is returned unchanged.
func AnnualizedReturn(total float64, days int) float64 {
	years := float64(days) / 365.25
	if years <= 0 {
		return total
	}
	return math.Pow(1+total, 1/years) - 1
}

func Volatility(returns []float64, annualize bool) float64 {
	sd, ok := sampleStdDev(returns)
	if !ok {
		return 0
	}
	if annualize {
		sd *= sqrtTradingDays
	}
	return sd
}

// SharpeRatio is (annual mean - rf) / annual stdev, or 0 when the stdev is
// zero or undefined.
func SharpeRatio(returns []float64, rf float64) float64 {
	sd, ok := sampleStdDev(returns)
	if !ok || sd == 0 {
		return 0
	}
	mean, _ := stats.Mean(returns)
	return (mean*TradingDays - rf) / (sd * sqrtTradingDays)
}

// MaxDrawdown is the largest peak-to-trough decline as a positive fraction.
func MaxDrawdown(values []float64) float64 {
	peak := math.Inf(-1)
	worst := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}

func CalmarRatio(annualized, maxDrawdown float64) float64 {
	if maxDrawdown == 0 {
		if annualized > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return annualized / maxDrawdown
}

// SortinoRatio divides the annual excess return by the annualized stdev of the
// negative returns. With no negative returns it is +Inf for a positive excess
// and 0 otherwise.
func SortinoRatio(returns []float64, rf float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean, _ := stats.Mean(returns)
	excess := mean*TradingDays - rf

	downside := make([]float64, 0, len(returns))
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		if excess > 0 {
			return math.Inf(1)
		}
		return 0
	}
	sd, ok := sampleStdDev(downside)
	if !ok || sd == 0 {
		return 0
	}
	return excess / (sd * sqrtTradingDays)
}

// VaR is the empirical quantile of returns at level conf, linearly
// interpolated between order statistics.
func VaR(returns []float64, conf float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	pos := conf * float64(len(sorted)-1)
	if pos <= 0 {
		return sorted[0]
	}
	if pos >= float64(len(sorted)-1) {
		return sorted[len(sorted)-1]
	}
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// CVaR is the mean of the returns at or below VaR.
func CVaR(returns []float64, conf float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	v := VaR(returns, conf)
	tail := make([]float64, 0, len(returns))
	for _, r := range returns {
		if r <= v {
			tail = append(tail, r)
		}
	}
	mean, err := stats.Mean(tail)
	if err != nil {
		return 0
	}
	return mean
}

// Beta is cov(strategy, market) / var(market) over the dates both series share.
func Beta(strategy, market []Observation) float64 {
	s, m := align(strategy, market)
	if len(s) < 2 {
		return 0
	}
	variance, err := stats.SampleVariance(m)
	if err != nil || variance == 0 || math.IsNaN(variance) {
		return 0
	}
	cov, err := stats.Covariance(s, m)
	if err != nil {
		return 0
	}
	return cov / variance
}

// Alpha is the CAPM excess of the strategy's annual mean over what beta to the
// market predicts. Each side's mean uses its full series.
func Alpha(strategy, market []Observation, rf float64) float64 {
	if len(strategy) == 0 || len(market) == 0 {
		return 0
	}
	beta := Beta(strategy, market)
	sMean, _ := stats.Mean(Values(strategy))
	mMean, _ := stats.Mean(Values(market))
	return sMean*TradingDays - (rf + beta*(mMean*TradingDays-rf))
}

// InformationRatio is the annualized mean excess over the benchmark divided
// by the annualized tracking error.
func InformationRatio(strategy, benchmark []Observation) float64 {
	s, b := align(strategy, benchmark)
	if len(s) == 0 {
		return 0
	}
	excess := make([]float64, len(s))
	for i := range s {
		excess[i] = s[i] - b[i]
	}
	sd, ok := sampleStdDev(excess)
	if !ok || sd == 0 {
		return 0
	}
	mean, _ := stats.Mean(excess)
	return (mean * TradingDays) / (sd * sqrtTradingDays)
}

// MonthlyReturn is the compounded return of one calendar month.
type MonthlyReturn struct {
	Month  time.Time `json:"month"` // first day of the month, UTC
	Return float64   `json:"return"`
}

// MonthlyReturns compounds daily returns per calendar month, in order.
func MonthlyReturns(returns []Observation) []MonthlyReturn {
	out := make([]MonthlyReturn, 0)
	for _, r := range returns {
		t := r.Time.UTC()
		month := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		if n := len(out); n == 0 || !out[n-1].Month.Equal(month) {
			out = append(out, MonthlyReturn{Month: month})
		}
		last := &out[len(out)-1]
		last.Return = (1+last.Return)*(1+r.Value) - 1
	}
	return out
}

// Report bundles every statistic computed for one equity curve.
type Report struct {
	TotalReturn      float64
	AnnualizedReturn float64
	Volatility       float64
	SharpeRatio      float64
	MaxDrawdown      float64
	CalmarRatio      float64
	SortinoRatio     float64
	VaR95            float64
	CVaR95           float64

	HasBenchmark     bool
	Beta             float64
	Alpha            float64
	InformationRatio float64
}

// All computes the full report. Days come from the curve's first and last
// timestamps. Relative metrics are filled only when market is non-empty.
func All(curve, returns, market []Observation, rf float64) Report {
	if len(curve) == 0 || len(returns) == 0 {
		return Report{}
	}
	values := Values(curve)
	r := Values(returns)
	days := int(curve[len(curve)-1].Time.Sub(curve[0].Time).Hours() / 24)

	rep := Report{
		TotalReturn:  TotalReturn(values[0], values[len(values)-1]),
		Volatility:   Volatility(r, true),
		SharpeRatio:  SharpeRatio(r, rf),
		MaxDrawdown:  MaxDrawdown(values),
		SortinoRatio: SortinoRatio(r, rf),
		VaR95:        VaR(r, DefaultVaRLevel),
		CVaR95:       CVaR(r, DefaultVaRLevel),
	}
	rep.AnnualizedReturn = AnnualizedReturn(rep.TotalReturn, days)
	rep.CalmarRatio = CalmarRatio(rep.AnnualizedReturn, rep.MaxDrawdown)

	if len(market) > 0 {
		rep.HasBenchmark = true
		rep.Beta = Beta(returns, market)
		rep.Alpha = Alpha(returns, market, rf)
		rep.InformationRatio = InformationRatio(returns, market)
	}
	return rep
}

// sampleStdDev reports false when the sample stdev is undefined.
func sampleStdDev(values []float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	sd, err := stats.StandardDeviationSample(values)
	if err != nil || math.IsNaN(sd) || math.IsInf(sd, 0) {
		return 0, false
	}
	return sd, true
}
