package backtest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Float is a float64 whose JSON form carries ±Inf and NaN as the strings
// "+Inf", "-Inf" and "NaN".
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		switch s {
		case "NaN":
			*f = Float(math.NaN())
		case "+Inf", "Inf":
			*f = Float(math.Inf(1))
		case "-Inf":
			*f = Float(math.Inf(-1))
		default:
			return fmt.Errorf("invalid float %q", s)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Summary is the flat, JSON-safe projection of a Result used by the API, the
// run store and the result publisher.
type Summary struct {
	Symbol         string    `json:"symbol"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	InitialCapital float64   `json:"initial_capital"`
	CommissionRate float64   `json:"commission_rate"`
	TradeQuantity  int       `json:"trade_quantity"`
	MACDFast       int       `json:"macd_fast"`
	MACDSlow       int       `json:"macd_slow"`
	MACDSignal     int       `json:"macd_signal"`
	RiskFreeRate   float64   `json:"risk_free_rate"`
	Benchmark      string    `json:"benchmark,omitempty"`
	Bars           int       `json:"bars"`

	FinalValue       Float `json:"final_value"`
	TotalReturn      Float `json:"total_return"`
	AnnualizedReturn Float `json:"annualized_return"`
	MaxDrawdown      Float `json:"max_drawdown"`
	SharpeRatio      Float `json:"sharpe_ratio"`
	WinRate          Float `json:"win_rate"`
	ProfitFactor     Float `json:"profit_factor"`
	TotalTrades      int   `json:"total_trades"`
	WinningTrades    int   `json:"winning_trades"`
	LosingTrades     int   `json:"losing_trades"`
	AvgWin           Float `json:"avg_win"`
	AvgLoss          Float `json:"avg_loss"`

	Volatility       Float `json:"volatility"`
	Sortino          Float `json:"sortino_ratio"`
	Calmar           Float `json:"calmar_ratio"`
	VaR95            Float `json:"var_95"`
	CVaR95           Float `json:"cvar_95"`
	HasBenchmark     bool  `json:"has_benchmark"`
	Beta             Float `json:"beta,omitempty"`
	Alpha            Float `json:"alpha,omitempty"`
	InformationRatio Float `json:"information_ratio,omitempty"`
}

// Summary projects the result.
func (r *Result) Summary() Summary {
	c := r.Config
	return Summary{
		Symbol:         c.Symbol,
		Start:          c.Start,
		End:            c.End,
		InitialCapital: c.InitialCapital,
		CommissionRate: c.CommissionRate,
		TradeQuantity:  c.TradeQuantity,
		MACDFast:       c.MACDFast,
		MACDSlow:       c.MACDSlow,
		MACDSignal:     c.MACDSignal,
		RiskFreeRate:   c.RiskFreeRate,
		Benchmark:      c.Benchmark,
		Bars:           len(r.EquityCurve),

		FinalValue:       Float(r.FinalValue),
		TotalReturn:      Float(r.TotalReturn),
		AnnualizedReturn: Float(r.AnnualizedReturn),
		MaxDrawdown:      Float(r.MaxDrawdown),
		SharpeRatio:      Float(r.SharpeRatio),
		WinRate:          Float(r.WinRate),
		ProfitFactor:     Float(r.ProfitFactor),
		TotalTrades:      r.TotalTrades,
		WinningTrades:    r.WinningTrades,
		LosingTrades:     r.LosingTrades,
		AvgWin:           Float(r.AvgWin),
		AvgLoss:          Float(r.AvgLoss),

		Volatility:       Float(r.Risk.Volatility),
		Sortino:          Float(r.Risk.Sortino),
		Calmar:           Float(r.Risk.Calmar),
		VaR95:            Float(r.Risk.VaR95),
		CVaR95:           Float(r.Risk.CVaR95),
		HasBenchmark:     r.Risk.HasBenchmark,
		Beta:             Float(r.Risk.Beta),
		Alpha:            Float(r.Risk.Alpha),
		InformationRatio: Float(r.Risk.InformationRatio),
	}
}

// Config rebuilds the run config echoed in the summary.
func (s Summary) Config() Config {
	return Config{
		Symbol:         s.Symbol,
		Start:          s.Start,
		End:            s.End,
		InitialCapital: s.InitialCapital,
		CommissionRate: s.CommissionRate,
		TradeQuantity:  s.TradeQuantity,
		MACDFast:       s.MACDFast,
		MACDSlow:       s.MACDSlow,
		MACDSignal:     s.MACDSignal,
		RiskFreeRate:   s.RiskFreeRate,
		Benchmark:      s.Benchmark,
	}
}
