package backtest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"backtest-core/internal/performance"
	"backtest-core/internal/strategy"
)

var (
	// ErrDataUnavailable means the price source returned nothing usable for the run.
	ErrDataUnavailable = errors.New("price data unavailable")
	// ErrInvalidConfig means the run was rejected before any data was fetched.
	ErrInvalidConfig = errors.New("invalid backtest config")
)

// Config describes one backtest run.
type Config struct {
	Symbol         string    `json:"symbol"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"` // exclusive
	InitialCapital float64   `json:"initial_capital"`
	CommissionRate float64   `json:"commission_rate"`
	TradeQuantity  int       `json:"trade_quantity"`

	MACDFast   int `json:"macd_fast"`
	MACDSlow   int `json:"macd_slow"`
	MACDSignal int `json:"macd_signal"`

	// Reserved. Accepted and echoed but not consumed by the trading rules.
	MaxPositionSize float64  `json:"max_position_size,omitempty"`
	StopLoss        *float64 `json:"stop_loss,omitempty"`
	TakeProfit      *float64 `json:"take_profit,omitempty"`

	RiskFreeRate float64 `json:"risk_free_rate"`
	Benchmark    string  `json:"benchmark,omitempty"`
}

// DefaultConfig returns a config with the standard 12/26/9 parameters.
func DefaultConfig(symbol string, start, end time.Time) Config {
	return Config{
		Symbol:          symbol,
		Start:           start,
		End:             end,
		InitialCapital:  100000,
		CommissionRate:  0.001,
		TradeQuantity:   100,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		MaxPositionSize: 1.0,
		RiskFreeRate:    performance.DefaultRiskFree,
	}
}

// Validate reports every problem with the config in one error wrapping ErrInvalidConfig.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Symbol) == "" {
		problems = append(problems, "symbol is required")
	}
	if !(c.InitialCapital > 0) {
		problems = append(problems, "initial capital must be positive")
	}
	if !(c.CommissionRate >= 0) {
		problems = append(problems, "commission rate must be non-negative")
	}
	if c.TradeQuantity <= 0 {
		problems = append(problems, "trade quantity must be positive")
	}
	if c.MACDFast <= 0 || c.MACDSlow <= 0 || c.MACDSignal <= 0 {
		problems = append(problems, "MACD periods must be positive")
	}
	if !c.Start.IsZero() && !c.End.IsZero() && !c.End.After(c.Start) {
		problems = append(problems, "end must be after start")
	}
	if c.StopLoss != nil && *c.StopLoss < 0 {
		problems = append(problems, "stop loss must be non-negative")
	}
	if c.TakeProfit != nil && *c.TakeProfit < 0 {
		problems = append(problems, "take profit must be non-negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Strategy returns the signal generator configured by c.
func (c Config) Strategy() strategy.MACDStrategy {
	return strategy.NewMACDStrategy(c.MACDFast, c.MACDSlow, c.MACDSignal)
}

// Label is a short human-readable identifier such as "AAPL MACD(12,26,9)".
func (c Config) Label() string {
	return fmt.Sprintf("%s MACD(%d,%d,%d)", c.Symbol, c.MACDFast, c.MACDSlow, c.MACDSignal)
}

// Trade is an executed fill. Signal is always Buy or Sell.
type Trade struct {
	Time       time.Time           `json:"time"`
	Signal     strategy.SignalType `json:"signal"`
	Price      float64             `json:"price"`
	Quantity   int                 `json:"quantity"`
	Commission float64             `json:"commission"`
}

// TotalValue is the cash paid for a buy or received for a sell, commission included.
func (t Trade) TotalValue() float64 {
	gross := t.Price * float64(t.Quantity)
	if t.Signal == strategy.Buy {
		return gross + t.Commission
	}
	return gross - t.Commission
}

// Position is the long holding of a single symbol.
type Position struct {
	Quantity     int     `json:"quantity"`
	AvgCost      float64 `json:"avg_cost"`
	CurrentPrice float64 `json:"current_price"`
}

func (p Position) MarketValue() float64 {
	return float64(p.Quantity) * p.CurrentPrice
}

func (p Position) UnrealizedPnL() float64 {
	if p.Quantity == 0 {
		return 0
	}
	return (p.CurrentPrice - p.AvgCost) * float64(p.Quantity)
}

// EquityPoint is the portfolio snapshot at one bar's close.
type EquityPoint struct {
	Time             time.Time `json:"time"`
	Price            float64   `json:"price"`
	Cash             float64   `json:"cash"`
	PositionValue    float64   `json:"position_value"`
	PortfolioValue   float64   `json:"portfolio_value"`
	PositionQuantity int       `json:"position_quantity"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
}

// Risk holds the statistics beyond the headline return and Sharpe figures.
// Beta, Alpha and InformationRatio are meaningful only when HasBenchmark is set.
type Risk struct {
	Volatility       float64
	Sortino          float64
	Calmar           float64
	VaR95            float64
	CVaR95           float64
	HasBenchmark     bool
	Beta             float64
	Alpha            float64
	InformationRatio float64
}

// Result is the immutable outcome of a run.
type Result struct {
	Config Config

	Trades       []Trade
	EquityCurve  []EquityPoint
	Signals      []strategy.Row
	DailyReturns []performance.Observation

	TotalReturn      float64
	AnnualizedReturn float64
	MaxDrawdown      float64
	SharpeRatio      float64
	WinRate          float64
	ProfitFactor     float64

	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	AvgWin        float64
	AvgLoss       float64
	FinalValue    float64

	Risk Risk
}

// Portfolio returns the equity curve as portfolio value observations.
func (r *Result) Portfolio() []performance.Observation {
	out := make([]performance.Observation, len(r.EquityCurve))
	for i, p := range r.EquityCurve {
		out[i] = performance.Observation{Time: p.Time, Value: p.PortfolioValue}
	}
	return out
}
