package monitor

import (
	"fmt"
	"log/slog"

	"backtest-core/internal/backtest"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to a logger at warn level.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Send(message string) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Warn("alert", "message", message)
	return nil
}

// Rule inspects a finished run and returns a message when it should alert.
type Rule interface {
	Name() string
	Check(s backtest.Summary) (bool, string)
}

// DrawdownRule fires when the max drawdown exceeds Limit (a fraction).
type DrawdownRule struct {
	Limit float64
}

func (r DrawdownRule) Name() string { return "max_drawdown" }

func (r DrawdownRule) Check(s backtest.Summary) (bool, string) {
	if r.Limit <= 0 || float64(s.MaxDrawdown) <= r.Limit {
		return false, ""
	}
	return true, fmt.Sprintf("%s MACD(%d,%d,%d) drawdown %.2f%% exceeds %.2f%%",
		s.Symbol, s.MACDFast, s.MACDSlow, s.MACDSignal, float64(s.MaxDrawdown)*100, r.Limit*100)
}

// LossRule fires when the total return is below -Limit.
type LossRule struct {
	Limit float64
}

func (r LossRule) Name() string { return "total_loss" }

func (r LossRule) Check(s backtest.Summary) (bool, string) {
	if r.Limit <= 0 || float64(s.TotalReturn) >= -r.Limit {
		return false, ""
	}
	return true, fmt.Sprintf("%s MACD(%d,%d,%d) lost %.2f%%",
		s.Symbol, s.MACDFast, s.MACDSlow, s.MACDSignal, -float64(s.TotalReturn)*100)
}
