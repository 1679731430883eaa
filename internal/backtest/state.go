package backtest

import (
	"fmt"

	"backtest-core/internal/market"
	"backtest-core/internal/strategy"
)

// Ledger is the cash and position carried from one bar to the next.
type Ledger struct {
	Cash     float64
	Position Position
}

// NewLedger starts a run with all capital in cash.
func NewLedger(capital float64) Ledger {
	return Ledger{Cash: capital}
}

// Equity marks the ledger to price.
func (l Ledger) Equity(bar market.Bar) EquityPoint {
	l.Position.CurrentPrice = bar.Close
	posValue := l.Position.MarketValue()
	return EquityPoint{
		Time:             bar.Time,
		Price:            bar.Close,
		Cash:             l.Cash,
		PositionValue:    posValue,
		PortfolioValue:   l.Cash + posValue,
		PositionQuantity: l.Position.Quantity,
		UnrealizedPnL:    l.Position.UnrealizedPnL(),
	}
}

// step applies one bar's signal at its close. The returned trade is nil when
// nothing executed: a HOLD, an unaffordable BUY or a SELL while flat.
func step(l Ledger, bar market.Bar, signal strategy.SignalType, cfg Config) (Ledger, *Trade) {
	price := bar.Close
	l.Position.CurrentPrice = price

	switch signal {
	case strategy.Hold:
		return l, nil

	case strategy.Buy:
		qty := cfg.TradeQuantity
		notional := price * float64(qty)
		commission := notional * cfg.CommissionRate
		if l.Cash < notional+commission {
			return l, nil
		}
		l.Cash -= notional + commission
		if l.Position.Quantity == 0 {
			l.Position.AvgCost = price
		} else {
			held := l.Position.AvgCost * float64(l.Position.Quantity)
			l.Position.AvgCost = (held + notional) / float64(l.Position.Quantity+qty)
		}
		l.Position.Quantity += qty
		return l, &Trade{Time: bar.Time, Signal: strategy.Buy, Price: price, Quantity: qty, Commission: commission}

	case strategy.Sell:
		if l.Position.Quantity == 0 {
			return l, nil
		}
		qty := min(cfg.TradeQuantity, l.Position.Quantity)
		commission := price * float64(qty) * cfg.CommissionRate
		l.Cash += price*float64(qty) - commission
		l.Position.Quantity -= qty
		if l.Position.Quantity == 0 {
			l.Position.AvgCost = 0
		}
		return l, &Trade{Time: bar.Time, Signal: strategy.Sell, Price: price, Quantity: qty, Commission: commission}

	default:
		panic(fmt.Sprintf("backtest: unhandled signal %d", signal))
	}
}

// Simulate runs the ledger over every bar in order and returns the fills and
// one equity point per bar. rows must be aligned with bars.
func Simulate(cfg Config, bars []market.Bar, rows []strategy.Row) ([]Trade, []EquityPoint) {
	ledger := NewLedger(cfg.InitialCapital)
	trades := make([]Trade, 0)
	curve := make([]EquityPoint, 0, len(bars))

	for i, bar := range bars {
		signal := strategy.Hold
		if i < len(rows) {
			signal = rows[i].Signal
		}
		var trade *Trade
		ledger, trade = step(ledger, bar, signal, cfg)
		if trade != nil {
			trades = append(trades, *trade)
		}
		curve = append(curve, ledger.Equity(bar))
	}
	return trades, curve
}
