package strategy

import (
	"fmt"
	"strings"
	"time"
)

// SignalType is the per-bar trading decision.
type SignalType int

const (
	Hold SignalType = iota
	Buy
	Sell
)

func (s SignalType) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// ParseSignalType accepts BUY, SELL or HOLD in any case.
func ParseSignalType(s string) (SignalType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	case "HOLD":
		return Hold, nil
	}
	return Hold, fmt.Errorf("unknown signal type %q", s)
}

func (s SignalType) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SignalType) UnmarshalText(b []byte) error {
	v, err := ParseSignalType(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Row is one bar of indicator values together with the decision taken on it.
// Indicator fields are NaN during warm-up.
type Row struct {
	Time       time.Time
	Close      float64
	MACD       float64
	SignalLine float64
	Histogram  float64
	Cross      int // +1 bullish, -1 bearish, 0 none
	Signal     SignalType
	Strength   float64
}
