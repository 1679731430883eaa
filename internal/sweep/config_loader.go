package sweep

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"backtest-core/internal/backtest"
)

// Params is one MACD parameter set.
type Params struct {
	Fast   int `yaml:"fast" json:"fast"`
	Slow   int `yaml:"slow" json:"slow"`
	Signal int `yaml:"signal" json:"signal"`
}

// Grid expands to the cartesian product of its lists.
type Grid struct {
	Fast   []int `yaml:"fast" json:"fast,omitempty"`
	Slow   []int `yaml:"slow" json:"slow,omitempty"`
	Signal []int `yaml:"signal" json:"signal,omitempty"`
}

// Definition is one sweep entry of a YAML file or a JSON request body. Zero
// numeric fields fall back to backtest.DefaultConfig.
type Definition struct {
	Name           string   `yaml:"name" json:"name,omitempty"`
	Symbols        []string `yaml:"symbols" json:"symbols,omitempty"`
	Start          string   `yaml:"start" json:"start,omitempty"`
	End            string   `yaml:"end" json:"end,omitempty"`
	InitialCapital float64  `yaml:"initial_capital" json:"initial_capital,omitempty"`
	CommissionRate *float64 `yaml:"commission_rate" json:"commission_rate,omitempty"`
	TradeQuantity  int      `yaml:"trade_quantity" json:"trade_quantity,omitempty"`
	RiskFreeRate   *float64 `yaml:"risk_free_rate" json:"risk_free_rate,omitempty"`
	Benchmark      string   `yaml:"benchmark" json:"benchmark,omitempty"`
	Parameters     []Params `yaml:"parameters" json:"parameters,omitempty"`
	Grid           *Grid    `yaml:"grid" json:"grid,omitempty"`
}

// File represents the top-level YAML structure.
type File struct {
	Sweeps []Definition `yaml:"sweeps"`
}

// LoadConfig reads sweep definitions from a YAML file.
func LoadConfig(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes sweep definitions and checks their dates.
func Parse(data []byte) ([]Definition, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode sweeps: %w", err)
	}
	if len(file.Sweeps) == 0 {
		return nil, errors.New("no sweeps defined")
	}
	for i, d := range file.Sweeps {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("sweep %d (%s): %w", i, d.Name, err)
		}
	}
	return file.Sweeps, nil
}

// Validate checks the dates and that at least one symbol is listed.
// Parameter values are checked per run by backtest.Config.Validate.
func (d Definition) Validate() error {
	if _, _, err := d.period(); err != nil {
		return err
	}
	if len(d.Symbols) == 0 {
		return errors.New("no symbols")
	}
	return nil
}

func (d Definition) period() (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if d.Start != "" {
		if start, err = time.Parse(time.DateOnly, d.Start); err != nil {
			return start, end, fmt.Errorf("start: %w", err)
		}
	}
	if d.End != "" {
		if end, err = time.Parse(time.DateOnly, d.End); err != nil {
			return start, end, fmt.Errorf("end: %w", err)
		}
	}
	return start, end, nil
}

// ParameterSets returns the explicit parameter list followed by the grid
// product. An empty definition yields the default 12/26/9.
func (d Definition) ParameterSets() []Params {
	sets := append([]Params(nil), d.Parameters...)
	if g := d.Grid; g != nil {
		for _, f := range g.Fast {
			for _, s := range g.Slow {
				for _, sig := range g.Signal {
					sets = append(sets, Params{Fast: f, Slow: s, Signal: sig})
				}
			}
		}
	}
	if len(sets) == 0 {
		def := backtest.DefaultConfig("", time.Time{}, time.Time{})
		sets = append(sets, Params{Fast: def.MACDFast, Slow: def.MACDSlow, Signal: def.MACDSignal})
	}
	return sets
}

// Expand returns one config per symbol and parameter set, symbols outermost.
func (d Definition) Expand() []backtest.Config {
	start, end, _ := d.period()
	sets := d.ParameterSets()
	out := make([]backtest.Config, 0, len(d.Symbols)*len(sets))
	for _, sym := range d.Symbols {
		for _, p := range sets {
			cfg := backtest.DefaultConfig(sym, start, end)
			if d.InitialCapital > 0 {
				cfg.InitialCapital = d.InitialCapital
			}
			if d.CommissionRate != nil {
				cfg.CommissionRate = *d.CommissionRate
			}
			if d.TradeQuantity > 0 {
				cfg.TradeQuantity = d.TradeQuantity
			}
			if d.RiskFreeRate != nil {
				cfg.RiskFreeRate = *d.RiskFreeRate
			}
			cfg.Benchmark = d.Benchmark
			cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal = p.Fast, p.Slow, p.Signal
			out = append(out, cfg)
		}
	}
	return out
}
