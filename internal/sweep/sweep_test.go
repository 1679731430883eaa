package sweep

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"backtest-core/internal/backtest"
)

const sweepYAML = `
sweeps:
  - name: majors
    symbols: [BTCUSDT, ETHUSDT]
    start: 2023-01-01
    end: 2024-01-01
    initial_capital: 50000
    commission_rate: 0
    trade_quantity: 2
    benchmark: BTCUSDT
    parameters:
      - {fast: 12, slow: 26, signal: 9}
    grid:
      fast: [5, 8]
      slow: [21]
      signal: [5, 9]
  - name: defaults
    symbols: [AAPL]
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweeps.yaml")
	if err := os.WriteFile(path, []byte(sweepYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	defs, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 sweeps, got %d", len(defs))
	}

	cfgs := defs[0].Expand()
	if len(cfgs) != 2*5 {
		t.Fatalf("expected 10 configs, got %d", len(cfgs))
	}
	first := cfgs[0]
	if first.Symbol != "BTCUSDT" || first.MACDFast != 12 || first.InitialCapital != 50000 ||
		first.CommissionRate != 0 || first.TradeQuantity != 2 || first.Benchmark != "BTCUSDT" {
		t.Fatalf("unexpected first config %+v", first)
	}
	if !first.Start.Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", first.Start)
	}
	if last := cfgs[9]; last.Symbol != "ETHUSDT" || last.MACDFast != 8 || last.MACDSignal != 9 {
		t.Fatalf("unexpected last config %+v", last)
	}

	def := defs[1].Expand()
	if len(def) != 1 || def[0].MACDSlow != 26 || def[0].CommissionRate != 0.001 || def[0].InitialCapital != 100000 {
		t.Fatalf("defaults not applied: %+v", def)
	}
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"empty":     "sweeps: []",
		"bad date":  "sweeps:\n  - symbols: [X]\n    start: 01/02/2023\n",
		"no symbol": "sweeps:\n  - name: x\n",
		"not yaml":  "sweeps: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

type fakeExecutor struct {
	mu      sync.Mutex
	active  int32
	maxSeen int32
	sharpe  map[string]float64
}

var errNoData = errors.New("no data")

func (f *fakeExecutor) Run(ctx context.Context, cfg backtest.Config) (*backtest.Result, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	f.mu.Lock()
	if n > f.maxSeen {
		f.maxSeen = n
	}
	f.mu.Unlock()
	time.Sleep(5 * time.Millisecond)

	s, ok := f.sharpe[cfg.Symbol]
	if !ok {
		return nil, errNoData
	}
	return &backtest.Result{Config: cfg, SharpeRatio: s, TotalReturn: float64(cfg.MACDFast)}, nil
}

func TestRunnerIsolatesFailuresAndKeepsOrder(t *testing.T) {
	exec := &fakeExecutor{sharpe: map[string]float64{"A": 0.5, "B": 1.5, "C": 1.5}}
	var started, hooked atomic.Int32
	r := NewRunner(exec, 2, nil).WithHooks(
		func(_ context.Context, o Outcome) {
			if o.Result == nil && o.ID != "" {
				started.Add(1)
			}
		},
		func(context.Context, Outcome) { hooked.Add(1) },
	)

	cfgs := []backtest.Config{
		{Symbol: "A", MACDFast: 1},
		{Symbol: "MISSING", MACDFast: 2},
		{Symbol: "B", MACDFast: 3},
		{Symbol: "C", MACDFast: 4},
	}
	out := r.Run(context.Background(), cfgs)

	if len(out) != 4 || hooked.Load() != 4 || started.Load() != 4 {
		t.Fatalf("expected 4 outcomes and hooks, got %d/%d/%d", len(out), started.Load(), hooked.Load())
	}
	for i, o := range out {
		if o.Index != i || o.Config.Symbol != cfgs[i].Symbol || o.ID == "" {
			t.Fatalf("outcome %d out of order: %+v", i, o)
		}
	}
	if !errors.Is(out[1].Err, errNoData) || out[1].OK() {
		t.Fatalf("expected failure for MISSING, got %+v", out[1])
	}
	if Failed(out) != 1 {
		t.Fatalf("Failed = %d, want 1", Failed(out))
	}
	if exec.maxSeen > 2 {
		t.Fatalf("concurrency limit exceeded: %d", exec.maxSeen)
	}

	ranked := Rank(out)
	if len(ranked) != 3 {
		t.Fatalf("expected 3 ranked outcomes, got %d", len(ranked))
	}
	// B and C tie on Sharpe; C wins on total return
	if ranked[0].Config.Symbol != "C" || ranked[1].Config.Symbol != "B" || ranked[2].Config.Symbol != "A" {
		t.Fatalf("unexpected ranking %s %s %s", ranked[0].Config.Symbol, ranked[1].Config.Symbol, ranked[2].Config.Symbol)
	}
	best, ok := Best(out)
	if !ok || best.Config.Symbol != "C" {
		t.Fatalf("unexpected best %+v", best)
	}
}

func TestRunnerCancelled(t *testing.T) {
	exec := &fakeExecutor{sharpe: map[string]float64{"A": 1}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := NewRunner(exec, 1, nil).Run(ctx, []backtest.Config{{Symbol: "A"}, {Symbol: "A"}})
	for _, o := range out {
		if !errors.Is(o.Err, context.Canceled) {
			t.Fatalf("expected cancellation, got %+v", o)
		}
	}
	if _, ok := Best(out); ok {
		t.Fatalf("no outcome should rank")
	}
}
