// Package sweep runs many backtests in parallel and ranks the outcomes.
package sweep

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"backtest-core/internal/backtest"
)

// Executor runs a single backtest. *backtest.Engine satisfies it.
type Executor interface {
	Run(ctx context.Context, cfg backtest.Config) (*backtest.Result, error)
}

// Outcome is the result of one run in a sweep. Exactly one of Result and Err
// is set.
type Outcome struct {
	ID       string
	Index    int
	Config   backtest.Config
	Result   *backtest.Result
	Err      error
	Duration time.Duration
}

// OK reports whether the run succeeded.
func (o Outcome) OK() bool { return o.Err == nil && o.Result != nil }

// Hook is called from the worker goroutine after each run.
type Hook func(ctx context.Context, o Outcome)

// Runner fans configs out over a bounded worker pool.
type Runner struct {
	exec    Executor
	limit   int
	onStart Hook
	onDone  Hook
	log     *slog.Logger
}

// NewRunner creates a runner executing at most concurrency runs at once.
func NewRunner(exec Executor, concurrency int, log *slog.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{exec: exec, limit: concurrency, log: log}
}

// WithHooks returns a copy of the runner that calls start before and done
// after every run. Either may be nil. start sees the Outcome without a
// result.
func (r *Runner) WithHooks(start, done Hook) *Runner {
	cp := *r
	cp.onStart, cp.onDone = start, done
	return &cp
}

// Run executes every config. A failed run is recorded in its Outcome and
// does not stop the others. Outcomes are returned in input order.
func (r *Runner) Run(ctx context.Context, cfgs []backtest.Config) []Outcome {
	out := make([]Outcome, len(cfgs))
	var g errgroup.Group
	g.SetLimit(r.limit)

	for i, cfg := range cfgs {
		g.Go(func() error {
			o := Outcome{ID: uuid.NewString(), Index: i, Config: cfg}
			if err := ctx.Err(); err != nil {
				o.Err = err
			} else {
				if r.onStart != nil {
					r.onStart(ctx, o)
				}
				start := time.Now()
				o.Result, o.Err = r.exec.Run(ctx, cfg)
				o.Duration = time.Since(start)
			}
			if o.Err != nil {
				r.log.Warn("sweep run failed", "symbol", cfg.Symbol, "params", cfg.Label(), "error", o.Err)
			}
			if r.onDone != nil {
				r.onDone(ctx, o)
			}
			out[i] = o
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Rank returns the successful outcomes ordered by Sharpe ratio, then total
// return, both descending. Ties keep input order.
func Rank(outcomes []Outcome) []Outcome {
	ranked := make([]Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.OK() {
			ranked = append(ranked, o)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Result, ranked[j].Result
		if a.SharpeRatio != b.SharpeRatio {
			return a.SharpeRatio > b.SharpeRatio
		}
		return a.TotalReturn > b.TotalReturn
	})
	return ranked
}

// Best returns the top ranked outcome.
func Best(outcomes []Outcome) (Outcome, bool) {
	ranked := Rank(outcomes)
	if len(ranked) == 0 {
		return Outcome{}, false
	}
	return ranked[0], true
}

// Failed counts outcomes with an error.
func Failed(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if !o.OK() {
			n++
		}
	}
	return n
}
