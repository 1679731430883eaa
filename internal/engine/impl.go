package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"backtest-core/internal/backtest"
	"backtest-core/internal/events"
	"backtest-core/internal/notify"
	"backtest-core/internal/persistence"
	"backtest-core/internal/report"
	"backtest-core/internal/sweep"
	"backtest-core/pkg/cache"
	"backtest-core/pkg/db"
	"backtest-core/pkg/i18n"
)

const (
	resultCacheTTL = 30 * time.Minute
	resultCacheMax = 256
)

// Impl implements Service by composing the backtest engine, the sweep runner,
// the run store, the event bus and the result publisher.
type Impl struct {
	exec        sweep.Executor
	store       *persistence.RunStore
	bus         *events.Bus
	publisher   notify.Publisher
	concurrency int
	results     *cache.Sharded[*backtest.Result]
	cacheMax    int
	log         *slog.Logger

	meta SystemStatus
}

// Config holds the dependencies of an Impl. Store, Bus and Publisher are
// optional.
type Config struct {
	Engine      sweep.Executor
	Store       *persistence.RunStore
	Bus         *events.Bus
	Publisher   notify.Publisher
	Concurrency int
	Logger      *slog.Logger
	Meta        SystemStatus
}

// NewImpl creates a new service implementation.
func NewImpl(cfg Config) *Impl {
	if cfg.Publisher == nil {
		cfg.Publisher = notify.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	meta := cfg.Meta
	meta.Store = cfg.Store != nil
	meta.Concurrency = cfg.Concurrency
	if meta.StartedAt.IsZero() {
		meta.StartedAt = time.Now().UTC()
	}
	return &Impl{
		exec:        cfg.Engine,
		store:       cfg.Store,
		bus:         cfg.Bus,
		publisher:   cfg.Publisher,
		concurrency: cfg.Concurrency,
		results:     cache.NewSharded[*backtest.Result](),
		cacheMax:    resultCacheMax,
		log:         cfg.Logger,
		meta:        meta,
	}
}

// --- Runs ---

// RunBacktest executes cfg, stores and publishes the result. A store failure
// is returned together with the run.
func (e *Impl) RunBacktest(ctx context.Context, cfg backtest.Config) (*Run, error) {
	o := sweep.Outcome{ID: uuid.NewString(), Config: cfg}
	e.started(ctx, "", o)

	start := time.Now()
	o.Result, o.Err = e.exec.Run(ctx, cfg)
	o.Duration = time.Since(start)

	return e.finished(ctx, "", o)
}

// RunSweep executes every config of req on the worker pool. Individual
// failures are reported per run; the error is only set when req is empty.
func (e *Impl) RunSweep(ctx context.Context, req SweepRequest) (*SweepReport, error) {
	if len(req.Configs) == 0 {
		return nil, fmt.Errorf("%w: sweep has no runs", backtest.ErrInvalidConfig)
	}
	sweepID := uuid.NewString()
	log := e.log.With("sweep_id", sweepID, "name", req.Name)
	log.Info(fmt.Sprintf(i18n.M().SweepStarted, len(req.Configs)))

	runner := sweep.NewRunner(e.exec, e.concurrency, log).WithHooks(
		func(ctx context.Context, o sweep.Outcome) { e.started(ctx, sweepID, o) },
		func(ctx context.Context, o sweep.Outcome) { _, _ = e.finished(ctx, sweepID, o) },
	)
	outcomes := runner.Run(ctx, req.Configs)

	rep := &SweepReport{SweepID: sweepID, Name: req.Name, Runs: make([]SweepRun, len(outcomes))}
	for i, o := range outcomes {
		rep.Runs[i] = sweepRun(o)
	}
	ranked := sweep.Rank(outcomes)
	rep.Ranking = make([]string, len(ranked))
	for i, o := range ranked {
		rep.Ranking[i] = o.ID
	}
	rep.Failed = sweep.Failed(outcomes)

	done := events.SweepCompleted{SweepID: sweepID, Name: req.Name, Runs: len(outcomes), Failed: rep.Failed}
	if len(ranked) > 0 {
		best := ranked[0]
		rep.Best = &rep.Runs[best.Index]
		done.BestRunID = best.ID
		done.Best = rep.Best.Summary
		log.Info(fmt.Sprintf(i18n.M().BestParameters, best.Config.Label(), best.Result.SharpeRatio), "run_id", best.ID)
	}
	log.Info(fmt.Sprintf(i18n.M().SweepFinished, len(outcomes)-rep.Failed, rep.Failed))
	e.publish(events.EventSweepCompleted, done)
	return rep, nil
}

func sweepRun(o sweep.Outcome) SweepRun {
	r := SweepRun{RunID: o.ID, Symbol: o.Config.Symbol, Params: o.Config.Label(), Duration: o.Duration}
	if o.OK() {
		sum := o.Result.Summary()
		r.Summary = &sum
	} else if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

func (e *Impl) started(_ context.Context, sweepID string, o sweep.Outcome) {
	e.publish(events.EventBacktestStarted, events.RunStarted{
		RunID:   o.ID,
		SweepID: sweepID,
		Config:  o.Config,
		Time:    time.Now().UTC(),
	})
}

// finished records the outcome of one run: failures become events, results
// are cached, stored, published and announced.
func (e *Impl) finished(ctx context.Context, sweepID string, o sweep.Outcome) (*Run, error) {
	log := e.log.With("run_id", o.ID, "symbol", o.Config.Symbol, "params", o.Config.Label())
	if o.Err != nil || o.Result == nil {
		err := o.Err
		if err == nil {
			err = errors.New("no result")
		}
		log.Warn(fmt.Sprintf(i18n.M().BacktestFailed, o.ID, err))
		e.publish(events.EventBacktestFailed, events.RunFailed{
			RunID:    o.ID,
			SweepID:  sweepID,
			Symbol:   o.Config.Symbol,
			Params:   o.Config.Label(),
			Error:    err.Error(),
			Duration: o.Duration,
		})
		return nil, err
	}

	res := o.Result
	run := &Run{ID: o.ID, SweepID: sweepID, Duration: o.Duration, Result: res, Summary: res.Summary()}
	e.remember(o.ID, res)

	var storeErr error
	if e.store != nil {
		if err := e.store.Save(ctx, o.ID, sweepID, res); err != nil {
			storeErr = fmt.Errorf("save run %s: %w", o.ID, err)
			log.Error("save run failed", "error", err)
		} else {
			run.Stored = true
			log.Debug(fmt.Sprintf(i18n.M().RunSaved, o.ID))
		}
	}

	msg := notify.Message{RunID: o.ID, SweepID: sweepID, Summary: run.Summary, Published: time.Now().UTC()}
	if err := e.publisher.Publish(ctx, msg); err != nil {
		log.Warn(fmt.Sprintf(i18n.M().PublishFailed, o.ID, err))
	}

	log.Info(fmt.Sprintf(i18n.M().BacktestCompleted, o.Config.Symbol, res.TotalReturn*100, res.SharpeRatio),
		"trades", res.TotalTrades, "duration", o.Duration)
	e.publish(events.EventBacktestCompleted, events.RunCompleted{
		RunID:    o.ID,
		SweepID:  sweepID,
		Summary:  run.Summary,
		Duration: o.Duration,
	})
	return run, storeErr
}

func (e *Impl) publish(topic events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(topic, payload)
	}
}

func (e *Impl) remember(id string, res *backtest.Result) {
	e.results.Set(id, res)
	if e.results.Len() > e.cacheMax {
		e.results.Cleanup(resultCacheTTL)
		e.results.Trim(e.cacheMax)
	}
}

// --- Queries ---

func (e *Impl) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	stored, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	trades, err := e.store.Trades(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RunDetail{RunInfo: runInfo(*stored), Trades: trades}, nil
}

func (e *Impl) ListRuns(ctx context.Context, f RunFilter) ([]RunInfo, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	stored, err := e.store.List(ctx, db.RunFilter{Symbol: f.Symbol, SweepID: f.SweepID, Limit: f.Limit})
	if err != nil {
		return nil, err
	}
	out := make([]RunInfo, len(stored))
	for i, s := range stored {
		out[i] = runInfo(s)
	}
	return out, nil
}

func (e *Impl) Equity(ctx context.Context, id string) ([]backtest.EquityPoint, error) {
	if res, ok := e.results.Get(id); ok {
		return res.EquityCurve, nil
	}
	if e.store == nil {
		return nil, ErrNotFound
	}
	if _, err := e.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.store.Equity(ctx, id)
}

// Report renders the markdown report of a run. Runs no longer held in memory
// are replayed from their stored config; the simulation is deterministic for
// unchanged price data.
func (e *Impl) Report(ctx context.Context, id string, lang i18n.Language) (string, error) {
	res, err := e.result(ctx, id)
	if err != nil {
		return "", err
	}
	return report.Markdown(res, lang, report.DefaultRecentSignals), nil
}

func (e *Impl) result(ctx context.Context, id string) (*backtest.Result, error) {
	if res, ok := e.results.Get(id); ok {
		return res, nil
	}
	if e.store == nil {
		return nil, ErrNotFound
	}
	stored, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := e.exec.Run(ctx, stored.Summary.Config())
	if err != nil {
		return nil, fmt.Errorf("replay run %s: %w", id, err)
	}
	e.remember(id, res)
	return res, nil
}

func (e *Impl) DeleteRun(ctx context.Context, id string) error {
	e.results.Delete(id)
	if e.store == nil {
		return ErrNoStore
	}
	return e.store.Delete(ctx, id)
}

// --- System ---

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	status := e.meta
	status.CachedRuns = e.results.Len()
	if e.bus != nil {
		status.EventsLost = e.bus.Dropped()
	}
	if e.store != nil {
		m := e.store.WriterMetrics()
		status.Writer = &m
	}
	status.ServerTime = time.Now().UTC()
	return &status
}

func runInfo(s persistence.StoredRun) RunInfo {
	return RunInfo{ID: s.ID, SweepID: s.SweepID, CreatedAt: s.CreatedAt, Summary: s.Summary}
}
