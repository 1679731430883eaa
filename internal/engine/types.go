package engine

import (
	"time"

	"backtest-core/internal/backtest"
	"backtest-core/internal/persistence"
)

// Run is a finished backtest with its id.
type Run struct {
	ID       string           `json:"id"`
	SweepID  string           `json:"sweep_id,omitempty"`
	Stored   bool             `json:"stored"`
	Duration time.Duration    `json:"duration_ns"`
	Result   *backtest.Result `json:"-"`
	Summary  backtest.Summary `json:"summary"`
}

// RunInfo is a stored run header.
type RunInfo struct {
	ID        string           `json:"id"`
	SweepID   string           `json:"sweep_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Summary   backtest.Summary `json:"summary"`
}

// RunDetail is a stored run with its trade ledger.
type RunDetail struct {
	RunInfo
	Trades []backtest.Trade `json:"trades"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Symbol  string
	SweepID string
	Limit   int
}

// SweepRequest is a named batch of configs.
type SweepRequest struct {
	Name    string            `json:"name"`
	Configs []backtest.Config `json:"configs"`
}

// SweepRun is one entry of a sweep report.
type SweepRun struct {
	RunID    string            `json:"run_id"`
	Symbol   string            `json:"symbol"`
	Params   string            `json:"params"`
	Summary  *backtest.Summary `json:"summary,omitempty"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration_ns"`
}

// SweepReport lists the runs of a sweep in input order plus the ranking.
type SweepReport struct {
	SweepID string     `json:"sweep_id"`
	Name    string     `json:"name,omitempty"`
	Runs    []SweepRun `json:"runs"`
	Ranking []string   `json:"ranking"`
	Failed  int        `json:"failed"`
	Best    *SweepRun  `json:"best,omitempty"`
}

// SystemStatus represents the service runtime status.
type SystemStatus struct {
	Version     string    `json:"version"`
	DataSource  string    `json:"data_source"`
	Store       bool      `json:"store"`
	Publisher   string    `json:"publisher"`
	Concurrency int       `json:"concurrency"`
	CachedRuns  int       `json:"cached_runs"`
	EventsLost  uint64    `json:"events_dropped"`
	StartedAt   time.Time `json:"started_at"`
	ServerTime  time.Time `json:"server_time"`

	Writer *persistence.BatchWriterMetrics `json:"writer,omitempty"`
}
