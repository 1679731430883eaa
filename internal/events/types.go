package events

import (
	"time"

	"backtest-core/internal/backtest"
)

// Event enumerates the run lifecycle topics.
type Event string

const (
	EventBacktestStarted   Event = "backtest.started"
	EventBacktestCompleted Event = "backtest.completed"
	EventBacktestFailed    Event = "backtest.failed"
	EventSweepCompleted    Event = "sweep.completed"
)

// Topics lists every topic in publication order of a run.
func Topics() []Event {
	return []Event{EventBacktestStarted, EventBacktestCompleted, EventBacktestFailed, EventSweepCompleted}
}

// RunStarted is published before a run fetches data.
type RunStarted struct {
	RunID   string          `json:"run_id"`
	SweepID string          `json:"sweep_id,omitempty"`
	Config  backtest.Config `json:"config"`
	Time    time.Time       `json:"time"`
}

// RunCompleted carries the summary of a finished run.
type RunCompleted struct {
	RunID    string           `json:"run_id"`
	SweepID  string           `json:"sweep_id,omitempty"`
	Summary  backtest.Summary `json:"summary"`
	Duration time.Duration    `json:"duration_ns"`
}

// RunFailed reports a run that produced no result.
type RunFailed struct {
	RunID    string        `json:"run_id"`
	SweepID  string        `json:"sweep_id,omitempty"`
	Symbol   string        `json:"symbol"`
	Params   string        `json:"params"`
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration_ns"`
}

// SweepCompleted is published once all runs of a sweep finished.
type SweepCompleted struct {
	SweepID   string            `json:"sweep_id"`
	Name      string            `json:"name,omitempty"`
	Runs      int               `json:"runs"`
	Failed    int               `json:"failed"`
	BestRunID string            `json:"best_run_id,omitempty"`
	Best      *backtest.Summary `json:"best,omitempty"`
}
