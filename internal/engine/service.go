// Package engine is the application layer between the transports (CLI, REST,
// websocket) and the backtest core. It owns run ids, persistence, result
// publication and lifecycle events.
package engine

import (
	"context"
	"errors"

	"backtest-core/internal/backtest"
	"backtest-core/internal/persistence"
	"backtest-core/pkg/i18n"
)

var (
	// ErrNotFound is returned for unknown run ids.
	ErrNotFound = persistence.ErrNotFound
	// ErrNoStore is returned by queries when the service runs without a store.
	ErrNoStore = errors.New("run store not configured")
)

// Service defines the backtest operations exposed to the transports.
// Transports only talk to the core through this interface.
type Service interface {
	// Runs
	RunBacktest(ctx context.Context, cfg backtest.Config) (*Run, error)
	RunSweep(ctx context.Context, req SweepRequest) (*SweepReport, error)

	// Queries
	GetRun(ctx context.Context, id string) (*RunDetail, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunInfo, error)
	Equity(ctx context.Context, id string) ([]backtest.EquityPoint, error)
	Report(ctx context.Context, id string, lang i18n.Language) (string, error)
	DeleteRun(ctx context.Context, id string) error

	// System
	GetSystemStatus(ctx context.Context) *SystemStatus
}
