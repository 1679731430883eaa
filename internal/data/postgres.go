package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"backtest-core/internal/market"
)

// PostgresSource reads bars from a daily_bars table.
type PostgresSource struct {
	db *sql.DB
}

const dailyBarsSchema = `
CREATE TABLE IF NOT EXISTS daily_bars (
	symbol TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	open DOUBLE PRECISION NOT NULL,
	high DOUBLE PRECISION NOT NULL,
	low DOUBLE PRECISION NOT NULL,
	close DOUBLE PRECISION NOT NULL,
	volume DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, ts)
)`

// NewPostgresSource opens dsn with the pgx driver and checks connectivity.
func NewPostgresSource(ctx context.Context, dsn string) (*PostgresSource, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresSource{db: db}, nil
}

// EnsureSchema creates the daily_bars table if missing.
func (s *PostgresSource) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, dailyBarsSchema)
	return err
}

// Close releases the pool.
func (s *PostgresSource) Close() error {
	return s.db.Close()
}

// History returns bars with start <= ts < end. A zero end is unbounded.
func (s *PostgresSource) History(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	var endArg any
	if !end.IsZero() {
		endArg = end
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM daily_bars
		WHERE symbol = $1 AND ts >= $2 AND ($3::timestamptz IS NULL OR ts < $3)
		ORDER BY ts
	`, symbol, start, endArg)
	if err != nil {
		return nil, fmt.Errorf("query daily_bars: %w", err)
	}
	defer rows.Close()

	var bars []market.Bar
	for rows.Next() {
		var b market.Bar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan daily bar: %w", err)
		}
		b.Time = b.Time.UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Import upserts bars for symbol, for seeding the table from another source.
func (s *PostgresSource) Import(ctx context.Context, symbol string, bars []market.Bar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_bars (symbol, ts, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, ts) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, b.Time, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("import %s %s: %w", symbol, b.Time.Format(time.DateOnly), err)
		}
	}
	return tx.Commit()
}
