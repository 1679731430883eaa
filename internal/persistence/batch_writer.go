package persistence

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// WriteOp represents a database write operation.
type WriteOp struct {
	Table string
	Query string
	Args  []any
}

// Batch collects the writes of one unit of work. It is not safe for
// concurrent use; each caller builds its own.
type Batch struct {
	ops []WriteOp
}

// NewBatch creates a batch with room for size operations.
func NewBatch(size int) *Batch {
	return &Batch{ops: make([]WriteOp, 0, size)}
}

// Add appends a write to the batch.
func (b *Batch) Add(table, query string, args ...any) {
	b.ops = append(b.ops, WriteOp{Table: table, Query: query, Args: args})
}

// Len returns the number of queued writes.
func (b *Batch) Len() int {
	return len(b.ops)
}

// BatchWriter commits batches in single transactions. A batch either lands
// completely or not at all.
type BatchWriter struct {
	db  *sql.DB
	log *slog.Logger

	totalWrites  atomic.Uint64
	totalBatches atomic.Uint64
	totalErrors  atomic.Uint64
	lastMu       sync.Mutex
	lastSize     int
	lastFlush    time.Time
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter creates a batch writer on db.
func NewBatchWriter(db *sql.DB, log *slog.Logger) *BatchWriter {
	if log == nil {
		log = slog.Default()
	}
	return &BatchWriter{
		db:  db,
		log: log.With("component", "batch_writer"),
	}
}

// Commit runs the batch in one transaction. Each distinct query is prepared
// once. On any error the transaction is rolled back.
func (bw *BatchWriter) Commit(ctx context.Context, b *Batch) error {
	if b == nil || len(b.ops) == 0 {
		return nil
	}
	ops := b.ops

	bw.totalBatches.Add(1)
	bw.lastMu.Lock()
	bw.lastSize = len(ops)
	bw.lastFlush = time.Now()
	bw.lastMu.Unlock()

	tx, err := bw.db.BeginTx(ctx, nil)
	if err != nil {
		bw.totalErrors.Add(1)
		bw.log.Error("begin transaction failed", "error", err)
		return err
	}

	stmts := make(map[string]*sql.Stmt)
	fail := func(op WriteOp, err error) error {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			bw.log.Warn("rollback failed", "error", rbErr)
		}
		bw.totalErrors.Add(1)
		bw.log.Error("batch write failed, rolling back", "table", op.Table, "ops", len(ops), "error", err)
		return err
	}
	for _, op := range ops {
		stmt, ok := stmts[op.Query]
		if !ok {
			if stmt, err = tx.PrepareContext(ctx, op.Query); err != nil {
				return fail(op, err)
			}
			stmts[op.Query] = stmt
		}
		if _, err := stmt.ExecContext(ctx, op.Args...); err != nil {
			return fail(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		bw.totalErrors.Add(1)
		bw.log.Error("commit failed", "error", err)
		return err
	}

	bw.totalWrites.Add(uint64(len(ops)))
	bw.log.Debug("committed batch", "ops", len(ops), "statements", len(stmts))
	return nil
}

// GetMetrics returns the current metrics for the batch writer.
func (bw *BatchWriter) GetMetrics() BatchWriterMetrics {
	bw.lastMu.Lock()
	defer bw.lastMu.Unlock()
	return BatchWriterMetrics{
		TotalWrites:   bw.totalWrites.Load(),
		TotalBatches:  bw.totalBatches.Load(),
		TotalErrors:   bw.totalErrors.Load(),
		LastBatchSize: bw.lastSize,
		LastFlushTime: bw.lastFlush,
	}
}
