package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	defaultBatchSize     = 1000
	defaultFlushInterval = 5 * time.Second
	defaultShutdownWait  = 10 * time.Second
	maxRetries           = 3
)

// NormalizedRow represents a row in the normalized_records table
type NormalizedRow struct {
	RunID      string
	DataSet    string
	Index      uint64
	Identifier string
	Content    string
	Hash       uint64
}

// DiscardedRow represents a row in the discarded_records table
type DiscardedRow struct {
	RunID    string
	DataSet  string
	Index    uint64
	Content  string
	Problems []string
}

// BatchBuffer manages batched writes to ClickHouse with automatic flushing
type BatchBuffer struct {
	conn driver.Conn

	mu             sync.Mutex
	normalizedRows []NormalizedRow
	discardedRows  []DiscardedRow

	// First failed background flush, handed to the next explicit Flush.
	flushErr error

	batchSize     int
	flushInterval time.Duration
	shutdownWait  time.Duration

	flushTimer *time.Timer
	stopCh     chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewBatchBuffer creates a new batch buffer. Zero sizes select the defaults.
func NewBatchBuffer(conn driver.Conn, batchSize int, flushInterval time.Duration, logger *slog.Logger) *BatchBuffer {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	b := &BatchBuffer{
		conn:          conn,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		shutdownWait:  defaultShutdownWait,
		stopCh:        make(chan struct{}),
		logger:        logger,
	}

	b.flushTimer = time.NewTimer(b.flushInterval)

	// Start flush goroutine
	b.wg.Add(1)
	go b.flushLoop()

	return b
}

// AddNormalized adds a normalized record row to the buffer
func (b *BatchBuffer) AddNormalized(row NormalizedRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.normalizedRows = append(b.normalizedRows, row)

	if len(b.normalizedRows) >= b.batchSize {
		return b.flushNormalizedLocked()
	}

	return nil
}

// AddDiscarded adds a discarded record row to the buffer
func (b *BatchBuffer) AddDiscarded(row DiscardedRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.discardedRows = append(b.discardedRows, row)

	if len(b.discardedRows) >= b.batchSize {
		return b.flushDiscardedLocked()
	}

	return nil
}

// Flush writes every buffered row now. It returns the first error of a
// background flush since the previous call, if any.
func (b *BatchBuffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.flushAllLocked()
	if b.flushErr != nil {
		err = errors.Join(b.flushErr, err)
		b.flushErr = nil
	}
	return err
}

// flushLoop periodically flushes buffers on timer
func (b *BatchBuffer) flushLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.flushTimer.C:
			b.mu.Lock()
			if err := b.flushAllLocked(); err != nil && b.flushErr == nil {
				b.flushErr = err
			}
			b.mu.Unlock()
			b.flushTimer.Reset(b.flushInterval)

		case <-b.stopCh:
			return
		}
	}
}

// flushAllLocked flushes all buffers (must hold lock)
func (b *BatchBuffer) flushAllLocked() error {
	var errs []error

	if err := b.flushNormalizedLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := b.flushDiscardedLocked(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("flush errors: %v", errs)
	}
	return nil
}

// flushNormalizedLocked flushes normalized rows (must hold lock)
func (b *BatchBuffer) flushNormalizedLocked() error {
	if len(b.normalizedRows) == 0 {
		return nil
	}

	start := time.Now()
	rows := b.normalizedRows
	b.normalizedRows = nil

	// Release lock during insert
	b.mu.Unlock()
	err := b.insertNormalized(rows)
	b.mu.Lock()

	if err != nil {
		b.logger.Error("failed to flush normalized records",
			"error", err,
			"row_count", len(rows),
		)
		return err
	}

	b.logger.Debug("flushed normalized records",
		"row_count", len(rows),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// flushDiscardedLocked flushes discarded rows (must hold lock)
func (b *BatchBuffer) flushDiscardedLocked() error {
	if len(b.discardedRows) == 0 {
		return nil
	}

	start := time.Now()
	rows := b.discardedRows
	b.discardedRows = nil

	b.mu.Unlock()
	err := b.insertDiscarded(rows)
	b.mu.Lock()

	if err != nil {
		b.logger.Error("failed to flush discarded records",
			"error", err,
			"row_count", len(rows),
		)
		return err
	}

	b.logger.Debug("flushed discarded records",
		"row_count", len(rows),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Close gracefully shuts down the buffer, flushing remaining data
func (b *BatchBuffer) Close(ctx context.Context) error {
	var finalErr error

	// Use sync.Once to ensure we only close once
	b.closeOnce.Do(func() {
		// Stop flush loop
		close(b.stopCh)

		// Create shutdown context with timeout
		shutdownCtx, cancel := context.WithTimeout(ctx, b.shutdownWait)
		defer cancel()

		// Wait for flush loop to stop
		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			// Flush loop stopped
		case <-shutdownCtx.Done():
			b.logger.Warn("flush loop did not stop within timeout")
		}

		// Final flush
		b.mu.Lock()
		defer b.mu.Unlock()

		finalErr = b.flushAllLocked()
	})

	return finalErr
}

// Insert methods with retry logic

func (b *BatchBuffer) insertNormalized(rows []NormalizedRow) error {
	return b.retryInsert(func(ctx context.Context) error {
		batch, err := b.conn.PrepareBatch(ctx, "INSERT INTO normalized_records")
		if err != nil {
			return err
		}

		for _, row := range rows {
			err = batch.Append(
				row.RunID,
				row.DataSet,
				row.Index,
				row.Identifier,
				row.Content,
				row.Hash,
			)
			if err != nil {
				return err
			}
		}

		return batch.Send()
	})
}

func (b *BatchBuffer) insertDiscarded(rows []DiscardedRow) error {
	return b.retryInsert(func(ctx context.Context) error {
		batch, err := b.conn.PrepareBatch(ctx, "INSERT INTO discarded_records")
		if err != nil {
			return err
		}

		for _, row := range rows {
			err = batch.Append(
				row.RunID,
				row.DataSet,
				row.Index,
				row.Content,
				row.Problems,
			)
			if err != nil {
				return err
			}
		}

		return batch.Send()
	})
}

// retryInsert retries insert operation with exponential backoff
func (b *BatchBuffer) retryInsert(fn func(context.Context) error) error {
	var err error
	retryDelay := 100 * time.Millisecond

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = fn(ctx)
		cancel()

		if err == nil {
			return nil
		}

		if attempt < maxRetries {
			time.Sleep(retryDelay)
			retryDelay *= 2
		}
	}

	return fmt.Errorf("insert failed after %d attempts: %w", maxRetries, err)
}
