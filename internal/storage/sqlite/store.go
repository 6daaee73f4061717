// Package sqlite provides a SQLite-backed output for normalized records.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fidde/xml_profiler/pkg/models"
)

//go:embed migrations/001_initial_schema.up.sql
var migrationSQL string

// Store is a SQLite-backed output.
type Store struct {
	db *sql.DB

	// Batch writer
	writeCh   chan writeOp
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// First error of an asynchronous record write, reported by the next barrier.
	errMu    sync.Mutex
	writeErr error
}

// writeOp represents a write operation to be batched.
type writeOp struct {
	opType string
	data   interface{}
	done   chan error
}

// Config holds SQLite store configuration.
type Config struct {
	DBPath        string
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns default SQLite configuration.
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:        dbPath,
		BatchSize:     100,
		FlushInterval: 100 * time.Millisecond,
	}
}

// New creates a new SQLite store with the given configuration.
func New(cfg Config) (*Store, error) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 100 * time.Millisecond
	}

	// Open database
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set pragmas for performance
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000", // 64MB cache
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	// Run migrations
	if _, err := db.Exec(migrationSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	store := &Store{
		db:      db,
		writeCh: make(chan writeOp, 1000),
		closeCh: make(chan struct{}),
	}

	// Start batch writer goroutine
	store.wg.Add(1)
	go store.batchWriter(cfg.BatchSize, cfg.FlushInterval)

	return store, nil
}

// batchWriter runs in a goroutine and batches write operations.
func (s *Store) batchWriter(batchSize int, flushInterval time.Duration) {
	defer s.wg.Done()

	batch := make([]writeOp, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		// Execute batch in a transaction
		err := s.executeBatch(batch)
		if err != nil {
			s.errMu.Lock()
			if s.writeErr == nil {
				s.writeErr = err
			}
			s.errMu.Unlock()
		}

		// Send result to all ops in batch
		for i := range batch {
			if batch[i].done != nil {
				batch[i].done <- err
				close(batch[i].done)
			}
		}

		batch = batch[:0]
	}

	for {
		select {
		case op := <-s.writeCh:
			batch = append(batch, op)
			if op.opType == opBarrier || (batchSize > 0 && len(batch) >= batchSize) {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-s.closeCh:
			// Drain remaining ops
			for {
				select {
				case op := <-s.writeCh:
					batch = append(batch, op)
				default:
					flush()
					return
				}
			}
		}
	}
}

// executeBatch runs a batch of write operations in a single transaction.
func (s *Store) executeBatch(batch []writeOp) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, op := range batch {
		var err error
		switch op.opType {
		case opWriteNormalized:
			err = writeNormalizedTx(tx, op.data.(*models.NormalizedRecord))
		case opWriteDiscarded:
			err = writeDiscardedTx(tx, op.data.(*models.DiscardedRecord))
		case opBarrier:
		default:
			err = fmt.Errorf("unknown operation: %s", op.opType)
		}

		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

const (
	opWriteNormalized = "WriteNormalized"
	opWriteDiscarded  = "WriteDiscarded"
	opBarrier         = "Barrier"
)

// enqueue hands op to the batch writer. With wait set it blocks until the
// batch holding op is committed.
func (s *Store) enqueue(ctx context.Context, opType string, data interface{}, wait bool) error {
	var done chan error
	if wait {
		done = make(chan error, 1)
	}

	select {
	case <-s.closeCh:
		return errors.New("store is closed")
	default:
	}

	select {
	case s.writeCh <- writeOp{opType: opType, data: data, done: done}:
		if !wait {
			return nil
		}
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closeCh:
		return errors.New("store is closed")
	}
}

// flushPending commits every queued record write and returns the first
// error any of them hit since the previous flush.
func (s *Store) flushPending(ctx context.Context) error {
	err := s.enqueue(ctx, opBarrier, nil, true)

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.writeErr != nil {
		err = s.writeErr
		s.writeErr = nil
	}
	return err
}

// Close closes the store and releases resources.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Helper functions

// encodeJSON encodes data as JSON string.
func encodeJSON(data interface{}) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding JSON: %w", err)
	}
	return string(b), nil
}

// decodeJSON decodes JSON string to target.
func decodeJSON(data string, target interface{}) error {
	if err := json.Unmarshal([]byte(data), target); err != nil {
		return fmt.Errorf("decoding JSON: %w", err)
	}
	return nil
}

// WriteNormalized stores a record that passed validation.
func (s *Store) WriteNormalized(ctx context.Context, record *models.NormalizedRecord) error {
	if record == nil || record.RunID == "" {
		return errors.New("record needs a run ID")
	}
	return s.enqueue(ctx, opWriteNormalized, record, false)
}

func writeNormalizedTx(tx *sql.Tx, record *models.NormalizedRecord) error {
	_, err := tx.Exec(`
		INSERT INTO normalized_records (run_id, data_set, record_index, identifier, content, hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, record_index) DO UPDATE SET
			identifier = excluded.identifier,
			content = excluded.content,
			hash = excluded.hash
	`, record.RunID, record.DataSet, record.Index, record.Identifier, record.Content, int64(record.Hash))
	if err != nil {
		return fmt.Errorf("inserting normalized record: %w", err)
	}
	return nil
}

// WriteDiscarded stores a discarded record with its problems.
func (s *Store) WriteDiscarded(ctx context.Context, record *models.DiscardedRecord) error {
	if record == nil || record.RunID == "" {
		return errors.New("record needs a run ID")
	}
	return s.enqueue(ctx, opWriteDiscarded, record, false)
}

func writeDiscardedTx(tx *sql.Tx, record *models.DiscardedRecord) error {
	problems, err := encodeJSON(record.Problems)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO discarded_records (run_id, data_set, record_index, content, problems)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, record_index) DO UPDATE SET
			content = excluded.content,
			problems = excluded.problems
	`, record.RunID, record.DataSet, record.Index, record.Content, problems)
	if err != nil {
		return fmt.Errorf("inserting discarded record: %w", err)
	}
	return nil
}

// FinishRun commits pending record writes and records the run summary. A
// failed record write surfaces here.
func (s *Store) FinishRun(ctx context.Context, summary *models.RunSummary) error {
	if summary == nil || summary.RunID == "" {
		return errors.New("run summary needs a run ID")
	}
	if err := s.flushPending(ctx); err != nil {
		return fmt.Errorf("flushing records: %w", err)
	}
	repeated, err := encodeJSON(summary.RepeatedIdentifiers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, data_set, prefix, normalized, discarded, started, finished, aborted, repeated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			normalized = excluded.normalized,
			discarded = excluded.discarded,
			finished = excluded.finished,
			aborted = excluded.aborted,
			repeated = excluded.repeated
	`, summary.RunID, summary.DataSet, summary.Prefix, summary.Normalized, summary.Discarded,
		summary.Started.UnixNano(), summary.Finished.UnixNano(), summary.Aborted, repeated)
	if err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}
	return nil
}

// ClearRun removes every record and the summary of a run.
func (s *Store) ClearRun(ctx context.Context, runID string) error {
	tables := []string{
		"normalized_records",
		"discarded_records",
		"runs",
	}

	// Queued writes of the run must not land after the delete. Their
	// errors no longer matter.
	_ = s.flushPending(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// ListRuns returns the runs of a data set, newest first. An empty data set
// name lists every run.
func (s *Store) ListRuns(ctx context.Context, dataSet string) ([]*models.RunSummary, error) {
	query := `SELECT run_id, data_set, prefix, normalized, discarded, started, finished, aborted, repeated FROM runs`
	var args []interface{}
	if dataSet != "" {
		query += ` WHERE data_set = ?`
		args = append(args, dataSet)
	}
	query += ` ORDER BY started DESC, run_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.RunSummary
	for rows.Next() {
		var run models.RunSummary
		var started, finished int64
		var repeated string
		if err := rows.Scan(&run.RunID, &run.DataSet, &run.Prefix, &run.Normalized, &run.Discarded,
			&started, &finished, &run.Aborted, &repeated); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if err := decodeJSON(repeated, &run.RepeatedIdentifiers); err != nil {
			return nil, err
		}
		run.Started = time.Unix(0, started).UTC()
		run.Finished = time.Unix(0, finished).UTC()
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// NormalizedRecords returns up to limit normalized records of a run by
// index. A limit of zero or less returns all of them.
func (s *Store) NormalizedRecords(ctx context.Context, runID string, limit int) ([]*models.NormalizedRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, data_set, record_index, identifier, content, hash
		FROM normalized_records
		WHERE run_id = ?
		ORDER BY record_index
		LIMIT ?
	`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying normalized records: %w", err)
	}
	defer rows.Close()

	var records []*models.NormalizedRecord
	for rows.Next() {
		var r models.NormalizedRecord
		var hash int64
		if err := rows.Scan(&r.RunID, &r.DataSet, &r.Index, &r.Identifier, &r.Content, &hash); err != nil {
			return nil, fmt.Errorf("scanning normalized record: %w", err)
		}
		r.Hash = uint64(hash)
		records = append(records, &r)
	}
	return records, rows.Err()
}

// DiscardedRecords returns up to limit discarded records of a run by index.
func (s *Store) DiscardedRecords(ctx context.Context, runID string, limit int) ([]*models.DiscardedRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, data_set, record_index, content, problems
		FROM discarded_records
		WHERE run_id = ?
		ORDER BY record_index
		LIMIT ?
	`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying discarded records: %w", err)
	}
	defer rows.Close()

	var records []*models.DiscardedRecord
	for rows.Next() {
		var r models.DiscardedRecord
		var problems string
		if err := rows.Scan(&r.RunID, &r.DataSet, &r.Index, &r.Content, &problems); err != nil {
			return nil, fmt.Errorf("scanning discarded record: %w", err)
		}
		if err := decodeJSON(problems, &r.Problems); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}
