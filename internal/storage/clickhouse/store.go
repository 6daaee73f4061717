package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/fidde/xml_profiler/pkg/models"
)

// Store implements the storage.Output interface using ClickHouse
type Store struct {
	conn   driver.Conn
	buffer *BatchBuffer
	logger *slog.Logger
}

// NewStore creates a new ClickHouse output
func NewStore(ctx context.Context, config *ConnectionConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = DefaultConfig()
	}

	// Connect to ClickHouse
	conn, err := Connect(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to ClickHouse: %w", err)
	}

	// Initialize schema
	if err := InitializeSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	store := &Store{
		conn:   conn,
		buffer: NewBatchBuffer(conn, config.BatchSize, config.FlushInterval, logger),
		logger: logger,
	}

	return store, nil
}

// Record operations

func (s *Store) WriteNormalized(ctx context.Context, record *models.NormalizedRecord) error {
	if record == nil || record.RunID == "" {
		return errors.New("record needs a run ID")
	}
	return s.buffer.AddNormalized(NormalizedRow{
		RunID:      record.RunID,
		DataSet:    record.DataSet,
		Index:      uint64(record.Index),
		Identifier: record.Identifier,
		Content:    record.Content,
		Hash:       record.Hash,
	})
}

func (s *Store) WriteDiscarded(ctx context.Context, record *models.DiscardedRecord) error {
	if record == nil || record.RunID == "" {
		return errors.New("record needs a run ID")
	}
	problems := record.Problems
	if problems == nil {
		problems = []string{}
	}
	return s.buffer.AddDiscarded(DiscardedRow{
		RunID:    record.RunID,
		DataSet:  record.DataSet,
		Index:    uint64(record.Index),
		Content:  record.Content,
		Problems: problems,
	})
}

// Run operations

// FinishRun flushes the buffered records of every run and inserts the
// summary. A newer summary for the same run replaces the older one.
func (s *Store) FinishRun(ctx context.Context, summary *models.RunSummary) error {
	if summary == nil || summary.RunID == "" {
		return errors.New("run summary needs a run ID")
	}
	if err := s.buffer.Flush(); err != nil {
		return fmt.Errorf("flushing records: %w", err)
	}

	aborted := uint8(0)
	if summary.Aborted {
		aborted = 1
	}
	repeated := summary.RepeatedIdentifiers
	if repeated == nil {
		repeated = []string{}
	}
	err := s.conn.Exec(ctx, `
		INSERT INTO runs (run_id, data_set, prefix, normalized, discarded, started, finished, aborted, repeated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, summary.RunID, summary.DataSet, summary.Prefix,
		uint64(summary.Normalized), uint64(summary.Discarded),
		summary.Started, summary.Finished, aborted, repeated)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// ClearRun deletes a run with synchronous mutations.
func (s *Store) ClearRun(ctx context.Context, runID string) error {
	if err := s.buffer.Flush(); err != nil {
		s.logger.Warn("flush before clearing run failed", "run_id", runID, "error", err)
	}

	tables := []string{"normalized_records", "discarded_records", "runs"}
	for _, table := range tables {
		query := fmt.Sprintf("ALTER TABLE %s DELETE WHERE run_id = ? SETTINGS mutations_sync = 1", table)
		if err := s.conn.Exec(ctx, query, runID); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, dataSet string) ([]*models.RunSummary, error) {
	query := `
		SELECT run_id, data_set, prefix, normalized, discarded, started, finished, aborted, repeated
		FROM runs FINAL
	`
	var args []interface{}
	if dataSet != "" {
		query += " WHERE data_set = ?"
		args = append(args, dataSet)
	}
	query += " ORDER BY started DESC, run_id"

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.RunSummary
	for rows.Next() {
		var (
			run        models.RunSummary
			normalized uint64
			discarded  uint64
			aborted    uint8
		)
		if err := rows.Scan(&run.RunID, &run.DataSet, &run.Prefix, &normalized, &discarded,
			&run.Started, &run.Finished, &aborted, &run.RepeatedIdentifiers); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.Normalized = int(normalized)
		run.Discarded = int(discarded)
		run.Aborted = aborted == 1
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// Read operations

func (s *Store) NormalizedRecords(ctx context.Context, runID string, limit int) ([]*models.NormalizedRecord, error) {
	query := `
		SELECT run_id, data_set, record_index, identifier, content, hash
		FROM normalized_records FINAL
		WHERE run_id = ?
		ORDER BY record_index
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying normalized records: %w", err)
	}
	defer rows.Close()

	var records []*models.NormalizedRecord
	for rows.Next() {
		var r models.NormalizedRecord
		var index uint64
		if err := rows.Scan(&r.RunID, &r.DataSet, &index, &r.Identifier, &r.Content, &r.Hash); err != nil {
			return nil, fmt.Errorf("scanning normalized record: %w", err)
		}
		r.Index = int(index)
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *Store) DiscardedRecords(ctx context.Context, runID string, limit int) ([]*models.DiscardedRecord, error) {
	query := `
		SELECT run_id, data_set, record_index, content, problems
		FROM discarded_records FINAL
		WHERE run_id = ?
		ORDER BY record_index
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying discarded records: %w", err)
	}
	defer rows.Close()

	var records []*models.DiscardedRecord
	for rows.Next() {
		var r models.DiscardedRecord
		var index uint64
		if err := rows.Scan(&r.RunID, &r.DataSet, &index, &r.Content, &r.Problems); err != nil {
			return nil, fmt.Errorf("scanning discarded record: %w", err)
		}
		r.Index = int(index)
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *Store) Close() error {
	// Flush remaining buffer
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.buffer.Close(ctx); err != nil {
		s.logger.Error("error flushing buffer on close", "error", err)
	}

	return s.conn.Close()
}
