// Package dual provides an output that writes to two backends, for example
// SQLite for the operator and ClickHouse for downstream consumers.
package dual

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fidde/xml_profiler/internal/storage"
	"github.com/fidde/xml_profiler/pkg/models"
)

// Store wraps two outputs.
// Writes go to both primary and secondary.
// Reads come from primary only.
type Store struct {
	primary   storage.Output
	secondary storage.Output
	logger    *slog.Logger
}

// Config holds dual store configuration.
type Config struct {
	Primary   storage.Output
	Secondary storage.Output
	Logger    *slog.Logger
}

// New creates a new dual-write store.
func New(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Store{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		logger:    cfg.Logger,
	}
}

// dualWrite performs a write to both backends.
// Errors from secondary are logged but don't fail the operation. The
// secondary write is synchronous so a run's records reach it before the run
// is finished or cleared.
func (s *Store) dualWrite(op string, primaryWrite, secondaryWrite func() error) error {
	// Write to primary (this determines success/failure)
	if err := primaryWrite(); err != nil {
		return err
	}

	if err := secondaryWrite(); err != nil {
		s.logger.Error("dual-write to secondary failed",
			"operation", op,
			"error", err,
		)
	}
	return nil
}

// WriteNormalized writes a normalized record to both backends.
func (s *Store) WriteNormalized(ctx context.Context, record *models.NormalizedRecord) error {
	return s.dualWrite("WriteNormalized",
		func() error { return s.primary.WriteNormalized(ctx, record) },
		func() error { return s.secondary.WriteNormalized(ctx, record) },
	)
}

// WriteDiscarded writes a discarded record to both backends.
func (s *Store) WriteDiscarded(ctx context.Context, record *models.DiscardedRecord) error {
	return s.dualWrite("WriteDiscarded",
		func() error { return s.primary.WriteDiscarded(ctx, record) },
		func() error { return s.secondary.WriteDiscarded(ctx, record) },
	)
}

// FinishRun records the run summary in both backends.
func (s *Store) FinishRun(ctx context.Context, summary *models.RunSummary) error {
	return s.dualWrite("FinishRun",
		func() error { return s.primary.FinishRun(ctx, summary) },
		func() error { return s.secondary.FinishRun(ctx, summary) },
	)
}

// ClearRun clears the run from both backends.
func (s *Store) ClearRun(ctx context.Context, runID string) error {
	// Clear primary first
	if err := s.primary.ClearRun(ctx, runID); err != nil {
		return fmt.Errorf("clear primary: %w", err)
	}

	// Clear secondary (best effort)
	if err := s.secondary.ClearRun(ctx, runID); err != nil {
		s.logger.Error("failed to clear run in secondary backend",
			"run_id", runID,
			"error", err,
		)
	}

	return nil
}

// ListRuns lists runs from primary backend only.
func (s *Store) ListRuns(ctx context.Context, dataSet string) ([]*models.RunSummary, error) {
	return s.primary.ListRuns(ctx, dataSet)
}

// NormalizedRecords reads from primary backend only.
func (s *Store) NormalizedRecords(ctx context.Context, runID string, limit int) ([]*models.NormalizedRecord, error) {
	return s.primary.NormalizedRecords(ctx, runID, limit)
}

// DiscardedRecords reads from primary backend only.
func (s *Store) DiscardedRecords(ctx context.Context, runID string, limit int) ([]*models.DiscardedRecord, error) {
	return s.primary.DiscardedRecords(ctx, runID, limit)
}

// Close closes both backends.
func (s *Store) Close() error {
	var primaryErr, secondaryErr error

	primaryErr = s.primary.Close()
	secondaryErr = s.secondary.Close()

	if primaryErr != nil {
		return fmt.Errorf("close primary: %w", primaryErr)
	}
	if secondaryErr != nil {
		return fmt.Errorf("close secondary: %w", secondaryErr)
	}

	return nil
}
