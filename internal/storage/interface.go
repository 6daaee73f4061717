// Package storage defines the output interface for normalized records.
package storage

import (
	"context"

	"github.com/fidde/xml_profiler/pkg/models"
)

// Output receives the records of normalization runs. A run writes any
// number of normalized and discarded records and ends with FinishRun, or
// with ClearRun when it was aborted. Implementations must be safe for
// concurrent use.
type Output interface {
	// Record operations
	WriteNormalized(ctx context.Context, record *models.NormalizedRecord) error
	WriteDiscarded(ctx context.Context, record *models.DiscardedRecord) error

	// Run operations
	FinishRun(ctx context.Context, summary *models.RunSummary) error
	ClearRun(ctx context.Context, runID string) error
	ListRuns(ctx context.Context, dataSet string) ([]*models.RunSummary, error)

	// Read back the records of a run, ordered by index
	NormalizedRecords(ctx context.Context, runID string, limit int) ([]*models.NormalizedRecord, error)
	DiscardedRecords(ctx context.Context, runID string, limit int) ([]*models.DiscardedRecord, error)

	// Close the output (for cleanup, e.g., DB connections)
	Close() error
}
