//go:build integration
// +build integration

package clickhouse

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fidde/xml_profiler/pkg/models"
)

// TestClickHouseIntegration tests basic ClickHouse operations
// Run with: go test -tags=integration ./internal/storage/clickhouse -v
func TestClickHouseIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()

	// Create logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// Use default config
	config := DefaultConfig()

	// Create store
	store, err := NewStore(ctx, config, logger)
	if err != nil {
		t.Skipf("ClickHouse not available: %v", err)
	}
	defer store.Close()

	runID := uuid.NewString()
	started := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("WriteAndReadRecords", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			err := store.WriteNormalized(ctx, &models.NormalizedRecord{
				RunID:      runID,
				DataSet:    "integration",
				Index:      i,
				Identifier: "obj",
				Content:    "<record/>",
				Hash:       ^uint64(0),
			})
			if err != nil {
				t.Fatalf("Failed to write record: %v", err)
			}
		}
		err := store.WriteDiscarded(ctx, &models.DiscardedRecord{
			RunID:    runID,
			DataSet:  "integration",
			Index:    3,
			Content:  "<record/>",
			Problems: []string{"Required field violation for [Rights]"},
		})
		if err != nil {
			t.Fatalf("Failed to write discarded record: %v", err)
		}

		summary := &models.RunSummary{
			RunID:      runID,
			DataSet:    "integration",
			Prefix:     "abm",
			Normalized: 3,
			Discarded:  1,
			Started:    started,
			Finished:   started.Add(time.Second),
		}
		if err := store.FinishRun(ctx, summary); err != nil {
			t.Fatalf("Failed to finish run: %v", err)
		}

		records, err := store.NormalizedRecords(ctx, runID, 2)
		if err != nil {
			t.Fatalf("Failed to read records: %v", err)
		}
		if len(records) != 2 {
			t.Errorf("Expected 2 records, got %d", len(records))
		}
		if len(records) > 0 && records[0].Hash != ^uint64(0) {
			t.Errorf("Hash mismatch: %x", records[0].Hash)
		}

		discarded, err := store.DiscardedRecords(ctx, runID, 0)
		if err != nil {
			t.Fatalf("Failed to read discarded records: %v", err)
		}
		if len(discarded) != 1 || len(discarded[0].Problems) != 1 {
			t.Errorf("Unexpected discarded records: %+v", discarded)
		}
	})

	t.Run("ListRuns", func(t *testing.T) {
		runs, err := store.ListRuns(ctx, "integration")
		if err != nil {
			t.Fatalf("Failed to list runs: %v", err)
		}
		found := false
		for _, run := range runs {
			if run.RunID == runID {
				found = true
				if run.Normalized != 3 || run.Discarded != 1 {
					t.Errorf("Unexpected counts: %+v", run)
				}
			}
		}
		if !found {
			t.Errorf("Run %s not listed", runID)
		}
	})

	t.Run("ClearRun", func(t *testing.T) {
		if err := store.ClearRun(ctx, runID); err != nil {
			t.Fatalf("Failed to clear run: %v", err)
		}
		records, err := store.NormalizedRecords(ctx, runID, 0)
		if err != nil {
			t.Fatalf("Failed to read records: %v", err)
		}
		if len(records) != 0 {
			t.Errorf("Expected no records after clear, got %d", len(records))
		}
	})
}
