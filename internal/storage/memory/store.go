// Package memory provides an in-memory output for normalized records.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/fidde/xml_profiler/pkg/models"
)

// Store is an in-memory output. It keeps everything until the run is
// cleared or the store is closed.
type Store struct {
	mu         sync.RWMutex
	normalized map[string][]*models.NormalizedRecord
	discarded  map[string][]*models.DiscardedRecord
	runs       map[string]*models.RunSummary
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		normalized: make(map[string][]*models.NormalizedRecord),
		discarded:  make(map[string][]*models.DiscardedRecord),
		runs:       make(map[string]*models.RunSummary),
	}
}

// WriteNormalized stores a record that passed validation.
func (s *Store) WriteNormalized(ctx context.Context, record *models.NormalizedRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if record.RunID == "" {
		return errors.New("record run ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *record
	s.normalized[record.RunID] = append(s.normalized[record.RunID], &copied)
	return nil
}

// WriteDiscarded stores a record that was discarded with its problems.
func (s *Store) WriteDiscarded(ctx context.Context, record *models.DiscardedRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if record.RunID == "" {
		return errors.New("record run ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *record
	copied.Problems = append([]string(nil), record.Problems...)
	s.discarded[record.RunID] = append(s.discarded[record.RunID], &copied)
	return nil
}

// FinishRun records the run summary.
func (s *Store) FinishRun(ctx context.Context, summary *models.RunSummary) error {
	if summary == nil || summary.RunID == "" {
		return errors.New("run summary needs a run ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *summary
	copied.RepeatedIdentifiers = append([]string(nil), summary.RepeatedIdentifiers...)
	s.runs[summary.RunID] = &copied
	return nil
}

// ClearRun forgets every record and the summary of a run.
func (s *Store) ClearRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.normalized, runID)
	delete(s.discarded, runID)
	delete(s.runs, runID)
	return nil
}

// ListRuns returns the finished runs of a data set, newest first. An empty
// data set name lists every run.
func (s *Store) ListRuns(ctx context.Context, dataSet string) ([]*models.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*models.RunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		if dataSet != "" && run.DataSet != dataSet {
			continue
		}
		copied := *run
		runs = append(runs, &copied)
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].Started.Equal(runs[j].Started) {
			return runs[i].Started.After(runs[j].Started)
		}
		return runs[i].RunID < runs[j].RunID
	})

	return runs, nil
}

// NormalizedRecords returns up to limit normalized records of a run by
// index. A limit of zero or less returns all of them.
func (s *Store) NormalizedRecords(ctx context.Context, runID string, limit int) ([]*models.NormalizedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := append([]*models.NormalizedRecord(nil), s.normalized[runID]...)
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// DiscardedRecords returns up to limit discarded records of a run by index.
func (s *Store) DiscardedRecords(ctx context.Context, runID string, limit int) ([]*models.DiscardedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := append([]*models.DiscardedRecord(nil), s.discarded[runID]...)
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
