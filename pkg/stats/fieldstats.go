// Package stats holds the per-path value statistics gathered while
// profiling an XML source: a random sample, a bounded histogram, a
// uniqueness tracker and a cardinality sketch.
package stats

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/fidde/xml_profiler/pkg/models"
)

// Bounds applied to every path's value statistics.
const (
	RandomSampleSize        = 300
	HistogramMaxStorageSize = 64 * 1024
	HistogramMaxSize        = 2400
)

// FieldStatistics aggregates everything observed at one path.
type FieldStatistics struct {
	path   models.Path
	total  int
	values *ValueStats
}

// ValueStats exists only for paths that carried non-empty text.
type ValueStats struct {
	count        int
	sample       *RandomSample
	histogram    *Histogram
	uniqueness   *Uniqueness
	cardinality  *Cardinality
	shapes       map[string]int
	uniqueValues bool
}

func newValueStats() *ValueStats {
	return &ValueStats{
		sample:      NewRandomSample(RandomSampleSize),
		histogram:   NewHistogram(HistogramMaxStorageSize, HistogramMaxSize),
		uniqueness:  NewUniqueness(),
		cardinality: NewCardinality(CardinalityPrecision),
		shapes:      make(map[string]int),
	}
}

// NewFieldStatistics creates empty statistics for path.
func NewFieldStatistics(path models.Path) *FieldStatistics {
	return &FieldStatistics{path: path}
}

// RecordOccurrence counts one appearance of the element, with or without text.
func (fs *FieldStatistics) RecordOccurrence() {
	fs.total++
}

// RecordValue feeds a non-empty text value into the value statistics.
func (fs *FieldStatistics) RecordValue(value string) {
	if fs.values == nil {
		fs.values = newValueStats()
	}
	fs.values.recordValue(value)
}

// RecordShape counts the value shape (url, date, ...) of the last value.
func (fs *FieldStatistics) RecordShape(shape string) {
	if fs.values == nil || shape == "" {
		return
	}
	fs.values.shapes[shape]++
}

func (vs *ValueStats) recordValue(value string) {
	vs.count++
	vs.sample.RecordValue(value)
	vs.cardinality.Add(value)
	if vs.histogram != nil {
		vs.histogram.RecordValue(value)
		if vs.histogram.IsTooLarge() {
			vs.histogram.TrimmedCounters()
		} else if vs.histogram.IsTooMuchData() {
			vs.histogram = nil
		}
	}
	if vs.uniqueness != nil {
		// Long free text is never an identifier.
		if utf8.RuneCountInString(value) > TextSizeLimit || vs.uniqueness.IsRepeated(value) {
			vs.dropUniqueness()
		}
	}
}

func (vs *ValueStats) dropUniqueness() {
	vs.uniqueness.Close()
	vs.uniqueness = nil
}

// Finish settles uniqueness and trims the histogram. It must be called once
// after the last value.
func (fs *FieldStatistics) Finish() error {
	if fs.values == nil {
		return nil
	}
	vs := fs.values
	if vs.uniqueness != nil {
		repeated, err := vs.uniqueness.Repeated()
		vs.uniqueness = nil
		if err != nil {
			return fmt.Errorf("checking uniqueness of %s: %w", fs.path, err)
		}
		if len(repeated) == 0 && vs.count > 1 {
			vs.uniqueValues = true
			vs.histogram = nil
		}
	}
	if vs.histogram != nil {
		vs.histogram.TrimmedCounters()
	}
	return nil
}

// Close releases resources held by an unfinished pass.
func (fs *FieldStatistics) Close() error {
	if fs.values == nil || fs.values.uniqueness == nil {
		return nil
	}
	err := fs.values.uniqueness.Close()
	fs.values.uniqueness = nil
	return err
}

// Path returns the element path.
func (fs *FieldStatistics) Path() models.Path {
	return fs.path
}

// Total returns the number of occurrences.
func (fs *FieldStatistics) Total() int {
	return fs.total
}

// ValueCount returns the number of non-empty values recorded.
func (fs *FieldStatistics) ValueCount() int {
	if fs.values == nil {
		return 0
	}
	return fs.values.count
}

// HasValues reports whether any occurrence carried text.
func (fs *FieldStatistics) HasValues() bool {
	return fs.values != nil
}

// UniqueValues reports whether every value was distinct.
func (fs *FieldStatistics) UniqueValues() bool {
	return fs.values != nil && fs.values.uniqueValues
}

// Histogram returns the histogram, or nil when there are no values or it was
// discarded.
func (fs *FieldStatistics) Histogram() *Histogram {
	if fs.values == nil {
		return nil
	}
	return fs.values.histogram
}

// RandomSample returns the sample, or nil without values.
func (fs *FieldStatistics) RandomSample() *RandomSample {
	if fs.values == nil {
		return nil
	}
	return fs.values.sample
}

// EstimatedCardinality returns the sketch's distinct-value estimate.
func (fs *FieldStatistics) EstimatedCardinality() uint64 {
	if fs.values == nil {
		return 0
	}
	return fs.values.cardinality.Estimate()
}

// Shapes returns the value shape counts.
func (fs *FieldStatistics) Shapes() map[string]int {
	if fs.values == nil {
		return nil
	}
	out := make(map[string]int, len(fs.values.shapes))
	for k, v := range fs.values.shapes {
		out[k] = v
	}
	return out
}

// DominantShape returns the most frequent value shape, ties broken by name.
func (fs *FieldStatistics) DominantShape() string {
	best, bestCount := "", 0
	for shape, count := range fs.Shapes() {
		if count > bestCount || (count == bestCount && shape < best) {
			best, bestCount = shape, count
		}
	}
	return best
}

// HistogramValues returns the complete value set, or nil when the histogram
// is missing or trimmed.
func (fs *FieldStatistics) HistogramValues() []string {
	h := fs.Histogram()
	if h == nil || h.IsTrimmed() {
		return nil
	}
	values, err := h.Values()
	if err != nil {
		return nil
	}
	return values
}

// Summary renders a one-line human description of the path.
func (fs *FieldStatistics) Summary() string {
	if fs.values == nil {
		if fs.total == 1 {
			return "Element appears just once."
		}
		return fmt.Sprintf("Element appears %d times.", fs.total)
	}
	vs := fs.values
	switch {
	case vs.uniqueValues:
		return fmt.Sprintf("All %d values are completely unique", vs.count)
	case vs.histogram == nil:
		return fmt.Sprintf("Storage %dk exceeded, so histogram is discarded.", HistogramMaxStorageSize/1024)
	case vs.histogram.IsTrimmed():
		return fmt.Sprintf("Histogram size %d exceeded, so histogram is incomplete.", vs.histogram.MaxSize())
	case vs.histogram.Size() == 1:
		c := vs.histogram.TrimmedCounters()[0]
		return fmt.Sprintf("The single value '%s' appears %d times.", c.Value, c.Count)
	default:
		return fmt.Sprintf("There were %d different values, not all unique.", vs.histogram.Size())
	}
}

// String renders "path (total)".
func (fs *FieldStatistics) String() string {
	return fmt.Sprintf("%s (%d)", fs.path, fs.total)
}

// SortByPath orders statistics by their path rendering.
func SortByPath(list []*FieldStatistics) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].path.Compare(list[j].path) < 0
	})
}

// Find returns the statistics for path, or nil.
func Find(list []*FieldStatistics, path models.Path) *FieldStatistics {
	for _, fs := range list {
		if fs.path.Equal(path) {
			return fs
		}
	}
	return nil
}
