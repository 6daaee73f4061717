package stats

import (
	"encoding/base64"
	"fmt"

	"github.com/fidde/xml_profiler/pkg/models"
)

// SerializedFieldStatistics is the persisted form of finished statistics.
// Uniqueness is not persisted; only its verdict is.
type SerializedFieldStatistics struct {
	Path         models.Path       `json:"path"`
	Total        int               `json:"total"`
	Values       *SerializedValues `json:"values,omitempty"`
	UniqueValues bool              `json:"unique_values,omitempty"`
}

// SerializedValues is the persisted form of ValueStats.
type SerializedValues struct {
	Count       int                  `json:"count"`
	SampleSize  int                  `json:"sample_size"`
	Sample      []string             `json:"sample"`
	Histogram   *SerializedHistogram `json:"histogram,omitempty"`
	Cardinality string               `json:"cardinality,omitempty"`
	Shapes      map[string]int       `json:"shapes,omitempty"`
}

// SerializedHistogram is the persisted form of a Histogram.
type SerializedHistogram struct {
	MaxStorageSize int       `json:"max_storage_size"`
	MaxSize        int       `json:"max_size"`
	Total          int       `json:"total"`
	Trimmed        bool      `json:"trimmed"`
	Counters       []Counter `json:"counters"`
}

// SerializeFieldStatistics converts finished statistics for storage.
func SerializeFieldStatistics(fs *FieldStatistics) (*SerializedFieldStatistics, error) {
	out := &SerializedFieldStatistics{
		Path:  fs.path,
		Total: fs.total,
	}
	if fs.values == nil {
		return out, nil
	}
	vs := fs.values
	out.UniqueValues = vs.uniqueValues

	sketch, err := vs.cardinality.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshaling cardinality of %s: %w", fs.path, err)
	}
	out.Values = &SerializedValues{
		Count:       vs.count,
		SampleSize:  vs.sample.Size(),
		Sample:      vs.sample.Values(),
		Cardinality: base64.StdEncoding.EncodeToString(sketch),
		Shapes:      vs.shapes,
	}
	if h := vs.histogram; h != nil {
		out.Values.Histogram = &SerializedHistogram{
			MaxStorageSize: h.maxStorageSize,
			MaxSize:        h.maxSize,
			Total:          h.total,
			Trimmed:        h.trimmed,
			Counters:       copyCounters(h.sortedCounters()),
		}
	}
	return out, nil
}

// DeserializeFieldStatistics restores statistics written by
// SerializeFieldStatistics.
func DeserializeFieldStatistics(s *SerializedFieldStatistics) (*FieldStatistics, error) {
	fs := &FieldStatistics{path: s.Path, total: s.Total}
	if s.Values == nil {
		return fs, nil
	}
	sv := s.Values

	sample := NewRandomSample(sv.SampleSize)
	for _, v := range sv.Sample {
		sample.values[v] = struct{}{}
	}

	cardinality := NewCardinality(CardinalityPrecision)
	if sv.Cardinality != "" {
		data, err := base64.StdEncoding.DecodeString(sv.Cardinality)
		if err != nil {
			return nil, fmt.Errorf("decoding cardinality of %s: %w", s.Path, err)
		}
		if err := cardinality.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("decoding cardinality of %s: %w", s.Path, err)
		}
	}

	shapes := make(map[string]int, len(sv.Shapes))
	for k, v := range sv.Shapes {
		shapes[k] = v
	}

	vs := &ValueStats{
		count:        sv.Count,
		sample:       sample,
		cardinality:  cardinality,
		shapes:       shapes,
		uniqueValues: s.UniqueValues,
	}
	if sh := sv.Histogram; sh != nil {
		h := NewHistogram(sh.MaxStorageSize, sh.MaxSize)
		h.total = sh.Total
		h.trimmed = sh.Trimmed
		for _, c := range sh.Counters {
			counter := c
			h.counters[c.Value] = &counter
			h.storageSize += len(c.Value)
		}
		vs.histogram = h
	}
	fs.values = vs
	return fs, nil
}

func copyCounters(list []*Counter) []Counter {
	out := make([]Counter, len(list))
	for i, c := range list {
		out[i] = *c
	}
	return out
}
