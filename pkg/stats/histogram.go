package stats

import (
	"errors"
	"fmt"
	"sort"
)

// Oversampling lets a histogram grow past its nominal size before trimming.
const Oversampling = 1.2

// ErrHistogramTrimmed is returned when raw values are requested from a
// histogram that has lost its tail.
var ErrHistogramTrimmed = errors.New("histogram has been trimmed")

// Counter is one histogram bucket.
type Counter struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Histogram counts occurrences of distinct values with bounded size and
// bounded storage.
type Histogram struct {
	maxStorageSize int
	maxSize        int
	total          int
	storageSize    int
	trimmed        bool
	counters       map[string]*Counter
}

// NewHistogram creates a histogram bounded by storage bytes and entry count.
func NewHistogram(maxStorageSize, maxSize int) *Histogram {
	return &Histogram{
		maxStorageSize: maxStorageSize,
		maxSize:        maxSize,
		counters:       make(map[string]*Counter),
	}
}

// RecordValue counts one occurrence of value.
func (h *Histogram) RecordValue(value string) {
	c, ok := h.counters[value]
	if !ok {
		c = &Counter{Value: value}
		h.counters[value] = c
		h.storageSize += len(value)
	}
	c.Count++
	h.total++
}

// Total returns the number of recorded occurrences.
func (h *Histogram) Total() int {
	return h.total
}

// Size returns the number of distinct values held.
func (h *Histogram) Size() int {
	return len(h.counters)
}

// StorageSize returns the bytes held by distinct values.
func (h *Histogram) StorageSize() int {
	return h.storageSize
}

// MaxSize returns the nominal entry bound.
func (h *Histogram) MaxSize() int {
	return h.maxSize
}

// MaxStorageSize returns the storage bound in bytes.
func (h *Histogram) MaxStorageSize() int {
	return h.maxStorageSize
}

// IsTrimmed reports whether entries have been dropped.
func (h *Histogram) IsTrimmed() bool {
	return h.trimmed
}

// IsTooLarge reports whether the entry count exceeds the oversampled bound.
func (h *Histogram) IsTooLarge() bool {
	return len(h.counters) > int(float64(h.maxSize)*Oversampling)
}

// IsTooMuchData reports whether the distinct values exceed the storage bound.
func (h *Histogram) IsTooMuchData() bool {
	return h.storageSize > h.maxStorageSize
}

// Values returns every distinct value. It fails once the histogram is trimmed.
func (h *Histogram) Values() ([]string, error) {
	if h.trimmed {
		return nil, ErrHistogramTrimmed
	}
	out := make([]string, 0, len(h.counters))
	for v := range h.counters {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

// TrimmedCounters returns the counters by count descending, then value
// ascending. When more than MaxSize entries exist the tail is dropped for
// good and the histogram is marked trimmed.
func (h *Histogram) TrimmedCounters() []Counter {
	list := h.sortedCounters()
	if len(list) > h.maxSize {
		h.trimmed = true
		for _, c := range list[h.maxSize:] {
			delete(h.counters, c.Value)
			h.storageSize -= len(c.Value)
		}
		list = list[:h.maxSize]
	}
	out := make([]Counter, len(list))
	for i, c := range list {
		out[i] = *c
	}
	return out
}

func (h *Histogram) sortedCounters() []*Counter {
	list := make([]*Counter, 0, len(h.counters))
	for _, c := range h.counters {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Count != list[j].Count {
			return list[i].Count > list[j].Count
		}
		return list[i].Value < list[j].Value
	})
	return list
}

// Percentage renders c's share of the histogram total.
func (h *Histogram) Percentage(c Counter) string {
	if h.total == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(c.Count)*100/float64(h.total))
}
