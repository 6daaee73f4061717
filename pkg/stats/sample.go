package stats

import (
	"math/rand/v2"
	"sort"
)

// RandomSample keeps a bounded, roughly uniform sample of distinct values.
// It grows freely up to its size, after which new values are admitted with
// 10% probability; once it doubles past the size, each value is dropped
// with 50% probability.
type RandomSample struct {
	size   int
	values map[string]struct{}
	rng    *rand.Rand
}

// NewRandomSample creates a sample bounded around size values.
func NewRandomSample(size int) *RandomSample {
	return &RandomSample{
		size:   size,
		values: make(map[string]struct{}),
		rng:    rand.New(rand.NewPCG(uint64(size), 0x9e3779b97f4a7c15)),
	}
}

// RecordValue offers value to the sample.
func (s *RandomSample) RecordValue(value string) {
	if len(s.values) < s.size || s.rng.IntN(10) == 0 {
		s.values[value] = struct{}{}
	}
	if len(s.values) > s.size*2 {
		for v := range s.values {
			if s.rng.IntN(2) == 0 {
				delete(s.values, v)
			}
		}
	}
}

// Size returns the nominal sample size.
func (s *RandomSample) Size() int {
	return s.size
}

// Len returns the number of values currently held.
func (s *RandomSample) Len() int {
	return len(s.values)
}

// Values returns the sampled values in ascending order.
func (s *RandomSample) Values() []string {
	out := make([]string, 0, len(s.values))
	for v := range s.values {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
