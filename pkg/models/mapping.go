package models

import (
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// FieldMapping copies values found at Source (relative to the record root)
// into the target field at Target.
type FieldMapping struct {
	Target string `yaml:"target" json:"target"`
	Source string `yaml:"source" json:"source"`
}

// Mapping binds a data set's source variables to the fields of one record
// definition, identified by Prefix. It also remembers the outcome of the
// last normalization run.
type Mapping struct {
	Prefix            string         `yaml:"prefix" json:"prefix"`
	Fields            []FieldMapping `yaml:"fields" json:"fields"`
	RecordsNormalized int            `yaml:"records_normalized" json:"records_normalized"`
	RecordsDiscarded  int            `yaml:"records_discarded" json:"records_discarded"`
	NormalizeTime     time.Time      `yaml:"normalize_time,omitempty" json:"normalize_time,omitempty"`
}

// NewMapping creates an empty mapping for prefix.
func NewMapping(prefix string) *Mapping {
	return &Mapping{Prefix: prefix}
}

// SetField adds or replaces the mapping for target and keeps the list
// ordered by target path.
func (m *Mapping) SetField(target, source string) {
	for i := range m.Fields {
		if m.Fields[i].Target == target {
			m.Fields[i].Source = source
			return
		}
	}
	m.Fields = append(m.Fields, FieldMapping{Target: target, Source: source})
	sort.Slice(m.Fields, func(i, j int) bool {
		return m.Fields[i].Target < m.Fields[j].Target
	})
}

// ClearCounters forgets the outcome of the previous run.
func (m *Mapping) ClearCounters() {
	m.RecordsNormalized = 0
	m.RecordsDiscarded = 0
	m.NormalizeTime = time.Time{}
}

// ReadMapping decodes a mapping from YAML.
func ReadMapping(r io.Reader) (*Mapping, error) {
	var m Mapping
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing mapping YAML: %w", err)
	}
	if m.Prefix == "" {
		return nil, fmt.Errorf("mapping has no prefix")
	}
	return &m, nil
}

// WriteMapping encodes m as YAML.
func WriteMapping(w io.Writer, m *Mapping) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encoding mapping YAML: %w", err)
	}
	return enc.Close()
}
