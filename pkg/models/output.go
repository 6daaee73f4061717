package models

import "time"

// NormalizedRecord is a record that passed validation.
type NormalizedRecord struct {
	RunID      string `json:"run_id"`
	DataSet    string `json:"data_set"`
	Index      int    `json:"index"`
	Identifier string `json:"identifier"`
	Content    string `json:"content"`
	Hash       uint64 `json:"hash"`
}

// DiscardedRecord is a record that failed transformation or validation.
type DiscardedRecord struct {
	RunID    string   `json:"run_id"`
	DataSet  string   `json:"data_set"`
	Index    int      `json:"index"`
	Content  string   `json:"content"`
	Problems []string `json:"problems"`
}

// RunSummary describes one normalization run.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	DataSet    string    `json:"data_set"`
	Prefix     string    `json:"prefix"`
	Normalized int       `json:"normalized"`
	Discarded  int       `json:"discarded"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	Aborted    bool      `json:"aborted"`

	// RepeatedIdentifiers holds identifiers found more than once after the
	// identifier tracker spilled to disk. Earlier repeats are reported as
	// record problems.
	RepeatedIdentifiers []string `json:"repeated_identifiers,omitempty"`
}
