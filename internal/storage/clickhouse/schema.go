package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const schemaVersion = "1.0.0"

// InitializeSchema creates all required tables if they don't exist
func InitializeSchema(ctx context.Context, conn driver.Conn) error {
	// Create schema_version table first
	if err := createSchemaVersionTable(ctx, conn); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	// Check current schema version
	currentVersion, err := getCurrentSchemaVersion(ctx, conn)
	if err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	if currentVersion != "" && currentVersion != schemaVersion {
		return fmt.Errorf("schema version mismatch: database has %s, code expects %s", currentVersion, schemaVersion)
	}

	// Create all tables
	tables := []struct {
		name string
		ddl  string
	}{
		{"runs", runsTableDDL},
		{"normalized_records", normalizedTableDDL},
		{"discarded_records", discardedTableDDL},
	}

	for _, table := range tables {
		if err := conn.Exec(ctx, table.ddl); err != nil {
			return fmt.Errorf("creating table %s: %w", table.name, err)
		}
	}

	// Update schema version
	if currentVersion == "" {
		if err := setSchemaVersion(ctx, conn, schemaVersion); err != nil {
			return fmt.Errorf("setting schema version: %w", err)
		}
	}

	return nil
}

func createSchemaVersionTable(ctx context.Context, conn driver.Conn) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version String,
			applied_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree()
		ORDER BY applied_at
	`
	return conn.Exec(ctx, ddl)
}

func getCurrentSchemaVersion(ctx context.Context, conn driver.Conn) (string, error) {
	var version string
	row := conn.QueryRow(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1")
	err := row.Scan(&version)
	if err != nil && err.Error() != "sql: no rows in result set" {
		return "", err
	}
	return version, nil
}

func setSchemaVersion(ctx context.Context, conn driver.Conn, version string) error {
	return conn.Exec(ctx, "INSERT INTO schema_version (version) VALUES (?)", version)
}

const runsTableDDL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id String,
    data_set String,
    prefix LowCardinality(String),

    -- Record counts
    normalized UInt64,
    discarded UInt64,

    started DateTime64(3),
    finished DateTime64(3),
    aborted UInt8,
    repeated Array(String)

) ENGINE = ReplacingMergeTree(finished)
ORDER BY (data_set, run_id)
SETTINGS index_granularity = 8192
`

const normalizedTableDDL = `
CREATE TABLE IF NOT EXISTS normalized_records (
    run_id String,
    data_set String,
    record_index UInt64,
    identifier String,
    content String CODEC(ZSTD(3)),
    hash UInt64

) ENGINE = ReplacingMergeTree()
ORDER BY (run_id, record_index)
SETTINGS index_granularity = 8192
`

const discardedTableDDL = `
CREATE TABLE IF NOT EXISTS discarded_records (
    run_id String,
    data_set String,
    record_index UInt64,
    content String CODEC(ZSTD(3)),
    problems Array(String)

) ENGINE = ReplacingMergeTree()
ORDER BY (run_id, record_index)
SETTINGS index_granularity = 8192
`
