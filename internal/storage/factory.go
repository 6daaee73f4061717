package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fidde/xml_profiler/internal/storage/clickhouse"
	"github.com/fidde/xml_profiler/internal/storage/memory"
	"github.com/fidde/xml_profiler/internal/storage/sqlite"
)

// Config holds output configuration.
type Config struct {
	// Backend selects the output backend: "memory", "sqlite" or "clickhouse"
	Backend string

	// SQLite-specific config
	SQLitePath string

	// ClickHouse-specific config
	ClickHouseAddr string

	// Batching (shared). Zero selects the backend default.
	BatchSize     int
	FlushInterval time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns default output configuration.
func DefaultConfig() Config {
	return Config{
		Backend:        "sqlite",
		SQLitePath:     "./data/output.db",
		ClickHouseAddr: "localhost:9000",
	}
}

// NewOutput creates an output implementation based on configuration.
func NewOutput(ctx context.Context, cfg Config) (Output, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "memory":
		logger.Info("using in-memory output")
		return memory.New(), nil

	case "sqlite":
		logger.Info("using SQLite output", "path", cfg.SQLitePath)

		sqliteCfg := sqlite.DefaultConfig(cfg.SQLitePath)
		if cfg.BatchSize > 0 {
			sqliteCfg.BatchSize = cfg.BatchSize
		}
		if cfg.FlushInterval > 0 {
			sqliteCfg.FlushInterval = cfg.FlushInterval
		}

		store, err := sqlite.New(sqliteCfg)
		if err != nil {
			return nil, fmt.Errorf("creating SQLite output: %w", err)
		}
		return store, nil

	case "clickhouse":
		logger.Info("using ClickHouse output", "addr", cfg.ClickHouseAddr)

		chCfg := clickhouse.DefaultConfig()
		chCfg.Addr = cfg.ClickHouseAddr
		chCfg.BatchSize = cfg.BatchSize
		chCfg.FlushInterval = cfg.FlushInterval

		store, err := clickhouse.NewStore(ctx, chCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("creating ClickHouse output: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown output backend: %s (supported: memory, sqlite, clickhouse)", cfg.Backend)
	}
}
