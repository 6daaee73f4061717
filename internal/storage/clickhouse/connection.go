package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	defaultPoolSize    = 4
	defaultDialTimeout = 10 * time.Second
	defaultMaxRetries  = 3
	defaultRetryDelay  = 1 * time.Second
)

// ConnectionConfig holds ClickHouse connection parameters. Credentials
// default to the XP_CLICKHOUSE_* environment.
type ConnectionConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	TLS      *tls.Config

	// PoolSize bounds both open and idle connections
	PoolSize    int
	DialTimeout time.Duration
	MaxRetries  int

	// Compress enables LZ4 on the native protocol
	Compress bool

	BatchSize     int           // rows buffered per table before a flush
	FlushInterval time.Duration // max time between flushes
}

// DefaultConfig returns a connection config for a local server.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Addr:        "localhost:9000",
		Database:    envOr("XP_CLICKHOUSE_DATABASE", "default"),
		Username:    envOr("XP_CLICKHOUSE_USER", "default"),
		Password:    os.Getenv("XP_CLICKHOUSE_PASSWORD"),
		PoolSize:    defaultPoolSize,
		DialTimeout: defaultDialTimeout,
		MaxRetries:  defaultMaxRetries,
		Compress:    true,
	}
}

func (c *ConnectionConfig) options() *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr: []string{c.Addr},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      c.DialTimeout,
		MaxOpenConns:     c.PoolSize,
		MaxIdleConns:     c.PoolSize,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		TLS:              c.TLS,
	}
	if c.Compress {
		opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	}
	return opts
}

// Connect opens a connection and pings it, retrying with a doubling delay.
func Connect(ctx context.Context, config *ConnectionConfig, logger *slog.Logger) (driver.Conn, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	var conn driver.Conn
	var err error
	delay := defaultRetryDelay
	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		conn, err = clickhouse.Open(config.options())
		if err == nil {
			if err = conn.Ping(ctx); err == nil {
				return conn, nil
			}
			conn.Close()
		}
		if attempt == config.MaxRetries {
			break
		}

		logger.Warn("ClickHouse not reachable, retrying",
			"addr", config.Addr,
			"attempt", attempt,
			"delay", delay,
			"error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}

	return nil, fmt.Errorf("connecting to ClickHouse at %s after %d attempts: %w", config.Addr, config.MaxRetries, err)
}

func envOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
