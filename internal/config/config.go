// Package config loads the server configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fidde/xml_profiler/pkg/models"
)

// Config is the complete server configuration.
type Config struct {
	// Home is the file store root holding one directory per data set
	Home string `yaml:"home"`

	APIAddr   string `yaml:"api_addr"`
	PprofAddr string `yaml:"pprof_addr"`
	LogLevel  string `yaml:"log_level"`

	Output OutputConfig `yaml:"output"`

	// Target record definitions, one YAML file each
	RecordDefinitions []string `yaml:"record_definitions"`

	// PatternsFile overrides the built-in value shapes when set
	PatternsFile string `yaml:"patterns_file"`

	// DiscardInvalid drops records with validation problems from the
	// normalized output instead of writing them anyway
	DiscardInvalid bool `yaml:"discard_invalid"`
}

// OutputConfig selects where normalized records go.
type OutputConfig struct {
	// Backend is one of memory, sqlite, clickhouse or dual. Dual writes to
	// SQLite and mirrors to ClickHouse.
	Backend        string        `yaml:"backend"`
	SQLitePath     string        `yaml:"sqlite_path"`
	ClickHouseAddr string        `yaml:"clickhouse_addr"`
	BatchSize      int           `yaml:"batch_size"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Home:      "./data/datasets",
		APIAddr:   "0.0.0.0:8080",
		PprofAddr: "localhost:6060",
		LogLevel:  "info",
		Output: OutputConfig{
			Backend:        "sqlite",
			SQLitePath:     "./data/output.db",
			ClickHouseAddr: "localhost:9000",
		},
		DiscardInvalid: true,
	}
}

// Load reads the YAML file at path over the defaults and applies the XP_*
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config YAML: %w", err)
			}
			cfg.resolve(filepath.Dir(path))
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolve makes definition and pattern files relative to the config file.
func (c *Config) resolve(dir string) {
	for i, def := range c.RecordDefinitions {
		if !filepath.IsAbs(def) {
			c.RecordDefinitions[i] = filepath.Join(dir, def)
		}
	}
	if c.PatternsFile != "" && !filepath.IsAbs(c.PatternsFile) {
		c.PatternsFile = filepath.Join(dir, c.PatternsFile)
	}
}

func (c *Config) applyEnv() {
	c.Home = getEnv("XP_HOME", c.Home)
	c.APIAddr = getEnv("XP_API_ADDR", c.APIAddr)
	c.PprofAddr = getEnv("XP_PPROF_ADDR", c.PprofAddr)
	c.LogLevel = getEnv("XP_LOG_LEVEL", c.LogLevel)
	c.Output.Backend = getEnv("XP_OUTPUT_BACKEND", c.Output.Backend)
	c.Output.SQLitePath = getEnv("XP_SQLITE_PATH", c.Output.SQLitePath)
	c.Output.ClickHouseAddr = getEnv("XP_CLICKHOUSE_ADDR", c.Output.ClickHouseAddr)
	c.Output.BatchSize = getEnvInt("XP_BATCH_SIZE", c.Output.BatchSize)
	c.DiscardInvalid = getEnvBool("XP_DISCARD_INVALID", c.DiscardInvalid)
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Output.Backend {
	case "memory", "sqlite", "clickhouse", "dual":
	default:
		return fmt.Errorf("unknown output backend: %s", c.Output.Backend)
	}
	if c.Home == "" {
		return fmt.Errorf("home directory not set")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Logger builds the process logger at the configured level.
func (c *Config) Logger() *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
}

// LoadRecordDefinitions reads every configured definition, keyed by prefix.
func (c *Config) LoadRecordDefinitions() (map[string]*models.RecordDefinition, error) {
	defs := make(map[string]*models.RecordDefinition, len(c.RecordDefinitions))
	for _, path := range c.RecordDefinitions {
		def, err := models.LoadRecordDefinition(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		if _, dup := defs[def.Prefix]; dup {
			return nil, fmt.Errorf("record definition %s defined twice", def.Prefix)
		}
		defs[def.Prefix] = def
	}
	return defs, nil
}

// getEnv gets an environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default fallback.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
