// Package main is the entry point for the XML metadata profiler.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fidde/xml_profiler/internal/api"
	"github.com/fidde/xml_profiler/internal/config"
	"github.com/fidde/xml_profiler/internal/patterns"
	"github.com/fidde/xml_profiler/internal/storage"
	"github.com/fidde/xml_profiler/internal/storage/dual"
	"github.com/fidde/xml_profiler/internal/storage/filestore"
)

func main() {
	log.Println("Starting XML metadata profiler...")

	configPath := getEnv("XP_CONFIG", "config/config.yaml")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Loading config %s: %v", configPath, err)
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	files, err := filestore.New(filestore.Config{Home: cfg.Home, Logger: logger})
	if err != nil {
		log.Fatalf("Opening data set store: %v", err)
	}
	log.Printf("Data sets in %s", files.Home())

	ctx := context.Background()
	output, err := newOutput(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Creating output: %v", err)
	}
	defer func() {
		if err := output.Close(); err != nil {
			log.Printf("Error closing output: %v", err)
		}
	}()

	valuePatterns := patterns.DefaultPatterns()
	if cfg.PatternsFile != "" {
		loaded, err := patterns.LoadPatterns(cfg.PatternsFile)
		if err != nil {
			log.Printf("Using default value patterns: %v", err)
		} else {
			valuePatterns = loaded
		}
	}
	log.Printf("Loaded %d value patterns", len(valuePatterns))

	definitions, err := cfg.LoadRecordDefinitions()
	if err != nil {
		log.Fatalf("Loading record definitions: %v", err)
	}
	for prefix := range definitions {
		log.Printf("Record definition: %s", prefix)
	}

	apiServer := api.NewServer(api.Config{
		Addr:           cfg.APIAddr,
		Files:          files,
		Output:         output,
		Definitions:    definitions,
		Patterns:       valuePatterns,
		DiscardInvalid: cfg.DiscardInvalid,
		Logger:         logger,
	})

	// Start pprof server for profiling (separate port)
	if cfg.PprofAddr != "" {
		go func() {
			log.Printf("Starting pprof server on http://%s/debug/pprof", cfg.PprofAddr)
			if err := http.ListenAndServe(cfg.PprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		log.Printf("Starting REST API server on %s", cfg.APIAddr)
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// Give servers time to start
	time.Sleep(100 * time.Millisecond)
	log.Println("API endpoints:")
	log.Printf("  - Data sets: http://%s/api/v1/datasets", cfg.APIAddr)
	log.Printf("  - Definitions: http://%s/api/v1/definitions", cfg.APIAddr)
	log.Printf("  - Templates: http://%s/api/v1/templates", cfg.APIAddr)
	log.Printf("  - Health: http://%s/health", cfg.APIAddr)
	log.Printf("  - Metrics: http://%s/metrics", cfg.APIAddr)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigChan:
		log.Printf("Received signal: %v, shutting down...", sig)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Println("Shutting down API server...")
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down API server: %v", err)
	}

	log.Println("Shutdown complete")
}

// newOutput creates the configured output. The dual backend mirrors a
// SQLite primary into ClickHouse.
func newOutput(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Output, error) {
	outputCfg := storage.Config{
		Backend:        cfg.Output.Backend,
		SQLitePath:     cfg.Output.SQLitePath,
		ClickHouseAddr: cfg.Output.ClickHouseAddr,
		BatchSize:      cfg.Output.BatchSize,
		FlushInterval:  cfg.Output.FlushInterval,
		Logger:         logger,
	}
	if cfg.Output.Backend != "dual" {
		return storage.NewOutput(ctx, outputCfg)
	}

	outputCfg.Backend = "sqlite"
	primary, err := storage.NewOutput(ctx, outputCfg)
	if err != nil {
		return nil, err
	}
	outputCfg.Backend = "clickhouse"
	secondary, err := storage.NewOutput(ctx, outputCfg)
	if err != nil {
		primary.Close()
		return nil, err
	}
	log.Println("Dual output: SQLite primary, ClickHouse mirror")
	return dual.New(dual.Config{
		Primary:   primary,
		Secondary: secondary,
		Logger:    logger,
	}), nil
}

// getEnv gets an environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
