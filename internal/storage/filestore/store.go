// Package filestore keeps one directory per data set holding the imported
// source, its facts, profiling statistics and mappings. Files other than the
// statistics are versioned by content hash.
package filestore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/viant/afs"

	"github.com/fidde/xml_profiler/pkg/models"
)

// Default configuration values
const (
	DefaultHome = "./data/datasets"
)

// Config contains file store configuration.
type Config struct {
	// Home is the directory holding one subdirectory per data set
	Home string

	Logger *slog.Logger
}

// DefaultConfig returns the default file store configuration.
func DefaultConfig() Config {
	return Config{
		Home: getEnvOrDefault("XP_HOME", DefaultHome),
	}
}

// Store is the root of all data sets. It also holds mapping templates that
// are not tied to a data set.
type Store struct {
	home   string
	logger *slog.Logger
	fs     afs.Service
	mu     sync.RWMutex
}

// New creates the store, making the home directory if needed.
func New(config Config) (*Store, error) {
	if config.Home == "" {
		config.Home = DefaultHome
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if err := os.MkdirAll(config.Home, 0755); err != nil {
		return nil, &StoreError{Op: "create store", Path: config.Home, Err: err}
	}
	return &Store{
		home:   config.Home,
		logger: config.Logger,
		fs:     afs.New(),
	}, nil
}

// Home returns the store directory.
func (s *Store) Home() string {
	return s.home
}

// DataSets returns every data set, sorted by spec.
func (s *Store) DataSets() ([]*DataSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.home)
	if err != nil {
		return nil, &StoreError{Op: "list data sets", Path: s.home, Err: err}
	}
	var out []*DataSet
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		out = append(out, s.newDataSet(e.Name()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].spec < out[j].spec })
	return out, nil
}

// DataSet opens an existing data set.
func (s *Store) DataSet(spec string) (*DataSet, error) {
	if err := models.ValidateDataSetName(spec); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Join(s.home, spec)
	info, err := os.Stat(dir)
	if os.IsNotExist(err) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("data set %s: %w", spec, models.ErrNotFound)
	}
	if err != nil {
		return nil, &StoreError{Op: "open data set", Path: dir, Err: err}
	}
	return s.newDataSet(spec), nil
}

// CreateDataSet makes a new, empty data set. It fails if the directory exists.
func (s *Store) CreateDataSet(spec string) (*DataSet, error) {
	if err := models.ValidateDataSetName(spec); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.home, spec)
	if exists(dir) {
		return nil, fmt.Errorf("data set %s: %w", spec, models.ErrDataSetExists)
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, &StoreError{Op: "create data set", Path: dir, Err: err}
	}
	s.logger.Info("created data set", "spec", spec)
	return s.newDataSet(spec), nil
}

// DeleteDataSet removes a data set and everything in it.
func (s *Store) DeleteDataSet(spec string) error {
	ds, err := s.DataSet(spec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(ds.dir); err != nil {
		return &StoreError{Op: "delete data set", Path: ds.dir, Err: err}
	}
	s.logger.Info("deleted data set", "spec", spec)
	return nil
}

func (s *Store) newDataSet(spec string) *DataSet {
	return &DataSet{
		spec:   spec,
		dir:    filepath.Join(s.home, spec),
		logger: s.logger.With("spec", spec),
		fs:     s.fs,
	}
}

// Templates returns the stored mapping templates by name. Unreadable
// templates are deleted.
func (s *Store) Templates() (map[string]*models.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := listFiles(s.home, isTemplateFile)
	if err != nil {
		return nil, &StoreError{Op: "list templates", Path: s.home, Err: err}
	}
	out := make(map[string]*models.Mapping, len(files))
	for _, f := range files {
		path := filepath.Join(s.home, f.name)
		m, err := readMappingFile(path)
		if err != nil {
			s.logger.Warn("deleting unreadable template", "file", f.name, "error", err)
			if err := removeFile(path); err != nil && !os.IsNotExist(err) {
				return nil, &StoreError{Op: "delete template", Path: path, Err: err}
			}
			continue
		}
		out[templateName(f.name)] = m
	}
	return out, nil
}

// SetTemplate stores m as a named template.
func (s *Store) SetTemplate(name string, m *models.Mapping) error {
	if err := models.ValidateDataSetName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeMappingFile(filepath.Join(s.home, templateFileName(name)), m)
}

// DeleteTemplate removes a template if present.
func (s *Store) DeleteTemplate(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.home, templateFileName(name)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StoreError{Op: "delete template", Path: name, Err: err}
	}
	return nil
}

func templateFileName(name string) string {
	return TemplateFilePrefix + name + MappingFileSuffix
}

func isTemplateFile(name string) bool {
	return strings.HasPrefix(name, TemplateFilePrefix) && strings.HasSuffix(name, MappingFileSuffix)
}

func templateName(file string) string {
	return strings.TrimSuffix(strings.TrimPrefix(file, TemplateFilePrefix), MappingFileSuffix)
}

// StoreError wraps a file system failure with the operation and path.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
