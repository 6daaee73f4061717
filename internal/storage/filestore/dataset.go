package filestore

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/viant/afs"

	"github.com/fidde/xml_profiler/internal/metrics"
	"github.com/fidde/xml_profiler/pkg/hasher"
	"github.com/fidde/xml_profiler/pkg/models"
	"github.com/fidde/xml_profiler/pkg/stats"
)

// DataSet is one data set directory. A DataSet is not safe for concurrent
// mutation; callers run at most one operation per data set at a time.
type DataSet struct {
	spec   string
	dir    string
	logger *slog.Logger
	fs     afs.Service
}

// Spec returns the data set name.
func (ds *DataSet) Spec() string {
	return ds.spec
}

// Dir returns the data set directory.
func (ds *DataSet) Dir() string {
	return ds.dir
}

// HasSource reports whether any source file exists.
func (ds *DataSet) HasSource() bool {
	files, err := listFiles(ds.dir, isSourceFile)
	return err == nil && len(files) > 0
}

// SourceFile returns the path of the current source version.
func (ds *DataSet) SourceFile() (string, error) {
	path, err := resolveLatest(ds.dir, isSourceFile, SourceFileName)
	if err != nil {
		return "", &StoreError{Op: "resolve source", Path: ds.dir, Err: err}
	}
	return path, nil
}

// SourceHash returns the hash of the current source, or "" without one.
func (ds *DataSet) SourceHash() string {
	path, err := ds.SourceFile()
	if err != nil {
		return ""
	}
	return hasher.ExtractHash(path)
}

// OpenSource returns a reader over the decompressed current source.
func (ds *DataSet) OpenSource() (io.ReadCloser, error) {
	path, err := ds.SourceFile()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("data set %s: %w", ds.spec, models.ErrNoSource)
	}
	if err != nil {
		return nil, &StoreError{Op: "open source", Path: path, Err: err}
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, &StoreError{Op: "open source", Path: path, Err: err}
	}
	return &gzipFile{Reader: gz, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	g.Reader.Close()
	return g.file.Close()
}

// CheckSource verifies the current source against the hash in its name.
func (ds *DataSet) CheckSource() (bool, error) {
	path, err := ds.SourceFile()
	if err != nil {
		return false, err
	}
	if !exists(path) {
		return false, fmt.Errorf("data set %s: %w", ds.spec, models.ErrNoSource)
	}
	return hasher.CheckHash(path)
}

// ImportFile imports a local .xml or .xml.gz file as the new source.
func (ds *DataSet) ImportFile(ctx context.Context, path string, listener models.ProgressListener) error {
	if !strings.HasSuffix(path, ".xml") && !strings.HasSuffix(path, ".xml.gz") {
		return fmt.Errorf("import %s: file must end in .xml or .xml.gz", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return &StoreError{Op: "import", Path: path, Err: err}
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return &StoreError{Op: "import", Path: path, Err: err}
	}
	return ds.ImportReader(ctx, f, strings.HasSuffix(path, ".gz"), info.Size(), listener)
}

// ImportURL imports a source from any location the afs service can read,
// such as file://, s3:// or gs:// URLs.
func (ds *DataSet) ImportURL(ctx context.Context, URL string, listener models.ProgressListener) error {
	var size int64
	if obj, err := ds.fs.Object(ctx, URL); err == nil {
		size = obj.Size()
	}
	r, err := ds.fs.OpenURL(ctx, URL)
	if err != nil {
		return &StoreError{Op: "import", Path: URL, Err: err}
	}
	defer r.Close()
	return ds.ImportReader(ctx, r, strings.HasSuffix(URL, ".gz"), size, listener)
}

// ImportReader copies r into a fresh gzip source while hashing the
// uncompressed bytes, then renames it to its hash-qualified name. Progress
// is reported in BlockSize units of the raw input. A cancelled import leaves
// the data set without any source or statistics.
func (ds *DataSet) ImportReader(ctx context.Context, r io.Reader, gzipped bool, size int64, listener models.ProgressListener) error {
	return ds.importSource(ctx, r, gzipped, size, listener, true)
}

func (ds *DataSet) importSource(ctx context.Context, r io.Reader, gzipped bool, size int64, listener models.ProgressListener, local bool) error {
	if listener == nil {
		listener = models.NopProgress
	}
	start := time.Now()
	target := filepath.Join(ds.dir, SourceFileName)

	counter := &countingReader{r: r}
	var in io.Reader = counter
	if gzipped {
		gz, err := gzip.NewReader(counter)
		if err != nil {
			listener.Finished(false)
			return &StoreError{Op: "import", Path: ds.spec, Err: err}
		}
		defer gz.Close()
		in = gz
	}

	out, err := os.Create(target)
	if err != nil {
		listener.Finished(false)
		return &StoreError{Op: "import", Path: target, Err: err}
	}
	gzOut := gzip.NewWriter(out)
	h := hasher.New()
	w := io.MultiWriter(gzOut, h)

	listener.SetTotal(int(size / BlockSize))
	buf := make([]byte, BlockSize)
	var written int64
	cancelled := false
	var copyErr error
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				copyErr = werr
				break
			}
			written += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			copyErr = err
			break
		}
		if ctx.Err() != nil || !listener.SetProgress(int(counter.n/BlockSize)) {
			cancelled = true
			break
		}
	}

	closeErr := gzOut.Close()
	if err := out.Close(); closeErr == nil {
		closeErr = err
	}
	if copyErr == nil && !cancelled {
		copyErr = closeErr
	}

	if cancelled || copyErr != nil {
		listener.Finished(false)
		if err := removeFile(target); err != nil && !os.IsNotExist(err) {
			return &StoreError{Op: "remove partial source", Path: target, Err: err}
		}
		if !cancelled {
			return &StoreError{Op: "import", Path: ds.spec, Err: copyErr}
		}
		if err := ds.ClearSource(); err != nil {
			return err
		}
		ds.logger.Info("import cancelled")
		return models.ErrAborted
	}

	hashed := filepath.Join(ds.dir, hasher.QualifiedName(h.String(), SourceFileName))
	if err := os.Rename(target, hashed); err != nil {
		listener.Finished(false)
		return &StoreError{Op: "import", Path: hashed, Err: err}
	}
	now := time.Now()
	if err := os.Chtimes(hashed, now, now); err != nil {
		listener.Finished(false)
		return &StoreError{Op: "touch", Path: hashed, Err: err}
	}

	if facts, err := ds.Facts(); local && err == nil && facts.IsDownloadedSource() {
		facts.SetDownloadedSource(false)
		if err := ds.SetFacts(facts); err != nil {
			ds.logger.Warn("clearing downloaded flag", "error", err)
		}
	}
	if err := ds.deleteStatistics(); err != nil {
		ds.logger.Warn("deleting stale statistics", "error", err)
	}

	listener.Finished(true)
	metrics.ImportBytes.Add(float64(written))
	metrics.PassDuration.WithLabelValues("import").Observe(time.Since(start).Seconds())
	ds.logger.Info("imported source",
		"hash", h.String(),
		"size", humanize.Bytes(uint64(written)),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ClearSource deletes every source version and the statistics.
func (ds *DataSet) ClearSource() error {
	files, err := listFiles(ds.dir, isSourceFile)
	if err != nil {
		return &StoreError{Op: "clear source", Path: ds.dir, Err: err}
	}
	for _, f := range files {
		if err := removeFile(filepath.Join(ds.dir, f.name)); err != nil && !os.IsNotExist(err) {
			return &StoreError{Op: "clear source", Path: f.name, Err: err}
		}
	}
	return ds.deleteStatistics()
}

// Facts reads the current facts. A data set without a facts file has empty
// facts.
func (ds *DataSet) Facts() (*models.Facts, error) {
	path, err := ds.FactsFile()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return models.NewFacts(), nil
	}
	if err != nil {
		return nil, &StoreError{Op: "read facts", Path: path, Err: err}
	}
	defer f.Close()
	return models.ReadFacts(f)
}

// FactsFile returns the path of the current facts version. The file need
// not exist yet.
func (ds *DataSet) FactsFile() (string, error) {
	path, err := resolveLatest(ds.dir, isFactsFile, FactsFileName)
	if err != nil {
		return "", &StoreError{Op: "resolve facts", Path: ds.dir, Err: err}
	}
	return path, nil
}

// SetFacts writes facts to the unhashed facts file, which then takes
// precedence over hashed versions.
func (ds *DataSet) SetFacts(facts *models.Facts) error {
	path := filepath.Join(ds.dir, FactsFileName)
	f, err := os.Create(path)
	if err != nil {
		return &StoreError{Op: "write facts", Path: path, Err: err}
	}
	if _, err := facts.WriteTo(f); err != nil {
		f.Close()
		return &StoreError{Op: "write facts", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &StoreError{Op: "write facts", Path: path, Err: err}
	}
	return nil
}

// Statistics returns the stored profile, or nil when none exists. A corrupt
// statistics file is deleted and reported as absent.
func (ds *DataSet) Statistics() ([]*stats.FieldStatistics, error) {
	path := filepath.Join(ds.dir, StatisticsFileName)
	data, err := readGzip(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err == nil {
		var list []*stats.FieldStatistics
		list, err = unmarshalStatistics(data)
		if err == nil {
			return list, nil
		}
	}
	ds.logger.Warn("deleting unreadable statistics", "error", err)
	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		return nil, &StoreError{Op: "delete statistics", Path: path, Err: rmErr}
	}
	return nil, nil
}

// HasStatistics reports whether a statistics file exists.
func (ds *DataSet) HasStatistics() bool {
	return exists(filepath.Join(ds.dir, StatisticsFileName))
}

// SetStatistics persists a profile, replacing any previous one.
func (ds *DataSet) SetStatistics(list []*stats.FieldStatistics) error {
	data, err := marshalStatistics(list)
	if err != nil {
		return err
	}
	path := filepath.Join(ds.dir, StatisticsFileName)
	if err := writeGzip(path, data); err != nil {
		return &StoreError{Op: "write statistics", Path: path, Err: err}
	}
	ds.logger.Debug("stored statistics", "paths", len(list), "size", humanize.Bytes(uint64(len(data))))
	return nil
}

func (ds *DataSet) deleteStatistics() error {
	path := filepath.Join(ds.dir, StatisticsFileName)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StoreError{Op: "delete statistics", Path: path, Err: err}
	}
	return nil
}

// Mapping returns the current mapping for prefix, or a fresh empty mapping.
func (ds *DataSet) Mapping(prefix string) (*models.Mapping, error) {
	path, err := ds.MappingFile(prefix)
	if err != nil {
		return nil, err
	}
	m, err := readMappingFile(path)
	if os.IsNotExist(err) {
		return models.NewMapping(prefix), nil
	}
	if err != nil {
		return nil, &StoreError{Op: "read mapping", Path: path, Err: err}
	}
	return m, nil
}

// MappingFile returns the path of the current mapping version for prefix.
func (ds *DataSet) MappingFile(prefix string) (string, error) {
	path, err := resolveLatest(ds.dir, isMappingFileFor(prefix), mappingFileName(prefix))
	if err != nil {
		return "", &StoreError{Op: "resolve mapping", Path: ds.dir, Err: err}
	}
	return path, nil
}

// SetMapping writes m to the unhashed mapping file for its prefix.
func (ds *DataSet) SetMapping(m *models.Mapping) error {
	return writeMappingFile(filepath.Join(ds.dir, mappingFileName(m.Prefix)), m)
}

// MappingPrefixes lists the prefixes that have mapping files.
func (ds *DataSet) MappingPrefixes() ([]string, error) {
	files, err := listFiles(ds.dir, func(name string) bool {
		_, ok := mappingPrefix(name)
		return ok
	})
	if err != nil {
		return nil, &StoreError{Op: "list mappings", Path: ds.dir, Err: err}
	}
	seen := make(map[string]bool)
	var out []string
	for _, f := range files {
		p, _ := mappingPrefix(f.name)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Mappings returns the current mapping for every prefix.
func (ds *DataSet) Mappings() (map[string]*models.Mapping, error) {
	prefixes, err := ds.MappingPrefixes()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Mapping, len(prefixes))
	for _, p := range prefixes {
		m, err := ds.Mapping(p)
		if err != nil {
			return nil, err
		}
		out[p] = m
	}
	return out, nil
}

// Info summarizes a data set for listings.
type Info struct {
	Spec          string            `json:"spec"`
	HasSource     bool              `json:"has_source"`
	SourceHash    string            `json:"source_hash,omitempty"`
	HasStatistics bool              `json:"has_statistics"`
	Facts         map[string]string `json:"facts"`
	Mappings      []string          `json:"mappings"`
}

// Info reads the data set summary.
func (ds *DataSet) Info() (*Info, error) {
	facts, err := ds.Facts()
	if err != nil {
		return nil, err
	}
	prefixes, err := ds.MappingPrefixes()
	if err != nil {
		return nil, err
	}
	return &Info{
		Spec:          ds.spec,
		HasSource:     ds.HasSource(),
		SourceHash:    ds.SourceHash(),
		HasStatistics: ds.HasStatistics(),
		Facts:         facts.Map(),
		Mappings:      prefixes,
	}, nil
}
