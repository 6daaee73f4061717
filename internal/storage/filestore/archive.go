package filestore

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fidde/xml_profiler/pkg/hasher"
	"github.com/fidde/xml_profiler/pkg/models"
)

// AcceptArchive unpacks a data set archive as produced by a repository
// download. The gzip source entry is re-compressed and hashed like an
// import; facts and mapping entries are copied and hash-qualified; other
// entries are ignored. The source is imported last so the archive's facts
// are in place first, and the data set is marked as downloaded.
func (ds *DataSet) AcceptArchive(ctx context.Context, r io.ReaderAt, size int64, listener models.ProgressListener) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return &StoreError{Op: "accept archive", Path: ds.spec, Err: err}
	}

	var source *zip.File
	for _, f := range zr.File {
		name := filepath.Base(f.Name)
		switch {
		case f.FileInfo().IsDir():
		case isSourceFile(name):
			source = f
		case isFactsFile(name), isMappingName(name):
			if err := ds.copyArchiveEntry(f, name); err != nil {
				return err
			}
		default:
			ds.logger.Debug("skipping archive entry", "name", f.Name)
		}
	}
	if source == nil {
		return fmt.Errorf("archive for %s: %w", ds.spec, models.ErrNoSource)
	}

	rc, err := source.Open()
	if err != nil {
		return &StoreError{Op: "accept archive", Path: source.Name, Err: err}
	}
	defer rc.Close()
	if err := ds.importSource(ctx, rc, true, int64(source.UncompressedSize64), listener, false); err != nil {
		return err
	}

	facts, err := ds.Facts()
	if err != nil {
		return err
	}
	if facts.SetDownloadedSource(true) {
		return ds.SetFacts(facts)
	}
	return nil
}

func isMappingName(name string) bool {
	_, ok := mappingPrefix(name)
	return ok
}

func (ds *DataSet) copyArchiveEntry(f *zip.File, name string) error {
	rc, err := f.Open()
	if err != nil {
		return &StoreError{Op: "accept archive", Path: f.Name, Err: err}
	}
	defer rc.Close()

	path := filepath.Join(ds.dir, name)
	out, err := os.Create(path)
	if err != nil {
		return &StoreError{Op: "accept archive", Path: path, Err: err}
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return &StoreError{Op: "accept archive", Path: path, Err: err}
	}
	if err := out.Close(); err != nil {
		return &StoreError{Op: "accept archive", Path: path, Err: err}
	}
	if _, err := hasher.EnsureFileHashed(path); err != nil {
		return &StoreError{Op: "accept archive", Path: path, Err: err}
	}
	return nil
}
