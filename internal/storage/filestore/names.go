package filestore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fidde/xml_profiler/pkg/hasher"
)

// File names inside a data set directory. Source, facts and mapping files
// may carry a "<hash>__" prefix.
const (
	SourceFileName     = "source.xml.gz"
	StatisticsFileName = "statistics.json.gz"
	FactsFileName      = "facts.txt"
	MappingFilePrefix  = "mapping_"
	MappingFileSuffix  = ".yaml"
	TemplateFilePrefix = "template_"

	// MaxHashHistory is how many hash-qualified versions of a file are kept.
	MaxHashHistory = 3

	// BlockSize is the unit of import progress.
	BlockSize = 4096
)

func isSourceFile(name string) bool {
	return hasher.ExtractFileName(name) == SourceFileName
}

func isFactsFile(name string) bool {
	return hasher.ExtractFileName(name) == FactsFileName
}

func isStatisticsFile(name string) bool {
	return name == StatisticsFileName
}

// mappingPrefix extracts the record definition prefix from a mapping file name.
func mappingPrefix(name string) (string, bool) {
	base := hasher.ExtractFileName(name)
	if !strings.HasPrefix(base, MappingFilePrefix) || !strings.HasSuffix(base, MappingFileSuffix) {
		return "", false
	}
	prefix := strings.TrimSuffix(strings.TrimPrefix(base, MappingFilePrefix), MappingFileSuffix)
	if prefix == "" {
		return "", false
	}
	return prefix, true
}

func mappingFileName(prefix string) string {
	return MappingFilePrefix + prefix + MappingFileSuffix
}

func isMappingFileFor(prefix string) func(string) bool {
	return func(name string) bool {
		p, ok := mappingPrefix(name)
		return ok && p == prefix
	}
}

// fileEntry is a listed file with its modification time.
type fileEntry struct {
	name string
	info os.FileInfo
}

func listFiles(dir string, match func(string) bool) ([]fileEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []fileEntry
	for _, e := range entries {
		if e.IsDir() || !match(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed while listing
		}
		out = append(out, fileEntry{name: e.Name(), info: info})
	}
	return out, nil
}

// removeFile is replaced in tests to make deletes fail.
var removeFile = os.Remove

// resolveLatest picks the current version of a versioned file:
// no match gives dir/defaultName, a single match is used as is, and among
// several an unhashed (in-flight) file wins over the most recent hashed one.
// Hashed versions beyond MaxHashHistory are deleted.
func resolveLatest(dir string, match func(string) bool, defaultName string) (string, error) {
	files, err := listFiles(dir, match)
	if err != nil {
		return "", err
	}
	switch len(files) {
	case 0:
		return filepath.Join(dir, defaultName), nil
	case 1:
		return filepath.Join(dir, files[0].name), nil
	}

	var unhashed string
	var hashed []fileEntry
	for _, f := range files {
		if hasher.IsHashed(f.name) {
			hashed = append(hashed, f)
		} else {
			unhashed = f.name
		}
	}
	sort.Slice(hashed, func(i, j int) bool {
		ti, tj := hashed[i].info.ModTime(), hashed[j].info.ModTime()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return hashed[i].name < hashed[j].name
	})
	if len(hashed) > MaxHashHistory {
		for _, old := range hashed[MaxHashHistory:] {
			path := filepath.Join(dir, old.name)
			if err := removeFile(path); err != nil && !os.IsNotExist(err) {
				return "", &StoreError{Op: "prune", Path: path, Err: err}
			}
		}
		hashed = hashed[:MaxHashHistory]
	}

	if unhashed != "" {
		return filepath.Join(dir, unhashed), nil
	}
	return filepath.Join(dir, hashed[0].name), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
