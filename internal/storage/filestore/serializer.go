package filestore

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fidde/xml_profiler/pkg/models"
	"github.com/fidde/xml_profiler/pkg/stats"
)

// CurrentStatisticsVersion is written into every statistics file; files
// with another version are treated as corrupt.
const CurrentStatisticsVersion = 1

// statisticsFile is the on-disk envelope for a profile.
type statisticsFile struct {
	Version    int                                `json:"version"`
	Created    time.Time                          `json:"created"`
	Statistics []*stats.SerializedFieldStatistics `json:"statistics"`
}

func marshalStatistics(list []*stats.FieldStatistics) ([]byte, error) {
	file := statisticsFile{
		Version:    CurrentStatisticsVersion,
		Created:    time.Now().UTC(),
		Statistics: make([]*stats.SerializedFieldStatistics, 0, len(list)),
	}
	for _, fs := range list {
		s, err := stats.SerializeFieldStatistics(fs)
		if err != nil {
			return nil, err
		}
		file.Statistics = append(file.Statistics, s)
	}
	data, err := json.Marshal(file)
	if err != nil {
		return nil, fmt.Errorf("marshaling statistics: %w", err)
	}
	return data, nil
}

func unmarshalStatistics(data []byte) ([]*stats.FieldStatistics, error) {
	var file statisticsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshaling statistics: %w", err)
	}
	if file.Version != CurrentStatisticsVersion {
		return nil, fmt.Errorf("statistics version %d, want %d", file.Version, CurrentStatisticsVersion)
	}
	list := make([]*stats.FieldStatistics, 0, len(file.Statistics))
	for _, s := range file.Statistics {
		fs, err := stats.DeserializeFieldStatistics(s)
		if err != nil {
			return nil, err
		}
		list = append(list, fs)
	}
	stats.SortByPath(list)
	return list, nil
}

// writeGzip writes data to a gzip-compressed file.
func writeGzip(path string, data []byte) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	gw := gzip.NewWriter(file)
	defer gw.Close()

	if _, err := gw.Write(data); err != nil {
		return err
	}

	if err := gw.Close(); err != nil {
		return err
	}
	return file.Close()
}

// readGzip reads data from a gzip-compressed file.
func readGzip(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}

func readMappingFile(path string) (*models.Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return models.ReadMapping(f)
}

func writeMappingFile(path string, m *models.Mapping) error {
	f, err := os.Create(path)
	if err != nil {
		return &StoreError{Op: "write mapping", Path: path, Err: err}
	}
	if err := models.WriteMapping(f, m); err != nil {
		f.Close()
		return &StoreError{Op: "write mapping", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &StoreError{Op: "write mapping", Path: path, Err: err}
	}
	return nil
}
