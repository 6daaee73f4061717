// Package analyzer profiles XML sources, builds the browsable tree of their
// paths and streams records out of them.
package analyzer

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/fidde/xml_profiler/internal/metrics"
	"github.com/fidde/xml_profiler/internal/patterns"
	"github.com/fidde/xml_profiler/internal/storage/filestore"
	"github.com/fidde/xml_profiler/pkg/models"
	"github.com/fidde/xml_profiler/pkg/stats"
)

// DefaultElementStep is how many start elements pass between progress reports.
const DefaultElementStep = 10000

// ProfilerConfig configures a Profiler.
type ProfilerConfig struct {
	// ElementStep is the progress reporting interval in elements.
	ElementStep int

	// Patterns classify values into shapes. Nil disables shape tracking.
	Patterns []patterns.CompiledPattern

	// Listener receives the running element count every ElementStep
	// elements. SetProgress returning false aborts the pass.
	Listener models.ProgressListener

	Logger *slog.Logger
}

// Profiler makes a single pass over an XML source and gathers statistics
// for every element path.
type Profiler struct {
	step     int
	patterns []patterns.CompiledPattern
	listener models.ProgressListener
	logger   *slog.Logger
}

// NewProfiler creates a profiler.
func NewProfiler(cfg ProfilerConfig) *Profiler {
	if cfg.ElementStep <= 0 {
		cfg.ElementStep = DefaultElementStep
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Listener == nil {
		cfg.Listener = models.NopProgress
	}
	return &Profiler{
		step:     cfg.ElementStep,
		patterns: cfg.Patterns,
		listener: cfg.Listener,
		logger:   cfg.Logger,
	}
}

// openElement is an element whose text is still being gathered.
type openElement struct {
	text strings.Builder
}

// Profile reads r to the end and returns statistics sorted by path. The pass
// stops with ErrAborted when ctx is cancelled or the listener declines
// progress, and with an error on malformed XML; partial statistics are
// discarded in both cases. The listener is told Finished either way.
func (p *Profiler) Profile(ctx context.Context, r io.Reader) ([]*stats.FieldStatistics, error) {
	start := time.Now()
	byPath := make(map[string]*stats.FieldStatistics)
	result, err := p.profile(ctx, r, byPath)
	p.listener.Finished(err == nil)
	if err != nil {
		for _, fs := range byPath {
			fs.Close()
		}
		metrics.ProfileRuns.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}
	metrics.ProfileRuns.WithLabelValues("success").Inc()
	metrics.PassDuration.WithLabelValues("profile").Observe(time.Since(start).Seconds())
	return result, nil
}

func (p *Profiler) profile(ctx context.Context, r io.Reader, byPath map[string]*stats.FieldStatistics) ([]*stats.FieldStatistics, error) {
	d := newDecoder(r)
	var stack elementStack
	var open []*openElement
	var count int64

	for {
		tok, err := d.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if err := ctx.Err(); err != nil {
				return nil, models.ErrAborted
			}
			stack.push(t.Name)
			open = append(open, &openElement{})
			count++
			metrics.ProfileElements.Inc()
			if count%int64(p.step) == 0 && !p.listener.SetProgress(int(count)) {
				return nil, models.ErrAborted
			}

		case xml.CharData:
			if len(open) > 0 {
				open[len(open)-1].text.Write(t)
			}

		case xml.EndElement:
			if len(open) == 0 {
				return nil, syntaxError(d, fmt.Sprintf("unexpected end element </%s>", tagOf(t.Name)))
			}
			key := stack.path.String()
			fs, ok := byPath[key]
			if !ok {
				fs = stats.NewFieldStatistics(stack.path)
				byPath[key] = fs
			}
			value := strings.TrimSpace(open[len(open)-1].text.String())
			if value != "" {
				fs.RecordValue(value)
				if p.patterns != nil {
					fs.RecordShape(patterns.Classify(p.patterns, value))
				}
			}
			fs.RecordOccurrence()

			open = open[:len(open)-1]
			if err := stack.pop(d, t.Name); err != nil {
				return nil, err
			}
		}
	}
	if err := stack.finish(d); err != nil {
		return nil, err
	}

	list := make([]*stats.FieldStatistics, 0, len(byPath))
	for _, fs := range byPath {
		list = append(list, fs)
	}
	stats.SortByPath(list)
	for _, fs := range list {
		if err := fs.Finish(); err != nil {
			return nil, err
		}
	}

	p.logger.Info("profiled source", "elements", count, "paths", len(list))
	return list, nil
}

// ProfileDataSet profiles the data set's current source and persists the
// statistics before returning them.
func (p *Profiler) ProfileDataSet(ctx context.Context, ds *filestore.DataSet) ([]*stats.FieldStatistics, error) {
	src, err := ds.OpenSource()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	list, err := p.Profile(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("profiling %s: %w", ds.Spec(), err)
	}
	if err := ds.SetStatistics(list); err != nil {
		return nil, err
	}
	return list, nil
}

// RecordCount returns how often the record root occurs according to the
// statistics, or 0 when the path was never seen.
func RecordCount(list []*stats.FieldStatistics, recordRoot models.Path) int {
	if fs := stats.Find(list, recordRoot); fs != nil {
		return fs.Total()
	}
	return 0
}

func resultLabel(err error) string {
	if errors.Is(err, models.ErrAborted) {
		return "aborted"
	}
	return "error"
}
