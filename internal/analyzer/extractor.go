package analyzer

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/fidde/xml_profiler/internal/metrics"
	"github.com/fidde/xml_profiler/pkg/models"
)

// RecordElement is the name of the node wrapping each extracted record.
const RecordElement = "input"

// Record is one extracted record: an element tree rooted at "input" whose
// children mirror the source elements below the record root.
type Record struct {
	Index int
	Total int
	Root  *etree.Element
}

// Values returns the text of every element at rel, a path relative to the
// record root such as "/dc:title" or "/media/link".
func (r *Record) Values(rel string) []string {
	parts := strings.Split(strings.Trim(rel, "/"), "/")
	current := []*etree.Element{r.Root}
	for _, part := range parts {
		if part == "" {
			continue
		}
		tag := models.ParseTag(part)
		var next []*etree.Element
		for _, el := range current {
			for _, child := range el.ChildElements() {
				if child.Space == tag.Prefix && child.Tag == tag.Local {
					next = append(next, child)
				}
			}
		}
		current = next
	}
	var out []string
	for _, el := range current {
		if text := el.Text(); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// XML renders the record tree.
func (r *Record) XML() string {
	doc := etree.NewDocument()
	doc.SetRoot(r.Root.Copy())
	doc.Indent(2)
	s, err := doc.WriteToString()
	if err != nil {
		return ""
	}
	return s
}

// ExtractorConfig configures an Extractor.
type ExtractorConfig struct {
	// RecordRoot is the path of the element wrapping each record.
	RecordRoot models.Path

	// Total is the expected number of records, passed to the listener.
	Total int

	Listener models.ProgressListener
	Logger   *slog.Logger
}

// Extractor streams records out of an XML source one at a time.
type Extractor struct {
	d          *xml.Decoder
	closer     io.Closer
	recordRoot models.Path
	total      int
	listener   models.ProgressListener
	logger     *slog.Logger

	stack      elementStack
	index      int
	namespaces map[string]string
	done       bool
	started    time.Time
}

// NewExtractor creates an extractor over r. If r is an io.Closer it is
// closed when the stream ends or is aborted.
func NewExtractor(r io.Reader, cfg ExtractorConfig) *Extractor {
	if cfg.Listener == nil {
		cfg.Listener = models.NopProgress
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Extractor{
		d:          newDecoder(r),
		recordRoot: cfg.RecordRoot,
		total:      cfg.Total,
		listener:   cfg.Listener,
		logger:     cfg.Logger,
		namespaces: make(map[string]string),
		started:    time.Now(),
	}
	if c, ok := r.(io.Closer); ok {
		e.closer = c
	}
	e.listener.SetTotal(cfg.Total)
	return e
}

// Namespaces returns the prefix to URI bindings declared so far.
func (e *Extractor) Namespaces() map[string]string {
	out := make(map[string]string, len(e.namespaces))
	for k, v := range e.namespaces {
		out[k] = v
	}
	return out
}

// NamespacePrefixes returns the declared prefixes in sorted order.
func (e *Extractor) NamespacePrefixes() []string {
	out := make([]string, 0, len(e.namespaces))
	for k := range e.namespaces {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Next returns the next record. It returns io.EOF after the last record and
// models.ErrAborted when the listener or ctx cancels; the stream is closed in
// both cases.
func (e *Extractor) Next(ctx context.Context) (*Record, error) {
	if e.done {
		return nil, io.EOF
	}

	var current *etree.Element
	var open []*etree.Element
	var text strings.Builder

	for {
		tok, err := e.d.RawToken()
		if err == io.EOF {
			if err := e.stack.finish(e.d); err != nil {
				e.finish(false)
				return nil, err
			}
			e.finish(true)
			metrics.PassDuration.WithLabelValues("extract").Observe(time.Since(e.started).Seconds())
			return nil, io.EOF
		}
		if err != nil {
			e.finish(false)
			return nil, fmt.Errorf("parsing XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			e.stack.push(t.Name)
			e.collectNamespaces(t)
			if current == nil {
				if e.stack.path.Equal(e.recordRoot) {
					current = etree.NewElement(RecordElement)
					open = append(open, current)
				}
				continue
			}
			child := open[len(open)-1].CreateElement(tagOf(t.Name).String())
			for _, attr := range t.Attr {
				if attr.Name.Space == "xmlns" || (attr.Name.Space == "" && attr.Name.Local == "xmlns") {
					continue
				}
				child.CreateAttr(tagOf(attr.Name).String(), attr.Value)
			}
			open = append(open, child)
			text.Reset()

		case xml.CharData:
			if current != nil {
				text.Write(t)
			}

		case xml.EndElement:
			atRoot := e.stack.path.Equal(e.recordRoot)
			if err := e.stack.pop(e.d, t.Name); err != nil {
				e.finish(false)
				return nil, err
			}
			if current == nil {
				continue
			}
			el := open[len(open)-1]
			if len(el.ChildElements()) == 0 {
				if value := strings.TrimSpace(removeMultiLines(text.String())); value != "" {
					el.SetText(value)
				}
			}
			text.Reset()
			open = open[:len(open)-1]
			if !atRoot {
				continue
			}

			e.index++
			metrics.RecordsExtracted.Inc()
			record := &Record{Index: e.index, Total: e.total, Root: current}
			if err := ctx.Err(); err != nil || !e.listener.SetProgress(e.index) {
				e.finish(false)
				return nil, models.ErrAborted
			}
			return record, nil
		}
	}
}

// Close abandons the stream.
func (e *Extractor) Close() error {
	if e.done {
		return nil
	}
	e.done = true
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}

func (e *Extractor) finish(success bool) {
	if e.done {
		return
	}
	e.listener.Finished(success)
	if err := e.Close(); err != nil {
		e.logger.Warn("closing record source", "error", err)
	}
	e.logger.Debug("record extraction finished", "records", e.index, "success", success)
}

func (e *Extractor) collectNamespaces(t xml.StartElement) {
	for _, attr := range t.Attr {
		if attr.Name.Space == "xmlns" {
			e.namespaces[attr.Name.Local] = attr.Value
		}
	}
}
