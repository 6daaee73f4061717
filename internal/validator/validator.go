// Package validator checks transformed records against the field rules of a
// record definition.
package validator

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/fidde/xml_profiler/internal/metrics"
	"github.com/fidde/xml_profiler/pkg/models"
	"github.com/fidde/xml_profiler/pkg/stats"
)

// InvalidRecord replaces the output of a record that could not be parsed.
const InvalidRecord = "Invalid"

const envelopeTag = "validate"

// URL schemes accepted for url-validated fields.
var urlSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"ftp":    true,
	"file":   true,
	"mailto": true,
	"jar":    true,
}

// Validator validates records of one record definition. It is not safe for
// concurrent use; a normalization run owns one Validator.
type Validator struct {
	def         *models.RecordDefinition
	validatable []*models.FieldDefinition
	envelope    string // opening tag with namespace declarations
	ids         *stats.Uniqueness
	logger      *slog.Logger

	parseTime    time.Duration
	validateTime time.Duration
	writeTime    time.Duration
}

// New creates a validator for def.
func New(def *models.RecordDefinition, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	var b strings.Builder
	b.WriteString("<" + envelopeTag)
	for _, ns := range def.Namespaces {
		b.WriteString("\nxmlns:" + ns.Prefix + "=\"")
		xml.EscapeText(&b, []byte(ns.URI))
		b.WriteString("\"")
	}
	b.WriteString(">\n")

	v := &Validator{
		def:      def,
		envelope: b.String(),
		logger:   logger,
	}
	for _, f := range def.MappableFields() {
		if f.Validation != nil {
			v.validatable = append(v.validatable, f)
		}
	}
	return v
}

// GuardUniqueness makes id fields be checked against u. The tracker is
// shared by every record validated afterwards.
func (v *Validator) GuardUniqueness(u *stats.Uniqueness) {
	v.ids = u
}

// ValidateRecord checks one serialized record. It returns the pretty-printed
// record, with empty and repeated values removed, and every problem found.
// Text without any markup is returned unchanged.
func (v *Validator) ValidateRecord(record string) (string, []string) {
	if !strings.Contains(record, "<") {
		return record, nil
	}
	var problems []string

	start := time.Now()
	doc := etree.NewDocument()
	if err := doc.ReadFromString(v.envelope + record + "</" + envelopeTag + ">\n"); err != nil {
		problems = append(problems, "Problem parsing: "+err.Error())
		v.count(problems)
		return InvalidRecord, problems
	}
	root := doc.Root()
	if root == nil || root.Tag != envelopeTag || len(root.ChildElements()) == 0 {
		problems = append(problems, "Problem parsing: record element missing")
		v.count(problems)
		return InvalidRecord, problems
	}
	recordElement := root.ChildElements()[0]
	v.parseTime += time.Since(start)

	start = time.Now()
	w := &walk{
		v:        v,
		entries:  make(map[string]bool),
		counters: make(map[string]int),
	}
	w.element(recordElement, models.Path{})
	problems = append(w.problems, v.cardinalities(w.counters)...)
	v.validateTime += time.Since(start)

	start = time.Now()
	out := etree.NewDocument()
	out.SetRoot(recordElement.Copy())
	out.Indent(2)
	s, err := out.WriteToString()
	v.writeTime += time.Since(start)
	if err != nil {
		problems = append(problems, "Problem parsing: "+err.Error())
		v.count(problems)
		return InvalidRecord, problems
	}
	v.count(problems)
	return s, problems
}

// Report logs the accumulated time spent in each phase.
func (v *Validator) Report() {
	v.logger.Info("validator timings",
		"parse", v.parseTime.Round(time.Millisecond),
		"validate", v.validateTime.Round(time.Millisecond),
		"write", v.writeTime.Round(time.Millisecond))
}

func (v *Validator) count(problems []string) {
	if len(problems) == 0 {
		metrics.RecordsValidated.WithLabelValues("valid").Inc()
		return
	}
	metrics.RecordsValidated.WithLabelValues("invalid").Inc()
	metrics.ValidationProblems.Add(float64(len(problems)))
}

// walk holds the state of validating one record.
type walk struct {
	v        *Validator
	problems []string
	entries  map[string]bool
	counters map[string]int
}

// element validates el and its descendants and reports whether el should be
// removed from the output.
func (w *walk) element(el *etree.Element, parent models.Path) bool {
	path := parent.Push(models.NewTag(el.Space, el.Tag))
	children := el.ChildElements()
	if len(children) == 0 {
		return w.leaf(strings.TrimSpace(el.Text()), path)
	}
	for _, child := range children {
		if w.element(child, path) {
			el.RemoveChild(child)
		}
	}
	return false
}

func (w *walk) leaf(text string, path models.Path) bool {
	field := w.v.def.FieldDefinition(path)
	if field == nil {
		w.problems = append(w.problems, fmt.Sprintf("No field definition found for path [%s]", path))
		return true
	}
	entry := field.Path().String() + "=" + text
	if text == "" || w.entries[entry] {
		return true
	}
	w.entries[entry] = true
	w.counters[field.Path().String()]++
	w.field(text, field)
	return false
}

func (w *walk) field(text string, field *models.FieldDefinition) {
	validation := field.Validation
	if validation == nil {
		return
	}
	if validation.HasOptions() && !validation.AllowOption(text) {
		w.problems = append(w.problems, fmt.Sprintf("Value for [%s] was [%s] which does not belong to [%s]",
			field.Path(), text, strings.Join(validation.AllOptions(), ",")))
	}
	if validation.URL && !validURL(text) {
		w.problems = append(w.problems, fmt.Sprintf("URL value for [%s] was [%s] which is malformed", field.Path(), text))
	}
	if validation.ID && w.v.ids != nil && w.v.ids.IsRepeated(text) {
		w.problems = append(w.problems, fmt.Sprintf("Identifier [%s] must be unique but the value [%s] appears more than once", field.Path(), text))
	}
}

// cardinalities checks single-valued fields and required groups over the
// whole record.
func (v *Validator) cardinalities(counters map[string]int) []string {
	var problems []string
	groups := make(map[string]bool)
	for _, f := range v.validatable {
		if f.Validation.RequiredGroup != "" {
			groups[f.Validation.RequiredGroup] = groups[f.Validation.RequiredGroup] || counters[f.Path().String()] > 0
		}
		if !f.Validation.Multivalued && counters[f.Path().String()] > 1 {
			problems = append(problems, fmt.Sprintf("Single-valued field [%s] has more than one value", f.Path()))
		}
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !groups[name] {
			problems = append(problems, fmt.Sprintf("Required field violation for [%s]", name))
		}
	}
	return problems
}

func validURL(text string) bool {
	u, err := url.Parse(text)
	if err != nil || !urlSchemes[strings.ToLower(u.Scheme)] {
		return false
	}
	return u.Opaque != "" || u.Host != "" || u.Path != ""
}
