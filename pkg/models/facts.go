package models

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Names of the facts with dedicated accessors.
const (
	FactDownloadedSource  = "downloadedSource"
	FactRecordRootPath    = "recordRootPath"
	FactUniqueElementPath = "uniqueElementPath"
	FactRecordCount       = "recordCount"
)

// Envelope used by sources that were downloaded from a repository rather
// than imported from a local file.
const (
	DownloadedEnvelopeTag = "delving-sip-source"
	DownloadedRecordTag   = "record"
)

// FactDefinition declares one fact: its name, a human prompt and, for
// enumerated facts, the allowed options.
type FactDefinition struct {
	Name    string   `json:"name" yaml:"name"`
	Prompt  string   `json:"prompt" yaml:"prompt"`
	Options []string `json:"options,omitempty" yaml:"options,omitempty"`
}

var factDefinitions = []FactDefinition{
	{Name: "spec", Prompt: "Data set identifier"},
	{Name: "name", Prompt: "Name of the collection"},
	{Name: "provider", Prompt: "Institution providing the metadata"},
	{Name: "dataProvider", Prompt: "Institution owning the objects"},
	{Name: "country", Prompt: "Country of the provider"},
	{Name: "language", Prompt: "Language of the metadata", Options: []string{"de", "en", "es", "fr", "it", "nl", "no", "sv", "mul"}},
	{Name: "rights", Prompt: "Rights statement URI"},
	{Name: "type", Prompt: "Type of the described objects", Options: []string{"IMAGE", "SOUND", "TEXT", "VIDEO", "3D"}},
	{Name: FactDownloadedSource, Prompt: "Source was downloaded from a repository"},
	{Name: FactRecordRootPath, Prompt: "Path of the element wrapping each record"},
	{Name: FactUniqueElementPath, Prompt: "Path of the element identifying each record"},
	{Name: FactRecordCount, Prompt: "Number of records in the source"},
}

var factNames = func() map[string]bool {
	m := make(map[string]bool, len(factDefinitions))
	for _, d := range factDefinitions {
		m[d.Name] = true
	}
	return m
}()

// FactDefinitions returns the declared facts in file order.
func FactDefinitions() []FactDefinition {
	out := make([]FactDefinition, len(factDefinitions))
	copy(out, factDefinitions)
	return out
}

// LookupFactDefinition finds a declared fact by name.
func LookupFactDefinition(name string) (FactDefinition, bool) {
	for _, d := range factDefinitions {
		if d.Name == name {
			return d, true
		}
	}
	return FactDefinition{}, false
}

// IsFactName reports whether name is a declared fact.
func IsFactName(name string) bool {
	return factNames[name]
}

// Facts is a key/value record of data set metadata. Only declared fact names
// may be used; anything else is a programming error and panics.
type Facts struct {
	values map[string]string
}

// NewFacts creates an empty set of facts.
func NewFacts() *Facts {
	return &Facts{values: make(map[string]string)}
}

func mustBeFact(name string) {
	if !factNames[name] {
		panic(fmt.Sprintf("[%s] is not a fact name", name))
	}
}

// Set stores value under name and reports whether anything changed.
func (f *Facts) Set(name, value string) bool {
	mustBeFact(name)
	if existing, ok := f.values[name]; ok && existing == value {
		return false
	}
	f.values[name] = value
	return true
}

// Get returns the value for name, or "" when unset.
func (f *Facts) Get(name string) string {
	mustBeFact(name)
	return f.values[name]
}

// IsDownloadedSource reports whether the source was downloaded in the
// standard envelope.
func (f *Facts) IsDownloadedSource() bool {
	return strings.EqualFold(f.Get(FactDownloadedSource), "true")
}

// SetDownloadedSource records whether the source is in the standard envelope.
func (f *Facts) SetDownloadedSource(downloaded bool) bool {
	return f.Set(FactDownloadedSource, strconv.FormatBool(downloaded))
}

// RecordRootPath returns the record root; downloaded sources always use the
// envelope's record element.
func (f *Facts) RecordRootPath() string {
	if f.IsDownloadedSource() {
		return "/" + DownloadedEnvelopeTag + "/" + DownloadedRecordTag
	}
	return f.Get(FactRecordRootPath)
}

// SetRecordRootPath sets the record root and clears the downloaded flag.
func (f *Facts) SetRecordRootPath(value string) bool {
	changed := f.SetDownloadedSource(false)
	return f.Set(FactRecordRootPath, value) || changed
}

// UniqueElementPath returns the unique element, rebased under the envelope
// for downloaded sources.
func (f *Facts) UniqueElementPath() string {
	if f.IsDownloadedSource() {
		return f.RecordRootPath() + f.RelativeUniquePath()
	}
	return f.Get(FactUniqueElementPath)
}

// SetUniqueElementPath sets the unique element and clears the downloaded flag.
func (f *Facts) SetUniqueElementPath(value string) bool {
	changed := f.SetDownloadedSource(false)
	return f.Set(FactUniqueElementPath, value) || changed
}

// RelativeUniquePath returns the unique element path relative to the stored
// record root, or the full unique path when it is not below the root.
func (f *Facts) RelativeUniquePath() string {
	root := f.Get(FactRecordRootPath)
	unique := f.Get(FactUniqueElementPath)
	if root != "" && strings.HasPrefix(unique, root) {
		return unique[len(root):]
	}
	return unique
}

// RecordCount returns the stored record count.
func (f *Facts) RecordCount() string {
	return f.Get(FactRecordCount)
}

// SetRecordCount stores the record count.
func (f *Facts) SetRecordCount(value string) bool {
	return f.Set(FactRecordCount, value)
}

// IsValid reports whether every declared fact has a non-blank value.
func (f *Facts) IsValid() bool {
	for _, d := range factDefinitions {
		if strings.TrimSpace(f.values[d.Name]) == "" {
			return false
		}
	}
	return true
}

// Map returns a copy of all declared facts, unset ones as "".
func (f *Facts) Map() map[string]string {
	out := make(map[string]string, len(factDefinitions))
	for _, d := range factDefinitions {
		out[d.Name] = f.values[d.Name]
	}
	return out
}

// ReadFacts parses "name=value" lines. Lines starting with '#' or lacking
// '=' are skipped, as are unknown names.
func ReadFacts(r io.Reader) (*Facts, error) {
	facts := NewFacts()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if !factNames[name] {
			continue
		}
		facts.Set(name, strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading facts: %w", err)
	}
	return facts, nil
}

// WriteTo writes every declared fact as "name=value\n" in declaration order.
func (f *Facts) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	for _, d := range factDefinitions {
		written, err := fmt.Fprintf(bw, "%s=%s\n", d.Name, f.values[d.Name])
		n += int64(written)
		if err != nil {
			return n, fmt.Errorf("writing facts: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("writing facts: %w", err)
	}
	return n, nil
}
