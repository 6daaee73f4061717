package models

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// NamespaceDefinition binds a prefix to a namespace URI.
type NamespaceDefinition struct {
	Prefix string `yaml:"prefix" json:"prefix"`
	URI    string `yaml:"uri" json:"uri"`
}

// Validation holds the per-field rules checked by the record validator.
// Multivalued and Required default to true when a validation block is
// present in the definition file.
type Validation struct {
	FactName      string   `yaml:"fact_name,omitempty" json:"fact_name,omitempty"`
	RequiredGroup string   `yaml:"required_group,omitempty" json:"required_group,omitempty"`
	URL           bool     `yaml:"url,omitempty" json:"url,omitempty"`
	Unique        bool     `yaml:"unique,omitempty" json:"unique,omitempty"`
	ID            bool     `yaml:"id,omitempty" json:"id,omitempty"`
	Multivalued   bool     `yaml:"multivalued" json:"multivalued"`
	Required      bool     `yaml:"required" json:"required"`
	Options       []string `yaml:"options,omitempty" json:"options,omitempty"`

	factDefinition *FactDefinition
}

// UnmarshalYAML applies the defaults before decoding the node.
func (v *Validation) UnmarshalYAML(node *yaml.Node) error {
	type plain Validation
	p := plain{Multivalued: true, Required: true}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*v = Validation(p)
	return nil
}

// AllOptions returns the explicit options, or the bound fact's options.
func (v *Validation) AllOptions() []string {
	if v.Options != nil {
		return v.Options
	}
	if v.factDefinition != nil {
		return v.factDefinition.Options
	}
	return nil
}

// HasOptions reports whether values are restricted to an enumeration.
func (v *Validation) HasOptions() bool {
	return v.AllOptions() != nil
}

// AllowOption checks value against the options. An option ending in ':' is
// a prefix option: values of the form "scheme:rest" match it by their
// "scheme:" part, and bare values match it with or without the colon.
func (v *Validation) AllowOption(value string) bool {
	for _, option := range v.AllOptions() {
		if strings.HasSuffix(option, ":") {
			if colon := strings.IndexByte(value, ':'); colon > 0 {
				if value[:colon+1] == option {
					return true
				}
			} else if value == option || value == option[:len(option)-1] {
				return true
			}
		} else if value == option {
			return true
		}
	}
	return false
}

// FieldDefinition is a leaf of a record definition.
type FieldDefinition struct {
	Prefix      string      `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	LocalName   string      `yaml:"local_name" json:"local_name"`
	SystemField bool        `yaml:"system_field,omitempty" json:"system_field,omitempty"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Validation  *Validation `yaml:"validation,omitempty" json:"validation,omitempty"`

	path Path
}

// Tag returns the field's element name.
func (f *FieldDefinition) Tag() Tag {
	return NewTag(f.Prefix, f.LocalName)
}

// Path returns the field's absolute path within the definition.
func (f *FieldDefinition) Path() Path {
	return f.path
}

// FieldName renders the field as "prefix_local" or "local".
func (f *FieldDefinition) FieldName() string {
	if f.Prefix == "" {
		return f.LocalName
	}
	return f.Prefix + "_" + f.LocalName
}

// ElementDefinition is an interior element grouping fields and elements.
type ElementDefinition struct {
	Prefix    string               `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	LocalName string               `yaml:"local_name" json:"local_name"`
	Fields    []*FieldDefinition   `yaml:"fields,omitempty" json:"fields,omitempty"`
	Elements  []*ElementDefinition `yaml:"elements,omitempty" json:"elements,omitempty"`

	path Path
}

// Tag returns the element's name.
func (e *ElementDefinition) Tag() Tag {
	return NewTag(e.Prefix, e.LocalName)
}

// Path returns the element's absolute path within the definition.
func (e *ElementDefinition) Path() Path {
	return e.path
}

// RecordDefinition describes a target metadata format.
type RecordDefinition struct {
	Prefix     string                `yaml:"prefix" json:"prefix"`
	Namespaces []NamespaceDefinition `yaml:"namespaces" json:"namespaces"`
	Root       *ElementDefinition    `yaml:"root" json:"root"`

	fields map[string]*FieldDefinition
}

// ReadRecordDefinition decodes and initializes a definition.
func ReadRecordDefinition(r io.Reader) (*RecordDefinition, error) {
	var def RecordDefinition
	if err := yaml.NewDecoder(r).Decode(&def); err != nil {
		return nil, fmt.Errorf("parsing record definition YAML: %w", err)
	}
	if err := def.initialize(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadRecordDefinition reads a definition from a YAML file.
func LoadRecordDefinition(filepath string) (*RecordDefinition, error) {
	f, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("reading record definition file: %w", err)
	}
	defer f.Close()
	return ReadRecordDefinition(f)
}

func (d *RecordDefinition) initialize() error {
	if d.Prefix == "" {
		return fmt.Errorf("record definition has no prefix")
	}
	if d.Root == nil {
		return fmt.Errorf("record definition %s has no root element", d.Prefix)
	}
	d.fields = make(map[string]*FieldDefinition)
	return d.initElement(d.Root, Path{})
}

func (d *RecordDefinition) initElement(e *ElementDefinition, parent Path) error {
	e.path = parent.Push(e.Tag())
	for _, f := range e.Fields {
		f.path = e.path.Push(f.Tag())
		d.fields[f.path.String()] = f
		if f.Validation == nil || f.Validation.FactName == "" {
			continue
		}
		fd, ok := LookupFactDefinition(f.Validation.FactName)
		if !ok {
			return fmt.Errorf("record definition %s requires fact %s", d.Prefix, f.Validation.FactName)
		}
		f.Validation.factDefinition = &fd
	}
	for _, child := range e.Elements {
		if err := d.initElement(child, e.path); err != nil {
			return err
		}
	}
	return nil
}

// FieldDefinition looks up the field at path, or nil.
func (d *RecordDefinition) FieldDefinition(path Path) *FieldDefinition {
	return d.fields[path.String()]
}

// MappableFields returns all non-system fields in document order.
func (d *RecordDefinition) MappableFields() []*FieldDefinition {
	var out []*FieldDefinition
	var walk func(e *ElementDefinition)
	walk = func(e *ElementDefinition) {
		for _, f := range e.Fields {
			if !f.SystemField {
				out = append(out, f)
			}
		}
		for _, child := range e.Elements {
			walk(child)
		}
	}
	walk(d.Root)
	return out
}

// FieldNames returns every field's "prefix_local" name in document order.
func (d *RecordDefinition) FieldNames() []string {
	var out []string
	var walk func(e *ElementDefinition)
	walk = func(e *ElementDefinition) {
		for _, f := range e.Fields {
			out = append(out, f.FieldName())
		}
		for _, child := range e.Elements {
			walk(child)
		}
	}
	walk(d.Root)
	return out
}
