package normalizer

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/fidde/xml_profiler/internal/analyzer"
	"github.com/fidde/xml_profiler/pkg/models"
)

// Transformer turns an extracted record into a serialized record of one
// target format.
type Transformer interface {
	Prefix() string
	Transform(record *analyzer.Record) (string, error)
}

// MappingTransformer copies source values into target fields as listed in
// a data set's mapping. Fields come out in definition order, one element
// per source value.
type MappingTransformer struct {
	def     *models.RecordDefinition
	sources map[string]string
}

// NewMappingTransformer checks every mapped target against def.
func NewMappingTransformer(def *models.RecordDefinition, mapping *models.Mapping) (*MappingTransformer, error) {
	if mapping.Prefix != def.Prefix {
		return nil, fmt.Errorf("mapping for %s used with definition %s", mapping.Prefix, def.Prefix)
	}
	sources := make(map[string]string, len(mapping.Fields))
	for _, f := range mapping.Fields {
		target, err := models.ParsePath(f.Target)
		if err != nil {
			return nil, fmt.Errorf("mapping target %q: %w", f.Target, err)
		}
		field := def.FieldDefinition(target)
		if field == nil {
			return nil, fmt.Errorf("mapping target %s is not a field of %s", f.Target, def.Prefix)
		}
		if field.SystemField {
			return nil, fmt.Errorf("mapping target %s is a system field", f.Target)
		}
		sources[target.String()] = f.Source
	}
	return &MappingTransformer{def: def, sources: sources}, nil
}

// Prefix names the target format.
func (t *MappingTransformer) Prefix() string {
	return t.def.Prefix
}

// Transform builds the target record. Namespace declarations are left out;
// the validator supplies them.
func (t *MappingTransformer) Transform(record *analyzer.Record) (string, error) {
	root := etree.NewElement(t.def.Root.Tag().String())
	for _, field := range t.def.MappableFields() {
		source, ok := t.sources[field.Path().String()]
		if !ok {
			continue
		}
		for _, value := range record.Values(source) {
			parent := ensureParent(root, field.Path())
			parent.CreateElement(field.Tag().String()).SetText(value)
		}
	}

	doc := etree.NewDocument()
	doc.SetRoot(root)
	doc.Indent(2)
	s, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("writing %s record: %w", t.def.Prefix, err)
	}
	return s, nil
}

// ensureParent returns the element holding fields at path, creating the
// interior elements between the root and the field.
func ensureParent(root *etree.Element, path models.Path) *etree.Element {
	current := root
	for i := 1; i < path.Len()-1; i++ {
		name := path.Tag(i).String()
		next := current.SelectElement(name)
		if next == nil {
			next = current.CreateElement(name)
		}
		current = next
	}
	return current
}
