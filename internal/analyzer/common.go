package analyzer

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/fidde/xml_profiler/pkg/models"
)

// newDecoder returns a decoder that keeps namespace prefixes as written
// (via RawToken) and leaves unknown entity references as literal text.
func newDecoder(r io.Reader) *xml.Decoder {
	d := xml.NewDecoder(r)
	d.Strict = false
	d.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "utf-8", "utf8", "us-ascii", "ascii", "iso-8859-1", "latin1":
			return input, nil
		}
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	return d
}

// tagOf converts a raw (unresolved) name to a Tag.
func tagOf(name xml.Name) models.Tag {
	return models.NewTag(name.Space, name.Local)
}

// elementStack tracks open elements so mismatched end tags are reported.
type elementStack struct {
	path models.Path
}

func (s *elementStack) push(name xml.Name) {
	s.path = s.path.Push(tagOf(name))
}

func (s *elementStack) pop(d *xml.Decoder, name xml.Name) error {
	if s.path.IsEmpty() {
		return syntaxError(d, fmt.Sprintf("unexpected end element </%s>", tagOf(name)))
	}
	if open := s.path.Last(); open != tagOf(name) {
		return syntaxError(d, fmt.Sprintf("element <%s> closed by </%s>", open, tagOf(name)))
	}
	s.path = s.path.Pop()
	return nil
}

func (s *elementStack) finish(d *xml.Decoder) error {
	if !s.path.IsEmpty() {
		return syntaxError(d, fmt.Sprintf("unexpected EOF inside <%s>", s.path.Last()))
	}
	return nil
}

func syntaxError(d *xml.Decoder, msg string) error {
	line, col := d.InputPos()
	return fmt.Errorf("XML syntax error on line %d, column %d: %s", line, col, msg)
}

// removeMultiLines turns pretty-printed text into a single line: newlines
// become spaces and runs of spaces collapse. Text without newlines is
// returned as is.
func removeMultiLines(value string) string {
	if !strings.Contains(value, "\n") {
		return value
	}
	return strings.Join(strings.Fields(value), " ")
}
