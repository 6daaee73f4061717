package analyzer

import (
	"encoding/xml"
	"strings"
	"testing"
)

func TestRemoveMultiLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "single line kept as is",
			input: "  two  spaces ",
			want:  "  two  spaces ",
		},
		{
			name:  "pretty printed text joined",
			input: "\n    first line\n    second   line\n  ",
			want:  "first line second line",
		},
		{
			name:  "blank lines dropped",
			input: "a\n\n\nb",
			want:  "a b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := removeMultiLines(tt.input); got != tt.want {
				t.Errorf("removeMultiLines(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestElementStack(t *testing.T) {
	d := xml.NewDecoder(strings.NewReader(""))
	var s elementStack

	s.push(xml.Name{Space: "dc", Local: "record"})
	s.push(xml.Name{Local: "title"})
	if got := s.path.String(); got != "/dc:record/title" {
		t.Fatalf("path = %s, want /dc:record/title", got)
	}

	if err := s.pop(d, xml.Name{Local: "other"}); err == nil {
		t.Fatal("expected mismatched end tag to fail")
	} else if !strings.Contains(err.Error(), "<title> closed by </other>") {
		t.Errorf("unexpected error: %v", err)
	}

	if err := s.pop(d, xml.Name{Local: "title"}); err != nil {
		t.Fatalf("pop title: %v", err)
	}
	if err := s.finish(d); err == nil {
		t.Error("expected finish with open element to fail")
	}
	if err := s.pop(d, xml.Name{Space: "dc", Local: "record"}); err != nil {
		t.Fatalf("pop record: %v", err)
	}
	if err := s.finish(d); err != nil {
		t.Errorf("finish: %v", err)
	}
	if err := s.pop(d, xml.Name{Local: "extra"}); err == nil {
		t.Error("expected pop on empty stack to fail")
	}
}
