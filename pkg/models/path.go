package models

import (
	"fmt"
	"strings"
)

// Path is an immutable sequence of tags from the document root down to an
// element. Its identity is the canonical string form "/p:l/l/...": two paths
// with the same rendering are equal.
//
// The zero value is the empty path.
type Path struct {
	tags []Tag
	str  string
}

// NewPath builds a path from the given tags.
func NewPath(tags ...Tag) Path {
	p := Path{}
	for _, t := range tags {
		p = p.Push(t)
	}
	return p
}

// ParsePath parses the canonical "/a/p:b/c" form. The empty string yields
// the empty path.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return Path{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return Path{}, fmt.Errorf("path %q must start with '/'", s)
	}
	p := Path{}
	for _, part := range strings.Split(s[1:], "/") {
		if part == "" {
			return Path{}, fmt.Errorf("path %q has an empty element", s)
		}
		p = p.Push(ParseTag(part))
	}
	return p, nil
}

// MustParsePath is ParsePath for literals known to be valid.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Push returns a new path with tag appended. The receiver is left untouched.
func (p Path) Push(t Tag) Path {
	tags := make([]Tag, len(p.tags)+1)
	copy(tags, p.tags)
	tags[len(p.tags)] = t
	return Path{tags: tags, str: p.str + "/" + t.String()}
}

// Pop returns the path without its last tag. Popping the empty path returns
// the empty path.
func (p Path) Pop() Path {
	if len(p.tags) <= 1 {
		return Path{}
	}
	parent := p.tags[:len(p.tags)-1]
	return Path{tags: parent, str: p.str[:strings.LastIndexByte(p.str, '/')]}
}

// Len returns the number of tags in the path.
func (p Path) Len() int {
	return len(p.tags)
}

// IsEmpty reports whether the path has no tags.
func (p Path) IsEmpty() bool {
	return len(p.tags) == 0
}

// Tag returns the tag at depth i (0 is the document element).
func (p Path) Tag(i int) Tag {
	return p.tags[i]
}

// Last returns the deepest tag, or the zero Tag for an empty path.
func (p Path) Last() Tag {
	if len(p.tags) == 0 {
		return Tag{}
	}
	return p.tags[len(p.tags)-1]
}

// Tags returns a copy of the path's tags.
func (p Path) Tags() []Tag {
	out := make([]Tag, len(p.tags))
	copy(out, p.tags)
	return out
}

// Prefix returns the first n tags as a path.
func (p Path) Prefix(n int) Path {
	if n >= len(p.tags) {
		return p
	}
	return NewPath(p.tags[:n]...)
}

// HasPrefix reports whether other is an ancestor-or-self of p.
func (p Path) HasPrefix(other Path) bool {
	if other.Len() > p.Len() {
		return false
	}
	return p.str == other.str || strings.HasPrefix(p.str, other.str+"/")
}

// Equal compares canonical renderings.
func (p Path) Equal(other Path) bool {
	return p.str == other.str
}

// Compare orders paths by their canonical rendering.
func (p Path) Compare(other Path) int {
	return strings.Compare(p.str, other.str)
}

// String returns the canonical rendering.
func (p Path) String() string {
	return p.str
}

// MarshalText implements encoding.TextMarshaler.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.str), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Path) UnmarshalText(text []byte) error {
	parsed, err := ParsePath(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
