// Package models defines the core data structures shared by the profiler,
// the extractor, the validator and the data set store.
package models

import "strings"

// Tag is a possibly-prefixed XML element name. An empty Prefix means the
// element was unprefixed.
type Tag struct {
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Local  string `json:"local" yaml:"local"`
}

// NewTag creates a tag from a prefix and a local name.
func NewTag(prefix, local string) Tag {
	return Tag{Prefix: prefix, Local: local}
}

// ParseTag parses "prefix:local" or "local".
func ParseTag(s string) Tag {
	if i := strings.IndexByte(s, ':'); i > 0 {
		return Tag{Prefix: s[:i], Local: s[i+1:]}
	}
	return Tag{Local: s}
}

// HasPrefix reports whether the tag carries a namespace prefix.
func (t Tag) HasPrefix() bool {
	return t.Prefix != ""
}

// String renders the tag as "prefix:local" or just "local".
func (t Tag) String() string {
	if t.Prefix == "" {
		return t.Local
	}
	return t.Prefix + ":" + t.Local
}

// Compare orders tags: every prefixed tag sorts before every unprefixed tag,
// prefixed tags compare by prefix then local name, unprefixed ones by local
// name alone.
func (t Tag) Compare(other Tag) int {
	switch {
	case t.HasPrefix() && other.HasPrefix():
		if c := strings.Compare(t.Prefix, other.Prefix); c != 0 {
			return c
		}
		return strings.Compare(t.Local, other.Local)
	case t.HasPrefix():
		return -1
	case other.HasPrefix():
		return 1
	default:
		return strings.Compare(t.Local, other.Local)
	}
}
