package analyzer

import (
	"strings"

	"github.com/fidde/xml_profiler/pkg/models"
	"github.com/fidde/xml_profiler/pkg/stats"
)

// NoParent marks a root node.
const NoParent = -1

// Node is one element path in the analysis tree. Nodes refer to each other
// by index into the tree's arena.
type Node struct {
	Tag           models.Tag
	Path          models.Path
	Parent        int
	Children      []int
	Statistics    *stats.FieldStatistics
	RecordRoot    bool
	UniqueElement bool
}

// Tree is the hierarchy of paths found by profiling. Parents always precede
// their children in the arena.
type Tree struct {
	nodes []Node
	roots []int
	index map[string]int
}

// NewTree arranges statistics into a tree. Nodes are created for every path
// prefix, so a path without statistics of its own still appears as a pure
// container.
func NewTree(list []*stats.FieldStatistics) *Tree {
	sorted := make([]*stats.FieldStatistics, len(list))
	copy(sorted, list)
	stats.SortByPath(sorted)

	t := &Tree{index: make(map[string]int)}
	for _, fs := range sorted {
		if fs.Path().IsEmpty() {
			continue
		}
		i := t.ensure(fs.Path())
		t.nodes[i].Statistics = fs
	}
	return t
}

func (t *Tree) ensure(path models.Path) int {
	if i, ok := t.index[path.String()]; ok {
		return i
	}
	parent := NoParent
	if path.Len() > 1 {
		parent = t.ensure(path.Pop())
	}
	i := len(t.nodes)
	t.nodes = append(t.nodes, Node{Tag: path.Last(), Path: path, Parent: parent})
	t.index[path.String()] = i
	if parent == NoParent {
		t.roots = append(t.roots, i)
	} else {
		t.nodes[parent].Children = append(t.nodes[parent].Children, i)
	}
	return i
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns the node at index i.
func (t *Tree) Node(i int) *Node {
	return &t.nodes[i]
}

// Path returns the path of the node at index i.
func (t *Tree) Path(i int) models.Path {
	return t.nodes[i].Path
}

// Roots returns the indices of the top-level nodes; a well-formed document
// has exactly one.
func (t *Tree) Roots() []int {
	return t.roots
}

// Lookup finds the node at path.
func (t *Tree) Lookup(path models.Path) (int, bool) {
	i, ok := t.index[path.String()]
	return i, ok
}

// IsLeaf reports whether the node carried text values.
func (t *Tree) IsLeaf(i int) bool {
	s := t.nodes[i].Statistics
	return s != nil && s.HasValues()
}

// CouldBeRecordRoot reports whether the node is a pure container that
// occurred in the source.
func (t *Tree) CouldBeRecordRoot(i int) bool {
	s := t.nodes[i].Statistics
	return s != nil && !s.HasValues()
}

// SetRecordRoot flags exactly the node at path (none for an empty path) and
// returns the indices whose flag changed.
func (t *Tree) SetRecordRoot(path models.Path) []int {
	var changed []int
	for i := range t.nodes {
		n := &t.nodes[i]
		flag := !path.IsEmpty() && n.Path.Equal(path)
		if n.RecordRoot != flag {
			n.RecordRoot = flag
			changed = append(changed, i)
		}
	}
	return changed
}

// SetUniqueElement flags the node at path and returns the indices whose flag
// changed. Descent stops below a flagged node.
func (t *Tree) SetUniqueElement(path models.Path) []int {
	var changed []int
	var walk func(i int)
	walk = func(i int) {
		n := &t.nodes[i]
		flag := !path.IsEmpty() && n.Path.Equal(path)
		if n.UniqueElement != flag {
			n.UniqueElement = flag
			changed = append(changed, i)
		}
		if path.IsEmpty() || !flag {
			for _, c := range n.Children {
				walk(c)
			}
		}
	}
	for _, r := range t.roots {
		walk(r)
	}
	return changed
}

// RecordRoot returns the flagged record root, if any.
func (t *Tree) RecordRoot() (int, bool) {
	for i := range t.nodes {
		if t.nodes[i].RecordRoot {
			return i, true
		}
	}
	return 0, false
}

// Variables returns the leaves below the record root in depth-first order.
func (t *Tree) Variables() []int {
	var out []int
	var walk func(i int, within bool)
	walk = func(i int, within bool) {
		n := &t.nodes[i]
		if within && t.IsLeaf(i) {
			out = append(out, i)
		}
		for _, c := range n.Children {
			walk(c, within || n.RecordRoot)
		}
	}
	for _, r := range t.roots {
		walk(r, false)
	}
	return out
}

// VariableName names a node for use in mappings: "input." followed by the
// sanitized tags from just below the record root down to the node.
func (t *Tree) VariableName(i int) string {
	var tags []models.Tag
	for j := i; j != NoParent && !t.nodes[j].RecordRoot; j = t.nodes[j].Parent {
		tags = append(tags, t.nodes[j].Tag)
	}
	parts := make([]string, len(tags))
	for k, tag := range tags {
		parts[len(tags)-1-k] = TagToVariable(tag.String())
	}
	return "input." + strings.Join(parts, ".")
}

// RelativePath returns the node's path below the record root, such as
// "/dc:title". It is the source reference used by mappings.
func (t *Tree) RelativePath(i int) string {
	root, ok := t.RecordRoot()
	if !ok {
		return t.nodes[i].Path.String()
	}
	full := t.nodes[i].Path.String()
	return strings.TrimPrefix(full, t.nodes[root].Path.String())
}

var variableReplacer = strings.NewReplacer(
	"À", "A", "à", "a", "È", "E", "è", "e", "Ì", "I", "ì", "i", "Ò", "O", "ò", "o", "Ù", "U", "ù", "u",
	"Á", "A", "á", "a", "É", "E", "é", "e", "Í", "I", "í", "i", "Ó", "O", "ó", "o", "Ú", "U", "ú", "u", "Ý", "Y", "ý", "y",
	"Â", "A", "â", "a", "Ê", "E", "ê", "e", "Î", "I", "î", "i", "Ô", "O", "ô", "o", "Û", "U", "û", "u", "Ŷ", "Y", "ŷ", "y",
	"Ã", "A", "ã", "a", "Õ", "O", "õ", "o", "Ñ", "N", "ñ", "n",
	"Ä", "A", "ä", "a", "Ë", "E", "ë", "e", "Ï", "I", "ï", "i", "Ö", "O", "ö", "o", "Ü", "U", "ü", "u", "Ÿ", "Y", "ÿ", "y",
	"Å", "A", "å", "a",
	"Ç", "C", "ç", "c",
	"Ő", "O", "ő", "o", "Ű", "U", "ű", "u",
	"-", "_", ".", "_", ":", "_",
)

// TagToVariable folds accented letters to ASCII and replaces '-', '.' and
// ':' with '_'.
func TagToVariable(s string) string {
	return variableReplacer.Replace(s)
}
