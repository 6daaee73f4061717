package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fidde/xml_profiler/pkg/models"
	"github.com/fidde/xml_profiler/pkg/stats"
)

func museumTree(t *testing.T) *Tree {
	t.Helper()
	return NewTree(profileString(t, NewProfiler(ProfilerConfig{}), museumXML))
}

func lookup(t *testing.T, tree *Tree, path string) int {
	t.Helper()
	i, ok := tree.Lookup(models.MustParsePath(path))
	require.True(t, ok, "no node for %s", path)
	return i
}

func TestTree_Structure(t *testing.T) {
	tree := museumTree(t)

	assert.Equal(t, 7, tree.Len())
	require.Len(t, tree.Roots(), 1)
	root := tree.Node(tree.Roots()[0])
	assert.Equal(t, "/collection", root.Path.String())
	assert.Equal(t, NoParent, root.Parent)

	record := lookup(t, tree, "/collection/record")
	assert.Len(t, tree.Node(record).Children, 4)
	assert.True(t, tree.CouldBeRecordRoot(record))
	assert.False(t, tree.IsLeaf(record))

	title := lookup(t, tree, "/collection/record/dc:title")
	assert.True(t, tree.IsLeaf(title))
	assert.False(t, tree.CouldBeRecordRoot(title))
	assert.Equal(t, record, tree.Node(title).Parent)
	assert.Equal(t, "dc", tree.Node(title).Tag.Prefix)
	assert.Equal(t, "/collection/record/dc:title", tree.Path(title).String())
}

func TestTree_ContainerNodes(t *testing.T) {
	fs := stats.NewFieldStatistics(models.MustParsePath("/a/b/c"))
	fs.RecordOccurrence()
	fs.RecordValue("x")
	require.NoError(t, fs.Finish())

	tree := NewTree([]*stats.FieldStatistics{fs})
	assert.Equal(t, 3, tree.Len())

	b := lookup(t, tree, "/a/b")
	assert.Nil(t, tree.Node(b).Statistics)
	assert.False(t, tree.CouldBeRecordRoot(b), "a path never seen cannot be a record root")
	assert.True(t, tree.IsLeaf(lookup(t, tree, "/a/b/c")))
}

func TestTree_SetRecordRoot(t *testing.T) {
	tree := museumTree(t)
	record := lookup(t, tree, "/collection/record")

	changed := tree.SetRecordRoot(models.MustParsePath("/collection/record"))
	assert.Equal(t, []int{record}, changed)
	got, ok := tree.RecordRoot()
	require.True(t, ok)
	assert.Equal(t, record, got)

	assert.Empty(t, tree.SetRecordRoot(models.MustParsePath("/collection/record")), "setting again changes nothing")

	media := lookup(t, tree, "/collection/record/media")
	changed = tree.SetRecordRoot(models.MustParsePath("/collection/record/media"))
	assert.ElementsMatch(t, []int{record, media}, changed)

	tree.SetRecordRoot(models.Path{})
	_, ok = tree.RecordRoot()
	assert.False(t, ok)
}

func TestTree_SetUniqueElement(t *testing.T) {
	tree := museumTree(t)
	id := lookup(t, tree, "/collection/record/dc:identifier")

	changed := tree.SetUniqueElement(models.MustParsePath("/collection/record/dc:identifier"))
	assert.Equal(t, []int{id}, changed)
	assert.True(t, tree.Node(id).UniqueElement)

	changed = tree.SetUniqueElement(models.Path{})
	assert.Equal(t, []int{id}, changed)
	assert.False(t, tree.Node(id).UniqueElement)
}

func TestTree_Variables(t *testing.T) {
	tree := museumTree(t)
	assert.Empty(t, tree.Variables(), "no variables without a record root")

	tree.SetRecordRoot(models.MustParsePath("/collection/record"))
	var names, rels []string
	for _, i := range tree.Variables() {
		names = append(names, tree.VariableName(i))
		rels = append(rels, tree.RelativePath(i))
	}
	assert.Equal(t, []string{
		"input.dc_date",
		"input.dc_identifier",
		"input.dc_title",
		"input.media.link",
	}, names)
	assert.Equal(t, []string{"/dc:date", "/dc:identifier", "/dc:title", "/media/link"}, rels)
}

func TestTagToVariable(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"dc:title", "dc_title"},
		{"année-création", "annee_creation"},
		{"ns.sub:Ölfält", "ns_sub_Olfalt"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, TagToVariable(tt.input))
		})
	}
}
