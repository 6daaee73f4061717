package normalizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fidde/xml_profiler/internal/storage/filestore"
	"github.com/fidde/xml_profiler/internal/storage/memory"
	"github.com/fidde/xml_profiler/pkg/models"
)

const museumXML = `<?xml version="1.0" encoding="UTF-8"?>
<collection xmlns:dc="http://purl.org/dc/elements/1.1/">
  <record>
    <dc:identifier>obj-1</dc:identifier>
    <dc:title>Vase</dc:title>
    <media><link>http://example.org/1.jpg</link></media>
  </record>
  <record>
    <dc:identifier>obj-2</dc:identifier>
    <dc:title>Jug</dc:title>
    <media><link>http://example.org/2.jpg</link><link>http://example.org/3.jpg</link></media>
  </record>
  <record>
    <dc:identifier>obj-3</dc:identifier>
    <dc:title>
      Bowl with
      handles
    </dc:title>
  </record>
</collection>
`

const museumDefinition = `
prefix: test
namespaces:
  - prefix: dc
    uri: http://purl.org/dc/elements/1.1/
  - prefix: europeana
    uri: http://www.europeana.eu/schemas/ese/
root:
  local_name: record
  fields:
    - prefix: dc
      local_name: identifier
      validation:
        id: true
        multivalued: false
    - prefix: dc
      local_name: title
    - prefix: europeana
      local_name: isShownBy
      validation:
        url: true
        required_group: Shown-by
`

func readDefinition(t *testing.T, s string) *models.RecordDefinition {
	t.Helper()
	def, err := models.ReadRecordDefinition(strings.NewReader(s))
	require.NoError(t, err)
	return def
}

// setupDataSet imports the museum source with facts and a mapping in place.
func setupDataSet(t *testing.T) *filestore.DataSet {
	t.Helper()
	store, err := filestore.New(filestore.Config{Home: t.TempDir()})
	require.NoError(t, err)
	ds, err := store.CreateDataSet("museum")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ds.ImportReader(ctx, strings.NewReader(museumXML), false, int64(len(museumXML)), nil))

	facts, err := ds.Facts()
	require.NoError(t, err)
	facts.SetRecordRootPath("/collection/record")
	facts.SetUniqueElementPath("/collection/record/dc:identifier")
	facts.SetRecordCount("3")
	require.NoError(t, ds.SetFacts(facts))

	mapping := models.NewMapping("test")
	mapping.SetField("/record/dc:identifier", "/dc:identifier")
	mapping.SetField("/record/dc:title", "/dc:title")
	mapping.SetField("/record/europeana:isShownBy", "/media/link")
	require.NoError(t, ds.SetMapping(mapping))
	return ds
}

func TestNormalizer_Run(t *testing.T) {
	ds := setupDataSet(t)
	out := memory.New()
	n := New(Config{Output: out, DiscardInvalid: true})

	summary, err := n.Run(context.Background(), ds, readDefinition(t, museumDefinition), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Normalized)
	assert.Equal(t, 1, summary.Discarded)
	assert.Equal(t, "museum", summary.DataSet)
	assert.Equal(t, "test", summary.Prefix)
	assert.NotEmpty(t, summary.RunID)
	assert.False(t, summary.Finished.Before(summary.Started))

	ctx := context.Background()
	normalized, err := out.NormalizedRecords(ctx, summary.RunID, 0)
	require.NoError(t, err)
	require.Len(t, normalized, 2)
	assert.Equal(t, 1, normalized[0].Index)
	assert.Equal(t, "obj-1", normalized[0].Identifier)
	assert.Equal(t, "<record>\n"+
		"  <dc:identifier>obj-1</dc:identifier>\n"+
		"  <dc:title>Vase</dc:title>\n"+
		"  <europeana:isShownBy>http://example.org/1.jpg</europeana:isShownBy>\n"+
		"</record>\n", normalized[0].Content)
	assert.NotZero(t, normalized[0].Hash)
	assert.NotEqual(t, normalized[0].Hash, normalized[1].Hash)
	assert.Contains(t, normalized[1].Content, "http://example.org/3.jpg")

	discarded, err := out.DiscardedRecords(ctx, summary.RunID, 0)
	require.NoError(t, err)
	require.Len(t, discarded, 1)
	assert.Equal(t, 3, discarded[0].Index)
	assert.Equal(t, []string{"Required field violation for [Shown-by]"}, discarded[0].Problems)
	assert.Contains(t, discarded[0].Content, "<dc:title>Bowl with handles</dc:title>")

	runs, err := out.ListRuns(ctx, "museum")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].RunID)

	mapping, err := ds.Mapping("test")
	require.NoError(t, err)
	assert.Equal(t, 2, mapping.RecordsNormalized)
	assert.Equal(t, 1, mapping.RecordsDiscarded)
	assert.False(t, mapping.NormalizeTime.IsZero())
}

func TestNormalizer_KeepInvalid(t *testing.T) {
	ds := setupDataSet(t)
	out := memory.New()
	n := New(Config{Output: out, DiscardInvalid: false})

	summary, err := n.Run(context.Background(), ds, readDefinition(t, museumDefinition), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Normalized)
	assert.Equal(t, 0, summary.Discarded)
}

func TestNormalizer_Progress(t *testing.T) {
	ds := setupDataSet(t)
	n := New(Config{Output: memory.New(), DiscardInvalid: true})

	var total int
	var seen []int
	var finished *bool
	listener := models.ProgressFuncs{
		OnTotal:    func(n int) { total = n },
		OnProgress: func(p int) bool { seen = append(seen, p); return true },
		OnFinished: func(ok bool) { finished = &ok },
	}

	_, err := n.Run(context.Background(), ds, readDefinition(t, museumDefinition), listener)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []int{1, 2, 3}, seen)
	require.NotNil(t, finished)
	assert.True(t, *finished)
}

func TestNormalizer_Aborted(t *testing.T) {
	ds := setupDataSet(t)
	out := memory.New()
	n := New(Config{Output: out, DiscardInvalid: true})

	listener := models.ProgressFuncs{
		OnProgress: func(p int) bool { return p < 2 },
	}

	_, err := n.Run(context.Background(), ds, readDefinition(t, museumDefinition), listener)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrAborted))

	runs, err := out.ListRuns(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, runs)

	mapping, err := ds.Mapping("test")
	require.NoError(t, err)
	assert.Zero(t, mapping.RecordsNormalized)
}

func TestNormalizer_NoRecordRoot(t *testing.T) {
	store, err := filestore.New(filestore.Config{Home: t.TempDir()})
	require.NoError(t, err)
	ds, err := store.CreateDataSet("bare")
	require.NoError(t, err)

	n := New(Config{Output: memory.New()})
	_, err = n.Run(context.Background(), ds, readDefinition(t, museumDefinition), nil)
	assert.ErrorIs(t, err, ErrNoRecordRoot)
}

func TestNormalizer_NoSource(t *testing.T) {
	store, err := filestore.New(filestore.Config{Home: t.TempDir()})
	require.NoError(t, err)
	ds, err := store.CreateDataSet("bare")
	require.NoError(t, err)

	facts, err := ds.Facts()
	require.NoError(t, err)
	facts.SetRecordRootPath("/collection/record")
	require.NoError(t, ds.SetFacts(facts))

	n := New(Config{Output: memory.New()})
	_, err = n.Run(context.Background(), ds, readDefinition(t, museumDefinition), nil)
	assert.ErrorIs(t, err, models.ErrNoSource)
}

func TestNormalizer_RepeatedIdentifiersAfterSpill(t *testing.T) {
	ds := setupDataSet(t)
	var src strings.Builder
	src.WriteString(`<collection xmlns:dc="http://purl.org/dc/elements/1.1/">`)
	for _, id := range []string{"obj-1", "obj-2", "obj-3", "obj-4", "obj-2"} {
		src.WriteString("<record><dc:identifier>" + id + "</dc:identifier><dc:title>T</dc:title>" +
			"<media><link>http://example.org/" + id + ".jpg</link></media></record>")
	}
	src.WriteString("</collection>")
	require.NoError(t, ds.ImportReader(context.Background(), strings.NewReader(src.String()), false, int64(src.Len()), nil))

	out := memory.New()
	n := New(Config{Output: out, DiscardInvalid: true, IdentifierThreshold: 2, SpillDir: t.TempDir()})

	summary, err := n.Run(context.Background(), ds, readDefinition(t, museumDefinition), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Normalized)
	assert.Equal(t, []string{"obj-2"}, summary.RepeatedIdentifiers)

	runs, err := out.ListRuns(context.Background(), "museum")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, []string{"obj-2"}, runs[0].RepeatedIdentifiers)
}

func TestNormalizer_RepeatedIdentifierInMemory(t *testing.T) {
	ds := setupDataSet(t)
	src := `<collection xmlns:dc="http://purl.org/dc/elements/1.1/">` +
		`<record><dc:identifier>obj-1</dc:identifier><media><link>http://example.org/a.jpg</link></media></record>` +
		`<record><dc:identifier>obj-1</dc:identifier><media><link>http://example.org/b.jpg</link></media></record>` +
		`</collection>`
	require.NoError(t, ds.ImportReader(context.Background(), strings.NewReader(src), false, int64(len(src)), nil))

	out := memory.New()
	n := New(Config{Output: out, DiscardInvalid: true})

	summary, err := n.Run(context.Background(), ds, readDefinition(t, museumDefinition), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Normalized)
	assert.Equal(t, 1, summary.Discarded)
	assert.Empty(t, summary.RepeatedIdentifiers)

	discarded, err := out.DiscardedRecords(context.Background(), summary.RunID, 0)
	require.NoError(t, err)
	require.Len(t, discarded, 1)
	assert.Equal(t, 2, discarded[0].Index)
	assert.Contains(t, discarded[0].Problems[0], "[obj-1] appears more than once")
}
