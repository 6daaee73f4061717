package filestore

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fidde/xml_profiler/pkg/hasher"
	"github.com/fidde/xml_profiler/pkg/models"
	"github.com/fidde/xml_profiler/pkg/stats"
)

const sampleXML = `<?xml version="1.0"?>
<records>
  <record><id>1</id><title>First</title></record>
  <record><id>2</id><title>Second</title></record>
</records>
`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{Home: t.TempDir()})
	require.NoError(t, err)
	return store
}

func newTestDataSet(t *testing.T) *DataSet {
	t.Helper()
	ds, err := newTestStore(t).CreateDataSet("test-set")
	require.NoError(t, err)
	return ds
}

func gzipBytes(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestStore_CreateDataSet(t *testing.T) {
	store := newTestStore(t)

	ds, err := store.CreateDataSet("museum_1")
	require.NoError(t, err)
	assert.Equal(t, "museum_1", ds.Spec())
	assert.DirExists(t, ds.Dir())

	_, err = store.CreateDataSet("museum_1")
	assert.ErrorIs(t, err, models.ErrDataSetExists)

	_, err = store.CreateDataSet("../escape")
	assert.ErrorIs(t, err, models.ErrInvalidDataSetName)

	_, err = store.DataSet("missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	list, err := store.DataSets()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "museum_1", list[0].Spec())

	require.NoError(t, store.DeleteDataSet("museum_1"))
	assert.NoDirExists(t, ds.Dir())
}

func TestResolveLatest(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	path, err := resolveLatest(dir, isFactsFile, FactsFileName)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FactsFileName), path, "no files gives the default name")

	touch(t, filepath.Join(dir, "aaa__facts.txt"), now.Add(-5*time.Hour))
	path, err = resolveLatest(dir, isFactsFile, FactsFileName)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "aaa__facts.txt"), path)

	touch(t, filepath.Join(dir, "bbb__facts.txt"), now.Add(-4*time.Hour))
	touch(t, filepath.Join(dir, "ccc__facts.txt"), now.Add(-3*time.Hour))
	touch(t, filepath.Join(dir, "ddd__facts.txt"), now.Add(-2*time.Hour))
	touch(t, filepath.Join(dir, "eee__facts.txt"), now.Add(-1*time.Hour))

	path, err = resolveLatest(dir, isFactsFile, FactsFileName)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "eee__facts.txt"), path, "most recent hashed file wins")
	assert.NoFileExists(t, filepath.Join(dir, "aaa__facts.txt"), "oldest beyond history is pruned")
	assert.NoFileExists(t, filepath.Join(dir, "bbb__facts.txt"), "second oldest beyond history is pruned")
	assert.FileExists(t, filepath.Join(dir, "ccc__facts.txt"))
	assert.FileExists(t, filepath.Join(dir, "ddd__facts.txt"))

	files, err := listFiles(dir, isFactsFile)
	require.NoError(t, err)
	assert.Len(t, files, MaxHashHistory)

	touch(t, filepath.Join(dir, FactsFileName), now.Add(-6*time.Hour))
	path, err = resolveLatest(dir, isFactsFile, FactsFileName)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FactsFileName), path, "unhashed file wins")
}

// failRemove makes removeFile fail for the duration of the test.
func failRemove(t *testing.T) {
	t.Helper()
	orig := removeFile
	removeFile = func(string) error { return os.ErrPermission }
	t.Cleanup(func() { removeFile = orig })
}

func TestResolveLatest_PruneFailure(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	for i, name := range []string{"aaa", "bbb", "ccc", "ddd"} {
		touch(t, filepath.Join(dir, name+"__facts.txt"), now.Add(time.Duration(i-4)*time.Hour))
	}
	failRemove(t)

	_, err := resolveLatest(dir, isFactsFile, FactsFileName)
	require.Error(t, err)
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "prune", storeErr.Op)
	assert.Equal(t, filepath.Join(dir, "aaa__facts.txt"), storeErr.Path)
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestDataSet_ImportReader(t *testing.T) {
	ds := newTestDataSet(t)
	ctx := context.Background()

	var total, last int
	var finished, success bool
	listener := models.ProgressFuncs{
		OnTotal:    func(n int) { total = n },
		OnProgress: func(n int) bool { last = n; return true },
		OnFinished: func(ok bool) { finished, success = true, ok },
	}

	require.NoError(t, ds.ImportReader(ctx, strings.NewReader(sampleXML), false, int64(len(sampleXML)), listener))
	assert.True(t, finished)
	assert.True(t, success)
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, last)

	assert.True(t, ds.HasSource())
	assert.Equal(t, hasher.HashString(sampleXML), ds.SourceHash())

	ok, err := ds.CheckSource()
	require.NoError(t, err)
	assert.True(t, ok)

	r, err := ds.OpenSource()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, sampleXML, string(data))
}

func TestDataSet_ImportGzipClearsDownloadedFlag(t *testing.T) {
	ds := newTestDataSet(t)
	facts := models.NewFacts()
	facts.SetDownloadedSource(true)
	require.NoError(t, ds.SetFacts(facts))

	gz := gzipBytes(t, sampleXML)
	require.NoError(t, ds.ImportReader(context.Background(), bytes.NewReader(gz), true, int64(len(gz)), nil))

	facts, err := ds.Facts()
	require.NoError(t, err)
	assert.False(t, facts.IsDownloadedSource())
	assert.Equal(t, hasher.HashString(sampleXML), ds.SourceHash())
}

func TestDataSet_ImportDeletesStatistics(t *testing.T) {
	ds := newTestDataSet(t)
	require.NoError(t, ds.SetStatistics(nil))
	require.True(t, ds.HasStatistics())

	require.NoError(t, ds.ImportReader(context.Background(), strings.NewReader(sampleXML), false, 0, nil))
	assert.False(t, ds.HasStatistics())
}

func TestDataSet_ImportCancelled(t *testing.T) {
	ds := newTestDataSet(t)
	require.NoError(t, ds.ImportReader(context.Background(), strings.NewReader(sampleXML), false, 0, nil))
	require.True(t, ds.HasSource())

	big := strings.Repeat("<a>value</a>", 4*BlockSize)
	var success = true
	listener := models.ProgressFuncs{
		OnProgress: func(int) bool { return false },
		OnFinished: func(ok bool) { success = ok },
	}
	err := ds.ImportReader(context.Background(), strings.NewReader(big), false, int64(len(big)), listener)
	assert.ErrorIs(t, err, models.ErrAborted)
	assert.False(t, success)
	assert.False(t, ds.HasSource(), "cancelled import clears every source version")
}

func TestDataSet_ImportContextCancelled(t *testing.T) {
	ds := newTestDataSet(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	big := strings.Repeat("<a>value</a>", 4*BlockSize)
	err := ds.ImportReader(ctx, strings.NewReader(big), false, int64(len(big)), nil)
	assert.ErrorIs(t, err, models.ErrAborted)
	assert.False(t, ds.HasSource())
}

func TestDataSet_ImportCancelledCleanupFailure(t *testing.T) {
	ds := newTestDataSet(t)
	failRemove(t)

	big := strings.Repeat("<a>value</a>", 4*BlockSize)
	listener := models.ProgressFuncs{
		OnProgress: func(int) bool { return false },
	}
	err := ds.ImportReader(context.Background(), strings.NewReader(big), false, int64(len(big)), listener)
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrAborted)
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "remove partial source", storeErr.Op)
	assert.Equal(t, filepath.Join(ds.Dir(), SourceFileName), storeErr.Path)
}

func TestDataSet_ImportFileRejectsExtension(t *testing.T) {
	ds := newTestDataSet(t)
	path := filepath.Join(t.TempDir(), "source.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b"), 0644))

	err := ds.ImportFile(context.Background(), path, nil)
	assert.Error(t, err)
	assert.False(t, ds.HasSource())
}

func TestDataSet_ImportURL(t *testing.T) {
	ds := newTestDataSet(t)
	path := filepath.Join(t.TempDir(), "export.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleXML), 0644))

	require.NoError(t, ds.ImportURL(context.Background(), "file://"+path, nil))
	assert.Equal(t, hasher.HashString(sampleXML), ds.SourceHash())
}

func TestDataSet_OpenSourceWithoutSource(t *testing.T) {
	ds := newTestDataSet(t)
	_, err := ds.OpenSource()
	assert.ErrorIs(t, err, models.ErrNoSource)
}

func TestDataSet_Statistics(t *testing.T) {
	ds := newTestDataSet(t)

	list, err := ds.Statistics()
	require.NoError(t, err)
	assert.Nil(t, list)

	fs := stats.NewFieldStatistics(models.MustParsePath("/records/record/id"))
	for _, v := range []string{"1", "2", "3"} {
		fs.RecordOccurrence()
		fs.RecordValue(v)
	}
	require.NoError(t, fs.Finish())
	require.NoError(t, ds.SetStatistics([]*stats.FieldStatistics{fs}))

	list, err = ds.Statistics()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "/records/record/id", list[0].Path().String())
	assert.Equal(t, 3, list[0].Total())
	assert.True(t, list[0].UniqueValues())
}

func TestDataSet_CorruptStatisticsDeleted(t *testing.T) {
	ds := newTestDataSet(t)
	path := filepath.Join(ds.Dir(), StatisticsFileName)
	require.NoError(t, writeGzip(path, []byte("{not json")))

	list, err := ds.Statistics()
	require.NoError(t, err)
	assert.Nil(t, list)
	assert.NoFileExists(t, path)
}

func TestDataSet_Facts(t *testing.T) {
	ds := newTestDataSet(t)

	facts, err := ds.Facts()
	require.NoError(t, err)
	assert.Empty(t, facts.Get("name"))

	facts.Set("name", "Test Museum")
	facts.SetRecordRootPath("/records/record")
	require.NoError(t, ds.SetFacts(facts))

	loaded, err := ds.Facts()
	require.NoError(t, err)
	assert.Equal(t, "Test Museum", loaded.Get("name"))
	assert.Equal(t, "/records/record", loaded.RecordRootPath())

	path, err := ds.FactsFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ds.Dir(), FactsFileName), path)
}

func TestDataSet_Mappings(t *testing.T) {
	ds := newTestDataSet(t)

	m, err := ds.Mapping("abm")
	require.NoError(t, err)
	assert.Equal(t, "abm", m.Prefix)
	assert.Empty(t, m.Fields)

	m.SetField("/abm:record/dc:title", "/title")
	m.SetField("/abm:record/dc:identifier", "/id")
	require.NoError(t, ds.SetMapping(m))
	require.NoError(t, ds.SetMapping(models.NewMapping("lido")))

	prefixes, err := ds.MappingPrefixes()
	require.NoError(t, err)
	assert.Equal(t, []string{"abm", "lido"}, prefixes)

	loaded, err := ds.Mapping("abm")
	require.NoError(t, err)
	require.Len(t, loaded.Fields, 2)
	assert.Equal(t, "/abm:record/dc:identifier", loaded.Fields[0].Target)

	path, err := ds.MappingFile("abm")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ds.Dir(), mappingFileName("abm")), path)

	all, err := ds.Mappings()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	info, err := ds.Info()
	require.NoError(t, err)
	assert.Equal(t, []string{"abm", "lido"}, info.Mappings)
	assert.False(t, info.HasSource)
}

func TestStore_Templates(t *testing.T) {
	store := newTestStore(t)

	m := models.NewMapping("abm")
	m.SetField("/abm:record/dc:title", "/title")
	require.NoError(t, store.SetTemplate("basic", m))
	require.NoError(t, os.WriteFile(filepath.Join(store.Home(), templateFileName("broken")), []byte("prefix: [unclosed"), 0644))

	templates, err := store.Templates()
	require.NoError(t, err)
	require.Contains(t, templates, "basic")
	assert.NotContains(t, templates, "broken")
	assert.Equal(t, "abm", templates["basic"].Prefix)
	assert.NoFileExists(t, filepath.Join(store.Home(), templateFileName("broken")))

	require.NoError(t, store.DeleteTemplate("basic"))
	require.NoError(t, store.DeleteTemplate("basic"))
	templates, err = store.Templates()
	require.NoError(t, err)
	assert.Empty(t, templates)
}

func buildArchive(t *testing.T, entries map[string][]byte) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

func TestDataSet_AcceptArchive(t *testing.T) {
	ds := newTestDataSet(t)

	downloaded := `<delving-sip-source><record><id>1</id></record></delving-sip-source>`
	var mapping bytes.Buffer
	require.NoError(t, models.WriteMapping(&mapping, models.NewMapping("abm")))

	archive := buildArchive(t, map[string][]byte{
		"test-set/" + SourceFileName:         gzipBytes(t, downloaded),
		"test-set/" + FactsFileName:          []byte("name=Archive Museum\n"),
		"test-set/" + mappingFileName("abm"): mapping.Bytes(),
		"test-set/README":                    []byte("ignored"),
	})

	require.NoError(t, ds.AcceptArchive(context.Background(), archive, archive.Size(), nil))

	assert.Equal(t, hasher.HashString(downloaded), ds.SourceHash())
	facts, err := ds.Facts()
	require.NoError(t, err)
	assert.Equal(t, "Archive Museum", facts.Get("name"))
	assert.True(t, facts.IsDownloadedSource())
	assert.Equal(t, "/delving-sip-source/record", facts.RecordRootPath())

	prefixes, err := ds.MappingPrefixes()
	require.NoError(t, err)
	assert.Equal(t, []string{"abm"}, prefixes)
	assert.NoFileExists(t, filepath.Join(ds.Dir(), "README"))
}

func TestDataSet_AcceptArchiveWithoutSource(t *testing.T) {
	ds := newTestDataSet(t)
	archive := buildArchive(t, map[string][]byte{FactsFileName: []byte("name=x\n")})

	err := ds.AcceptArchive(context.Background(), archive, archive.Size(), nil)
	assert.True(t, errors.Is(err, models.ErrNoSource))
}
