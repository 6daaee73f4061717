package api

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
  </record>
</collection>
`

const testDefinition = `
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

type testServer struct {
	*Server
	output *memory.Store
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	files, err := filestore.New(filestore.Config{Home: t.TempDir()})
	require.NoError(t, err)
	def, err := models.ReadRecordDefinition(strings.NewReader(testDefinition))
	require.NoError(t, err)

	out := memory.New()
	s := NewServer(Config{
		Files:          files,
		Output:         out,
		Definitions:    map[string]*models.RecordDefinition{"test": def},
		DiscardInvalid: true,
	})
	return &testServer{Server: s, output: out}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// setupAnalyzed creates the museum data set, imports and analyzes it.
func setupAnalyzed(t *testing.T, ts *testServer) {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/datasets", DataSetRequest{Spec: "museum"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPut, "/api/v1/datasets/museum/source", museumXML)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/v1/datasets/museum/analysis", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Definitions)
	assert.Equal(t, 0, resp.DataSets)
}

func TestDataSets_CreateListDelete(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/datasets", DataSetRequest{
		Spec:  "museum",
		Facts: map[string]string{"language": "sv"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	info := decode[filestore.Info](t, w)
	assert.Equal(t, "museum", info.Spec)
	assert.False(t, info.HasSource)
	assert.Equal(t, "museum", info.Facts["spec"])
	assert.Equal(t, "sv", info.Facts["language"])

	w = ts.do(t, http.MethodPost, "/api/v1/datasets", DataSetRequest{Spec: "museum"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/datasets", DataSetRequest{Spec: "../escape"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/datasets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[PaginatedResponse](t, w)
	assert.Equal(t, 1, page.Total)

	w = ts.do(t, http.MethodDelete, "/api/v1/datasets/museum", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/datasets/museum", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDataSets_UnknownFact(t *testing.T) {
	ts := setupTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/datasets", DataSetRequest{
		Spec:  "museum",
		Facts: map[string]string{"colour": "blue"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFacts_Put(t *testing.T) {
	ts := setupTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/datasets", DataSetRequest{Spec: "museum"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/datasets/museum/facts", map[string]string{"type": "IMAGE"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "IMAGE", decode[map[string]string](t, w)["type"])

	w = ts.do(t, http.MethodPut, "/api/v1/datasets/museum/facts", map[string]string{"type": "PAINTING"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/datasets/museum/facts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "IMAGE", decode[map[string]string](t, w)["type"])
}

func TestSource_GzipUploadAndCheck(t *testing.T) {
	ts := setupTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/datasets", DataSetRequest{Spec: "museum"})
	require.Equal(t, http.StatusCreated, w.Code)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(museumXML))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/datasets/museum/source", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	info := decode[filestore.Info](t, rec)
	assert.True(t, info.HasSource)
	assert.NotEmpty(t, info.SourceHash)

	w = ts.do(t, http.MethodGet, "/api/v1/datasets/museum/source/check", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]interface{}](t, w)["valid"])
}

func TestAnalysis_NoSource(t *testing.T) {
	ts := setupTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/datasets", DataSetRequest{Spec: "museum"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/datasets/museum/analysis", nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/datasets/museum/statistics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalysis_StatisticsAndTree(t *testing.T) {
	ts := setupTestServer(t)
	setupAnalyzed(t, ts)

	w := ts.do(t, http.MethodGet, "/api/v1/datasets/museum/statistics?path=/collection/record/dc:identifier", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fs := decode[StatisticsResponse](t, w)
	assert.Equal(t, 2, fs.Total)
	assert.True(t, fs.Unique)
	assert.Len(t, fs.Histogram, 2)

	w = ts.do(t, http.MethodGet, "/api/v1/datasets/museum/statistics?path=/collection/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/datasets/museum/tree", nil)
	require.Equal(t, http.StatusOK, w.Code)
	roots := decode[[]*TreeNode](t, w)
	require.Len(t, roots, 1)
	assert.Equal(t, "/collection", roots[0].Path)
	require.Len(t, roots[0].Children, 1)
	record := roots[0].Children[0]
	assert.Equal(t, "/collection/record", record.Path)
	assert.Equal(t, 2, record.Count)
	assert.True(t, record.CouldBeRecordRoot)
}

func TestRecordRootAndVariables(t *testing.T) {
	ts := setupTestServer(t)
	setupAnalyzed(t, ts)

	w := ts.do(t, http.MethodGet, "/api/v1/datasets/museum/variables", nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/datasets/museum/record-root", PathRequest{Path: "/collection/record/dc:title"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "a value path cannot be a record root")

	w = ts.do(t, http.MethodPut, "/api/v1/datasets/museum/record-root", PathRequest{Path: "/collection/record"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	facts := decode[map[string]string](t, w)
	assert.Equal(t, "/collection/record", facts[models.FactRecordRootPath])
	assert.Equal(t, "2", facts[models.FactRecordCount])

	w = ts.do(t, http.MethodPut, "/api/v1/datasets/museum/unique-element", PathRequest{Path: "/collection/record/media"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "a container cannot be the unique element")

	w = ts.do(t, http.MethodPut, "/api/v1/datasets/museum/unique-element", PathRequest{Path: "/collection/record/dc:identifier"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/v1/datasets/museum/variables", nil)
	require.Equal(t, http.StatusOK, w.Code)
	vars := decode[[]Variable](t, w)
	var names []string
	for _, v := range vars {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{"input.dc_identifier", "input.dc_title", "input.media.link"}, names)
}

func TestMappingAndNormalize(t *testing.T) {
	ts := setupTestServer(t)
	setupAnalyzed(t, ts)
	w := ts.do(t, http.MethodPut, "/api/v1/datasets/museum/record-root", PathRequest{Path: "/collection/record"})
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodPut, "/api/v1/datasets/museum/unique-element", PathRequest{Path: "/collection/record/dc:identifier"})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/datasets/museum/mappings/test", MappingRequest{
		Fields: []models.FieldMapping{{Target: "/record/dc:nothing", Source: "/dc:title"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/datasets/museum/mappings/unknown", MappingRequest{})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/datasets/museum/mappings/test", MappingRequest{
		Fields: []models.FieldMapping{
			{Target: "/record/dc:identifier", Source: "/dc:identifier"},
			{Target: "/record/dc:title", Source: "/dc:title"},
			{Target: "/record/europeana:isShownBy", Source: "/media/link"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/v1/datasets/museum/mappings/test/normalize", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	summary := decode[models.RunSummary](t, w)
	assert.Equal(t, 1, summary.Normalized)
	assert.Equal(t, 1, summary.Discarded)

	w = ts.do(t, http.MethodGet, "/api/v1/datasets/museum/mappings/test", nil)
	require.Equal(t, http.StatusOK, w.Code)
	mapping := decode[models.Mapping](t, w)
	assert.Equal(t, 1, mapping.RecordsNormalized)
	assert.Equal(t, 1, mapping.RecordsDiscarded)

	w = ts.do(t, http.MethodGet, "/api/v1/datasets/museum/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[PaginatedResponse](t, w).Total)

	w = ts.do(t, http.MethodGet, "/api/v1/runs/"+summary.RunID+"/normalized", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var normalized struct {
		Data []models.NormalizedRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &normalized))
	require.Len(t, normalized.Data, 1)
	assert.Equal(t, "obj-1", normalized.Data[0].Identifier)

	w = ts.do(t, http.MethodGet, "/api/v1/runs/"+summary.RunID+"/discarded", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var discarded struct {
		Data []models.DiscardedRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &discarded))
	require.Len(t, discarded.Data, 1)
	assert.Equal(t, []string{"Required field violation for [Shown-by]"}, discarded.Data[0].Problems)
}

func TestNormalize_NoRecordRoot(t *testing.T) {
	ts := setupTestServer(t)
	setupAnalyzed(t, ts)

	w := ts.do(t, http.MethodPost, "/api/v1/datasets/museum/mappings/test/normalize", nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestBusyDataSet(t *testing.T) {
	ts := setupTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/datasets", DataSetRequest{Spec: "museum"})
	require.Equal(t, http.StatusCreated, w.Code)

	rec := httptest.NewRecorder()
	require.True(t, ts.acquire(rec, "museum", "analysis"))
	defer ts.release("museum")

	w = ts.do(t, http.MethodPost, "/api/v1/datasets/museum/analysis", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "analysis")

	w = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, map[string]string{"museum": "analysis"}, decode[HealthResponse](t, w).Busy)
}

func TestValidateRecord(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/definitions/test/validate", ValidateRequest{
		Record: "<record><dc:identifier>a</dc:identifier><europeana:isShownBy>http://x.org/</europeana:isShownBy></record>",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[ValidateResponse](t, w)
	assert.True(t, resp.Valid)
	assert.Empty(t, resp.Problems)

	w = ts.do(t, http.MethodPost, "/api/v1/definitions/test/validate", ValidateRequest{
		Record: "<record><dc:identifier>a</dc:identifier></record>",
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[ValidateResponse](t, w)
	assert.False(t, resp.Valid)
	assert.Equal(t, []string{"Required field violation for [Shown-by]"}, resp.Problems)

	w = ts.do(t, http.MethodPost, "/api/v1/definitions/other/validate", ValidateRequest{Record: "<x/>"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDefinitionsAndFactDefinitions(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/definitions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	defs := decode[[]DefinitionSummary](t, w)
	require.Len(t, defs, 1)
	assert.Equal(t, "test", defs[0].Prefix)

	w = ts.do(t, http.MethodGet, "/api/v1/facts/definitions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	facts := decode[[]models.FactDefinition](t, w)
	assert.NotEmpty(t, facts)
}

func TestTemplates(t *testing.T) {
	ts := setupTestServer(t)

	template := models.Mapping{
		Prefix: "test",
		Fields: []models.FieldMapping{{Target: "/record/dc:title", Source: "/dc:title"}},
	}
	w := ts.do(t, http.MethodPut, "/api/v1/templates/titles", template)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/v1/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	templates := decode[map[string]*models.Mapping](t, w)
	require.Contains(t, templates, "titles")
	assert.Equal(t, template.Fields, templates["titles"].Fields)

	w = ts.do(t, http.MethodPost, "/api/v1/datasets", DataSetRequest{Spec: "museum"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = ts.do(t, http.MethodPut, "/api/v1/datasets/museum/mappings/test", MappingRequest{Template: "titles"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, template.Fields, decode[models.Mapping](t, w).Fields)

	w = ts.do(t, http.MethodDelete, "/api/v1/templates/titles", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/templates", nil)
	assert.Empty(t, decode[map[string]*models.Mapping](t, w))
}

func TestPaginateSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	page, resp := paginateSlice(items, PaginationParams{Limit: 2, Offset: 1})
	assert.Equal(t, []int{2, 3}, page)
	assert.True(t, resp.HasMore)
	assert.Equal(t, 5, resp.Total)

	page, resp = paginateSlice(items, PaginationParams{Limit: 2, Offset: 10})
	assert.Empty(t, page)
	assert.False(t, resp.HasMore)
}
