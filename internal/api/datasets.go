package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/fidde/xml_profiler/internal/analyzer"
	"github.com/fidde/xml_profiler/internal/normalizer"
	"github.com/fidde/xml_profiler/internal/storage/filestore"
	"github.com/fidde/xml_profiler/pkg/models"
	"github.com/fidde/xml_profiler/pkg/stats"
)

// DataSetRequest is the body for creating a data set.
type DataSetRequest struct {
	Spec  string            `json:"spec"`
	Facts map[string]string `json:"facts,omitempty"`
}

// PathRequest carries an element path, e.g. for the record root.
type PathRequest struct {
	Path string `json:"path"`
}

// URLRequest carries a source location readable by the file service.
type URLRequest struct {
	URL string `json:"url"`
}

// StatisticsResponse is the JSON view of one path's statistics.
type StatisticsResponse struct {
	Path                 string          `json:"path"`
	Total                int             `json:"total"`
	ValueCount           int             `json:"value_count"`
	Unique               bool            `json:"unique"`
	EstimatedCardinality uint64          `json:"estimated_cardinality"`
	DominantShape        string          `json:"dominant_shape,omitempty"`
	Shapes               map[string]int  `json:"shapes,omitempty"`
	Summary              string          `json:"summary"`
	Sample               []string        `json:"sample,omitempty"`
	Histogram            []stats.Counter `json:"histogram,omitempty"`
	HistogramTrimmed     bool            `json:"histogram_trimmed,omitempty"`
}

// TreeNode is the JSON view of an analysis tree node.
type TreeNode struct {
	Tag               string      `json:"tag"`
	Path              string      `json:"path"`
	Count             int         `json:"count"`
	HasValues         bool        `json:"has_values"`
	CouldBeRecordRoot bool        `json:"could_be_record_root"`
	RecordRoot        bool        `json:"record_root,omitempty"`
	UniqueElement     bool        `json:"unique_element,omitempty"`
	Children          []*TreeNode `json:"children,omitempty"`
}

// Variable is a value path below the record root, named for mapping sources.
type Variable struct {
	Name         string `json:"name"`
	RelativePath string `json:"relative_path"`
	Path         string `json:"path"`
}

func newStatisticsResponse(fs *stats.FieldStatistics, withHistogram bool) StatisticsResponse {
	resp := StatisticsResponse{
		Path:                 fs.Path().String(),
		Total:                fs.Total(),
		ValueCount:           fs.ValueCount(),
		Unique:               fs.UniqueValues(),
		EstimatedCardinality: fs.EstimatedCardinality(),
		DominantShape:        fs.DominantShape(),
		Shapes:               fs.Shapes(),
		Summary:              fs.Summary(),
	}
	if sample := fs.RandomSample(); sample != nil {
		resp.Sample = sample.Values()
	}
	if h := fs.Histogram(); h != nil && withHistogram {
		resp.Histogram = h.TrimmedCounters()
		resp.HistogramTrimmed = h.IsTrimmed()
	}
	return resp
}

// listDataSets returns a summary of every data set.
// GET /api/v1/datasets
func (s *Server) listDataSets(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)

	list, err := s.files.DataSets()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	infos := make([]*filestore.Info, 0, len(list))
	for _, ds := range list {
		info, err := ds.Info()
		if err != nil {
			s.logger.Warn("skipping unreadable data set", "spec", ds.Spec(), "error", err)
			continue
		}
		infos = append(infos, info)
	}

	_, response := paginateSlice(infos, params)
	s.respondJSON(w, http.StatusOK, response)
}

// createDataSet makes a new data set, optionally with initial facts.
// POST /api/v1/datasets
func (s *Server) createDataSet(w http.ResponseWriter, r *http.Request) {
	var req DataSetRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	for name := range req.Facts {
		if !models.IsFactName(name) {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown fact %q", name))
			return
		}
	}

	ds, err := s.files.CreateDataSet(req.Spec)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	facts := models.NewFacts()
	facts.Set("spec", req.Spec)
	for name, value := range req.Facts {
		facts.Set(name, value)
	}
	if err := ds.SetFacts(facts); err != nil {
		s.respondStoreError(w, err)
		return
	}

	info, err := ds.Info()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, info)
}

// getDataSet returns one data set summary.
// GET /api/v1/datasets/{spec}
func (s *Server) getDataSet(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	info, err := ds.Info()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

// deleteDataSet removes a data set with all its files.
// DELETE /api/v1/datasets/{spec}
func (s *Server) deleteDataSet(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	if !s.acquire(w, ds.Spec(), "delete") {
		return
	}
	defer s.release(ds.Spec())

	if err := s.files.DeleteDataSet(ds.Spec()); err != nil {
		s.respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// uploadSource replaces the source with the request body. A gzip body is
// announced with Content-Encoding: gzip.
// PUT /api/v1/datasets/{spec}/source
func (s *Server) uploadSource(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	if !s.acquire(w, ds.Spec(), "import") {
		return
	}
	defer s.release(ds.Spec())

	body := http.MaxBytesReader(w, r.Body, maxUploadSize)
	gzipped := strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip")
	if err := ds.ImportReader(r.Context(), body, gzipped, r.ContentLength, s.progress(ds.Spec(), "import")); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondSource(w, ds)
}

// importSourceURL imports the source from a file://, s3:// or gs:// URL.
// POST /api/v1/datasets/{spec}/source/url
func (s *Server) importSourceURL(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	var req URLRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		s.respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	if !s.acquire(w, ds.Spec(), "import") {
		return
	}
	defer s.release(ds.Spec())

	if err := ds.ImportURL(r.Context(), req.URL, s.progress(ds.Spec(), "import")); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondSource(w, ds)
}

// uploadArchive unpacks a zip archive holding a downloaded source with its
// facts and mappings.
// POST /api/v1/datasets/{spec}/source/archive
func (s *Server) uploadArchive(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	if !s.acquire(w, ds.Spec(), "import") {
		return
	}
	defer s.release(ds.Spec())

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "reading archive: "+err.Error())
		return
	}
	if err := ds.AcceptArchive(r.Context(), bytes.NewReader(data), int64(len(data)), s.progress(ds.Spec(), "archive")); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondSource(w, ds)
}

func (s *Server) respondSource(w http.ResponseWriter, ds *filestore.DataSet) {
	info, err := ds.Info()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

// checkSource verifies the source against the hash in its file name.
// GET /api/v1/datasets/{spec}/source/check
func (s *Server) checkSource(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	valid, err := ds.CheckSource()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"valid": valid,
		"hash":  ds.SourceHash(),
	})
}

// getFacts returns every declared fact, unset ones as "".
// GET /api/v1/datasets/{spec}/facts
func (s *Server) getFacts(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	facts, err := ds.Facts()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, facts.Map())
}

// putFacts merges the given facts into the stored ones.
// PUT /api/v1/datasets/{spec}/facts
func (s *Server) putFacts(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	var req map[string]string
	if !s.decodeJSON(w, r, &req) {
		return
	}
	for name, value := range req {
		if !models.IsFactName(name) {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown fact %q", name))
			return
		}
		if def, ok := models.LookupFactDefinition(name); ok && len(def.Options) > 0 && value != "" && !contains(def.Options, value) {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("fact %s must be one of [%s]", name, strings.Join(def.Options, ",")))
			return
		}
	}

	facts, err := ds.Facts()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	changed := false
	for name, value := range req {
		changed = facts.Set(name, value) || changed
	}
	if changed {
		if err := ds.SetFacts(facts); err != nil {
			s.respondStoreError(w, err)
			return
		}
	}
	s.respondJSON(w, http.StatusOK, facts.Map())
}

// analyze profiles the current source and stores the statistics. When a
// record root is known the record count fact is refreshed.
// POST /api/v1/datasets/{spec}/analysis
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	if !s.acquire(w, ds.Spec(), "analysis") {
		return
	}
	defer s.release(ds.Spec())

	profiler := analyzer.NewProfiler(analyzer.ProfilerConfig{
		Patterns: s.patterns,
		Listener: s.progress(ds.Spec(), "analysis"),
		Logger:   s.logger.With("spec", ds.Spec()),
	})
	list, err := profiler.ProfileDataSet(r.Context(), ds)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	facts, err := ds.Facts()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if root := facts.RecordRootPath(); root != "" {
		if path, err := models.ParsePath(root); err == nil {
			count := analyzer.RecordCount(list, path)
			if facts.SetRecordCount(strconv.Itoa(count)) {
				if err := ds.SetFacts(facts); err != nil {
					s.respondStoreError(w, err)
					return
				}
			}
		}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"paths":        len(list),
		"record_count": facts.RecordCount(),
	})
}

// statistics loads the stored profile, answering 404 when there is none.
func (s *Server) statistics(w http.ResponseWriter, ds *filestore.DataSet) ([]*stats.FieldStatistics, bool) {
	list, err := ds.Statistics()
	if err != nil {
		s.respondStoreError(w, err)
		return nil, false
	}
	if list == nil {
		s.respondError(w, http.StatusNotFound, "data set "+ds.Spec()+" has not been analyzed")
		return nil, false
	}
	return list, true
}

// listStatistics returns the profile, one entry per path. A path query
// parameter selects a single path and includes its histogram.
// GET /api/v1/datasets/{spec}/statistics
func (s *Server) listStatistics(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	list, ok := s.statistics(w, ds)
	if !ok {
		return
	}

	if p := r.URL.Query().Get("path"); p != "" {
		path, err := models.ParsePath(p)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		fs := stats.Find(list, path)
		if fs == nil {
			s.respondError(w, http.StatusNotFound, "no statistics for "+p)
			return
		}
		s.respondJSON(w, http.StatusOK, newStatisticsResponse(fs, true))
		return
	}

	params := parsePaginationParams(r)
	page, response := paginateSlice(list, params)
	out := make([]StatisticsResponse, 0, len(page))
	for _, fs := range page {
		out = append(out, newStatisticsResponse(fs, false))
	}
	response.Data = out
	s.respondJSON(w, http.StatusOK, response)
}

// tree builds the analysis tree with the record root and unique element
// from the facts applied.
func (s *Server) tree(w http.ResponseWriter, ds *filestore.DataSet) (*analyzer.Tree, *models.Facts, bool) {
	list, ok := s.statistics(w, ds)
	if !ok {
		return nil, nil, false
	}
	facts, err := ds.Facts()
	if err != nil {
		s.respondStoreError(w, err)
		return nil, nil, false
	}
	tree := analyzer.NewTree(list)
	if path, err := models.ParsePath(facts.RecordRootPath()); err == nil {
		tree.SetRecordRoot(path)
	}
	if path, err := models.ParsePath(facts.UniqueElementPath()); err == nil {
		tree.SetUniqueElement(path)
	}
	return tree, facts, true
}

func treeNode(tree *analyzer.Tree, i int) *TreeNode {
	node := tree.Node(i)
	out := &TreeNode{
		Tag:               node.Tag.String(),
		Path:              node.Path.String(),
		CouldBeRecordRoot: tree.CouldBeRecordRoot(i),
		RecordRoot:        node.RecordRoot,
		UniqueElement:     node.UniqueElement,
	}
	if node.Statistics != nil {
		out.Count = node.Statistics.Total()
		out.HasValues = node.Statistics.HasValues()
	}
	for _, child := range node.Children {
		out.Children = append(out.Children, treeNode(tree, child))
	}
	return out
}

// getTree returns the element hierarchy found by analysis.
// GET /api/v1/datasets/{spec}/tree
func (s *Server) getTree(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	tree, _, ok := s.tree(w, ds)
	if !ok {
		return
	}
	roots := make([]*TreeNode, 0, len(tree.Roots()))
	for _, i := range tree.Roots() {
		roots = append(roots, treeNode(tree, i))
	}
	s.respondJSON(w, http.StatusOK, roots)
}

// listVariables returns the value paths below the record root.
// GET /api/v1/datasets/{spec}/variables
func (s *Server) listVariables(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	tree, _, ok := s.tree(w, ds)
	if !ok {
		return
	}
	if _, ok := tree.RecordRoot(); !ok {
		s.respondStoreError(w, fmt.Errorf("data set %s: %w", ds.Spec(), normalizer.ErrNoRecordRoot))
		return
	}
	vars := make([]Variable, 0)
	for _, i := range tree.Variables() {
		vars = append(vars, Variable{
			Name:         tree.VariableName(i),
			RelativePath: tree.RelativePath(i),
			Path:         tree.Path(i).String(),
		})
	}
	s.respondJSON(w, http.StatusOK, vars)
}

// setRecordRoot selects the element wrapping each record. The path must be
// a non-leaf node of the analysis tree. The unique element is cleared when
// it no longer lies below the new root.
// PUT /api/v1/datasets/{spec}/record-root
func (s *Server) setRecordRoot(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	var req PathRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	path, err := models.ParsePath(req.Path)
	if err != nil || path.IsEmpty() {
		s.respondError(w, http.StatusBadRequest, "invalid path "+strconv.Quote(req.Path))
		return
	}
	tree, facts, ok := s.tree(w, ds)
	if !ok {
		return
	}
	i, found := tree.Lookup(path)
	if !found || !tree.CouldBeRecordRoot(i) {
		s.respondError(w, http.StatusBadRequest, path.String()+" cannot be a record root")
		return
	}

	facts.SetRecordRootPath(path.String())
	facts.SetRecordCount(strconv.Itoa(tree.Node(i).Statistics.Total()))
	if unique, err := models.ParsePath(facts.UniqueElementPath()); err == nil && !unique.IsEmpty() && !unique.HasPrefix(path) {
		facts.SetUniqueElementPath("")
	}
	if err := ds.SetFacts(facts); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, facts.Map())
}

// setUniqueElement selects the value identifying each record. The path must
// be a value-bearing node below the record root.
// PUT /api/v1/datasets/{spec}/unique-element
func (s *Server) setUniqueElement(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	var req PathRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	path, err := models.ParsePath(req.Path)
	if err != nil || path.IsEmpty() {
		s.respondError(w, http.StatusBadRequest, "invalid path "+strconv.Quote(req.Path))
		return
	}
	tree, facts, ok := s.tree(w, ds)
	if !ok {
		return
	}
	root, ok := tree.RecordRoot()
	if !ok {
		s.respondStoreError(w, fmt.Errorf("data set %s: %w", ds.Spec(), normalizer.ErrNoRecordRoot))
		return
	}
	i, found := tree.Lookup(path)
	if !found || !path.HasPrefix(tree.Path(root)) || path.Equal(tree.Path(root)) {
		s.respondError(w, http.StatusBadRequest, path.String()+" is not below the record root")
		return
	}
	if node := tree.Node(i); node.Statistics == nil || !node.Statistics.HasValues() {
		s.respondError(w, http.StatusBadRequest, path.String()+" carries no values")
		return
	}

	facts.SetUniqueElementPath(path.String())
	if err := ds.SetFacts(facts); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, facts.Map())
}

// progress logs the progress of a long-running pass and stops it when the
// server shuts down.
func (s *Server) progress(spec, op string) models.ProgressListener {
	logger := s.logger.With("spec", spec, "op", op)
	return models.ProgressFuncs{
		OnTotal: func(total int) {
			logger.Debug("progress total", "total", total)
		},
		OnProgress: func(progress int) bool {
			logger.Debug("progress", "progress", progress)
			return !s.stopping()
		},
		OnFinished: func(success bool) {
			logger.Info("finished", "success", success)
		},
	}
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
