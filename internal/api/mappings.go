package api

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fidde/xml_profiler/internal/normalizer"
	"github.com/fidde/xml_profiler/internal/validator"
	"github.com/fidde/xml_profiler/pkg/models"
)

// MappingRequest replaces the field list of a mapping. Template, when set,
// names a stored template whose fields are used instead.
type MappingRequest struct {
	Fields   []models.FieldMapping `json:"fields"`
	Template string                `json:"template,omitempty"`
}

// ValidateRequest is a single serialized record to validate.
type ValidateRequest struct {
	Record string `json:"record"`
}

// ValidateResponse is the outcome of validating one record.
type ValidateResponse struct {
	Record   string   `json:"record"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems"`
}

// DefinitionSummary describes a loaded record definition.
type DefinitionSummary struct {
	Prefix     string                       `json:"prefix"`
	Namespaces []models.NamespaceDefinition `json:"namespaces"`
	Fields     []string                     `json:"fields"`
}

// definition resolves the {prefix} URL parameter to a loaded record
// definition, answering 404 itself.
func (s *Server) definition(w http.ResponseWriter, r *http.Request) (*models.RecordDefinition, bool) {
	prefix := chi.URLParam(r, "prefix")
	def, ok := s.definitions[prefix]
	if !ok {
		s.respondError(w, http.StatusNotFound, "no record definition for prefix "+strconv.Quote(prefix))
		return nil, false
	}
	return def, true
}

// listMappings returns the current mapping of every prefix.
// GET /api/v1/datasets/{spec}/mappings
func (s *Server) listMappings(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	mappings, err := ds.Mappings()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, mappings)
}

// getMapping returns the mapping for one prefix, empty when none is stored.
// GET /api/v1/datasets/{spec}/mappings/{prefix}
func (s *Server) getMapping(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	def, ok := s.definition(w, r)
	if !ok {
		return
	}
	m, err := ds.Mapping(def.Prefix)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, m)
}

// putMapping replaces the fields of a mapping after checking every target
// against the record definition. Changing the fields clears the counters of
// the previous run.
// PUT /api/v1/datasets/{spec}/mappings/{prefix}
func (s *Server) putMapping(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	def, ok := s.definition(w, r)
	if !ok {
		return
	}
	var req MappingRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	fields := req.Fields
	if req.Template != "" {
		templates, err := s.files.Templates()
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		t, ok := templates[req.Template]
		if !ok {
			s.respondError(w, http.StatusNotFound, "no template "+strconv.Quote(req.Template))
			return
		}
		if t.Prefix != def.Prefix {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("template %s is for %s, not %s", req.Template, t.Prefix, def.Prefix))
			return
		}
		fields = t.Fields
	}

	m := models.NewMapping(def.Prefix)
	for _, f := range fields {
		m.SetField(f.Target, f.Source)
	}
	if _, err := normalizer.NewMappingTransformer(def, m); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := ds.SetMapping(m); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, m)
}

// normalize runs the data set's mapping for a prefix over the whole source
// and returns the run summary.
// POST /api/v1/datasets/{spec}/mappings/{prefix}/normalize
func (s *Server) normalize(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	def, ok := s.definition(w, r)
	if !ok {
		return
	}
	if !s.acquire(w, ds.Spec(), "normalize "+def.Prefix) {
		return
	}
	defer s.release(ds.Spec())

	summary, err := s.normalizer.Run(r.Context(), ds, def, s.progress(ds.Spec(), "normalize"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

// listRuns returns the data set's normalization runs, newest first.
// GET /api/v1/datasets/{spec}/runs
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataSet(w, r)
	if !ok {
		return
	}
	params := parsePaginationParams(r)

	runs, err := s.output.ListRuns(r.Context(), ds.Spec())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	_, response := paginateSlice(runs, params)
	s.respondJSON(w, http.StatusOK, response)
}

// listNormalized returns the records a run kept, ordered by index.
// GET /api/v1/runs/{id}/normalized
func (s *Server) listNormalized(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)

	records, err := s.output.NormalizedRecords(r.Context(), chi.URLParam(r, "id"), params.Offset+params.Limit)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	_, response := paginateSlice(records, params)
	s.respondJSON(w, http.StatusOK, response)
}

// listDiscarded returns the records a run discarded with their problems.
// GET /api/v1/runs/{id}/discarded
func (s *Server) listDiscarded(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)

	records, err := s.output.DiscardedRecords(r.Context(), chi.URLParam(r, "id"), params.Offset+params.Limit)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	_, response := paginateSlice(records, params)
	s.respondJSON(w, http.StatusOK, response)
}

// listDefinitions returns the loaded record definitions.
// GET /api/v1/definitions
func (s *Server) listDefinitions(w http.ResponseWriter, r *http.Request) {
	out := make([]DefinitionSummary, 0, len(s.definitions))
	for _, def := range s.definitions {
		out = append(out, DefinitionSummary{
			Prefix:     def.Prefix,
			Namespaces: def.Namespaces,
			Fields:     def.FieldNames(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	s.respondJSON(w, http.StatusOK, out)
}

// validateRecord checks a single record against a definition. Identifier
// uniqueness is not checked across requests.
// POST /api/v1/definitions/{prefix}/validate
func (s *Server) validateRecord(w http.ResponseWriter, r *http.Request) {
	def, ok := s.definition(w, r)
	if !ok {
		return
	}
	var req ValidateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Record) == "" {
		s.respondError(w, http.StatusBadRequest, "record is required")
		return
	}

	out, problems := validator.New(def, s.logger).ValidateRecord(req.Record)
	if problems == nil {
		problems = []string{}
	}
	s.respondJSON(w, http.StatusOK, ValidateResponse{
		Record:   out,
		Valid:    len(problems) == 0,
		Problems: problems,
	})
}

// listFactDefinitions returns the declared facts with their prompts.
// GET /api/v1/facts/definitions
func (s *Server) listFactDefinitions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, models.FactDefinitions())
}

// listTemplates returns the stored mapping templates by name.
// GET /api/v1/templates
func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.files.Templates()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, templates)
}

// putTemplate stores a mapping under a template name. Counters are not
// kept in templates.
// PUT /api/v1/templates/{name}
func (s *Server) putTemplate(w http.ResponseWriter, r *http.Request) {
	var m models.Mapping
	if !s.decodeJSON(w, r, &m) {
		return
	}
	def, ok := s.definitions[m.Prefix]
	if !ok {
		s.respondError(w, http.StatusBadRequest, "no record definition for prefix "+strconv.Quote(m.Prefix))
		return
	}
	if _, err := normalizer.NewMappingTransformer(def, &m); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	m.ClearCounters()

	if err := s.files.SetTemplate(chi.URLParam(r, "name"), &m); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, &m)
}

// deleteTemplate removes a mapping template.
// DELETE /api/v1/templates/{name}
func (s *Server) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.files.DeleteTemplate(chi.URLParam(r, "name")); err != nil {
		s.respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
