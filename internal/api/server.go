// Package api provides the REST API for managing data sets, profiling them
// and running normalizations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fidde/xml_profiler/internal/metrics"
	"github.com/fidde/xml_profiler/internal/normalizer"
	"github.com/fidde/xml_profiler/internal/patterns"
	"github.com/fidde/xml_profiler/internal/storage"
	"github.com/fidde/xml_profiler/internal/storage/filestore"
	"github.com/fidde/xml_profiler/pkg/models"
)

// maxUploadSize bounds source and archive uploads.
const maxUploadSize = 4 << 30

// Config holds the server's collaborators.
type Config struct {
	Addr        string
	Files       *filestore.Store
	Output      storage.Output
	Definitions map[string]*models.RecordDefinition
	Patterns    []patterns.CompiledPattern

	// DiscardInvalid is passed on to normalization runs.
	DiscardInvalid bool

	Logger *slog.Logger
}

// Server is the REST API server.
type Server struct {
	files       *filestore.Store
	output      storage.Output
	definitions map[string]*models.RecordDefinition
	patterns    []patterns.CompiledPattern
	normalizer  *normalizer.Normalizer
	logger      *slog.Logger

	// Data sets with a long-running operation in progress
	busyMu sync.Mutex
	busy   map[string]string

	// Set once shutdown begins; running passes stop at their next progress report
	stopped atomic.Bool

	router *chi.Mux
	server *http.Server
}

// PaginationParams contains pagination parameters from query string.
type PaginationParams struct {
	Limit  int
	Offset int
}

// PaginatedResponse wraps a paginated response with metadata.
type PaginatedResponse struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// parsePaginationParams extracts pagination parameters from request.
// Defaults: limit=100, offset=0, max_limit=1000
func parsePaginationParams(r *http.Request) PaginationParams {
	const (
		defaultLimit = 100
		maxLimit     = 1000
	)

	limit := defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
			if limit > maxLimit {
				limit = maxLimit
			}
		}
	}

	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return PaginationParams{
		Limit:  limit,
		Offset: offset,
	}
}

// paginateSlice applies pagination to a slice.
func paginateSlice[T any](items []T, params PaginationParams) ([]T, PaginatedResponse) {
	total := len(items)
	start := params.Offset
	end := start + params.Limit

	// Bounds check
	if start >= total {
		return []T{}, PaginatedResponse{
			Data:    []T{},
			Total:   total,
			Limit:   params.Limit,
			Offset:  params.Offset,
			HasMore: false,
		}
	}

	if end > total {
		end = total
	}

	page := items[start:end]
	hasMore := end < total

	return page, PaginatedResponse{
		Data:    page,
		Total:   total,
		Limit:   params.Limit,
		Offset:  params.Offset,
		HasMore: hasMore,
	}
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Definitions == nil {
		cfg.Definitions = make(map[string]*models.RecordDefinition)
	}

	s := &Server{
		files:       cfg.Files,
		output:      cfg.Output,
		definitions: cfg.Definitions,
		patterns:    cfg.Patterns,
		normalizer: normalizer.New(normalizer.Config{
			Output:         cfg.Output,
			DiscardInvalid: cfg.DiscardInvalid,
			Logger:         cfg.Logger,
		}),
		logger: cfg.Logger,
		busy:   make(map[string]string),
		router: chi.NewRouter(),
	}

	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.HandleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.HandleHealth)

		// Data set endpoints
		r.Get("/datasets", s.listDataSets)
		r.Post("/datasets", s.createDataSet)
		r.Route("/datasets/{spec}", func(r chi.Router) {
			r.Get("/", s.getDataSet)
			r.Delete("/", s.deleteDataSet)

			// Source endpoints
			r.Put("/source", s.uploadSource)
			r.Post("/source/url", s.importSourceURL)
			r.Post("/source/archive", s.uploadArchive)
			r.Get("/source/check", s.checkSource)

			// Facts endpoints
			r.Get("/facts", s.getFacts)
			r.Put("/facts", s.putFacts)

			// Analysis endpoints
			r.Post("/analysis", s.analyze)
			r.Get("/statistics", s.listStatistics)
			r.Get("/tree", s.getTree)
			r.Get("/variables", s.listVariables)
			r.Put("/record-root", s.setRecordRoot)
			r.Put("/unique-element", s.setUniqueElement)

			// Mapping endpoints
			r.Get("/mappings", s.listMappings)
			r.Get("/mappings/{prefix}", s.getMapping)
			r.Put("/mappings/{prefix}", s.putMapping)
			r.Post("/mappings/{prefix}/normalize", s.normalize)

			r.Get("/runs", s.listRuns)
		})

		// Run endpoints
		r.Get("/runs/{id}/normalized", s.listNormalized)
		r.Get("/runs/{id}/discarded", s.listDiscarded)

		// Record definition endpoints
		r.Get("/definitions", s.listDefinitions)
		r.Post("/definitions/{prefix}/validate", s.validateRecord)
		r.Get("/facts/definitions", s.listFactDefinitions)

		// Mapping template endpoints
		r.Get("/templates", s.listTemplates)
		r.Put("/templates/{name}", s.putTemplate)
		r.Delete("/templates/{name}", s.deleteTemplate)
	})

	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.router,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopped.Store(true)
	return s.server.Shutdown(ctx)
}

func (s *Server) stopping() bool {
	return s.stopped.Load()
}

// acquire marks a data set busy with op. It returns false, and answers
// 409, when another operation holds it.
func (s *Server) acquire(w http.ResponseWriter, spec, op string) bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()

	if current, ok := s.busy[spec]; ok {
		s.respondError(w, http.StatusConflict, "data set "+spec+" is busy: "+current)
		return false
	}
	s.busy[spec] = op
	return true
}

func (s *Server) release(spec string) {
	s.busyMu.Lock()
	delete(s.busy, spec)
	s.busyMu.Unlock()
}

// busyOps returns the operations in progress by data set.
func (s *Server) busyOps() map[string]string {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()

	out := make(map[string]string, len(s.busy))
	for k, v := range s.busy {
		out[k] = v
	}
	return out
}

// dataSet resolves the {spec} URL parameter, answering 404 or 400 itself.
func (s *Server) dataSet(w http.ResponseWriter, r *http.Request) (*filestore.DataSet, bool) {
	ds, err := s.files.DataSet(chi.URLParam(r, "spec"))
	if err != nil {
		s.respondStoreError(w, err)
		return nil, false
	}
	return ds, true
}

// respondStoreError maps domain errors to status codes.
func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidDataSetName):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrDataSetExists):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrNoSource), errors.Is(err, normalizer.ErrNoRecordRoot):
		s.respondError(w, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, models.ErrAborted):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON reads a JSON request body into v, answering 400 on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// respondJSON writes a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
