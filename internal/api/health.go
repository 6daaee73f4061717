package api

import (
	"net/http"
	"runtime"
	"time"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Version     string            `json:"version,omitempty"`
	Uptime      string            `json:"uptime,omitempty"`
	DataSets    int               `json:"data_sets"`
	Definitions int               `json:"definitions"`
	Busy        map[string]string `json:"busy,omitempty"`
	Memory      *MemoryStats      `json:"memory,omitempty"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	AllocMB      uint64 `json:"alloc_mb"`
	TotalAllocMB uint64 `json:"total_alloc_mb"`
	SysMB        uint64 `json:"sys_mb"`
	NumGC        uint32 `json:"num_gc"`
}

var startTime = time.Now()

// HandleHealth returns the health status of the application. The data set
// directory being unreadable makes the status degraded.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:      "ok",
		Timestamp:   time.Now(),
		Version:     "1.0.0",
		Uptime:      time.Since(startTime).String(),
		Definitions: len(s.definitions),
		Busy:        s.busyOps(),
		Memory: &MemoryStats{
			AllocMB:      m.Alloc / 1024 / 1024,
			TotalAllocMB: m.TotalAlloc / 1024 / 1024,
			SysMB:        m.Sys / 1024 / 1024,
			NumGC:        m.NumGC,
		},
	}

	status := http.StatusOK
	list, err := s.files.DataSets()
	if err != nil {
		s.logger.Warn("health check cannot list data sets", "error", err)
		response.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	response.DataSets = len(list)

	s.respondJSON(w, status, response)
}
