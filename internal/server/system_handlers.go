package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/scheduler"
)

// JobRunner lists and triggers scheduled jobs
type JobRunner interface {
	Jobs() []scheduler.JobStatus
	RunNow(name string) error
}

// SystemHandlers serves process and host status
type SystemHandlers struct {
	log       zerolog.Logger
	historyDB *database.DB
	jobs      JobRunner
	startTime time.Time
}

// SystemStatus is the response of GET /api/system/status
type SystemStatus struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Goroutines    int     `json:"goroutines"`
	GoVersion     string  `json:"go_version"`
	HistoryDB     string  `json:"history_db"`

	HistoryDBStats *database.Stats `json:"history_db_stats,omitempty"`
}

// NewSystemHandlers creates system handlers. historyDB and jobs may be nil.
func NewSystemHandlers(log zerolog.Logger, historyDB *database.DB, jobs JobRunner) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		historyDB: historyDB,
		jobs:      jobs,
		startTime: time.Now(),
	}
}

// HandleSystemStatus returns uptime, resource usage and store health
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	status := SystemStatus{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		GoVersion:     runtime.Version(),
		HistoryDB:     "not_configured",
	}

	if h.historyDB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		stats, err := h.historyDB.Stats(ctx)
		if err != nil {
			h.log.Warn().Err(err).Msg("History database check failed")
			status.Status = "degraded"
			status.HistoryDB = "unavailable"
		} else {
			status.HistoryDB = "ok"
			status.HistoryDBStats = &stats
		}
	}

	writeJSON(w, http.StatusOK, status, h.log)
}

// HandleJobsStatus lists scheduled jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobStatus{}
	if h.jobs != nil {
		jobs = h.jobs.Jobs()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs}, h.log)
}

// HandleTriggerJob starts a registered job in the background
// POST /api/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if h.jobs == nil || !h.hasJob(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"status":  "error",
			"message": "Job not registered: " + name,
		}, h.log)
		return
	}

	go func() {
		if err := h.jobs.RunNow(name); err != nil {
			h.log.Error().Err(err).Str("job", name).Msg("Triggered job failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "triggered",
		"message": "Job " + name + " started",
	}, h.log)
}

func (h *SystemHandlers) hasJob(name string) bool {
	for _, job := range h.jobs.Jobs() {
		if job.Name == name {
			return true
		}
	}
	return false
}

// getSystemStats calculates CPU and RAM usage percentages
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	// 100ms sample keeps the endpoint responsive
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
