package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/twiddli/happypanda/internal/reconciler"
	"github.com/twiddli/happypanda/internal/scanner"
	"github.com/twiddli/happypanda/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Ready    bool   `json:"ready"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Scanning bool   `json:"scanning"`
	LastScan string `json:"lastScan,omitempty"`

	Galleries int `json:"galleries"`

	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// Health reports overall service health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	status := h.scanner.Status()

	response := HealthResponse{
		Ready:        status.Ready,
		Version:      startup.Version,
		Uptime:       time.Since(h.started).Round(time.Second).String(),
		Scanning:     status.Running,
		Galleries:    h.store.Len(),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}
	if status.Ready {
		response.Status = statusHealthy
	} else {
		response.Status = statusStarting
	}
	if !status.LastRun.IsZero() {
		response.LastScan = status.LastRun.Format(time.RFC3339)
	}

	writeJSON(w, response)
}

// Readyz is the readiness probe: 200 once the initial scan completed.
func (h *Handlers) Readyz(w http.ResponseWriter, _ *http.Request) {
	if !h.scanner.Ready() {
		writeJSONError(w, "initial scan in progress", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ready"})
}

// Livez is the liveness probe.
func (h *Handlers) Livez(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "alive"})
}

// Version reports build information.
func (h *Handlers) Version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, startup.GetBuildInfo())
}

// StatsResponse aggregates library and pipeline statistics.
type StatsResponse struct {
	Galleries  int               `json:"galleries"`
	Namespaces int               `json:"namespaces"`
	Tags       int               `json:"tags"`
	Scanner    scanner.Status    `json:"scanner"`
	LastBatch  reconciler.Report `json:"lastBatch"`
}

// Stats reports library statistics and the last reconciliation report.
func (h *Handlers) Stats(w http.ResponseWriter, _ *http.Request) {
	tags := h.store.Tags()
	tagCount := 0
	for _, ts := range tags {
		tagCount += len(ts)
	}

	writeJSON(w, StatsResponse{
		Galleries:  h.store.Len(),
		Namespaces: len(tags),
		Tags:       tagCount,
		Scanner:    h.scanner.Status(),
		LastBatch:  h.reconciler.LastReport(),
	})
}
