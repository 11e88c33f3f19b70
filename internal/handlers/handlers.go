// Package handlers implements the HTTP API over the gallery store.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/twiddli/happypanda/internal/fetcher"
	"github.com/twiddli/happypanda/internal/logging"
	"github.com/twiddli/happypanda/internal/reconciler"
	"github.com/twiddli/happypanda/internal/scanner"
	"github.com/twiddli/happypanda/internal/store"
)

type Handlers struct {
	store      *store.Store
	scanner    *scanner.Scanner
	reconciler *reconciler.Reconciler
	fetcher    *fetcher.Fetcher
	started    time.Time
}

func New(st *store.Store, sc *scanner.Scanner, rc *reconciler.Reconciler, f *fetcher.Fetcher) *Handlers {
	return &Handlers{
		store:      st,
		scanner:    sc,
		reconciler: rc,
		fetcher:    f,
		started:    time.Now(),
	}
}

// RegisterRoutes attaches every API route to the router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/search", h.Search).Methods(http.MethodGet)
	r.HandleFunc("/api/galleries", h.ListGalleries).Methods(http.MethodGet)
	r.HandleFunc("/api/gallery/{signature}", h.GetGallery).Methods(http.MethodGet)
	r.HandleFunc("/api/gallery/{signature}", h.UpdateGallery).Methods(http.MethodPut)
	r.HandleFunc("/api/gallery/{signature}", h.DeleteGallery).Methods(http.MethodDelete)
	r.HandleFunc("/api/gallery/{signature}/fetch", h.FetchMetadata).Methods(http.MethodPost)
	r.HandleFunc("/api/import", h.Import).Methods(http.MethodPost)
	r.HandleFunc("/api/tags", h.Tags).Methods(http.MethodGet)
	r.HandleFunc("/api/reindex", h.Reindex).Methods(http.MethodPost)

	r.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.Readyz).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.Livez).Methods(http.MethodGet)
	r.HandleFunc("/version", h.Version).Methods(http.MethodGet)
}

// writeJSON encodes v as JSON onto the response. Encoding errors are only
// logged; there is nothing useful left to send.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logging.Error("failed to encode JSON error: %v", err)
	}
}
