package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/twiddli/happypanda/internal/gallery"
	"github.com/twiddli/happypanda/internal/query"
)

// SearchResult is the paged search response.
type SearchResult struct {
	Query      string            `json:"query"`
	Items      []gallery.Summary `json:"items"`
	TotalItems int               `json:"totalItems"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
	TotalPages int               `json:"totalPages"`
}

func pageParams(r *http.Request) (page, pageSize int) {
	page, pageSize = 1, 50
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}
	return page, pageSize
}

func paginate(records []*gallery.Record, page, pageSize int) ([]gallery.Summary, int) {
	totalPages := (len(records) + pageSize - 1) / pageSize
	low := (page - 1) * pageSize
	if low > len(records) {
		low = len(records)
	}
	high := low + pageSize
	if high > len(records) {
		high = len(records)
	}
	items := make([]gallery.Summary, 0, high-low)
	for _, rec := range records[low:high] {
		items = append(items, gallery.Summarize(rec))
	}
	return items, totalPages
}

// Search evaluates a query expression. An empty expression returns the
// whole collection; a malformed one is a 400 with the syntax position.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	records, err := h.store.Search(q)
	if err != nil {
		var serr *query.SyntaxError
		if errors.As(err, &serr) {
			writeJSONError(w, serr.Error(), http.StatusBadRequest)
			return
		}
		writeJSONError(w, "search failed", http.StatusInternalServerError)
		return
	}

	page, pageSize := pageParams(r)
	items, totalPages := paginate(records, page, pageSize)
	writeJSON(w, SearchResult{
		Query:      q,
		Items:      items,
		TotalItems: len(records),
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

// ListGalleries returns the whole collection, paged and ordered by title.
func (h *Handlers) ListGalleries(w http.ResponseWriter, r *http.Request) {
	records := h.store.All()
	page, pageSize := pageParams(r)
	items, totalPages := paginate(records, page, pageSize)
	writeJSON(w, SearchResult{
		Items:      items,
		TotalItems: len(records),
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

// GetGallery returns one full record.
func (h *Handlers) GetGallery(w http.ResponseWriter, r *http.Request) {
	sig := gallery.Signature(mux.Vars(r)["signature"])
	rec, ok := h.store.Get(sig)
	if !ok {
		writeJSONError(w, "gallery not found", http.StatusNotFound)
		return
	}
	writeJSON(w, rec)
}

// galleryUpdate is the PUT body. Absent fields are left untouched.
type galleryUpdate struct {
	Title *string       `json:"title"`
	Tags  *gallery.Tags `json:"tags"`
}

// UpdateGallery edits the title and/or replaces the tag set of a record.
func (h *Handlers) UpdateGallery(w http.ResponseWriter, r *http.Request) {
	sig := gallery.Signature(mux.Vars(r)["signature"])
	rec, ok := h.store.Get(sig)
	if !ok {
		writeJSONError(w, "gallery not found", http.StatusNotFound)
		return
	}

	var update galleryUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSONError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if update.Title != nil {
		rec.Title = *update.Title
	}
	if update.Tags != nil {
		rec.Tags = update.Tags.Clone()
	}

	if err := h.store.Upsert(r.Context(), rec); err != nil {
		writeJSONError(w, "failed to store gallery", http.StatusInternalServerError)
		return
	}
	updated, _ := h.store.Get(sig)
	writeJSON(w, updated)
}

// DeleteGallery removes a record. Deleting twice is fine; the second call
// is still a 204.
func (h *Handlers) DeleteGallery(w http.ResponseWriter, r *http.Request) {
	sig := gallery.Signature(mux.Vars(r)["signature"])
	if err := h.store.Remove(r.Context(), sig); err != nil {
		writeJSONError(w, "failed to delete gallery", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FetchMetadata runs the metadata providers for one gallery.
func (h *Handlers) FetchMetadata(w http.ResponseWriter, r *http.Request) {
	sig := gallery.Signature(mux.Vars(r)["signature"])
	if _, ok := h.store.Get(sig); !ok {
		writeJSONError(w, "gallery not found", http.StatusNotFound)
		return
	}

	force := r.URL.Query().Get("force") == "true"
	merged, err := h.fetcher.FetchInto(r.Context(), sig, force)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, merged)
}

// importRequest is the POST /api/import body.
type importRequest struct {
	Path string `json:"path"`
}

// Import pushes one source path through the reconciler.
func (h *Handlers) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSONError(w, "body must be {\"path\": \"...\"}", http.StatusBadRequest)
		return
	}

	report, err := h.reconciler.ReconcileSources(r.Context(), []string{req.Path})
	if err != nil {
		writeJSONError(w, "import failed", http.StatusInternalServerError)
		return
	}
	if report.Rejected > 0 {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	writeJSON(w, report)
}

// Tags returns every namespace with its tags.
func (h *Handlers) Tags(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.store.Tags())
}

// Reindex rebuilds the search index from the records.
func (h *Handlers) Reindex(w http.ResponseWriter, _ *http.Request) {
	h.store.RebuildIndex()
	writeJSON(w, map[string]string{"status": "reindexed"})
}
