package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/twiddli/happypanda/internal/fetcher"
	"github.com/twiddli/happypanda/internal/gallery"
	"github.com/twiddli/happypanda/internal/reconciler"
	"github.com/twiddli/happypanda/internal/scanner"
	"github.com/twiddli/happypanda/internal/store"
)

func newTestServer(t *testing.T) (*store.Store, *mux.Router) {
	t.Helper()
	st := store.NewMemory()
	sc := scanner.New(nil)
	rc := reconciler.New(st, nil)
	f := fetcher.New(st)

	router := mux.NewRouter()
	New(st, sc, rc, f).RegisterRoutes(router)
	return st, router
}

func seed(t *testing.T, st *store.Store) {
	t.Helper()
	records := []*gallery.Record{
		{
			Signature: "sig-a",
			Title:     "Summer Festival",
			Path:      "/lib/a.zip",
			Kind:      gallery.KindZip,
			PageCount: 20,
			Tags:      gallery.Tags{"artist": {"jane"}, "genre": {"romance"}},
		},
		{
			Signature: "sig-b",
			Title:     "Winter Tales",
			Path:      "/lib/b",
			Kind:      gallery.KindDirectory,
			PageCount: 12,
			Tags:      gallery.Tags{"artist": {"jane"}, "genre": {"comedy"}},
		},
	}
	if err := st.Apply(context.Background(), records, nil); err != nil {
		t.Fatal(err)
	}
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body []byte, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("cannot decode %s %s response: %v\n%s", method, path, err, rec.Body.String())
		}
	}
	return rec
}

func TestSearchEndpoint(t *testing.T) {
	st, router := newTestServer(t)
	seed(t, st)

	var result SearchResult
	rec := doJSON(t, router, http.MethodGet, "/api/search?q=artist:jane+-genre:comedy", nil, &result)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d\n%s", rec.Code, rec.Body.String())
	}
	if result.TotalItems != 1 || len(result.Items) != 1 {
		t.Fatalf("result = %+v, want one item", result)
	}
	if result.Items[0].Signature != "sig-a" {
		t.Errorf("matched %s, want sig-a", result.Items[0].Signature)
	}
}

func TestSearchSyntaxErrorIs400(t *testing.T) {
	st, router := newTestServer(t)
	seed(t, st)

	rec := doJSON(t, router, http.MethodGet, `/api/search?q=re:%22%5B%22`, nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400\n%s", rec.Code, rec.Body.String())
	}
}

func TestListGalleriesPaging(t *testing.T) {
	st, router := newTestServer(t)
	seed(t, st)

	var result SearchResult
	rec := doJSON(t, router, http.MethodGet, "/api/galleries?page=1&pageSize=1", nil, &result)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if result.TotalItems != 2 || result.TotalPages != 2 || len(result.Items) != 1 {
		t.Errorf("paging wrong: %+v", result)
	}
	if result.Items[0].Title != "Summer Festival" {
		t.Errorf("first item = %q, want title order", result.Items[0].Title)
	}
}

func TestGalleryCRUD(t *testing.T) {
	st, router := newTestServer(t)
	seed(t, st)

	var rec gallery.Record
	resp := doJSON(t, router, http.MethodGet, "/api/gallery/sig-a", nil, &rec)
	if resp.Code != http.StatusOK || rec.Title != "Summer Festival" {
		t.Fatalf("GET status=%d record=%+v", resp.Code, rec)
	}

	update := []byte(`{"title": "Summer Festival (complete)", "tags": {"artist": ["jane"], "genre": ["romance", "drama"]}}`)
	resp = doJSON(t, router, http.MethodPut, "/api/gallery/sig-a", update, &rec)
	if resp.Code != http.StatusOK {
		t.Fatalf("PUT status = %d\n%s", resp.Code, resp.Body.String())
	}
	if rec.Title != "Summer Festival (complete)" || !rec.Tags.Has("genre", "drama") {
		t.Errorf("update not applied: %+v", rec)
	}

	// Edits must be searchable immediately.
	results, err := st.Search("genre:drama")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Error("updated tags not reflected in search")
	}

	resp = doJSON(t, router, http.MethodDelete, "/api/gallery/sig-a", nil, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", resp.Code)
	}
	// Idempotent delete.
	resp = doJSON(t, router, http.MethodDelete, "/api/gallery/sig-a", nil, nil)
	if resp.Code != http.StatusNoContent {
		t.Errorf("second DELETE status = %d, want 204", resp.Code)
	}

	resp = doJSON(t, router, http.MethodGet, "/api/gallery/sig-a", nil, nil)
	if resp.Code != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", resp.Code)
	}
}

func TestUpdateUnknownGalleryIs404(t *testing.T) {
	_, router := newTestServer(t)
	resp := doJSON(t, router, http.MethodPut, "/api/gallery/nope", []byte(`{"title":"x"}`), nil)
	if resp.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.Code)
	}
}

func TestTagsEndpoint(t *testing.T) {
	st, router := newTestServer(t)
	seed(t, st)

	var tags map[string][]string
	resp := doJSON(t, router, http.MethodGet, "/api/tags", nil, &tags)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	if len(tags["artist"]) != 1 || tags["artist"][0] != "jane" {
		t.Errorf("tags = %v", tags)
	}
	if len(tags["genre"]) != 2 {
		t.Errorf("genre tags = %v, want two", tags["genre"])
	}
}

func TestImportRequiresPath(t *testing.T) {
	_, router := newTestServer(t)
	resp := doJSON(t, router, http.MethodPost, "/api/import", []byte(`{}`), nil)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.Code)
	}
}

func TestReindexEndpoint(t *testing.T) {
	st, router := newTestServer(t)
	seed(t, st)

	resp := doJSON(t, router, http.MethodPost, "/api/reindex", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	results, err := st.Search("artist:jane")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Error("search broken after reindex")
	}
}

func TestReadyzBeforeInitialScan(t *testing.T) {
	_, router := newTestServer(t)
	resp := doJSON(t, router, http.MethodGet, "/readyz", nil, nil)
	if resp.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 before the initial scan", resp.Code)
	}

	resp = doJSON(t, router, http.MethodGet, "/livez", nil, nil)
	if resp.Code != http.StatusOK {
		t.Errorf("livez = %d, want 200", resp.Code)
	}
}

func TestHealthAndStats(t *testing.T) {
	st, router := newTestServer(t)
	seed(t, st)

	var health HealthResponse
	resp := doJSON(t, router, http.MethodGet, "/health", nil, &health)
	if resp.Code != http.StatusOK {
		t.Fatalf("health status = %d", resp.Code)
	}
	if health.Galleries != 2 {
		t.Errorf("Galleries = %d, want 2", health.Galleries)
	}
	if health.Status != statusStarting {
		t.Errorf("Status = %q before initial scan", health.Status)
	}

	var stats StatsResponse
	resp = doJSON(t, router, http.MethodGet, "/stats", nil, &stats)
	if resp.Code != http.StatusOK {
		t.Fatalf("stats status = %d", resp.Code)
	}
	if stats.Galleries != 2 || stats.Namespaces != 2 || stats.Tags != 3 {
		t.Errorf("stats = %+v", stats)
	}
}
