package reconciler

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/twiddli/happypanda/internal/gallery"
	"github.com/twiddli/happypanda/internal/store"
)

func makeZip(t *testing.T, path string, pages map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range pages {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestReconciler(t *testing.T, roots ...string) (*Reconciler, *store.Store) {
	t.Helper()
	st := store.NewMemory()
	return New(st, roots), st
}

func TestReconcileAcceptsNewArchive(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "(C88) [Jane Doe] Summer Festival (English).zip")
	makeZip(t, path, map[string][]byte{"001.jpg": []byte("a"), "002.jpg": []byte("b")})

	r, st := newTestReconciler(t, root)
	report, err := r.ReconcileSources(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("ReconcileSources returned error: %v", err)
	}
	if report.Accepted != 1 {
		t.Fatalf("Accepted = %d, want 1", report.Accepted)
	}

	rec, ok := st.GetByPath(path)
	if !ok {
		t.Fatal("record not stored")
	}
	if rec.Title != "Summer Festival" {
		t.Errorf("Title = %q, want parsed title", rec.Title)
	}
	if !rec.Tags.Has("artist", "Jane Doe") {
		t.Errorf("artist tag missing: %v", rec.Tags)
	}
	if !rec.Tags.Has("language", "English") {
		t.Errorf("language tag missing: %v", rec.Tags)
	}
	if rec.PageCount != 2 {
		t.Errorf("PageCount = %d, want 2", rec.PageCount)
	}
	if rec.Kind != gallery.KindZip {
		t.Errorf("Kind = %q, want zip", rec.Kind)
	}
	if rec.FirstPage != "001.jpg" {
		t.Errorf("FirstPage = %q, want first sorted page", rec.FirstPage)
	}
}

func TestCorruptArchiveDoesNotBlockBatch(t *testing.T) {
	root := t.TempDir()
	good := filepath.Join(root, "good.cbz")
	makeZip(t, good, map[string][]byte{"001.png": []byte("a")})
	bad := filepath.Join(root, "bad.zip")
	if err := os.WriteFile(bad, []byte("not a zip at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, st := newTestReconciler(t, root)
	report, err := r.ReconcileSources(context.Background(), []string{bad, good})
	if err != nil {
		t.Fatalf("ReconcileSources returned error: %v", err)
	}
	if report.Accepted != 1 || report.Rejected != 1 {
		t.Fatalf("report = %+v, want 1 accepted and 1 rejected", report)
	}
	if len(report.Errors) != 1 || report.Errors[0].Path != bad {
		t.Errorf("Errors = %v, want one for the corrupt archive", report.Errors)
	}
	if _, ok := st.GetByPath(good); !ok {
		t.Error("good archive was not stored")
	}
}

func TestArchiveWithoutPagesIsRejected(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "empty.zip")
	makeZip(t, path, map[string][]byte{"readme.txt": []byte("no images")})

	r, _ := newTestReconciler(t, root)
	report, err := r.ReconcileSources(context.Background(), []string{path})
	if err != nil {
		t.Fatal(err)
	}
	if report.Rejected != 1 {
		t.Fatalf("Rejected = %d, want 1", report.Rejected)
	}
}

func TestMovePreservesIdentityAndTags(t *testing.T) {
	root := t.TempDir()
	oldPath := filepath.Join(root, "a.zip")
	makeZip(t, oldPath, map[string][]byte{"001.jpg": []byte("page")})

	r, st := newTestReconciler(t, root)
	ctx := context.Background()
	if _, err := r.ReconcileSources(ctx, []string{oldPath}); err != nil {
		t.Fatal(err)
	}

	before, _ := st.GetByPath(oldPath)
	before.Tags.Add("genre", "romance")
	if err := st.Upsert(ctx, before); err != nil {
		t.Fatal(err)
	}

	newPath := filepath.Join(root, "renamed.zip")
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatal(err)
	}

	report, err := r.ReconcileSources(ctx, []string{newPath})
	if err != nil {
		t.Fatal(err)
	}
	if report.Moved != 1 {
		t.Fatalf("Moved = %d, want 1 (report %+v)", report.Moved, report)
	}

	if st.Len() != 1 {
		t.Fatalf("Len = %d, want 1", st.Len())
	}
	rec, ok := st.GetByPath(newPath)
	if !ok {
		t.Fatal("record not found at new path")
	}
	if rec.Signature != before.Signature {
		t.Error("signature changed across a move")
	}
	if !rec.Tags.Has("genre", "romance") {
		t.Error("tags lost across a move")
	}
}

func TestInPlaceEditKeepsMetadata(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.zip")
	makeZip(t, path, map[string][]byte{"001.jpg": []byte("v1")})

	r, st := newTestReconciler(t, root)
	ctx := context.Background()
	if _, err := r.ReconcileSources(ctx, []string{path}); err != nil {
		t.Fatal(err)
	}

	before, _ := st.GetByPath(path)
	before.Tags.Add("genre", "comedy")
	if err := st.Upsert(ctx, before); err != nil {
		t.Fatal(err)
	}

	// Rewrite the archive with different content: same path, new signature.
	makeZip(t, path, map[string][]byte{"001.jpg": []byte("v2"), "002.jpg": []byte("new")})

	report, err := r.ReconcileSources(ctx, []string{path})
	if err != nil {
		t.Fatal(err)
	}
	if report.Updated != 1 {
		t.Fatalf("Updated = %d, want 1 (report %+v)", report.Updated, report)
	}

	if st.Len() != 1 {
		t.Fatalf("Len = %d after in-place edit, want 1", st.Len())
	}
	rec, _ := st.GetByPath(path)
	if rec.Signature == before.Signature {
		t.Error("signature did not change with the content")
	}
	if !rec.Tags.Has("genre", "comedy") {
		t.Error("metadata lost across an in-place edit")
	}
	if rec.PageCount != 2 {
		t.Errorf("PageCount = %d, want 2", rec.PageCount)
	}
}

func TestSweepRemovesAfterGrace(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.zip")
	makeZip(t, path, map[string][]byte{"001.jpg": []byte("page")})

	r, st := newTestReconciler(t, root)
	ctx := context.Background()
	if _, err := r.Sweep(ctx, []string{path}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	report, err := r.Sweep(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Removed != 0 || report.PendingDeletion != 1 {
		t.Fatalf("first missing sweep: %+v, want pending deletion", report)
	}
	if st.Len() != 1 {
		t.Fatal("record removed before the grace period elapsed")
	}

	report, err = r.Sweep(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Removed != 1 {
		t.Fatalf("second missing sweep: %+v, want removal", report)
	}
	if st.Len() != 0 {
		t.Error("record still present after confirmed removal")
	}
}

func TestSweepMissingCounterResetsWhenSourceReturns(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.zip")
	pages := map[string][]byte{"001.jpg": []byte("page")}
	makeZip(t, path, pages)

	r, st := newTestReconciler(t, root)
	ctx := context.Background()
	if _, err := r.Sweep(ctx, []string{path}); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Sweep(ctx, nil); err != nil {
		t.Fatal(err)
	}

	// The source comes back before the second confirmation.
	makeZip(t, path, pages)
	if _, err := r.Sweep(ctx, []string{path}); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	report, err := r.Sweep(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Removed != 0 {
		t.Fatal("missing counter was not reset by the source returning")
	}
	if st.Len() != 1 {
		t.Error("record removed too early")
	}
}

func TestDuplicateContentRejected(t *testing.T) {
	root := t.TempDir()
	pages := map[string][]byte{"001.jpg": []byte("same")}
	a := filepath.Join(root, "a.zip")
	b := filepath.Join(root, "b.zip")
	makeZip(t, a, pages)
	makeZip(t, b, pages)

	r, st := newTestReconciler(t, root)
	report, err := r.ReconcileSources(context.Background(), []string{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if report.Accepted != 1 || report.Rejected != 1 {
		t.Fatalf("report = %+v, want one accepted and one duplicate rejection", report)
	}
	if st.Len() != 1 {
		t.Errorf("Len = %d, want 1", st.Len())
	}
}

func TestHandleEventsResolvesPagesToDirectory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "gallery")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	page := filepath.Join(dir, "001.jpg")
	if err := os.WriteFile(page, []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, st := newTestReconciler(t, root)
	report, err := r.HandleEvents(context.Background(), []string{page})
	if err != nil {
		t.Fatal(err)
	}
	if report.Accepted != 1 {
		t.Fatalf("Accepted = %d, want 1 (report %+v)", report.Accepted, report)
	}
	if _, ok := st.GetByPath(dir); !ok {
		t.Error("page event did not resolve to its gallery directory")
	}
}

func TestHandleEventsRevalidatesGalleryAfterPageDelete(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "gallery")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	pageA := filepath.Join(dir, "001.jpg")
	pageB := filepath.Join(dir, "002.jpg")
	for _, p := range []string{pageA, pageB} {
		if err := os.WriteFile(p, []byte("img"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	r, st := newTestReconciler(t, root)
	if _, err := r.ReconcileSources(context.Background(), []string{dir}); err != nil {
		t.Fatal(err)
	}
	before, ok := st.GetByPath(dir)
	if !ok {
		t.Fatal("gallery not tracked after initial reconcile")
	}
	before.Tags.Add("genre", "romance")
	if err := st.Upsert(context.Background(), before); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(pageB); err != nil {
		t.Fatal(err)
	}
	report, err := r.HandleEvents(context.Background(), []string{pageB})
	if err != nil {
		t.Fatal(err)
	}
	if report.Updated != 1 {
		t.Fatalf("Updated = %d, want 1 (report %+v)", report.Updated, report)
	}

	after, ok := st.GetByPath(dir)
	if !ok {
		t.Fatal("gallery lost after page delete")
	}
	if after.PageCount != 1 {
		t.Errorf("PageCount = %d, want 1", after.PageCount)
	}
	if after.Signature == before.Signature {
		t.Error("signature did not change with the directory contents")
	}
	if !after.Tags.Has("genre", "romance") {
		t.Error("metadata lost across revalidation")
	}
	if st.Len() != 1 {
		t.Errorf("Len = %d, want 1", st.Len())
	}
}
