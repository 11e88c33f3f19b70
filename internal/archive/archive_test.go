package archive

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/twiddli/happypanda/internal/gallery"
)

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestOpenZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.cbz")
	writeZip(t, path, map[string]string{
		"02.jpg":    "page two",
		"01.png":    "page one",
		"notes.txt": "not a page",
	})

	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if c.Kind() != gallery.KindZip {
		t.Errorf("Kind() = %v, want zip", c.Kind())
	}
	if got := c.Pages(); !reflect.DeepEqual(got, []string{"01.png", "02.jpg"}) {
		t.Errorf("Pages() = %v", got)
	}
	page, err := c.OpenPage("01.png")
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(page)
	page.Close()
	if err != nil || string(body) != "page one" {
		t.Errorf("page body = %q, err = %v", body, err)
	}
	if _, err := c.OpenPage("missing.png"); err == nil {
		t.Error("OpenPage on a missing entry should fail")
	}
}

func TestOpenDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ch1", "01.jpg"), "a")
	writeFile(t, filepath.Join(root, "ch1", "02.jpg"), "b")
	writeFile(t, filepath.Join(root, "cover.png"), "c")
	writeFile(t, filepath.Join(root, "info.txt"), "skip")
	writeFile(t, filepath.Join(root, ".thumbs", "01.jpg"), "skip")

	c, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if c.Kind() != gallery.KindDirectory {
		t.Errorf("Kind() = %v, want directory", c.Kind())
	}
	want := []string{"ch1/01.jpg", "ch1/02.jpg", "cover.png"}
	if got := c.Pages(); !reflect.DeepEqual(got, want) {
		t.Errorf("Pages() = %v, want %v", got, want)
	}
	page, err := c.OpenPage("ch1/02.jpg")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(page)
	page.Close()
	if string(body) != "b" {
		t.Errorf("page body = %q", body)
	}
}

func TestOpenUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	writeFile(t, path, "plain text")

	if _, err := Open(path); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.zip")); err == nil {
		t.Error("Open on a missing path should fail")
	}
}

func TestIsSource(t *testing.T) {
	if !IsSource("/any/dir", true) {
		t.Error("directories are always candidate sources")
	}
	if !IsSource("x.cbz", false) || !IsSource("x.zip", false) || !IsSource("x.cbr", false) {
		t.Error("archive extensions should be sources")
	}
	if IsSource("x.txt", false) || IsSource("x.jpg", false) {
		t.Error("non-archive files are not sources")
	}
}

func TestArchiveSignatureSurvivesRename(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "original.cbz")
	writeZip(t, a, map[string]string{"01.jpg": "page"})

	ctx := context.Background()
	sigA, err := Signature(ctx, a)
	if err != nil {
		t.Fatal(err)
	}

	b := filepath.Join(dir, "renamed.cbz")
	if err := os.Rename(a, b); err != nil {
		t.Fatal(err)
	}
	sigB, err := Signature(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if sigA != sigB {
		t.Error("renaming an archive changed its signature")
	}

	// Different bytes, different signature.
	c := filepath.Join(dir, "other.cbz")
	writeZip(t, c, map[string]string{"01.jpg": "different page"})
	sigC, err := Signature(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if sigC == sigA {
		t.Error("distinct archive content produced the same signature")
	}
}

func TestDirectorySignature(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	root := filepath.Join(dir, "gallery")
	writeFile(t, filepath.Join(root, "01.jpg"), "page one")
	writeFile(t, filepath.Join(root, "02.jpg"), "page two!")

	sig1, err := Signature(ctx, root)
	if err != nil {
		t.Fatal(err)
	}

	// A directory rename keeps the (name, size) listing and the signature.
	renamed := filepath.Join(dir, "gallery-v2")
	if err := os.Rename(root, renamed); err != nil {
		t.Fatal(err)
	}
	sig2, err := Signature(ctx, renamed)
	if err != nil {
		t.Fatal(err)
	}
	if sig1 != sig2 {
		t.Error("renaming a directory changed its signature")
	}

	// Adding a page changes it.
	writeFile(t, filepath.Join(renamed, "03.jpg"), "page three")
	sig3, err := Signature(ctx, renamed)
	if err != nil {
		t.Fatal(err)
	}
	if sig3 == sig1 {
		t.Error("adding a page did not change the directory signature")
	}

	// Non-page files do not participate.
	writeFile(t, filepath.Join(renamed, "info.txt"), "metadata")
	sig4, err := Signature(ctx, renamed)
	if err != nil {
		t.Fatal(err)
	}
	if sig4 != sig3 {
		t.Error("a non-page file changed the directory signature")
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	good := filepath.Join(dir, "good.cbz")
	writeZip(t, good, map[string]string{"01.jpg": "x", "02.jpg": "y"})
	info, err := Validate(ctx, good)
	if err != nil {
		t.Fatal(err)
	}
	if info.Kind != gallery.KindZip || info.PageCount != 2 || info.Signature == "" {
		t.Errorf("unexpected info: %+v", info)
	}

	empty := filepath.Join(dir, "empty.cbz")
	writeZip(t, empty, map[string]string{"readme.txt": "no images here"})
	if _, err := Validate(ctx, empty); !errors.Is(err, ErrNoPages) {
		t.Errorf("err = %v, want ErrNoPages", err)
	}

	corrupt := filepath.Join(dir, "corrupt.cbz")
	writeFile(t, corrupt, "this is not a zip file")
	if _, err := Validate(ctx, corrupt); err == nil {
		t.Error("corrupt archive should fail validation")
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := Validate(canceled, good); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
