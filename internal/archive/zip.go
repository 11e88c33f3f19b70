package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"sort"

	"github.com/twiddli/happypanda/internal/gallery"
	"github.com/twiddli/happypanda/internal/mediatypes"
)

// zipContainer serves zip and cbz archives through the stdlib zip reader,
// which gives random access to entries.
type zipContainer struct {
	rc      *zip.ReadCloser
	pages   []string
	entries map[string]*zip.File
}

func openZip(path string) (*zipContainer, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip %s: %w", path, err)
	}

	c := &zipContainer{rc: rc, entries: make(map[string]*zip.File)}
	for _, f := range rc.File {
		if f.FileInfo().IsDir() || !mediatypes.IsPage(f.Name) {
			continue
		}
		c.entries[f.Name] = f
		c.pages = append(c.pages, f.Name)
	}
	sort.Strings(c.pages)
	return c, nil
}

func (z *zipContainer) Kind() gallery.Kind { return gallery.KindZip }
func (z *zipContainer) Pages() []string    { return z.pages }
func (z *zipContainer) PageCount() int     { return len(z.pages) }
func (z *zipContainer) Close() error       { return z.rc.Close() }

func (z *zipContainer) OpenPage(name string) (io.ReadCloser, error) {
	f, ok := z.entries[name]
	if !ok {
		return nil, fmt.Errorf("zip entry not found: %s", name)
	}
	return f.Open()
}
