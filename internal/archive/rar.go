package archive

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/nwaples/rardecode/v2"

	"github.com/twiddli/happypanda/internal/gallery"
	"github.com/twiddli/happypanda/internal/mediatypes"
)

// rarContainer serves rar and cbr archives. rardecode only supports
// sequential access, so the entry list is gathered once at open time and
// OpenPage re-walks the archive to the requested entry.
type rarContainer struct {
	path  string
	pages []string
}

func openRar(path string) (*rarContainer, error) {
	rc, err := rardecode.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open rar %s: %w", path, err)
	}
	defer rc.Close()

	c := &rarContainer{path: path}
	for {
		hdr, err := rc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rar %s: %w", path, err)
		}
		if hdr.IsDir || !mediatypes.IsPage(hdr.Name) {
			continue
		}
		c.pages = append(c.pages, hdr.Name)
	}
	sort.Strings(c.pages)
	return c, nil
}

func (r *rarContainer) Kind() gallery.Kind { return gallery.KindRar }
func (r *rarContainer) Pages() []string    { return r.pages }
func (r *rarContainer) PageCount() int     { return len(r.pages) }
func (r *rarContainer) Close() error       { return nil }

func (r *rarContainer) OpenPage(name string) (io.ReadCloser, error) {
	rc, err := rardecode.OpenReader(r.path)
	if err != nil {
		return nil, err
	}
	for {
		hdr, err := rc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rc.Close()
			return nil, err
		}
		if hdr.Name == name {
			return &rarEntry{rc: rc}, nil
		}
	}
	rc.Close()
	return nil, fmt.Errorf("rar entry not found: %s", name)
}

// rarEntry adapts the positioned sequential reader into a page ReadCloser.
type rarEntry struct {
	rc *rardecode.ReadCloser
}

func (e *rarEntry) Read(p []byte) (int, error) { return e.rc.Read(p) }
func (e *rarEntry) Close() error               { return e.rc.Close() }
