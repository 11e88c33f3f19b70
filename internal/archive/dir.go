package archive

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/twiddli/happypanda/internal/gallery"
	"github.com/twiddli/happypanda/internal/mediatypes"
)

// dirContainer serves a gallery backed by a plain directory. Pages may live
// in the directory itself or in chapter subdirectories; entry names are
// slash-separated paths relative to the root.
type dirContainer struct {
	root  string
	pages []string
}

func openDir(root string) (*dirContainer, error) {
	var pages []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !mediatypes.IsPage(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		pages = append(pages, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(pages)
	return &dirContainer{root: root, pages: pages}, nil
}

func (d *dirContainer) Kind() gallery.Kind { return gallery.KindDirectory }
func (d *dirContainer) Pages() []string    { return d.pages }
func (d *dirContainer) PageCount() int     { return len(d.pages) }
func (d *dirContainer) Close() error       { return nil }

func (d *dirContainer) OpenPage(name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(d.root, filepath.FromSlash(name)))
}
