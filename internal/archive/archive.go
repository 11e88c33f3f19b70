// Package archive provides uniform access to the containers that back a
// gallery: plain directories, zip/cbz archives and rar/cbr archives.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/twiddli/happypanda/internal/gallery"
	"github.com/twiddli/happypanda/internal/mediatypes"
)

// ErrUnsupported is returned when a path is neither a directory nor a
// recognized archive format.
var ErrUnsupported = errors.New("unsupported container format")

// Container is the capability contract shared by all gallery backings.
// Pages are image entries only, sorted by name; non-image entries are
// invisible through this interface.
type Container interface {
	// Kind identifies the concrete variant.
	Kind() gallery.Kind
	// Pages returns the sorted page entry names.
	Pages() []string
	// PageCount returns len(Pages()) without copying.
	PageCount() int
	// OpenPage opens a single page entry for reading.
	OpenPage(name string) (io.ReadCloser, error)
	// Close releases the underlying file handle, if any.
	Close() error
}

// Open opens the container at path, dispatching on the filesystem entry type
// and extension. The caller owns the returned Container and must Close it.
func Open(path string) (Container, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return openDir(path)
	}
	kind, ok := mediatypes.ContainerKind(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
	switch kind {
	case gallery.KindZip:
		return openZip(path)
	case gallery.KindRar:
		return openRar(path)
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
}

// IsSource reports whether a path could back a gallery: a directory or a file
// with a supported archive extension. It does not validate content.
func IsSource(path string, isDir bool) bool {
	if isDir {
		return true
	}
	_, ok := mediatypes.ContainerKind(path)
	return ok
}
