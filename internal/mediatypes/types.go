package mediatypes

import (
	"path/filepath"
	"strings"

	"github.com/twiddli/happypanda/internal/gallery"
)

// ImageExtensions maps file extensions to whether they count as gallery pages.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
}

// ContainerExtensions maps archive extensions to their gallery kind.
// Directories have no extension and are classified by the caller.
var ContainerExtensions = map[string]gallery.Kind{
	".zip": gallery.KindZip,
	".cbz": gallery.KindZip,
	".rar": gallery.KindRar,
	".cbr": gallery.KindRar,
}

// MimeTypes maps page extensions to their MIME types.
var MimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
}

// IsPage reports whether the named file is a viewable gallery page.
// Hidden files are never pages.
func IsPage(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return ImageExtensions[strings.ToLower(filepath.Ext(base))]
}

// ContainerKind returns the gallery kind for an archive path, or false if the
// extension is not a supported container format.
func ContainerKind(path string) (gallery.Kind, bool) {
	kind, ok := ContainerExtensions[strings.ToLower(filepath.Ext(path))]
	return kind, ok
}

// GetMimeType returns the MIME type for a page extension.
// Returns "application/octet-stream" if the extension is not recognized.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}
