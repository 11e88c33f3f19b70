package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/twiddli/happypanda/internal/filesystem"
	"github.com/twiddli/happypanda/internal/gallery"
	"github.com/twiddli/happypanda/internal/mediatypes"
)

const hashChunkSize = 256 * 1024

// Signature computes the content signature for the source at path.
//
// Archive files hash the raw file stream, so a byte-identical archive keeps
// its identity wherever it moves. Directories hash the sorted page names and
// sizes, which survive a directory rename but change when pages are added,
// removed or rewritten.
func Signature(ctx context.Context, path string) (gallery.Signature, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return dirSignature(ctx, path)
	}
	return fileSignature(ctx, path)
}

func fileSignature(ctx context.Context, path string) (gallery.Signature, error) {
	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("hash %s: %w", path, err)
		}
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", path, err)
		}
	}
	return gallery.Signature(hex.EncodeToString(h.Sum(nil))), nil
}

func dirSignature(ctx context.Context, root string) (gallery.Signature, error) {
	type pageStat struct {
		name string
		size int64
	}
	var pages []pageStat

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
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
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		pages = append(pages, pageStat{name: filepath.ToSlash(rel), size: info.Size()})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", root, err)
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].name < pages[j].name })

	h := sha256.New()
	for _, p := range pages {
		fmt.Fprintf(h, "%s\x00%d\n", p.name, p.size)
	}
	return gallery.Signature(hex.EncodeToString(h.Sum(nil))), nil
}
