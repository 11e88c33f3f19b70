package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/twiddli/happypanda/internal/gallery"
)

// ErrNoPages is returned for containers that hold no readable image content.
var ErrNoPages = errors.New("container has no pages")

// Info is the result of validating a gallery source. FirstPage is the
// sorted-first page entry, the natural cover.
type Info struct {
	Kind      gallery.Kind
	PageCount int
	FirstPage string
	Signature gallery.Signature
}

// Validate checks that the source at path is a supported container with
// readable image content and computes its content signature. The context
// bounds the whole operation; a corrupt or hostile archive fails here
// instead of stalling the reconciliation pass.
func Validate(ctx context.Context, path string) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if c.PageCount() == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoPages)
	}

	sig, err := Signature(ctx, path)
	if err != nil {
		return nil, err
	}

	return &Info{
		Kind:      c.Kind(),
		PageCount: c.PageCount(),
		FirstPage: c.Pages()[0],
		Signature: sig,
	}, nil
}
