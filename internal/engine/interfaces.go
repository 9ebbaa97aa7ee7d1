package engine

import (
	"context"
	"io"

	"github.com/islishude/imgfetch/internal/locator"
)

type Metadata struct {
	Size int64
}

type ObjectReader interface {
	OpenReader(ctx context.Context, loc locator.Locator) (io.ReadCloser, Metadata, error)
}

type ReaderFunc func(ctx context.Context, loc locator.Locator) (io.ReadCloser, Metadata, error)

func (f ReaderFunc) OpenReader(ctx context.Context, loc locator.Locator) (io.ReadCloser, Metadata, error) {
	return f(ctx, loc)
}
