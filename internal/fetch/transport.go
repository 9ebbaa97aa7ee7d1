package fetch

import (
	"context"
	"io"

	"github.com/islishude/imgfetch/internal/locator"
)

// ProgressFunc receives the transport's declared total and its own byte
// count. Returning true asks the transport to stop.
type ProgressFunc func(total, now int64) (cancel bool)

// Transport delivers the bytes a locator names to w, synchronously, and
// calls progress along the way. A failed write to w means the transfer has
// to be aborted.
type Transport interface {
	Perform(ctx context.Context, loc locator.Locator, w io.Writer, progress ProgressFunc) error
}

type TransportFunc func(ctx context.Context, loc locator.Locator, w io.Writer, progress ProgressFunc) error

func (f TransportFunc) Perform(ctx context.Context, loc locator.Locator, w io.Writer, progress ProgressFunc) error {
	return f(ctx, loc, w, progress)
}
