// Package tftp reads images from TFTP servers in octet mode.
package tftp

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pin/tftp/v3"

	"github.com/islishude/imgfetch/internal/locator"
)

const defaultPort = 69

type Store struct {
	Timeout time.Duration
	Retries int
}

type Metadata struct {
	Size int64
}

// OpenReader starts the transfer in the background and returns its data as
// a stream; the transfer stops when the reader is closed.
func (s *Store) OpenReader(ctx context.Context, loc locator.Locator) (io.ReadCloser, Metadata, error) {
	if loc.Scheme != locator.SchemeTFTP {
		return nil, Metadata{}, fmt.Errorf("locator %q is not tftp", loc.Raw)
	}
	c, err := tftp.NewClient(loc.Address(defaultPort))
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("tftp client: %w", err)
	}
	if s.Timeout > 0 {
		c.SetTimeout(s.Timeout)
	}
	if s.Retries > 0 {
		c.SetRetries(s.Retries)
	}
	c.RequestTSize(true)

	wt, err := c.Receive(loc.Path, "octet")
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("tftp receive %s: %w", loc.Path, err)
	}
	meta := Metadata{}
	if it, ok := wt.(tftp.IncomingTransfer); ok {
		if n, ok := it.Size(); ok && n > 0 {
			meta.Size = n
		}
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := wt.WriteTo(pw)
		_ = pw.CloseWithError(err)
	}()
	stop := context.AfterFunc(ctx, func() { _ = pr.CloseWithError(ctx.Err()) })
	return &download{pr: pr, done: done, stop: stop}, meta, nil
}

type download struct {
	pr   *io.PipeReader
	done chan struct{}
	stop func() bool
}

func (d *download) Read(p []byte) (int, error) { return d.pr.Read(p) }

func (d *download) Close() error {
	d.stop()
	err := d.pr.Close()
	<-d.done
	return err
}
