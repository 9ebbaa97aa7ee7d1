// Package fetch streams an image from a transport to a local file. The
// first LookaheadSize bytes decide whether the file is written as is or
// through an external decompressor.
package fetch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/islishude/imgfetch/internal/locator"
	"github.com/islishude/imgfetch/internal/sniff"
)

type Fetcher struct {
	Transport Transport
	// TempDir holds the decompressor's stderr capture; os.TempDir when empty.
	TempDir      string
	Decompressor DecompressorFunc
	Logger       *slog.Logger
}

type Result struct {
	Code Code
	// Err is a *Error when Code is not CodeOK.
	Err      error
	Format   sniff.Format
	Name     string
	Bytes    int64
	Unpacked int64
}

// Fetch runs one transfer of loc into target. Nothing is retried; callers
// that want another attempt call Fetch again.
func (f *Fetcher) Fetch(ctx context.Context, loc locator.Locator, target string, cb ProgressCallback) Result {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("transfer", uuid.NewString())

	s := newSink(ctx, target, f, cb, logger)
	defer s.cleanup()

	logger.Info("fetch", "scheme", loc.Scheme, "server", loc.Server, "path", loc.Path, "target", target)
	terr := f.Transport.Perform(ctx, loc, s, s.onProgress)
	switch {
	case terr == nil && s.err == nil:
		s.deliver(nil, true)
	case terr != nil && s.err == nil && errors.Is(terr, context.Canceled):
		s.err = errCancelled()
	}

	s.finish(terr)

	if s.err == nil && terr != nil {
		s.err = transportError(terr)
	}

	res := Result{
		Format:   s.decision.Format,
		Name:     s.decision.Name,
		Bytes:    s.progress.Written,
		Unpacked: s.progress.Unpacked,
	}
	if s.err != nil {
		res.Code = s.err.Code
		res.Err = s.err
		logger.Warn("fetch failed", "code", s.err.Code, "error", s.err.Msg)
		return res
	}
	logger.Info("fetch done", "format", res.Format, "written", humanize.IBytes(uint64(res.Bytes)),
		"unpacked", humanize.IBytes(uint64(res.Unpacked)))
	return res
}

func transportError(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return newError(CodeTransport, "%s", err.Error())
}
