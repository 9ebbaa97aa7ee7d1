package fetch

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/islishude/imgfetch/internal/sniff"
)

// LookaheadSize is how many leading bytes are held back before the output
// is opened.
const LookaheadSize = 256

type output interface {
	io.Writer
	// position is the decompressed offset, if the output has one.
	position() (int64, bool)
}

type directFile struct {
	f *os.File
}

func (d *directFile) Write(p []byte) (int, error) { return d.f.Write(p) }
func (*directFile) position() (int64, bool)       { return 0, false }

// sink is the writer handed to the transport. It owns all per-fetch state
// and is used from a single goroutine.
type sink struct {
	ctx          context.Context
	target       string
	tempDir      string
	decompressor DecompressorFunc
	log          *slog.Logger

	window   []byte
	sniffed  bool
	decision sniff.Decision
	opened   bool

	out     output
	tmpPath string

	progress   Progress
	tracker    tracker
	err        *Error
	pipeBroken bool
}

func newSink(ctx context.Context, target string, f *Fetcher, cb ProgressCallback, log *slog.Logger) *sink {
	decompressor := f.Decompressor
	if decompressor == nil {
		decompressor = DefaultDecompressor
	}
	return &sink{
		ctx:          ctx,
		target:       target,
		tempDir:      f.TempDir,
		decompressor: decompressor,
		log:          log,
		window:       make([]byte, 0, LookaheadSize),
		decision:     sniff.Decision{Format: sniff.Raw},
		tracker:      tracker{cb: cb},
	}
}

func (s *sink) Write(p []byte) (int, error) {
	if !s.deliver(p, false) {
		return 0, s.err
	}
	return len(p), nil
}

// deliver fills the lookahead window, and once it is full (or flush is set)
// sniffs it, opens the output, and writes everything through. It reports
// false once the fetch has failed or been cancelled.
func (s *sink) deliver(p []byte, flush bool) bool {
	if s.err != nil {
		return false
	}

	if s.window != nil && len(s.window) < cap(s.window) && len(p) > 0 {
		n := min(cap(s.window)-len(s.window), len(p))
		s.window = append(s.window, p[:n]...)
		p = p[n:]
	}

	// after the window is drained it is nil, so this stays true
	ready := flush || len(s.window) == cap(s.window)

	if ready && !s.sniffed && len(s.window) >= sniff.MinWindow {
		s.sniffed = true
		if d, err := sniff.Sniff(s.window); err == nil {
			s.decision = d
		}
		s.log.Debug("sniff", "format", s.decision.Format, "name", s.decision.Name,
			"size-hint", s.decision.SizeHint, "mime", s.decision.MIME)
	}

	if ready {
		if !s.opened {
			s.opened = true
			s.open()
		}
		if s.out != nil {
			s.emit(s.window)
			s.emit(p)
		}
		s.window = nil
	}

	s.refresh()
	return s.err == nil
}

func (s *sink) open() {
	if s.decision.Format.Compressed() {
		p, err := s.spawn()
		if err != nil {
			s.err = err
			return
		}
		s.out = p
		return
	}
	f, err := os.OpenFile(s.target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		s.err = newError(CodeLocal, "open: %s: %s", s.target, reason(err))
		return
	}
	s.out = &directFile{f: f}
}

func (s *sink) emit(b []byte) {
	if len(b) == 0 || s.err != nil {
		return
	}
	n, err := s.out.Write(b)
	s.progress.Written += int64(n)
	if err == nil {
		return
	}
	if p, ok := s.out.(*pipedProcess); ok {
		s.pipeBroken = true
		s.err = newError(CodeLocal, "write: %s: %s", p.argv[0], reason(err))
		return
	}
	s.err = newError(CodeLocal, "write: %s: %s", s.target, reason(err))
}

// refresh picks up the decompressor's output offset and ticks progress.
func (s *sink) refresh() {
	if s.out != nil {
		if pos, ok := s.out.position(); ok {
			s.progress.Unpacked = pos
		}
	}
	if s.tracker.tick(s.progress) && s.err == nil {
		s.err = errCancelled()
	}
}

// onProgress is the transport's progress hook.
func (s *sink) onProgress(total, _ int64) bool {
	if s.progress.Total == 0 && total > 0 {
		s.progress.Total = total
	}
	if s.tracker.tick(s.progress) && s.err == nil {
		s.err = errCancelled()
	}
	return s.err != nil
}

// finish closes the output. In decompressor mode it waits for the process
// and turns a failed exit into the fetch error. terr is the transport's
// result.
func (s *sink) finish(terr error) {
	switch out := s.out.(type) {
	case *directFile:
		if out.f == nil {
			return
		}
		err := out.f.Close()
		out.f = nil
		if err != nil && s.err == nil {
			s.err = newError(CodeLocal, "close: %s: %s", s.target, reason(err))
		}
	case *pipedProcess:
		s.wait(out, terr)
	}
	// one more tick so an estimated total can reach 100%
	s.refresh()
}

// cleanup releases whatever finish left behind. It is safe to call more
// than once.
func (s *sink) cleanup() {
	switch out := s.out.(type) {
	case *directFile:
		if out.f != nil {
			_ = out.f.Close()
			out.f = nil
		}
	case *pipedProcess:
		out.release()
	}
	if s.tmpPath != "" {
		if err := os.Remove(s.tmpPath); err != nil && !os.IsNotExist(err) {
			s.log.Debug("remove capture file", "path", s.tmpPath, "error", err)
		}
		s.tmpPath = ""
	}
}
