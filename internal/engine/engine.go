package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/islishude/imgfetch/internal/cli"
	"github.com/islishude/imgfetch/internal/compress"
	"github.com/islishude/imgfetch/internal/config"
	"github.com/islishude/imgfetch/internal/fetch"
	"github.com/islishude/imgfetch/internal/locator"
	ftpstore "github.com/islishude/imgfetch/internal/storage/ftp"
	httpstore "github.com/islishude/imgfetch/internal/storage/http"
	localstore "github.com/islishude/imgfetch/internal/storage/local"
	s3store "github.com/islishude/imgfetch/internal/storage/s3"
	smbstore "github.com/islishude/imgfetch/internal/storage/smb"
	tftpstore "github.com/islishude/imgfetch/internal/storage/tftp"
)

const (
	ExitSuccess   = 0
	ExitFatal     = 2
	ExitCancelled = 130
)

const copyBufferSize = 32 << 10

var errAborted = errors.New("aborted by callback")

type Runner struct {
	readers map[locator.Scheme]ObjectReader
	parser  *locator.Parser
	cfg     config.Config
	logger  *slog.Logger
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

type RunResult struct {
	ExitCode int
	Err      error
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, stdin io.Reader, stdout, stderr io.Writer) (*Runner, error) {
	s3s, err := s3store.New(ctx, s3store.Settings{UsePathStyle: cfg.S3UsePathStyle, MaxRetries: cfg.S3MaxRetries})
	if err != nil {
		return nil, fmt.Errorf("init s3: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		readers: make(map[locator.Scheme]ObjectReader),
		parser:  &locator.Parser{Root: cfg.MountRoot},
		cfg:     cfg,
		logger:  logger,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}

	local := &localstore.Store{MountRoot: cfg.MountRoot, DevRoot: r.parser.Root}
	localReader := ReaderFunc(func(_ context.Context, loc locator.Locator) (io.ReadCloser, Metadata, error) {
		rc, m, err := local.OpenReader(loc)
		return rc, Metadata{Size: m.Size}, err
	})
	for _, s := range []locator.Scheme{
		locator.SchemeFile, locator.SchemeDisk, locator.SchemeCDROM, locator.SchemeDVD,
		locator.SchemeFloppy, locator.SchemeHD, locator.SchemeNFS,
	} {
		r.readers[s] = localReader
	}

	web := httpstore.New(httpstore.Settings{
		Timeout:      cfg.HTTPTimeout,
		Insecure:     cfg.HTTPInsecure,
		MaxRedirects: cfg.MaxRedirects,
	})
	webReader := ReaderFunc(func(ctx context.Context, loc locator.Locator) (io.ReadCloser, Metadata, error) {
		rc, m, err := web.OpenReader(ctx, loc)
		return rc, Metadata{Size: m.Size}, err
	})
	r.readers[locator.SchemeHTTP] = webReader
	r.readers[locator.SchemeHTTPS] = webReader

	ftps := &ftpstore.Store{Timeout: cfg.HTTPTimeout}
	r.readers[locator.SchemeFTP] = ReaderFunc(func(ctx context.Context, loc locator.Locator) (io.ReadCloser, Metadata, error) {
		rc, m, err := ftps.OpenReader(ctx, loc)
		return rc, Metadata{Size: m.Size}, err
	})
	smbs := &smbstore.Store{Timeout: cfg.HTTPTimeout}
	r.readers[locator.SchemeSMB] = ReaderFunc(func(ctx context.Context, loc locator.Locator) (io.ReadCloser, Metadata, error) {
		rc, m, err := smbs.OpenReader(ctx, loc)
		return rc, Metadata{Size: m.Size}, err
	})
	tftps := &tftpstore.Store{Timeout: 5 * time.Second}
	r.readers[locator.SchemeTFTP] = ReaderFunc(func(ctx context.Context, loc locator.Locator) (io.ReadCloser, Metadata, error) {
		rc, m, err := tftps.OpenReader(ctx, loc)
		return rc, Metadata{Size: m.Size}, err
	})
	r.readers[locator.SchemeS3] = ReaderFunc(func(ctx context.Context, loc locator.Locator) (io.ReadCloser, Metadata, error) {
		rc, m, err := s3s.OpenReader(ctx, loc)
		return rc, Metadata{Size: m.Size}, err
	})
	return r, nil
}

// Register replaces the reader used for a scheme.
func (r *Runner) Register(scheme locator.Scheme, reader ObjectReader) {
	r.readers[scheme] = reader
}

func (r *Runner) Run(ctx context.Context, opts cli.Options) RunResult {
	switch opts.Mode {
	case cli.ModeFetch:
		return r.runFetch(ctx, opts)
	case cli.ModeUnpack:
		if err := r.runUnpack(opts); err != nil {
			return RunResult{ExitCode: ExitFatal, Err: err}
		}
		return RunResult{ExitCode: ExitSuccess}
	default:
		return RunResult{ExitCode: ExitFatal, Err: fmt.Errorf("unsupported mode %q", opts.Mode)}
	}
}

func (r *Runner) runUnpack(opts cli.Options) error {
	t := compress.FromString(opts.Compression)
	if t == compress.None {
		return fmt.Errorf("unsupported compression %q", opts.Compression)
	}
	return compress.Unpack(r.stdout, r.stdin, t)
}

func (r *Runner) runFetch(ctx context.Context, opts cli.Options) RunResult {
	loc := r.parser.Parse(opts.Source)
	target := opts.Target
	if target == "" {
		target = OutputName(loc)
	}

	f := &fetch.Fetcher{
		Transport: r,
		TempDir:   r.cfg.TempDir,
		Logger:    r.logger,
	}
	if opts.TempDir != "" {
		f.TempDir = opts.TempDir
	}
	if argv := decompressorArgs(opts.Decompressor, r.cfg); argv != nil {
		f.Decompressor = func(compress.Type) []string { return argv }
	}

	var cb fetch.ProgressCallback
	if !opts.Quiet {
		bar := newProgressBar(r.stderr, filepath.Base(target))
		defer bar.Close() //nolint:errcheck
		cb = func(p fetch.Progress) bool {
			bar.Update(p)
			return ctx.Err() != nil
		}
	}

	res := f.Fetch(ctx, loc, target, cb)
	switch {
	case res.Code == fetch.CodeOK:
		if opts.Verbose {
			_, _ = fmt.Fprintf(r.stdout, "%s: %s image, %s read, %s written\n", target, res.Format,
				humanize.IBytes(uint64(res.Bytes)), humanize.IBytes(uint64(written(res))))
		}
		return RunResult{ExitCode: ExitSuccess}
	case fetch.IsCancelled(res.Err):
		return RunResult{ExitCode: ExitCancelled, Err: res.Err}
	default:
		return RunResult{ExitCode: ExitFatal, Err: fmt.Errorf("%s: %w", loc.Raw, res.Err)}
	}
}

func written(res fetch.Result) int64 {
	if res.Format.Compressed() {
		return res.Unpacked
	}
	return res.Bytes
}

func decompressorArgs(flag string, cfg config.Config) []string {
	if flag != "" {
		cfg.Decompressor = flag
	}
	return cfg.DecompressorArgs()
}

// Perform streams the object loc names into w. It is the fetch transport.
func (r *Runner) Perform(ctx context.Context, loc locator.Locator, w io.Writer, progress fetch.ProgressFunc) (err error) {
	scheme := loc.Scheme
	if scheme == locator.SchemeNone {
		scheme = locator.SchemeFile
	}
	reader, ok := r.readers[scheme]
	if !ok {
		return fmt.Errorf("unsupported scheme %q", loc.Scheme)
	}
	r.logger.Debug("open source", "scheme", scheme, "server", loc.Server, "path", loc.Path, "device", loc.Device)
	body, meta, err := reader.OpenReader(ctx, loc)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := body.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if meta.Size > 0 {
		r.logger.Debug("source size", "size", humanize.IBytes(uint64(meta.Size)))
	}
	return copyWithProgress(ctx, w, body, meta.Size, progress)
}

func copyWithProgress(ctx context.Context, w io.Writer, body io.Reader, total int64, progress fetch.ProgressFunc) error {
	buf := make([]byte, copyBufferSize)
	var now int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			now += int64(wn)
			if werr != nil {
				return fmt.Errorf("failed writing received data: %w", werr)
			}
			if progress != nil && progress(total, now) {
				return errAborted
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// progressBar renders fetch progress. The bar's maximum follows whichever
// total the progress is measured against.
type progressBar struct {
	bar *progressbar.ProgressBar
	max int64
}

func newProgressBar(w io.Writer, name string) *progressBar {
	bar := progressbar.NewOptions64(
		-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetDescription(name),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(w)
		}),
	)
	return &progressBar{bar: bar, max: -1}
}

func (p *progressBar) Update(prog fetch.Progress) {
	done, total := prog.Counts()
	if total > 0 && total != p.max {
		p.bar.ChangeMax64(total)
		p.max = total
	}
	if total > 0 && done > total {
		done = total
	}
	_ = p.bar.Set64(done)
}

func (p *progressBar) Close() error {
	if p.max > 0 {
		return p.bar.Finish()
	}
	return p.bar.Close()
}
