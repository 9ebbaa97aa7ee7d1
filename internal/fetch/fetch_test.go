package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gzip "github.com/klauspost/pgzip"

	"github.com/islishude/imgfetch/internal/compress"
	"github.com/islishude/imgfetch/internal/locator"
	"github.com/islishude/imgfetch/internal/sniff"
)

const helperEnv = "IMGFETCH_TEST_DECOMPRESSOR"

// TestMain lets the test binary stand in for an external decompressor.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
	case "unpack", "warn":
		if err := compress.Unpack(os.Stdout, os.Stdin, compress.Gzip); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if os.Getenv(helperEnv) == "warn" {
			_, _ = fmt.Fprintln(os.Stderr, "gzip: stdin: decompression OK, trailing garbage ignored")
			os.Exit(2)
		}
		os.Exit(0)
	case "fail":
		_, _ = io.Copy(io.Discard, os.Stdin)
		_, _ = fmt.Fprint(os.Stderr, "\n   gzip: stdin: not in gzip format  \t\nsecond line\n")
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func helperDecompressor(t *testing.T, mode string) DecompressorFunc {
	t.Helper()
	t.Setenv(helperEnv, mode)
	return func(compress.Type) []string { return []string{os.Args[0]} }
}

// chunkTransport hands out fixed chunks the way a network transport would.
type chunkTransport struct {
	chunks [][]byte
	total  int64
	err    error
	// rejected counts writes the sink refused.
	rejected int
}

func (c *chunkTransport) Perform(ctx context.Context, _ locator.Locator, w io.Writer, progress ProgressFunc) error {
	var now int64
	for _, chunk := range c.chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(chunk)
		now += int64(n)
		if err != nil {
			c.rejected++
			return fmt.Errorf("write callback: %w", err)
		}
		if progress(c.total, now) {
			return errors.New("aborted by callback")
		}
	}
	return c.err
}

func split(b []byte, size int) [][]byte {
	var out [][]byte
	for len(b) > 0 {
		n := min(size, len(b))
		out = append(out, b[:n])
		b = b[n:]
	}
	return out
}

func gzipped(t *testing.T, name string, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Name = name
	if _, err := zw.Write(payload); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readFile(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return b
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected %s to be empty, found %d entries (first %q)", dir, len(entries), entries[0].Name())
	}
}

func TestFetchRawShorterThanLookahead(t *testing.T) {
	payload := []byte("short raw payload that never fills the window")
	target := filepath.Join(t.TempDir(), "out.img")
	tr := &chunkTransport{chunks: split(payload, 7)}

	f := &Fetcher{Transport: tr, Logger: quietLogger()}
	res := f.Fetch(context.Background(), locator.Parse("/src.img"), target, nil)
	if res.Code != CodeOK || res.Err != nil {
		t.Fatalf("Fetch() code=%v err=%v", res.Code, res.Err)
	}
	if got := readFile(t, target); !bytes.Equal(got, payload) {
		t.Fatalf("target = %q, want %q", got, payload)
	}
	if res.Format != sniff.Raw || res.Bytes != int64(len(payload)) {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFetchRawLarge(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdefghijklmnopqrstuvwxyz"), 1000)
	target := filepath.Join(t.TempDir(), "out.img")
	var last Progress
	tr := &chunkTransport{chunks: split(payload, 100), total: int64(len(payload))}

	f := &Fetcher{Transport: tr, Logger: quietLogger()}
	res := f.Fetch(context.Background(), locator.Parse("/src.img"), target, func(p Progress) bool {
		last = p
		return false
	})
	if res.Code != CodeOK {
		t.Fatalf("Fetch() code=%v err=%v", res.Code, res.Err)
	}
	if got := readFile(t, target); !bytes.Equal(got, payload) {
		t.Fatalf("target content mismatch: got %d bytes, want %d", len(got), len(payload))
	}
	if last.Percent() != 100 || last.Written != int64(len(payload)) {
		t.Fatalf("last progress = %+v", last)
	}
}

func TestFetchEmptyInput(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out.img")
	f := &Fetcher{Transport: &chunkTransport{}, Logger: quietLogger()}
	res := f.Fetch(context.Background(), locator.Parse("/src.img"), target, nil)
	if res.Code != CodeOK {
		t.Fatalf("Fetch() code=%v err=%v", res.Code, res.Err)
	}
	if got := readFile(t, target); len(got) != 0 {
		t.Fatalf("target should be empty, got %d bytes", len(got))
	}
}

func TestFetchGzipThroughDecompressor(t *testing.T) {
	payload := bytes.Repeat([]byte("root filesystem block "), 4096/22+1)[:4096]
	data := gzipped(t, "root 4", payload)
	scratch := t.TempDir()
	target := filepath.Join(t.TempDir(), "root.img")

	var last Progress
	ticks := 0
	tr := &chunkTransport{chunks: split(data, 64), total: int64(len(data))}
	f := &Fetcher{
		Transport:    tr,
		TempDir:      scratch,
		Decompressor: helperDecompressor(t, "unpack"),
		Logger:       quietLogger(),
	}
	res := f.Fetch(context.Background(), locator.Parse("http://h/root.gz"), target, func(p Progress) bool {
		ticks++
		last = p
		return false
	})
	if res.Code != CodeOK {
		t.Fatalf("Fetch() code=%v err=%v", res.Code, res.Err)
	}
	if res.Format != sniff.Gzip || res.Name != "root 4" {
		t.Fatalf("unexpected sniff result: %+v", res)
	}
	if got := readFile(t, target); !bytes.Equal(got, payload) {
		t.Fatalf("decompressed content mismatch: got %d bytes", len(got))
	}
	if res.Bytes != int64(len(data)) || res.Unpacked != int64(len(payload)) {
		t.Fatalf("bytes=%d unpacked=%d", res.Bytes, res.Unpacked)
	}
	if ticks == 0 || last.EstimatedTotal != 4096 || last.Percent() != 100 {
		t.Fatalf("ticks=%d last=%+v", ticks, last)
	}
	assertEmptyDir(t, scratch)
}

func TestFetchDecompressorFailure(t *testing.T) {
	data := gzipped(t, "", bytes.Repeat([]byte{1}, 1024))
	scratch := t.TempDir()
	target := filepath.Join(t.TempDir(), "root.img")

	f := &Fetcher{
		Transport:    &chunkTransport{chunks: split(data, 50)},
		TempDir:      scratch,
		Decompressor: helperDecompressor(t, "fail"),
		Logger:       quietLogger(),
	}
	res := f.Fetch(context.Background(), locator.Parse("/root.gz"), target, nil)
	if res.Code != CodeLocal {
		t.Fatalf("code = %v, want %v (err=%v)", res.Code, CodeLocal, res.Err)
	}
	if res.Err == nil || res.Err.Error() != "gzip: stdin: not in gzip format" {
		t.Fatalf("err = %q", res.Err)
	}
	assertEmptyDir(t, scratch)
}

func TestFetchTruncatedStreamKeepsTransportError(t *testing.T) {
	payload := make([]byte, 8<<10)
	rand.New(rand.NewSource(1)).Read(payload)
	data := gzipped(t, "", payload)
	scratch := t.TempDir()
	target := filepath.Join(t.TempDir(), "root.img")

	tr := TransportFunc(func(_ context.Context, _ locator.Locator, w io.Writer, _ ProgressFunc) error {
		for _, chunk := range split(data[:1024], 100) {
			if _, err := w.Write(chunk); err != nil {
				return err
			}
		}
		return errors.New("connection reset by peer")
	})
	f := &Fetcher{
		Transport:    tr,
		TempDir:      scratch,
		Decompressor: helperDecompressor(t, "unpack"),
		Logger:       quietLogger(),
	}
	res := f.Fetch(context.Background(), locator.Parse("http://h/root.gz"), target, nil)
	if res.Code != CodeTransport || res.Err.Error() != "connection reset by peer" {
		t.Fatalf("code=%v err=%v", res.Code, res.Err)
	}
	if res.Format != sniff.Gzip || res.Bytes != 1024 {
		t.Fatalf("unexpected result: %+v", res)
	}
	assertEmptyDir(t, scratch)
}

func TestFetchDecompressorWarningIsNotAnError(t *testing.T) {
	payload := []byte(strings.Repeat("w", 2000))
	target := filepath.Join(t.TempDir(), "root.img")
	f := &Fetcher{
		Transport:    &chunkTransport{chunks: split(gzipped(t, "", payload), 300)},
		TempDir:      t.TempDir(),
		Decompressor: helperDecompressor(t, "warn"),
		Logger:       quietLogger(),
	}
	res := f.Fetch(context.Background(), locator.Parse("/root.gz"), target, nil)
	if res.Code != CodeOK {
		t.Fatalf("code=%v err=%v", res.Code, res.Err)
	}
	if got := readFile(t, target); !bytes.Equal(got, payload) {
		t.Fatalf("content mismatch")
	}
}

func TestFetchMissingDecompressor(t *testing.T) {
	scratch := t.TempDir()
	f := &Fetcher{
		Transport:    &chunkTransport{chunks: [][]byte{gzipped(t, "", []byte("x"))}},
		TempDir:      scratch,
		Decompressor: func(compress.Type) []string { return []string{filepath.Join(scratch, "no-such-gzip")} },
		Logger:       quietLogger(),
	}
	res := f.Fetch(context.Background(), locator.Parse("/root.gz"), filepath.Join(t.TempDir(), "out"), nil)
	if res.Code != CodeLocal || !strings.HasPrefix(res.Err.Error(), "exec: ") {
		t.Fatalf("code=%v err=%v", res.Code, res.Err)
	}
	assertEmptyDir(t, scratch)
}

func TestFetchCancelStopsWrites(t *testing.T) {
	payload := bytes.Repeat([]byte("c"), 3000)
	target := filepath.Join(t.TempDir(), "out.img")
	tr := &chunkTransport{chunks: split(payload, 300), total: int64(len(payload))}

	calls := 0
	f := &Fetcher{Transport: tr, Logger: quietLogger()}
	res := f.Fetch(context.Background(), locator.Parse("/src"), target, func(Progress) bool {
		calls++
		return calls == 2
	})
	if res.Code != CodeCancelled || !IsCancelled(res.Err) {
		t.Fatalf("code=%v err=%v", res.Code, res.Err)
	}
	// The sink's first tick has no total yet. Call 1 is the transport's
	// tick after chunk 1, call 2 the sink's tick after chunk 2 is written.
	if res.Bytes != 600 {
		t.Fatalf("bytes = %d, want 600", res.Bytes)
	}
	if got := readFile(t, target); len(got) != 600 {
		t.Fatalf("target has %d bytes, want 600", len(got))
	}
	if tr.rejected != 1 {
		t.Fatalf("rejected = %d, want 1", tr.rejected)
	}
}

func TestFetchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &Fetcher{Transport: &chunkTransport{chunks: [][]byte{[]byte("x")}}, Logger: quietLogger()}
	res := f.Fetch(ctx, locator.Parse("/src"), filepath.Join(t.TempDir(), "out"), nil)
	if res.Code != CodeCancelled {
		t.Fatalf("code=%v err=%v", res.Code, res.Err)
	}
}

func TestFetchOpenFailure(t *testing.T) {
	target := filepath.Join(t.TempDir(), "missing-dir", "out.img")
	tr := &chunkTransport{chunks: split(bytes.Repeat([]byte("r"), 1000), 100)}
	f := &Fetcher{Transport: tr, Logger: quietLogger()}
	res := f.Fetch(context.Background(), locator.Parse("/src"), target, nil)
	if res.Code != CodeLocal {
		t.Fatalf("code=%v err=%v", res.Code, res.Err)
	}
	want := "open: " + target + ": no such file or directory"
	if res.Err.Error() != want {
		t.Fatalf("err = %q, want %q", res.Err, want)
	}
}

func TestFetchTransportError(t *testing.T) {
	tr := &chunkTransport{chunks: [][]byte{[]byte("partial")}, err: errors.New("Connection reset by peer")}
	target := filepath.Join(t.TempDir(), "out.img")
	f := &Fetcher{Transport: tr, Logger: quietLogger()}
	res := f.Fetch(context.Background(), locator.Parse("/src"), target, nil)
	if res.Code != CodeTransport || res.Err.Error() != "Connection reset by peer" {
		t.Fatalf("code=%v err=%v", res.Code, res.Err)
	}
}

func TestFetchTransportErrorKeepsCode(t *testing.T) {
	tr := &chunkTransport{err: fmt.Errorf("wrapped: %w", &Error{Code: 7, Msg: "Couldn't resolve host"})}
	f := &Fetcher{Transport: tr, Logger: quietLogger()}
	res := f.Fetch(context.Background(), locator.Parse("/src"), filepath.Join(t.TempDir(), "out"), nil)
	if res.Code != 7 || res.Err.Error() != "Couldn't resolve host" {
		t.Fatalf("code=%v err=%v", res.Code, res.Err)
	}
}

func TestFetchTempFileFailure(t *testing.T) {
	f := &Fetcher{
		Transport:    &chunkTransport{chunks: [][]byte{gzipped(t, "", []byte("x"))}},
		TempDir:      filepath.Join(t.TempDir(), "gone"),
		Decompressor: helperDecompressor(t, "unpack"),
		Logger:       quietLogger(),
	}
	target := filepath.Join(t.TempDir(), "out")
	res := f.Fetch(context.Background(), locator.Parse("/src"), target, nil)
	if res.Code != CodeTempFile || !strings.HasPrefix(res.Err.Error(), "mkstemp: ") {
		t.Fatalf("code=%v err=%v", res.Code, res.Err)
	}
	if _, err := os.Stat(target); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("target should not exist, stat err=%v", err)
	}
}
