package compress

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

type Type string

const (
	None  Type = "none"
	Gzip  Type = "gzip"
	Bzip2 Type = "bzip2"
	Xz    Type = "xz"
	Zstd  Type = "zstd"
	Lz4   Type = "lz4"
)

func FromString(v string) Type {
	switch strings.ToLower(v) {
	case "gzip", "gz":
		return Gzip
	case "bzip2", "bz2":
		return Bzip2
	case "xz":
		return Xz
	case "zstd", "zst":
		return Zstd
	case "lz4":
		return Lz4
	default:
		return None
	}
}

// DetectByMagic returns None when no known frame header is present.
func DetectByMagic(magic []byte) Type {
	switch {
	case len(magic) >= 2 && bytes.Equal(magic[:2], []byte{0x1f, 0x8b}):
		return Gzip
	case len(magic) >= 3 && bytes.Equal(magic[:3], []byte{'B', 'Z', 'h'}):
		return Bzip2
	case len(magic) >= 6 && bytes.Equal(magic[:6], []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		return Xz
	case len(magic) >= 4 && bytes.Equal(magic[:4], []byte{0x28, 0xb5, 0x2f, 0xfd}):
		return Zstd
	case len(magic) >= 4 && bytes.Equal(magic[:4], []byte{0x04, 0x22, 0x4d, 0x18}):
		return Lz4
	default:
		return None
	}
}

// Command is the conventional external decompressor for t, reading stdin
// and writing stdout.
func Command(t Type) []string {
	switch t {
	case Gzip, Bzip2, Xz, Zstd, Lz4:
		return []string{string(t), "-dc"}
	default:
		return nil
	}
}

func NewReader(src io.Reader, t Type) (io.ReadCloser, error) {
	br := bufio.NewReader(src)
	switch t {
	case None:
		return io.NopCloser(br), nil
	case Gzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case Bzip2:
		zr, err := bzip2.NewReader(br, nil)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case Xz:
		zr, err := xz.NewReader(br)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(zr), nil
	case Zstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case Lz4:
		return io.NopCloser(lz4.NewReader(br)), nil
	default:
		return nil, fmt.Errorf("unsupported compression type %q", t)
	}
}

// Unpack decodes src into dst. It is what `imgfetch unpack` runs when no
// external decompressor is installed.
func Unpack(dst io.Writer, src io.Reader, t Type) (err error) {
	zr, err := NewReader(src, t)
	if err != nil {
		return fmt.Errorf("%s: stdin: %w", t, err)
	}
	defer func() {
		if cerr := zr.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%s: stdin: %w", t, cerr)
		}
	}()
	if _, err := io.Copy(dst, zr); err != nil {
		return fmt.Errorf("%s: stdin: %w", t, err)
	}
	return nil
}
