// Package sniff classifies an image from its first bytes.
package sniff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/islishude/imgfetch/internal/compress"
)

type Format string

const (
	Raw    Format = "raw"
	Gzip   Format = "gzip"
	Cramfs Format = "cramfs"
	Bzip2  Format = "bzip2"
	Xz     Format = "xz"
	Zstd   Format = "zstd"
	Lz4    Format = "lz4"
)

// Compressed reports whether the payload has to go through a decompressor.
func (f Format) Compressed() bool {
	switch f {
	case Gzip, Bzip2, Xz, Zstd, Lz4:
		return true
	default:
		return false
	}
}

// Compression maps the format to the codec that decodes it.
func (f Format) Compression() compress.Type {
	if !f.Compressed() {
		return compress.None
	}
	return compress.Type(f)
}

// MinWindow is the smallest window Sniff accepts: a gzip header plus one
// byte of the embedded name.
const MinWindow = 11

var ErrShortWindow = errors.New("sniff: insufficient data")

const (
	gzipFlagName = 0x08
	gzipNameOff  = 10

	cramfsMagic    = 0x28cd3d45
	cramfsMagicBig = 0x453dcd28
	// struct cramfs_super: magic, size, flags, future, signature[16], crc,
	// edition, blocks, files, name[16].
	cramfsHeaderSize = 64
	cramfsNameOff    = 48
	cramfsNameLen    = 16
)

type Decision struct {
	Format Format
	// Name is the original name stored in the header, if any.
	Name string
	// SizeHint is the number following the first word of Name, e.g.
	// "root 65536". It is expected to be the unpacked size in KiB.
	SizeHint int64
	// MIME is filled for raw payloads only.
	MIME string
}

func Sniff(window []byte) (Decision, error) {
	if len(window) < MinWindow {
		return Decision{}, ErrShortWindow
	}

	var d Decision
	switch {
	case window[0] == 0x1f && window[1] == 0x8b:
		d.Format = Gzip
		if window[3]&gzipFlagName != 0 {
			if end := bytes.IndexByte(window[gzipNameOff:], 0); end >= 0 {
				d.Name = string(window[gzipNameOff : gzipNameOff+end])
			}
		}
	case len(window) >= cramfsHeaderSize && isCramfs(window):
		d.Format = Cramfs
		name := window[cramfsNameOff : cramfsNameOff+cramfsNameLen]
		if end := bytes.IndexByte(name, 0); end >= 0 {
			name = name[:end]
		}
		d.Name = string(name)
	default:
		if t := compress.DetectByMagic(window); t != compress.None {
			d.Format = Format(t)
		} else {
			d.Format = Raw
			d.MIME = mimetype.Detect(window).String()
		}
	}

	if d.Name != "" {
		d.SizeHint = sizeHint(d.Name)
	}
	return d, nil
}

func isCramfs(window []byte) bool {
	magic := binary.LittleEndian.Uint32(window)
	return magic == cramfsMagic || magic == cramfsMagicBig
}

const maxSizeHint = math.MaxInt64 >> 10

// sizeHint skips the first word of name and reads a decimal number from the
// start of the second, the way "%*s %d" would.
func sizeHint(name string) int64 {
	fields := strings.Fields(name)
	if len(fields) < 2 {
		return 0
	}
	num := fields[1]
	end := 0
	if end < len(num) && (num[end] == '+' || num[end] == '-') {
		end++
	}
	for end < len(num) && num[end] >= '0' && num[end] <= '9' {
		end++
	}
	n, err := strconv.ParseInt(num[:end], 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	// callers scale the hint from KiB to bytes
	return min(n, maxSizeHint)
}
