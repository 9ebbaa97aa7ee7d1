// Package local opens images that are reachable through the local file
// system: plain files, stdin, block devices and mounted media or exports.
package local

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/islishude/imgfetch/internal/locator"
)

const defaultMountTable = "/proc/self/mounts"

type Store struct {
	// MountRoot is where media without a named device are expected.
	MountRoot string
	// MountTable defaults to /proc/self/mounts.
	MountTable string
	// DevRoot prefixes device paths; empty means the real /dev.
	DevRoot string
}

type Metadata struct {
	Size int64
}

func (s *Store) OpenReader(loc locator.Locator) (io.ReadCloser, Metadata, error) {
	switch {
	case loc.Scheme == locator.SchemeFile || loc.Scheme == locator.SchemeNone:
		p := loc.LocalPath()
		if p == "-" {
			return io.NopCloser(os.Stdin), Metadata{}, nil
		}
		return openFile(p)
	case loc.Scheme.IsMedia():
		return s.openMedia(loc)
	case loc.Scheme == locator.SchemeNFS:
		p, err := s.resolveExport(loc)
		if err != nil {
			return nil, Metadata{}, err
		}
		return openFile(p)
	default:
		return nil, Metadata{}, fmt.Errorf("unsupported local scheme %q", loc.Scheme)
	}
}

func (s *Store) openMedia(loc locator.Locator) (io.ReadCloser, Metadata, error) {
	if loc.Device == "" {
		return openFile(filepath.Join(s.mountRoot(), filepath.FromSlash(loc.Path)))
	}
	dev := filepath.Join(s.DevRoot, "/dev", loc.Device)
	if loc.Path == "" {
		return openDevice(dev)
	}
	mounts, err := s.readMounts()
	if err != nil {
		return nil, Metadata{}, err
	}
	for _, m := range mounts {
		if sameDevice(m.source, dev) {
			return openFile(filepath.Join(m.target, filepath.FromSlash(loc.Path)))
		}
	}
	return nil, Metadata{}, fmt.Errorf("device %s is not mounted", loc.Device)
}

// resolveExport maps nfs://server/export/file onto the mount of
// server:/export, preferring the longest matching export.
func (s *Store) resolveExport(loc locator.Locator) (string, error) {
	mounts, err := s.readMounts()
	if err != nil {
		return "", err
	}
	want := "/" + loc.Path
	best, bestLen := "", -1
	for _, m := range mounts {
		if !strings.HasPrefix(m.fstype, "nfs") {
			continue
		}
		server, export, ok := strings.Cut(m.source, ":")
		if !ok || !strings.EqualFold(server, loc.Server) {
			continue
		}
		export = path.Clean(export)
		rest, ok := strings.CutPrefix(want, export)
		if !ok || (rest != "" && !strings.HasPrefix(rest, "/") && export != "/") {
			continue
		}
		if len(export) > bestLen {
			best, bestLen = filepath.Join(m.target, filepath.FromSlash(rest)), len(export)
		}
	}
	if bestLen < 0 {
		return "", fmt.Errorf("no nfs export of %s is mounted for %s", loc.Server, want)
	}
	return best, nil
}

func (s *Store) mountRoot() string {
	if s.MountRoot == "" {
		return "/"
	}
	return s.MountRoot
}

type mount struct {
	source string
	target string
	fstype string
}

func (s *Store) readMounts() ([]mount, error) {
	name := s.MountTable
	if name == "" {
		name = defaultMountTable
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("read mount table: %w", err)
	}
	defer f.Close() //nolint:errcheck
	return parseMounts(f)
}

func parseMounts(r io.Reader) ([]mount, error) {
	var out []mount
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		out = append(out, mount{
			source: unescapeMount(fields[0]),
			target: unescapeMount(fields[1]),
			fstype: fields[2],
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read mount table: %w", err)
	}
	return out, nil
}

// unescapeMount undoes the octal escapes the kernel uses for spaces, tabs
// and backslashes in mount table fields.
func unescapeMount(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+4 <= len(v) {
			if n, err := strconv.ParseUint(v[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

func sameDevice(source, dev string) bool {
	if source == dev {
		return true
	}
	if !strings.HasPrefix(source, "/") {
		return false
	}
	a, err := filepath.EvalSymlinks(source)
	if err != nil {
		return false
	}
	b, err := filepath.EvalSymlinks(dev)
	return err == nil && a == b
}

func openFile(name string) (io.ReadCloser, Metadata, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, Metadata{}, err
	}
	st, _ := f.Stat()
	meta := Metadata{}
	if st != nil && st.Mode().IsRegular() {
		meta.Size = st.Size()
	}
	return f, meta, nil
}

// openDevice streams a whole block device. Stat reports no size for those,
// so it is taken from the end offset.
func openDevice(name string) (io.ReadCloser, Metadata, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, Metadata{}, err
	}
	meta := Metadata{}
	if end, err := f.Seek(0, io.SeekEnd); err == nil {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, Metadata{}, err
		}
		meta.Size = end
	}
	return f, meta, nil
}
