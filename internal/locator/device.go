package locator

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Parser resolves media paths against a file-system root. The zero value
// looks under the real root.
type Parser struct {
	// Root is where the device lookup starts, "/" when empty.
	Root string
	// Stat follows symlinks like os.Stat, which is the default.
	Stat func(name string) (fs.FileInfo, error)
}

var DefaultParser = &Parser{}

func (p *Parser) root() string {
	if p.Root == "" {
		return string(filepath.Separator)
	}
	return p.Root
}

func (p *Parser) stat(name string) (fs.FileInfo, error) {
	if p.Stat != nil {
		return p.Stat(name)
	}
	return os.Stat(name)
}

// resolveDevice walks dev/<path> one element at a time. The first prefix that
// is a block device becomes Device and the remainder becomes Path. The walk
// stops at the first prefix that is missing or is not a directory.
func (p *Parser) resolveDevice(loc *Locator) {
	elems := strings.Split(loc.Path, "/")
	if elems[0] != "dev" {
		elems = append([]string{"dev"}, elems...)
	}
	root := p.root()
	for i := 1; i <= len(elems); i++ {
		prefix := filepath.Join(append([]string{root}, elems[:i]...)...)
		fi, err := p.stat(prefix)
		if err != nil {
			return
		}
		if isBlockDevice(fi.Mode()) {
			loc.Device = shortDevice(root, prefix, fi)
			loc.Path = strings.Join(elems[i:], "/")
			return
		}
		if !fi.IsDir() {
			return
		}
	}
}

func isBlockDevice(m fs.FileMode) bool {
	return m&fs.ModeDevice != 0 && m&fs.ModeCharDevice == 0
}

// shortDevice turns a device path into its kernel name, e.g.
// /dev/disk/by-label/INSTALL -> sdb1.
func shortDevice(root, devPath string, fi fs.FileInfo) string {
	if name, ok := sysfsDeviceName(root, fi); ok {
		return name
	}
	if resolved, err := filepath.EvalSymlinks(devPath); err == nil {
		devPath = resolved
	}
	devDir := filepath.Join(root, "dev")
	if rel, err := filepath.Rel(devDir, devPath); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.Base(devPath)
}
