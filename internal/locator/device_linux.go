//go:build linux

package locator

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysfsDeviceName maps the device number to the name the kernel uses for it
// via /sys/dev/block/MAJOR:MINOR.
func sysfsDeviceName(root string, fi fs.FileInfo) (string, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return "", false
	}
	rdev := uint64(st.Rdev) //nolint:unconvert
	link := filepath.Join(root, "sys", "dev", "block", fmt.Sprintf("%d:%d", unix.Major(rdev), unix.Minor(rdev)))
	target, err := os.Readlink(link)
	if err != nil {
		return "", false
	}
	return filepath.Base(target), true
}
