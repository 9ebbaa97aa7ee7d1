//go:build !linux

package locator

import "io/fs"

func sysfsDeviceName(string, fs.FileInfo) (string, bool) { return "", false }
