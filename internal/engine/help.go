package engine

import (
	"path"
	"strings"

	"github.com/islishude/imgfetch/internal/locator"
)

var compressedExts = []string{".gz", ".tgz", ".bz2", ".xz", ".zst", ".lz4"}

// OutputName picks a target file name when none was given: the last path
// element of the source without its compression suffix, since the image is
// written decompressed.
func OutputName(loc locator.Locator) string {
	name := path.Base(strings.TrimRight(loc.Path, "/"))
	if name == "." || name == "/" || name == "" {
		if loc.Device != "" {
			return loc.Device + ".img"
		}
		return "image.img"
	}
	lower := strings.ToLower(name)
	for _, ext := range compressedExts {
		if strings.HasSuffix(lower, ext) && len(name) > len(ext) {
			name = name[:len(name)-len(ext)]
			if ext == ".tgz" {
				name += ".tar"
			}
			break
		}
	}
	return name
}
