package cli

import "fmt"

func HelpText(program string) string {
	if program == "" {
		program = "imgfetch"
	}
	return fmt.Sprintf(`%s - fetch a boot or root image, decompressing it on the fly

Usage:
  %s [options] <source> [target]
  %s unpack -t <type> < input > output

Sources:
  /path/file, file:/path/file, -          Local file or stdin
  cdrom:/dev/sr0/path, hd:/dev/sda1/path  File on a mounted medium
  floppy:/dev/fd0                         Whole block device
  nfs://server/export/path                File on a mounted NFS export
  smb://[domain;][user[:pass]@]server/share/path
  ftp://[user[:pass]@]server[:port]/path
  tftp://server[:port]/path
  http://server/path, https://server/path
  s3://bucket/key, S3 object ARN

Options:
  -o <file>, --output <file>
                    Target file (default: source name without its compression suffix)
  --tmpdir <dir>    Directory for the decompressor's diagnostics file
  --decompressor <command>
                    Command used for every compressed format (default: gzip -dc, xz -dc, ...)
  --mount-root <dir>
                    Where media without a device are mounted (default: /)
  -v, --verbose     Debug logging
  -q, --quiet       No progress bar
  -h, --help        Show this help message

Unpack:
  -t <type>         gzip, bzip2, xz, zstd or lz4

gzip, cramfs, bzip2, xz, zstd and lz4 input is recognised by its first bytes.
Compressed images are written decompressed.
`, program, program, program)
}
