package cli

import (
	"fmt"
	"strings"
)

type Mode string

const (
	ModeNone   Mode = ""
	ModeFetch  Mode = "fetch"
	ModeUnpack Mode = "unpack"
)

type Options struct {
	Mode   Mode
	Source string
	Target string
	// Compression is the unpack input format.
	Compression  string
	TempDir      string
	Decompressor string
	MountRoot    string
	Verbose      bool
	Quiet        bool
	Help         bool
}

func Parse(args []string) (Options, error) {
	opts := Options{Mode: ModeFetch}
	if len(args) == 0 {
		return opts, fmt.Errorf("no source specified")
	}
	switch args[0] {
	case "unpack":
		opts.Mode = ModeUnpack
		args = args[1:]
	case "fetch":
		args = args[1:]
	}

	var positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			positional = append(positional, a)
			continue
		}
		if strings.HasPrefix(a, "--") {
			name, value, hasValue := strings.Cut(a[2:], "=")
			switch name {
			case "tmpdir":
				v, nextI, err := resolveValue(name, value, hasValue, args, i)
				if err != nil {
					return opts, err
				}
				i = nextI
				opts.TempDir = v
			case "decompressor":
				v, nextI, err := resolveValue(name, value, hasValue, args, i)
				if err != nil {
					return opts, err
				}
				i = nextI
				opts.Decompressor = v
			case "mount-root":
				v, nextI, err := resolveValue(name, value, hasValue, args, i)
				if err != nil {
					return opts, err
				}
				i = nextI
				opts.MountRoot = v
			case "type":
				v, nextI, err := resolveValue(name, value, hasValue, args, i)
				if err != nil {
					return opts, err
				}
				i = nextI
				opts.Compression = v
			case "output":
				v, nextI, err := resolveValue(name, value, hasValue, args, i)
				if err != nil {
					return opts, err
				}
				i = nextI
				opts.Target = v
			case "verbose":
				opts.Verbose = true
			case "quiet":
				opts.Quiet = true
			case "help":
				opts.Help = true
			default:
				return opts, fmt.Errorf("unsupported option --%s", name)
			}
			continue
		}

		shorts := a[1:]
		for j := 0; j < len(shorts); j++ {
			s := shorts[j]
			switch s {
			case 'v':
				opts.Verbose = true
			case 'q':
				opts.Quiet = true
			case 'h':
				opts.Help = true
			case 't', 'o':
				var val string
				if j+1 < len(shorts) {
					val = shorts[j+1:]
				} else {
					i++
					if i >= len(args) {
						return opts, fmt.Errorf("option -%c requires an argument", s)
					}
					val = args[i]
				}
				if s == 't' {
					opts.Compression = val
				} else {
					opts.Target = val
				}
				j = len(shorts)
			default:
				return opts, fmt.Errorf("unsupported option -%c", s)
			}
		}
	}

	if opts.Help {
		return opts, nil
	}
	switch opts.Mode {
	case ModeUnpack:
		if len(positional) > 0 {
			return opts, fmt.Errorf("unpack reads stdin and takes no arguments")
		}
		if opts.Compression == "" {
			return opts, fmt.Errorf("option -t is required for unpack")
		}
	case ModeFetch:
		if opts.Compression != "" {
			return opts, fmt.Errorf("option -t is only valid for unpack")
		}
		switch len(positional) {
		case 0:
			return opts, fmt.Errorf("no source specified")
		case 1:
			opts.Source = positional[0]
		case 2:
			if opts.Target != "" {
				return opts, fmt.Errorf("target given twice")
			}
			opts.Source, opts.Target = positional[0], positional[1]
		default:
			return opts, fmt.Errorf("too many arguments")
		}
	}
	if opts.Verbose && opts.Quiet {
		return opts, fmt.Errorf("options -v and -q are mutually exclusive")
	}
	return opts, nil
}

func resolveValue(name, inline string, hasInline bool, args []string, i int) (string, int, error) {
	if hasInline {
		return inline, i, nil
	}
	i++
	if i >= len(args) {
		return "", i, fmt.Errorf("option --%s requires a value", name)
	}
	return args[i], i, nil
}
