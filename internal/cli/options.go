package cli

import (
	"fmt"
	"strconv"
	"strings"
)

type Mode string

const (
	ModeNone    Mode = ""
	ModeCreate  Mode = "c"
	ModeExtract Mode = "x"
	ModeList    Mode = "t"
	ModeInfo    Mode = "i"
)

type Options struct {
	Mode      Mode
	Archive   string
	Chdir     string
	ToStdout  bool
	Verbose   bool
	Help      bool
	Keys      []string
	KeyFiles  []string
	Method    string
	Index     int
	Mount     string
	Encrypt   bool
	BatchSize int
	FailFast  bool
	Members   []string
}

func Parse(args []string) (Options, error) {
	opts := Options{Method: "zstd", Index: 3}
	if len(args) == 0 {
		return opts, fmt.Errorf("no operation mode specified")
	}

	if legacyToken(args[0]) {
		args = append([]string{"-" + args[0]}, args[1:]...)
	}

	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			opts.Members = append(opts.Members, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			opts.Members = append(opts.Members, args[i:]...)
			break
		}
		if strings.HasPrefix(a, "--") {
			name, value, hasValue := strings.Cut(a[2:], "=")
			switch name {
			case "aes-key":
				v, nextI, err := resolveValue(name, value, hasValue, args, i)
				if err != nil {
					return opts, err
				}
				i = nextI
				opts.Keys = append(opts.Keys, v)
			case "key-file":
				v, nextI, err := resolveValue(name, value, hasValue, args, i)
				if err != nil {
					return opts, err
				}
				i = nextI
				opts.KeyFiles = append(opts.KeyFiles, v)
			case "method":
				v, nextI, err := resolveValue(name, value, hasValue, args, i)
				if err != nil {
					return opts, err
				}
				i = nextI
				opts.Method = v
			case "index":
				v, nextI, err := resolveValue(name, value, hasValue, args, i)
				if err != nil {
					return opts, err
				}
				i = nextI
				n, err := strconv.Atoi(v)
				if err != nil || n < 1 || n > 3 {
					return opts, fmt.Errorf("option --index requires an integer between 1 and 3")
				}
				opts.Index = n
			case "mount":
				v, nextI, err := resolveValue(name, value, hasValue, args, i)
				if err != nil {
					return opts, err
				}
				i = nextI
				opts.Mount = v
			case "batch-size":
				v, nextI, err := resolveValue(name, value, hasValue, args, i)
				if err != nil {
					return opts, err
				}
				i = nextI
				n, err := strconv.Atoi(v)
				if err != nil || n < 1 {
					return opts, fmt.Errorf("option --batch-size requires a positive integer")
				}
				opts.BatchSize = n
			case "encrypt":
				opts.Encrypt = true
			case "fail-fast":
				opts.FailFast = true
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
			case 'c':
				if err := setMode(&opts, ModeCreate); err != nil {
					return opts, err
				}
			case 'x':
				if err := setMode(&opts, ModeExtract); err != nil {
					return opts, err
				}
			case 't':
				if err := setMode(&opts, ModeList); err != nil {
					return opts, err
				}
			case 'i':
				if err := setMode(&opts, ModeInfo); err != nil {
					return opts, err
				}
			case 'v':
				opts.Verbose = true
			case 'h':
				opts.Help = true
			case 'O':
				opts.ToStdout = true
			case 'f', 'C':
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
				if s == 'f' {
					opts.Archive = val
				} else {
					opts.Chdir = val
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
	if opts.Mode == ModeNone {
		return opts, fmt.Errorf("no operation mode specified")
	}
	if opts.Archive == "" {
		return opts, fmt.Errorf("option -f is required")
	}
	if opts.Mode == ModeCreate && len(opts.Members) == 0 {
		return opts, fmt.Errorf("cowardly refusing to create an empty archive")
	}
	return opts, nil
}

func legacyToken(v string) bool {
	if strings.HasPrefix(v, "-") || v == "" {
		return false
	}
	for _, r := range v {
		switch r {
		case 'c', 'x', 't', 'i', 'v', 'f', 'C', 'O':
		default:
			return false
		}
	}
	return true
}

func setMode(opts *Options, mode Mode) error {
	if opts.Mode != ModeNone && opts.Mode != mode {
		return fmt.Errorf("multiple operation modes specified")
	}
	opts.Mode = mode
	return nil
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
