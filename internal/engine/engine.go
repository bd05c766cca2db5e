package engine

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/pakrat/pakrat/batch"
	"github.com/pakrat/pakrat/chunk"
	"github.com/pakrat/pakrat/internal/cli"
	"github.com/pakrat/pakrat/keys"
	"github.com/pakrat/pakrat/pak"
	"github.com/pakrat/pakrat/source"
)

const (
	ExitSuccess = 0
	ExitWarning = 1
	ExitFatal   = 2
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
}

type RunResult struct {
	ExitCode int
	Err      error
}

func New(stdout, stderr io.Writer) *Runner {
	return &Runner{stdout: stdout, stderr: stderr}
}

func (r *Runner) Run(ctx context.Context, opts cli.Options) RunResult {
	switch opts.Mode {
	case cli.ModeList:
		warnings, err := r.runList(ctx, opts)
		return classifyResult(err, warnings)
	case cli.ModeExtract:
		warnings, err := r.runExtract(ctx, opts)
		return classifyResult(err, warnings)
	case cli.ModeInfo:
		warnings, err := r.runInfo(ctx, opts)
		return classifyResult(err, warnings)
	case cli.ModeCreate:
		warnings, err := r.runCreate(ctx, opts)
		return classifyResult(err, warnings)
	default:
		return RunResult{ExitCode: ExitFatal, Err: fmt.Errorf("unsupported mode %q", opts.Mode)}
	}
}

func classifyResult(err error, warnings int) RunResult {
	if err != nil {
		return RunResult{ExitCode: ExitFatal, Err: err}
	}
	if warnings > 0 {
		return RunResult{ExitCode: ExitWarning}
	}
	return RunResult{ExitCode: ExitSuccess}
}

func loadKeys(opts cli.Options) (*keys.Registry, error) {
	reg := keys.NewRegistry()
	for _, spec := range opts.Keys {
		guid, key, err := keys.ParseSpec(spec)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(guid, key); err != nil {
			return nil, err
		}
	}
	for _, name := range opts.KeyFiles {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		err = reg.LoadFile(f)
		cerr := f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if cerr != nil {
			return nil, cerr
		}
	}
	return reg, nil
}

func (r *Runner) openArchive(ctx context.Context, opts cli.Options) (*pak.Archive, error) {
	reg, err := loadKeys(opts)
	if err != nil {
		return nil, err
	}
	var src source.ByteSource
	if source.IsS3URI(opts.Archive) {
		src, err = source.OpenS3(ctx, opts.Archive)
	} else {
		src, err = source.OpenFile(opts.Archive)
	}
	if err != nil {
		return nil, err
	}
	a, err := pak.Open(src, &pak.Options{Keys: reg})
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return a, nil
}

// selectEntries resolves member globs against the archive, keeping
// archive order and visiting each entry once. No globs selects
// everything.
func selectEntries(a *pak.Archive, globs []string) ([]pak.Entry, error) {
	if len(globs) == 0 {
		return a.ListEntries("")
	}
	seen := make(map[string]bool)
	var out []pak.Entry
	for _, g := range globs {
		matched, err := a.ListEntries(g)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", g, err)
		}
		for _, e := range matched {
			key := strings.ToLower(e.Path)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, e)
		}
	}
	return out, nil
}

// reportSkipped prints entries the index parser had to drop and counts
// them as warnings.
func (r *Runner) reportSkipped(a *pak.Archive) int {
	for _, s := range a.Skipped() {
		name := s.Path
		if name == "" {
			name = fmt.Sprintf("entry #%d", s.Ordinal)
		}
		_, _ = fmt.Fprintf(r.stderr, "pakrat: warning: skipped %s: %s\n", name, s.Detail)
	}
	return len(a.Skipped())
}

func (r *Runner) runList(ctx context.Context, opts cli.Options) (int, error) {
	a, err := r.openArchive(ctx, opts)
	if err != nil {
		return 0, err
	}
	defer a.Close() //nolint:errcheck

	warnings := r.reportSkipped(a)
	entries, err := selectEntries(a, opts.Members)
	if err != nil {
		return warnings, err
	}
	for _, e := range entries {
		select {
		case <-ctx.Done():
			return warnings, ctx.Err()
		default:
		}
		if opts.Verbose {
			_, _ = fmt.Fprintf(r.stdout, "%10d %10d %-6s %s\n",
				e.UncompressedSize, e.CompressedSize, e.Method, e.Path)
		} else {
			_, _ = fmt.Fprintln(r.stdout, e.Path)
		}
	}
	return warnings, nil
}

func (r *Runner) runInfo(ctx context.Context, opts cli.Options) (int, error) {
	a, err := r.openArchive(ctx, opts)
	if err != nil {
		return 0, err
	}
	defer a.Close() //nolint:errcheck

	_, _ = fmt.Fprintf(r.stdout, "mount point: %s\n", a.MountPoint())
	_, _ = fmt.Fprintf(r.stdout, "version:     %d\n", a.Version())
	_, _ = fmt.Fprintf(r.stdout, "encrypted:   %v\n", a.IsEncrypted())
	_, _ = fmt.Fprintf(r.stdout, "entries:     %d\n", a.EntryCount())
	_, _ = fmt.Fprintf(r.stdout, "skipped:     %d\n", len(a.Skipped()))
	_, _ = fmt.Fprintf(r.stdout, "shadowed:    %d\n", a.Shadowed())
	return len(a.Skipped()), nil
}

func (r *Runner) runExtract(ctx context.Context, opts cli.Options) (int, error) {
	a, err := r.openArchive(ctx, opts)
	if err != nil {
		return 0, err
	}
	defer a.Close() //nolint:errcheck

	warnings := r.reportSkipped(a)
	entries, err := selectEntries(a, opts.Members)
	if err != nil {
		return warnings, err
	}

	target := opts.Chdir
	if target == "" {
		target = "."
	}

	transform := func(ctx context.Context, e pak.Entry) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := a.ReadEntry(e.Path)
		if err != nil {
			return nil, err
		}
		if opts.ToStdout {
			return data, nil
		}
		if err := writeEntryFile(target, e.Path, data); err != nil {
			return nil, err
		}
		return nil, nil
	}

	results, sum, err := batch.Process(ctx, entries, transform, batch.Options{
		BatchSize: opts.BatchSize,
		FailFast:  opts.FailFast,
		OnProgress: func(p batch.Progress) {
			_, _ = fmt.Fprintf(r.stderr, "\rpakrat: %d/%d (%.1f%%)", p.Processed, p.Total, p.Percentage)
		},
	})
	if sum.Processed > 0 {
		_, _ = fmt.Fprintln(r.stderr)
	}
	if err != nil {
		return warnings, err
	}

	for i := range results {
		if results[i].Err != nil {
			warnings++
			_, _ = fmt.Fprintf(r.stderr, "pakrat: warning: %s: %v\n", entries[results[i].Index].Path, results[i].Err)
			continue
		}
		if opts.ToStdout {
			if _, err := r.stdout.Write(results[i].Value); err != nil {
				return warnings, err
			}
		} else if opts.Verbose {
			_, _ = fmt.Fprintln(r.stdout, entries[results[i].Index].Path)
		}
	}
	if sum.Cancelled {
		warnings++
		_, _ = fmt.Fprintf(r.stderr, "pakrat: cancelled after %d of %d entries\n", sum.Processed, sum.Total)
	}
	return warnings, nil
}

func (r *Runner) runCreate(ctx context.Context, opts cli.Options) (int, error) {
	if source.IsS3URI(opts.Archive) {
		return 0, fmt.Errorf("create requires a local archive path")
	}
	method, err := chunk.ParseMethod(opts.Method)
	if err != nil {
		return 0, err
	}
	reg, err := loadKeys(opts)
	if err != nil {
		return 0, err
	}

	b, err := pak.NewBuilder(uint32(opts.Index), opts.Mount)
	if err != nil {
		return 0, err
	}
	if opts.Encrypt {
		key, err := reg.Lookup(uuid.Nil)
		if err != nil {
			return 0, fmt.Errorf("--encrypt requires a default key (--aes-key default=hex)")
		}
		if err := b.SetKey(uuid.Nil, key); err != nil {
			return 0, err
		}
		b.EncryptIndex()
	}

	for _, m := range opts.Members {
		if err := addLocalPath(ctx, b, m, opts, method, r.stdout); err != nil {
			return 0, err
		}
	}

	data, err := b.Bytes()
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(opts.Archive, data, 0o644); err != nil {
		return 0, err
	}
	return 0, nil
}

func addLocalPath(ctx context.Context, b *pak.Builder, member string, opts cli.Options, method chunk.Method, verboseOut io.Writer) error {
	basePath := member
	if opts.Chdir != "" {
		basePath = filepath.Join(opts.Chdir, member)
	}
	cleanMember := path.Clean(filepath.ToSlash(member))
	return filepath.WalkDir(basePath, func(current string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(basePath, current)
		if err != nil {
			return err
		}
		entryName := cleanMember
		if rel != "." {
			entryName = path.Join(cleanMember, filepath.ToSlash(rel))
		}
		data, err := os.ReadFile(current)
		if err != nil {
			return err
		}
		if err := b.Add(entryName, data, method, opts.Encrypt); err != nil {
			return err
		}
		if opts.Verbose {
			_, _ = fmt.Fprintln(verboseOut, entryName)
		}
		return nil
	})
}

func writeEntryFile(base, entryPath string, data []byte) error {
	target, err := safeJoin(base, entryPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, data, 0o644)
}

func safeJoin(base, member string) (string, error) {
	base = filepath.Clean(base)
	member = strings.TrimPrefix(member, "/")
	candidate := filepath.Join(base, filepath.FromSlash(member))
	candidate = filepath.Clean(candidate)
	rel, err := filepath.Rel(base, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("refusing to write outside target directory: %s", member)
	}
	return candidate, nil
}
