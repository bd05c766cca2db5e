package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/pakrat/pakrat/chunk"
	"github.com/pakrat/pakrat/internal/cli"
	"github.com/pakrat/pakrat/pak"
)

func writeTestArchive(t *testing.T, encrypt bool) string {
	t.Helper()
	b, err := pak.NewBuilder(pak.VersionDirectoryB3, "../content/")
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	if encrypt {
		key := bytes.Repeat([]byte{0x42}, 32)
		if err := b.SetKey(uuid.Nil, key); err != nil {
			t.Fatalf("SetKey() error = %v", err)
		}
	}
	add := func(path string, data []byte, enc bool) {
		if err := b.Add(path, data, chunk.MethodZstd, enc); err != nil {
			t.Fatalf("Add(%q) error = %v", path, err)
		}
	}
	add("maps/arena.umap", []byte("arena level data"), false)
	add("maps/lobby.umap", []byte("lobby level data"), false)
	add("config/game.ini", []byte("[core]\nname=test\n"), encrypt)

	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	name := filepath.Join(t.TempDir(), "game.pak")
	if err := os.WriteFile(name, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return name
}

func runOpts(t *testing.T, opts cli.Options) (RunResult, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	r := New(&stdout, &stderr)
	res := r.Run(context.Background(), opts)
	return res, stdout.String(), stderr.String()
}

func TestRunList(t *testing.T) {
	archive := writeTestArchive(t, false)

	res, stdout, _ := runOpts(t, cli.Options{Mode: cli.ModeList, Archive: archive})
	if res.ExitCode != ExitSuccess {
		t.Fatalf("exit = %d, err = %v", res.ExitCode, res.Err)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 3 {
		t.Fatalf("listed %d entries, want 3: %q", len(lines), stdout)
	}
	if lines[0] != "maps/arena.umap" {
		t.Errorf("lines[0] = %q, want archive order", lines[0])
	}
}

func TestRunListGlobAndVerbose(t *testing.T) {
	archive := writeTestArchive(t, false)

	res, stdout, _ := runOpts(t, cli.Options{
		Mode: cli.ModeList, Archive: archive, Verbose: true,
		Members: []string{"maps/*"},
	})
	if res.ExitCode != ExitSuccess {
		t.Fatalf("exit = %d, err = %v", res.ExitCode, res.Err)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 {
		t.Fatalf("listed %d entries, want 2: %q", len(lines), stdout)
	}
	if !strings.Contains(lines[0], "zstd") || !strings.Contains(lines[0], "maps/arena.umap") {
		t.Errorf("verbose line = %q, want sizes and method", lines[0])
	}
}

func TestRunInfo(t *testing.T) {
	archive := writeTestArchive(t, false)

	res, stdout, _ := runOpts(t, cli.Options{Mode: cli.ModeInfo, Archive: archive})
	if res.ExitCode != ExitSuccess {
		t.Fatalf("exit = %d, err = %v", res.ExitCode, res.Err)
	}
	for _, want := range []string{"mount point: ../content/", "version:     3", "entries:     3", "encrypted:   false"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("info output missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunExtract(t *testing.T) {
	archive := writeTestArchive(t, false)
	target := t.TempDir()

	res, _, _ := runOpts(t, cli.Options{
		Mode: cli.ModeExtract, Archive: archive, Chdir: target,
	})
	if res.ExitCode != ExitSuccess {
		t.Fatalf("exit = %d, err = %v", res.ExitCode, res.Err)
	}
	got, err := os.ReadFile(filepath.Join(target, "maps", "arena.umap"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "arena level data" {
		t.Errorf("extracted content = %q", got)
	}
	if _, err := os.Stat(filepath.Join(target, "config", "game.ini")); err != nil {
		t.Errorf("config/game.ini not extracted: %v", err)
	}
}

func TestRunExtractToStdout(t *testing.T) {
	archive := writeTestArchive(t, false)

	res, stdout, _ := runOpts(t, cli.Options{
		Mode: cli.ModeExtract, Archive: archive, ToStdout: true,
		Members: []string{"maps/*"},
	})
	if res.ExitCode != ExitSuccess {
		t.Fatalf("exit = %d, err = %v", res.ExitCode, res.Err)
	}
	if stdout != "arena level data"+"lobby level data" {
		t.Errorf("stdout = %q, want entry data in archive order", stdout)
	}
}

func TestRunExtractMissingKeyFailSoft(t *testing.T) {
	archive := writeTestArchive(t, true)
	target := t.TempDir()

	res, _, stderr := runOpts(t, cli.Options{
		Mode: cli.ModeExtract, Archive: archive, Chdir: target,
	})
	if res.ExitCode != ExitWarning {
		t.Fatalf("exit = %d (err = %v), want warning", res.ExitCode, res.Err)
	}
	if !strings.Contains(stderr, "config/game.ini") {
		t.Errorf("stderr missing per-entry warning:\n%s", stderr)
	}
	// Unencrypted entries still extract.
	if _, err := os.Stat(filepath.Join(target, "maps", "arena.umap")); err != nil {
		t.Errorf("clean entry not extracted: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "config", "game.ini")); err == nil {
		t.Error("encrypted entry extracted without its key")
	}
}

func TestRunExtractMissingKeyFailFast(t *testing.T) {
	archive := writeTestArchive(t, true)

	res, _, _ := runOpts(t, cli.Options{
		Mode: cli.ModeExtract, Archive: archive, Chdir: t.TempDir(),
		FailFast: true, BatchSize: 1, Members: []string{"config/*"},
	})
	if res.ExitCode != ExitFatal || res.Err == nil {
		t.Fatalf("exit = %d, err = %v; want fatal", res.ExitCode, res.Err)
	}
}

func TestRunCreateRoundTrip(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "assets"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "assets", "hero.dat"), []byte("hero bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "assets", "flag.dat"), []byte("flag bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	archive := filepath.Join(t.TempDir(), "out.pak")

	res, _, _ := runOpts(t, cli.Options{
		Mode: cli.ModeCreate, Archive: archive, Chdir: src,
		Method: "lz4", Index: 2, Mount: "../game/",
		Members: []string{"assets"},
	})
	if res.ExitCode != ExitSuccess {
		t.Fatalf("create exit = %d, err = %v", res.ExitCode, res.Err)
	}

	res, stdout, _ := runOpts(t, cli.Options{Mode: cli.ModeList, Archive: archive})
	if res.ExitCode != ExitSuccess {
		t.Fatalf("list exit = %d, err = %v", res.ExitCode, res.Err)
	}
	for _, want := range []string{"assets/hero.dat", "assets/flag.dat"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("listing missing %q:\n%s", want, stdout)
		}
	}

	res, stdout, _ = runOpts(t, cli.Options{
		Mode: cli.ModeExtract, Archive: archive, ToStdout: true,
		Members: []string{"assets/hero.dat"},
	})
	if res.ExitCode != ExitSuccess {
		t.Fatalf("extract exit = %d, err = %v", res.ExitCode, res.Err)
	}
	if stdout != "hero bytes" {
		t.Errorf("extracted = %q, want hero bytes", stdout)
	}
}

func TestRunCreateEncrypted(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "secret.bin"), []byte("secret payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	archive := filepath.Join(t.TempDir(), "enc.pak")
	keySpec := "default=" + strings.Repeat("11", 32)

	res, _, _ := runOpts(t, cli.Options{
		Mode: cli.ModeCreate, Archive: archive, Chdir: src,
		Method: "zstd", Index: 3, Encrypt: true,
		Keys:    []string{keySpec},
		Members: []string{"secret.bin"},
	})
	if res.ExitCode != ExitSuccess {
		t.Fatalf("create exit = %d, err = %v", res.ExitCode, res.Err)
	}

	// Without the key the index cannot be read at all.
	res, _, _ = runOpts(t, cli.Options{Mode: cli.ModeList, Archive: archive})
	if res.ExitCode != ExitFatal {
		t.Fatalf("list without key exit = %d, want fatal", res.ExitCode)
	}

	res, stdout, _ := runOpts(t, cli.Options{
		Mode: cli.ModeExtract, Archive: archive, ToStdout: true,
		Keys: []string{keySpec},
	})
	if res.ExitCode != ExitSuccess {
		t.Fatalf("extract exit = %d, err = %v", res.ExitCode, res.Err)
	}
	if stdout != "secret payload" {
		t.Errorf("extracted = %q", stdout)
	}
}

func TestRunCreateEncryptRequiresKey(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, _, _ := runOpts(t, cli.Options{
		Mode: cli.ModeCreate, Archive: filepath.Join(t.TempDir(), "x.pak"),
		Chdir: src, Method: "zstd", Index: 3, Encrypt: true,
		Members: []string{"a.bin"},
	})
	if res.ExitCode != ExitFatal {
		t.Fatalf("exit = %d, want fatal without default key", res.ExitCode)
	}
}

func TestRunKeyFile(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "s.bin"), []byte("from key file"), 0o644); err != nil {
		t.Fatal(err)
	}
	keyFile := filepath.Join(t.TempDir(), "keys.txt")
	content := "# default key\ndefault=" + strings.Repeat("22", 32) + "\n"
	if err := os.WriteFile(keyFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	archive := filepath.Join(t.TempDir(), "kf.pak")

	res, _, _ := runOpts(t, cli.Options{
		Mode: cli.ModeCreate, Archive: archive, Chdir: src,
		Method: "none", Index: 3, Encrypt: true,
		KeyFiles: []string{keyFile},
		Members:  []string{"s.bin"},
	})
	if res.ExitCode != ExitSuccess {
		t.Fatalf("create exit = %d, err = %v", res.ExitCode, res.Err)
	}

	res, stdout, _ := runOpts(t, cli.Options{
		Mode: cli.ModeExtract, Archive: archive, ToStdout: true,
		KeyFiles: []string{keyFile},
	})
	if res.ExitCode != ExitSuccess {
		t.Fatalf("extract exit = %d, err = %v", res.ExitCode, res.Err)
	}
	if stdout != "from key file" {
		t.Errorf("extracted = %q", stdout)
	}
}

func TestSafeJoinRejectsEscape(t *testing.T) {
	if _, err := safeJoin("/tmp/out", "../../etc/passwd"); err == nil {
		t.Error("safeJoin() allowed path escape")
	}
	got, err := safeJoin("/tmp/out", "maps/arena.umap")
	if err != nil {
		t.Fatalf("safeJoin() error = %v", err)
	}
	if got != filepath.Join("/tmp/out", "maps", "arena.umap") {
		t.Errorf("safeJoin() = %q", got)
	}
}
