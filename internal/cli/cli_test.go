package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
	"github.com/matzehuels/stackpm/pkg/graph"
	"github.com/matzehuels/stackpm/pkg/install"
	"github.com/matzehuels/stackpm/pkg/link"
	"github.com/matzehuels/stackpm/pkg/lock"
	"github.com/matzehuels/stackpm/pkg/observability"
	"github.com/matzehuels/stackpm/pkg/store"
)

// isolate points every XDG directory at a fresh temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, "cache"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))
	return home
}

// writeProject creates a project whose lockfile has a -> b -> a and a dev
// dependency t.
func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	manifest := `{
  "name": "demo",
  "version": "1.0.0",
  "dependencies": {"a": "^1.0.0"},
  "devDependencies": {"t": "^2.0.0"}
}
`
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	g := graph.New()
	a := graph.Key{Name: "a", Version: "1.0.0"}
	b := graph.Key{Name: "b", Version: "1.0.0"}
	tk := graph.Key{Name: "t", Version: "2.0.0"}
	for _, n := range []graph.Node{
		{Key: a, Dependencies: map[string]string{"b": "^1.0.0"}},
		{Key: b, Dependencies: map[string]string{"a": "^1.0.0"}},
		{Key: tk},
	} {
		if _, err := g.AddNode(n); err != nil {
			t.Fatal(err)
		}
	}
	mustNil(t, g.AddEdge(a, "b", b))
	mustNil(t, g.AddEdge(b, "a", a))
	mustNil(t, g.AddRoot(graph.RootEdge{Name: "a", Range: "^1.0.0", Key: a}))
	mustNil(t, g.AddRoot(graph.RootEdge{Name: "t", Range: "^2.0.0", Dev: true, Key: tk}))
	mustNil(t, lock.FromGraph(g).Write(lock.Path(dir)))
	return dir
}

func mustNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	c := New(io.Discard, LogInfo)
	root := c.RootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommandSubcommands(t *testing.T) {
	root := New(io.Discard, LogInfo).RootCommand()
	want := []string{"install", "add", "remove", "list", "graph", "store", "cache", "completion"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	for alias, name := range map[string]string{"i": "install", "rm": "remove", "ls": "list"} {
		cmd, _, err := root.Find([]string{alias})
		if err != nil || cmd.Name() != name {
			t.Errorf("alias %q should resolve to %q", alias, name)
		}
	}
}

func TestInstallFlags(t *testing.T) {
	root := New(io.Discard, LogInfo).RootCommand()
	inst, _, _ := root.Find([]string{"install"})
	for _, flag := range []string{"prod", "frozen-lockfile", "ignore-lockfile", "refresh"} {
		if inst.Flags().Lookup(flag) == nil {
			t.Errorf("install is missing --%s", flag)
		}
	}
	add, _, _ := root.Find([]string{"add"})
	if add.Flags().Lookup("save-dev") == nil {
		t.Error("add is missing --save-dev")
	}
	if add.Flags().Lookup("frozen-lockfile") != nil {
		t.Error("add should not accept --frozen-lockfile")
	}
}

func TestStorePathCommand(t *testing.T) {
	home := isolate(t)
	out, err := execute(t, "store", "path")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(home, "data", appName, "store")
	if got := strings.TrimSpace(out); got != want {
		t.Errorf("store path = %q, want %q", got, want)
	}
}

func TestStorePathFlag(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	out, err := execute(t, "store", "path", "--store-dir", dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out); got != dir {
		t.Errorf("store path = %q, want %q", got, dir)
	}
}

func TestCachePathCommand(t *testing.T) {
	home := isolate(t)
	out, err := execute(t, "cache", "path")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(home, "cache", appName, "http")
	if got := strings.TrimSpace(out); got != want {
		t.Errorf("cache path = %q, want %q", got, want)
	}
}

func TestClearDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ab/1.json", "ab/2.json", "cd/3.json"} {
		path := filepath.Join(dir, filepath.FromSlash(name))
		mustNil(t, os.MkdirAll(filepath.Dir(path), 0o755))
		mustNil(t, os.WriteFile(path, []byte("{}"), 0o644))
	}

	n, err := clearDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("cleared %d files, want 3", n)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("%d entries left in cache dir", len(entries))
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("cache dir itself should be kept: %v", err)
	}

	if n, err := clearDir(filepath.Join(dir, "missing")); err != nil || n != 0 {
		t.Errorf("clearDir(missing) = %d, %v", n, err)
	}
}

func TestGraphCommand(t *testing.T) {
	isolate(t)
	dir := writeProject(t)

	out, err := execute(t, "graph", "-C", dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"digraph G {", `"a@1.0.0"`, `"t@2.0.0"`} {
		if !strings.Contains(out, want) {
			t.Errorf("graph output missing %s:\n%s", want, out)
		}
	}

	out, err = execute(t, "graph", "-C", dir, "--prod")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, `"t@2.0.0"`) {
		t.Errorf("--prod output should leave out dev dependency t:\n%s", out)
	}
}

func TestGraphCommandErrors(t *testing.T) {
	isolate(t)
	dir := writeProject(t)

	_, err := execute(t, "graph", "-C", dir, "--format", "png")
	if !pmerrors.Is(err, pmerrors.ErrCodeInvalidInput) {
		t.Errorf("unknown format error = %v, want INVALID_INPUT", err)
	}

	mustNil(t, os.Remove(lock.Path(dir)))
	_, err = execute(t, "graph", "-C", dir)
	if !pmerrors.Is(err, pmerrors.ErrCodeNotFound) {
		t.Errorf("missing lockfile error = %v, want NOT_FOUND", err)
	}
}

func TestRenderList(t *testing.T) {
	dir := writeProject(t)
	st, err := install.ProjectStatus(dir)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		opts    listOpts
		want    []string
		notWant []string
	}{
		{
			name:    "roots",
			opts:    listOpts{},
			want:    []string{"demo@1.0.0", "dependencies:", "devDependencies:", "a 1.0.0", "t 2.0.0", "(not linked)"},
			notWant: []string{"b 1.0.0"},
		},
		{
			name: "depth",
			opts: listOpts{depth: 2},
			want: []string{"└── b 1.0.0", "a 1.0.0 (cycle)"},
		},
		{
			name:    "dev only",
			opts:    listOpts{dev: true},
			want:    []string{"t 2.0.0"},
			notWant: []string{"a 1.0.0"},
		},
		{
			name:    "prod only",
			opts:    listOpts{prod: true},
			want:    []string{"a 1.0.0"},
			notWant: []string{"devDependencies:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := renderList(st, tt.opts)
			for _, s := range tt.want {
				if !strings.Contains(out, s) {
					t.Errorf("output missing %q:\n%s", s, out)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(out, s) {
					t.Errorf("output should not contain %q:\n%s", s, out)
				}
			}
		})
	}
}

func TestInstallStatsLine(t *testing.T) {
	stats := &observability.Stats{}
	stats.Fetched.Add(4)
	res := &install.Result{
		Imported: 2,
		Reused:   5,
		Link:     &link.Result{Created: 7, Removed: 1},
	}

	line := installStatsLine(res, stats)
	for _, want := range []string{"2 downloaded", "5 reused", "7 linked", "1 removed", "4 fetched"} {
		if !strings.Contains(line, want) {
			t.Errorf("stats line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "cached") {
		t.Errorf("stats line %q should omit zero cache hits", line)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestVerifyEntries(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var entries []store.Entry
	for _, content := range []string{"one", "two", "three"} {
		src := t.TempDir()
		mustNil(t, os.WriteFile(filepath.Join(src, "index.js"), []byte(content), 0o644))
		e, err := s.Import(src)
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, e)
	}

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())

	bad, err := verifyEntries(cmd, s, entries, 2)
	if err != nil || len(bad) != 0 {
		t.Fatalf("intact store: bad=%v err=%v", bad, err)
	}

	mustNil(t, os.WriteFile(filepath.Join(entries[1].Path, "index.js"), []byte("tampered"), 0o644))
	bad, err = verifyEntries(cmd, s, entries, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(bad) != 1 || bad[0].Hash != entries[1].Hash {
		t.Errorf("bad = %v, want only %s", bad, entries[1].Hash)
	}
}

func TestFormatError(t *testing.T) {
	err := pmerrors.New(pmerrors.ErrCodeLockfileOutdated, "stackpm-lock.toml is missing")
	got := FormatError(err)
	for _, want := range []string{"stackpm-lock.toml is missing", "[LOCKFILE_OUTDATED]"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatError() = %q, missing %q", got, want)
		}
	}

	plain := FormatError(os.ErrPermission)
	if strings.Contains(plain, "[") {
		t.Errorf("FormatError(plain) = %q, should have no code", plain)
	}
}

func TestGraphCommandJSON(t *testing.T) {
	isolate(t)
	dir := writeProject(t)

	out, err := execute(t, "graph", "-C", dir, "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	back, err := graph.ReadGraph(strings.NewReader(out))
	if err != nil {
		t.Fatalf("output is not a graph: %v\n%s", err, out)
	}
	if back.Len() != 3 {
		t.Errorf("json graph has %d nodes, want 3", back.Len())
	}

	out, err = execute(t, "graph", "-C", dir, "--format", "json", "--prod")
	if err != nil {
		t.Fatal(err)
	}
	back, err = graph.ReadGraph(strings.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := back.Root("t"); ok || back.Len() != 2 {
		t.Errorf("--prod json graph should drop dev root t, got %d nodes", back.Len())
	}
}

func TestCompletionCommand(t *testing.T) {
	isolate(t)
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		out, err := execute(t, "completion", shell)
		if err != nil {
			t.Errorf("completion %s: %v", shell, err)
			continue
		}
		if !strings.Contains(out, appName) {
			t.Errorf("completion %s output does not mention %s", shell, appName)
		}
	}

	if _, err := execute(t, "completion", "tcsh"); err == nil {
		t.Error("completion tcsh should fail")
	}
}
