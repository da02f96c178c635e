package install

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/stackpm/internal/registrytest"
	"github.com/matzehuels/stackpm/pkg/deps/javascript"
	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
	"github.com/matzehuels/stackpm/pkg/graph"
	"github.com/matzehuels/stackpm/pkg/integrations/npm"
	"github.com/matzehuels/stackpm/pkg/integrity"
	"github.com/matzehuels/stackpm/pkg/link"
	"github.com/matzehuels/stackpm/pkg/lock"
	"github.com/matzehuels/stackpm/pkg/manifest"
	"github.com/matzehuels/stackpm/pkg/observability"
	"github.com/matzehuels/stackpm/pkg/store"
	"github.com/matzehuels/stackpm/pkg/tarball"
)

type fixture struct {
	t     *testing.T
	reg   *registrytest.Registry
	store *store.Store
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{t: t, reg: registrytest.New(t), store: st, dir: t.TempDir()}
}

// runner builds a fresh runner, as a new process would.
func (f *fixture) runner() *Runner {
	client := npm.NewClient(npm.Options{Registry: f.reg.URL()})
	client.WithHTTPClient(f.reg.Client()).WithRetry(2, time.Millisecond)
	return NewRunner(
		javascript.NewRegistry(client),
		tarball.NewFetcher(client, f.t.TempDir()),
		f.store,
		link.New(f.store, link.DefaultOptions()),
		log.New(io.Discard),
	)
}

func (f *fixture) publish(name, ver string, deps ...string) {
	p := registrytest.Package{Name: name, Version: ver, Dependencies: map[string]string{}}
	for i := 0; i+1 < len(deps); i += 2 {
		p.Dependencies[deps[i]] = deps[i+1]
	}
	f.reg.Publish(p)
}

func (f *fixture) writeManifest(content string) {
	f.t.Helper()
	if err := os.WriteFile(filepath.Join(f.dir, manifest.FileName), []byte(content), 0o644); err != nil {
		f.t.Fatal(err)
	}
}

func (f *fixture) manifest() *manifest.Manifest {
	f.t.Helper()
	m, err := manifest.Load(f.dir)
	if err != nil {
		f.t.Fatal(err)
	}
	return m
}

func (f *fixture) lockfile() *lock.Lockfile {
	f.t.Helper()
	lf, err := lock.Read(lock.Path(f.dir))
	if err != nil {
		f.t.Fatal(err)
	}
	return lf
}

func (f *fixture) install(opts Options) *Result {
	f.t.Helper()
	res, err := f.runner().Install(context.Background(), f.dir, opts)
	if err != nil {
		f.t.Fatalf("Install: %v", err)
	}
	return res
}

func (f *fixture) exists(rel string) bool {
	_, err := os.Lstat(filepath.Join(f.dir, filepath.FromSlash(rel)))
	return err == nil
}

func (f *fixture) readFile(rel string) string {
	f.t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dir, filepath.FromSlash(rel)))
	if err != nil {
		f.t.Fatal(err)
	}
	return string(data)
}

// standard publishes a -> b, a dev-only c and a newer b that a allows.
func (f *fixture) standard() {
	f.publish("a", "1.0.0", "b", "^1.0.0")
	f.publish("b", "1.0.0")
	f.publish("b", "1.1.0")
	f.publish("c", "1.0.0")
	f.writeManifest(`{
  "name": "app",
  "dependencies": {"a": "^1.0.0"},
  "devDependencies": {"c": "*"}
}
`)
}

func TestInstall(t *testing.T) {
	f := newFixture(t)
	f.standard()

	res := f.install(Options{})
	if res.Imported != 3 || res.Reused != 0 {
		t.Errorf("Imported, Reused = %d, %d; want 3, 0", res.Imported, res.Reused)
	}
	if !res.LockfileWritten {
		t.Error("lockfile not written")
	}
	if got := f.readFile("node_modules/a/package.json"); got == "" {
		t.Error("node_modules/a/package.json is empty")
	}
	if !f.exists("node_modules/.stackpm/b@1.1.0/node_modules/b") {
		t.Error("b@1.1.0 not in the virtual store")
	}
	if !f.exists("node_modules/.stackpm/a@1.0.0/node_modules/b") {
		t.Error("a cannot see its dependency b")
	}
	if !f.exists("node_modules/c") {
		t.Error("dev dependency c not linked")
	}

	lf := f.lockfile()
	if len(lf.Packages) != 3 {
		t.Fatalf("locked packages = %d, want 3", len(lf.Packages))
	}
	for _, p := range lf.Packages {
		if p.ContentHash == "" || !f.store.Has(p.ContentHash) {
			t.Errorf("%s: content hash %q not in store", p.Key(), p.ContentHash)
		}
		if p.Integrity != f.reg.Integrity(p.Name, p.Version) {
			t.Errorf("%s: integrity = %q", p.Key(), p.Integrity)
		}
	}
}

type resolveCounter struct {
	observability.NoopInstallHooks
	starts    atomic.Int64
	completes atomic.Int64
}

func (c *resolveCounter) OnResolveStart(context.Context, int) { c.starts.Add(1) }

func (c *resolveCounter) OnResolveComplete(context.Context, int, time.Duration, error) {
	c.completes.Add(1)
}

func TestInstallReportsResolveOnce(t *testing.T) {
	counter := &resolveCounter{}
	observability.SetInstallHooks(counter)
	t.Cleanup(observability.Reset)

	f := newFixture(t)
	f.standard()
	f.install(Options{})
	f.install(Options{})

	if got := counter.starts.Load(); got != 2 {
		t.Errorf("OnResolveStart called %d times over two installs, want 2", got)
	}
	if got := counter.completes.Load(); got != 2 {
		t.Errorf("OnResolveComplete called %d times over two installs, want 2", got)
	}
}

func TestInstallPrefersLockfile(t *testing.T) {
	f := newFixture(t)
	f.standard()
	f.install(Options{})
	before, _ := os.ReadFile(lock.Path(f.dir))

	f.publish("b", "1.2.0")
	res := f.install(Options{})

	if res.Imported != 0 || res.Reused != 3 {
		t.Errorf("Imported, Reused = %d, %d; want 0, 3", res.Imported, res.Reused)
	}
	if res.LockfileWritten {
		t.Error("unchanged lockfile was rewritten")
	}
	if got := f.reg.Fetches("a"); got != 1 {
		t.Errorf("packument of a fetched %d times, want 1", got)
	}
	if got := f.reg.Downloads("b", "1.1.0"); got != 1 {
		t.Errorf("b@1.1.0 downloaded %d times, want 1", got)
	}
	if res.Link.Created != 0 {
		t.Errorf("relink created %d entries, want 0", res.Link.Created)
	}
	after, _ := os.ReadFile(lock.Path(f.dir))
	if string(before) != string(after) {
		t.Error("lockfile content changed")
	}

	res = f.install(Options{IgnoreLockfile: true})
	if _, ok := res.Graph.Node(graph.Key{Name: "b", Version: "1.2.0"}); !ok {
		t.Error("ignoring the lockfile should pick up b@1.2.0")
	}
}

func TestInstallReusesStoreAcrossProjects(t *testing.T) {
	f := newFixture(t)
	f.standard()
	f.install(Options{})

	// A second project with no lockfile, sharing the registry and store.
	other := &fixture{t: t, reg: f.reg, store: f.store, dir: t.TempDir()}
	other.writeManifest(f.readFile(manifest.FileName))
	res := other.install(Options{})

	if res.Imported != 0 || res.Reused != 3 {
		t.Errorf("Imported, Reused = %d, %d; want 0, 3", res.Imported, res.Reused)
	}
	for _, id := range [][2]string{{"a", "1.0.0"}, {"b", "1.1.0"}, {"c", "1.0.0"}} {
		if got := f.reg.Downloads(id[0], id[1]); got != 1 {
			t.Errorf("%s@%s downloaded %d times, want 1", id[0], id[1], got)
		}
	}
	if got := other.readFile("node_modules/a/package.json"); got == "" {
		t.Error("node_modules/a/package.json is empty")
	}
	for _, p := range other.lockfile().Packages {
		if p.ContentHash == "" || !f.store.Has(p.ContentHash) {
			t.Errorf("%s: content hash %q not in store", p.Key(), p.ContentHash)
		}
	}
}

func TestInstallDedupesByIdentity(t *testing.T) {
	f := newFixture(t)
	f.publish("a", "1.0.0", "shared", "^1.0.0")
	f.publish("b", "1.0.0", "shared", "~1.0.0")
	f.publish("shared", "1.0.0")
	f.writeManifest(`{"dependencies": {"a": "1.0.0", "b": "1.0.0"}}`)

	res := f.install(Options{})
	if res.Graph.Len() != 3 {
		t.Errorf("graph has %d nodes, want 3", res.Graph.Len())
	}
	if got := f.reg.Downloads("shared", "1.0.0"); got != 1 {
		t.Errorf("shared downloaded %d times, want 1", got)
	}
	if got := f.reg.Fetches("shared"); got != 1 {
		t.Errorf("shared packument fetched %d times, want 1", got)
	}
}

func TestInstallRetriesCorruptDownload(t *testing.T) {
	f := newFixture(t)
	f.standard()
	f.reg.CorruptNext("b", "1.1.0", 1)

	f.install(Options{})
	if got := f.reg.Downloads("b", "1.1.0"); got != 2 {
		t.Errorf("b downloaded %d times, want 2", got)
	}
}

func TestInstallCorruptDownloadFails(t *testing.T) {
	f := newFixture(t)
	f.standard()
	f.reg.CorruptNext("b", "1.1.0", downloadAttempts)

	_, err := f.runner().Install(context.Background(), f.dir, Options{})
	if !errors.Is(err, integrity.ErrMismatch) {
		t.Fatalf("err = %v, want integrity mismatch", err)
	}
	if f.exists(lock.FileName) {
		t.Error("lockfile written after a failed install")
	}
	if f.exists("node_modules/a") {
		t.Error("node_modules linked after a failed install")
	}
}

func TestInstallFrozenLockfile(t *testing.T) {
	f := newFixture(t)
	f.standard()

	_, err := f.runner().Install(context.Background(), f.dir, Options{FrozenLockfile: true})
	if pmerrors.GetCode(err) != pmerrors.ErrCodeLockfileOutdated {
		t.Fatalf("without lockfile: err = %v, want %s", err, pmerrors.ErrCodeLockfileOutdated)
	}

	f.install(Options{})
	fetches := f.reg.Fetches("a")
	res := f.install(Options{FrozenLockfile: true})
	if res.LockfileWritten || f.reg.Fetches("a") != fetches {
		t.Error("frozen install touched the registry or the lockfile")
	}

	f.publish("d", "1.0.0")
	f.writeManifest(`{"dependencies": {"a": "^1.0.0", "d": "^1.0.0"}, "devDependencies": {"c": "*"}}`)
	_, err = f.runner().Install(context.Background(), f.dir, Options{FrozenLockfile: true})
	if pmerrors.GetCode(err) != pmerrors.ErrCodeLockfileOutdated {
		t.Fatalf("new dependency: err = %v, want %s", err, pmerrors.ErrCodeLockfileOutdated)
	}
	if f.exists("node_modules/d") {
		t.Error("frozen install linked an unlocked dependency")
	}

	_, err = f.runner().Install(context.Background(), f.dir, Options{FrozenLockfile: true, IgnoreLockfile: true})
	if pmerrors.GetCode(err) != pmerrors.ErrCodeInvalidInput {
		t.Errorf("conflicting flags: err = %v", err)
	}
}

func TestInstallProduction(t *testing.T) {
	f := newFixture(t)
	f.standard()

	f.install(Options{Production: true})
	if f.exists("node_modules/c") {
		t.Error("dev dependency linked in production mode")
	}
	if !f.exists("node_modules/a") {
		t.Error("production dependency missing")
	}
	if got := f.reg.Downloads("c", "1.0.0"); got != 0 {
		t.Errorf("dev dependency downloaded %d times", got)
	}
	g, err := f.lockfile().Graph()
	if err != nil {
		t.Fatal(err)
	}
	if r, ok := g.Root("c"); !ok || !r.Dev {
		t.Error("dev dependency missing from lockfile")
	}

	// A full install afterwards links c without touching the rest.
	res := f.install(Options{})
	if !f.exists("node_modules/c") {
		t.Error("c not linked by full install")
	}
	if res.Imported != 1 {
		t.Errorf("Imported = %d, want 1", res.Imported)
	}
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	f.standard()
	f.install(Options{})

	if _, err := f.runner().Remove(context.Background(), f.dir, []string{"a"}, Options{}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	for _, gone := range []string{
		"node_modules/a",
		"node_modules/b",
		"node_modules/.stackpm/a@1.0.0",
		"node_modules/.stackpm/b@1.1.0",
	} {
		if f.exists(gone) {
			t.Errorf("%s still exists", gone)
		}
	}
	if !f.exists("node_modules/c") {
		t.Error("unrelated dependency c was removed")
	}
	if f.manifest().Has("a") {
		t.Error("a still in package.json")
	}
	if len(f.lockfile().Packages) != 1 {
		t.Errorf("lockfile still has %d packages", len(f.lockfile().Packages))
	}
}

func TestRemoveUnknown(t *testing.T) {
	f := newFixture(t)
	f.standard()
	before := f.readFile(manifest.FileName)

	_, err := f.runner().Remove(context.Background(), f.dir, []string{"nope"}, Options{})
	if pmerrors.GetCode(err) != pmerrors.ErrCodeNotFound {
		t.Fatalf("err = %v, want %s", err, pmerrors.ErrCodeNotFound)
	}
	if f.readFile(manifest.FileName) != before {
		t.Error("package.json changed")
	}
}

func TestAdd(t *testing.T) {
	f := newFixture(t)
	f.standard()
	f.publish("d", "2.3.0")
	f.publish("e", "1.0.0")
	f.publish("e", "1.5.0")

	_, err := f.runner().Add(context.Background(), f.dir, []string{"d", "e@~1.0.0"}, false, Options{})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	m := f.manifest()
	if m.Dependencies["d"] != "^2.3.0" || m.Dependencies["e"] != "~1.0.0" {
		t.Errorf("dependencies = %v", m.Dependencies)
	}
	if !f.exists("node_modules/d") || !f.exists("node_modules/.stackpm/e@1.0.0") {
		t.Error("added packages not linked")
	}

	g, err := f.lockfile().Graph()
	if err != nil {
		t.Fatal(err)
	}
	if r, _ := g.Root("d"); r.Range != "^2.3.0" {
		t.Errorf("locked specifier for d = %q, want ^2.3.0", r.Range)
	}
	if !f.lockfile().Satisfies(m.Requirements(true)) {
		t.Error("lockfile does not match the saved manifest")
	}

	if _, err := f.runner().Add(context.Background(), f.dir, []string{"a"}, true, Options{}); err != nil {
		t.Fatal(err)
	}
	m = f.manifest()
	if _, ok := m.Dependencies["a"]; ok || m.DevDependencies["a"] != "^1.0.0" {
		t.Errorf("a not moved to devDependencies: %v / %v", m.Dependencies, m.DevDependencies)
	}
}

func TestAddFailureKeepsManifest(t *testing.T) {
	f := newFixture(t)
	f.standard()
	before := f.readFile(manifest.FileName)

	_, err := f.runner().Add(context.Background(), f.dir, []string{"missing"}, false, Options{})
	if pmerrors.GetCode(err) != pmerrors.ErrCodePackageNotFound {
		t.Fatalf("err = %v, want %s", err, pmerrors.ErrCodePackageNotFound)
	}
	if f.readFile(manifest.FileName) != before {
		t.Error("package.json changed after a failed add")
	}
	if f.exists(lock.FileName) {
		t.Error("lockfile written after a failed add")
	}

	_, err = f.runner().Add(context.Background(), f.dir, []string{"x@"}, false, Options{})
	if pmerrors.GetCode(err) != pmerrors.ErrCodeInvalidSpec {
		t.Errorf("bad spec: err = %v", err)
	}
}

func TestProjectStatus(t *testing.T) {
	f := newFixture(t)
	f.standard()

	st, err := ProjectStatus(f.dir)
	if err != nil {
		t.Fatal(err)
	}
	if st.Graph != nil || st.Linked || st.UpToDate {
		t.Errorf("fresh project: %+v", st)
	}

	f.install(Options{})
	if err := os.Remove(filepath.Join(f.dir, "node_modules", "c")); err != nil {
		t.Fatal(err)
	}
	st, err = ProjectStatus(f.dir)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Linked || !st.UpToDate {
		t.Errorf("installed project: Linked=%v UpToDate=%v", st.Linked, st.UpToDate)
	}
	states := map[string]link.LinkState{}
	for _, l := range st.Links {
		states[l.Name] = l.State
	}
	if states["a"] != link.Linked || states["c"] != link.Missing {
		t.Errorf("link states = %v", states)
	}
}

func TestProjectStatusNoManifest(t *testing.T) {
	_, err := ProjectStatus(t.TempDir())
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want fs.ErrNotExist", err)
	}
}
