// Package install runs the install pipeline for one project.
//
// An install reads package.json, prefers the versions pinned in
// stackpm-lock.toml, resolves whatever the lockfile no longer covers, fills
// the content-addressable store, links node_modules and finally writes the
// lockfile. The lockfile is only written when every earlier step succeeded,
// so a failed install never leaves a lockfile describing a tree that was not
// built.
//
// # Usage
//
//	runner := install.NewRunner(registry, fetcher, st, linker, logger)
//	res, err := runner.Install(ctx, "/path/to/project", install.Options{})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Graph.Len(), "packages")
//
// Add and Remove edit package.json around an install; the manifest is saved
// only after the install succeeds.
package install

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/stackpm/pkg/deps"
	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
	"github.com/matzehuels/stackpm/pkg/graph"
	"github.com/matzehuels/stackpm/pkg/integrity"
	"github.com/matzehuels/stackpm/pkg/link"
	"github.com/matzehuels/stackpm/pkg/lock"
	"github.com/matzehuels/stackpm/pkg/manifest"
	"github.com/matzehuels/stackpm/pkg/store"
)

// Options configures one install.
type Options struct {
	Production     bool // link only dependencies and optionalDependencies
	FrozenLockfile bool // fail instead of changing the lockfile
	IgnoreLockfile bool // resolve everything against the registry
	Refresh        bool // bypass cached registry metadata
	Concurrency    int  // resolver workers and parallel imports (default: 16)
}

// WithDefaults returns a copy of Options with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	opts := o
	if opts.Concurrency <= 0 {
		opts.Concurrency = deps.DefaultConcurrency
	}
	return opts
}

// Downloader fetches a tarball, checks it against want and unpacks it into
// dest. [tarball.Fetcher] is the production implementation.
type Downloader interface {
	Fetch(ctx context.Context, url string, want integrity.Integrity, dest string) error
}

// Runner wires the pipeline stages together. A Runner holds no per-project
// state; one Runner can install several projects concurrently.
type Runner struct {
	Registry deps.Registry
	Tarballs Downloader
	Store    *store.Store
	Linker   *link.Linker
	Logger   *log.Logger
}

// NewRunner creates a runner. A nil logger uses log.Default().
func NewRunner(registry deps.Registry, tarballs Downloader, s *store.Store, l *link.Linker, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Registry: registry,
		Tarballs: tarballs,
		Store:    s,
		Linker:   l,
		Logger:   logger,
	}
}

// Result summarizes an install.
type Result struct {
	// Graph is the full resolved graph, dev dependencies included, exactly
	// as it was written to the lockfile.
	Graph *graph.Graph

	Link *link.Result

	Imported int // packages downloaded into the store
	Reused   int // packages already in the store

	LockfileWritten bool
	Duration        time.Duration
}

// Install installs the project in dir.
func (r *Runner) Install(ctx context.Context, dir string, opts Options) (*Result, error) {
	m, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}
	return r.run(ctx, dir, m, opts, nil)
}

// run installs m into dir. beforeLock, if set, may adjust the graph right
// before the lockfile is written.
func (r *Runner) run(ctx context.Context, dir string, m *manifest.Manifest, opts Options, beforeLock func(*graph.Graph) error) (*Result, error) {
	start := time.Now()
	opts = opts.WithDefaults()
	reqs := m.Requirements(true)

	locked, err := r.readLock(dir, opts)
	if err != nil {
		return nil, err
	}

	var g *graph.Graph
	if opts.FrozenLockfile {
		g, err = frozenGraph(locked, reqs)
	} else {
		g, err = r.resolve(ctx, reqs, locked, opts)
	}
	if err != nil {
		return nil, err
	}

	result := &Result{Graph: g}
	for _, w := range g.Cycles() {
		r.Logger.Debug("dependency cycle", "path", w.String())
	}

	targets := g.Nodes()
	if opts.Production {
		targets = productionNodes(g)
	}
	result.Imported, result.Reused, err = r.populate(ctx, targets, opts.Concurrency)
	if err != nil {
		return nil, err
	}
	r.Logger.Info("populated store", "imported", result.Imported, "reused", result.Reused)

	linkGraph := g
	if opts.Production {
		if linkGraph, err = g.Production(); err != nil {
			return nil, err
		}
	}
	result.Link, err = r.Linker.Link(ctx, linkGraph, dir)
	if err != nil {
		return nil, err
	}
	r.Logger.Info("linked node_modules",
		"created", result.Link.Created,
		"removed", result.Link.Removed,
		"unchanged", result.Link.Unchanged)

	if !opts.FrozenLockfile {
		if beforeLock != nil {
			if err := beforeLock(g); err != nil {
				return nil, err
			}
		}
		result.LockfileWritten, err = writeLock(dir, g)
		if err != nil {
			return nil, err
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// readLock returns the locked graph, or nil when there is none to use.
func (r *Runner) readLock(dir string, opts Options) (*lock.Lockfile, error) {
	if opts.IgnoreLockfile {
		if opts.FrozenLockfile {
			return nil, pmerrors.New(pmerrors.ErrCodeInvalidInput, "--frozen-lockfile and --ignore-lockfile are mutually exclusive")
		}
		return nil, nil
	}
	lf, err := lock.Read(lock.Path(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return lf, err
}

func (r *Runner) resolve(ctx context.Context, reqs []deps.Requirement, lf *lock.Lockfile, opts Options) (*graph.Graph, error) {
	var locked *graph.Graph
	if lf != nil {
		var err error
		if locked, err = lf.Graph(); err != nil {
			return nil, pmerrors.Wrap(pmerrors.ErrCodeInvalidLockfile, err, "read %s", lock.FileName)
		}
	}

	start := time.Now()
	g, err := deps.NewResolver(r.Registry).Resolve(ctx, reqs, deps.Options{
		Concurrency: opts.Concurrency,
		Refresh:     opts.Refresh,
		Locked:      locked,
		Logger:      r.Logger.Debugf,
	})
	if err != nil {
		return nil, err
	}
	r.Logger.Info("resolved dependencies", "packages", g.Len(), "duration", time.Since(start).Round(time.Millisecond))
	return g, nil
}

// frozenGraph returns the locked graph when it covers reqs exactly.
func frozenGraph(lf *lock.Lockfile, reqs []deps.Requirement) (*graph.Graph, error) {
	if lf == nil {
		return nil, pmerrors.New(pmerrors.ErrCodeLockfileOutdated, "%s is missing", lock.FileName)
	}
	if !lf.Satisfies(reqs) {
		var names []string
		for _, req := range lf.Unsatisfied(reqs) {
			names = append(names, req.Name+"@"+req.Range)
		}
		for _, name := range lf.Stale(reqs) {
			names = append(names, name+" (removed)")
		}
		return nil, pmerrors.New(pmerrors.ErrCodeLockfileOutdated,
			"%s is out of date with %s: %s", lock.FileName, manifest.FileName, strings.Join(names, ", "))
	}
	g, err := lf.Graph()
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.ErrCodeInvalidLockfile, err, "read %s", lock.FileName)
	}
	return g, nil
}

// productionNodes returns the nodes reachable from non-dev roots, sorted by key.
func productionNodes(g *graph.Graph) []*graph.Node {
	seen := make(map[graph.Key]bool)
	for _, root := range g.Roots() {
		if root.Dev {
			continue
		}
		for _, k := range g.Reachable(root.Key) {
			seen[k] = true
		}
	}
	var out []*graph.Node
	for _, n := range g.Nodes() {
		if seen[n.Key] {
			out = append(out, n)
		}
	}
	return out
}

// writeLock writes the lockfile for g unless the file already has exactly
// that content. It reports whether the file changed.
func writeLock(dir string, g *graph.Graph) (bool, error) {
	lf := lock.FromGraph(g)
	data, err := lf.Encode()
	if err != nil {
		return false, fmt.Errorf("encode lockfile: %w", err)
	}
	path := lock.Path(dir)
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err := lf.Write(path); err != nil {
		return false, err
	}
	return true, nil
}
