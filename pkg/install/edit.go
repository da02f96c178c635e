package install

import (
	"context"
	"errors"
	"io/fs"

	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
	"github.com/matzehuels/stackpm/pkg/graph"
	"github.com/matzehuels/stackpm/pkg/link"
	"github.com/matzehuels/stackpm/pkg/lock"
	"github.com/matzehuels/stackpm/pkg/manifest"
)

// Add installs specs such as "lodash" or "@types/node@^20" and records them
// in package.json, under devDependencies when dev is set. Specs without a
// range resolve the latest tag and are saved with a caret on the resolved
// version.
func (r *Runner) Add(ctx context.Context, dir string, specs []string, dev bool, opts Options) (*Result, error) {
	if len(specs) == 0 {
		return nil, pmerrors.New(pmerrors.ErrCodeInvalidInput, "no packages to add")
	}
	m, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}

	edited := m.Clone()
	requested := make(map[string]string, len(specs))
	var order []string
	for _, spec := range specs {
		name, rng, err := manifest.ParseSpec(spec)
		if err != nil {
			return nil, err
		}
		if _, dup := requested[name]; !dup {
			order = append(order, name)
		}
		requested[name] = rng
		if rng == "" {
			rng = "latest"
		}
		edited.Add(name, rng, dev)
	}

	res, err := r.run(ctx, dir, edited, opts, func(g *graph.Graph) error {
		for _, name := range order {
			root, ok := g.Root(name)
			if !ok {
				return pmerrors.New(pmerrors.ErrCodeInternal, "%s missing from resolved graph", name)
			}
			saved := manifest.SavedRange(requested[name], root.Key.Version)
			edited.Add(name, saved, dev)
			g.SetRootRange(name, saved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := edited.Save(); err != nil {
		return nil, err
	}
	for _, name := range order {
		root, _ := res.Graph.Root(name)
		r.Logger.Info("added", "package", root.Key.String(), "range", root.Range, "dev", dev)
	}
	return res, nil
}

// Remove drops names from package.json and reinstalls, removing links that
// are no longer needed. Every name must be a declared dependency.
func (r *Runner) Remove(ctx context.Context, dir string, names []string, opts Options) (*Result, error) {
	if len(names) == 0 {
		return nil, pmerrors.New(pmerrors.ErrCodeInvalidInput, "no packages to remove")
	}
	m, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}
	edited := m.Clone()
	for _, name := range names {
		if !edited.Remove(name) {
			return nil, pmerrors.New(pmerrors.ErrCodeNotFound, "%s is not a dependency of this project", name)
		}
	}

	res, err := r.run(ctx, dir, edited, opts, nil)
	if err != nil {
		return nil, err
	}
	if err := edited.Save(); err != nil {
		return nil, err
	}
	return res, nil
}

// Status describes a project's lockfile and link state.
type Status struct {
	Manifest *manifest.Manifest

	// Graph is the locked graph, nil when there is no lockfile.
	Graph *graph.Graph

	// Links reports each locked root; empty when there is no lockfile.
	Links []link.Status

	// Linked is false when node_modules was never linked by stackpm.
	Linked bool

	// UpToDate reports whether the lockfile covers package.json exactly.
	UpToDate bool
}

// ProjectStatus reads the state of the project in dir without touching the
// network or the filesystem.
func ProjectStatus(dir string) (*Status, error) {
	m, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}
	st := &Status{Manifest: m, Linked: link.State(dir) != nil}

	lf, err := lock.Read(lock.Path(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	if st.Graph, err = lf.Graph(); err != nil {
		return nil, pmerrors.Wrap(pmerrors.ErrCodeInvalidLockfile, err, "read %s", lock.FileName)
	}
	st.Links = link.Inspect(dir, st.Graph)
	st.UpToDate = lf.Satisfies(m.Requirements(true))
	return st, nil
}
