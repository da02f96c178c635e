// Package lock reads and writes stackpm-lock.toml.
//
// A lockfile is a flat, versioned record of a resolved [graph.Graph]: the
// root requirements with the versions they resolved to, and one entry per
// package with its dist info, store content hash and resolved edges. It
// holds everything needed to rebuild the graph without contacting the
// registry.
package lock

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/stackpm/pkg/deps"
	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
	"github.com/matzehuels/stackpm/pkg/graph"
)

// FileName is the lockfile name inside a project.
const FileName = "stackpm-lock.toml"

// Version is the only lockfile format this package reads and writes.
const Version = 1

var (
	// ErrUnsupportedVersion is returned for lockfiles written by a newer or
	// older format.
	ErrUnsupportedVersion = errors.New("unsupported lockfile version")

	// ErrInconsistent is returned when an entry refers to a package the
	// lockfile does not contain.
	ErrInconsistent = errors.New("inconsistent lockfile")
)

// Lockfile is the on-disk lock model.
type Lockfile struct {
	LockfileVersion int       `toml:"lockfile-version"`
	Roots           []Root    `toml:"root"`
	Packages        []Package `toml:"package"`
}

// Root is a locked root requirement.
type Root struct {
	Name      string `toml:"name"`
	Specifier string `toml:"specifier"`
	Version   string `toml:"version"`
	Dev       bool   `toml:"dev"`
}

// Package is one locked package version.
type Package struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Integrity   string `toml:"integrity,omitempty"`
	Tarball     string `toml:"tarball,omitempty"`
	ContentHash string `toml:"content-hash,omitempty"`

	// Dependencies maps each dependency name to its resolved version.
	Dependencies map[string]string `toml:"dependencies,omitempty"`
	// Specifiers maps each dependency name to the range it was declared with.
	Specifiers map[string]string `toml:"specifiers,omitempty"`
}

// Key returns the package's graph identity.
func (p Package) Key() graph.Key { return graph.Key{Name: p.Name, Version: p.Version} }

// FromGraph records g. Packages are sorted by key so the output is stable.
func FromGraph(g *graph.Graph) *Lockfile {
	lf := &Lockfile{LockfileVersion: Version}
	for _, r := range g.Roots() {
		lf.Roots = append(lf.Roots, Root{
			Name:      r.Name,
			Specifier: r.Range,
			Version:   r.Key.Version,
			Dev:       r.Dev,
		})
	}
	for _, n := range g.Nodes() {
		p := Package{
			Name:        n.Name,
			Version:     n.Version,
			Integrity:   n.Dist.Integrity,
			Tarball:     n.Dist.Tarball,
			ContentHash: n.ContentHash,
		}
		for _, e := range n.Edges() {
			if p.Dependencies == nil {
				p.Dependencies = make(map[string]string)
				p.Specifiers = make(map[string]string)
			}
			p.Dependencies[e.Name] = e.To.Version
			p.Specifiers[e.Name] = n.Dependencies[e.Name]
		}
		lf.Packages = append(lf.Packages, p)
	}
	return lf
}

// Graph rebuilds the dependency graph. Edges are added in name order, the
// same order the resolver produces.
func (lf *Lockfile) Graph() (*graph.Graph, error) {
	if lf.LockfileVersion != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, lf.LockfileVersion)
	}

	g := graph.New()
	for _, p := range lf.Packages {
		declared := make(map[string]string, len(p.Dependencies))
		for name := range p.Dependencies {
			declared[name] = p.Specifiers[name]
		}
		if _, err := g.AddNode(graph.Node{
			Key:          p.Key(),
			Dependencies: declared,
			Dist:         graph.Dist{Tarball: p.Tarball, Integrity: p.Integrity},
			ContentHash:  p.ContentHash,
		}); err != nil {
			return nil, fmt.Errorf("%w: package %s: %v", ErrInconsistent, p.Key(), err)
		}
	}

	for _, p := range lf.Packages {
		names := make([]string, 0, len(p.Dependencies))
		for name := range p.Dependencies {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			to := graph.Key{Name: name, Version: p.Dependencies[name]}
			if err := g.AddEdge(p.Key(), name, to); err != nil {
				return nil, fmt.Errorf("%w: %s depends on missing %s", ErrInconsistent, p.Key(), to)
			}
		}
	}

	for _, r := range lf.Roots {
		key := graph.Key{Name: r.Name, Version: r.Version}
		if err := g.AddRoot(graph.RootEdge{Name: r.Name, Range: r.Specifier, Dev: r.Dev, Key: key}); err != nil {
			return nil, fmt.Errorf("%w: root %s: %v", ErrInconsistent, key, err)
		}
	}
	return g, nil
}

// Unsatisfied returns the requirements the locked roots no longer satisfy,
// in input order.
func (lf *Lockfile) Unsatisfied(reqs []deps.Requirement) []deps.Requirement {
	var out []deps.Requirement
	for _, req := range reqs {
		r, ok := lf.root(req.Name)
		if !ok || r.Dev != req.Dev {
			out = append(out, req)
			continue
		}
		edge := graph.RootEdge{Name: r.Name, Range: r.Specifier, Dev: r.Dev, Key: graph.Key{Name: r.Name, Version: r.Version}}
		if !deps.Satisfies(req, edge) {
			out = append(out, req)
		}
	}
	return out
}

// Stale returns the names of locked roots that reqs no longer mention.
func (lf *Lockfile) Stale(reqs []deps.Requirement) []string {
	want := make(map[string]bool, len(reqs))
	for _, req := range reqs {
		want[req.Name] = true
	}
	var out []string
	for _, r := range lf.Roots {
		if !want[r.Name] {
			out = append(out, r.Name)
		}
	}
	return out
}

// Satisfies reports whether the lockfile covers exactly reqs.
func (lf *Lockfile) Satisfies(reqs []deps.Requirement) bool {
	return len(lf.Unsatisfied(reqs)) == 0 && len(lf.Stale(reqs)) == 0
}

func (lf *Lockfile) root(name string) (Root, bool) {
	for _, r := range lf.Roots {
		if r.Name == name {
			return r, true
		}
	}
	return Root{}, false
}

// Read loads the lockfile at path. A missing file yields an error that
// matches fs.ErrNotExist.
func Read(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lockfile: %w", err)
	}
	return Parse(data)
}

// Parse decodes a lockfile and checks its version.
func Parse(data []byte) (*Lockfile, error) {
	var lf Lockfile
	md, err := toml.Decode(string(data), &lf)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.ErrCodeInvalidLockfile, err, "parse lockfile")
	}
	if !md.IsDefined("lockfile-version") {
		return nil, pmerrors.Wrap(pmerrors.ErrCodeInvalidLockfile, ErrUnsupportedVersion, "lockfile has no lockfile-version")
	}
	if lf.LockfileVersion != Version {
		return nil, pmerrors.Wrap(pmerrors.ErrCodeInvalidLockfile,
			fmt.Errorf("%w: %d", ErrUnsupportedVersion, lf.LockfileVersion), "lockfile-version %d", lf.LockfileVersion)
	}
	return &lf, nil
}

const header = "# This file is generated by stackpm. Do not edit it by hand.\n\n"

// Encode renders the lockfile as TOML.
func (lf *Lockfile) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(header)
	if err := toml.NewEncoder(&buf).Encode(lf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write stores the lockfile at path atomically.
func (lf *Lockfile) Write(path string) error {
	data, err := lf.Encode()
	if err != nil {
		return fmt.Errorf("encode lockfile: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(filepath.Base(path), ".toml")+"-*.tmp")
	if err != nil {
		return fmt.Errorf("write lockfile: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write lockfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write lockfile: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write lockfile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename lockfile: %w", err)
	}
	return nil
}

// Path returns the lockfile path for a project directory.
func Path(projectDir string) string { return filepath.Join(projectDir, FileName) }
