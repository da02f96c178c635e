package deps

import (
	"context"
	"errors"
	"slices"
	"sort"

	"github.com/matzehuels/stackpm/pkg/graph"
	"github.com/matzehuels/stackpm/pkg/semver"
)

// DefaultConcurrency is the default number of resolver workers.
const DefaultConcurrency = 16

// ErrNotFound is returned by a [Registry] for packages it does not know.
var ErrNotFound = errors.New("package not found")

// Requirement is a dependency on a name within a version range. The range
// may also be a dist-tag such as "latest".
type Requirement struct {
	Name     string
	Range    string
	Dev      bool // root requirements from devDependencies
	Optional bool // transitive requirements from optionalDependencies
}

// Version is the registry metadata of one published version.
type Version struct {
	Version              string
	Dependencies         map[string]string
	OptionalDependencies map[string]string
	PeerDependencies     map[string]string // recorded, never resolved
	Dist                 graph.Dist
}

// Requirements returns the version's dependencies sorted by name. An entry
// listed under both maps is treated as optional.
func (v *Version) Requirements() []Requirement {
	reqs := make([]Requirement, 0, len(v.Dependencies)+len(v.OptionalDependencies))
	for name, rng := range v.Dependencies {
		if _, opt := v.OptionalDependencies[name]; !opt {
			reqs = append(reqs, Requirement{Name: name, Range: rng})
		}
	}
	for name, rng := range v.OptionalDependencies {
		reqs = append(reqs, Requirement{Name: name, Range: rng, Optional: true})
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Name < reqs[j].Name })
	return reqs
}

// Packument lists every published version of a package and its dist-tags.
type Packument struct {
	Name     string
	Versions map[string]*Version
	DistTags map[string]string
}

// VersionList returns the published version strings, sorted.
func (p *Packument) VersionList() []string {
	out := make([]string, 0, len(p.Versions))
	for v := range p.Versions {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Registry is the metadata source the resolver depends on.
type Registry interface {
	// Packument returns all versions and dist-tags of name. Unknown packages
	// must return an error wrapping [ErrNotFound]. If refresh is true,
	// cached data is bypassed.
	Packument(ctx context.Context, name string, refresh bool) (*Packument, error)
}

// Options configures dependency resolution behavior.
type Options struct {
	Concurrency int                  // worker count (default: 16)
	Refresh     bool                 // bypass cached registry metadata
	Locked      *graph.Graph         // previous graph to prefer (optional)
	Logger      func(string, ...any) // progress/error callback (optional)
}

// WithDefaults returns a copy of Options with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	opts := o
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = func(string, ...any) {}
	}
	return opts
}

// Satisfies reports whether a locked root edge can be kept for req: the
// specifier is unchanged, or it is a semver range that allows the locked
// version.
func Satisfies(req Requirement, locked graph.RootEdge) bool {
	if req.Range == locked.Range {
		return true
	}
	r, err := semver.ParseRange(req.Range)
	if err != nil || r.IsTag() {
		return false
	}
	return r.Allows(locked.Key.Version)
}
