package javascript

import (
	"context"
	"errors"
	"fmt"

	"github.com/matzehuels/stackpm/pkg/deps"
	"github.com/matzehuels/stackpm/pkg/graph"
	"github.com/matzehuels/stackpm/pkg/integrations"
	"github.com/matzehuels/stackpm/pkg/integrations/npm"
	"github.com/matzehuels/stackpm/pkg/integrity"
)

// Registry implements [deps.Registry] on top of the npm client.
type Registry struct {
	client *npm.Client
}

// NewRegistry wraps client.
func NewRegistry(client *npm.Client) *Registry {
	return &Registry{client: client}
}

// Packument fetches and converts the packument for name.
func (r *Registry) Packument(ctx context.Context, name string, refresh bool) (*deps.Packument, error) {
	doc, err := r.client.FetchPackument(ctx, name, refresh)
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", deps.ErrNotFound, name)
		}
		return nil, err
	}
	return convert(doc), nil
}

func convert(doc *npm.Packument) *deps.Packument {
	p := &deps.Packument{
		Name:     doc.Name,
		Versions: make(map[string]*deps.Version, len(doc.Versions)),
		DistTags: doc.DistTags,
	}
	for ver, m := range doc.Versions {
		if m == nil {
			continue
		}
		p.Versions[ver] = &deps.Version{
			Version:              ver,
			Dependencies:         m.Dependencies,
			OptionalDependencies: m.OptionalDependencies,
			PeerDependencies:     m.PeerDependencies,
			Dist: graph.Dist{
				Tarball:   m.Dist.Tarball,
				Integrity: normalizeIntegrity(m.Dist),
			},
		}
	}
	return p
}

// normalizeIntegrity prefers the SRI string and converts a legacy shasum to
// SRI form so downstream code has one format to check.
func normalizeIntegrity(d npm.Dist) string {
	if d.Integrity != "" {
		return d.Integrity
	}
	if i, err := integrity.FromShasum(d.Shasum); err == nil {
		return i.String()
	}
	return ""
}
