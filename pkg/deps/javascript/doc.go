// Package javascript connects the resolver to the npm registry.
//
// [Registry] adapts an [npm.Client] to the [deps.Registry] contract: it
// converts packuments, maps "package does not exist" onto [deps.ErrNotFound]
// and normalizes dist info (falling back from dist.integrity to the legacy
// dist.shasum).
//
//	client := npm.NewClient(npm.Options{Cache: c})
//	resolver := deps.NewResolver(javascript.NewRegistry(client))
//	g, err := resolver.Resolve(ctx, reqs, deps.Options{})
//
// [npm.Client]: github.com/matzehuels/stackpm/pkg/integrations/npm.Client
// [deps.Registry]: github.com/matzehuels/stackpm/pkg/deps.Registry
// [deps.ErrNotFound]: github.com/matzehuels/stackpm/pkg/deps.ErrNotFound
package javascript
