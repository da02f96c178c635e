// Package npm provides an HTTP client for the npm registry API.
//
// # Overview
//
// [Client.FetchPackument] fetches the registry document for a package: every
// published version with its dependency maps and dist info, plus the
// dist-tags. Requests ask for the abbreviated install format ("corgi") and
// fall back to full JSON when the registry ignores the Accept header.
//
// # Usage
//
//	client := npm.NewClient(npm.Options{Cache: c, TTL: 5 * time.Minute})
//	doc, err := client.FetchPackument(ctx, "@babel/core", false)
//	if errors.Is(err, integrations.ErrNotFound) {
//	    // no such package
//	}
//
// # Caching
//
// Packuments are cached through [cache.Cache] under a key scoped by registry
// URL. Pass refresh=true to bypass the cache.
//
// [cache.Cache]: github.com/matzehuels/stackpm/pkg/cache.Cache
package npm
