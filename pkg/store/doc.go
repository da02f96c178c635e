// Package store implements the content-addressable package store.
//
// Each distinct package content is kept exactly once, under the SHA-256 hash
// of its normalized file tree (see [HashDir]). Graph identity (name@version)
// never appears in the layout: two versions with identical files share one
// entry, and one version can only ever map to the entry its content hashes to.
//
// # Layout
//
//	<root>/v1/files/<hh>/<rest-of-hash>/...   imported package trees
//	<root>/v1/tmp/<uuid>/                      staging, same filesystem
//	<root>/v1/index/<hh>/<rest-of-hash>/<pkg>  one marker per name@version seen
//	<root>/v1/integrity/<hh>/<rest>            content hash per tarball integrity
//
// Entries appear atomically: [Store.Ensure] copies into a staging directory,
// re-hashes the copy and renames it into place. A writer that loses the
// rename race to another process discards its copy and returns the winner's
// entry, so concurrent installs sharing a store never observe a partial
// entry.
package store
