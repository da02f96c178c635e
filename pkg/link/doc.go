// Package link materializes a resolved dependency graph as an isolated
// node_modules tree.
//
// Every package version gets its own directory in the virtual store:
//
//	node_modules/.stackpm/<name>@<version>/node_modules/<name>     package files
//	node_modules/.stackpm/<name>@<version>/node_modules/<dep>      symlink
//	node_modules/<root-dep>                                         symlink
//
// Package files are imported from the content-addressable store (hardlinks,
// or copies where hardlinks are unavailable). A package's own node_modules
// holds exactly its declared dependencies, so it can never require a package
// it did not ask for, and two versions of the same name coexist without
// conflict. Scoped names replace "/" with "+" in the virtual store directory.
//
// With hoisting enabled, names not claimed by a root dependency also get a
// top-level node_modules/<name> link, claimed breadth-first from the roots.
//
// The applied [Plan] is saved as node_modules/.stackpm/state.json. The next
// [Linker.Link] compares against it: stale entries are removed, identical
// intact entries are left alone and everything else is created. Entries the
// linker did not create are never touched.
package link
