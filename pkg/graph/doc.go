// Package graph holds a resolved dependency graph.
//
// A [Graph] is an arena of [Node]s keyed by [Key] (package name plus exact
// version). No two nodes share a key, so every package version appears once
// no matter how many dependents require it. Edges are stored as key
// references rather than pointers: a dependency cycle is just an edge back to
// a key that already exists, and walking the graph never recurses forever.
//
// The graph also records the project's root edges in manifest order. Root
// order and per-node edge insertion order are preserved because hoisting and
// printing depend on them.
//
// # Concurrency
//
// A Graph is not safe for concurrent mutation. The resolver builds it from a
// single collector goroutine; once returned it is read-only by convention.
//
// # Serialization
//
// [WriteGraph] and [ReadGraph] provide a JSON form for tooling ("stackpm
// graph --format json"). The lockfile uses its own TOML encoding.
package graph
