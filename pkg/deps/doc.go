// Package deps resolves manifest requirements into a dependency graph.
//
// # Overview
//
// [Resolver.Resolve] takes the project's root [Requirement]s and produces a
// complete [graph.Graph]: for every requirement it fetches the package's
// packument through a [Registry], picks the highest version satisfying the
// range, and follows that version's own dependencies until nothing new is
// discovered.
//
// # Architecture
//
// Resolution is a concurrent crawl with a single writer:
//
//  1. A fixed pool of workers (Options.Concurrency, default 16) pulls jobs
//     from a channel. A job is one edge: "requirer needs name@range".
//  2. Workers fetch packuments (collapsed per name with singleflight and
//     memoized on success) and pick a version (memoized per name and range).
//  3. One collector goroutine owns the graph. It creates a node the first
//     time a name@version is seen, enqueues that node's dependencies, and
//     records edges. It also owns the pending-job counter that decides when
//     the crawl is finished.
//
// Conflicting ranges for the same name simply produce distinct nodes. A
// cycle is an edge to a key that already exists, so it never re-enters.
//
// # Lock-first resolution
//
// When Options.Locked holds the previous graph, root requirements whose
// locked version still satisfies the range keep their entire locked subtree
// and cause no registry traffic.
//
// # Errors
//
// Any failure aborts the whole resolve and returns a *[ResolutionError];
// no partial graph is returned. Failures under optionalDependencies are
// logged and the edge is dropped.
package deps
