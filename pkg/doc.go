// Package pkg provides the core libraries of the stackpm package manager.
//
// # Overview
//
// stackpm installs npm packages the way pnpm does: every package version is
// unpacked once into a content-addressable store, and each project's
// node_modules is assembled from links into that store. A package can only
// require what it declares, because its own node_modules holds nothing else.
//
// # Architecture
//
// The typical data flow of an install:
//
//	package.json + stackpm-lock.toml
//	         ↓
//	    [deps] package (resolve ranges against the registry)
//	         ↓
//	    [graph] package (one node per name@version)
//	         ↓
//	    [tarball] + [store] packages (download, verify, import)
//	         ↓
//	    [link] package (isolated node_modules layout)
//	         ↓
//	    [lock] package (write stackpm-lock.toml)
//
// [install] runs these stages in order and is what the CLI calls.
//
// # Quick Start
//
//	import (
//	    "github.com/matzehuels/stackpm/pkg/deps/javascript"
//	    "github.com/matzehuels/stackpm/pkg/install"
//	    "github.com/matzehuels/stackpm/pkg/integrations/npm"
//	    "github.com/matzehuels/stackpm/pkg/link"
//	    "github.com/matzehuels/stackpm/pkg/store"
//	    "github.com/matzehuels/stackpm/pkg/tarball"
//	)
//
//	client := npm.NewClient(npm.Options{})
//	st, _ := store.Open(storeDir)
//	runner := install.NewRunner(
//	    javascript.NewRegistry(client),
//	    tarball.NewFetcher(client, ""),
//	    st,
//	    link.New(st, link.DefaultOptions()),
//	    nil,
//	)
//	res, err := runner.Install(ctx, projectDir, install.Options{})
//
// # Main Packages
//
// ## Resolution
//
// [semver] - npm version ranges (^, ~, x-ranges, hyphen ranges, unions) and
// dist-tags.
//
// [deps] - Concurrent resolver that picks the highest satisfying version per
// range, honors locked versions and records cycles.
//
// [graph] - Dependency graph arena keyed by name@version.
//
// [manifest] - package.json reading and order-preserving edits.
//
// [lock] - stackpm-lock.toml encoding and satisfaction checks.
//
// ## Storage
//
// [integrity] - Subresource Integrity strings and streaming verification.
//
// [tarball] - Tarball download and safe extraction.
//
// [store] - Content-addressable package store with an informational index.
//
// [link] - Isolated node_modules layout with hoisting and reconciliation.
//
// ## Infrastructure
//
// [cache] - Registry metadata cache backends (file, Redis, none).
//
// [integrations] - Shared HTTP client and the npm registry client.
//
// [httputil] - Retry helpers for transient failures.
//
// [observability] - Install and cache hooks with a counting implementation.
//
// [errors] - Error codes shared across packages.
//
// [render/nodelink] - DOT, SVG and JSON views of a locked graph.
//
// [buildinfo] - Version information injected at build time.
//
// [semver]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/semver
// [deps]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/deps
// [graph]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/graph
// [manifest]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/manifest
// [lock]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/lock
// [integrity]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/integrity
// [tarball]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/tarball
// [store]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/store
// [link]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/link
// [install]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/install
// [cache]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/cache
// [integrations]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/integrations
// [httputil]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/httputil
// [observability]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/observability
// [errors]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/errors
// [render/nodelink]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/render/nodelink
// [buildinfo]: https://pkg.go.dev/github.com/matzehuels/stackpm/pkg/buildinfo
package pkg
