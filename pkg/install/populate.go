package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
	"github.com/matzehuels/stackpm/pkg/graph"
	"github.com/matzehuels/stackpm/pkg/httputil"
	"github.com/matzehuels/stackpm/pkg/integrity"
	"github.com/matzehuels/stackpm/pkg/observability"
	"github.com/matzehuels/stackpm/pkg/store"
)

const (
	// downloadAttempts bounds re-downloads after an integrity mismatch.
	downloadAttempts = 2

	storeAttempts   = 3
	storeRetryDelay = 50 * time.Millisecond
)

// populate makes sure every node has a store entry and records its content
// hash on the node. It returns how many packages were downloaded and how
// many were already stored.
func (r *Runner) populate(ctx context.Context, nodes []*graph.Node, concurrency int) (imported, reused int, err error) {
	hashes := make([]string, len(nodes))
	hits := make([]bool, len(nodes))

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for i, n := range nodes {
		eg.Go(func() error {
			start := time.Now()
			hash, hit, err := r.importNode(egctx, n)
			observability.Install().OnImport(egctx, n.Key.String(), hit, time.Since(start), err)
			if err != nil {
				return err
			}
			hashes[i], hits[i] = hash, hit
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, 0, err
	}

	// Nodes are only written here, after every worker is done.
	for i, n := range nodes {
		n.ContentHash = hashes[i]
		if hits[i] {
			reused++
		} else {
			imported++
		}
	}
	return imported, reused, nil
}

// importNode returns the store hash for n, downloading the package when the
// store has neither its locked content hash nor its tarball integrity.
func (r *Runner) importNode(ctx context.Context, n *graph.Node) (string, bool, error) {
	key := n.Key.String()
	if n.ContentHash != "" && r.Store.Has(n.ContentHash) {
		return n.ContentHash, true, nil
	}
	if e, ok, err := r.Store.LookupIntegrity(n.Dist.Integrity); err != nil {
		r.Logger.Debug("could not read integrity index", "package", key, "err", err)
	} else if ok {
		if n.ContentHash != "" && n.ContentHash != e.Hash {
			r.Logger.Warn("content differs from lockfile", "package", key, "locked", n.ContentHash, "actual", e.Hash)
		}
		r.record(e.Hash, key)
		r.Logger.Debug("reused", "package", key, "hash", e.Hash)
		return e.Hash, true, nil
	}

	want, err := integrity.Parse(n.Dist.Integrity)
	if err != nil {
		return "", false, pmerrors.Wrap(pmerrors.ErrCodeInvalidPackage, err, "%s has no usable integrity", key)
	}

	var entry store.Entry
	for attempt := 1; ; attempt++ {
		entry, err = r.download(ctx, n, want)
		if err == nil || attempt == downloadAttempts || !errors.Is(err, integrity.ErrMismatch) {
			break
		}
		r.Logger.Warn("integrity check failed, downloading again", "package", key)
	}
	if err != nil {
		return "", false, err
	}

	if n.ContentHash != "" && n.ContentHash != entry.Hash {
		r.Logger.Warn("content differs from lockfile", "package", key, "locked", n.ContentHash, "actual", entry.Hash)
	}
	r.record(entry.Hash, key)
	if err := r.Store.RecordIntegrity(n.Dist.Integrity, entry.Hash); err != nil {
		r.Logger.Debug("could not index integrity", "package", key, "err", err)
	}
	r.Logger.Debug("imported", "package", key, "hash", entry.Hash)
	return entry.Hash, false, nil
}

func (r *Runner) record(hash, key string) {
	if err := r.Store.Record(hash, key); err != nil {
		r.Logger.Debug("could not index store entry", "package", key, "err", err)
	}
}

// download fetches n into a staging directory and imports it.
func (r *Runner) download(ctx context.Context, n *graph.Node, want integrity.Integrity) (store.Entry, error) {
	tmp, err := r.Store.TempDir()
	if err != nil {
		return store.Entry{}, store.WithPackage(err, n.Key.String())
	}
	defer os.RemoveAll(tmp)

	dest := filepath.Join(tmp, "package")
	if err := r.Tarballs.Fetch(ctx, n.Dist.Tarball, want, dest); err != nil {
		return store.Entry{}, fmt.Errorf("fetch %s: %w", n.Key, err)
	}

	var entry store.Entry
	err = httputil.Retry(ctx, storeAttempts, storeRetryDelay, func() error {
		e, err := r.Store.Import(dest)
		if store.IsTransient(err) {
			return httputil.Retryable(err)
		}
		entry = e
		return err
	})
	if err != nil {
		return store.Entry{}, store.WithPackage(err, n.Key.String())
	}
	return entry, nil
}
