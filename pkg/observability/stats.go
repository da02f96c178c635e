package observability

import (
	"context"
	"sync/atomic"
	"time"
)

// Stats counts install events. It implements [InstallHooks] and
// [CacheHooks] and is safe for concurrent use.
type Stats struct {
	NoopInstallHooks
	NoopCacheHooks

	Resolved   atomic.Int64
	Fetched    atomic.Int64
	Imported   atomic.Int64
	Reused     atomic.Int64
	CacheHits  atomic.Int64
	CacheMiss  atomic.Int64
	LinkAdded  atomic.Int64
	LinkPruned atomic.Int64
}

func (s *Stats) OnResolveComplete(_ context.Context, nodes int, _ time.Duration, err error) {
	if err == nil {
		s.Resolved.Store(int64(nodes))
	}
}

func (s *Stats) OnPackumentFetched(_ context.Context, _ string, _ time.Duration, err error) {
	if err == nil {
		s.Fetched.Add(1)
	}
}

func (s *Stats) OnImport(_ context.Context, _ string, reused bool, _ time.Duration, err error) {
	switch {
	case err != nil:
	case reused:
		s.Reused.Add(1)
	default:
		s.Imported.Add(1)
	}
}

func (s *Stats) OnLinkComplete(_ context.Context, created, removed, _ int, _ time.Duration, err error) {
	if err == nil {
		s.LinkAdded.Add(int64(created))
		s.LinkPruned.Add(int64(removed))
	}
}

func (s *Stats) OnCacheHit(context.Context, string)  { s.CacheHits.Add(1) }
func (s *Stats) OnCacheMiss(context.Context, string) { s.CacheMiss.Add(1) }

var (
	_ InstallHooks = (*Stats)(nil)
	_ CacheHooks   = (*Stats)(nil)
)
