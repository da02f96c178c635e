package deps

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/stackpm/pkg/graph"
	"github.com/matzehuels/stackpm/pkg/observability"
	"github.com/matzehuels/stackpm/pkg/semver"
)

var errMalformed = errors.New("malformed packument")

// Resolver builds dependency graphs from a [Registry].
type Resolver struct {
	registry Registry
}

// NewResolver creates a Resolver backed by registry.
func NewResolver(registry Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve resolves reqs and their transitive dependencies. Root edges in
// the returned graph follow the order of reqs; each node's edges are sorted
// by dependency name.
func (r *Resolver) Resolve(ctx context.Context, reqs []Requirement, opts Options) (*graph.Graph, error) {
	opts = opts.WithDefaults()
	hooks := observability.Install()
	hooks.OnResolveStart(ctx, len(reqs))
	start := time.Now()

	g, err := r.resolve(ctx, reqs, opts)

	nodes := 0
	if g != nil {
		nodes = g.Len()
	}
	hooks.OnResolveComplete(ctx, nodes, time.Since(start), err)
	return g, err
}

func (r *Resolver) resolve(ctx context.Context, reqs []Requirement, opts Options) (*graph.Graph, error) {
	for _, req := range reqs {
		if _, err := semver.ParseRange(req.Range); err != nil {
			return nil, &ResolutionError{Kind: InvalidRange, Name: req.Name, Range: req.Range, Err: err}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &crawler{
		ctx:        ctx,
		cancel:     cancel,
		opts:       opts,
		registry:   r.registry,
		g:          graph.New(),
		edges:      make(map[graph.Key]map[string]graph.Key),
		roots:      make([]graph.Key, len(reqs)),
		jobs:       make(chan job, opts.Concurrency*2),
		results:    make(chan result, opts.Concurrency*2),
		packuments: make(map[string]*Packument),
		picks:      make(map[pickKey]string),
	}
	return c.run(reqs)
}

type crawler struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     Options
	registry Registry

	// Owned by the collector goroutine.
	g       *graph.Graph
	edges   map[graph.Key]map[string]graph.Key
	roots   []graph.Key
	pending int

	jobs    chan job
	results chan result
	wg      sync.WaitGroup

	flight     singleflight.Group
	mu         sync.Mutex
	packuments map[string]*Packument
	picks      map[pickKey]string
}

type pickKey struct{ name, rng string }

type job struct {
	req  Requirement
	from graph.Key
	root int // index into roots, -1 for transitive edges
}

type result struct {
	job
	key     graph.Key
	version *Version
	err     error
}

func (c *crawler) run(reqs []Requirement) (*graph.Graph, error) {
	for range c.opts.Concurrency {
		c.wg.Add(1)
		go c.worker()
	}
	defer func() {
		c.cancel()
		c.wg.Wait()
	}()

	for i, req := range reqs {
		if c.useLocked(i, req) {
			continue
		}
		c.enqueue(job{req: req, root: i})
	}

	if err := c.collect(); err != nil {
		return nil, err
	}
	if err := c.finish(reqs); err != nil {
		return nil, err
	}
	return c.g, nil
}

// useLocked copies the locked subtree for req when it still satisfies it.
func (c *crawler) useLocked(i int, req Requirement) bool {
	if c.opts.Locked == nil {
		return false
	}
	locked, ok := c.opts.Locked.Root(req.Name)
	if !ok || !Satisfies(req, locked) {
		return false
	}
	if err := c.g.CopySubtree(c.opts.Locked, locked.Key); err != nil {
		c.opts.Logger("ignoring locked %s: %v", locked.Key, err)
		return false
	}
	c.roots[i] = locked.Key
	c.opts.Logger("locked %s@%s -> %s", req.Name, req.Range, locked.Key.Version)
	return true
}

func (c *crawler) enqueue(j job) {
	c.pending++
	go func() {
		select {
		case c.jobs <- j:
		case <-c.ctx.Done():
		}
	}()
}

func (c *crawler) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case j := <-c.jobs:
			key, v, err := c.pick(j.req)
			select {
			case c.results <- result{job: j, key: key, version: v, err: err}:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *crawler) collect() error {
	for c.pending > 0 {
		select {
		case r := <-c.results:
			c.pending--
			if err := c.handle(r); err != nil {
				return err
			}
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
	return nil
}

func (c *crawler) handle(r result) error {
	if r.err != nil {
		if r.req.Optional && c.ctx.Err() == nil {
			c.opts.Logger("skipping optional dependency %s@%s of %s: %v", r.req.Name, r.req.Range, r.from, r.err)
			if n, ok := c.g.Node(r.from); ok {
				delete(n.Dependencies, r.req.Name)
			}
			return nil
		}
		return r.err
	}

	if _, exists := c.g.Node(r.key); !exists {
		if _, err := c.g.AddNode(graph.Node{
			Key:          r.key,
			Dependencies: declared(r.version),
			Dist:         r.version.Dist,
		}); err != nil {
			return err
		}
		c.opts.Logger("resolved %s", r.key)
		for _, dep := range r.version.Requirements() {
			c.enqueue(job{req: dep, from: r.key, root: -1})
		}
	}

	if r.root >= 0 {
		c.roots[r.root] = r.key
		return nil
	}
	if c.edges[r.from] == nil {
		c.edges[r.from] = make(map[string]graph.Key)
	}
	c.edges[r.from][r.req.Name] = r.key
	return nil
}

// finish adds edges in sorted order so the graph does not depend on the
// order in which workers finished.
func (c *crawler) finish(reqs []Requirement) error {
	froms := make([]graph.Key, 0, len(c.edges))
	for k := range c.edges {
		froms = append(froms, k)
	}
	slices.SortFunc(froms, graph.Key.Compare)

	for _, from := range froms {
		names := make([]string, 0, len(c.edges[from]))
		for name := range c.edges[from] {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			if err := c.g.AddEdge(from, name, c.edges[from][name]); err != nil {
				return err
			}
		}
	}

	for i, req := range reqs {
		if err := c.g.AddRoot(graph.RootEdge{Name: req.Name, Range: req.Range, Dev: req.Dev, Key: c.roots[i]}); err != nil {
			return err
		}
	}
	return nil
}

// pick selects the version for req. It is called concurrently by workers.
func (c *crawler) pick(req Requirement) (graph.Key, *Version, error) {
	rng, err := semver.ParseRange(req.Range)
	if err != nil {
		return graph.Key{}, nil, &ResolutionError{Kind: InvalidRange, Name: req.Name, Range: req.Range, Err: err}
	}

	p, err := c.packument(req.Name)
	if err != nil {
		return graph.Key{}, nil, c.classify(req, err)
	}

	memo := pickKey{req.Name, req.Range}
	c.mu.Lock()
	ver, ok := c.picks[memo]
	c.mu.Unlock()
	if !ok {
		ver, ok = semver.MaxSatisfying(rng, p.VersionList(), p.DistTags)
		if !ok {
			return graph.Key{}, nil, &ResolutionError{Kind: NoSatisfyingVersion, Name: req.Name, Range: req.Range}
		}
		c.mu.Lock()
		c.picks[memo] = ver
		c.mu.Unlock()
	}

	v := p.Versions[ver]
	if v == nil || v.Dist.Tarball == "" {
		return graph.Key{}, nil, &ResolutionError{
			Kind: MalformedMetadata, Name: req.Name, Range: req.Range,
			Err: fmt.Errorf("%w: version %s has no tarball", errMalformed, ver),
		}
	}
	return graph.Key{Name: req.Name, Version: ver}, v, nil
}

// packument fetches a packument once per name. Concurrent callers share one
// request; only successful results are memoized.
func (c *crawler) packument(name string) (*Packument, error) {
	if p, ok := c.memoized(name); ok {
		return p, nil
	}
	v, err, _ := c.flight.Do(name, func() (any, error) {
		if p, ok := c.memoized(name); ok {
			return p, nil
		}
		start := time.Now()
		p, err := c.registry.Packument(c.ctx, name, c.opts.Refresh)
		if err == nil && (p == nil || len(p.Versions) == 0) {
			err = fmt.Errorf("%w: %s lists no versions", errMalformed, name)
		}
		observability.Install().OnPackumentFetched(c.ctx, name, time.Since(start), err)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.packuments[name] = p
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Packument), nil
}

func (c *crawler) memoized(name string) (*Packument, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.packuments[name]
	return p, ok
}

func (c *crawler) classify(req Requirement, err error) error {
	if c.ctx.Err() != nil {
		return c.ctx.Err()
	}
	kind := RegistryUnavailable
	switch {
	case errors.Is(err, ErrNotFound):
		kind = PackageNotFound
	case errors.Is(err, errMalformed):
		kind = MalformedMetadata
	}
	return &ResolutionError{Kind: kind, Name: req.Name, Range: req.Range, Err: err}
}

func declared(v *Version) map[string]string {
	out := make(map[string]string, len(v.Dependencies)+len(v.OptionalDependencies))
	for name, rng := range v.Dependencies {
		out[name] = rng
	}
	for name, rng := range v.OptionalDependencies {
		out[name] = rng
	}
	return out
}
