package graph

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrInvalidKey is returned for keys with an empty name or version.
	ErrInvalidKey = errors.New("key must have a name and a version")

	// ErrDuplicateNode is returned by [Graph.AddNode] when the key exists.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrUnknownNode is returned when an edge or root references a key that
	// is not in the graph.
	ErrUnknownNode = errors.New("unknown node")

	// ErrConflictingEdge is returned when a node already depends on the same
	// name at a different version.
	ErrConflictingEdge = errors.New("conflicting edge")

	// ErrDuplicateRoot is returned when a root requirement name is added twice.
	ErrDuplicateRoot = errors.New("duplicate root requirement")
)

// Key identifies a package version in the graph.
type Key struct {
	Name    string
	Version string
}

// String returns "name@version".
func (k Key) String() string { return k.Name + "@" + k.Version }

// IsZero reports whether k is the zero key.
func (k Key) IsZero() bool { return k.Name == "" && k.Version == "" }

// ParseKey parses "name@version". Scoped names keep their leading @.
func ParseKey(s string) (Key, error) {
	i := strings.LastIndex(s, "@")
	if i <= 0 || i == len(s)-1 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return Key{Name: s[:i], Version: s[i+1:]}, nil
}

// Compare orders keys by name, then version string.
func (k Key) Compare(o Key) int {
	if c := strings.Compare(k.Name, o.Name); c != 0 {
		return c
	}
	return strings.Compare(k.Version, o.Version)
}

// Dist locates a node's tarball.
type Dist struct {
	Tarball   string
	Integrity string
}

// Edge is a named dependency of a node.
type Edge struct {
	Name string
	To   Key
}

// Node is one package version.
type Node struct {
	Key

	// Dependencies are the declared ranges by name, including optional
	// dependencies that resolved.
	Dependencies map[string]string

	Dist Dist

	// ContentHash is the store handle once the package has been imported.
	ContentHash string

	edgeNames []string
	edges     map[string]Key
}

// Edges returns the node's dependencies in insertion order.
func (n *Node) Edges() []Edge {
	out := make([]Edge, len(n.edgeNames))
	for i, name := range n.edgeNames {
		out[i] = Edge{Name: name, To: n.edges[name]}
	}
	return out
}

// Edge returns the key a dependency name resolved to.
func (n *Node) Edge(name string) (Key, bool) {
	k, ok := n.edges[name]
	return k, ok
}

// RootEdge is a resolved root requirement.
type RootEdge struct {
	Name  string
	Range string
	Dev   bool
	Key   Key
}

// Graph is a dependency graph arena.
//
// The zero value is not usable; create graphs with [New].
type Graph struct {
	nodes map[Key]*Node
	roots []RootEdge
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[Key]*Node)}
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// AddNode inserts n. It fails with ErrDuplicateNode if the key exists.
func (g *Graph) AddNode(n Node) (*Node, error) {
	if n.Name == "" || n.Version == "" {
		return nil, ErrInvalidKey
	}
	if _, exists := g.nodes[n.Key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, n.Key)
	}
	if n.Dependencies == nil {
		n.Dependencies = map[string]string{}
	}
	n.edgeNames = nil
	n.edges = make(map[string]Key)
	node := &n
	g.nodes[n.Key] = node
	return node, nil
}

// Node returns the node for key.
func (g *Graph) Node(key Key) (*Node, bool) {
	n, ok := g.nodes[key]
	return n, ok
}

// AddEdge records that from depends on name, resolved to to. Adding the same
// edge twice is a no-op.
func (g *Graph) AddEdge(from Key, name string, to Key) error {
	src, ok := g.nodes[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, to)
	}
	if existing, ok := src.edges[name]; ok {
		if existing == to {
			return nil
		}
		return fmt.Errorf("%w: %s depends on %s and %s", ErrConflictingEdge, from, existing, to)
	}
	src.edgeNames = append(src.edgeNames, name)
	src.edges[name] = to
	return nil
}

// AddRoot records a root requirement. The target node must exist.
func (g *Graph) AddRoot(e RootEdge) error {
	if _, ok := g.nodes[e.Key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, e.Key)
	}
	for _, r := range g.roots {
		if r.Name == e.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateRoot, e.Name)
		}
	}
	g.roots = append(g.roots, e)
	return nil
}

// Roots returns the root edges in insertion order.
func (g *Graph) Roots() []RootEdge { return slices.Clone(g.roots) }

// Root returns the root edge for name.
func (g *Graph) Root(name string) (RootEdge, bool) {
	for _, r := range g.roots {
		if r.Name == name {
			return r, true
		}
	}
	return RootEdge{}, false
}

// SetRootRange replaces the declared range of the root edge for name. It
// reports false if there is no such root.
func (g *Graph) SetRootRange(name, rng string) bool {
	for i := range g.roots {
		if g.roots[i].Name == name {
			g.roots[i].Range = rng
			return true
		}
	}
	return false
}

// Nodes returns all nodes sorted by key.
func (g *Graph) Nodes() []*Node {
	out := slices.Collect(maps.Values(g.nodes))
	slices.SortFunc(out, func(a, b *Node) int { return a.Key.Compare(b.Key) })
	return out
}

// Walk visits every node reachable from the roots breadth-first: roots in
// root order, then each node's edges in insertion order. Each node is
// visited once, at its shallowest depth (roots are depth 1). Returning false
// from fn stops the walk.
func (g *Graph) Walk(fn func(n *Node, depth int) bool) {
	type item struct {
		key   Key
		depth int
	}
	seen := make(map[Key]bool, len(g.nodes))
	queue := make([]item, 0, len(g.roots))
	for _, r := range g.roots {
		if !seen[r.Key] {
			seen[r.Key] = true
			queue = append(queue, item{r.Key, 1})
		}
	}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		n := g.nodes[it.key]
		if n == nil {
			continue
		}
		if !fn(n, it.depth) {
			return
		}
		for _, name := range n.edgeNames {
			k := n.edges[name]
			if !seen[k] {
				seen[k] = true
				queue = append(queue, item{k, it.depth + 1})
			}
		}
	}
}

// Reachable returns the keys reachable from start, including start.
func (g *Graph) Reachable(start Key) []Key {
	var out []Key
	seen := map[Key]bool{start: true}
	stack := []Key{start}
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := g.nodes[k]
		if !ok {
			continue
		}
		out = append(out, k)
		for _, name := range n.edgeNames {
			if next := n.edges[name]; !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return out
}

// Prune removes nodes that no root reaches and returns their keys.
func (g *Graph) Prune() []Key {
	live := make(map[Key]bool, len(g.nodes))
	for _, r := range g.roots {
		for _, k := range g.Reachable(r.Key) {
			live[k] = true
		}
	}
	var removed []Key
	for k := range g.nodes {
		if !live[k] {
			removed = append(removed, k)
			delete(g.nodes, k)
		}
	}
	slices.SortFunc(removed, Key.Compare)
	return removed
}

// CopySubtree copies every node reachable from start in src into g, along
// with the edges between them. Nodes already in g are reused by key.
func (g *Graph) CopySubtree(src *Graph, start Key) error {
	keys := src.Reachable(start)
	if len(keys) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownNode, start)
	}
	for _, k := range keys {
		if _, ok := g.nodes[k]; ok {
			continue
		}
		n := src.nodes[k]
		if _, err := g.AddNode(Node{
			Key:          n.Key,
			Dependencies: maps.Clone(n.Dependencies),
			Dist:         n.Dist,
			ContentHash:  n.ContentHash,
		}); err != nil {
			return err
		}
	}
	for _, k := range keys {
		for _, e := range src.nodes[k].Edges() {
			if err := g.AddEdge(k, e.Name, e.To); err != nil {
				return err
			}
		}
	}
	return nil
}

// Production copies the part of g reachable from non-dev roots, keeping
// root order.
func (g *Graph) Production() (*Graph, error) {
	out := New()
	for _, root := range g.roots {
		if root.Dev {
			continue
		}
		if err := out.CopySubtree(g, root.Key); err != nil {
			return nil, err
		}
		if err := out.AddRoot(root); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Validate checks that every root and edge points at an existing node.
func (g *Graph) Validate() error {
	for _, r := range g.roots {
		if _, ok := g.nodes[r.Key]; !ok {
			return fmt.Errorf("%w: root %s -> %s", ErrUnknownNode, r.Name, r.Key)
		}
	}
	for _, n := range g.nodes {
		for _, name := range n.edgeNames {
			if _, ok := g.nodes[n.edges[name]]; !ok {
				return fmt.Errorf("%w: %s -> %s", ErrUnknownNode, n.Key, n.edges[name])
			}
		}
	}
	return nil
}

// Equal reports whether a and b have the same roots, nodes and edges.
// Edge insertion order is not compared.
func Equal(a, b *Graph) bool {
	if len(a.nodes) != len(b.nodes) || !slices.Equal(a.roots, b.roots) {
		return false
	}
	for k, na := range a.nodes {
		nb, ok := b.nodes[k]
		if !ok {
			return false
		}
		if na.Dist != nb.Dist || na.ContentHash != nb.ContentHash {
			return false
		}
		if !maps.Equal(na.Dependencies, nb.Dependencies) || !maps.Equal(na.edges, nb.edges) {
			return false
		}
	}
	return true
}
