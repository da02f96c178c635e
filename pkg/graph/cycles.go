package graph

import "strings"

// CycleWarning describes a dependency cycle. Cycles are legal in npm and are
// reported for information only.
type CycleWarning struct {
	// Path starts and ends with the same key.
	Path []Key
}

func (w CycleWarning) String() string {
	parts := make([]string, len(w.Path))
	for i, k := range w.Path {
		parts[i] = k.String()
	}
	return strings.Join(parts, " -> ")
}

// Cycles finds back edges with a depth-first search from the roots and
// returns one warning per back edge, in traversal order.
func (g *Graph) Cycles() []CycleWarning {
	const (
		white = iota
		gray
		black
	)

	color := make(map[Key]int, len(g.nodes))
	var (
		stack    []Key
		warnings []CycleWarning
	)

	var dfs func(k Key)
	dfs = func(k Key) {
		n, ok := g.nodes[k]
		if !ok {
			return
		}
		color[k] = gray
		stack = append(stack, k)
		for _, name := range n.edgeNames {
			child := n.edges[name]
			switch color[child] {
			case white:
				dfs(child)
			case gray:
				warnings = append(warnings, CycleWarning{Path: cyclePath(stack, child)})
			}
		}
		stack = stack[:len(stack)-1]
		color[k] = black
	}

	for _, r := range g.roots {
		if color[r.Key] == white {
			dfs(r.Key)
		}
	}
	for _, n := range g.Nodes() {
		if color[n.Key] == white {
			dfs(n.Key)
		}
	}
	return warnings
}

func cyclePath(stack []Key, back Key) []Key {
	for i, k := range stack {
		if k == back {
			path := append([]Key(nil), stack[i:]...)
			return append(path, back)
		}
	}
	return []Key{back, back}
}
