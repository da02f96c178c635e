package link

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/matzehuels/stackpm/pkg/graph"
)

const (
	// ModulesDir is the project's module directory.
	ModulesDir = "node_modules"
	// VirtualStoreDir is the linker's directory inside node_modules.
	VirtualStoreDir = ".stackpm"
)

// OpKind is the type of a plan operation.
type OpKind string

const (
	// OpImport populates a package directory from a store entry.
	OpImport OpKind = "import"
	// OpSymlink creates a relative directory symlink.
	OpSymlink OpKind = "symlink"
)

// Op is one filesystem entry the linker owns. Path is relative to the
// project root. Target is the content hash for imports and the relative link
// text for symlinks.
type Op struct {
	Kind   OpKind `json:"kind"`
	Path   string `json:"path"`
	Target string `json:"target"`
	Node   string `json:"node"`
}

// Plan is the complete set of entries for one graph.
type Plan struct {
	Ops     []Op     `json:"ops"`
	Hoisted []string `json:"hoisted,omitempty"`
}

// VirtualDir returns the virtual store directory name for key.
func VirtualDir(key graph.Key) string {
	return strings.ReplaceAll(key.Name, "/", "+") + "@" + key.Version
}

// PackageDir returns the project-relative directory holding key's files.
func PackageDir(key graph.Key) string {
	return path.Join(ModulesDir, VirtualStoreDir, VirtualDir(key), ModulesDir, key.Name)
}

func relLink(from, to string) string {
	fromParts := strings.Split(path.Dir(from), "/")
	toParts := strings.Split(to, "/")
	i := 0
	for i < len(fromParts) && i < len(toParts) && fromParts[i] == toParts[i] {
		i++
	}
	var b strings.Builder
	for range fromParts[i:] {
		b.WriteString("../")
	}
	b.WriteString(strings.Join(toParts[i:], "/"))
	return b.String()
}

// BuildPlan computes the entries for g. Every node reachable from a root
// must carry a content hash.
func BuildPlan(g *graph.Graph, hoist bool) (*Plan, error) {
	p := &Plan{}
	seen := make(map[string]bool)
	add := func(op Op) error {
		if seen[op.Path] {
			return fmt.Errorf("duplicate plan entry %s", op.Path)
		}
		seen[op.Path] = true
		p.Ops = append(p.Ops, op)
		return nil
	}

	var nodes []*graph.Node
	g.Walk(func(n *graph.Node, _ int) bool {
		nodes = append(nodes, n)
		return true
	})

	for _, n := range nodes {
		if n.ContentHash == "" {
			return nil, &Error{Kind: MissingStoreEntry, Node: n.Key.String(), Path: PackageDir(n.Key)}
		}
		dir := PackageDir(n.Key)
		if err := add(Op{Kind: OpImport, Path: dir, Target: n.ContentHash, Node: n.Key.String()}); err != nil {
			return nil, err
		}
		base := path.Dir(dir)
		if strings.HasPrefix(n.Name, "@") {
			base = path.Dir(base)
		}
		for _, e := range n.Edges() {
			// A package cannot depend on its own name: that slot holds the
			// package itself.
			if e.Name == n.Name {
				continue
			}
			linkPath := path.Join(base, e.Name)
			if err := add(Op{Kind: OpSymlink, Path: linkPath, Target: relLink(linkPath, PackageDir(e.To)), Node: e.To.String()}); err != nil {
				return nil, err
			}
		}
	}

	claimed := make(map[string]bool)
	for _, r := range g.Roots() {
		linkPath := path.Join(ModulesDir, r.Name)
		claimed[r.Name] = true
		if err := add(Op{Kind: OpSymlink, Path: linkPath, Target: relLink(linkPath, PackageDir(r.Key)), Node: r.Key.String()}); err != nil {
			return nil, err
		}
	}
	if hoist {
		for _, n := range nodes {
			if claimed[n.Name] {
				continue
			}
			claimed[n.Name] = true
			linkPath := path.Join(ModulesDir, n.Name)
			if err := add(Op{Kind: OpSymlink, Path: linkPath, Target: relLink(linkPath, PackageDir(n.Key)), Node: n.Key.String()}); err != nil {
				return nil, err
			}
			p.Hoisted = append(p.Hoisted, n.Name)
		}
	}
	return p, nil
}

// sorted returns the ops ordered for application: imports before symlinks,
// then by path.
func (p *Plan) sorted() []Op {
	ops := slices.Clone(p.Ops)
	slices.SortStableFunc(ops, func(a, b Op) int {
		if a.Kind != b.Kind {
			if a.Kind == OpImport {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Path, b.Path)
	})
	return ops
}

func (p *Plan) index() map[string]Op {
	m := make(map[string]Op, len(p.Ops))
	for _, op := range p.Ops {
		m[op.Path] = op
	}
	return m
}
