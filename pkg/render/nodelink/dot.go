package nodelink

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/stackpm/pkg/graph"
)

// projectID is the DOT identifier of the project node. It cannot collide
// with a package key, which always contains "@".
const projectID = "."

// Options configures node-link diagram rendering.
type Options struct {
	// Project labels the top node. Defaults to "project".
	Project string

	// Detailed adds the declared range to root edges and the short content
	// hash to node labels.
	Detailed bool

	// SkipDev leaves out dev requirements and everything only they reach.
	SkipDev bool
}

// ToDOT converts a graph to Graphviz DOT format.
// The resulting DOT string can be rendered using [RenderSVG].
func ToDOT(g *graph.Graph, opts Options) string {
	project := opts.Project
	if project == "" {
		project = "project"
	}

	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=24, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.5;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")
	fmt.Fprintf(&buf, "  %q [label=%q, style=\"rounded,filled,bold\", fillcolor=lightblue];\n", projectID, project)

	keep := included(g, opts.SkipDev)
	var nodes []*graph.Node
	g.Walk(func(n *graph.Node, _ int) bool {
		if keep[n.Key] {
			nodes = append(nodes, n)
		}
		return true
	})
	for _, n := range nodes {
		fmt.Fprintf(&buf, "  %q [label=%q];\n", n.Key.String(), fmtLabel(n, opts.Detailed))
	}

	buf.WriteString("\n")
	for _, r := range g.Roots() {
		if opts.SkipDev && r.Dev {
			continue
		}
		fmt.Fprintf(&buf, "  %q -> %q", projectID, r.Key.String())
		if attrs := rootAttrs(r, opts.Detailed); len(attrs) > 0 {
			fmt.Fprintf(&buf, " [%s]", strings.Join(attrs, ", "))
		}
		buf.WriteString(";\n")
	}

	back := backEdges(g)
	for _, n := range nodes {
		for _, e := range n.Edges() {
			fmt.Fprintf(&buf, "  %q -> %q", n.Key.String(), e.To.String())
			if back[[2]graph.Key{n.Key, e.To}] {
				buf.WriteString(" [color=red, constraint=false]")
			}
			buf.WriteString(";\n")
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

func fmtLabel(n *graph.Node, detailed bool) string {
	label := n.Key.String()
	if detailed && n.ContentHash != "" {
		hash := n.ContentHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		label += "\n" + hash
	}
	return label
}

func rootAttrs(r graph.RootEdge, detailed bool) []string {
	var attrs []string
	if detailed && r.Range != "" {
		attrs = append(attrs, fmt.Sprintf("label=%q", r.Range))
	}
	if r.Dev {
		attrs = append(attrs, "style=dashed")
	}
	return attrs
}

// included returns the keys to draw.
func included(g *graph.Graph, skipDev bool) map[graph.Key]bool {
	keep := make(map[graph.Key]bool, g.Len())
	for _, r := range g.Roots() {
		if skipDev && r.Dev {
			continue
		}
		for _, k := range g.Reachable(r.Key) {
			keep[k] = true
		}
	}
	return keep
}

// backEdges returns the edges that close a cycle.
func backEdges(g *graph.Graph) map[[2]graph.Key]bool {
	out := make(map[[2]graph.Key]bool)
	for _, w := range g.Cycles() {
		if n := len(w.Path); n >= 2 {
			out[[2]graph.Key{w.Path[n-2], w.Path[n-1]}] = true
		}
	}
	return out
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(dot string) ([]byte, error) {
	ctx := context.Background()
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	newSvg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)

	return svgTagRe.ReplaceAll(svg, []byte(newSvg))
}
