// Package nodelink renders resolved dependency graphs as node-link diagrams.
//
// # Overview
//
// Each package version becomes a rounded box labelled name@version. The
// project itself is drawn as a separate node at the top with one arrow per
// root requirement. Dev requirements are dashed and edges that close a
// dependency cycle are drawn in red.
//
// # Usage
//
// Convert a graph to DOT, then render to SVG:
//
//	dot := nodelink.ToDOT(g, nodelink.Options{Project: "my-app"})
//	svg, err := nodelink.RenderSVG(dot)
//
// # DOT Format
//
// The [ToDOT] function produces Graphviz DOT source that can be:
//
//   - Rendered directly via [RenderSVG]
//   - Saved and processed with external Graphviz tools
//
// Output is deterministic: nodes appear in breadth-first order from the
// roots and edges in the order the resolver recorded them.
//
// # Dependencies
//
// This package uses [github.com/goccy/go-graphviz] for in-process SVG
// rendering, so no Graphviz installation is needed.
package nodelink
