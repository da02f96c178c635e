package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// =============================================================================
// Graph Serialization API
// =============================================================================

// MarshalGraph converts a graph to JSON bytes.
// Nodes are sorted by key for deterministic output.
func MarshalGraph(g *Graph) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeGraphTo(g, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteGraphFile writes a graph to a JSON file.
func WriteGraphFile(g *Graph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return writeGraphTo(g, f)
}

// WriteGraph writes a graph as JSON to an io.Writer.
func WriteGraph(g *Graph, w io.Writer) error {
	return writeGraphTo(g, w)
}

// ReadGraph decodes a JSON graph from an io.Reader.
func ReadGraph(r io.Reader) (*Graph, error) {
	return readGraphFrom(r)
}

// =============================================================================
// Wire Format
// =============================================================================

type wireGraph struct {
	Roots []wireRoot `json:"roots"`
	Nodes []wireNode `json:"nodes"`
}

type wireRoot struct {
	Name    string `json:"name"`
	Range   string `json:"range"`
	Dev     bool   `json:"dev,omitempty"`
	Package string `json:"package"`
}

type wireNode struct {
	ID           string            `json:"id"`
	Tarball      string            `json:"tarball,omitempty"`
	Integrity    string            `json:"integrity,omitempty"`
	ContentHash  string            `json:"content_hash,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Edges        []wireEdge        `json:"edges,omitempty"`
}

type wireEdge struct {
	Name string `json:"name"`
	To   string `json:"to"`
}

// =============================================================================
// Internal Implementation
// =============================================================================

func writeGraphTo(g *Graph, w io.Writer) error {
	out := wireGraph{Roots: []wireRoot{}, Nodes: []wireNode{}}
	for _, r := range g.roots {
		out.Roots = append(out.Roots, wireRoot{Name: r.Name, Range: r.Range, Dev: r.Dev, Package: r.Key.String()})
	}
	for _, n := range g.Nodes() {
		wn := wireNode{
			ID:           n.Key.String(),
			Tarball:      n.Dist.Tarball,
			Integrity:    n.Dist.Integrity,
			ContentHash:  n.ContentHash,
			Dependencies: n.Dependencies,
		}
		for _, e := range n.Edges() {
			wn.Edges = append(wn.Edges, wireEdge{Name: e.Name, To: e.To.String()})
		}
		out.Nodes = append(out.Nodes, wn)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

func readGraphFrom(r io.Reader) (*Graph, error) {
	var data wireGraph
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	g := New()
	for _, wn := range data.Nodes {
		k, err := ParseKey(wn.ID)
		if err != nil {
			return nil, err
		}
		if _, err := g.AddNode(Node{
			Key:          k,
			Dependencies: wn.Dependencies,
			Dist:         Dist{Tarball: wn.Tarball, Integrity: wn.Integrity},
			ContentHash:  wn.ContentHash,
		}); err != nil {
			return nil, err
		}
	}
	for _, wn := range data.Nodes {
		from, _ := ParseKey(wn.ID)
		for _, e := range wn.Edges {
			to, err := ParseKey(e.To)
			if err != nil {
				return nil, err
			}
			if err := g.AddEdge(from, e.Name, to); err != nil {
				return nil, err
			}
		}
	}
	for _, wr := range data.Roots {
		k, err := ParseKey(wr.Package)
		if err != nil {
			return nil, err
		}
		if err := g.AddRoot(RootEdge{Name: wr.Name, Range: wr.Range, Dev: wr.Dev, Key: k}); err != nil {
			return nil, err
		}
	}
	return g, nil
}
