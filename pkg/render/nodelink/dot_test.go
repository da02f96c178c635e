package nodelink

import (
	"strings"
	"testing"

	"github.com/matzehuels/stackpm/pkg/graph"
)

func key(name, ver string) graph.Key { return graph.Key{Name: name, Version: ver} }

// sample builds app -> a -> b -> a (cycle) plus a dev root d.
func sample(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	for _, k := range []graph.Key{key("a", "1.0.0"), key("b", "2.0.0"), key("d", "0.1.0")} {
		if _, err := g.AddNode(graph.Node{Key: k, ContentHash: strings.Repeat("f", 64)}); err != nil {
			t.Fatal(err)
		}
	}
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(g.AddEdge(key("a", "1.0.0"), "b", key("b", "2.0.0")))
	must(g.AddEdge(key("b", "2.0.0"), "a", key("a", "1.0.0")))
	must(g.AddRoot(graph.RootEdge{Name: "a", Range: "^1.0.0", Key: key("a", "1.0.0")}))
	must(g.AddRoot(graph.RootEdge{Name: "d", Range: "*", Dev: true, Key: key("d", "0.1.0")}))
	return g
}

func TestToDOT_Basic(t *testing.T) {
	dot := ToDOT(sample(t), Options{Project: "app"})

	for _, want := range []string{
		"digraph G",
		`"." [label="app"`,
		`"a@1.0.0" [label="a@1.0.0"]`,
		`"." -> "a@1.0.0";`,
		`"a@1.0.0" -> "b@2.0.0";`,
		`"b@2.0.0" -> "a@1.0.0" [color=red, constraint=false];`,
		`"." -> "d@0.1.0" [style=dashed];`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("ToDOT() output missing %s\n%s", want, dot)
		}
	}
}

func TestToDOT_Deterministic(t *testing.T) {
	g := sample(t)
	if ToDOT(g, Options{}) != ToDOT(g, Options{}) {
		t.Error("ToDOT() output differs between calls")
	}
}

func TestToDOT_Detailed(t *testing.T) {
	dot := ToDOT(sample(t), Options{Detailed: true})

	if !strings.Contains(dot, `label="^1.0.0"`) {
		t.Error("ToDOT() detailed output missing root range")
	}
	if !strings.Contains(dot, `a@1.0.0\nffffffffffff`) {
		t.Errorf("ToDOT() detailed output missing content hash:\n%s", dot)
	}
}

func TestToDOT_SkipDev(t *testing.T) {
	dot := ToDOT(sample(t), Options{SkipDev: true})

	if strings.Contains(dot, "d@0.1.0") {
		t.Error("ToDOT() SkipDev still draws the dev dependency")
	}
	if !strings.Contains(dot, `"a@1.0.0"`) {
		t.Error("ToDOT() SkipDev dropped a production dependency")
	}
}

func TestNormalizeViewBox(t *testing.T) {
	tests := []struct {
		name string
		svg  string
		want string
	}{
		{
			name: "with viewBox",
			svg:  `<svg viewBox="10 20 800 600" xmlns="http://www.w3.org/2000/svg">content</svg>`,
			want: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 800.00 600.00" width="800" height="600">content</svg>`,
		},
		{
			name: "no viewBox",
			svg:  `<svg xmlns="http://www.w3.org/2000/svg">content</svg>`,
			want: `<svg xmlns="http://www.w3.org/2000/svg">content</svg>`,
		},
		{
			name: "zero dimensions",
			svg:  `<svg viewBox="0 0 0 0">content</svg>`,
			want: `<svg viewBox="0 0 0 0">content</svg>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeViewBox([]byte(tt.svg))
			if string(got) != tt.want {
				t.Errorf("normalizeViewBox() = %q, want %q", string(got), tt.want)
			}
		})
	}
}

func TestRenderSVG(t *testing.T) {
	svg, err := RenderSVG(ToDOT(sample(t), Options{}))
	if err != nil {
		t.Fatalf("RenderSVG() error: %v", err)
	}
	if !strings.Contains(string(svg), "<svg") {
		t.Error("RenderSVG() output missing <svg> tag")
	}
}

func TestRenderSVG_InvalidDOT(t *testing.T) {
	if _, err := RenderSVG(`not valid DOT {{{`); err == nil {
		t.Error("RenderSVG() should return error for invalid DOT")
	}
}
