package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/stackpm/pkg/graph"
	"github.com/matzehuels/stackpm/pkg/install"
	"github.com/matzehuels/stackpm/pkg/link"
	"github.com/matzehuels/stackpm/pkg/lock"
)

// listOpts holds the command-line flags for the list command.
type listOpts struct {
	depth int  // transitive levels shown below each root
	dev   bool // only devDependencies
	prod  bool // only dependencies
}

// listCommand creates the list command.
func (c *CLI) listCommand() *cobra.Command {
	var opts listOpts

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed dependencies",
		Long: `List the dependencies recorded in stackpm-lock.toml and whether each one
is linked into node_modules. Nothing is fetched from the registry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := c.projectDir()
			if err != nil {
				return err
			}
			st, err := install.ProjectStatus(dir)
			if err != nil {
				return err
			}
			if st.Graph == nil {
				printWarning("No %s yet", lock.FileName)
				printNextStep("Install dependencies with", appName+" install")
				return nil
			}
			fmt.Print(renderList(st, opts))
			if !st.UpToDate {
				printWarning("%s is out of date with package.json", lock.FileName)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.depth, "depth", 0, "levels of transitive dependencies to show")
	cmd.Flags().BoolVar(&opts.dev, "dev", false, "show only devDependencies")
	cmd.Flags().BoolVar(&opts.prod, "prod", false, "show only dependencies")
	cmd.MarkFlagsMutuallyExclusive("dev", "prod")
	return cmd
}

// renderList formats the dependency tree of st.
func renderList(st *install.Status, opts listOpts) string {
	var b strings.Builder

	title := st.Manifest.Name
	if title == "" {
		title = "(unnamed)"
	}
	if st.Manifest.Version != "" {
		title += "@" + st.Manifest.Version
	}
	b.WriteString(StyleTitle.Render(title) + "\n")

	states := make(map[string]link.LinkState, len(st.Links))
	for _, s := range st.Links {
		states[s.Name] = s.State
	}

	for _, section := range []struct {
		title string
		dev   bool
		skip  bool
	}{
		{"dependencies", false, opts.dev},
		{"devDependencies", true, opts.prod},
	} {
		if section.skip {
			continue
		}
		var roots []graph.RootEdge
		for _, r := range st.Graph.Roots() {
			if r.Dev == section.dev {
				roots = append(roots, r)
			}
		}
		if len(roots) == 0 {
			continue
		}
		b.WriteString("\n" + StyleDim.Render(section.title+":") + "\n")
		for _, r := range roots {
			line := r.Name + " " + StyleNumber.Render(r.Key.Version)
			switch states[r.Name] {
			case link.Missing:
				line += " " + StyleWarning.Render("(not linked)")
			case link.Elsewhere:
				line += " " + StyleError.Render("(mismatched)")
			}
			b.WriteString(line + "\n")
			writeTree(&b, st.Graph, r.Key, "", opts.depth, map[graph.Key]bool{r.Key: true})
		}
	}
	return b.String()
}

// writeTree prints the dependencies of key down to depth levels. Keys on the
// current path are printed once and not expanded again.
func writeTree(b *strings.Builder, g *graph.Graph, key graph.Key, indent string, depth int, path map[graph.Key]bool) {
	if depth <= 0 {
		return
	}
	n, ok := g.Node(key)
	if !ok {
		return
	}
	edges := n.Edges()
	for i, e := range edges {
		branch, next := "├── ", "│   "
		if i == len(edges)-1 {
			branch, next = "└── ", "    "
		}
		line := indent + StyleDim.Render(branch) + e.Name + " " + StyleNumber.Render(e.To.Version)
		if path[e.To] {
			b.WriteString(line + " " + StyleDim.Render("(cycle)") + "\n")
			continue
		}
		b.WriteString(line + "\n")
		path[e.To] = true
		writeTree(b, g, e.To, indent+next, depth-1, path)
		delete(path, e.To)
	}
}
