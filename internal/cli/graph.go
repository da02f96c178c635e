package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
	"github.com/matzehuels/stackpm/pkg/graph"
	"github.com/matzehuels/stackpm/pkg/install"
	"github.com/matzehuels/stackpm/pkg/lock"
	"github.com/matzehuels/stackpm/pkg/render/nodelink"
)

// Output formats supported by the graph command.
const (
	formatDOT  = "dot"
	formatSVG  = "svg"
	formatJSON = "json"
)

// graphOpts holds the command-line flags for the graph command.
type graphOpts struct {
	format   string
	output   string
	detailed bool
	prod     bool
}

// graphCommand creates the graph command.
func (c *CLI) graphCommand() *cobra.Command {
	opts := graphOpts{format: formatDOT}

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the locked dependency graph",
		Long: `Render the dependency graph recorded in stackpm-lock.toml as Graphviz DOT,
SVG or a JSON node/edge list.

Examples:
  stackpm graph > deps.dot
  stackpm graph --format svg -o deps.svg
  stackpm graph --format json --prod`,
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
				return pmerrors.New(pmerrors.ErrCodeNotFound, "no %s in %s; run %s install first", lock.FileName, dir, appName)
			}

			project := st.Manifest.Name
			data, err := renderGraph(st, opts, project)
			if err != nil {
				return err
			}
			if opts.output == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(opts.output, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", opts.output, err)
			}
			printSuccess("Rendered %d packages", st.Graph.Len())
			printFile(opts.output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", opts.format, "output format: dot, svg or json")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (stdout if empty)")
	cmd.Flags().BoolVar(&opts.detailed, "detailed", false, "show ranges and content hashes")
	cmd.Flags().BoolVar(&opts.prod, "prod", false, "leave out devDependencies")
	return cmd
}

func renderGraph(st *install.Status, opts graphOpts, project string) ([]byte, error) {
	nlOpts := nodelink.Options{
		Project:  project,
		Detailed: opts.detailed,
		SkipDev:  opts.prod,
	}
	switch opts.format {
	case formatDOT:
		return []byte(nodelink.ToDOT(st.Graph, nlOpts)), nil
	case formatSVG:
		return nodelink.RenderSVG(nodelink.ToDOT(st.Graph, nlOpts))
	case formatJSON:
		g := st.Graph
		if opts.prod {
			var err error
			if g, err = g.Production(); err != nil {
				return nil, err
			}
		}
		var buf bytes.Buffer
		if err := graph.WriteGraph(g, &buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, pmerrors.New(pmerrors.ErrCodeInvalidInput, "unknown format %q (want %s, %s or %s)", opts.format, formatDOT, formatSVG, formatJSON)
	}
}
