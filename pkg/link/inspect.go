package link

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/matzehuels/stackpm/pkg/graph"
)

const lockPoll = 50 * time.Millisecond

// LinkState describes a root dependency's top-level entry.
type LinkState int

const (
	// Linked means node_modules/<name> points at the expected package.
	Linked LinkState = iota
	// Missing means there is no entry.
	Missing
	// Elsewhere means the entry exists but is not the expected link.
	Elsewhere
)

func (s LinkState) String() string {
	switch s {
	case Linked:
		return "linked"
	case Missing:
		return "missing"
	default:
		return "mismatched"
	}
}

// Status is the link state of one root dependency.
type Status struct {
	Name  string
	Key   graph.Key
	Dev   bool
	State LinkState
}

// Inspect reports, for each root of g, whether projectRoot has it linked.
func Inspect(projectRoot string, g *graph.Graph) []Status {
	var out []Status
	for _, r := range g.Roots() {
		linkPath := path.Join(ModulesDir, r.Name)
		st := Status{Name: r.Name, Key: r.Key, Dev: r.Dev, State: Linked}
		op := Op{Kind: OpSymlink, Path: linkPath, Target: relLink(linkPath, PackageDir(r.Key))}
		if !intact(projectRoot, op) {
			_, err := os.Lstat(filepath.Join(projectRoot, filepath.FromSlash(linkPath)))
			if errors.Is(err, fs.ErrNotExist) {
				st.State = Missing
			} else {
				st.State = Elsewhere
			}
		}
		out = append(out, st)
	}
	return out
}

// Unlink removes everything a previous Link created in projectRoot.
func (l *Linker) Unlink(ctx context.Context, projectRoot string) (*Result, error) {
	return l.Link(ctx, graph.New(), projectRoot)
}
