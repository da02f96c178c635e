package link

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matzehuels/stackpm/pkg/graph"
	"github.com/matzehuels/stackpm/pkg/observability"
	"github.com/matzehuels/stackpm/pkg/store"
)

const (
	stateFile = "state.json"
	lockName  = ".lock"
)

// ImportMethod selects how package files are placed in the virtual store.
type ImportMethod string

const (
	// ImportAuto hardlinks files and falls back to copying per file.
	ImportAuto ImportMethod = "auto"
	// ImportHardlink requires hardlinks.
	ImportHardlink ImportMethod = "hardlink"
	// ImportCopy always copies.
	ImportCopy ImportMethod = "copy"
)

// ParseImportMethod validates a configured import method.
func ParseImportMethod(s string) (ImportMethod, error) {
	switch m := ImportMethod(s); m {
	case "":
		return ImportAuto, nil
	case ImportAuto, ImportHardlink, ImportCopy:
		return m, nil
	}
	return "", fmt.Errorf("unknown import method %q (want auto, hardlink or copy)", s)
}

// Options configures a Linker. Use [DefaultOptions] for the usual settings;
// the zero value disables hoisting and store verification.
type Options struct {
	Hoist        bool
	VerifyStore  bool
	ImportMethod ImportMethod
	Logger       func(string, ...any)
}

// DefaultOptions returns hoisting and store verification on, auto import.
func DefaultOptions() Options {
	return Options{Hoist: true, VerifyStore: true, ImportMethod: ImportAuto}
}

// WithDefaults returns a copy of Options with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	opts := o
	if opts.ImportMethod == "" {
		opts.ImportMethod = ImportAuto
	}
	if opts.Logger == nil {
		opts.Logger = func(string, ...any) {}
	}
	return opts
}

// Linker applies graphs to project directories.
type Linker struct {
	store *store.Store
	opts  Options
}

// New creates a Linker importing from s.
func New(s *store.Store, opts Options) *Linker {
	return &Linker{store: s, opts: opts.WithDefaults()}
}

// Result summarizes a Link call.
type Result struct {
	Created   int
	Removed   int
	Unchanged int
	Hoisted   []string
	Cycles    []graph.CycleWarning
}

type state struct {
	Version int    `json:"version"`
	Store   string `json:"store"`
	Plan
}

// Link makes projectRoot/node_modules match g. Linking the same graph again
// changes nothing. Linkers on the same project root are serialized with a
// lock file; different roots link concurrently.
func (l *Linker) Link(ctx context.Context, g *graph.Graph, projectRoot string) (*Result, error) {
	start := time.Now()
	res, err := l.link(ctx, g, projectRoot)
	var created, removed, unchanged int
	if res != nil {
		created, removed, unchanged = res.Created, res.Removed, res.Unchanged
	}
	observability.Install().OnLinkComplete(ctx, created, removed, unchanged, time.Since(start), err)
	return res, err
}

func (l *Linker) link(ctx context.Context, g *graph.Graph, projectRoot string) (*Result, error) {
	plan, err := BuildPlan(g, l.opts.Hoist)
	if err != nil {
		return nil, err
	}
	entries, err := l.checkStore(plan)
	if err != nil {
		return nil, err
	}

	vstore := filepath.Join(projectRoot, ModulesDir, VirtualStoreDir)
	if err := os.MkdirAll(vstore, 0o755); err != nil {
		return nil, &Error{Kind: Filesystem, Path: path.Join(ModulesDir, VirtualStoreDir), Err: err}
	}
	unlock, err := lockProject(ctx, filepath.Join(vstore, lockName))
	if err != nil {
		return nil, &Error{Kind: Filesystem, Path: path.Join(ModulesDir, VirtualStoreDir, lockName), Err: err}
	}
	defer unlock()

	old := readState(filepath.Join(vstore, stateFile))
	oldIndex := old.index()
	newIndex := plan.index()

	// Track the union first so an interrupted run can be reconciled.
	pending := Plan{Ops: slices.Clone(plan.Ops), Hoisted: plan.Hoisted}
	for _, op := range old.Ops {
		if _, ok := newIndex[op.Path]; !ok {
			pending.Ops = append(pending.Ops, op)
		}
	}
	if err := l.writeState(vstore, pending); err != nil {
		return nil, err
	}

	res := &Result{Hoisted: plan.Hoisted, Cycles: g.Cycles()}

	// Remove stale entries, deepest paths first.
	var stale []Op
	for _, op := range old.Ops {
		if _, ok := newIndex[op.Path]; !ok {
			stale = append(stale, op)
		}
	}
	slices.SortFunc(stale, func(a, b Op) int { return strings.Compare(b.Path, a.Path) })
	for _, op := range stale {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := removeEntry(projectRoot, op); err != nil {
			return nil, &Error{Kind: Filesystem, Path: op.Path, Node: op.Node, Err: err}
		}
		l.opts.Logger("removed %s", op.Path)
		res.Removed++
	}

	for _, op := range plan.sorted() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if prev, ok := oldIndex[op.Path]; ok && prev == op && intact(projectRoot, op) {
			res.Unchanged++
			continue
		}
		if err := l.apply(projectRoot, op, entries[op.Target]); err != nil {
			return nil, err
		}
		res.Created++
	}

	if err := l.writeState(vstore, *plan); err != nil {
		return nil, err
	}
	pruneEmptyDirs(vstore)
	return res, nil
}

// checkStore resolves every import to its store entry, verifying content if
// configured. It runs before any filesystem change.
func (l *Linker) checkStore(plan *Plan) (map[string]store.Entry, error) {
	entries := make(map[string]store.Entry)
	for _, op := range plan.Ops {
		if op.Kind != OpImport {
			continue
		}
		if _, done := entries[op.Target]; done {
			continue
		}
		e, ok, err := l.store.Get(op.Target)
		if err != nil {
			return nil, &Error{Kind: MissingStoreEntry, Path: op.Path, Node: op.Node, Err: err}
		}
		if !ok {
			return nil, &Error{Kind: MissingStoreEntry, Path: op.Path, Node: op.Node, Err: fmt.Errorf("no store entry %s", op.Target)}
		}
		if l.opts.VerifyStore {
			if err := l.store.Verify(e); err != nil {
				return nil, store.WithPackage(err, op.Node)
			}
		}
		entries[op.Target] = e
	}
	return entries, nil
}

func (l *Linker) apply(projectRoot string, op Op, e store.Entry) error {
	dst := filepath.Join(projectRoot, filepath.FromSlash(op.Path))
	if err := os.RemoveAll(dst); err != nil {
		return &Error{Kind: Filesystem, Path: op.Path, Node: op.Node, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &Error{Kind: Filesystem, Path: op.Path, Node: op.Node, Err: err}
	}

	switch op.Kind {
	case OpImport:
		tmp := dst + ".tmp-" + uuid.NewString()[:8]
		if err := importTree(e.Path, tmp, l.opts.ImportMethod); err != nil {
			_ = os.RemoveAll(tmp)
			kind := Filesystem
			if errors.Is(err, errHardlinkUnsupported) {
				kind = UnsupportedLinkType
			}
			return &Error{Kind: kind, Path: op.Path, Node: op.Node, Err: err}
		}
		if err := os.Rename(tmp, dst); err != nil {
			_ = os.RemoveAll(tmp)
			return &Error{Kind: Filesystem, Path: op.Path, Node: op.Node, Err: err}
		}
		l.opts.Logger("imported %s", op.Node)
	case OpSymlink:
		if err := os.Symlink(filepath.FromSlash(op.Target), dst); err != nil {
			kind := Filesystem
			if isUnsupported(err) {
				kind = UnsupportedLinkType
			}
			return &Error{Kind: kind, Path: op.Path, Node: op.Node, Err: err}
		}
	default:
		return &Error{Kind: Filesystem, Path: op.Path, Node: op.Node, Err: fmt.Errorf("unknown op %q", op.Kind)}
	}
	return nil
}

// writeState records p as the applied plan. An identical state file is left
// untouched.
func (l *Linker) writeState(vstore string, p Plan) error {
	data, err := json.MarshalIndent(state{Version: 1, Store: l.store.Root(), Plan: p}, "", "  ")
	if err != nil {
		return &Error{Kind: Filesystem, Path: path.Join(ModulesDir, VirtualStoreDir, stateFile), Err: err}
	}
	if cur, err := os.ReadFile(filepath.Join(vstore, stateFile)); err == nil && bytes.Equal(cur, data) {
		return nil
	}
	tmp := filepath.Join(vstore, stateFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &Error{Kind: Filesystem, Path: path.Join(ModulesDir, VirtualStoreDir, stateFile), Err: err}
	}
	if err := os.Rename(tmp, filepath.Join(vstore, stateFile)); err != nil {
		return &Error{Kind: Filesystem, Path: path.Join(ModulesDir, VirtualStoreDir, stateFile), Err: err}
	}
	return nil
}

// readState returns the last applied plan. A missing or unreadable state
// is an empty plan; entries it would have listed are then simply recreated.
func readState(path string) *Plan {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Plan{}
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil || st.Version != 1 {
		return &Plan{}
	}
	return &st.Plan
}

// State returns the plan last applied to projectRoot, or nil if the project
// has never been linked.
func State(projectRoot string) *Plan {
	p := readState(filepath.Join(projectRoot, ModulesDir, VirtualStoreDir, stateFile))
	if len(p.Ops) == 0 {
		return nil
	}
	return p
}

func removeEntry(projectRoot string, op Op) error {
	p := filepath.Join(projectRoot, filepath.FromSlash(op.Path))
	info, err := os.Lstat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return os.Remove(p)
	}
	if op.Kind == OpSymlink {
		// Replaced by something we did not create; leave it.
		return nil
	}
	return os.RemoveAll(p)
}

func intact(projectRoot string, op Op) bool {
	p := filepath.Join(projectRoot, filepath.FromSlash(op.Path))
	info, err := os.Lstat(p)
	if err != nil {
		return false
	}
	switch op.Kind {
	case OpSymlink:
		if info.Mode()&fs.ModeSymlink == 0 {
			return false
		}
		target, err := os.Readlink(p)
		return err == nil && filepath.ToSlash(target) == op.Target
	case OpImport:
		return info.IsDir()
	}
	return false
}

// pruneEmptyDirs removes virtual store directories left empty by removals.
func pruneEmptyDirs(vstore string) {
	dirs, err := os.ReadDir(vstore)
	if err != nil {
		return
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		removeIfEmpty(filepath.Join(vstore, d.Name()))
	}
	// Scope directories at the top level.
	modules := filepath.Dir(vstore)
	if tops, err := os.ReadDir(modules); err == nil {
		for _, d := range tops {
			if d.IsDir() && strings.HasPrefix(d.Name(), "@") {
				removeIfEmpty(filepath.Join(modules, d.Name()))
			}
		}
	}
}

// removeIfEmpty removes dir when its whole tree holds nothing but
// directories.
func removeIfEmpty(dir string) {
	if emptyTree(dir) {
		_ = os.RemoveAll(dir)
	}
}

func emptyTree(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() || !emptyTree(filepath.Join(dir, e.Name())) {
			return false
		}
	}
	return true
}
