package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
)

const layoutVersion = "v1"

// Entry is one imported package tree.
type Entry struct {
	Hash string
	Path string
}

// Store is a handle on a store directory. It holds no state beyond paths,
// so any number of handles and processes may share one root.
type Store struct {
	root      string
	files     string
	tmp       string
	index     string
	integrity string
}

// Open prepares the store layout under root.
func Open(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("store: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}
	base := filepath.Join(abs, layoutVersion)
	s := &Store{
		root:      abs,
		files:     filepath.Join(base, "files"),
		tmp:       filepath.Join(base, "tmp"),
		index:     filepath.Join(base, "index"),
		integrity: filepath.Join(base, "integrity"),
	}
	for _, dir := range []string{s.files, s.tmp, s.index, s.integrity} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &IOError{Op: "open", Err: err}
		}
	}
	return s, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string { return s.root }

func (s *Store) entryPath(hash string) string {
	return filepath.Join(s.files, hash[:2], hash[2:])
}

func (s *Store) indexDir(hash string) string {
	return filepath.Join(s.index, hash[:2], hash[2:])
}

func (s *Store) integrityPath(sri string) string {
	sum := sha256.Sum256([]byte(sri))
	key := hex.EncodeToString(sum[:])
	return filepath.Join(s.integrity, key[:2], key[2:])
}

// Get returns the entry for hash if it exists.
func (s *Store) Get(hash string) (Entry, bool, error) {
	if !ValidHash(hash) {
		return Entry{}, false, fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	path := s.entryPath(hash)
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Entry{}, false, nil
	case err != nil:
		return Entry{}, false, &IOError{Op: "stat", Hash: hash, Err: err}
	case !info.IsDir():
		return Entry{}, false, &IOError{Op: "stat", Hash: hash, Err: errors.New("entry is not a directory")}
	}
	return Entry{Hash: hash, Path: path}, true, nil
}

// Has reports whether an entry for hash exists.
func (s *Store) Has(hash string) bool {
	_, ok, err := s.Get(hash)
	return ok && err == nil
}

// TempDir creates a fresh staging directory on the store's filesystem.
// The caller removes it when done.
func (s *Store) TempDir() (string, error) {
	dir := filepath.Join(s.tmp, uuid.NewString())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", &IOError{Op: "mkdir", Err: err}
	}
	return dir, nil
}

// Ensure imports the tree at src under hash. An existing entry is returned
// as is without reading src.
//
// The copy is staged, hashed again and renamed into place. If the staged copy
// does not hash to hash, nothing is stored and an [*IntegrityError] is
// returned.
func (s *Store) Ensure(hash, src string) (Entry, error) {
	if e, ok, err := s.Get(hash); err != nil {
		return Entry{}, err
	} else if ok {
		return e, nil
	}

	staging := filepath.Join(s.tmp, uuid.NewString())
	if err := CopyTree(src, staging); err != nil {
		_ = os.RemoveAll(staging)
		return Entry{}, &IOError{Op: "stage", Hash: hash, Err: err}
	}

	actual, err := HashDir(staging)
	if err != nil {
		_ = os.RemoveAll(staging)
		return Entry{}, &IOError{Op: "hash", Hash: hash, Err: err}
	}
	if actual != hash {
		_ = os.RemoveAll(staging)
		return Entry{}, &IntegrityError{Hash: hash, Actual: actual}
	}

	dest := s.entryPath(hash)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		_ = os.RemoveAll(staging)
		return Entry{}, &IOError{Op: "mkdir", Hash: hash, Err: err}
	}
	if err := os.Rename(staging, dest); err != nil {
		_ = os.RemoveAll(staging)
		// Another writer may have finished first.
		if e, ok, getErr := s.Get(hash); getErr == nil && ok {
			return e, nil
		}
		return Entry{}, &IOError{Op: "rename", Hash: hash, Err: err}
	}
	return Entry{Hash: hash, Path: dest}, nil
}

// Import hashes src and ensures it is stored.
func (s *Store) Import(src string) (Entry, error) {
	hash, err := HashDir(src)
	if err != nil {
		return Entry{}, &IOError{Op: "hash", Err: err}
	}
	return s.Ensure(hash, src)
}

// Verify re-hashes e. It returns nil when the entry is intact, an
// [*IntegrityError] when its content changed and an [*IOError] when it cannot
// be read.
func (s *Store) Verify(e Entry) error {
	if !ValidHash(e.Hash) {
		return fmt.Errorf("%w: %q", ErrInvalidHash, e.Hash)
	}
	actual, err := HashDir(e.Path)
	if err != nil {
		return &IOError{Op: "verify", Hash: e.Hash, Err: err}
	}
	if actual != e.Hash {
		return &IntegrityError{Hash: e.Hash, Actual: actual}
	}
	return nil
}

// Entries lists every entry, sorted by hash.
func (s *Store) Entries() ([]Entry, error) {
	shards, err := os.ReadDir(s.files)
	if err != nil {
		return nil, &IOError{Op: "list", Err: err}
	}
	var out []Entry
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		items, err := os.ReadDir(filepath.Join(s.files, shard.Name()))
		if err != nil {
			return nil, &IOError{Op: "list", Err: err}
		}
		for _, item := range items {
			hash := shard.Name() + item.Name()
			if !item.IsDir() || !ValidHash(hash) {
				continue
			}
			out = append(out, Entry{Hash: hash, Path: s.entryPath(hash)})
		}
	}
	slices.SortFunc(out, func(a, b Entry) int {
		switch {
		case a.Hash < b.Hash:
			return -1
		case a.Hash > b.Hash:
			return 1
		}
		return 0
	})
	return out, nil
}

// Stats summarizes the store.
type Stats struct {
	Entries  int
	Files    int
	Bytes    int64
	Packages int // distinct name@version recorded in the index
}

// Stats walks every entry and totals files and bytes.
func (s *Store) Stats() (Stats, error) {
	entries, err := s.Entries()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Entries: len(entries)}
	for _, e := range entries {
		err := filepath.WalkDir(e.Path, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				info, err := d.Info()
				if err != nil {
					return err
				}
				st.Files++
				st.Bytes += info.Size()
			}
			return nil
		})
		if err != nil {
			return Stats{}, &IOError{Op: "stat", Hash: e.Hash, Err: err}
		}
		pkgs, err := s.Packages(e.Hash)
		if err != nil {
			return Stats{}, err
		}
		st.Packages += len(pkgs)
	}
	return st, nil
}

// Record notes that pkg (name@version) was imported as hash. Each identity
// is its own marker file, so concurrent writers never drop each other's
// records. The index is informational; entries remain valid without it.
func (s *Store) Record(hash, pkg string) error {
	if !ValidHash(hash) {
		return fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	if pkg == "" {
		return errors.New("store: empty package identity")
	}
	path := filepath.Join(s.indexDir(hash), url.PathEscape(pkg))
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := writeFileAtomic(path, nil); err != nil {
		return &IOError{Op: "index", Hash: hash, Package: pkg, Err: err}
	}
	return nil
}

// Packages returns the package identities recorded for hash, sorted.
func (s *Store) Packages(hash string) ([]string, error) {
	if !ValidHash(hash) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	dirents, err := os.ReadDir(s.indexDir(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &IOError{Op: "index", Hash: hash, Err: err}
	}
	var pkgs []string
	for _, d := range dirents {
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		pkg, err := url.PathUnescape(d.Name())
		if err != nil {
			continue
		}
		pkgs = append(pkgs, pkg)
	}
	slices.Sort(pkgs)
	return pkgs, nil
}

// RecordIntegrity remembers that a tarball with the given SRI integrity
// imported as hash, so later installs can skip the download.
func (s *Store) RecordIntegrity(sri, hash string) error {
	if !ValidHash(hash) {
		return fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	if sri == "" {
		return errors.New("store: empty integrity")
	}
	if err := writeFileAtomic(s.integrityPath(sri), []byte(hash+"\n")); err != nil {
		return &IOError{Op: "index", Hash: hash, Err: err}
	}
	return nil
}

// LookupIntegrity returns the entry a tarball with the given SRI integrity
// was imported as. It reports false when the integrity was never recorded
// or its entry is gone.
func (s *Store) LookupIntegrity(sri string) (Entry, bool, error) {
	if sri == "" {
		return Entry{}, false, nil
	}
	data, err := os.ReadFile(s.integrityPath(sri))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, &IOError{Op: "index", Err: err}
	}
	hash := strings.TrimSpace(string(data))
	if !ValidHash(hash) {
		// A torn or foreign file carries no information worth failing on.
		return Entry{}, false, nil
	}
	return s.Get(hash)
}
