package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
)

type hashEntry struct {
	rel  string
	dir  bool
	exec bool
	size int64
}

// HashDir returns the content hash of the tree rooted at dir.
//
// The hash covers every directory and regular file: its slash-separated path
// relative to dir, its type, the executable bit and, for files, size and
// bytes. Entries are hashed in sorted path order, so the result does not
// depend on directory listing order, timestamps or ownership. Symlinks are
// skipped.
func HashDir(dir string) (string, error) {
	var entries []hashEntry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			entries = append(entries, hashEntry{rel: filepath.ToSlash(rel), dir: true})
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			entries = append(entries, hashEntry{
				rel:  filepath.ToSlash(rel),
				exec: info.Mode().Perm()&0o111 != 0,
				size: info.Size(),
			})
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	slices.SortFunc(entries, func(a, b hashEntry) int {
		switch {
		case a.rel < b.rel:
			return -1
		case a.rel > b.rel:
			return 1
		}
		return 0
	})

	h := sha256.New()
	for _, e := range entries {
		if e.dir {
			fmt.Fprintf(h, "d\x00%s\x00", e.rel)
			continue
		}
		mode := "-"
		if e.exec {
			mode = "x"
		}
		fmt.Fprintf(h, "f\x00%s\x00%s\x00%s\x00", e.rel, mode, strconv.FormatInt(e.size, 10))
		if err := hashFile(h, filepath.Join(dir, filepath.FromSlash(e.rel))); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// ValidHash reports whether hash is a lowercase hex SHA-256 digest.
func ValidHash(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
