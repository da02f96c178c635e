package link

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/matzehuels/stackpm/pkg/store"
)

var errHardlinkUnsupported = errors.New("hardlinks not supported")

// importTree recreates the store entry at src under dst. Files are
// hardlinked to the store or copied, depending on method.
func importTree(src, dst string, method ImportMethod) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case !d.Type().IsRegular():
			return nil
		}

		if method != ImportCopy {
			linkErr := os.Link(p, target)
			if linkErr == nil {
				return nil
			}
			if method == ImportHardlink {
				return fmt.Errorf("%w: %v", errHardlinkUnsupported, linkErr)
			}
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return store.CopyFile(p, target, info.Mode().Perm())
	})
}
