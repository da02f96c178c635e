// Package tarball downloads, verifies and unpacks npm package tarballs.
//
// Downloads are spooled to a temporary file while their digest is computed.
// Nothing is extracted until the digest matches the published integrity, and
// extraction strips the top-level directory (usually "package/") and refuses
// entries that would land outside the destination.
package tarball

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/matzehuels/stackpm/pkg/errors"
	"github.com/matzehuels/stackpm/pkg/integrity"
)

// Opener streams a tarball by URL.
type Opener interface {
	OpenTarball(ctx context.Context, url string) (io.ReadCloser, error)
}

// Fetcher downloads tarballs through an [Opener].
type Fetcher struct {
	opener Opener
	tmpDir string
}

// NewFetcher returns a Fetcher that spools downloads into tmpDir
// (os.TempDir when empty).
func NewFetcher(opener Opener, tmpDir string) *Fetcher {
	return &Fetcher{opener: opener, tmpDir: tmpDir}
}

// Fetch downloads url, checks it against want and extracts it into dest,
// which must not exist yet or be empty. On an integrity mismatch dest is left
// untouched and the error wraps integrity.ErrMismatch.
func (f *Fetcher) Fetch(ctx context.Context, url string, want integrity.Integrity, dest string) error {
	if err := errors.ValidateURL(url); err != nil {
		return err
	}
	body, err := f.opener.OpenTarball(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	if f.tmpDir != "" {
		if err := os.MkdirAll(f.tmpDir, 0755); err != nil {
			return err
		}
	}
	spool, err := os.CreateTemp(f.tmpDir, "stackpm-*.tgz")
	if err != nil {
		return err
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	verifier := want.NewVerifier()
	if _, err := io.Copy(io.MultiWriter(spool, verifier), body); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := verifier.Verify(); err != nil {
		return fmt.Errorf("%s: %w", url, err)
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return Extract(spool, dest)
}

// Extract unpacks a gzipped tar stream into dest, stripping the first path
// component of every entry. Regular files keep their executable bit;
// symlinks, hard links and device entries are skipped.
func Extract(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "read gzip")
	}
	defer gz.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err == tar.ErrInsecurePath {
			return errors.New(errors.ErrCodeInvalidPath, "path escapes its root: %q", hdr.Name)
		}
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidInput, err, "read tar")
		}

		rel := stripFirst(hdr.Name)
		if rel == "" {
			continue
		}
		if err := errors.ValidatePath(rel); err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		}
	}
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	perm := os.FileMode(0644)
	if mode&0111 != 0 {
		perm = 0755
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func stripFirst(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	_, rest, ok := strings.Cut(name, "/")
	if !ok {
		return ""
	}
	return strings.TrimSuffix(rest, "/")
}
