package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"testing"

	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		perm := os.FileMode(0o644)
		if filepath.Base(filepath.Dir(path)) == "bin" {
			perm = 0o755
		}
		if err := os.WriteFile(path, []byte(content), perm); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(path, perm); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func mustHash(t *testing.T, dir string) string {
	t.Helper()
	h, err := HashDir(dir)
	if err != nil {
		t.Fatalf("HashDir: %v", err)
	}
	return h
}

func TestHashDir(t *testing.T) {
	base := map[string]string{"package.json": `{"name":"a"}`, "lib/index.js": "x", "bin/cli": "#!/bin/sh"}
	h := mustHash(t, writeTree(t, base))

	if !ValidHash(h) {
		t.Fatalf("HashDir returned %q", h)
	}
	if again := mustHash(t, writeTree(t, base)); again != h {
		t.Error("identical trees hash differently")
	}

	changed := map[string]string{"package.json": `{"name":"a"}`, "lib/index.js": "y", "bin/cli": "#!/bin/sh"}
	if mustHash(t, writeTree(t, changed)) == h {
		t.Error("content change not reflected")
	}

	renamed := map[string]string{"package.json": `{"name":"a"}`, "lib/main.js": "x", "bin/cli": "#!/bin/sh"}
	if mustHash(t, writeTree(t, renamed)) == h {
		t.Error("rename not reflected")
	}

	dir := writeTree(t, base)
	if err := os.Chmod(filepath.Join(dir, "bin", "cli"), 0o644); err != nil {
		t.Fatal(err)
	}
	if mustHash(t, dir) == h {
		t.Error("exec bit not reflected")
	}
}

func TestHashDirIgnoresSymlinksAndTimes(t *testing.T) {
	files := map[string]string{"index.js": "x"}
	h := mustHash(t, writeTree(t, files))

	dir := writeTree(t, files)
	if err := os.Symlink("index.js", filepath.Join(dir, "alias.js")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if mustHash(t, dir) != h {
		t.Error("symlink changed the hash")
	}
}

func TestEnsure(t *testing.T) {
	s := openStore(t)
	src := writeTree(t, map[string]string{"package.json": "{}", "index.js": "module.exports = 1"})
	hash := mustHash(t, src)

	e, err := s.Ensure(hash, src)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if e.Hash != hash || !s.Has(hash) {
		t.Fatalf("entry = %+v", e)
	}
	data, err := os.ReadFile(filepath.Join(e.Path, "index.js"))
	if err != nil || string(data) != "module.exports = 1" {
		t.Fatalf("stored content = %q, %v", data, err)
	}
	if got := mustHash(t, e.Path); got != hash {
		t.Errorf("stored tree hashes to %s", got)
	}

	// A second Ensure with the same hash must not read src at all.
	again, err := s.Ensure(hash, filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Ensure existing: %v", err)
	}
	if again != e {
		t.Errorf("Ensure existing = %+v, want %+v", again, e)
	}
}

func TestEnsureSharesIdenticalContent(t *testing.T) {
	s := openStore(t)
	a := writeTree(t, map[string]string{"index.js": "same"})
	b := writeTree(t, map[string]string{"index.js": "same"})

	ea, err := s.Import(a)
	if err != nil {
		t.Fatal(err)
	}
	eb, err := s.Import(b)
	if err != nil {
		t.Fatal(err)
	}
	if ea != eb {
		t.Errorf("identical content stored twice: %v vs %v", ea, eb)
	}
	entries, _ := s.Entries()
	if len(entries) != 1 {
		t.Errorf("Entries() = %d, want 1", len(entries))
	}
}

func TestEnsureRejectsWrongHash(t *testing.T) {
	s := openStore(t)
	src := writeTree(t, map[string]string{"index.js": "x"})
	wrong := mustHash(t, writeTree(t, map[string]string{"index.js": "y"}))

	_, err := s.Ensure(wrong, src)
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want *IntegrityError", err)
	}
	if s.Has(wrong) {
		t.Error("mismatched content was stored")
	}
	if pmerrors.GetCode(err) != pmerrors.ErrCodeIntegrityMismatch {
		t.Errorf("code = %s", pmerrors.GetCode(err))
	}
	staged, _ := os.ReadDir(s.tmp)
	if len(staged) != 0 {
		t.Errorf("staging not cleaned up: %d entries", len(staged))
	}
}

func TestEnsureConcurrent(t *testing.T) {
	s := openStore(t)
	src := writeTree(t, map[string]string{"index.js": "racy", "lib/a.js": "a"})
	hash := mustHash(t, src)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			other, err := Open(s.Root())
			if err != nil {
				errs <- err
				return
			}
			if _, err := other.Ensure(hash, src); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Ensure: %v", err)
	}

	e, ok, err := s.Get(hash)
	if err != nil || !ok {
		t.Fatalf("Get: %v, %v", ok, err)
	}
	if err := s.Verify(e); err != nil {
		t.Errorf("Verify after race: %v", err)
	}
	staged, _ := os.ReadDir(s.tmp)
	if len(staged) != 0 {
		t.Errorf("%d staging dirs left behind", len(staged))
	}
}

func TestVerify(t *testing.T) {
	s := openStore(t)
	e, err := s.Import(writeTree(t, map[string]string{"index.js": "ok"}))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Verify(e); err != nil {
		t.Fatalf("Verify intact: %v", err)
	}

	if err := os.WriteFile(filepath.Join(e.Path, "index.js"), []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	err = s.Verify(e)
	var ie *IntegrityError
	if !errors.As(err, &ie) || ie.Hash != e.Hash || ie.Actual == e.Hash {
		t.Fatalf("Verify tampered = %v", err)
	}

	named := WithPackage(err, "a@1.0.0")
	if !errors.As(named, &ie) || ie.Package != "a@1.0.0" {
		t.Errorf("WithPackage = %v", named)
	}

	err = s.Verify(Entry{Hash: e.Hash, Path: filepath.Join(t.TempDir(), "gone")})
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Errorf("Verify missing = %v, want *IOError", err)
	}
}

func TestGetInvalidHash(t *testing.T) {
	s := openStore(t)
	for _, h := range []string{"", "abc", "../../../../etc/passwd", "ZZ" + mustHash(t, t.TempDir())[2:]} {
		if _, _, err := s.Get(h); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("Get(%q) = %v, want ErrInvalidHash", h, err)
		}
	}
}

func TestStatsAndIndex(t *testing.T) {
	s := openStore(t)
	e, err := s.Import(writeTree(t, map[string]string{"a.js": "12345", "b/c.js": "678"}))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Record(e.Hash, "a@1.0.0"); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(e.Hash, "a@1.0.1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(e.Hash, "a@1.0.0"); err != nil {
		t.Fatal(err)
	}

	pkgs, err := s.Packages(e.Hash)
	if err != nil || len(pkgs) != 2 {
		t.Fatalf("Packages = %v, %v", pkgs, err)
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{Entries: 1, Files: 2, Bytes: 8, Packages: 2}
	if st != want {
		t.Errorf("Stats = %+v, want %+v", st, want)
	}
}

func TestRecordConcurrent(t *testing.T) {
	s := openStore(t)
	e, err := s.Import(writeTree(t, map[string]string{"index.js": "x"}))
	if err != nil {
		t.Fatal(err)
	}

	const n = 16
	var want []string
	for i := range n {
		want = append(want, fmt.Sprintf("@scope/pkg-%02d@1.0.0+build.%d", i, i))
	}

	// Separate handles, as separate processes would use.
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, pkg := range want {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := Open(s.Root())
			if err != nil {
				errs[i] = err
				return
			}
			errs[i] = h.Record(e.Hash, pkg)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Record(%s): %v", want[i], err)
		}
	}

	got, err := s.Packages(e.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, want) {
		t.Errorf("Packages = %v\nwant %v", got, want)
	}
}

func TestLookupIntegrity(t *testing.T) {
	s := openStore(t)
	e, err := s.Import(writeTree(t, map[string]string{"index.js": "x"}))
	if err != nil {
		t.Fatal(err)
	}
	const sri = "sha512-AAAA/BBBB+CCCC=="

	if _, ok, err := s.LookupIntegrity(sri); ok || err != nil {
		t.Fatalf("unrecorded integrity found: %v, %v", ok, err)
	}
	if err := s.RecordIntegrity(sri, e.Hash); err != nil {
		t.Fatal(err)
	}

	// A fresh handle sees the record.
	h, err := Open(s.Root())
	if err != nil {
		t.Fatal(err)
	}
	got, ok, err := h.LookupIntegrity(sri)
	if err != nil || !ok {
		t.Fatalf("LookupIntegrity = %v, %v", ok, err)
	}
	if got != e {
		t.Errorf("LookupIntegrity = %+v, want %+v", got, e)
	}

	if _, ok, _ := s.LookupIntegrity("sha512-other"); ok {
		t.Error("different integrity should not match")
	}
	if _, ok, _ := s.LookupIntegrity(""); ok {
		t.Error("empty integrity should not match")
	}
	if err := s.RecordIntegrity(sri, "nothex"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("RecordIntegrity(invalid) = %v, want ErrInvalidHash", err)
	}

	// An entry that disappeared is not reported.
	if err := os.RemoveAll(e.Path); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.LookupIntegrity(sri); ok || err != nil {
		t.Errorf("lookup of removed entry = %v, %v", ok, err)
	}
}

func TestIOErrorTransient(t *testing.T) {
	err := &IOError{Op: "rename", Err: &os.LinkError{Op: "rename", Err: syscall.EBUSY}}
	if !IsTransient(err) {
		t.Error("EBUSY should be transient")
	}
	if IsTransient(&IOError{Op: "stat", Err: os.ErrPermission}) {
		t.Error("permission errors are not transient")
	}
}
