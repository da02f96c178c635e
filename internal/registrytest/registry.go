// Package registrytest runs an in-process npm registry for tests.
//
// Packages are published from Go values; the registry builds real gzipped
// tarballs (with the conventional "package/" prefix), computes their sha512
// integrity and serves abbreviated packuments, so the full install pipeline
// can run offline.
package registrytest

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"

	"github.com/matzehuels/stackpm/pkg/integrity"
)

// Package describes one published version.
type Package struct {
	Name                 string
	Version              string
	Dependencies         map[string]string
	OptionalDependencies map[string]string
	PeerDependencies     map[string]string

	// Files maps relative paths to contents. A package.json is generated
	// when Files does not provide one. Paths under bin/ are executable.
	Files map[string]string
}

type version struct {
	pkg       Package
	tarball   []byte
	integrity string
	file      string
}

// Registry is a fake npm registry backed by an httptest.Server.
type Registry struct {
	mu        sync.Mutex
	versions  map[string]map[string]*version
	tags      map[string]map[string]string
	pinned    map[string]bool
	files     map[string]*version
	fetches   map[string]int
	downloads map[string]int
	fail      map[string]int
	corrupt   map[string]int
	delay     time.Duration

	server *httptest.Server
}

// New starts a registry that is shut down when the test ends.
func New(t testing.TB) *Registry {
	t.Helper()
	r := &Registry{
		versions:  make(map[string]map[string]*version),
		tags:      make(map[string]map[string]string),
		pinned:    make(map[string]bool),
		files:     make(map[string]*version),
		fetches:   make(map[string]int),
		downloads: make(map[string]int),
		fail:      make(map[string]int),
		corrupt:   make(map[string]int),
	}

	router := chi.NewRouter()
	router.Get("/-/tarballs/{file}", r.serveTarball)
	router.Get("/*", r.servePackument)

	r.server = httptest.NewServer(router)
	t.Cleanup(r.server.Close)
	return r
}

// URL returns the registry base URL.
func (r *Registry) URL() string { return r.server.URL }

// Client returns an HTTP client for the registry.
func (r *Registry) Client() *http.Client { return r.server.Client() }

// Publish adds a version. The latest tag follows the most recent publish
// unless it was set explicitly with Tag.
func (r *Registry) Publish(p Package) {
	tgz, err := buildTarball(p)
	if err != nil {
		panic(fmt.Sprintf("registrytest: build tarball for %s@%s: %v", p.Name, p.Version, err))
	}

	v := &version{
		pkg:       p,
		tarball:   tgz,
		integrity: integrity.Compute(integrity.SHA512, tgz).String(),
		file:      tarballName(p.Name, p.Version),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.versions[p.Name] == nil {
		r.versions[p.Name] = make(map[string]*version)
		r.tags[p.Name] = make(map[string]string)
	}
	r.versions[p.Name][p.Version] = v
	r.files[v.file] = v
	if !r.pinned[p.Name] {
		r.tags[p.Name]["latest"] = p.Version
	}
}

// Tag points a dist-tag at a version.
func (r *Registry) Tag(name, tag, ver string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tags[name] == nil {
		r.tags[name] = make(map[string]string)
	}
	r.tags[name][tag] = ver
	if tag == "latest" {
		r.pinned[name] = true
	}
}

// Integrity returns the published integrity of a version.
func (r *Registry) Integrity(name, ver string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v := r.versions[name][ver]; v != nil {
		return v.integrity
	}
	return ""
}

// Fetches returns how many times the packument for name was requested.
func (r *Registry) Fetches(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches[name]
}

// Downloads returns how many times the tarball of name@ver was requested.
func (r *Registry) Downloads(name, ver string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.downloads[name+"@"+ver]
}

// SetDelay slows every packument response.
func (r *Registry) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// FailNext makes the next n packument requests for name return 500.
func (r *Registry) FailNext(name string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[name] = n
}

// CorruptNext makes the next n downloads of name@ver serve bytes that do not
// match the published integrity.
func (r *Registry) CorruptNext(name, ver string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrupt[name+"@"+ver] = n
}

func (r *Registry) servePackument(w http.ResponseWriter, req *http.Request) {
	raw := chi.URLParam(req, "*")
	if req.URL.RawPath != "" {
		raw = strings.TrimPrefix(req.URL.RawPath, "/")
	}
	name, err := url.PathUnescape(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	r.fetches[name]++
	delay := r.delay
	failing := r.fail[name] > 0
	if failing {
		r.fail[name]--
	}
	doc, ok := r.packument(name, "http://"+req.Host)
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			return
		}
	}
	if failing {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"Not found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.npm.install-v1+json")
	json.NewEncoder(w).Encode(doc)
}

type packumentDoc struct {
	Name     string                 `json:"name"`
	DistTags map[string]string      `json:"dist-tags"`
	Versions map[string]manifestDoc `json:"versions"`
}

type manifestDoc struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Dependencies         map[string]string `json:"dependencies,omitempty"`
	OptionalDependencies map[string]string `json:"optionalDependencies,omitempty"`
	PeerDependencies     map[string]string `json:"peerDependencies,omitempty"`
	Dist                 distDoc           `json:"dist"`
}

type distDoc struct {
	Tarball   string `json:"tarball"`
	Integrity string `json:"integrity"`
}

// packument must be called with r.mu held.
func (r *Registry) packument(name, base string) (packumentDoc, bool) {
	vs, ok := r.versions[name]
	if !ok {
		return packumentDoc{}, false
	}
	doc := packumentDoc{
		Name:     name,
		DistTags: make(map[string]string),
		Versions: make(map[string]manifestDoc, len(vs)),
	}
	for tag, v := range r.tags[name] {
		doc.DistTags[tag] = v
	}
	for ver, v := range vs {
		doc.Versions[ver] = manifestDoc{
			Name:                 name,
			Version:              ver,
			Dependencies:         v.pkg.Dependencies,
			OptionalDependencies: v.pkg.OptionalDependencies,
			PeerDependencies:     v.pkg.PeerDependencies,
			Dist: distDoc{
				Tarball:   base + "/-/tarballs/" + v.file,
				Integrity: v.integrity,
			},
		}
	}
	return doc, true
}

func (r *Registry) serveTarball(w http.ResponseWriter, req *http.Request) {
	file := chi.URLParam(req, "file")

	r.mu.Lock()
	v, ok := r.files[file]
	var body []byte
	if ok {
		key := v.pkg.Name + "@" + v.pkg.Version
		r.downloads[key]++
		body = v.tarball
		if r.corrupt[key] > 0 {
			r.corrupt[key]--
			body = append(bytes.Clone(v.tarball), 0)
		}
	}
	r.mu.Unlock()

	if !ok {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(body)
}

func tarballName(name, ver string) string {
	return strings.NewReplacer("@", "", "/", "-").Replace(name) + "-" + ver + ".tgz"
}

func buildTarball(p Package) ([]byte, error) {
	files := make(map[string]string, len(p.Files)+1)
	for k, v := range p.Files {
		files[k] = v
	}
	if _, ok := files["package.json"]; !ok {
		manifest, err := json.MarshalIndent(map[string]any{
			"name":         p.Name,
			"version":      p.Version,
			"dependencies": p.Dependencies,
		}, "", "  ")
		if err != nil {
			return nil, err
		}
		files["package.json"] = string(manifest)
	}

	paths := make([]string, 0, len(files))
	for k := range files {
		paths = append(paths, k)
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	epoch := time.Date(1985, 10, 26, 8, 15, 0, 0, time.UTC)
	for _, path := range paths {
		mode := int64(0644)
		if strings.HasPrefix(path, "bin/") {
			mode = 0755
		}
		hdr := &tar.Header{
			Name:     "package/" + path,
			Mode:     mode,
			Size:     int64(len(files[path])),
			ModTime:  epoch,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write([]byte(files[path])); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
