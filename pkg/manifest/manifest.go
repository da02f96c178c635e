// Package manifest reads and edits a project's package.json.
//
// Only the dependency sections are interpreted. Every other field is kept as
// raw JSON and written back in its original position, so editing a manifest
// with [Manifest.Add] or [Manifest.Remove] changes nothing but the affected
// entries.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/matzehuels/stackpm/pkg/deps"
	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
)

// FileName is the manifest file name.
const FileName = "package.json"

const (
	sectionDependencies         = "dependencies"
	sectionDevDependencies      = "devDependencies"
	sectionOptionalDependencies = "optionalDependencies"
)

var sections = []string{sectionDependencies, sectionDevDependencies, sectionOptionalDependencies}

type field struct {
	key   string
	value json.RawMessage
}

// Manifest is a parsed package.json.
type Manifest struct {
	Path    string
	Name    string
	Version string

	Dependencies         map[string]string
	DevDependencies      map[string]string
	OptionalDependencies map[string]string

	fields []field
}

// New returns an empty manifest that will be saved to dir.
func New(dir string) *Manifest {
	return &Manifest{
		Path:                 filepath.Join(dir, FileName),
		Dependencies:         map[string]string{},
		DevDependencies:      map[string]string{},
		OptionalDependencies: map[string]string{},
	}
}

// Load reads dir/package.json.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, pmerrors.Wrap(pmerrors.ErrCodeManifestNotFound, err, "no %s in %s", FileName, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	m.Path = path
	return m, nil
}

// Parse decodes package.json content.
func Parse(data []byte) (*Manifest, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.ErrCodeInvalidManifest, err, "parse %s", FileName)
	}

	m := New("")
	m.Path = ""
	m.fields = fields
	for _, f := range fields {
		var err error
		switch f.key {
		case "name":
			err = json.Unmarshal(f.value, &m.Name)
		case "version":
			err = json.Unmarshal(f.value, &m.Version)
		case sectionDependencies:
			err = decodeSection(f.value, m.Dependencies)
		case sectionDevDependencies:
			err = decodeSection(f.value, m.DevDependencies)
		case sectionOptionalDependencies:
			err = decodeSection(f.value, m.OptionalDependencies)
		}
		if err != nil {
			return nil, pmerrors.Wrap(pmerrors.ErrCodeInvalidManifest, err, "field %q", f.key)
		}
	}
	return m, nil
}

func decodeSection(raw json.RawMessage, into map[string]string) error {
	if string(raw) == "null" {
		return nil
	}
	var section map[string]string
	if err := json.Unmarshal(raw, &section); err != nil {
		return err
	}
	for name, rng := range section {
		into[name] = rng
	}
	return nil
}

// decodeObject splits a JSON object into its top-level fields in order.
func decodeObject(data []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("top-level value is not an object")
	}

	var fields []field
	seen := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		// Later duplicates win, matching encoding/json.
		if i, dup := seen[key]; dup {
			fields[i].value = value
			continue
		}
		seen[key] = len(fields)
		fields = append(fields, field{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after object")
	}
	return fields, nil
}

// Requirements returns the root requirements: dependencies and
// optionalDependencies, then devDependencies when includeDev is set. Each
// group is sorted by name. A name listed in more than one section appears
// once; production sections win over devDependencies.
func (m *Manifest) Requirements(includeDev bool) []deps.Requirement {
	seen := make(map[string]bool)
	var out []deps.Requirement
	add := func(section map[string]string, dev bool) {
		names := make([]string, 0, len(section))
		for name := range section {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, deps.Requirement{Name: name, Range: section[name], Dev: dev})
		}
	}
	add(m.Dependencies, false)
	add(m.OptionalDependencies, false)
	if includeDev {
		add(m.DevDependencies, true)
	}
	return out
}

// Add records name with rng in dependencies, or devDependencies when dev is
// set, moving it out of the other section if needed.
func (m *Manifest) Add(name, rng string, dev bool) {
	if dev {
		delete(m.Dependencies, name)
		delete(m.OptionalDependencies, name)
		m.DevDependencies[name] = rng
		return
	}
	delete(m.DevDependencies, name)
	if _, ok := m.OptionalDependencies[name]; ok {
		m.OptionalDependencies[name] = rng
		return
	}
	m.Dependencies[name] = rng
}

// Remove deletes name from every dependency section and reports whether it
// was present.
func (m *Manifest) Remove(name string) bool {
	found := false
	for _, section := range []map[string]string{m.Dependencies, m.DevDependencies, m.OptionalDependencies} {
		if _, ok := section[name]; ok {
			delete(section, name)
			found = true
		}
	}
	return found
}

// Has reports whether any section declares name.
func (m *Manifest) Has(name string) bool {
	_, a := m.Dependencies[name]
	_, b := m.DevDependencies[name]
	_, c := m.OptionalDependencies[name]
	return a || b || c
}

// Marshal renders the manifest with two-space indentation. Fields keep their
// original order; dependency sections are sorted and new sections are
// appended. Empty sections that were not in the file are left out.
func (m *Manifest) Marshal() ([]byte, error) {
	fields := slices.Clone(m.fields)
	present := make(map[string]bool, len(fields))
	for _, f := range fields {
		present[f.key] = true
	}

	values := map[string]map[string]string{
		sectionDependencies:         m.Dependencies,
		sectionDevDependencies:      m.DevDependencies,
		sectionOptionalDependencies: m.OptionalDependencies,
	}
	for _, key := range sections {
		if !present[key] && len(values[key]) > 0 {
			fields = append(fields, field{key: key})
		}
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := encode(f.key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')

		value := []byte(f.value)
		if section, ok := values[f.key]; ok {
			if value, err = encode(section); err != nil {
				return nil, err
			}
		}
		buf.Write(value)
	}
	buf.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// encode marshals v without HTML escaping; ranges such as ">=1 <2" must stay
// readable. Map keys come out sorted.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Save writes the manifest back to m.Path.
func (m *Manifest) Save() error {
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(m.Path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp := m.Path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, m.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Clone returns a deep copy, so callers can edit a manifest and discard the
// edit if a later step fails.
func (m *Manifest) Clone() *Manifest {
	cp := *m
	cp.Dependencies = clone(m.Dependencies)
	cp.DevDependencies = clone(m.DevDependencies)
	cp.OptionalDependencies = clone(m.OptionalDependencies)
	cp.fields = slices.Clone(m.fields)
	return &cp
}

func clone(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
