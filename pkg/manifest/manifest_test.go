package manifest

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matzehuels/stackpm/pkg/deps"
	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
)

const sample = `{
  "name": "app",
  "version": "0.1.0",
  "scripts": {"test": "node test.js"},
  "dependencies": {
    "lodash": "^4.17.0",
    "@scope/b": ">=1 <2"
  },
  "devDependencies": {
    "lodash": "^4.0.0",
    "mocha": "latest"
  },
  "optionalDependencies": {"fsevents": "^2.0.0"},
  "license": "MIT"
}
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoad(t *testing.T) {
	m, err := Load(writeManifest(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Name != "app" || m.Version != "0.1.0" {
		t.Errorf("name/version = %q/%q", m.Name, m.Version)
	}
	if m.Dependencies["@scope/b"] != ">=1 <2" || m.DevDependencies["mocha"] != "latest" || m.OptionalDependencies["fsevents"] != "^2.0.0" {
		t.Errorf("sections not decoded: %+v", m)
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(t.TempDir())
	if !pmerrors.Is(err, pmerrors.ErrCodeManifestNotFound) || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing manifest: %v", err)
	}

	for _, content := range []string{`[]`, `{"dependencies": {"a": 1}}`, `{"name": "x"`, `{} {}`} {
		_, err := Load(writeManifest(t, content))
		if !pmerrors.Is(err, pmerrors.ErrCodeInvalidManifest) {
			t.Errorf("Load(%q) = %v, want INVALID_MANIFEST", content, err)
		}
	}
}

func TestRequirements(t *testing.T) {
	m, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		includeDev bool
		want       []deps.Requirement
	}{
		{false, []deps.Requirement{
			{Name: "@scope/b", Range: ">=1 <2"},
			{Name: "lodash", Range: "^4.17.0"},
			{Name: "fsevents", Range: "^2.0.0"},
		}},
		{true, []deps.Requirement{
			{Name: "@scope/b", Range: ">=1 <2"},
			{Name: "lodash", Range: "^4.17.0"},
			{Name: "fsevents", Range: "^2.0.0"},
			{Name: "mocha", Range: "latest", Dev: true},
		}},
	}
	for _, tt := range tests {
		got := m.Requirements(tt.includeDev)
		if len(got) != len(tt.want) {
			t.Fatalf("Requirements(%v) = %+v", tt.includeDev, got)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Requirements(%v)[%d] = %+v, want %+v", tt.includeDev, i, got[i], tt.want[i])
			}
		}
	}
}

func TestSavePreservesUnknownFields(t *testing.T) {
	dir := writeManifest(t, sample)
	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	m.Add("react", "^18.2.0", false)
	if !m.Remove("mocha") {
		t.Error("Remove(mocha) = false")
	}
	if m.Remove("missing") {
		t.Error("Remove(missing) = true")
	}
	if err := m.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	order := []string{`"name"`, `"version"`, `"scripts"`, `"dependencies"`, `"devDependencies"`, `"optionalDependencies"`, `"license"`}
	last := -1
	for _, key := range order {
		i := strings.Index(out, key)
		if i < 0 || i < last {
			t.Fatalf("field %s missing or out of order:\n%s", key, out)
		}
		last = i
	}
	for _, want := range []string{`"test": "node test.js"`, `"react": "^18.2.0"`, `">=1 <2"`, `"license": "MIT"`} {
		if !strings.Contains(out, want) {
			t.Errorf("saved manifest missing %s:\n%s", want, out)
		}
	}
	if strings.Contains(out, "mocha") {
		t.Errorf("removed dependency still present:\n%s", out)
	}

	again, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if again.Dependencies["react"] != "^18.2.0" {
		t.Errorf("reloaded dependencies = %v", again.Dependencies)
	}
}

func TestAddMovesBetweenSections(t *testing.T) {
	m := New(t.TempDir())
	m.Add("a", "^1.0.0", false)
	m.Add("a", "^1.1.0", true)
	if _, ok := m.Dependencies["a"]; ok || m.DevDependencies["a"] != "^1.1.0" {
		t.Errorf("dev add did not move: %+v / %+v", m.Dependencies, m.DevDependencies)
	}
	m.Add("a", "^2.0.0", false)
	if _, ok := m.DevDependencies["a"]; ok || m.Dependencies["a"] != "^2.0.0" {
		t.Errorf("prod add did not move: %+v / %+v", m.Dependencies, m.DevDependencies)
	}
}

func TestNewManifestSave(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)
	m.Add("a", "1.0.0", false)
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, FileName))
	want := "{\n  \"dependencies\": {\n    \"a\": \"1.0.0\"\n  }\n}\n"
	if string(data) != want {
		t.Errorf("saved = %q, want %q", data, want)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m, _ := Parse([]byte(sample))
	cp := m.Clone()
	cp.Add("new", "1", false)
	if m.Has("new") {
		t.Error("Clone shares dependency maps")
	}
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		spec, name, rng string
		ok              bool
	}{
		{"lodash", "lodash", "", true},
		{"lodash@4.17.21", "lodash", "4.17.21", true},
		{"lodash@^4.0.0", "lodash", "^4.0.0", true},
		{"@types/node", "@types/node", "", true},
		{"@types/node@20", "@types/node", "20", true},
		{"react@next", "react", "next", true},
		{"lodash@", "", "", false},
		{"Lodash", "", "", false},
		{"../evil", "", "", false},
		{"a@!!", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			name, rng, err := ParseSpec(tt.spec)
			if tt.ok != (err == nil) {
				t.Fatalf("ParseSpec(%q) err = %v", tt.spec, err)
			}
			if !tt.ok {
				if !pmerrors.Is(err, pmerrors.ErrCodeInvalidSpec) {
					t.Errorf("code = %q", pmerrors.GetCode(err))
				}
				return
			}
			if name != tt.name || rng != tt.rng {
				t.Errorf("ParseSpec(%q) = %q, %q", tt.spec, name, rng)
			}
		})
	}
}

func TestSavedRange(t *testing.T) {
	tests := []struct{ requested, resolved, want string }{
		{"", "4.17.21", "^4.17.21"},
		{"latest", "4.17.21", "^4.17.21"},
		{"~4.17.0", "4.17.21", "~4.17.0"},
	}
	for _, tt := range tests {
		if got := SavedRange(tt.requested, tt.resolved); got != tt.want {
			t.Errorf("SavedRange(%q, %q) = %q, want %q", tt.requested, tt.resolved, got, tt.want)
		}
	}
}
