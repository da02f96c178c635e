package semver

import (
	"errors"
	"testing"
)

func TestMaxSatisfying(t *testing.T) {
	versions := []string{"1.2.0", "1.2.5", "1.3.0", "2.0.0", "2.1.0-beta.1"}

	tests := []struct {
		rng  string
		want string
		ok   bool
	}{
		{"^1.2.0", "1.3.0", true},
		{"~1.2.0", "1.2.5", true},
		{"1.2.0", "1.2.0", true},
		{">=1.2.1 <1.3.0", "1.2.5", true},
		{"1.x", "1.3.0", true},
		{"*", "2.0.0", true},
		{"", "2.0.0", true},
		{"1.2.0 - 1.2.9", "1.2.5", true},
		{"^1.2.0 || ^2.0.0", "2.0.0", true},
		{"^3.0.0", "", false},
		{">=2.1.0-beta.0", "2.1.0-beta.1", true},
	}

	for _, tt := range tests {
		t.Run(tt.rng, func(t *testing.T) {
			got, ok := MaxSatisfying(MustParseRange(tt.rng), versions, nil)
			if ok != tt.ok || got != tt.want {
				t.Errorf("MaxSatisfying(%q) = %q, %v; want %q, %v", tt.rng, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestMaxSatisfyingCaretDoesNotCrossMajor(t *testing.T) {
	got, ok := MaxSatisfying(MustParseRange("^1.2.0"), []string{"1.2.0", "1.2.5", "2.0.0"}, nil)
	if !ok || got != "1.2.5" {
		t.Fatalf("got %q, %v; want 1.2.5", got, ok)
	}
}

func TestMaxSatisfyingOrderIndependent(t *testing.T) {
	r := MustParseRange("^1.0.0")
	a, _ := MaxSatisfying(r, []string{"1.0.0", "v1.4.0", "1.4.0", "1.2.0"}, nil)
	b, _ := MaxSatisfying(r, []string{"1.2.0", "1.4.0", "v1.4.0", "1.0.0"}, nil)
	if a != b {
		t.Fatalf("selection depends on order: %q vs %q", a, b)
	}
	if a != "1.4.0" {
		t.Errorf("tie-break picked %q, want 1.4.0", a)
	}
}

func TestMaxSatisfyingTags(t *testing.T) {
	versions := []string{"1.0.0", "2.0.0", "3.0.0-rc.1"}
	tags := map[string]string{"latest": "2.0.0", "next": "3.0.0-rc.1", "stale": "0.9.0"}

	tests := []struct {
		rng  string
		want string
		ok   bool
	}{
		{"latest", "2.0.0", true},
		{"next", "3.0.0-rc.1", true},
		{"stale", "", false},
		{"missing", "", false},
	}
	for _, tt := range tests {
		r := MustParseRange(tt.rng)
		if !r.IsTag() {
			t.Fatalf("%q should parse as a tag", tt.rng)
		}
		got, ok := MaxSatisfying(r, versions, tags)
		if ok != tt.ok || got != tt.want {
			t.Errorf("MaxSatisfying(%q) = %q, %v; want %q, %v", tt.rng, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseRangeInvalid(t *testing.T) {
	for _, raw := range []string{"!!!", "1.0.0 ???", "@@"} {
		if _, err := ParseRange(raw); !errors.Is(err, ErrInvalidRange) {
			t.Errorf("ParseRange(%q) error = %v, want ErrInvalidRange", raw, err)
		}
	}
}

func TestRangeAllows(t *testing.T) {
	r := MustParseRange("^4.0.0")
	if !r.Allows("4.17.21") {
		t.Error("^4.0.0 should allow 4.17.21")
	}
	if r.Allows("3.10.1") {
		t.Error("^4.0.0 should not allow 3.10.1")
	}
	if r.Allows("not-a-version") {
		t.Error("invalid versions are never allowed")
	}
	if MustParseRange("latest").Allows("1.0.0") {
		t.Error("tag ranges cannot be checked without dist-tags")
	}
}

func TestCompare(t *testing.T) {
	if Compare(MustParseVersion("1.0.0-alpha"), MustParseVersion("1.0.0")) >= 0 {
		t.Error("pre-release should sort before release")
	}
	if Compare(Version{}, MustParseVersion("0.0.1")) >= 0 {
		t.Error("zero Version should sort first")
	}
	if MustParseVersion("v1.2.3").String() != "v1.2.3" {
		t.Error("String should keep the original spelling")
	}
}
