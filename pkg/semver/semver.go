// Package semver parses npm-style versions and ranges and picks the highest
// version that satisfies a range.
//
// Range matching is a thin layer over github.com/Masterminds/semver/v3, which
// already understands exact versions, caret (^), tilde (~), comparator sets,
// x-ranges, hyphen ranges and || unions. This package adds dist-tag ranges
// (e.g. "latest") and a deterministic selection rule that does not depend on
// the order in which a registry lists its versions.
package semver

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

var (
	// ErrInvalidVersion is returned when a version string cannot be parsed.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrInvalidRange is returned when a range is neither a valid semver
	// range nor a dist-tag name.
	ErrInvalidRange = errors.New("invalid range")
)

// Version is a parsed semantic version that remembers its original spelling.
type Version struct {
	v *mm.Version
}

// ParseVersion parses raw as a semantic version.
func ParseVersion(raw string) (Version, error) {
	v, err := mm.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return Version{}, fmt.Errorf("%w %q: %v", ErrInvalidVersion, raw, err)
	}
	return Version{v: v}, nil
}

// MustParseVersion is like ParseVersion but panics on error.
func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as it was originally written.
func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.Original()
}

// Prerelease returns the pre-release part of the version, if any.
func (v Version) Prerelease() string {
	if v.v == nil {
		return ""
	}
	return v.v.Prerelease()
}

// Compare orders a and b by semver precedence and returns -1, 0 or 1.
// The zero Version sorts before every parsed version.
func Compare(a, b Version) int {
	switch {
	case a.v == nil && b.v == nil:
		return 0
	case a.v == nil:
		return -1
	case b.v == nil:
		return 1
	}
	return a.v.Compare(b.v)
}

// Range is a version requirement: either a semver range expression or a
// dist-tag name that the registry maps to a pinned version.
type Range struct {
	raw string
	tag string
	c   *mm.Constraints
}

var tagPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]*$`)

// ParseRange parses raw. An empty range, "*" and "x" match any release.
// Anything that is not a valid range but looks like an identifier is treated
// as a dist-tag.
func ParseRange(raw string) (Range, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = "*"
	}
	if c, err := mm.NewConstraint(s); err == nil {
		return Range{raw: raw, c: c}, nil
	}
	if tagPattern.MatchString(s) {
		return Range{raw: raw, tag: s}, nil
	}
	return Range{}, fmt.Errorf("%w %q", ErrInvalidRange, raw)
}

// MustParseRange is like ParseRange but panics on error.
func MustParseRange(raw string) Range {
	r, err := ParseRange(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// String returns the range as written.
func (r Range) String() string { return r.raw }

// IsTag reports whether the range names a dist-tag.
func (r Range) IsTag() bool { return r.tag != "" }

// Tag returns the dist-tag name, or "" for semver ranges.
func (r Range) Tag() string { return r.tag }

// Contains reports whether v satisfies the range. Tag ranges never contain a
// version on their own; they need the registry's dist-tags.
func (r Range) Contains(v Version) bool {
	if r.c == nil || v.v == nil {
		return false
	}
	return r.c.Check(v.v)
}

// Allows is Contains for an unparsed version string.
func (r Range) Allows(version string) bool {
	v, err := ParseVersion(version)
	if err != nil {
		return false
	}
	return r.Contains(v)
}

// MaxSatisfying returns the highest version in versions that satisfies r.
//
// For a tag range, the tag is looked up in tags and its pinned version is
// returned if the registry actually lists it. Unparseable entries in versions
// are ignored. When two entries have equal precedence (e.g. "1.0.0" and
// "v1.0.0"), the lexically smaller spelling wins so the result never depends
// on input order.
func MaxSatisfying(r Range, versions []string, tags map[string]string) (string, bool) {
	if r.IsTag() {
		pinned, ok := tags[r.tag]
		if !ok {
			return "", false
		}
		for _, v := range versions {
			if v == pinned {
				return pinned, true
			}
		}
		return "", false
	}

	var (
		best    Version
		bestRaw string
		found   bool
	)
	for _, raw := range versions {
		v, err := ParseVersion(raw)
		if err != nil || !r.Contains(v) {
			continue
		}
		if !found {
			best, bestRaw, found = v, raw, true
			continue
		}
		switch c := Compare(v, best); {
		case c > 0, c == 0 && raw < bestRaw:
			best, bestRaw = v, raw
		}
	}
	return bestRaw, found
}
