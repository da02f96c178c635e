package manifest

import (
	"strings"

	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
	"github.com/matzehuels/stackpm/pkg/semver"
)

// ParseSpec splits a command-line package spec such as "lodash",
// "lodash@^4.17.0" or "@types/node@20" into name and range. The range is
// empty when the spec has none; callers decide what that means.
func ParseSpec(spec string) (name, rng string, err error) {
	spec = strings.TrimSpace(spec)
	name = spec
	if at := strings.LastIndex(spec, "@"); at > 0 {
		name, rng = spec[:at], spec[at+1:]
		if rng == "" {
			return "", "", pmerrors.New(pmerrors.ErrCodeInvalidSpec, "empty version range in %q", spec)
		}
	}
	if err := pmerrors.ValidateNpmPackageName(name); err != nil {
		return "", "", pmerrors.Wrap(pmerrors.ErrCodeInvalidSpec, err, "invalid package spec %q", spec)
	}
	if rng != "" {
		if _, err := semver.ParseRange(rng); err != nil {
			return "", "", pmerrors.Wrap(pmerrors.ErrCodeInvalidSpec, err, "invalid package spec %q", spec)
		}
	}
	return name, rng, nil
}

// SavedRange is the range recorded in package.json for a package added
// without an explicit range: a caret on the version that was resolved.
func SavedRange(requested, resolved string) string {
	if requested != "" {
		if r, err := semver.ParseRange(requested); err == nil && !r.IsTag() {
			return requested
		}
	}
	return "^" + resolved
}
