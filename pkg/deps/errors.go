package deps

import (
	"fmt"

	"github.com/matzehuels/stackpm/pkg/errors"
)

// ErrorKind classifies a resolution failure.
type ErrorKind int

const (
	// NoSatisfyingVersion means no published version matches the range.
	NoSatisfyingVersion ErrorKind = iota
	// PackageNotFound means the registry does not know the package.
	PackageNotFound
	// RegistryUnavailable means the registry could not be reached.
	RegistryUnavailable
	// MalformedMetadata means the packument is unusable.
	MalformedMetadata
	// InvalidRange means a range expression could not be parsed.
	InvalidRange
)

func (k ErrorKind) String() string {
	switch k {
	case NoSatisfyingVersion:
		return "no satisfying version"
	case PackageNotFound:
		return "package not found"
	case RegistryUnavailable:
		return "registry unavailable"
	case MalformedMetadata:
		return "malformed metadata"
	case InvalidRange:
		return "invalid range"
	default:
		return "unknown"
	}
}

// ResolutionError reports why a requirement could not be resolved.
type ResolutionError struct {
	Kind  ErrorKind
	Name  string
	Range string
	Err   error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolve %s@%s: %s", e.Name, e.Range, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Code maps the failure onto the CLI error codes.
func (e *ResolutionError) Code() errors.Code {
	switch e.Kind {
	case PackageNotFound:
		return errors.ErrCodePackageNotFound
	case RegistryUnavailable:
		return errors.ErrCodeNetwork
	default:
		return errors.ErrCodeResolutionFailed
	}
}
