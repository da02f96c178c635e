package link

import (
	"fmt"

	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
)

// ErrorKind classifies a link failure.
type ErrorKind int

const (
	// Filesystem is any other I/O failure while applying the plan.
	Filesystem ErrorKind = iota
	// UnsupportedLinkType means the filesystem refused a symlink or the
	// configured hardlink import.
	UnsupportedLinkType
	// MissingStoreEntry means a node has no content in the store. Nothing
	// is changed on disk when this is detected.
	MissingStoreEntry
)

func (k ErrorKind) String() string {
	switch k {
	case UnsupportedLinkType:
		return "unsupported link type"
	case MissingStoreEntry:
		return "missing store entry"
	default:
		return "filesystem error"
	}
}

// Error reports a failed link operation.
type Error struct {
	Kind ErrorKind
	Path string // project-relative path, slash separated
	Node string // name@version, when the failure concerns one package
	Err  error
}

func (e *Error) Error() string {
	msg := "link"
	if e.Node != "" {
		msg += " " + e.Node
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Code implements pkg/errors.Coder.
func (e *Error) Code() pmerrors.Code { return pmerrors.ErrCodeLinkFailed }
