package store

import (
	"errors"
	"fmt"
	"syscall"

	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
)

// ErrInvalidHash is returned for handles that are not lowercase hex SHA-256.
var ErrInvalidHash = errors.New("invalid content hash")

// IntegrityError reports a store entry whose content no longer matches its
// hash, or a staged copy that does not hash to the expected value.
type IntegrityError struct {
	Hash    string
	Actual  string
	Package string // name@version, when known
}

func (e *IntegrityError) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("store entry %s for %s is corrupt (content hashes to %s)", short(e.Hash), e.Package, short(e.Actual))
	}
	return fmt.Sprintf("store entry %s is corrupt (content hashes to %s)", short(e.Hash), short(e.Actual))
}

// Code implements pkg/errors.Coder.
func (e *IntegrityError) Code() pmerrors.Code { return pmerrors.ErrCodeIntegrityMismatch }

// IOError wraps a filesystem failure with the entry it concerns.
type IOError struct {
	Op      string
	Hash    string
	Package string
	Err     error
}

func (e *IOError) Error() string {
	subject := short(e.Hash)
	if e.Package != "" {
		subject = e.Package
	}
	if subject == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, subject, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Code implements pkg/errors.Coder.
func (e *IOError) Code() pmerrors.Code { return pmerrors.ErrCodeStoreIO }

// Transient reports whether the failure is worth retrying.
func (e *IOError) Transient() bool {
	return errors.Is(e.Err, syscall.EAGAIN) ||
		errors.Is(e.Err, syscall.EBUSY) ||
		errors.Is(e.Err, syscall.EINTR) ||
		errors.Is(e.Err, syscall.EMFILE) ||
		errors.Is(e.Err, syscall.ENFILE)
}

// IsTransient reports whether err is a transient [IOError].
func IsTransient(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr) && ioErr.Transient()
}

// WithPackage attaches a package identity to store errors. Other errors are
// returned unchanged.
func WithPackage(err error, pkg string) error {
	var integrityErr *IntegrityError
	if errors.As(err, &integrityErr) {
		cp := *integrityErr
		cp.Package = pkg
		return &cp
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		cp := *ioErr
		cp.Package = pkg
		return &cp
	}
	return err
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
