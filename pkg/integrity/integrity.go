// Package integrity parses and checks Subresource Integrity strings, the
// format the npm registry uses in dist.integrity ("sha512-<base64>").
//
// Registries that predate SRI only publish a hex SHA-1 in dist.shasum;
// [FromShasum] turns that into the same [Integrity] value so callers have a
// single verification path.
package integrity

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
)

var (
	// ErrMalformed is returned for strings that are not valid SRI.
	ErrMalformed = errors.New("malformed integrity")

	// ErrUnsupported is returned when no hash uses a known algorithm.
	ErrUnsupported = errors.New("unsupported integrity algorithm")

	// ErrMismatch is matched by every *MismatchError.
	ErrMismatch = errors.New("integrity mismatch")
)

// Algorithm is an SRI hash algorithm name.
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA384 Algorithm = "sha384"
	SHA512 Algorithm = "sha512"
)

// strength orders algorithms; higher is stronger.
var strength = map[Algorithm]int{SHA1: 1, SHA256: 2, SHA384: 3, SHA512: 4}

func (a Algorithm) new() hash.Hash {
	switch a {
	case SHA1:
		return sha1.New()
	case SHA256:
		return sha256.New()
	case SHA384:
		return sha512.New384()
	default:
		return sha512.New()
	}
}

// Hash is one algorithm-digest pair.
type Hash struct {
	Algorithm Algorithm
	Digest    []byte
}

// String renders the pair in SRI form.
func (h Hash) String() string {
	return string(h.Algorithm) + "-" + base64.StdEncoding.EncodeToString(h.Digest)
}

// Integrity is a parsed SRI value. It may carry several hashes; verification
// uses the strongest supported one.
type Integrity struct {
	Hashes []Hash
}

// Parse parses an SRI string. Unknown algorithms are skipped; at least one
// known algorithm must remain.
func Parse(s string) (Integrity, error) {
	var out Integrity
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return out, fmt.Errorf("%w: empty", ErrMalformed)
	}
	for _, f := range fields {
		f, _, _ = strings.Cut(f, "?")
		algo, b64, ok := strings.Cut(f, "-")
		if !ok {
			return Integrity{}, fmt.Errorf("%w: %q", ErrMalformed, f)
		}
		a := Algorithm(strings.ToLower(algo))
		if _, known := strength[a]; !known {
			continue
		}
		digest, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return Integrity{}, fmt.Errorf("%w: %q: %v", ErrMalformed, f, err)
		}
		if len(digest) != a.new().Size() {
			return Integrity{}, fmt.Errorf("%w: %q: wrong digest length", ErrMalformed, f)
		}
		out.Hashes = append(out.Hashes, Hash{Algorithm: a, Digest: digest})
	}
	if len(out.Hashes) == 0 {
		return Integrity{}, fmt.Errorf("%w: %q", ErrUnsupported, s)
	}
	return out, nil
}

// FromShasum converts a legacy hex SHA-1 shasum.
func FromShasum(shasum string) (Integrity, error) {
	digest, err := hex.DecodeString(strings.TrimSpace(shasum))
	if err != nil || len(digest) != sha1.Size {
		return Integrity{}, fmt.Errorf("%w: shasum %q", ErrMalformed, shasum)
	}
	return Integrity{Hashes: []Hash{{Algorithm: SHA1, Digest: digest}}}, nil
}

// Resolve picks the SRI string when present and falls back to shasum.
func Resolve(sri, shasum string) (Integrity, error) {
	if sri != "" {
		return Parse(sri)
	}
	if shasum != "" {
		return FromShasum(shasum)
	}
	return Integrity{}, fmt.Errorf("%w: no integrity or shasum", ErrMalformed)
}

// Compute hashes data with algo.
func Compute(algo Algorithm, data []byte) Integrity {
	h := algo.new()
	h.Write(data)
	return Integrity{Hashes: []Hash{{Algorithm: algo, Digest: h.Sum(nil)}}}
}

// IsZero reports whether the value holds no hashes.
func (i Integrity) IsZero() bool { return len(i.Hashes) == 0 }

// String renders all hashes space-separated.
func (i Integrity) String() string {
	parts := make([]string, len(i.Hashes))
	for n, h := range i.Hashes {
		parts[n] = h.String()
	}
	return strings.Join(parts, " ")
}

// Strongest returns the hash with the strongest algorithm.
func (i Integrity) Strongest() Hash {
	var best Hash
	for _, h := range i.Hashes {
		if strength[h.Algorithm] > strength[best.Algorithm] {
			best = h
		}
	}
	return best
}

// NewVerifier returns a writer that hashes everything written to it.
func (i Integrity) NewVerifier() *Verifier {
	want := i.Strongest()
	return &Verifier{want: want, h: want.Algorithm.new()}
}

// Check reads r to EOF and verifies it.
func (i Integrity) Check(r io.Reader) error {
	v := i.NewVerifier()
	if _, err := io.Copy(v, r); err != nil {
		return err
	}
	return v.Verify()
}

// Verifier accumulates a digest over streamed bytes.
type Verifier struct {
	want Hash
	h    hash.Hash
}

func (v *Verifier) Write(p []byte) (int, error) { return v.h.Write(p) }

// Verify compares the accumulated digest with the expected one.
func (v *Verifier) Verify() error {
	got := Hash{Algorithm: v.want.Algorithm, Digest: v.h.Sum(nil)}
	if string(got.Digest) != string(v.want.Digest) {
		return &MismatchError{Expected: v.want.String(), Actual: got.String()}
	}
	return nil
}

// MismatchError reports a digest that differs from the published one.
type MismatchError struct {
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("integrity mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// Is matches ErrMismatch.
func (e *MismatchError) Is(target error) bool { return target == ErrMismatch }

// Code maps the error onto the CLI error codes.
func (e *MismatchError) Code() pmerrors.Code { return pmerrors.ErrCodeIntegrityMismatch }
