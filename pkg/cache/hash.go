package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash computes a SHA-256 hash of the input data.
// Returns the full 64-character hex string.
func Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Keyer builds cache keys.
type Keyer interface {
	// PackumentKey returns the key for a package's registry document.
	PackumentKey(registry, name string) string
}

// DefaultKeyer builds keys of the form "packument:<hash(registry)>:<name>".
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default key scheme.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// PackumentKey hashes the registry URL so keys stay short and never collide
// across registries.
func (DefaultKeyer) PackumentKey(registry, name string) string {
	return "packument:" + Hash([]byte(registry))[:16] + ":" + name
}
