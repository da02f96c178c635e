package cache

// ScopedKeyer wraps a Keyer with a prefix. The registry client scopes keys by
// metadata format so abbreviated and full packuments never overwrite each
// other:
//
//	corgi := NewScopedKeyer(NewDefaultKeyer(), "corgi:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// PackumentKey generates a prefixed packument key.
func (k *ScopedKeyer) PackumentKey(registry, name string) string {
	return k.prefix + k.inner.PackumentKey(registry, name)
}
