package cache

import "fmt"

// Backend names accepted by [Open].
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendNone  = "none"
)

// Options selects and configures a cache backend.
type Options struct {
	Backend  string // file (default), redis or none
	Dir      string // FileCache directory
	RedisURL string // RedisCache connection URL
	Prefix   string // RedisCache key prefix
}

// Open returns the cache described by opts.
func Open(opts Options) (Cache, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileCache(opts.Dir)
	case BackendRedis:
		return NewRedisCache(opts.RedisURL, opts.Prefix)
	case BackendNone:
		return NewNullCache(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
