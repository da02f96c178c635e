package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/matzehuels/stackpm/pkg/cache"
	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
	"github.com/matzehuels/stackpm/pkg/integrations/npm"
	"github.com/matzehuels/stackpm/pkg/link"
)

const (
	// AppName is the application name used for directories.
	AppName = "stackpm"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "toml"
	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "STACKPM"

	// DefaultCacheTTL is how long registry metadata is reused.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultConcurrency bounds registry requests and imports.
	DefaultConcurrency = 16
)

// Keys, as used in the config file, in STACKPM_* variables (upper-cased,
// with "-" and "." replaced by "_") and as flag names.
const (
	KeyRegistry      = "registry"
	KeyStoreDir      = "store-dir"
	KeyCacheDir      = "cache-dir"
	KeyCacheBackend  = "cache.backend"
	KeyCacheRedisURL = "cache.redis-url"
	KeyCacheTTL      = "cache.ttl"
	KeyConcurrency   = "concurrency"
	KeyHoist         = "hoist"
	KeyImportMethod  = "import-method"
	KeyVerifyStore   = "verify-store"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the resolved settings.
type Config struct {
	Registry     string      `mapstructure:"registry"`
	StoreDir     string      `mapstructure:"store-dir"`
	CacheDir     string      `mapstructure:"cache-dir"`
	Cache        CacheConfig `mapstructure:"cache"`
	Concurrency  int         `mapstructure:"concurrency"`
	Hoist        bool        `mapstructure:"hoist"`
	ImportMethod string      `mapstructure:"import-method"`
	VerifyStore  bool        `mapstructure:"verify-store"`
}

// CacheConfig selects the registry metadata cache.
type CacheConfig struct {
	Backend  string        `mapstructure:"backend"`
	RedisURL string        `mapstructure:"redis-url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigFilePath, when set, is the only file read and must exist.
	ConfigFilePath string
	// ConfigDirPath overrides the directory searched for config.toml.
	ConfigDirPath string
	// Flags are bound by key name; only flags the user set override.
	Flags *pflag.FlagSet
}

// DefaultConfig returns the built-in settings. Directory defaults follow
// the XDG base directory conventions.
func DefaultConfig() *Config {
	storeDir, cacheDir := "", ""
	if dir, err := DataDir(); err == nil {
		storeDir = filepath.Join(dir, "store")
	}
	if dir, err := CacheDir(); err == nil {
		cacheDir = dir
	}
	return &Config{
		Registry: npm.DefaultRegistry,
		StoreDir: storeDir,
		CacheDir: cacheDir,
		Cache: CacheConfig{
			Backend: cache.BackendFile,
			TTL:     DefaultCacheTTL,
		},
		Concurrency:  DefaultConcurrency,
		Hoist:        true,
		ImportMethod: string(link.ImportAuto),
		VerifyStore:  true,
	}
}

// Load resolves the configuration. It returns the config and the path of
// the file that was read, or "" when none was.
func Load(opts LoadOptions) (*Config, string, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault(KeyRegistry, defaults.Registry)
	v.SetDefault(KeyStoreDir, defaults.StoreDir)
	v.SetDefault(KeyCacheDir, defaults.CacheDir)
	v.SetDefault(KeyCacheBackend, defaults.Cache.Backend)
	v.SetDefault(KeyCacheRedisURL, defaults.Cache.RedisURL)
	v.SetDefault(KeyCacheTTL, defaults.Cache.TTL)
	v.SetDefault(KeyConcurrency, defaults.Concurrency)
	v.SetDefault(KeyHoist, defaults.Hoist)
	v.SetDefault(KeyImportMethod, defaults.ImportMethod)
	v.SetDefault(KeyVerifyStore, defaults.VerifyStore)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	path, err := configFile(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(ConfigFileExt)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", pmerrors.Wrap(pmerrors.ErrCodeInvalidInput, err, "read config %s", path)
		}
	}

	if opts.Flags != nil {
		var bindErr error
		opts.Flags.VisitAll(func(f *pflag.Flag) {
			if bindErr == nil && isKey(f.Name) {
				bindErr = v.BindPFlag(f.Name, f)
			}
		})
		if bindErr != nil {
			return nil, "", fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.StoreDir = expandHome(cfg.StoreDir)
	cfg.CacheDir = expandHome(cfg.CacheDir)
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, path, nil
}

// Validate checks values that decoding cannot.
func (c *Config) Validate() error {
	if err := pmerrors.ValidateURL(c.Registry); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, KeyRegistry, err)
	}
	if c.StoreDir == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidConfig, KeyStoreDir)
	}
	switch c.Cache.Backend {
	case cache.BackendFile:
		if c.CacheDir == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidConfig, KeyCacheDir)
		}
	case cache.BackendRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("%w: %s requires %s", ErrInvalidConfig, KeyCacheBackend+"=redis", KeyCacheRedisURL)
		}
	case cache.BackendNone:
	default:
		return fmt.Errorf("%w: %s must be file, redis or none, got %q", ErrInvalidConfig, KeyCacheBackend, c.Cache.Backend)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("%w: %s is negative", ErrInvalidConfig, KeyCacheTTL)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: %s must be at least 1", ErrInvalidConfig, KeyConcurrency)
	}
	if _, err := link.ParseImportMethod(c.ImportMethod); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, KeyImportMethod, err)
	}
	return nil
}

// CacheOptions returns the options for [cache.Open].
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		Backend:  c.Cache.Backend,
		Dir:      filepath.Join(c.CacheDir, "http"),
		RedisURL: c.Cache.RedisURL,
		Prefix:   AppName + ":",
	}
}

// LinkOptions returns the linker settings.
func (c *Config) LinkOptions() link.Options {
	method, _ := link.ParseImportMethod(c.ImportMethod)
	return link.Options{Hoist: c.Hoist, VerifyStore: c.VerifyStore, ImportMethod: method}
}

func isKey(name string) bool {
	switch name {
	case KeyRegistry, KeyStoreDir, KeyCacheDir, KeyCacheBackend, KeyCacheRedisURL,
		KeyCacheTTL, KeyConcurrency, KeyHoist, KeyImportMethod, KeyVerifyStore:
		return true
	}
	return false
}

func configFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if _, err := os.Stat(opts.ConfigFilePath); err != nil {
			return "", pmerrors.Wrap(pmerrors.ErrCodeNotFound, err, "config file not found: %s", opts.ConfigFilePath)
		}
		return opts.ConfigFilePath, nil
	}
	dir := opts.ConfigDirPath
	if dir == "" {
		var err error
		if dir, err = ConfigDir(); err != nil {
			return "", nil
		}
	}
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("stat config: %w", err)
	}
	return path, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ConfigDir returns the stackpm configuration directory: %APPDATA% on
// Windows, $XDG_CONFIG_HOME (default ~/.config) elsewhere.
func ConfigDir() (string, error) {
	if runtime.GOOS == "windows" {
		if dir := os.Getenv("APPDATA"); dir != "" {
			return filepath.Join(dir, AppName), nil
		}
	}
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// CacheDir returns the cache directory using XDG standard (~/.cache/stackpm/).
func CacheDir() (string, error) {
	return xdgDir("XDG_CACHE_HOME", ".cache")
}

// DataDir returns the data directory (~/.local/share/stackpm/), which holds
// the package store by default.
func DataDir() (string, error) {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func xdgDir(env, fallback string) (string, error) {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, fallback, AppName), nil
}
