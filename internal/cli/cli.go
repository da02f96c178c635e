// Package cli implements the stackpm command-line interface.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/stackpm/internal/config"
	"github.com/matzehuels/stackpm/pkg/buildinfo"
	"github.com/matzehuels/stackpm/pkg/cache"
	"github.com/matzehuels/stackpm/pkg/deps/javascript"
	"github.com/matzehuels/stackpm/pkg/install"
	"github.com/matzehuels/stackpm/pkg/integrations/npm"
	"github.com/matzehuels/stackpm/pkg/link"
	"github.com/matzehuels/stackpm/pkg/observability"
	"github.com/matzehuels/stackpm/pkg/store"
	"github.com/matzehuels/stackpm/pkg/tarball"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for display.
const appName = config.AppName

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// Stats counts install events for the summary line.
	Stats *observability.Stats

	configFile string
	dir        string
	cfg        *config.Config
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	stats := &observability.Stats{}
	observability.SetInstallHooks(stats)
	observability.SetCacheHooks(stats)
	return &CLI{
		Logger: newLogger(w, level),
		Stats:  stats,
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "stackpm installs npm packages into an isolated node_modules",
		Long:         `stackpm resolves package.json dependencies against an npm registry, keeps every package once in a content-addressable store and links each project's node_modules so a package only sees what it declares.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadConfig(cmd)
		},
	}

	root.SetVersionTemplate(buildinfo.Template())

	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (default $XDG_CONFIG_HOME/stackpm/config.toml)")
	flags.StringVarP(&c.dir, "dir", "C", ".", "project directory")
	flags.String(config.KeyRegistry, "", "registry URL")
	flags.String(config.KeyStoreDir, "", "package store directory")
	flags.String(config.KeyCacheDir, "", "metadata cache directory")
	flags.Int(config.KeyConcurrency, 0, "parallel registry requests and imports")
	flags.String(config.KeyImportMethod, "", "how packages are copied out of the store: auto, hardlink or copy")

	// Register all subcommands
	root.AddCommand(c.installCommand())
	root.AddCommand(c.addCommand())
	root.AddCommand(c.removeCommand())
	root.AddCommand(c.listCommand())
	root.AddCommand(c.graphCommand())
	root.AddCommand(c.storeCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

func (c *CLI) loadConfig(cmd *cobra.Command) error {
	cfg, path, err := config.Load(config.LoadOptions{
		ConfigFilePath: c.configFile,
		Flags:          cmd.Flags(),
	})
	if err != nil {
		return err
	}
	if path != "" {
		c.Logger.Debug("loaded config", "path", path)
	}
	c.cfg = cfg
	return nil
}

// settings returns the loaded configuration, falling back to defaults for
// commands run without the root pre-run hook (tests).
func (c *CLI) settings() *config.Config {
	if c.cfg == nil {
		c.cfg = config.DefaultConfig()
	}
	return c.cfg
}

// projectDir returns the absolute project directory.
func (c *CLI) projectDir() (string, error) {
	dir := c.dir
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("project directory: %w", err)
	}
	return abs, nil
}

// =============================================================================
// Runner Factory
// =============================================================================

// newRunner creates an install runner from the configuration. The returned
// function releases the metadata cache.
func (c *CLI) newRunner() (*install.Runner, func(), error) {
	cfg := c.settings()

	mc, err := newCache(cfg)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.StoreDir)
	if err != nil {
		mc.Close()
		return nil, nil, err
	}

	client := npm.NewClient(npm.Options{
		Registry:  cfg.Registry,
		Cache:     mc,
		TTL:       cfg.Cache.TTL,
		UserAgent: buildinfo.UserAgent(),
	})
	linkOpts := cfg.LinkOptions()
	linkOpts.Logger = c.Logger.Debugf

	runner := install.NewRunner(
		javascript.NewRegistry(client),
		tarball.NewFetcher(client, ""),
		st,
		link.New(st, linkOpts),
		c.Logger,
	)
	return runner, func() { mc.Close() }, nil
}

// newCache opens the configured metadata cache. A file cache that cannot be
// created degrades to no caching.
func newCache(cfg *config.Config) (cache.Cache, error) {
	opts := cfg.CacheOptions()
	mc, err := cache.Open(opts)
	if err != nil && opts.Backend == cache.BackendFile {
		return cache.NewNullCache(), nil
	}
	return mc, err
}

// openStore opens the configured store.
func (c *CLI) openStore() (*store.Store, error) {
	return store.Open(c.settings().StoreDir)
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the metadata cache directory.
func (c *CLI) cacheDir() string {
	return c.settings().CacheOptions().Dir
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
