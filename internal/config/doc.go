// Package config loads stackpm settings.
//
// Values are layered by viper, lowest precedence first:
//
//  1. built-in defaults ([DefaultConfig])
//  2. the config file, $XDG_CONFIG_HOME/stackpm/config.toml by default
//  3. STACKPM_* environment variables (STACKPM_STORE_DIR, STACKPM_CACHE_BACKEND, ...)
//  4. command-line flags bound through [LoadOptions.Flags]
//
// A missing config file is not an error; an unreadable or invalid one is.
package config
