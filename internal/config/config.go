// Package config loads and validates Canon's TOML configuration file.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Store contains the embedded database location and its busy-wait behavior.
type Store struct {
	Path              string `toml:"path"`
	BusyTimeoutMillis int    `toml:"busy_timeout_millis"`
}

// Manifest contains defaults applied when no equivalent CLI flag is given.
type Manifest struct {
	DefaultPattern              string `toml:"default_pattern"`
	AllowArchivedDefault        bool   `toml:"allow_archived_default"`
	AllowCrossArchiveDuplicates bool   `toml:"allow_cross_archive_duplicates"`
}

// Logging contains output format and level for the structured logger.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Coverage contains defaults for the fact-query and coverage reports.
type Coverage struct {
	DefaultKeyLimit int `toml:"default_key_limit"`
}

// Config encapsulates all configuration values for Canon.
//
// Configuration sections by subsystem:
//   - Store: database location and busy-wait behavior
//   - Manifest: defaults for cluster/apply commands
//   - Logging: log format and level
//   - Coverage: default limits for reporting commands
type Config struct {
	Store    Store    `toml:"store"`
	Manifest Manifest `toml:"manifest"`
	Logging  Logging  `toml:"logging"`
	Coverage Coverage `toml:"coverage"`
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Store: Store{
			Path:              "~/.canon/canon.db",
			BusyTimeoutMillis: 5000,
		},
		Manifest: Manifest{
			DefaultPattern:              "{hash_short}/{filename}",
			AllowArchivedDefault:        false,
			AllowCrossArchiveDuplicates: false,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
		Coverage: Coverage{
			DefaultKeyLimit: 50,
		},
	}
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/canon/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized. dbOverride, when non-empty, takes
// precedence over the config file's store.path, mirroring the CLI's --db flag.
func Load(path, dbOverride string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if strings.TrimSpace(dbOverride) != "" {
		cfg.Store.Path = dbOverride
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func (c *Config) normalize() error {
	expanded, err := expandPath(c.Store.Path)
	if err != nil {
		return fmt.Errorf("resolve store path: %w", err)
	}
	c.Store.Path = expanded

	if c.Store.BusyTimeoutMillis <= 0 {
		c.Store.BusyTimeoutMillis = 5000
	}
	if strings.TrimSpace(c.Manifest.DefaultPattern) == "" {
		c.Manifest.DefaultPattern = "{hash_short}/{filename}"
	}
	if c.Coverage.DefaultKeyLimit <= 0 {
		c.Coverage.DefaultKeyLimit = 50
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = "console"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	return nil
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/canon/config.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directory holding the store file.
func (c *Config) EnsureDirectories() error {
	dir := filepath.Dir(c.Store.Path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory %q: %w", dir, err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
