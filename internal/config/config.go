package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/0kenx/mcp-servers/internal/logging"
	"github.com/0kenx/mcp-servers/pkg/fileops"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const APP_NAME = "mcpfs" // application name used for config directory

// Defaults applied when the config file omits a value.
const (
	DefaultLockTimeoutSeconds = 10
	DefaultLogWarnBytes       = 50 * 1024 * 1024
)

// Config holds settings shared by the filesystem server and the reviewer CLI.
type Config struct {
	// AllowedDirectories are the workspace roots the server may mutate.
	AllowedDirectories []string `yaml:"allowed_directories"`
	// LockTimeoutSeconds bounds advisory lock acquisition.
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds"`
	// LogWarnBytes is the log size above which in-place rewrites warn.
	LogWarnBytes int64 `yaml:"log_warn_bytes"`
	Version      string `yaml:"version"` // Track config version
}

// LockTimeout returns the configured lock timeout as a duration.
func (c *Config) LockTimeout() time.Duration {
	secs := c.LockTimeoutSeconds
	if secs <= 0 {
		secs = DefaultLockTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

// ConfigPath returns the standard config file path for the current platform
func ConfigPath() (string, error) {
	configDir := filepath.Join(xdg.ConfigHome, APP_NAME)
	configPath := filepath.Join(configDir, "config.yaml")

	logging.Debug("Determined config path", "path", configPath)
	return configPath, nil
}

// Load loads the config from the standard location. A missing config file is
// not an error: the DefaultConfig() values are returned so that the server can
// run purely from command-line arguments.
func Load() (*Config, error) {
	configPath, exists := FindConfigFile()
	logging.Debug("Loading config from", "path", configPath)
	if !exists {
		cfg := DefaultConfig()
		return &cfg, nil
	}

	return LoadFrom(configPath)
}

// LoadFrom loads config from a specific path
func LoadFrom(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.LockTimeoutSeconds <= 0 {
		cfg.LockTimeoutSeconds = DefaultLockTimeoutSeconds
	}
	if cfg.LogWarnBytes <= 0 {
		cfg.LogWarnBytes = DefaultLogWarnBytes
	}
	for i, dir := range cfg.AllowedDirectories {
		abs, err := fileops.NormalizeAbs(dir)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed directory %q: %w", dir, err)
		}
		cfg.AllowedDirectories[i] = abs
	}

	return &cfg, nil
}

// FindConfigFile returns the path to an existing config file, and whether it exists.
func FindConfigFile() (string, bool) {
	primary, err := ConfigPath()
	if err != nil {
		logging.Error("Failed to get config path", "error", err)
		return "", false
	}

	if _, err := os.Stat(primary); err == nil {
		logging.Debug("Config found at primary path", "path", primary)
		return primary, true
	}

	// Return primary path for new config
	return primary, false
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LockTimeoutSeconds: DefaultLockTimeoutSeconds,
		LogWarnBytes:       DefaultLogWarnBytes,
		Version:            "1.0",
	}
}

// Save writes the config to the standard location
func (c *Config) Save() error {
	configPath, _ := FindConfigFile()
	return c.SaveTo(configPath)
}

// SaveTo writes the config to a specific path
func (c *Config) SaveTo(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create file with restrictive permissions (600) for security
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	defer enc.Close()

	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
