// Package config handles kitsh configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/kitsh/config.yaml, /config/config.yaml,
// /etc/kitsh/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "kitsh", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/kitsh/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all kitsh configuration.
type Config struct {
	Listen   ListenConfig `yaml:"listen"`
	Shell    ShellConfig  `yaml:"shell"`
	SSH      SSHConfig    `yaml:"ssh"`
	PidFile  string       `yaml:"pid_file"`
	LogLevel string       `yaml:"log_level"`
}

// ListenConfig defines the kitshd HTTP/WebSocket server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ShellConfig defines the default local session command.
type ShellConfig struct {
	// Command is exec'd inside a pty when a client connects without
	// requesting a specific mode. Defaults to $SHELL, or /bin/sh if
	// $SHELL is unset.
	Command string `yaml:"command"`
	// Term is the TERM value reported to the child process.
	Term string `yaml:"term"`
}

// SSHConfig defines defaults used by the `?mode=ssh` session route
// (which cmd/kitsh requests with `-mode ssh`).
type SSHConfig struct {
	Addr       string `yaml:"addr"`
	User       string `yaml:"user"`
	Term       string `yaml:"term"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}) as a convenience
	// for container deployments.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8022
	}
	if c.Shell.Command == "" {
		if sh := os.Getenv("SHELL"); sh != "" {
			c.Shell.Command = sh
		} else {
			c.Shell.Command = "/bin/sh"
		}
	}
	if c.Shell.Term == "" {
		c.Shell.Term = "xterm"
	}
	if c.SSH.Term == "" {
		c.SSH.Term = "xterm"
	}
	if c.SSH.TimeoutSec == 0 {
		c.SSH.TimeoutSec = 15
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local use. All
// defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
