// Package config holds the release-run configuration: which platforms
// to build, how to reach the toolchain and repair tools, where the
// ledger and the distribution index live.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ToolchainConfig describes the external compile step.
type ToolchainConfig struct {
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args,omitempty"`
	OutputDir string   `yaml:"output_dir"`
	Timeout   string   `yaml:"timeout,omitempty"` // Go duration, e.g. "30m"
}

// RepairConfig describes the per-OS repair/bundling tools.
type RepairConfig struct {
	LinuxCommand []string `yaml:"linux_command,omitempty"`
	MacOSCommand []string `yaml:"macos_command,omitempty"`
}

// LedgerConfig selects where publish records are persisted.
type LedgerConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" or "postgres"; empty means in-memory
	DSN    string `yaml:"dsn,omitempty"`
}

// IndexConfig describes the distribution index.
type IndexConfig struct {
	Bucket    string  `yaml:"bucket"`
	Region    string  `yaml:"region,omitempty"`
	Endpoint  string  `yaml:"endpoint,omitempty"`
	Prefix    string  `yaml:"prefix,omitempty"`
	UploadRPS float64 `yaml:"upload_rps,omitempty"`
}

// Config is one release run's configuration.
type Config struct {
	ManifestPath string          `yaml:"manifest"`
	Platforms    []string        `yaml:"platforms"`
	WorkDir      string          `yaml:"work_dir,omitempty"`
	StatePath    string          `yaml:"state_path,omitempty"`
	Toolchain    ToolchainConfig `yaml:"toolchain"`
	Repair       RepairConfig    `yaml:"repair"`
	Ledger       LedgerConfig    `yaml:"ledger,omitempty"`
	Index        IndexConfig     `yaml:"index"`
	LogLevel     string          `yaml:"log_level,omitempty"`
}

// Load reads a release configuration YAML, applies environment
// overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // config path from the CLI
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if cfg.ManifestPath == "" {
		return nil, fmt.Errorf("config %q: manifest path is required", path)
	}
	if len(cfg.Platforms) == 0 {
		return nil, fmt.Errorf("config %q: at least one platform is required", path)
	}
	if cfg.Toolchain.Command == "" {
		return nil, fmt.Errorf("config %q: toolchain command is required", path)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RELEASE_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv("RELEASE_LEDGER_DSN"); v != "" {
		cfg.Ledger.DSN = v
	}
	if v := os.Getenv("RELEASE_INDEX_BUCKET"); v != "" {
		cfg.Index.Bucket = v
	}
	if v := os.Getenv("RELEASE_INDEX_ENDPOINT"); v != "" {
		cfg.Index.Endpoint = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.WorkDir == "" {
		cfg.WorkDir = "build"
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "release-state.yaml"
	}
	if cfg.Toolchain.OutputDir == "" {
		cfg.Toolchain.OutputDir = "out"
	}
	if cfg.Index.Region == "" {
		cfg.Index.Region = "us-east-1"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
}

// BuildTimeout parses the toolchain timeout; zero means "use the
// coordinator default".
func (c *Config) BuildTimeout() (time.Duration, error) {
	if c.Toolchain.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Toolchain.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid toolchain timeout %q: %w", c.Toolchain.Timeout, err)
	}
	return d, nil
}
