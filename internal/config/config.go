package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up by Find
const FileName = "planact.yaml"

// Config represents the planact.yaml configuration file
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Run       RunConfig       `yaml:"run"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Engine    EngineConfig    `yaml:"engine"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP control endpoint
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownGraceMs int    `yaml:"shutdown_grace_ms"`
}

// RunConfig controls a single task run
type RunConfig struct {
	TimeoutSec               int    `yaml:"timeout_sec"`
	PhaseSwitchDelayMs       int    `yaml:"phase_switch_delay_ms"`
	AutoRespondDelayMs       int    `yaml:"auto_respond_delay_ms"`
	BlindApprovalIntervalSec int    `yaml:"blind_approval_interval_sec"`
	DefaultProvider          string `yaml:"default_provider"`
	ResultsDir               string `yaml:"results_dir"`
	FilenameMaxTaskChars     int    `yaml:"filename_max_task_chars"`
}

// WorkspaceConfig names the directory the engine works in. Empty means the
// working directory of the server.
type WorkspaceConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig describes how to launch the engine subprocess
type EngineConfig struct {
	Cmd              []string          `yaml:"cmd"`
	Env              map[string]string `yaml:"env,omitempty"`
	RequestTimeoutMs int               `yaml:"request_timeout_ms"`
}

// LoggingConfig selects the log handler
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GenerateDefault creates a new Config with default values
func GenerateDefault() *Config {
	return &Config{
		Version: "1.0",
		Server: ServerConfig{
			Addr:            "127.0.0.1:9877",
			ShutdownGraceMs: 100,
		},
		Run: RunConfig{
			TimeoutSec:               1800,
			PhaseSwitchDelayMs:       500,
			AutoRespondDelayMs:       3000,
			BlindApprovalIntervalSec: 10,
			DefaultProvider:          "gemini",
			ResultsDir:               "results",
			FilenameMaxTaskChars:     50,
		},
		Engine: EngineConfig{
			Cmd:              []string{},
			RequestTimeoutMs: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "tint",
		},
	}
}

// Validate checks the configuration for errors and returns user-friendly error messages
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("configuration error: missing required field 'version'\n\nHint: Add a version field like:\n  version: \"1.0\"")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("configuration error: missing required field 'server.addr'\n\nHint: Set the listen address:\n  server:\n    addr: 127.0.0.1:9877")
	}

	if c.Server.ShutdownGraceMs < 0 {
		return fmt.Errorf("configuration error: invalid 'server.shutdown_grace_ms' value: %d\n\nHint: Use 0 or a positive number of milliseconds", c.Server.ShutdownGraceMs)
	}

	positive := []struct {
		field string
		value int
	}{
		{"run.timeout_sec", c.Run.TimeoutSec},
		{"run.blind_approval_interval_sec", c.Run.BlindApprovalIntervalSec},
		{"run.filename_max_task_chars", c.Run.FilenameMaxTaskChars},
		{"engine.request_timeout_ms", c.Engine.RequestTimeoutMs},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("configuration error: invalid '%s' value: %d\n\nHint: '%s' must be greater than zero", p.field, p.value, p.field)
		}
	}

	if c.Run.PhaseSwitchDelayMs < 0 || c.Run.AutoRespondDelayMs < 0 {
		return fmt.Errorf("configuration error: run delays must not be negative\n\nHint: Use 0 to act immediately:\n  run:\n    phase_switch_delay_ms: 500\n    auto_respond_delay_ms: 3000")
	}

	if c.Run.ResultsDir == "" || filepath.IsAbs(c.Run.ResultsDir) {
		return fmt.Errorf("configuration error: invalid 'run.results_dir' value: %q\n\nHint: Results are written inside the workspace; use a relative directory:\n  run:\n    results_dir: results", c.Run.ResultsDir)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("configuration error: invalid 'logging.level' value: %q\n\nHint: Use one of debug, info, warn, error", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "", "tint", "text", "json":
	default:
		return fmt.Errorf("configuration error: invalid 'logging.format' value: %q\n\nHint: Use one of tint, text, json", c.Logging.Format)
	}

	return nil
}

// ValidateEngine checks that an engine command is configured. Only commands
// that launch the engine need it.
func (c *Config) ValidateEngine() error {
	if len(c.Engine.Cmd) == 0 {
		return fmt.Errorf("configuration error: 'engine' has empty 'cmd' field\n\nHint: Specify the command that starts the engine:\n  engine:\n    cmd: [\"node\", \"engine/index.js\"]\nor pass --engine-cmd")
	}
	return nil
}

// RunTimeout is the overall completion-wait window
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Run.TimeoutSec) * time.Second
}

// PhaseSwitchDelay is the grace delay before switching to act
func (c *Config) PhaseSwitchDelay() time.Duration {
	return time.Duration(c.Run.PhaseSwitchDelayMs) * time.Millisecond
}

// AutoRespondDelay is the delay before an approval is submitted
func (c *Config) AutoRespondDelay() time.Duration {
	return time.Duration(c.Run.AutoRespondDelayMs) * time.Millisecond
}

// BlindApprovalInterval is the default blind-approval period
func (c *Config) BlindApprovalInterval() time.Duration {
	return time.Duration(c.Run.BlindApprovalIntervalSec) * time.Second
}

// ShutdownGrace is the delay between the shutdown reply and closing the server
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Server.ShutdownGraceMs) * time.Millisecond
}

// RequestTimeout bounds one engine command round trip
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Engine.RequestTimeoutMs) * time.Millisecond
}

// LoadFromFile loads a configuration from a YAML file. Fields missing from
// the file keep their default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := GenerateDefault()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Find walks up from dir looking for FileName. It returns "" when none exists.
func Find(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	for {
		candidate := filepath.Join(dir, FileName)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to check %s: %w", candidate, err)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Load reads path, or the first FileName found upward from the working
// directory when path is empty. With no file at all the defaults are used.
// The result is validated.
func Load(path string) (*Config, string, error) {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("failed to get working directory: %w", err)
		}
		path, err = Find(wd)
		if err != nil {
			return nil, "", err
		}
	}

	cfg := GenerateDefault()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, "", err
		}
		cfg = loaded
	}

	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// SaveToFile writes the configuration to a YAML file with 0600 permissions
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}
