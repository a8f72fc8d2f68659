// Package config loads naligeo settings from YAML with first-match file
// discovery and a few environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/naligeo/geo"
)

const (
	projectConfigName = "naligeo.yaml"
	homeConfigDir     = ".naligeo"
	homeConfigName    = "config.yaml"

	envCommand      = "NALIGEO_COMMAND"
	envHistoryPath  = "NALIGEO_HISTORY_PATH"
	envOTLPEndpoint = "NALIGEO_OTLP_ENDPOINT"
)

// Config is the full naligeo configuration.
type Config struct {
	Tool      ToolConfig      `yaml:"tool"`
	Lookup    LookupConfig    `yaml:"lookup"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Watch     WatchConfig     `yaml:"watch"`
	Server    ServerConfig    `yaml:"server"`
}

// ToolConfig describes the external geolocation program.
type ToolConfig struct {
	Command      string            `yaml:"command"`
	Args         []string          `yaml:"args,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	ProbeTimeout time.Duration     `yaml:"probe_timeout"`
}

// LookupConfig bounds each lookup.
type LookupConfig struct {
	Timeout        time.Duration   `yaml:"timeout"`
	OutputCapacity int             `yaml:"output_capacity"`
	FieldCapacity  int             `yaml:"field_capacity"`
	Overflow       string          `yaml:"overflow"`
	Retry          geo.RetryPolicy `yaml:"retry"`
}

// HistoryConfig enables the SQLite lookup history. An empty Path disables it.
type HistoryConfig struct {
	Path           string        `yaml:"path"`
	RetentionAge   time.Duration `yaml:"retention_age"`
	RetentionCount int           `yaml:"retention_count"`
	PruneInterval  time.Duration `yaml:"prune_interval"`
}

// TelemetryConfig enables OTLP trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// WatchConfig configures the availability watcher.
type WatchConfig struct {
	Schedule string `yaml:"schedule"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Tool: ToolConfig{
			Command:      geo.DefaultToolCommand,
			ProbeTimeout: geo.DefaultProbeTimeout,
		},
		Lookup: LookupConfig{
			Timeout:        geo.DefaultLookupTimeout,
			OutputCapacity: geo.DefaultOutputCapacity,
			FieldCapacity:  geo.DefaultFieldCapacity,
			Overflow:       string(geo.OverflowTruncate),
			Retry:          geo.RetryPolicy{MaxAttempts: 1},
		},
		History: HistoryConfig{
			PruneInterval: time.Hour,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "naligeo",
		},
		Watch: WatchConfig{
			Schedule: geo.DefaultWatchSchedule,
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8086,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
	}
}

// DiscoverPath resolves the config location with first-match semantics.
func DiscoverPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverPathFrom is a testable variant of DiscoverPath.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// An explicit path must exist.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load discovers, reads and validates the configuration. Without a config
// file it returns the defaults plus environment overrides.
func Load(explicitPath string) (Config, string, error) {
	path, found, err := DiscoverPath(explicitPath)
	if err != nil {
		return Config{}, "", err
	}
	cfg := Default()
	if found {
		cfg, err = LoadFile(path)
		if err != nil {
			return Config{}, "", err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, "", err
	}
	return cfg, path, nil
}

// LoadFile reads one YAML file on top of the defaults.
func LoadFile(path string) (Config, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	cfg.expand(filepath.Dir(path))
	return cfg, nil
}

func (c *Config) expand(baseDir string) {
	c.Tool.Command = strings.TrimSpace(os.ExpandEnv(c.Tool.Command))
	for i, arg := range c.Tool.Args {
		c.Tool.Args[i] = os.ExpandEnv(arg)
	}
	for key, value := range c.Tool.Env {
		c.Tool.Env[key] = os.ExpandEnv(value)
	}
	if p := strings.TrimSpace(os.ExpandEnv(c.History.Path)); p != "" && !strings.HasPrefix(strings.ToLower(p), "file:") {
		c.History.Path = resolveConfigRelative(baseDir, p)
	} else {
		c.History.Path = p
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(envCommand)); v != "" {
		c.Tool.Command = v
	}
	if v := strings.TrimSpace(os.Getenv(envHistoryPath)); v != "" {
		c.History.Path = v
	}
	if v := strings.TrimSpace(os.Getenv(envOTLPEndpoint)); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
}

// Validate rejects settings the geolocation stack cannot honor.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Tool.Command) == "" {
		problems = append(problems, "tool.command is required")
	}
	if c.Tool.ProbeTimeout <= 0 {
		problems = append(problems, "tool.probe_timeout must be positive")
	}
	if c.Lookup.Timeout <= 0 {
		problems = append(problems, "lookup.timeout must be positive")
	}
	if c.Lookup.OutputCapacity <= 0 {
		problems = append(problems, "lookup.output_capacity must be positive")
	}
	if c.Lookup.FieldCapacity <= 0 {
		problems = append(problems, "lookup.field_capacity must be positive")
	}
	if _, err := geo.ParseOverflowPolicy(c.Lookup.Overflow); err != nil {
		problems = append(problems, fmt.Sprintf("lookup.overflow: %q is not truncate or error", c.Lookup.Overflow))
	}
	if c.Lookup.Retry.MaxAttempts < 0 || c.Lookup.Retry.BackoffMS < 0 {
		problems = append(problems, "lookup.retry values must not be negative")
	}
	if c.History.RetentionAge < 0 || c.History.RetentionCount < 0 {
		problems = append(problems, "history retention must not be negative")
	}
	if _, err := geo.ParseSchedule(c.Watch.Schedule); err != nil {
		problems = append(problems, "watch.schedule: "+err.Error())
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 0 and 65535")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Command returns the tool invocation described by the config.
func (c Config) Command() geo.Command {
	return geo.Command{
		Path: c.Tool.Command,
		Args: c.Tool.Args,
		Env:  c.Tool.Env,
	}
}

// Overflow returns the parsed overflow policy, defaulting to truncate.
func (c Config) Overflow() geo.OverflowPolicy {
	policy, err := geo.ParseOverflowPolicy(c.Lookup.Overflow)
	if err != nil {
		return geo.OverflowTruncate
	}
	return policy
}

func resolveConfigRelative(baseDir, p string) string {
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}
