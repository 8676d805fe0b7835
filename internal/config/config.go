package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written in
// time.ParseDuration form ("30s", "1m30s").
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// ServerConfig describes one MCP server to pool. Immutable once accepted.
type ServerConfig struct {
	// ID uniquely names the server inside the pool.
	ID string `yaml:"id"`

	// Name is a human-readable label. Defaults to ID.
	Name string `yaml:"name"`

	// Command is the executable to spawn.
	Command string `yaml:"command"`

	// Args are appended to the command in order.
	Args []string `yaml:"args"`

	// Env variables are added to the parent environment, not replacing it.
	Env map[string]string `yaml:"env"`

	// Enabled decides whether the pool connects this server. Omitted
	// means enabled.
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports the effective enabled flag.
func (sc *ServerConfig) IsEnabled() bool {
	return sc.Enabled == nil || *sc.Enabled
}

// Config holds mcpoold runtime configuration.
type Config struct {
	// DataDir is the base directory for mcpool runtime data.
	DataDir string `yaml:"data_dir"`

	// SocketPath is the unix socket path for the mcpoold API.
	SocketPath string `yaml:"socket_path"`

	// PIDFile is where the daemon records its process id.
	PIDFile string `yaml:"pid_file"`

	// LogsDir is the directory for per-server stderr log files.
	LogsDir string `yaml:"logs_dir"`

	// HistoryDBPath is the path to the SQLite event history database.
	HistoryDBPath string `yaml:"history_db"`

	// HistoryRetention bounds how long history events are kept; events
	// older than this are pruned at daemon startup. Zero keeps everything.
	HistoryRetention Duration `yaml:"history_retention"`

	// ConnectionTimeout bounds each JSON-RPC request, including the
	// initialize handshake.
	ConnectionTimeout Duration `yaml:"connection_timeout"`

	// MaxRetries is the number of reconnect attempts after the first
	// failed connect of a server.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay separates connect attempts.
	RetryDelay Duration `yaml:"retry_delay"`

	// HealthCheckInterval is the period of the background probe loop.
	HealthCheckInterval Duration `yaml:"health_check_interval"`

	// Strategy selects how tool calls are routed: "health" or "round_robin".
	Strategy string `yaml:"strategy"`

	// Servers are connected at startup.
	Servers []ServerConfig `yaml:"servers"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".mcpool")

	return &Config{
		DataDir:             baseDir,
		SocketPath:          filepath.Join(baseDir, "mcpoold.sock"),
		PIDFile:             filepath.Join(baseDir, "mcpoold.pid"),
		LogsDir:             filepath.Join(baseDir, "logs"),
		HistoryDBPath:       filepath.Join(baseDir, "history.db"),
		HistoryRetention:    Duration(30 * 24 * time.Hour),
		ConnectionTimeout:   Duration(30 * time.Second),
		MaxRetries:          3,
		RetryDelay:          Duration(time.Second),
		HealthCheckInterval: Duration(30 * time.Second),
		Strategy:            "health",
	}
}

// Load reads configuration from path, or searches the usual locations
// when path is empty: ./mcpool.yaml, ./configs/mcpool.yaml,
// ~/.mcpool/mcpool.yaml (.yml variants too). File values are laid over
// DefaultConfig, so a partial file is fine. No file at all yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	file := path
	if file == "" {
		file = searchConfigFile()
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", file, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func searchConfigFile() string {
	searchDirs := []string{".", "configs"}
	if home, err := os.UserHomeDir(); err == nil {
		searchDirs = append(searchDirs, filepath.Join(home, ".mcpool"))
	}
	for _, dir := range searchDirs {
		for _, ext := range []string{"yaml", "yml"} {
			f := filepath.Join(dir, "mcpool."+ext)
			if _, err := os.Stat(f); err == nil {
				return f
			}
		}
	}
	return ""
}

// Validate checks the configuration, returning the first problem found.
func (c *Config) Validate() error {
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection_timeout must be positive, got %s", c.ConnectionTimeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must be >= 0, got %s", c.RetryDelay)
	}
	if c.HistoryRetention < 0 {
		return fmt.Errorf("history_retention must be >= 0, got %s", c.HistoryRetention)
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("health_check_interval must be positive, got %s", c.HealthCheckInterval)
	}
	switch c.Strategy {
	case "health", "round_robin":
	default:
		return fmt.Errorf("invalid strategy: %q (must be health or round_robin)", c.Strategy)
	}

	seen := make(map[string]bool, len(c.Servers))
	for i := range c.Servers {
		sc := &c.Servers[i]
		if sc.ID == "" {
			return fmt.Errorf("server %d: id is required", i)
		}
		if seen[sc.ID] {
			return fmt.Errorf("duplicate server id %q", sc.ID)
		}
		seen[sc.ID] = true
		if sc.Command == "" {
			return fmt.Errorf("server %s: command is required", sc.ID)
		}
		if sc.Name == "" {
			sc.Name = sc.ID
		}
	}
	return nil
}

// EnsureDirs creates all required directories.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.DataDir,
		c.LogsDir,
		filepath.Dir(c.SocketPath),
		filepath.Dir(c.PIDFile),
		filepath.Dir(c.HistoryDBPath),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
