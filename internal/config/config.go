// Package config loads and persists Browser-Bridge's ambient configuration:
// a YAML file under a per-user config directory, read with viper and
// overridable by the environment variables from spec §6, which always win.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Env var names from spec §6.
const (
	EnvDaemonSocket = "BROWSER_AGENT_DAEMON_SOCKET"
	EnvWSHost       = "BROWSER_AGENT_WS_HOST"
	EnvWSPort       = "BROWSER_AGENT_WS_PORT"
	EnvLogFile      = "BROWSER_AGENT_LOG_FILE"
)

// Defaults per spec §4.3 and §5.
const (
	DefaultWSHost         = "127.0.0.1"
	DefaultWSPort         = 3026
	DefaultMaxSessions    = 100
	DefaultRequestTimeout = 30 * time.Second
	DefaultIdleTimeout    = 60 * time.Second
)

// Config is Browser-Bridge's on-disk + environment configuration.
type Config struct {
	DaemonSocket   string        `yaml:"daemon_socket,omitempty" mapstructure:"daemon_socket"`
	WSHost         string        `yaml:"ws_host" mapstructure:"ws_host"`
	WSPort         int           `yaml:"ws_port" mapstructure:"ws_port"`
	LogFile        string        `yaml:"log_file,omitempty" mapstructure:"log_file"`
	MaxSessions    int           `yaml:"max_sessions" mapstructure:"max_sessions"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	Debug          bool          `yaml:"debug" mapstructure:"debug"`

	// Browser holds the Chrome remote-debugging target the executor
	// attaches to. Set in the config file, or left nil to auto-launch
	// Chrome with an isolated profile on port 9222.
	Browser *BrowserConfig `yaml:"browser,omitempty" mapstructure:"browser"`
}

// BrowserConfig holds the Chrome target the CDP-backed executor attaches to.
type BrowserConfig struct {
	ProfilePath string `yaml:"profile_path" mapstructure:"profile_path"`
	Port        int    `yaml:"port" mapstructure:"port"`
	AutoLaunch  bool   `yaml:"auto_launch" mapstructure:"auto_launch"`
}

var (
	configPath string
	configDir  string
)

func init() {
	// When running under sudo, os.UserHomeDir() returns /root; resolve the
	// invoking user's real home via SUDO_USER so a daemon spawned through
	// sudo still reads/writes the right person's config.
	var home string
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			home = u.HomeDir
		}
	}
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	if home == "" {
		home = os.TempDir()
	}

	configDir = filepath.Join(home, ".config", "browserbridge")
	configPath = filepath.Join(configDir, "config.yaml")
}

// GetConfigPath returns the path to the config file.
func GetConfigPath() string { return configPath }

// GetConfigDir returns the config directory.
func GetConfigDir() string { return configDir }

func defaultConfig() *Config {
	return &Config{
		WSHost:         DefaultWSHost,
		WSPort:         DefaultWSPort,
		MaxSessions:    DefaultMaxSessions,
		RequestTimeout: DefaultRequestTimeout,
		IdleTimeout:    DefaultIdleTimeout,
	}
}

// Load reads the config file, creating a default one on first run, then
// overlays environment variables.
func Load() (*Config, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create config directory: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := defaultConfig()
		if err := Save(cfg); err != nil {
			return nil, fmt.Errorf("config: write default config: %w", err)
		}
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read config: %w", err)
	}

	cfg := defaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides implements "environment variables take precedence"
// (spec §6) directly: the four names involved don't share a common
// prefix viper's AutomaticEnv could bind cleanly against mapstructure tags.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvDaemonSocket); v != "" {
		cfg.DaemonSocket = v
	}
	if v := os.Getenv(EnvWSHost); v != "" {
		cfg.WSHost = v
	}
	if v := os.Getenv(EnvWSPort); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.WSPort = port
		}
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.LogFile = v
	}
}

// Save writes cfg to the config file with owner-only permissions.
func Save(cfg *Config) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

// SocketPath resolves the helper↔daemon IPC path: the configured
// override, else the platform default under a user-writable runtime
// directory (spec §4.3, §6).
func (c *Config) SocketPath() string {
	if c.DaemonSocket != "" {
		return c.DaemonSocket
	}
	if runtime.GOOS == "windows" {
		return `\\.\pipe\browserbridge`
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = os.TempDir()
	}
	return filepath.Join(runtimeDir, "browserbridge.sock")
}

// PIDPath returns the daemon's PID file path, next to its socket (on
// Windows, where the socket is a named pipe, in the temp directory).
func (c *Config) PIDPath() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.TempDir(), "browserbridge.pid")
	}
	return filepath.Join(filepath.Dir(c.SocketPath()), "browserbridge.pid")
}

// LockPath is the startup mutual-exclusion lock file used by the
// helper's self-spawn algorithm (spec §4.4 step 2).
func (c *Config) LockPath() string {
	return c.SocketPath() + ".lock"
}

// WSAddr is the "host:port" the daemon binds for the extension uplink,
// and the side panel dials.
func (c *Config) WSAddr() string {
	return fmt.Sprintf("%s:%d", c.WSHost, c.WSPort)
}

