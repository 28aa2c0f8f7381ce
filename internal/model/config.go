package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. MAILWATCH_IMAP_HOST.
const EnvPrefix = "MAILWATCH"

// Backend names.
const (
	StateBackendFile         = "file"
	StateBackendSQLite       = "sqlite"
	CredentialBackendFile    = "file"
	CredentialBackendKeyring = "keyring"
)

// IMAPConfig describes the server and mailbox to watch.
type IMAPConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	// Security is one of "tls", "starttls" or "none".
	Security string `mapstructure:"security" yaml:"security"`

	// Auth is one of "login" or "plain".
	Auth    string `mapstructure:"auth" yaml:"auth"`
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`
}

// MonitorConfig holds the poll loop timings.
type MonitorConfig struct {
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	StopTimeoutMs   int `mapstructure:"stop_timeout_ms" yaml:"stop_timeout_ms"`
	CallTimeoutSec  int `mapstructure:"call_timeout_sec" yaml:"call_timeout_sec"`

	// RecentCount is how many messages the watch screen lists.
	RecentCount int `mapstructure:"recent_count" yaml:"recent_count"`
}

// StateConfig selects where the watermark lives. An empty Path resolves
// next to the config file.
type StateConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`

	// NotificationRetention caps the sqlite notification log.
	NotificationRetention int `mapstructure:"notification_retention" yaml:"notification_retention"`
}

// CredentialsConfig selects where saved logins live.
type CredentialsConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// AlertConfig configures the new-mail sound. An empty Sound disables it.
type AlertConfig struct {
	Sound       string `mapstructure:"sound" yaml:"sound"`
	DurationSec int    `mapstructure:"duration_sec" yaml:"duration_sec"`
}

// LogConfig configures the application log.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	IMAP        IMAPConfig        `mapstructure:"imap" yaml:"imap"`
	Monitor     MonitorConfig     `mapstructure:"monitor" yaml:"monitor"`
	State       StateConfig       `mapstructure:"state" yaml:"state"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Alert       AlertConfig       `mapstructure:"alert" yaml:"alert"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// ConfigDir returns ~/.config/mailwatch, or the working directory when
// the home directory is unknown.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailwatch")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailwatch/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

var defaults = map[string]interface{}{
	"imap.host":                    "imap.gmail.com",
	"imap.port":                    993,
	"imap.security":                "tls",
	"imap.auth":                    "login",
	"imap.mailbox":                 "INBOX",
	"monitor.poll_interval_sec":    10,
	"monitor.stop_timeout_ms":      2000,
	"monitor.call_timeout_sec":     15,
	"monitor.recent_count":         5,
	"state.backend":                StateBackendFile,
	"state.path":                   "",
	"state.notification_retention": 500,
	"credentials.backend":          CredentialBackendFile,
	"credentials.path":             "",
	"alert.sound":                  "",
	"alert.duration_sec":           30,
	"log.level":                    "info",
	"log.file":                     "",
}

// DefaultAppConfig returns the configuration used when no file exists.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		IMAP: IMAPConfig{
			Host:     "imap.gmail.com",
			Port:     993,
			Security: "tls",
			Auth:     "login",
			Mailbox:  "INBOX",
		},
		Monitor: MonitorConfig{
			PollIntervalSec: 10,
			StopTimeoutMs:   2000,
			CallTimeoutSec:  15,
			RecentCount:     5,
		},
		State:       StateConfig{Backend: StateBackendFile, NotificationRetention: 500},
		Credentials: CredentialsConfig{Backend: CredentialBackendFile},
		Alert:       AlertConfig{DurationSec: 30},
		Log:         LogConfig{Level: "info"},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// applying MAILWATCH_* environment overrides. A missing file yields the
// defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// resolvePaths fills empty file locations relative to dir.
func (c *AppConfig) resolvePaths(dir string) {
	if c.State.Path == "" {
		name := "watcher_state.json"
		if c.State.Backend == StateBackendSQLite {
			name = "mailwatch.db"
		}
		c.State.Path = filepath.Join(dir, name)
	}
	if c.Credentials.Path == "" {
		c.Credentials.Path = filepath.Join(dir, "credentials.json")
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(dir, "mailwatch.log")
	}
}

// Validate reports the first unusable setting.
func (c *AppConfig) Validate() error {
	switch c.IMAP.Security {
	case "tls", "starttls", "none":
	default:
		return fmt.Errorf("imap.security must be tls, starttls or none, got %q", c.IMAP.Security)
	}
	switch c.IMAP.Auth {
	case "login", "plain":
	default:
		return fmt.Errorf("imap.auth must be login or plain, got %q", c.IMAP.Auth)
	}
	if c.IMAP.Host == "" {
		return errors.New("imap.host is required")
	}
	if c.IMAP.Port <= 0 || c.IMAP.Port > 65535 {
		return fmt.Errorf("imap.port out of range: %d", c.IMAP.Port)
	}
	if c.Monitor.PollIntervalSec <= 0 {
		return fmt.Errorf("monitor.poll_interval_sec must be positive, got %d", c.Monitor.PollIntervalSec)
	}
	if c.Monitor.RecentCount < 0 {
		return fmt.Errorf("monitor.recent_count must not be negative, got %d", c.Monitor.RecentCount)
	}
	if c.State.NotificationRetention < 0 {
		return fmt.Errorf("state.notification_retention must not be negative, got %d", c.State.NotificationRetention)
	}
	switch c.State.Backend {
	case StateBackendFile, StateBackendSQLite:
	default:
		return fmt.Errorf("state.backend must be file or sqlite, got %q", c.State.Backend)
	}
	switch c.Credentials.Backend {
	case CredentialBackendFile, CredentialBackendKeyring:
	default:
		return fmt.Errorf("credentials.backend must be file or keyring, got %q", c.Credentials.Backend)
	}
	return nil
}

// PollInterval returns the configured delay between checks.
func (c MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// StopTimeout returns the configured bound on Stop.
func (c MonitorConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutMs) * time.Millisecond
}

// CallTimeout returns the configured bound on each network step.
func (c MonitorConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSec) * time.Second
}

// Duration returns the configured alert length.
func (c AlertConfig) Duration() time.Duration {
	return time.Duration(c.DurationSec) * time.Second
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("imap", cfg.IMAP)
	v.Set("monitor", cfg.Monitor)
	v.Set("state", cfg.State)
	v.Set("credentials", cfg.Credentials)
	v.Set("alert", cfg.Alert)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
