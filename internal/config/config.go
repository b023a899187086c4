// Package config loads the deployment configuration from a YAML file and
// CALMIRROR_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8787".
	Addr string `mapstructure:"addr" yaml:"addr"`

	// AdminToken guards the admin endpoints; empty disables them. A
	// keyring:<key> value is resolved through the credential store.
	AdminToken string `mapstructure:"admin_token" yaml:"admin_token"`
}

// WorkspaceConfig holds the task source settings.
type WorkspaceConfig struct {
	// BaseURL is the workspace API root.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// Token is the integration token, or a keyring:<key> reference.
	Token string `mapstructure:"token" yaml:"token"`

	// DatabaseID names the task database to mirror.
	DatabaseID string `mapstructure:"database_id" yaml:"database_id"`
}

// CalendarConfig holds the target calendar settings.
type CalendarConfig struct {
	// Provider selects the target implementation: "caldav" or "google".
	Provider string `mapstructure:"provider" yaml:"provider"`

	// Origin, Username and Password configure the caldav provider. An
	// empty origin falls back to the iCloud endpoint. Password may be a
	// keyring:<key> reference.
	Origin   string `mapstructure:"origin" yaml:"origin"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	// CredentialsFile and TokenFile configure the google provider: the
	// OAuth client JSON and the stored token. TokenFile may be a
	// keyring:<key> reference holding the token JSON itself.
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	TokenFile       string `mapstructure:"token_file" yaml:"token_file"`

	// GlyphStyle selects the summary glyph set: "emoji" or "symbol".
	GlyphStyle string `mapstructure:"glyph_style" yaml:"glyph_style"`

	// Timezone seeds the persisted calendar timezone on first start; once
	// the state carries one, changes go through the admin API.
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// SyncConfig holds the scheduler cadence.
type SyncConfig struct {
	// CheckIntervalMinutes is how often the scheduler offers a pass; the
	// persisted full-sync interval decides whether one runs.
	CheckIntervalMinutes int `mapstructure:"check_interval_minutes" yaml:"check_interval_minutes"`

	// RunTimeoutMinutes bounds a single pass.
	RunTimeoutMinutes int `mapstructure:"run_timeout_minutes" yaml:"run_timeout_minutes"`
}

// WebhookConfig holds the notification receiver settings.
type WebhookConfig struct {
	// SecretSeed verifies deliveries until the provider's handshake
	// stores a secret. May be a keyring:<key> reference.
	SecretSeed string `mapstructure:"secret_seed" yaml:"secret_seed"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Config is the top-level deployment configuration.
type Config struct {
	// DBPath locates the SQLite state database.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Workspace WorkspaceConfig `mapstructure:"workspace" yaml:"workspace"`
	Calendar  CalendarConfig  `mapstructure:"calendar" yaml:"calendar"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Webhook   WebhookConfig   `mapstructure:"webhook" yaml:"webhook"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/calmirror/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "calmirror", "config.yaml")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "calmirror.db")
	}
	return filepath.Join(home, ".config", "calmirror", "calmirror.db")
}

// Load reads configuration from the given YAML file path using Viper.
// Environment variables prefixed CALMIRROR_ override file values, and a
// missing file resolves to defaults so first runs work without one.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("CALMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values; defaults
	// also register the keys for environment overrides.
	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("server.addr", ":8787")
	v.SetDefault("server.admin_token", "")
	v.SetDefault("workspace.base_url", "https://api.notion.com")
	v.SetDefault("workspace.token", "")
	v.SetDefault("workspace.database_id", "")
	v.SetDefault("calendar.provider", "caldav")
	v.SetDefault("calendar.origin", "")
	v.SetDefault("calendar.username", "")
	v.SetDefault("calendar.password", "")
	v.SetDefault("calendar.credentials_file", "")
	v.SetDefault("calendar.token_file", "")
	v.SetDefault("calendar.glyph_style", "emoji")
	v.SetDefault("calendar.timezone", "")
	v.SetDefault("sync.check_interval_minutes", 5)
	v.SetDefault("sync.run_timeout_minutes", 5)
	v.SetDefault("webhook.secret_seed", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if err := v.ReadInConfig(); err != nil {
		_, pathErr := err.(*os.PathError)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !pathErr && !notFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the fields a running service cannot do without.
func (c *Config) Validate() error {
	if c.Workspace.Token == "" {
		return fmt.Errorf("workspace.token is required")
	}
	if c.Workspace.DatabaseID == "" {
		return fmt.Errorf("workspace.database_id is required")
	}
	switch c.Calendar.Provider {
	case "caldav":
		if c.Calendar.Username == "" || c.Calendar.Password == "" {
			return fmt.Errorf("calendar.username and calendar.password are required for the caldav provider")
		}
	case "google":
		if c.Calendar.CredentialsFile == "" || c.Calendar.TokenFile == "" {
			return fmt.Errorf("calendar.credentials_file and calendar.token_file are required for the google provider")
		}
	default:
		return fmt.Errorf("calendar.provider must be caldav or google, got %q", c.Calendar.Provider)
	}
	if c.Calendar.GlyphStyle != "emoji" && c.Calendar.GlyphStyle != "symbol" {
		return fmt.Errorf("calendar.glyph_style must be emoji or symbol, got %q", c.Calendar.GlyphStyle)
	}
	if c.Sync.CheckIntervalMinutes < 1 {
		return fmt.Errorf("sync.check_interval_minutes must be at least 1")
	}
	if c.Sync.RunTimeoutMinutes < 1 {
		return fmt.Errorf("sync.run_timeout_minutes must be at least 1")
	}
	return nil
}

// Save writes the configuration to a YAML file at path, creating parent
// directories if needed.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("db_path", cfg.DBPath)
	v.Set("server", cfg.Server)
	v.Set("workspace", cfg.Workspace)
	v.Set("calendar", cfg.Calendar)
	v.Set("sync", cfg.Sync)
	v.Set("webhook", cfg.Webhook)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// NewLogger builds the process logger from the log settings. Unknown
// values fall back to info-level text output.
func (c LogConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
