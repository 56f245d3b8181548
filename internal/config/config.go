// Package config loads and validates recollect runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AudioConfig selects the capture input and sample parameters.
type AudioConfig struct {
	Input      string `mapstructure:"input"`
	Fallback   string `mapstructure:"fallback"`
	SampleRate int    `mapstructure:"sample_rate"`
}

// SessionConfig governs recording session defaults.
type SessionConfig struct {
	ScopeID       string        `mapstructure:"scope_id"`
	LiveAssistant bool          `mapstructure:"live_assistant"`
	MaxDuration   time.Duration `mapstructure:"max_duration"`
	WarnThreshold time.Duration `mapstructure:"warn_threshold"`
	RecordingsDir string        `mapstructure:"recordings_dir"`
}

// RealtimeConfig addresses the two live-path websocket endpoints.
type RealtimeConfig struct {
	TransportURL string `mapstructure:"transport_url"`
	InsightsURL  string `mapstructure:"insights_url"`
}

// UploadConfig addresses the content ingestion API.
type UploadConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	AutoMatch bool          `mapstructure:"auto_match"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// AuthConfig supplies the streaming credential, statically or via exchange.
type AuthConfig struct {
	Token    string `mapstructure:"token"`
	TokenURL string `mapstructure:"token_url"`
	APIKey   string `mapstructure:"api_key"`
}

// InsightsConfig names the enabled live analysis tiers.
type InsightsConfig struct {
	Tiers []string `mapstructure:"tiers"`
}

// JobsConfig locates the local job registry.
type JobsConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// NotifyConfig toggles desktop notifications.
type NotifyConfig struct {
	Enable bool `mapstructure:"enable"`
}

// Config is the full runtime configuration tree.
type Config struct {
	Audio    AudioConfig    `mapstructure:"audio"`
	Session  SessionConfig  `mapstructure:"session"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Insights InsightsConfig `mapstructure:"insights"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

// Loaded couples a parsed Config with the path it came from.
type Loaded struct {
	Config Config
	Path   string
}

// Load reads config from an explicit path or the default location.
// A missing file is not an error; defaults and env overrides still apply.
func Load(path string) (Loaded, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RECOLLECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolved := strings.TrimSpace(path)
	if resolved == "" {
		def, err := DefaultPath()
		if err != nil {
			return Loaded{}, err
		}
		resolved = def
	}

	v.SetConfigFile(resolved)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return Loaded{}, fmt.Errorf("read config %q: %w", resolved, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", resolved, err)
	}

	if err := Validate(&cfg); err != nil {
		return Loaded{}, fmt.Errorf("validate config %q: %w", resolved, err)
	}

	return Loaded{Config: cfg, Path: resolved}, nil
}

// SaveLiveAssistant writes the live-assistant preference back to the config
// file at path, preserving whatever else the file already holds. The file and
// its directory are created when missing.
func SaveLiveAssistant(path string, enabled bool) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("read config %q: %w", path, err)
		}
	}

	v.Set("session.live_assistant", enabled)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %q: %w", path, err)
	}
	return nil
}

// DefaultPath resolves XDG_CONFIG_HOME fallback location for the config file.
func DefaultPath() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "recollect", "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory for config: %w", err)
	}
	return filepath.Join(home, ".config", "recollect", "config.yaml"), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("audio.input", "default")
	v.SetDefault("audio.fallback", "")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("session.scope_id", "default")
	v.SetDefault("session.live_assistant", false)
	v.SetDefault("session.max_duration", 2*time.Hour)
	v.SetDefault("session.warn_threshold", 110*time.Minute)
	v.SetDefault("session.recordings_dir", "")
	v.SetDefault("upload.timeout", 2*time.Minute)
	v.SetDefault("upload.auto_match", false)
	v.SetDefault("insights.tiers", []string{"transcript"})
	v.SetDefault("jobs.db_path", "")
	v.SetDefault("notify.enable", true)
}

// Validate normalizes derived fields and rejects unusable settings.
func Validate(cfg *Config) error {
	if cfg.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate)
	}
	if strings.TrimSpace(cfg.Session.ScopeID) == "" {
		return errors.New("session.scope_id must not be empty")
	}
	if cfg.Session.MaxDuration <= 0 {
		return fmt.Errorf("session.max_duration must be positive, got %s", cfg.Session.MaxDuration)
	}
	if cfg.Session.WarnThreshold <= 0 || cfg.Session.WarnThreshold >= cfg.Session.MaxDuration {
		return fmt.Errorf("session.warn_threshold must be positive and below max_duration, got %s", cfg.Session.WarnThreshold)
	}
	if cfg.Upload.Timeout <= 0 {
		cfg.Upload.Timeout = 2 * time.Minute
	}

	if strings.TrimSpace(cfg.Session.RecordingsDir) == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return err
		}
		cfg.Session.RecordingsDir = filepath.Join(dir, "recordings")
	}
	if strings.TrimSpace(cfg.Jobs.DBPath) == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return err
		}
		cfg.Jobs.DBPath = filepath.Join(dir, "jobs.db")
	}

	return nil
}

// defaultDataDir resolves XDG_DATA_HOME fallback location for artifacts.
func defaultDataDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, "recollect"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory for data: %w", err)
	}
	return filepath.Join(home, ".local", "share", "recollect"), nil
}
