package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	cfg := loaded.Config
	require.Equal(t, "default", cfg.Audio.Input)
	require.Equal(t, 16000, cfg.Audio.SampleRate)
	require.Equal(t, "default", cfg.Session.ScopeID)
	require.False(t, cfg.Session.LiveAssistant)
	require.Equal(t, 2*time.Hour, cfg.Session.MaxDuration)
	require.Equal(t, []string{"transcript"}, cfg.Insights.Tiers)
	require.NotEmpty(t, cfg.Session.RecordingsDir)
	require.NotEmpty(t, cfg.Jobs.DBPath)
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
audio:
  input: usb-mic
  sample_rate: 16000
session:
  scope_id: project-42
  live_assistant: true
  max_duration: 1h
  warn_threshold: 55m
realtime:
  transport_url: wss://collector.example.com/audio
  insights_url: wss://collector.example.com/insights
upload:
  base_url: https://api.example.com
  auto_match: true
insights:
  tiers: [transcript, questions]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)

	cfg := loaded.Config
	require.Equal(t, "usb-mic", cfg.Audio.Input)
	require.Equal(t, "project-42", cfg.Session.ScopeID)
	require.True(t, cfg.Session.LiveAssistant)
	require.Equal(t, time.Hour, cfg.Session.MaxDuration)
	require.Equal(t, 55*time.Minute, cfg.Session.WarnThreshold)
	require.Equal(t, "wss://collector.example.com/audio", cfg.Realtime.TransportURL)
	require.True(t, cfg.Upload.AutoMatch)
	require.Equal(t, []string{"transcript", "questions"}, cfg.Insights.Tiers)
}

func TestSaveLiveAssistantPersistsAcrossLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
session:
  scope_id: p7
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	require.NoError(t, SaveLiveAssistant(path, true))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Config.Session.LiveAssistant)
	require.Equal(t, "p7", loaded.Config.Session.ScopeID)

	require.NoError(t, SaveLiveAssistant(path, false))

	loaded, err = Load(path)
	require.NoError(t, err)
	require.False(t, loaded.Config.Session.LiveAssistant)
	require.Equal(t, "p7", loaded.Config.Session.ScopeID)
}

func TestSaveLiveAssistantCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, SaveLiveAssistant(path, true))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Config.Session.LiveAssistant)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero sample rate", mutate: func(c *Config) { c.Audio.SampleRate = 0 }},
		{name: "empty scope", mutate: func(c *Config) { c.Session.ScopeID = " " }},
		{name: "zero max duration", mutate: func(c *Config) { c.Session.MaxDuration = 0 }},
		{name: "warn above max", mutate: func(c *Config) { c.Session.WarnThreshold = 3 * time.Hour }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			require.Error(t, Validate(&cfg))
		})
	}
}

func TestValidateFillsDerivedPaths(t *testing.T) {
	cfg := validConfig()
	cfg.Session.RecordingsDir = ""
	cfg.Jobs.DBPath = ""

	require.NoError(t, Validate(&cfg))
	require.NotEmpty(t, cfg.Session.RecordingsDir)
	require.NotEmpty(t, cfg.Jobs.DBPath)
}

func validConfig() Config {
	return Config{
		Audio:   AudioConfig{Input: "default", SampleRate: 16000},
		Session: SessionConfig{ScopeID: "p1", MaxDuration: time.Hour, WarnThreshold: 50 * time.Minute, RecordingsDir: "/tmp/rec"},
		Upload:  UploadConfig{Timeout: time.Minute},
		Jobs:    JobsConfig{DBPath: "/tmp/jobs.db"},
	}
}
