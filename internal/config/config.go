package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Settings holds user-tunable configuration persisted as JSON.
// Zero values fall back to the defaults at load time, so adding a field
// never breaks an existing settings file.
type Settings struct {
	// DownloadDir is the root directory for completed episodes.
	DownloadDir string `json:"download_dir"`

	// MaxRetries is the number of additional attempts after the first
	// failed transfer.
	MaxRetries int `json:"max_retries"`

	// AttemptTimeoutSec bounds one whole transfer attempt.
	AttemptTimeoutSec int `json:"attempt_timeout_sec"`

	// ReadStallTimeoutSec bounds a single body read within an attempt.
	ReadStallTimeoutSec int `json:"read_stall_timeout_sec"`

	// Debug enables the file debug log.
	Debug bool `json:"debug"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		DownloadDir:         defaultDownloadDir(),
		MaxRetries:          3,
		AttemptTimeoutSec:   15,
		ReadStallTimeoutSec: 12,
	}
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "Podcasts"
	}
	return filepath.Join(home, "Podcasts")
}

// GetCastpullDir returns the application config directory.
// Respects XDG_CONFIG_HOME so tests can redirect it.
func GetCastpullDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "castpull")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "castpull")
	}
	return filepath.Join(home, ".config", "castpull")
}

// GetStateDir returns the directory holding the catalog DB and the
// download index.
func GetStateDir() string {
	return filepath.Join(GetCastpullDir(), "state")
}

// GetLogsDir returns the directory for debug logs.
func GetLogsDir() string {
	return filepath.Join(GetCastpullDir(), "logs")
}

// EnsureDirs creates the config, state and logs directories if missing.
func EnsureDirs() error {
	for _, dir := range []string{GetCastpullDir(), GetStateDir(), GetLogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func settingsPath() string {
	return filepath.Join(GetCastpullDir(), "settings.json")
}

// LoadSettings reads settings.json, filling unset fields with defaults.
// A missing or unreadable file yields the defaults without error.
func LoadSettings() Settings {
	s := DefaultSettings()

	data, err := os.ReadFile(settingsPath())
	if err != nil {
		return s
	}
	var loaded Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		return s
	}

	if loaded.DownloadDir != "" {
		s.DownloadDir = loaded.DownloadDir
	}
	if loaded.MaxRetries > 0 {
		s.MaxRetries = loaded.MaxRetries
	}
	if loaded.AttemptTimeoutSec > 0 {
		s.AttemptTimeoutSec = loaded.AttemptTimeoutSec
	}
	if loaded.ReadStallTimeoutSec > 0 {
		s.ReadStallTimeoutSec = loaded.ReadStallTimeoutSec
	}
	s.Debug = loaded.Debug
	return s
}

// SaveSettings writes settings.json, creating directories as needed.
func SaveSettings(s Settings) error {
	if err := EnsureDirs(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return os.WriteFile(settingsPath(), data, 0644)
}

// AttemptTimeout returns AttemptTimeoutSec as a duration.
func (s Settings) AttemptTimeout() time.Duration {
	return time.Duration(s.AttemptTimeoutSec) * time.Second
}

// ReadStallTimeout returns ReadStallTimeoutSec as a duration.
func (s Settings) ReadStallTimeout() time.Duration {
	return time.Duration(s.ReadStallTimeoutSec) * time.Second
}
