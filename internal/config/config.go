package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	// SpoolDir receives a copy of every finalized artifact. Empty disables spooling.
	SpoolDir string `toml:"spool_dir"`
}

// Recording contains the timing budget for one recording attempt.
type Recording struct {
	CountdownSeconds     int      `toml:"countdown_seconds"`
	DurationSeconds      int      `toml:"duration_seconds"`
	WatchdogGraceMillis  int      `toml:"watchdog_grace_ms"`
	FinalizeGraceMillis  int      `toml:"finalize_grace_ms"`
	TickIntervalMillis   int      `toml:"tick_interval_ms"`
	FlushIntervalSeconds int      `toml:"flush_interval_seconds"`
	TimesliceMillis      int      `toml:"timeslice_ms"`
	DefaultCategory      string   `toml:"default_category"`
	Encodings            []string `toml:"encodings"`
}

// Capture contains the ffmpeg input configuration for both sources.
type Capture struct {
	FFmpegBinary       string `toml:"ffmpeg_binary"`
	DeviceFormat       string `toml:"device_format"`
	DeviceInput        string `toml:"device_input"`
	DeviceAudio        string `toml:"device_audio"`
	DisplayFormat      string `toml:"display_format"`
	DisplayInput       string `toml:"display_input"`
	Framerate          int    `toml:"framerate"`
	VideoBitrate       string `toml:"video_bitrate"`
	StopTimeoutSeconds int    `toml:"stop_timeout_seconds"`
	WatchDevices       bool   `toml:"watch_devices"`
}

// Storage contains the remote store (MongoDB GridFS) configuration.
type Storage struct {
	Enabled        bool   `toml:"enabled"`
	MongoURI       string `toml:"mongo_uri"`
	Database       string `toml:"database"`
	Bucket         string `toml:"bucket"`
	Origin         string `toml:"origin"`
	ForMobile      bool   `toml:"for_mobile"`
	FilenamePrefix string `toml:"filename_prefix"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Recording      bool   `toml:"recording"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for boothrec.
//
// Configuration sections by subsystem:
//   - Paths: state, log, and spool directories
//   - Recording: countdown, duration, grace windows, and encoding preferences
//   - Capture: ffmpeg inputs for the device and display sources
//   - Storage: remote GridFS store
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Recording     Recording     `toml:"recording"`
	Capture       Capture       `toml:"capture"`
	Storage       Storage       `toml:"storage"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	loadDotEnv(filepath.Dir(resolvedPath))

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads .env files beside the config and in the working directory.
// Variables that are already set are never overridden.
func loadDotEnv(configDir string) {
	candidates := []string{".env"}
	if configDir != "" {
		candidates = append([]string{filepath.Join(configDir, ".env")}, candidates...)
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err != nil || info.IsDir() {
			continue
		}
		_ = godotenv.Load(candidate)
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("boothrec.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for recording.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.SpoolDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath is the lock file guarding the single active recording session.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "boothrec.lock")
}

// IndexPath is the sqlite database holding the recording index.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Paths.StateDir, "recordings.db")
}

// CountdownDuration returns the pre-roll countdown length.
func (c *Config) CountdownDuration() time.Duration {
	return time.Duration(c.Recording.CountdownSeconds) * time.Second
}

// RecordingDuration returns the recording budget.
func (c *Config) RecordingDuration() time.Duration {
	return time.Duration(c.Recording.DurationSeconds) * time.Second
}

// WatchdogGrace returns the grace between the primary deadline and the watchdog.
func (c *Config) WatchdogGrace() time.Duration {
	return time.Duration(c.Recording.WatchdogGraceMillis) * time.Millisecond
}

// FinalizeGrace returns how long stopping pipelines may take to drain.
func (c *Config) FinalizeGrace() time.Duration {
	return time.Duration(c.Recording.FinalizeGraceMillis) * time.Millisecond
}

// TickInterval returns the wall-clock sampling interval for timers.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Recording.TickIntervalMillis) * time.Millisecond
}

// FlushInterval returns how often a recording pipeline requests a flush.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Recording.FlushIntervalSeconds) * time.Second
}

// Timeslice returns the encoder fragment cadence.
func (c *Config) Timeslice() time.Duration {
	return time.Duration(c.Recording.TimesliceMillis) * time.Millisecond
}

// StopTimeout returns how long ffmpeg may take to exit after a stop request.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Capture.StopTimeoutSeconds) * time.Second
}

// StorageTimeout bounds a single remote put.
func (c *Config) StorageTimeout() time.Duration {
	return time.Duration(c.Storage.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the config as TOML, redacting credentials.
func (c *Config) Encode() ([]byte, error) {
	clone := *c
	clone.Recording.Encodings = append([]string(nil), c.Recording.Encodings...)
	if clone.Storage.MongoURI != "" {
		clone.Storage.MongoURI = RedactURI(clone.Storage.MongoURI)
	}
	return toml.Marshal(clone)
}

// RedactURI hides the password portion of a connection string.
func RedactURI(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return uri
	}
	user, _, hasPassword := strings.Cut(rest[:at], ":")
	if !hasPassword {
		return uri
	}
	return scheme + "://" + user + ":****" + rest[at:]
}

// SourceLockDir holds per-source lock files shared by every boothrec process.
func (c *Config) SourceLockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}
