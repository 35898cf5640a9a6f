package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRecording()
	c.normalizeCapture()
	c.normalizeStorage()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.SpoolDir, err = expandPath(strings.TrimSpace(c.Paths.SpoolDir)); err != nil {
		return fmt.Errorf("paths.spool_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeRecording() {
	c.Recording.DefaultCategory = strings.TrimSpace(c.Recording.DefaultCategory)
	if c.Recording.DefaultCategory == "" {
		c.Recording.DefaultCategory = defaultCategory
	}
	if c.Recording.TickIntervalMillis <= 0 {
		c.Recording.TickIntervalMillis = defaultTickIntervalMillis
	}
	if c.Recording.TimesliceMillis <= 0 {
		c.Recording.TimesliceMillis = defaultTimesliceMillis
	}
	encodings := make([]string, 0, len(c.Recording.Encodings))
	seen := make(map[string]struct{}, len(c.Recording.Encodings))
	for _, name := range c.Recording.Encodings {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		encodings = append(encodings, name)
	}
	if len(encodings) == 0 {
		encodings = append(encodings, SupportedEncodings...)
	}
	c.Recording.Encodings = encodings
}

func (c *Config) normalizeCapture() {
	c.Capture.FFmpegBinary = strings.TrimSpace(c.Capture.FFmpegBinary)
	if c.Capture.FFmpegBinary == "" {
		c.Capture.FFmpegBinary = defaultFFmpegBinary
	}
	c.Capture.DeviceFormat = strings.TrimSpace(c.Capture.DeviceFormat)
	c.Capture.DeviceInput = strings.TrimSpace(c.Capture.DeviceInput)
	c.Capture.DeviceAudio = strings.TrimSpace(c.Capture.DeviceAudio)
	c.Capture.DisplayFormat = strings.TrimSpace(c.Capture.DisplayFormat)
	c.Capture.DisplayInput = strings.TrimSpace(c.Capture.DisplayInput)
	if c.Capture.DisplayInput == "" {
		if value, ok := os.LookupEnv("DISPLAY"); ok {
			c.Capture.DisplayInput = strings.TrimSpace(value)
		}
	}
	c.Capture.VideoBitrate = strings.TrimSpace(c.Capture.VideoBitrate)
	if c.Capture.VideoBitrate == "" {
		c.Capture.VideoBitrate = defaultVideoBitrate
	}
	if c.Capture.StopTimeoutSeconds <= 0 {
		c.Capture.StopTimeoutSeconds = defaultStopTimeoutSeconds
	}
}

func (c *Config) normalizeStorage() {
	c.Storage.MongoURI = strings.TrimSpace(c.Storage.MongoURI)
	if c.Storage.MongoURI == "" {
		for _, key := range []string{"BOOTHREC_MONGO_URI", "MONGO_URI"} {
			if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
				c.Storage.MongoURI = strings.TrimSpace(value)
				break
			}
		}
	}
	c.Storage.Database = strings.TrimSpace(c.Storage.Database)
	if c.Storage.Database == "" {
		c.Storage.Database = defaultStorageDatabase
	}
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = defaultStorageBucket
	}
	c.Storage.Origin = strings.TrimSpace(c.Storage.Origin)
	if c.Storage.Origin == "" {
		c.Storage.Origin = defaultStorageOrigin
	}
	c.Storage.FilenamePrefix = strings.TrimSpace(c.Storage.FilenamePrefix)
	if c.Storage.FilenamePrefix == "" {
		c.Storage.FilenamePrefix = defaultFilenamePrefix
	}
	if c.Storage.TimeoutSeconds <= 0 {
		c.Storage.TimeoutSeconds = defaultStorageTimeout
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
