package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRecording(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRecording() error {
	r := c.Recording
	if r.CountdownSeconds < 0 {
		return errors.New("recording.countdown_seconds must be zero or positive")
	}
	if r.DurationSeconds <= 0 {
		return errors.New("recording.duration_seconds must be positive")
	}
	if r.WatchdogGraceMillis <= 0 {
		return errors.New("recording.watchdog_grace_ms must be positive")
	}
	if r.FinalizeGraceMillis <= 0 {
		return errors.New("recording.finalize_grace_ms must be positive")
	}
	if r.FlushIntervalSeconds <= 0 {
		return errors.New("recording.flush_interval_seconds must be positive")
	}
	for _, name := range r.Encodings {
		if !slices.Contains(SupportedEncodings, name) {
			return fmt.Errorf("recording.encodings: unsupported encoding %q (supported: %s)", name, strings.Join(SupportedEncodings, ", "))
		}
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.Framerate <= 0 {
		return errors.New("capture.framerate must be positive")
	}
	if c.Capture.DeviceInput == "" && c.Capture.DisplayInput == "" {
		return errors.New("capture: at least one of device_input or display_input must be set")
	}
	if c.Capture.DeviceInput != "" && c.Capture.DeviceFormat == "" {
		return errors.New("capture.device_format must be set when capture.device_input is set")
	}
	if c.Capture.DisplayInput != "" && c.Capture.DisplayFormat == "" {
		return errors.New("capture.display_format must be set when capture.display_input is set")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if !c.Storage.Enabled {
		return nil
	}
	if c.Storage.MongoURI == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("storage.mongo_uri is required when storage.enabled is true. Set BOOTHREC_MONGO_URI or edit %s", defaultPath)
	}
	if !strings.HasPrefix(c.Storage.MongoURI, "mongodb://") && !strings.HasPrefix(c.Storage.MongoURI, "mongodb+srv://") {
		return errors.New("storage.mongo_uri must start with mongodb:// or mongodb+srv://")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
