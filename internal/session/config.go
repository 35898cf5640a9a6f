package session

import (
	"fmt"
	"time"

	"boothrec/internal/capture"
	"boothrec/internal/config"
)

// Config holds the timing budget and capture preferences for every attempt.
type Config struct {
	Countdown       time.Duration
	Duration        time.Duration
	WatchdogGrace   time.Duration
	FinalizeGrace   time.Duration
	TickInterval    time.Duration
	FlushInterval   time.Duration
	DefaultCategory string
	Encodings       []capture.Encoding
	// Sources lists the capture sources acquired per attempt, display first.
	Sources []capture.Kind
}

// DefaultConfig returns the booth defaults.
func DefaultConfig() Config {
	return Config{
		Countdown:       3 * time.Second,
		Duration:        15 * time.Second,
		WatchdogGrace:   500 * time.Millisecond,
		FinalizeGrace:   1500 * time.Millisecond,
		TickInterval:    100 * time.Millisecond,
		FlushInterval:   2 * time.Second,
		DefaultCategory: "classic",
		Encodings:       []capture.Encoding{capture.EncodingMP4, capture.EncodingWebM},
		Sources:         []capture.Kind{capture.KindDisplay, capture.KindDevice},
	}
}

// ConfigFrom derives the session configuration from the application config.
func ConfigFrom(cfg *config.Config) (Config, error) {
	out := DefaultConfig()
	if cfg == nil {
		return out, nil
	}
	encodings, err := capture.ParseEncodings(cfg.Recording.Encodings, cfg.Capture.VideoBitrate)
	if err != nil {
		return Config{}, fmt.Errorf("recording encodings: %w", err)
	}
	out.Countdown = cfg.CountdownDuration()
	out.Duration = cfg.RecordingDuration()
	out.WatchdogGrace = cfg.WatchdogGrace()
	out.FinalizeGrace = cfg.FinalizeGrace()
	out.TickInterval = cfg.TickInterval()
	out.FlushInterval = cfg.FlushInterval()
	if cfg.Recording.DefaultCategory != "" {
		out.DefaultCategory = cfg.Recording.DefaultCategory
	}
	if len(encodings) > 0 {
		out.Encodings = encodings
	}
	var sources []capture.Kind
	if cfg.Capture.DisplayInput != "" {
		sources = append(sources, capture.KindDisplay)
	}
	if cfg.Capture.DeviceInput != "" {
		sources = append(sources, capture.KindDevice)
	}
	if len(sources) > 0 {
		out.Sources = sources
	}
	return out, nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Duration <= 0 {
		c.Duration = def.Duration
	}
	if c.Countdown < 0 {
		c.Countdown = 0
	}
	if c.WatchdogGrace <= 0 {
		c.WatchdogGrace = def.WatchdogGrace
	}
	if c.FinalizeGrace <= 0 {
		c.FinalizeGrace = def.FinalizeGrace
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.DefaultCategory == "" {
		c.DefaultCategory = def.DefaultCategory
	}
	if len(c.Sources) == 0 {
		c.Sources = def.Sources
	}
	return c
}
