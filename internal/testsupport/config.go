package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"boothrec/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The capture device points at a plain file inside the temp dir, the display
// is unset, and the remote store is disabled.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SpoolDir = ""
	cfgVal.Capture.DeviceInput = filepath.Join(base, "dev", "video0")
	cfgVal.Capture.DisplayInput = ""
	cfgVal.Storage.Enabled = false
	cfgVal.Storage.MongoURI = ""
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithSpool enables spooling artifacts into a temp directory.
func WithSpool() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.SpoolDir = filepath.Join(b.baseDir, "spool")
	}
}

// WithStorage enables the remote store with the given connection string.
func WithStorage(uri string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.Enabled = true
		b.cfg.Storage.MongoURI = uri
	}
}

// WithDeviceNode creates the configured capture device as a regular file so
// existence and access checks pass.
func WithDeviceNode() ConfigOption {
	return func(b *configBuilder) {
		path := b.cfg.Capture.DeviceInput
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			b.t.Fatalf("mkdir device dir: %v", err)
		}
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			b.t.Fatalf("create device node: %v", err)
		}
	}
}

// WithDisplay sets the display input.
func WithDisplay(format, input string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Capture.DisplayFormat = format
		b.cfg.Capture.DisplayInput = input
	}
}

// WithNtfyTopic sets the notification endpoint.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
