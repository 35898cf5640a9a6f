package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"boothrec/internal/capture"
	"boothrec/internal/config"
	"boothrec/internal/deps"
	"boothrec/internal/persistence"
	"boothrec/internal/recordings"
)

const storagePingTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckBinaries reports every external binary the capture setup needs.
func CheckBinaries(cfg *config.Config) []Result {
	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	results := make([]Result, 0, len(statuses))
	for _, s := range statuses {
		r := Result{Name: s.Name, Optional: s.Optional, Passed: s.Available}
		if s.Available {
			r.Detail = s.Path
		} else {
			r.Detail = s.Detail
		}
		results = append(results, r)
	}
	return results
}

// CheckSources acquires and immediately releases each configured source.
// A source held by a running recording reports as busy. At least one
// source must be usable; a single unusable source is only a warning.
func CheckSources(ctx context.Context, cfg *config.Config) []Result {
	opts := capture.ProviderOptionsFrom(cfg)
	provider := capture.NewSourceProvider(opts)

	type source struct {
		name  string
		kind  capture.Kind
		input capture.Input
	}
	sources := []source{
		{name: "Display source", kind: capture.KindDisplay, input: opts.Display},
		{name: "Capture device", kind: capture.KindDevice, input: opts.Device},
	}

	var results []Result
	usable := 0
	for _, src := range sources {
		if strings.TrimSpace(src.input.Target) == "" {
			results = append(results, Result{Name: src.name, Passed: true, Optional: true, Detail: "Disabled"})
			continue
		}
		results = append(results, checkSource(ctx, provider, src.name, src.kind, src.input))
		if results[len(results)-1].Passed {
			usable++
		}
	}
	if usable > 0 {
		for i := range results {
			results[i].Optional = true
		}
	}
	return results
}

func checkSource(ctx context.Context, provider capture.Provider, name string, kind capture.Kind, in capture.Input) Result {
	handle, err := provider.Acquire(ctx, kind)
	if err != nil {
		return Result{Name: name, Detail: summarizeSourceError(err)}
	}
	_ = handle.Release()
	detail := in.Target
	if in.Format != "" {
		detail = fmt.Sprintf("%s (%s)", in.Target, in.Format)
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckIndex opens the recording index and pings it.
func CheckIndex(ctx context.Context, cfg *config.Config) Result {
	const name = "Recording index"

	store, err := recordings.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("open failed (%v)", err)}
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("ping failed (%v)", err)}
	}
	return Result{Name: name, Passed: true, Detail: store.Path()}
}

// CheckStorage verifies the remote store is reachable. The remote store is
// always optional: an unreachable store degrades to local-only results.
func CheckStorage(ctx context.Context, cfg *config.Config) Result {
	const name = "Remote store"

	if !cfg.Storage.Enabled {
		return Result{Name: name, Passed: true, Optional: true, Detail: "Disabled"}
	}
	if strings.TrimSpace(cfg.Storage.MongoURI) == "" {
		return Result{Name: name, Optional: true, Detail: "missing mongo uri"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, storagePingTimeout)
	defer cancel()

	store, err := persistence.NewGridFSStore(checkCtx, persistence.GridFSOptions{
		URI:            cfg.Storage.MongoURI,
		Database:       cfg.Storage.Database,
		Bucket:         cfg.Storage.Bucket,
		ConnectTimeout: storagePingTimeout,
	})
	if err != nil {
		return Result{Name: name, Optional: true, Detail: err.Error()}
	}
	defer func() { _ = store.Close(context.Background()) }()

	if err := store.Ping(checkCtx); err != nil {
		return Result{Name: name, Optional: true, Detail: summarizeStoreError(err)}
	}
	return Result{
		Name:     name,
		Passed:   true,
		Optional: true,
		Detail:   fmt.Sprintf("%s/%s (%s)", cfg.Storage.Database, cfg.Storage.Bucket, config.RedactURI(cfg.Storage.MongoURI)),
	}
}

// CheckNotifications reports whether push notifications are configured.
// It never sends anything; use the test-notify command for that.
func CheckNotifications(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Optional: true, Detail: "Unknown"}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return Result{Name: name, Passed: true, Optional: true, Detail: "Disabled"}
	}
	var events []string
	if cfg.Notifications.Recording {
		events = append(events, "recording")
	}
	if cfg.Notifications.Errors {
		events = append(events, "errors")
	}
	if len(events) == 0 {
		return Result{Name: name, Passed: true, Optional: true, Detail: "Topic set, all events muted"}
	}
	return Result{Name: name, Passed: true, Optional: true, Detail: fmt.Sprintf("%s (%s)", topic, strings.Join(events, ", "))}
}

func summarizeSourceError(err error) string {
	var capErr *capture.Error
	if errors.As(err, &capErr) && capErr.Err != nil {
		return capErr.Err.Error()
	}
	return err.Error()
}

// summarizeStoreError produces a human-readable summary for store ping failures.
func summarizeStoreError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "ping timed out (store unresponsive)"
	case errors.Is(err, persistence.ErrDenied):
		return "authentication failed"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ping timed out (store unreachable)"
	}
	if errors.Is(err, persistence.ErrNetwork) {
		return "store unreachable"
	}
	return err.Error()
}
