package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"boothrec/internal/config"
	"boothrec/internal/logging"
	"boothrec/internal/textutil"
)

const defaultX11SocketDir = "/tmp/.X11-unix"

// DeviceWatcher reports removal of a device node.
type DeviceWatcher interface {
	Watch(device string, onRemoved func()) (cancel func())
}

// ProviderOptions configures SourceProvider.
type ProviderOptions struct {
	Device  Input
	Display Input
	// LockDir holds per-source lock files so two processes never open the
	// same source.
	LockDir      string
	X11SocketDir string
	Watcher      DeviceWatcher
	Logger       *slog.Logger
}

// ProviderOptionsFrom maps the capture section of cfg onto provider options.
// Watcher and Logger are left for the caller.
func ProviderOptionsFrom(cfg *config.Config) ProviderOptions {
	return ProviderOptions{
		Device: Input{
			Format: cfg.Capture.DeviceFormat,
			Target: cfg.Capture.DeviceInput,
			Audio:  cfg.Capture.DeviceAudio,
		},
		Display: Input{
			Format: cfg.Capture.DisplayFormat,
			Target: cfg.Capture.DisplayInput,
		},
		LockDir: cfg.SourceLockDir(),
	}
}

// SourceProvider grants exclusive access to the configured camera device
// and display.
type SourceProvider struct {
	opts   ProviderOptions
	logger *slog.Logger
}

// NewSourceProvider constructs a provider.
func NewSourceProvider(opts ProviderOptions) *SourceProvider {
	if opts.X11SocketDir == "" {
		opts.X11SocketDir = defaultX11SocketDir
	}
	if opts.LockDir == "" {
		opts.LockDir = os.TempDir()
	}
	return &SourceProvider{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "capture")}
}

// Acquire checks the source is present and accessible, then locks it.
func (p *SourceProvider) Acquire(ctx context.Context, kind Kind) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: ErrSourceUnavailable, Source: kind, Err: err}
	}

	var in Input
	switch kind {
	case KindDevice:
		in = p.opts.Device
		if err := checkDevice(in); err != nil {
			return nil, err
		}
	case KindDisplay:
		in = p.opts.Display
		if err := checkDisplay(in, p.opts.X11SocketDir); err != nil {
			return nil, err
		}
	default:
		return nil, unavailable(kind, "unknown source kind")
	}

	if err := os.MkdirAll(p.opts.LockDir, 0o755); err != nil {
		return nil, unavailable(kind, "create lock dir: %w", err)
	}
	lockPath := filepath.Join(p.opts.LockDir, fmt.Sprintf("%s-%s.lock", kind, textutil.SanitizeToken(in.Target)))
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, unavailable(kind, "lock %s: %w", in.Target, err)
	}
	if !locked {
		return nil, unavailable(kind, "%s is in use by another recording", in.Target)
	}

	h := &sourceHandle{
		kind:    kind,
		input:   in,
		lock:    lock,
		revoked: make(chan struct{}),
		logger:  p.logger,
	}
	if kind == KindDevice && p.opts.Watcher != nil && filepath.IsAbs(in.Target) {
		h.cancelWatch = p.opts.Watcher.Watch(in.Target, h.revoke)
	}
	p.logger.Debug("capture source acquired",
		logging.Source(kind),
		logging.String("target", in.Target),
	)
	return h, nil
}

func checkDevice(in Input) error {
	target := strings.TrimSpace(in.Target)
	if target == "" {
		return unavailable(KindDevice, "no capture device configured")
	}
	if !filepath.IsAbs(target) {
		return nil
	}
	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return unavailable(KindDevice, "device %s not present", target)
		}
		return unavailable(KindDevice, "stat %s: %w", target, err)
	}
	if err := unix.Access(target, unix.R_OK); err != nil {
		return unavailable(KindDevice, "permission denied for %s: %w", target, err)
	}
	return nil
}

func checkDisplay(in Input, socketDir string) error {
	target := strings.TrimSpace(in.Target)
	if target == "" {
		return unavailable(KindDisplay, "no display configured")
	}
	if in.Format != "x11grab" {
		return nil
	}
	socket := x11Socket(target, socketDir)
	if socket == "" {
		return nil
	}
	if _, err := os.Stat(socket); err != nil {
		return unavailable(KindDisplay, "X display %s not reachable", target)
	}
	return nil
}

// x11Socket maps a local display name (":0", ":0.0", ":1+0,0") to its unix
// socket. Remote displays return "".
func x11Socket(display, socketDir string) string {
	host, rest, ok := strings.Cut(display, ":")
	if !ok || (host != "" && host != "unix") {
		return ""
	}
	number := rest
	if i := strings.IndexAny(number, ".+"); i >= 0 {
		number = number[:i]
	}
	if number == "" {
		return ""
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return filepath.Join(socketDir, "X"+number)
}

type sourceHandle struct {
	kind        Kind
	input       Input
	lock        *flock.Flock
	revoked     chan struct{}
	revokeOnce  sync.Once
	releaseOnce sync.Once
	released    atomic.Bool
	cancelWatch func()
	logger      *slog.Logger
}

func (h *sourceHandle) Kind() Kind               { return h.kind }
func (h *sourceHandle) Input() Input             { return h.input }
func (h *sourceHandle) Revoked() <-chan struct{} { return h.revoked }
func (h *sourceHandle) Released() bool           { return h.released.Load() }

func (h *sourceHandle) revoke() {
	h.revokeOnce.Do(func() { close(h.revoked) })
}

func (h *sourceHandle) Release() error {
	var err error
	h.releaseOnce.Do(func() {
		h.released.Store(true)
		if h.cancelWatch != nil {
			h.cancelWatch()
		}
		err = h.lock.Unlock()
		h.logger.Debug("capture source released", logging.Source(h.kind))
	})
	return err
}
