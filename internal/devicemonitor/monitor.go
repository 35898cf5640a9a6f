package devicemonitor

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"boothrec/internal/config"
	"boothrec/internal/logging"
)

type watch struct {
	paths     []string
	onRemoved func()
}

// Monitor dispatches video4linux removal events to registered watches. A nil
// Monitor is valid and never reports anything.
type Monitor struct {
	logger *slog.Logger

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
	watches map[uint64]watch
	next    uint64
}

// New constructs an idle monitor.
func New(logger *slog.Logger) *Monitor {
	return &Monitor{
		logger:  logging.NewComponentLogger(logger, "device-monitor"),
		watches: make(map[uint64]watch),
	}
}

// NewFromConfig returns a monitor when device watching is enabled and the
// capture device is a device node, otherwise nil.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Monitor {
	if cfg == nil || !cfg.Capture.WatchDevices {
		return nil
	}
	device := strings.TrimSpace(cfg.Capture.DeviceInput)
	if !strings.HasPrefix(device, "/dev/") {
		return nil
	}
	return New(logger)
}

// Start begins listening for netlink events. Failing to open the socket is
// logged and otherwise ignored: recordings still stop on stream errors.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "failed to connect to netlink socket", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the process may open netlink sockets"),
			logging.String(logging.FieldImpact, "camera removal is detected only when the encoder exits"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, conn, quit)

	m.logger.Info("device monitor started", logging.String(logging.FieldEventType, "device_monitor_started"))
	return nil
}

// Stop shuts down the listener. Registered watches are kept.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	close(m.quit)
	m.quit = nil
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false

	m.logger.Info("device monitor stopped", logging.String(logging.FieldEventType, "device_monitor_stopped"))
}

// Running reports whether the listener is active.
func (m *Monitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Watch calls onRemoved once when device is removed. Symlinked paths such as
// /dev/v4l/by-id entries match their target node. The returned cancel is
// idempotent.
func (m *Monitor) Watch(device string, onRemoved func()) func() {
	if m == nil || onRemoved == nil {
		return func() {}
	}

	paths := []string{filepath.Clean(device)}
	if resolved, err := filepath.EvalSymlinks(device); err == nil && resolved != paths[0] {
		paths = append(paths, resolved)
	}

	m.mu.Lock()
	m.next++
	id := m.next
	m.watches[id] = watch{paths: paths, onRemoved: onRemoved}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.watches, id)
		m.mu.Unlock()
	}
}

// Watching returns the number of active watches.
func (m *Monitor) Watching() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

func (m *Monitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "camera removal may go unnoticed"),
			)
		}
	}
}

// buildMatcher matches SUBSYSTEM=video4linux, ACTION=remove.
func buildMatcher() netlink.Matcher {
	action := "remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

func (m *Monitor) handleEvent(uevent netlink.UEvent) {
	names := deviceNames(uevent)
	if len(names) == 0 {
		m.logger.Debug("ignoring event without device name", logging.String("kobj", uevent.KObj))
		return
	}

	var fire []func()
	m.mu.Lock()
	for id, w := range m.watches {
		if matchesAny(w.paths, names) {
			fire = append(fire, w.onRemoved)
			delete(m.watches, id)
		}
	}
	m.mu.Unlock()

	if len(fire) == 0 {
		m.logger.Debug("ignoring removal of unwatched device", logging.String("device", names[0]))
		return
	}
	m.logger.Info("capture device removed",
		logging.String(logging.FieldEventType, "device_removed"),
		logging.String("device", names[0]),
	)
	for _, fn := range fire {
		fn()
	}
}

// deviceNames returns the device node plus any udev symlinks for uevent.
func deviceNames(uevent netlink.UEvent) []string {
	var names []string
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/") {
			devname = "/dev/" + devname
		}
		names = append(names, devname)
	} else if devpath := uevent.Env["DEVPATH"]; devpath != "" {
		names = append(names, "/dev/"+filepath.Base(devpath))
	}
	if len(names) == 0 {
		return nil
	}
	names = append(names, strings.Fields(uevent.Env["DEVLINKS"])...)
	return names
}

func matchesAny(paths, names []string) bool {
	for _, p := range paths {
		for _, n := range names {
			if p == n {
				return true
			}
		}
	}
	return false
}
