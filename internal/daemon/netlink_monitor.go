package daemon

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"voicelog/internal/config"
	"voicelog/internal/logging"
)

// netlinkMonitor listens for udev block device events and requests an early
// poll when a volume carrying the configured label is added or removed. The
// mount itself happens later, so the watcher's settle window still applies.
type netlinkMonitor struct {
	logger *slog.Logger
	label  string
	nudge  func()

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newNetlinkMonitor(cfg *config.Config, logger *slog.Logger, nudge func()) *netlinkMonitor {
	if cfg == nil {
		return nil
	}
	label := strings.TrimSpace(cfg.Volume.DeviceName)
	if label == "" {
		return nil
	}
	return &netlinkMonitor{
		logger: logging.NewComponentLogger(logger, "netlink-monitor"),
		label:  label,
		nudge:  nudge,
	}
}

// Start connects to the udev netlink socket. Connection failures are logged
// and tolerated; polling still detects the volume.
func (m *netlinkMonitor) Start(ctx context.Context) error {
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
		m.logger.Warn("failed to connect to netlink socket; volume detection will rely on polling",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open netlink sockets"),
			logging.String(logging.FieldImpact, "insertions are noticed on the next poll instead of immediately"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, quit)

	m.logger.Info("netlink monitor started",
		logging.String(logging.FieldEventType, "netlink_monitor_started"),
		logging.String("label", m.label),
	)
	return nil
}

// Stop shuts down the monitor. It is safe on a nil or unstarted monitor.
func (m *netlinkMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false

	m.logger.Info("netlink monitor stopped",
		logging.String(logging.FieldEventType, "netlink_monitor_stopped"),
	)
}

// Running reports whether the monitor is active.
func (m *netlinkMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *netlinkMonitor) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(queue, errs, m.buildMatcher())
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
			m.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "volume insertion may only be noticed by polling"),
			)
		}
	}
}

// buildMatcher accepts block device add and remove events.
func (m *netlinkMonitor) buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "block",
		},
	})
	return rules
}

func (m *netlinkMonitor) handleEvent(uevent netlink.UEvent) {
	if !m.labelMatches(uevent) {
		m.logger.Debug("ignoring block event for another volume",
			logging.String("action", string(uevent.Action)),
			logging.String("label", uevent.Env["ID_FS_LABEL"]),
			logging.String("devname", uevent.Env["DEVNAME"]),
		)
		return
	}

	m.logger.Info("volume event via netlink",
		logging.String(logging.FieldEventType, "netlink_volume_event"),
		logging.String("action", string(uevent.Action)),
		logging.String("devname", uevent.Env["DEVNAME"]),
	)
	if m.nudge != nil {
		m.nudge()
	}
}

// labelMatches compares the filesystem label against the configured device
// name. Remove events often lack the label and are accepted.
func (m *netlinkMonitor) labelMatches(uevent netlink.UEvent) bool {
	label := uevent.Env["ID_FS_LABEL"]
	if label == "" {
		label = uevent.Env["ID_FS_LABEL_ENC"]
	}
	if label == "" {
		return uevent.Action == netlink.REMOVE
	}
	return strings.Contains(strings.ToLower(label), strings.ToLower(m.label))
}
