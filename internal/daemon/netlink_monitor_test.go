package daemon

import (
	"context"
	"testing"

	"github.com/pilebones/go-udev/netlink"

	"voicelog/internal/config"
)

func labelConfig(label string) *config.Config {
	cfg := &config.Config{}
	cfg.Volume.DeviceName = label
	return cfg
}

func TestNewNetlinkMonitor(t *testing.T) {
	t.Run("nil config returns nil", func(t *testing.T) {
		if m := newNetlinkMonitor(nil, nil, nil); m != nil {
			t.Error("expected nil monitor for nil config")
		}
	})

	t.Run("empty device name returns nil", func(t *testing.T) {
		if m := newNetlinkMonitor(labelConfig(" "), nil, nil); m != nil {
			t.Error("expected nil monitor for empty device name")
		}
	})

	t.Run("valid config creates monitor", func(t *testing.T) {
		m := newNetlinkMonitor(labelConfig("VOICE_REC"), nil, nil)
		if m == nil {
			t.Fatal("expected non-nil monitor")
		}
		if m.label != "VOICE_REC" {
			t.Errorf("expected label VOICE_REC, got %s", m.label)
		}
	})
}

func TestNetlinkMonitorNilAndUnstarted(t *testing.T) {
	var nilMonitor *netlinkMonitor
	if nilMonitor.Running() {
		t.Error("expected Running() to be false for nil monitor")
	}
	nilMonitor.Stop()
	if err := nilMonitor.Start(context.Background()); err != nil {
		t.Fatalf("Start on nil monitor should return nil, got: %v", err)
	}

	m := newNetlinkMonitor(labelConfig("VOICE_REC"), nil, nil)
	m.Stop()
	m.Stop()
	if m.Running() {
		t.Error("expected unstarted monitor to report not running")
	}
}

func TestBuildMatcher(t *testing.T) {
	m := newNetlinkMonitor(labelConfig("VOICE_REC"), nil, nil)
	matcher := m.buildMatcher()

	cases := []struct {
		name  string
		event netlink.UEvent
		want  bool
	}{
		{"block add", netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "block"}}, true},
		{"block remove", netlink.UEvent{Action: netlink.REMOVE, Env: map[string]string{"SUBSYSTEM": "block"}}, true},
		{"block change", netlink.UEvent{Action: netlink.CHANGE, Env: map[string]string{"SUBSYSTEM": "block"}}, false},
		{"usb add", netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "usb"}}, false},
	}
	for _, tc := range cases {
		if got := matcher.Evaluate(tc.event); got != tc.want {
			t.Errorf("%s: Evaluate = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestHandleEventNudgesOnMatchingLabel(t *testing.T) {
	cases := []struct {
		name   string
		action netlink.KObjAction
		env    map[string]string
		want   int
	}{
		{"matching label", netlink.ADD, map[string]string{"ID_FS_LABEL": "voice_rec", "DEVNAME": "/dev/sdb1"}, 1},
		{"label with suffix", netlink.ADD, map[string]string{"ID_FS_LABEL": "VOICE_REC_2"}, 1},
		{"other label", netlink.ADD, map[string]string{"ID_FS_LABEL": "BACKUP"}, 0},
		{"add without label", netlink.ADD, map[string]string{"DEVNAME": "/dev/sdc"}, 0},
		{"remove without label", netlink.REMOVE, map[string]string{"DEVNAME": "/dev/sdb1"}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			m := newNetlinkMonitor(labelConfig("VOICE_REC"), nil, func() { calls++ })
			m.handleEvent(netlink.UEvent{Action: tc.action, Env: tc.env})
			if calls != tc.want {
				t.Fatalf("expected %d nudges, got %d", tc.want, calls)
			}
		})
	}
}
