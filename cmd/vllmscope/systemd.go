package main

import (
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// sdNotify sends a state notification to systemd. It is a no-op outside a
// notify-type unit.
func sdNotify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		slog.Debug("sd_notify: failed to send", "state", state, "error", err)
	}
}

// watchdogInterval returns the unit's watchdog interval, or 0 if the
// watchdog is not enabled for this process.
func watchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		slog.Debug("sd_watchdog: bad environment", "error", err)
		return 0
	}
	return d
}
