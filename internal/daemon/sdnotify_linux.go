//go:build linux

package daemon

import (
	sdnotify "github.com/coreos/go-systemd/v22/daemon"

	logx "notifyd/pkg/logx"
)

// Readiness pings for Type=notify units. No-ops outside systemd
// (NOTIFY_SOCKET unset).

func notifyReady(log logx.Logger) {
	if _, err := sdnotify.SdNotify(false, sdnotify.SdNotifyReady); err != nil {
		log.Debug("sd_notify ready failed", logx.Err(err))
	}
}

func notifyStopping(log logx.Logger) {
	if _, err := sdnotify.SdNotify(false, sdnotify.SdNotifyStopping); err != nil {
		log.Debug("sd_notify stopping failed", logx.Err(err))
	}
}
