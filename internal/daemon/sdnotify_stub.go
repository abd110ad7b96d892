//go:build !linux

package daemon

import logx "notifyd/pkg/logx"

func notifyReady(logx.Logger)    {}
func notifyStopping(logx.Logger) {}
