// Package lifecycle manages the daemon process from the outside: idempotent
// start with a detached spawn, status probes, and drain-then-kill stop.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"notifyd/internal/client"
	"notifyd/internal/config"
	"notifyd/internal/ipc"
	logx "notifyd/pkg/logx"
)

var (
	ErrAlreadyRunning = errors.New("lifecycle: daemon already running")
	ErrNotRunning     = errors.New("lifecycle: daemon not running")
)

// ReadyTimeout bounds how long Start waits for the spawned daemon to answer
// its first ping.
const ReadyTimeout = 3 * time.Second

// StopGrace bounds a graceful drain: one worst-case playback plus margin.
const StopGrace = 35 * time.Second

type Manager struct {
	cfg        *config.Config
	configPath string
	log        logx.Logger

	// spawn launches the detached daemon process. Swapped in tests.
	spawn func() error
}

func NewManager(cfg *config.Config, configPath string, log logx.Logger) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{cfg: cfg, configPath: configPath, log: log}
	m.spawn = m.spawnDetached
	return m
}

func (m *Manager) newClient() (*client.Client, error) {
	return client.New(m.cfg, m.log)
}

// Start brings the daemon up if it is not already. Returns ErrAlreadyRunning
// when a live daemon answers the socket; callers treat that as success with a
// distinct exit code.
func (m *Manager) Start(ctx context.Context) error {
	c, err := m.newClient()
	if err != nil {
		return err
	}
	if resp, err := c.Ping(); err == nil {
		m.log.Info("daemon already running", logx.String("state", resp.Status))
		return ErrAlreadyRunning
	}

	// A dead daemon may have left its socket behind.
	socket := m.cfg.SocketPath()
	if err := ipc.CleanupStale(socket); err != nil {
		return fmt.Errorf("lifecycle: stale socket cleanup: %w", err)
	}

	if err := m.spawn(); err != nil {
		return fmt.Errorf("lifecycle: spawn daemon: %w", err)
	}

	deadline := time.Now().Add(ReadyTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if resp, err := c.Ping(); err == nil && resp.Status == ipc.StateRunning.String() {
			m.log.Info("daemon started", logx.String("socket", socket))
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return errors.New("lifecycle: daemon did not become ready")
}

// spawnDetached re-executes this binary as `run` in its own session so the
// daemon survives the caller's exit.
func (m *Manager) spawnDetached() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	args := []string{"run"}
	if m.configPath != "" {
		args = append(args, "--config", m.configPath)
	}
	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// Status pings the running daemon. ErrNotRunning when nothing answers.
func (m *Manager) Status() (*ipc.Stats, error) {
	c, err := m.newClient()
	if err != nil {
		return nil, err
	}
	resp, err := c.Ping()
	if err != nil {
		return nil, ErrNotRunning
	}
	if resp.Stats == nil {
		return nil, fmt.Errorf("lifecycle: ping reply without stats (status %q)", resp.Status)
	}
	return resp.Stats, nil
}

// Stop drains the daemon and waits for it to exit. If the process outlives
// the grace period it is killed via the pidfile.
func (m *Manager) Stop(ctx context.Context, grace time.Duration) error {
	if grace <= 0 {
		grace = StopGrace
	}
	c, err := m.newClient()
	if err != nil {
		return err
	}
	if _, err := c.Shutdown(); err != nil {
		return ErrNotRunning
	}

	socket := m.cfg.SocketPath()
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Ping(); err != nil {
			m.log.Info("daemon stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Drain overran its budget; escalate.
	pid, err := readPID(ipc.PIDPath(socket))
	if err != nil {
		return fmt.Errorf("lifecycle: daemon unresponsive and pid unknown: %w", err)
	}
	m.log.Warn("drain timed out, killing", logx.Int("pid", pid))
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("lifecycle: kill pid %d: %w", pid, err)
	}
	_ = os.Remove(socket)
	_ = os.Remove(ipc.PIDPath(socket))
	return nil
}

func readPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("lifecycle: bad pidfile %s", path)
	}
	return pid, nil
}
