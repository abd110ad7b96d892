package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultSocketPath matches the /tmp state directory the original hook
// tooling used, so producers and daemon agree without any configuration.
const DefaultSocketPath = "/tmp/notifyd/notifyd.sock"

// EnvSocket overrides the socket path for both daemon and producers.
const EnvSocket = "NOTIFYD_SOCKET"

var ErrSocketInUse = errors.New("ipc: socket already in use")

// SocketPath resolves the channel address: env override first, then the
// configured path, then the default.
func SocketPath(configured string) string {
	if p := strings.TrimSpace(os.Getenv(EnvSocket)); p != "" {
		return p
	}
	if p := strings.TrimSpace(configured); p != "" {
		return p
	}
	return DefaultSocketPath
}

// PIDPath is the pidfile written next to the socket by the running daemon.
func PIDPath(socketPath string) string {
	return strings.TrimSuffix(socketPath, filepath.Ext(socketPath)) + ".pid"
}

// Dial connects to the daemon with a hard connect timeout.
// The timeout is the producer-side non-blocking guarantee: tens of
// milliseconds, never a retry loop.
func Dial(socketPath string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", socketPath, timeout)
}

// CleanupStale removes a socket file left behind by a crashed daemon.
// A live socket (something answers the dial) is left alone and reported.
func CleanupStale(socketPath string) error {
	if _, err := os.Stat(socketPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	conn, err := Dial(socketPath, 100*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return ErrSocketInUse
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipc: remove stale socket: %w", err)
	}
	return nil
}

// Listen binds the unix socket, creating the parent directory and clearing
// any stale file from a previous crashed instance first.
func Listen(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, err
	}
	if err := CleanupStale(socketPath); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	// Trusted local host; keep the socket writable for local sessions.
	_ = os.Chmod(socketPath, 0o666)
	return ln, nil
}
