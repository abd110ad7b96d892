// Package client is the producer side of the protocol: fire one
// notification at the daemon within a tight time budget, and fall back to
// direct local playback if the daemon cannot take it.
package client

import (
	"os"
	"strings"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/ipc"
	"notifyd/internal/playback"
	logx "notifyd/pkg/logx"
)

// EnvDisabled silences notifications entirely when set truthy. Producers
// embed the client in hooks; a single env var must be able to mute them.
const EnvDisabled = "NOTIFYD_DISABLED"

// Disabled reports whether notifications are muted via environment.
func Disabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvDisabled))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Result reports how a notification left the producer.
type Result struct {
	// Delivered is true when the daemon accepted the entry.
	Delivered bool
	// Fallback is true when the text was handed to local playback instead.
	Fallback bool
	// Muted is true when EnvDisabled suppressed the notification.
	Muted bool
	// Response is the daemon's reply, when one was received.
	Response *ipc.Response
}

type Client struct {
	socket         string
	connectTimeout time.Duration
	ackTimeout     time.Duration
	voiceHint      string
	log            logx.Logger

	// fallback spawns detached local playback. Swapped in tests.
	fallback func(text, hint string) error
}

func New(cfg *config.Config, log logx.Logger) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	connectTimeout, err := cfg.Client.ResolveConnectTimeout()
	if err != nil {
		return nil, err
	}
	ackTimeout, err := cfg.Client.ResolveAckTimeout()
	if err != nil {
		return nil, err
	}

	command := cfg.Playback.Command
	if command == "" {
		command = playback.DefaultCommand
	}
	args := cfg.Playback.Args

	return &Client{
		socket:         cfg.SocketPath(),
		connectTimeout: connectTimeout,
		ackTimeout:     ackTimeout,
		voiceHint:      cfg.Playback.VoiceHint,
		log:            log,
		fallback: func(text, hint string) error {
			return playback.SpawnDetached(command, args, text, hint)
		},
	}, nil
}

// Notify delivers one notification. The producer never waits for playback:
// worst case is connect_timeout + ack_timeout, then local fallback.
//
// Coordination is lost on the fallback path (no queueing, no rate limit),
// but the notification itself is not.
func (c *Client) Notify(text, priority, category, source string) (Result, error) {
	if Disabled() {
		return Result{Muted: true}, nil
	}
	p, err := ipc.ParsePriority(priority)
	if err != nil {
		return Result{}, err
	}
	req := &ipc.Request{
		Version:  ipc.ProtocolVersion,
		Op:       ipc.OpNotify,
		Text:     text,
		Priority: p,
		Category: category,
		Source:   source,
	}

	resp, err := c.roundTrip(req, c.ackTimeout)
	switch {
	case err != nil:
		// Daemon unreachable or it missed the ack budget.
		c.log.Debug("daemon unreachable, playing locally", logx.Err(err))
		return c.playLocally(text)
	case resp.Status == ipc.StatusAccepted:
		return Result{Delivered: true, Response: resp}, nil
	case resp.Reason == ipc.ReasonDraining:
		// A draining daemon refuses new work; the notification still plays.
		return c.playLocally(text)
	default:
		// A hard rejection (bad input) must surface, not be retried locally.
		return Result{Response: resp}, nil
	}
}

func (c *Client) playLocally(text string) (Result, error) {
	if err := c.fallback(text, c.voiceHint); err != nil {
		return Result{}, err
	}
	return Result{Fallback: true}, nil
}

// Ping queries daemon state and stats. Unlike Notify it never falls back:
// an unreachable daemon is the answer.
func (c *Client) Ping() (*ipc.Response, error) {
	return c.roundTrip(&ipc.Request{Version: ipc.ProtocolVersion, Op: ipc.OpPing}, c.ackTimeout)
}

// Shutdown asks the daemon to drain and stop.
func (c *Client) Shutdown() (*ipc.Response, error) {
	return c.roundTrip(&ipc.Request{Version: ipc.ProtocolVersion, Op: ipc.OpShutdown}, c.ackTimeout)
}

func (c *Client) roundTrip(req *ipc.Request, ackTimeout time.Duration) (*ipc.Response, error) {
	conn, err := ipc.Dial(c.socket, c.connectTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(ackTimeout))
	if err := ipc.WriteFrame(conn, req); err != nil {
		return nil, err
	}
	return ipc.ReadResponse(conn)
}
