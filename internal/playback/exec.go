package playback

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	logx "notifyd/pkg/logx"
)

// DefaultCommand is the speak binary the original hook tooling shells out to.
const DefaultCommand = "speak"

// EnvCommand overrides the configured speak command.
const EnvCommand = "NOTIFYD_SPEAK_COMMAND"

// EnvVoiceHint passes the context hint to the speak command.
const EnvVoiceHint = "NOTIFYD_VOICE_HINT"

// resolveCommand picks the speak binary: env > configured > default.
func resolveCommand(configured string) string {
	if v := strings.TrimSpace(os.Getenv(EnvCommand)); v != "" {
		return v
	}
	if v := strings.TrimSpace(configured); v != "" {
		return v
	}
	return DefaultCommand
}

// ExecProvider plays a notification by running an external speak command
// with the text as its final argument. Output is discarded; the command's
// lifetime is bounded by the executor's context.
type ExecProvider struct {
	Command string
	Args    []string
	Log     logx.Logger
}

func NewExecProvider(command string, args []string, log logx.Logger) *ExecProvider {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ExecProvider{Command: resolveCommand(command), Args: args, Log: log}
}

func (p *ExecProvider) Play(ctx context.Context, text, hint string) error {
	args := append(append([]string(nil), p.Args...), text)
	cmd := exec.CommandContext(ctx, p.Command, args...)
	if hint != "" {
		cmd.Env = append(os.Environ(), EnvVoiceHint+"="+hint)
	}
	// exec.CommandContext kills the process on cancel/timeout; the executor
	// maps that to TimedOut/Canceled.
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback: %s: %w", p.Command, err)
	}
	return nil
}

// SpawnDetached fires the speak command without waiting for it, in its own
// session so it survives the caller's (short-lived producer) exit. This is
// the fallback path when the daemon is unreachable: no queue, no rate
// limiter, return immediately.
func SpawnDetached(command string, args []string, text, hint string) error {
	command = resolveCommand(command)
	full := append(append([]string(nil), args...), text)
	cmd := exec.Command(command, full...)
	if hint != "" {
		cmd.Env = append(os.Environ(), EnvVoiceHint+"="+hint)
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("playback: spawn %s: %w", command, err)
	}
	// Let init reap it; the producer must not block on playback.
	return cmd.Process.Release()
}
