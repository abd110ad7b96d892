// Package playback wraps the external speech collaborator behind a bounded,
// cancellable executor. The daemon owns exactly one in-flight playback;
// producers use the same provider directly on the fallback path.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	logx "notifyd/pkg/logx"
)

// Result classifies one playback attempt.
type Result int

const (
	ResultCompleted Result = iota
	ResultTimedOut
	ResultCanceled
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultCompleted:
		return "completed"
	case ResultTimedOut:
		return "timed_out"
	case ResultCanceled:
		return "canceled"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Provider is the external playback collaborator. It may be slow; the
// executor bounds it.
type Provider interface {
	Play(ctx context.Context, text, hint string) error
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, text, hint string) error

func (f ProviderFunc) Play(ctx context.Context, text, hint string) error {
	return f(ctx, text, hint)
}

const DefaultMaxDuration = 30 * time.Second

// Executor runs at most one playback at a time from the daemon's consumer
// loop. Exclusivity comes from the single-consumer design; the mutex only
// guards the cancel handle against RequestCancel from acceptor goroutines.
type Executor struct {
	provider Provider
	log      logx.Logger

	mu          sync.Mutex
	maxDuration time.Duration
	cancel      context.CancelFunc
	seq         uint64
}

func NewExecutor(p Provider, maxDuration time.Duration, log logx.Logger) *Executor {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{provider: p, maxDuration: maxDuration, log: log}
}

// SetMaxDuration adjusts the playback bound (config reload).
func (e *Executor) SetMaxDuration(d time.Duration) {
	if d <= 0 {
		d = DefaultMaxDuration
	}
	e.mu.Lock()
	e.maxDuration = d
	e.mu.Unlock()
}

// MaxDuration returns the current playback bound. The shutdown path sizes
// its drain wait with it.
func (e *Executor) MaxDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxDuration
}

// InFlight reports whether a playback is currently running.
func (e *Executor) InFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

// RequestCancel cooperatively cancels the in-flight playback when its
// sequence is below before. Used only when an interrupt-tier entry arrives;
// the bound keeps an interrupt from canceling its own playback when the
// consumer wins the race and dispatches it first. Best-effort: a provider
// that ignores the context still returns by maxDuration.
func (e *Executor) RequestCancel(before uint64) bool {
	e.mu.Lock()
	cancel := e.cancel
	ok := cancel != nil && e.seq < before
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Play runs one playback bounded by maxDuration. seq identifies the entry
// so RequestCancel can tell older playback from the interrupt's own. A
// timeout or provider error is never fatal to the caller's loop; it is
// reported in the Result.
func (e *Executor) Play(ctx context.Context, seq uint64, text, hint string) (Result, error) {
	e.mu.Lock()
	d := e.maxDuration
	playCtx, cancel := context.WithTimeout(ctx, d)
	e.cancel = cancel
	e.seq = seq
	e.mu.Unlock()

	start := time.Now()
	err := e.provider.Play(playCtx, text, hint)
	took := time.Since(start)

	e.mu.Lock()
	e.cancel = nil
	e.mu.Unlock()
	ctxErr := playCtx.Err()
	cancel()

	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		e.log.Warn("playback timed out", logx.Duration("max", d), logx.Duration("took", took))
		return ResultTimedOut, err
	case errors.Is(ctxErr, context.Canceled):
		e.log.Debug("playback canceled", logx.Duration("took", took))
		return ResultCanceled, err
	case err != nil:
		e.log.Warn("playback failed", logx.Err(err), logx.Duration("took", took))
		return ResultFailed, err
	default:
		e.log.Debug("playback completed", logx.Duration("took", took))
		return ResultCompleted, nil
	}
}
