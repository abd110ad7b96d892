// Package journal persists notification outcomes (played, dropped, failed)
// so rate-limit and TTL drops are observable as counters across restarts.
// It never persists pending queue entries; the queue is memory-resident by
// design.
package journal

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "notifyd/pkg/logx"
)

var ErrDisabled = errors.New("journal disabled")

// Config configures the journal.
//
// Driver values:
//   - "sqlite": SQLite database file (pure-Go driver, always compiled)
//
// If Driver is empty or "none", the journal is disabled and the daemon
// serves counters from memory only.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means driver default
	Retention   time.Duration // rows older than this are pruned; 0 keeps 7 days
}

const DefaultRetention = 7 * 24 * time.Hour

// Outcome is one journal row. Keep it compact and schema-stable.
type Outcome struct {
	At       time.Time
	ID       string
	Source   string
	Category string
	Priority string
	Outcome  string
	Reason   string
	TookMS   int64
}

// Outcome values written by the daemon.
const (
	OutcomePlayed      = "played"
	OutcomeRateLimited = "rate_limited"
	OutcomeExpired     = "expired"
	OutcomeOverflow    = "overflow"
	OutcomeTimedOut    = "timed_out"
	OutcomeCanceled    = "canceled"
	OutcomeFailed      = "failed"
	OutcomeDiscarded   = "discarded"
)

// Store is the minimal persistence API used by the daemon.
type Store interface {
	AppendOutcome(ctx context.Context, o Outcome) error
	Counters(ctx context.Context) (map[string]uint64, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if the journal is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown journal driver: " + driver)
	}
}
