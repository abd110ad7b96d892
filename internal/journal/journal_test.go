package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "notifyd/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", "NONE"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: unexpected error: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: expected nil store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestSQLiteAppendCountersPrune(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now()

	rows := []Outcome{
		{At: now.Add(-48 * time.Hour), ID: "a", Category: "general", Priority: "medium", Outcome: OutcomePlayed, TookMS: 120},
		{At: now, ID: "b", Category: "general", Priority: "medium", Outcome: OutcomePlayed, TookMS: 80},
		{At: now, ID: "c", Category: "general", Priority: "low", Outcome: OutcomeRateLimited, Reason: "window"},
		{At: now, ID: "d", Category: "error", Priority: "critical", Outcome: OutcomeFailed, Reason: "exit status 1"},
	}
	for _, o := range rows {
		if err := st.AppendOutcome(ctx, o); err != nil {
			t.Fatalf("append %s: %v", o.ID, err)
		}
	}

	counters, err := st.Counters(ctx)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if counters[OutcomePlayed] != 2 {
		t.Fatalf("played = %d, want 2", counters[OutcomePlayed])
	}
	if counters[OutcomeRateLimited] != 1 || counters[OutcomeFailed] != 1 {
		t.Fatalf("unexpected counters: %v", counters)
	}

	n, err := st.PruneBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}

	counters, err = st.Counters(ctx)
	if err != nil {
		t.Fatalf("counters after prune: %v", err)
	}
	if counters[OutcomePlayed] != 1 {
		t.Fatalf("played after prune = %d, want 1", counters[OutcomePlayed])
	}
}

func TestAppendDefaultsTimestamp(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	if err := st.AppendOutcome(context.Background(), Outcome{
		ID: "x", Category: "general", Priority: "medium", Outcome: OutcomePlayed,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	counters, err := st.Counters(context.Background())
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if counters[OutcomePlayed] != 1 {
		t.Fatalf("played = %d, want 1", counters[OutcomePlayed])
	}
}
