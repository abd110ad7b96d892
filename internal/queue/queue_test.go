package queue

import (
	"testing"
	"time"

	"notifyd/internal/ipc"
)

func entry(id string, p ipc.Priority, seq uint64) *Entry {
	return &Entry{ID: id, Text: "msg " + id, Priority: p, Category: "general", Sequence: seq}
}

func TestPopOrdersByPriorityThenSequence(t *testing.T) {
	t.Parallel()
	q := New(0)
	now := time.Now()

	// Low arrives before Critical; Critical must still win.
	mustPush(t, q, entry("a", ipc.PriorityLow, 1))
	mustPush(t, q, entry("b", ipc.PriorityCritical, 2))
	mustPush(t, q, entry("c", ipc.PriorityCritical, 3))
	mustPush(t, q, entry("d", ipc.PriorityBackground, 4))

	want := []string{"b", "c", "a", "d"}
	for _, id := range want {
		e, _ := q.Pop(now)
		if e == nil || e.ID != id {
			t.Fatalf("Pop = %+v, want id %s", e, id)
		}
	}
	if e, _ := q.Pop(now); e != nil {
		t.Fatalf("expected empty queue, got %+v", e)
	}
}

func TestPushRejectsDuplicateID(t *testing.T) {
	t.Parallel()
	q := New(0)
	mustPush(t, q, entry("x", ipc.PriorityMedium, 1))
	if _, err := q.Push(entry("x", ipc.PriorityHigh, 2)); err != ErrDuplicateID {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
}

func TestOverflowEvictsOldestLowest(t *testing.T) {
	t.Parallel()
	q := New(3)
	mustPush(t, q, entry("low-old", ipc.PriorityLow, 1))
	mustPush(t, q, entry("low-new", ipc.PriorityLow, 2))
	mustPush(t, q, entry("high", ipc.PriorityHigh, 3))

	evicted, err := q.Push(entry("crit", ipc.PriorityCritical, 4))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if evicted == nil || evicted.ID != "low-old" {
		t.Fatalf("evicted = %+v, want low-old", evicted)
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}
}

func TestOverflowRejectsLowestIncoming(t *testing.T) {
	t.Parallel()
	q := New(2)
	mustPush(t, q, entry("crit-1", ipc.PriorityCritical, 1))
	mustPush(t, q, entry("crit-2", ipc.PriorityCritical, 2))

	// A full queue of more urgent work must not lose an entry to admit a
	// less urgent newcomer; the newcomer loses instead.
	bg := entry("bg", ipc.PriorityBackground, 3)
	evicted, err := q.Push(bg)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if evicted != bg {
		t.Fatalf("evicted = %+v, want the incoming entry back", evicted)
	}
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	now := time.Now()
	for _, id := range []string{"crit-1", "crit-2"} {
		e, _ := q.Pop(now)
		if e == nil || e.ID != id {
			t.Fatalf("Pop = %+v, want %s", e, id)
		}
	}
	// A rejected entry never joins the id set.
	mustPush(t, q, entry("bg", ipc.PriorityBackground, 4))
}

func TestOverflowSameTierEvictsOldest(t *testing.T) {
	t.Parallel()
	q := New(2)
	mustPush(t, q, entry("low-1", ipc.PriorityLow, 1))
	mustPush(t, q, entry("low-2", ipc.PriorityLow, 2))

	evicted, err := q.Push(entry("low-3", ipc.PriorityLow, 3))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if evicted == nil || evicted.ID != "low-1" {
		t.Fatalf("evicted = %+v, want low-1", evicted)
	}
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
}

func TestPopDiscardsExpired(t *testing.T) {
	t.Parallel()
	q := New(0)
	now := time.Now()

	stale := entry("stale", ipc.PriorityHigh, 1)
	stale.ExpiresAt = now.Add(-time.Second)
	mustPush(t, q, stale)
	mustPush(t, q, entry("fresh", ipc.PriorityLow, 2))

	e, expired := q.Pop(now)
	if e == nil || e.ID != "fresh" {
		t.Fatalf("Pop = %+v, want fresh", e)
	}
	if len(expired) != 1 || expired[0].ID != "stale" {
		t.Fatalf("expired = %+v, want [stale]", expired)
	}
}

func TestDrain(t *testing.T) {
	t.Parallel()
	q := New(0)
	mustPush(t, q, entry("a", ipc.PriorityLow, 1))
	mustPush(t, q, entry("b", ipc.PriorityHigh, 2))

	rest := q.Drain()
	if len(rest) != 2 {
		t.Fatalf("Drain len = %d, want 2", len(rest))
	}
	if q.Len() != 0 {
		t.Fatalf("Len after drain = %d", q.Len())
	}
	// IDs are reusable after drain.
	mustPush(t, q, entry("a", ipc.PriorityLow, 3))
}

func mustPush(t *testing.T, q *Queue, e *Entry) {
	t.Helper()
	if _, err := q.Push(e); err != nil {
		t.Fatalf("Push(%s): %v", e.ID, err)
	}
}
