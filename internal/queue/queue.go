// Package queue implements the daemon's pending-notification ordering: a
// bounded binary heap keyed by (priority, sequence).
package queue

import (
	"container/heap"
	"errors"
	"time"

	"notifyd/internal/ipc"
)

var (
	ErrDuplicateID = errors.New("queue: duplicate entry id")
	ErrNoID        = errors.New("queue: entry without id")
)

// Entry is one accepted notification waiting for dispatch.
//
// Sequence is assigned by the daemon at acceptance and is unique, so
// (Priority, Sequence) ties are impossible by construction.
type Entry struct {
	ID       string
	Text     string
	Priority ipc.Priority
	Category string
	Source   string

	CreatedAt  time.Time
	Sequence   uint64
	EnqueuedAt time.Time
	// ExpiresAt, when non-zero, discards the entry unplayed once passed.
	ExpiresAt time.Time

	index int
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Queue is NOT safe for concurrent use. The daemon guards it with a single
// mutex shared by acceptor goroutines and the consumer loop.
type Queue struct {
	capacity int
	entries  entryHeap
	ids      map[string]struct{}
}

// New creates a queue. capacity <= 0 means unbounded.
func New(capacity int) *Queue {
	q := &Queue{capacity: capacity, ids: map[string]struct{}{}}
	heap.Init(&q.entries)
	return q
}

func (q *Queue) Len() int { return q.entries.Len() }

// Peek returns the entry Pop would serve next, without removing it.
func (q *Queue) Peek() *Entry {
	if q.entries.Len() == 0 {
		return nil
	}
	return q.entries[0]
}

// Push adds an entry. When the queue is full it evicts the oldest entry of
// the lowest populated priority tier to admit the new one (the admission
// never blocks), returning the evicted entry so the caller can count it.
// A newcomer ranking below every queued tier is itself the eviction target:
// Push returns it unadded and the caller turns that into a rejection.
func (q *Queue) Push(e *Entry) (evicted *Entry, err error) {
	if e == nil || e.ID == "" {
		return nil, ErrNoID
	}
	if _, ok := q.ids[e.ID]; ok {
		return nil, ErrDuplicateID
	}
	if q.capacity > 0 && q.entries.Len() >= q.capacity {
		victim := q.lowestIndex()
		if e.Priority < q.entries[victim].Priority {
			return e, nil
		}
		evicted = heap.Remove(&q.entries, victim).(*Entry)
		delete(q.ids, evicted.ID)
	}
	heap.Push(&q.entries, e)
	q.ids[e.ID] = struct{}{}
	return evicted, nil
}

// Pop removes and returns the highest-priority, earliest-sequence entry.
// Entries whose TTL elapsed at now are discarded on the way and returned in
// expired; the caller counts them. Returns (nil, expired) when empty.
func (q *Queue) Pop(now time.Time) (next *Entry, expired []*Entry) {
	for q.entries.Len() > 0 {
		e := heap.Pop(&q.entries).(*Entry)
		delete(q.ids, e.ID)
		if e.Expired(now) {
			expired = append(expired, e)
			continue
		}
		return e, expired
	}
	return nil, expired
}

// Drain removes and returns all remaining entries (shutdown discard).
func (q *Queue) Drain() []*Entry {
	out := make([]*Entry, 0, q.entries.Len())
	for q.entries.Len() > 0 {
		e := heap.Pop(&q.entries).(*Entry)
		delete(q.ids, e.ID)
		out = append(out, e)
	}
	return out
}

// lowestIndex finds the oldest (smallest sequence) entry of the lowest
// populated priority tier. Linear scan: the queue is small and eviction is
// an overflow path.
func (q *Queue) lowestIndex() int {
	victim := 0
	for i := 1; i < q.entries.Len(); i++ {
		v, c := q.entries[victim], q.entries[i]
		if c.Priority < v.Priority || (c.Priority == v.Priority && c.Sequence < v.Sequence) {
			victim = i
		}
	}
	return victim
}

// ---- heap plumbing ----

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Sequence < h[j].Sequence
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
