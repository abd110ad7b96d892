package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestGetOrComputeSingleComputation(t *testing.T) {
	t.Parallel()
	c := New(10)
	now := time.Now()
	calls := 0
	compute := func() (string, error) {
		calls++
		return "resolved", nil
	}

	p1, err := c.GetOrCompute("Build complete", "voice-a", now, compute)
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	p2, err := c.GetOrCompute("build  COMPLETE", "voice-a", now.Add(time.Second), compute)
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if p1 != "resolved" || p2 != "resolved" {
		t.Fatalf("payloads = %q, %q", p1, p2)
	}
	if calls != 1 {
		t.Fatalf("compute calls = %d, want 1", calls)
	}
	if hits := c.HitCount("Build complete", "voice-a"); hits != 2 {
		t.Fatalf("HitCount = %d, want 2 (insert + hit)", hits)
	}
}

func TestDistinctHintIsDistinctKey(t *testing.T) {
	t.Parallel()
	c := New(10)
	now := time.Now()
	calls := 0
	compute := func() (string, error) {
		calls++
		return fmt.Sprintf("payload-%d", calls), nil
	}

	if _, err := c.GetOrCompute("same text", "a", now, compute); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOrCompute("same text", "b", now, compute); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("compute calls = %d, want 2", calls)
	}
}

func TestEvictsLeastFrequentlyUsed(t *testing.T) {
	t.Parallel()
	c := New(3)
	now := time.Now()
	put := func(text string, at time.Time) {
		t.Helper()
		if _, err := c.GetOrCompute(text, "", at, func() (string, error) { return text, nil }); err != nil {
			t.Fatalf("GetOrCompute(%s): %v", text, err)
		}
	}

	put("a", now)
	put("b", now.Add(time.Second))
	put("c", now.Add(2*time.Second))
	// Bump a and c so b is the LFU victim.
	put("a", now.Add(3*time.Second))
	put("c", now.Add(4*time.Second))

	put("d", now.Add(5*time.Second))

	if c.HitCount("b", "") != 0 {
		t.Fatalf("expected b to be evicted")
	}
	if c.HitCount("a", "") == 0 || c.HitCount("c", "") == 0 {
		t.Fatalf("expected a and c to survive")
	}
	st := c.Stats()
	if st.Evictions != 1 {
		t.Fatalf("Evictions = %d, want 1", st.Evictions)
	}
	if st.Size != 3 {
		t.Fatalf("Size = %d, want 3", st.Size)
	}
}

func TestEvictionTieBreaksOnOldestAccess(t *testing.T) {
	t.Parallel()
	c := New(2)
	now := time.Now()
	put := func(text string, at time.Time) {
		t.Helper()
		if _, err := c.GetOrCompute(text, "", at, func() (string, error) { return text, nil }); err != nil {
			t.Fatalf("GetOrCompute(%s): %v", text, err)
		}
	}

	// Equal hit counts; "old" was touched earlier.
	put("old", now)
	put("new", now.Add(time.Second))
	put("third", now.Add(2*time.Second))

	if c.HitCount("old", "") != 0 {
		t.Fatalf("expected old to be the tie-break victim")
	}
	if c.HitCount("new", "") == 0 {
		t.Fatalf("expected new to survive")
	}
}

func TestResizeShrinksImmediately(t *testing.T) {
	t.Parallel()
	c := New(5)
	now := time.Now()
	for i := 0; i < 5; i++ {
		text := fmt.Sprintf("msg-%d", i)
		if _, err := c.GetOrCompute(text, "", now, func() (string, error) { return text, nil }); err != nil {
			t.Fatal(err)
		}
	}
	c.Resize(2)
	if st := c.Stats(); st.Size != 2 || st.Capacity != 2 {
		t.Fatalf("after Resize: %+v", st)
	}
}
