package application

import (
	"math"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestBackoff_DurationDoublesUntilCap(t *testing.T) {
	b := NewBackoff(10 * time.Second)

	cases := []struct {
		violations int
		want       time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, c := range cases {
		if got := b.Duration(time.Second, c.violations); got != c.want {
			t.Fatalf("violations=%d: expected %s, got %s", c.violations, c.want, got)
		}
	}
}

func TestBackoff_DefaultCap(t *testing.T) {
	b := NewBackoff(0)
	if b.Cap != DefaultBackoffCap {
		t.Fatalf("expected default cap %s, got %s", DefaultBackoffCap, b.Cap)
	}
	if got := b.Duration(time.Minute, 1000); got != DefaultBackoffCap {
		t.Fatalf("expected cap on large violation count, got %s", got)
	}
}

func TestBackoff_NoOverflowWithHugeCap(t *testing.T) {
	b := &Backoff{Tracker: NewViolationTracker(), Cap: time.Duration(math.MaxInt64)}
	got := b.Duration(time.Hour, 200)
	if got <= 0 {
		t.Fatalf("expected positive duration without overflow, got %s", got)
	}
}

func TestBackoff_ZeroBase(t *testing.T) {
	b := NewBackoff(time.Minute)
	if d := b.Duration(0, 5); d != 0 {
		t.Fatalf("expected 0 for zero base, got %s", d)
	}
	if m := b.Multiplier(0, 5); m != 0 {
		t.Fatalf("expected multiplier 0 for zero base, got %v", m)
	}
}

func TestBackoff_ApplyRecordsAndResetClears(t *testing.T) {
	b := NewBackoff(time.Minute)
	now := time.Unix(1_700_000_000, 0)

	for i := 1; i <= 3; i++ {
		_, n := b.Apply("k", time.Second, now)
		if n != i {
			t.Fatalf("expected violation count %d, got %d", i, n)
		}
	}
	b.Reset("k")
	if d, n := b.Apply("k", time.Second, now); n != 1 || d != time.Second {
		t.Fatalf("expected fresh sequence after reset, got n=%d d=%s", n, d)
	}
}

func TestViolationTracker_EvictOldSequences(t *testing.T) {
	tr := NewViolationTracker()
	now := time.Unix(1_700_000_000, 0)

	tr.Record("old", now)
	tr.Record("new", now.Add(time.Minute))

	if n := tr.Evict(now.Add(30 * time.Second)); n != 1 {
		t.Fatalf("expected 1 evicted, got %d", n)
	}
	if tr.Count("old") != 0 || tr.Count("new") != 1 {
		t.Fatalf("unexpected tracker state after evict")
	}
	if tr.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", tr.Len())
	}
}

func TestBackoff_PropertyMonotonicAndCapped(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := time.Duration(rapid.Int64Range(1, int64(time.Hour)).Draw(rt, "base"))
		maxBlock := time.Duration(rapid.Int64Range(int64(base), int64(24*time.Hour)).Draw(rt, "cap"))
		b := NewBackoff(maxBlock)

		prev := time.Duration(0)
		for n := 1; n <= 64; n++ {
			d := b.Duration(base, n)
			if d < prev {
				rt.Fatalf("non-monotonic at n=%d: %s < %s", n, d, prev)
			}
			if d > maxBlock {
				rt.Fatalf("exceeded cap at n=%d: %s > %s", n, d, maxBlock)
			}
			if d == prev && prev < maxBlock {
				rt.Fatalf("expected strict growth below cap at n=%d", n)
			}
			prev = d
		}
	})
}
