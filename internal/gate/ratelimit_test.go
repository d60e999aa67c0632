package gate

import (
	"testing"
	"time"
)

func TestFixedWindowExactness(t *testing.T) {
	l := NewLimiter()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	admitted := 0
	for i := 0; i < 7; i++ {
		if l.Allow("key:k1", 5) {
			admitted++
		}
	}
	if admitted != 5 {
		t.Fatalf("admitted %d requests, want exactly 5", admitted)
	}
	// Denied attempts must not advance the counter.
	if got := l.WindowCount("key:k1"); got != 5 {
		t.Fatalf("window counter = %d, want 5", got)
	}
}

func TestWindowResetsOnNextSecond(t *testing.T) {
	l := NewLimiter()
	now := time.Date(2026, 8, 25, 10, 0, 0, 500_000_000, time.UTC)
	l.SetClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		l.Allow("key:k1", 5)
	}
	if l.Allow("key:k1", 5) {
		t.Fatal("sixth request in window must be denied")
	}

	now = now.Add(time.Second)
	if !l.Allow("key:k1", 5) {
		t.Fatal("new window must admit")
	}
	if got := l.WindowCount("key:k1"); got != 1 {
		t.Fatalf("new window counter = %d, want 1", got)
	}
}

func TestLimiterIsolatesKeys(t *testing.T) {
	l := NewLimiter()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		l.Allow("key:a", 3)
	}
	if l.Allow("key:a", 3) {
		t.Fatal("key a must be exhausted")
	}
	if !l.Allow("key:b", 3) {
		t.Fatal("key b must not share key a's window")
	}
}

func TestSweepEvictsIdleBuckets(t *testing.T) {
	l := NewLimiter()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	l.Allow("key:idle", 10)
	l.Allow("key:busy", 10)
	if l.Size() != 2 {
		t.Fatalf("buckets = %d, want 2", l.Size())
	}

	now = now.Add(61 * time.Second)
	l.Allow("key:busy", 10)
	l.sweep()

	if l.Size() != 1 {
		t.Fatalf("buckets after sweep = %d, want 1", l.Size())
	}
	if got := l.WindowCount("key:busy"); got != 1 {
		t.Fatalf("busy bucket lost: count = %d", got)
	}
}

func TestNonPositiveLimitDeniesAll(t *testing.T) {
	l := NewLimiter()
	if l.Allow("key:zero", 0) {
		t.Fatal("zero limit must deny")
	}
}
