package id

import (
	"sync/atomic"
	"testing"
	"time"
)

func fixedClock(ms *atomic.Int64) func() int64 { return func() int64 { return ms.Load() } }

func TestOrderingMonotonic(t *testing.T) {
	var clock atomic.Int64
	clock.Store(1000)
	g := &Generator{now: fixedClock(&clock)}

	a := g.Next()
	b := g.Next()
	if a.Compare(b) >= 0 {
		t.Fatalf("expected a<b")
	}
	if a.String() != "1000-0" || b.String() != "1000-1" {
		t.Fatalf("unexpected ids %s %s", a, b)
	}
}

func TestClockRegressionGuard(t *testing.T) {
	var clock atomic.Int64
	clock.Store(1000)
	g := &Generator{now: fixedClock(&clock)}

	a := g.Next()
	clock.Store(900)
	b := g.Next()
	if a.Compare(b) >= 0 {
		t.Fatalf("expected b>a despite clock regression")
	}
}

func TestObserveSeedsAfterRestart(t *testing.T) {
	var clock atomic.Int64
	clock.Store(500)
	g := &Generator{now: fixedClock(&clock)}
	g.Observe(New(800, 7))
	next := g.Next()
	if next.Compare(New(800, 7)) <= 0 {
		t.Fatalf("expected id after observed, got %s", next)
	}
}

func TestSequenceOverflowWaitsNextMs(t *testing.T) {
	var clock atomic.Int64
	clock.Store(2000)
	g := &Generator{now: fixedClock(&clock)}
	g.Observe(New(2000, ^uint64(0)))

	done := make(chan ID)
	go func() { done <- g.Next() }()
	time.AfterFunc(10*time.Millisecond, func() { clock.Store(2001) })

	select {
	case got := <-done:
		if got.Ms() != 2001 || got.Seq() != 0 {
			t.Fatalf("unexpected id after overflow: %s", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for overflow handling")
	}
}

func TestParseRoundTrip(t *testing.T) {
	in := New(1700000000123, 42)
	out, err := Parse(in.String())
	if err != nil || out != in {
		t.Fatalf("parse: %v %s", err, out)
	}
	if _, err := Parse("abc-1"); err == nil {
		t.Fatalf("expected malformed error")
	}
	bare, err := Parse("15")
	if err != nil || bare != New(15, 0) {
		t.Fatalf("bare ms: %v %s", err, bare)
	}
	if New(5, 1).Next() != New(5, 2) {
		t.Fatalf("next")
	}
}
