package budget

import (
	"sync"
	"testing"
	"time"
)

func TestReserveSearchCall_StopsAtCap(t *testing.T) {
	b := New(Caps{MaxSearchCalls: 3})
	for i := 0; i < 3; i++ {
		if !b.ReserveSearchCall() {
			t.Fatalf("reservation %d should succeed", i+1)
		}
	}
	// Every further reservation must fail for the rest of the request.
	for i := 0; i < 5; i++ {
		if b.ReserveSearchCall() {
			t.Fatalf("reservation past cap should fail")
		}
	}
	if got := b.Snapshot().SearchCalls; got != 3 {
		t.Fatalf("counter exceeded cap: %d", got)
	}
}

func TestReserveBytes_NeverExceedsCap(t *testing.T) {
	b := New(Caps{MaxBytes: 100})
	if !b.ReserveBytes(60) {
		t.Fatal("60 of 100 should fit")
	}
	if b.ReserveBytes(50) {
		t.Fatal("50 more would exceed the cap")
	}
	if !b.ReserveBytes(40) {
		t.Fatal("exactly filling the cap should succeed")
	}
	if b.ReserveBytes(1) {
		t.Fatal("cap is exhausted")
	}
	if got := b.Snapshot().Bytes; got != 100 {
		t.Fatalf("bytes counter = %d, want 100", got)
	}
}

func TestReserveBytes_NegativeRejected(t *testing.T) {
	b := New(Caps{MaxBytes: 10})
	if b.ReserveBytes(-5) {
		t.Fatal("negative reservation must fail")
	}
}

func TestReserve_ConcurrentNeverOverCommits(t *testing.T) {
	b := New(Caps{MaxSearchCalls: 50})
	var wg sync.WaitGroup
	granted := make(chan struct{}, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.ReserveSearchCall() {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)
	n := 0
	for range granted {
		n++
	}
	if n != 50 {
		t.Fatalf("granted %d reservations, want exactly 50", n)
	}
}

func TestWallClock(t *testing.T) {
	cur := time.Unix(1000, 0)
	b := New(Caps{MaxWallClock: 10 * time.Second}).WithClock(func() time.Time { return cur })

	if !b.HasWallClock() {
		t.Fatal("deadline should not have elapsed yet")
	}
	if rem, ok := b.WallClockRemaining(); !ok || rem != 10*time.Second {
		t.Fatalf("remaining = %v ok=%t", rem, ok)
	}

	cur = cur.Add(11 * time.Second)
	if b.HasWallClock() {
		t.Fatal("deadline should have elapsed")
	}
	if _, ok := b.WallClockRemaining(); ok {
		t.Fatal("no time should remain")
	}
}

func TestDefaults(t *testing.T) {
	b := New(Caps{})
	for i := 0; i < defaultMaxSearchCalls; i++ {
		if !b.ReserveSearchCall() {
			t.Fatalf("default search cap too small at %d", i)
		}
	}
	if b.ReserveSearchCall() {
		t.Fatal("default search cap should be enforced")
	}
}
