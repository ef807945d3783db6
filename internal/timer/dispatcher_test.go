package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fires records handler invocations.
type fires struct {
	mu   sync.Mutex
	seen []string
}

func (f *fires) record(name string) func() {
	return func() {
		f.mu.Lock()
		f.seen = append(f.seen, name)
		f.mu.Unlock()
	}
}

func (f *fires) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.seen))
	copy(out, f.seen)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatcher_FiresInTimeOrder(t *testing.T) {
	clk := testclock.NewClock(t0)
	d := New(clk)
	defer d.Stop()

	f := &fires{}
	d.Schedule(t0.Add(3*time.Minute), "", f.record("third"))
	d.Schedule(t0.Add(1*time.Minute), "", f.record("first"))
	d.Schedule(t0.Add(2*time.Minute), "", f.record("second"))

	// Advance past all three instants; the loop drains them in at-order.
	if err := clk.WaitAdvance(5*time.Minute, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(f.snapshot()) == 3 })

	got := f.snapshot()
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fire order = %v, want %v", got, want)
		}
	}
}

func TestDispatcher_CancelPreventsFiring(t *testing.T) {
	clk := testclock.NewClock(t0)
	d := New(clk)
	defer d.Stop()

	f := &fires{}
	h := d.Schedule(t0.Add(time.Minute), "", f.record("x"))

	if !d.Cancel(h) {
		t.Fatal("first cancel should report true")
	}
	if d.Cancel(h) {
		t.Fatal("second cancel should report false")
	}

	if err := clk.WaitAdvance(2*time.Minute, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if len(f.snapshot()) != 0 {
		t.Fatal("cancelled action fired")
	}
}

func TestDispatcher_CancelGroupDiscardsRemainingStages(t *testing.T) {
	clk := testclock.NewClock(t0)
	d := New(clk)
	defer d.Stop()

	f := &fires{}
	d.Schedule(t0.Add(30*time.Second), "esc:ev1", f.record("warning"))
	sirenH := d.Schedule(t0.Add(60*time.Second), "esc:ev1", f.record("siren"))
	d.Schedule(t0.Add(180*time.Second), "esc:ev1", f.record("police"))

	if err := clk.WaitAdvance(45*time.Second, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(f.snapshot()) == 1 })

	if got := d.CancelGroup("esc:ev1"); got != 2 {
		t.Fatalf("cancelled %d actions, want 2", got)
	}
	// A member handle cancelled via the group is already gone.
	if d.Cancel(sirenH) {
		t.Fatal("cancel of group-cancelled handle should report false")
	}

	if err := clk.WaitAdvance(5*time.Minute, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := f.snapshot(); len(got) != 1 || got[0] != "warning" {
		t.Fatalf("fired = %v, want only warning", got)
	}
}

func TestDispatcher_CancelOfFiredHandleReturnsFalse(t *testing.T) {
	clk := testclock.NewClock(t0)
	d := New(clk)
	defer d.Stop()

	f := &fires{}
	h := d.Schedule(t0.Add(time.Second), "", f.record("x"))

	if err := clk.WaitAdvance(2*time.Second, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(f.snapshot()) == 1 })

	if d.Cancel(h) {
		t.Fatal("cancel after firing should report false")
	}
}

func TestDispatcher_PastInstantFiresImmediately(t *testing.T) {
	clk := testclock.NewClock(t0)
	d := New(clk)
	defer d.Stop()

	f := &fires{}
	d.Schedule(t0.Add(-time.Minute), "", f.record("late"))
	waitFor(t, func() bool { return len(f.snapshot()) == 1 })
}

func TestDispatcher_StopCancelsEverything(t *testing.T) {
	clk := testclock.NewClock(t0)
	d := New(clk)

	f := &fires{}
	d.Schedule(t0.Add(time.Minute), "g", f.record("x"))
	d.Stop()
	d.Stop() // idempotent

	if d.Pending() != 0 {
		t.Fatalf("pending = %d after stop, want 0", d.Pending())
	}
	if len(f.snapshot()) != 0 {
		t.Fatal("action fired after stop")
	}
}

func TestDispatcher_ReplacePattern(t *testing.T) {
	clk := testclock.NewClock(t0)
	d := New(clk)
	defer d.Stop()

	// Boost re-arm: cancel the previous expiry and schedule a new one.
	f := &fires{}
	h1 := d.Schedule(t0.Add(time.Hour), "boost:z1", f.record("old"))
	if !d.Cancel(h1) {
		t.Fatal("cancel of pending boost expiry should succeed")
	}
	d.Schedule(t0.Add(2*time.Hour), "boost:z1", f.record("new"))

	if err := clk.WaitAdvance(3*time.Hour, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(f.snapshot()) == 1 })
	if f.snapshot()[0] != "new" {
		t.Fatalf("fired %v, want new", f.snapshot())
	}
}
