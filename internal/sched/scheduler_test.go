package sched

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/halcyon-home/halcyon/internal/bus"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

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

func TestScheduler_TicksAtCadence(t *testing.T) {
	clk := testclock.NewClock(t0)
	s := New(clk, nil, time.Second)

	var ran atomic.Int64
	if _, err := s.Register("poll", time.Second, func() error {
		ran.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	s.Start()

	for i := 0; i < 3; i++ {
		if err := clk.WaitAdvance(time.Second, time.Second, 1); err != nil {
			t.Fatal(err)
		}
		want := int64(i + 1)
		waitFor(t, func() bool { return ran.Load() == want })
	}
	s.Stop()
}

func TestScheduler_OverlappingTickDropped(t *testing.T) {
	clk := testclock.NewClock(t0)
	b := bus.New(8, 4)
	defer b.Close()
	s := New(clk, b, time.Second)

	overlaps := make(chan bus.TaskOverlap, 4)
	sub := b.Subscribe(bus.TagTaskOverlap, "test", func(ev bus.Event) {
		overlaps <- ev.(bus.TaskOverlap)
	})
	defer sub.Cancel()

	started := make(chan struct{}, 8)
	release := make(chan struct{})
	var runs atomic.Int64
	task, err := s.Register("slow", time.Second, func() error {
		started <- struct{}{}
		if runs.Add(1) == 1 {
			<-release
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()

	// First tick starts the handler and parks it.
	if err := clk.WaitAdvance(time.Second, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	<-started

	// Next two ticks land while the handler is still in flight.
	for i := 0; i < 2; i++ {
		if err := clk.WaitAdvance(time.Second, time.Second, 1); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool { return task.DroppedTicks() == 2 })

	ev := <-overlaps
	if ev.Task != "slow" {
		t.Fatalf("overlap event for %q, want slow", ev.Task)
	}

	close(release)
	waitFor(t, func() bool {
		snaps := s.Snapshot()
		return len(snaps) == 1 && !snaps[0].InFlight
	})

	// The freed task ticks again on the next cadence.
	if err := clk.WaitAdvance(time.Second, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		return s.Snapshot()[0].LastStartMs > 0 && task.DroppedTicks() == 2
	})
	s.Stop()
}

func TestScheduler_HandlerErrorRecorded(t *testing.T) {
	clk := testclock.NewClock(t0)
	s := New(clk, nil, time.Second)

	boom := errors.New("sensor offline")
	task, err := s.Register("read", time.Second, func() error { return boom })
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	if err := clk.WaitAdvance(time.Second, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return errors.Is(task.LastError(), boom) })
}

func TestScheduler_HandlerPanicIsolated(t *testing.T) {
	clk := testclock.NewClock(t0)
	s := New(clk, nil, time.Second)

	task, err := s.Register("bad", time.Second, func() error { panic("kaput") })
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	if err := clk.WaitAdvance(time.Second, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		e := task.LastError()
		return e != nil && strings.Contains(e.Error(), "panic")
	})

	// The loop survives and keeps ticking.
	if err := clk.WaitAdvance(time.Second, time.Second, 1); err != nil {
		t.Fatal(err)
	}
}

func TestScheduler_RegisterValidation(t *testing.T) {
	clk := testclock.NewClock(t0)
	s := New(clk, nil, time.Second)

	if _, err := s.Register("", time.Second, func() error { return nil }); err == nil {
		t.Fatal("empty name accepted")
	}
	if _, err := s.Register("x", 0, func() error { return nil }); err == nil {
		t.Fatal("zero cadence accepted")
	}
	if _, err := s.Register("dup", time.Second, func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Register("dup", time.Second, func() error { return nil }); err == nil {
		t.Fatal("duplicate name accepted")
	}
	if _, err := s.RegisterCron("trend", "not a cron spec", func() error { return nil }); err == nil {
		t.Fatal("invalid cron spec accepted")
	}
	if _, err := s.RegisterCron("trend", "0 3 * * *", func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	if _, err := s.Register("late", time.Second, func() error { return nil }); err == nil {
		t.Fatal("registration after stop accepted")
	}
}

func TestScheduler_CronFiresOnInjectedClock(t *testing.T) {
	clk := testclock.NewClock(t0) // 12:00
	s := New(clk, nil, time.Second)

	var ran atomic.Int64
	if _, err := s.RegisterCron("trend", "0 3 * * *", func() error {
		ran.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	// 15 hours to the next 03:00.
	if err := clk.WaitAdvance(15*time.Hour, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return ran.Load() == 1 })

	if err := clk.WaitAdvance(24*time.Hour, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return ran.Load() == 2 })
}

func TestScheduler_StopAbandonsStuckHandler(t *testing.T) {
	clk := testclock.NewClock(t0)
	s := New(clk, nil, 5*time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	if _, err := s.Register("stuck", time.Second, func() error {
		close(started)
		<-release
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	s.Start()

	if err := clk.WaitAdvance(time.Second, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	// Stop parks on the grace timer once the tick loops have exited.
	if err := clk.WaitAdvance(5*time.Second, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after grace period")
	}
	close(release)
}

func TestScheduler_StopTwice(t *testing.T) {
	clk := testclock.NewClock(t0)
	s := New(clk, nil, time.Second)
	if _, err := s.Register("t", time.Second, func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	s.Start()
	s.Stop()
	s.Stop()
}
