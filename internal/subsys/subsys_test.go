package subsys_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/subsys"
	"github.com/halcyon-home/halcyon/internal/testutil"
)

var t0 = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func newBase(t *testing.T, clk *testclock.Clock) (*subsys.Base, *subsys.Runtime, func()) {
	t.Helper()
	rt, cleanup := testutil.NewRuntime(clk, testutil.NewFakeHost())
	return subsys.NewBase("demo", rt), rt, cleanup
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
	t.Fatal("condition not reached")
}

func TestLifecycleTransitions(t *testing.T) {
	clk := testclock.NewClock(t0)
	b, _, cleanup := newBase(t, clk)
	defer cleanup()

	if got := b.State(); got != subsys.StateUninitialized {
		t.Fatalf("initial state = %s", got)
	}
	if err := b.BeginInit(); err != nil {
		t.Fatal(err)
	}
	if got := b.State(); got != subsys.StateInitializing {
		t.Fatalf("state after BeginInit = %s", got)
	}
	if err := b.BeginInit(); err == nil || !strings.Contains(err.Error(), "initializing") {
		t.Fatalf("second BeginInit: %v", err)
	}
	b.FinishInit()
	if got := b.State(); got != subsys.StateRunning {
		t.Fatalf("state after FinishInit = %s", got)
	}

	var flushes atomic.Int32
	b.Destroy(func() { flushes.Add(1) })
	if got := b.State(); got != subsys.StateDestroyed {
		t.Fatalf("state after Destroy = %s", got)
	}
	// Repeated destroy is a no-op, including the flush.
	b.Destroy(func() { flushes.Add(1) })
	if flushes.Load() != 1 {
		t.Fatalf("flushes = %d", flushes.Load())
	}

	if err := b.BeginInit(); err == nil {
		t.Fatal("BeginInit accepted after destroy")
	}
}

func TestScheduledActionFires(t *testing.T) {
	clk := testclock.NewClock(t0)
	b, _, cleanup := newBase(t, clk)
	defer cleanup()

	var fired atomic.Bool
	b.ScheduleAfter(time.Minute, "demo:group", func() { fired.Store(true) })
	if err := clk.WaitAdvance(time.Minute, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	waitFor(t, fired.Load)
}

func TestCancelTimedAndGroup(t *testing.T) {
	clk := testclock.NewClock(t0)
	b, _, cleanup := newBase(t, clk)
	defer cleanup()

	var fired atomic.Int32
	h := b.ScheduleAfter(time.Minute, "", func() { fired.Add(1) })
	b.ScheduleAfter(time.Minute, "grp", func() { fired.Add(1) })
	b.ScheduleAfter(2*time.Minute, "grp", func() { fired.Add(1) })
	var kept atomic.Bool
	b.ScheduleAfter(time.Minute, "other", func() { kept.Store(true) })

	if !b.CancelTimed(h) {
		t.Fatal("CancelTimed reported miss")
	}
	if b.CancelTimed(h) {
		t.Fatal("second cancel reported hit")
	}
	if n := b.CancelTimedGroup("grp"); n != 2 {
		t.Fatalf("CancelTimedGroup = %d, want 2", n)
	}

	if err := clk.WaitAdvance(2*time.Minute, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	waitFor(t, kept.Load)
	if fired.Load() != 0 {
		t.Fatalf("cancelled actions fired %d times", fired.Load())
	}
}

func TestDestroyCancelsTimedActionsAndSubscriptions(t *testing.T) {
	clk := testclock.NewClock(t0)
	b, rt, cleanup := newBase(t, clk)
	defer cleanup()

	if err := b.BeginInit(); err != nil {
		t.Fatal(err)
	}
	var fired atomic.Bool
	b.ScheduleAfter(time.Minute, "grp", func() { fired.Store(true) })
	b.ScheduleAfter(time.Minute, "", func() { fired.Store(true) })
	var delivered atomic.Int32
	b.Subscribe(bus.TagIntegrationEvent, func(bus.Event) { delivered.Add(1) })
	b.FinishInit()

	b.Destroy(nil)

	clk.Advance(2 * time.Minute)
	rt.Bus.Publish(bus.IntegrationEvent{Name: "after-destroy"})
	time.Sleep(20 * time.Millisecond)
	if fired.Load() {
		t.Fatal("timed action fired after destroy")
	}
	if delivered.Load() != 0 {
		t.Fatalf("subscription delivered %d events after destroy", delivered.Load())
	}
}

func TestPeriodicTaskRunsOnCadence(t *testing.T) {
	clk := testclock.NewClock(t0)
	b, _, cleanup := newBase(t, clk)
	defer cleanup()

	if err := b.BeginInit(); err != nil {
		t.Fatal(err)
	}
	var ticks atomic.Int32
	b.RegisterTask("beat", time.Minute, func() error {
		ticks.Add(1)
		return nil
	})
	b.FinishInit()

	if err := clk.WaitAdvance(time.Minute, time.Second, 2); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return ticks.Load() >= 1 })

	b.Destroy(nil)
	got := ticks.Load()
	clk.Advance(5 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	if ticks.Load() != got {
		t.Fatal("task ticked after destroy")
	}
}

// fakeSub records lifecycle calls for controller ordering tests.
type fakeSub struct {
	name    string
	initErr error
	log     *[]string
}

func (s *fakeSub) Name() string { return s.name }

func (s *fakeSub) Init(context.Context) error {
	*s.log = append(*s.log, "init "+s.name)
	return s.initErr
}

func (s *fakeSub) Destroy() {
	*s.log = append(*s.log, "destroy "+s.name)
}

func TestControllerInitAndDestroyOrder(t *testing.T) {
	var calls []string
	c := subsys.NewController(
		&fakeSub{name: "a", log: &calls},
		&fakeSub{name: "b", log: &calls},
		&fakeSub{name: "c", log: &calls},
	)
	if err := c.InitAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.DestroyAll()

	want := []string{"init a", "init b", "init c", "destroy c", "destroy b", "destroy a"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestControllerRollsBackOnInitFailure(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	c := subsys.NewController(
		&fakeSub{name: "a", log: &calls},
		&fakeSub{name: "b", log: &calls, initErr: boom},
		&fakeSub{name: "c", log: &calls},
	)
	err := c.InitAll(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("InitAll err = %v", err)
	}

	want := []string{"init a", "init b", "destroy a"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}
