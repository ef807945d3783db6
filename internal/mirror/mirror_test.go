package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/testutil"
)

var t0 = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func newMirror(t *testing.T, clk *testclock.Clock, host *testutil.FakeHost) (*Mirror, func()) {
	t.Helper()
	rt, cleanup := testutil.NewRuntime(clk, host)
	m := New(rt)
	devices, err := host.ListDevices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range devices {
		if facade.IsMotionSensor(d) {
			m.motion = append(m.motion, d)
		}
	}
	return m, cleanup
}

func TestPresenceWakesAndSleepsDisplay(t *testing.T) {
	clk := testclock.NewClock(t0)
	host := testutil.NewFakeHost()
	dev := host.AddDevice("m-1", "Hallway motion sensor", "hallway", map[string]any{
		facade.CapAlarmMotion: false,
	})
	m, cleanup := newMirror(t, clk, host)
	defer cleanup()

	if err := m.presenceTick(); err != nil {
		t.Fatal(err)
	}
	if m.DisplayOn() {
		t.Fatal("display on without motion")
	}

	dev.SetCap(facade.CapAlarmMotion, true)
	if err := m.presenceTick(); err != nil {
		t.Fatal(err)
	}
	if !m.DisplayOn() {
		t.Fatal("display stayed off on motion")
	}

	// Quiet but still inside the idle window.
	dev.SetCap(facade.CapAlarmMotion, false)
	clk.Advance(90 * time.Second)
	if err := m.presenceTick(); err != nil {
		t.Fatal(err)
	}
	if !m.DisplayOn() {
		t.Fatal("display slept before idle timeout")
	}

	clk.Advance(time.Minute)
	if err := m.presenceTick(); err != nil {
		t.Fatal(err)
	}
	if m.DisplayOn() {
		t.Fatal("display awake past idle timeout")
	}
}

func TestMotionRenewsIdleWindow(t *testing.T) {
	clk := testclock.NewClock(t0)
	host := testutil.NewFakeHost()
	dev := host.AddDevice("m-1", "Hallway motion sensor", "hallway", map[string]any{
		facade.CapAlarmMotion: true,
	})
	m, cleanup := newMirror(t, clk, host)
	defer cleanup()

	if err := m.presenceTick(); err != nil {
		t.Fatal(err)
	}
	clk.Advance(110 * time.Second)
	if err := m.presenceTick(); err != nil {
		t.Fatal(err)
	}

	// Motion at 110s restarted the clock; 110s later is still inside it.
	dev.SetCap(facade.CapAlarmMotion, false)
	clk.Advance(110 * time.Second)
	if err := m.presenceTick(); err != nil {
		t.Fatal(err)
	}
	if !m.DisplayOn() {
		t.Fatal("renewed idle window not honored")
	}
}

func TestUnreadableSensorIsSkipped(t *testing.T) {
	clk := testclock.NewClock(t0)
	host := testutil.NewFakeHost()
	broken := host.AddDevice("m-1", "Hallway motion sensor", "hallway", map[string]any{
		facade.CapAlarmMotion: true,
	})
	broken.FailCaps = map[string]bool{facade.CapAlarmMotion: true}
	host.AddDevice("m-2", "Landing motion sensor", "landing", map[string]any{
		facade.CapAlarmMotion: true,
	})
	m, cleanup := newMirror(t, clk, host)
	defer cleanup()

	if err := m.presenceTick(); err != nil {
		t.Fatal(err)
	}
	if !m.DisplayOn() {
		t.Fatal("one broken sensor blinded the tick")
	}
}

func TestWidgetTickSnapshotsProviders(t *testing.T) {
	clk := testclock.NewClock(t0)
	host := testutil.NewFakeHost()
	m, cleanup := newMirror(t, clk, host)
	defer cleanup()

	m.RegisterWidget("weather", func() any { return map[string]any{"tempC": 3.5} })
	m.RegisterWidget("greeting", func() any { return "Good afternoon" })

	if err := m.widgetTick(); err != nil {
		t.Fatal(err)
	}
	snap, refreshed := m.Snapshot()
	if refreshed != t0.UnixMilli() {
		t.Fatalf("refreshedMs = %d", refreshed)
	}
	if snap["greeting"] != "Good afternoon" {
		t.Fatalf("snapshot = %+v", snap)
	}
	w, ok := snap["weather"].(map[string]any)
	if !ok || w["tempC"] != 3.5 {
		t.Fatalf("weather widget = %+v", snap["weather"])
	}
}

func TestWidgetPanicIsIsolated(t *testing.T) {
	clk := testclock.NewClock(t0)
	host := testutil.NewFakeHost()
	m, cleanup := newMirror(t, clk, host)
	defer cleanup()

	m.RegisterWidget("bad", func() any { panic("boom") })
	m.RegisterWidget("good", func() any { return 42 })

	if err := m.widgetTick(); err != nil {
		t.Fatal(err)
	}
	snap, _ := m.Snapshot()
	if snap["bad"] != nil {
		t.Fatalf("panicking widget = %v", snap["bad"])
	}
	if snap["good"] != 42 {
		t.Fatalf("good widget = %v", snap["good"])
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	clk := testclock.NewClock(t0)
	host := testutil.NewFakeHost()
	m, cleanup := newMirror(t, clk, host)
	defer cleanup()

	m.RegisterWidget("n", func() any { return 1 })
	if err := m.widgetTick(); err != nil {
		t.Fatal(err)
	}
	snap, _ := m.Snapshot()
	snap["n"] = 99
	again, _ := m.Snapshot()
	if again["n"] != 1 {
		t.Fatalf("snapshot mutated through copy: %v", again["n"])
	}
}
