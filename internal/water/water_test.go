package water

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
	"github.com/halcyon-home/halcyon/internal/testutil"
)

// Sunday noon.
var t0 = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func newWater(t *testing.T, clk *testclock.Clock, host *testutil.FakeHost) (*Water, func()) {
	t.Helper()
	rt, cleanup := testutil.NewRuntime(clk, host)
	return New(rt), cleanup
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

func hasNotification(host *testutil.FakeHost, title string) bool {
	for _, n := range host.Notifications() {
		if n.Title == title {
			return true
		}
	}
	return false
}

func TestLeakEdgeDetection(t *testing.T) {
	clk := testclock.NewClock(t0)
	host := testutil.NewFakeHost()
	dev := host.AddDevice("leak-1", "Basement leak sensor", "Basement", map[string]any{
		facade.CapAlarmWater: false,
	})
	w, cleanup := newWater(t, clk, host)
	defer cleanup()
	w.classifyDevices(context.Background())

	// Baseline pass; no edge yet.
	if err := w.leakTick(); err != nil {
		t.Fatal(err)
	}
	if hasNotification(host, "Water leak detected") {
		t.Fatal("alert on baseline read")
	}

	dev.SetCap(facade.CapAlarmWater, true)
	if err := w.leakTick(); err != nil {
		t.Fatal(err)
	}
	if !hasNotification(host, "Water leak detected") {
		t.Fatal("no alert on rising edge")
	}

	// Held alarm does not re-alert.
	before := len(host.Notifications())
	if err := w.leakTick(); err != nil {
		t.Fatal(err)
	}
	if len(host.Notifications()) != before {
		t.Fatal("re-alert on held alarm")
	}
}

func TestHiddenLeakOnlyAtNightAndAboveThreshold(t *testing.T) {
	night := time.Date(2026, 2, 1, 2, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(night)
	host := testutil.NewFakeHost()
	w, cleanup := newWater(t, clk, host)
	defer cleanup()
	m := &Meter{ID: "m1", Name: "Main water meter"}
	w.meters.Put("m1", m)

	// At the threshold exactly: no alert.
	w.mu.Lock()
	m.FlowRateLPM = 2.0
	w.mu.Unlock()
	w.checkHiddenLeak()
	if hasNotification(host, "Possible hidden leak") {
		t.Fatal("alert at threshold flow")
	}

	w.mu.Lock()
	m.FlowRateLPM = 2.5
	w.mu.Unlock()
	w.checkHiddenLeak()
	if !hasNotification(host, "Possible hidden leak") {
		t.Fatal("no alert on sustained night flow")
	}

	// Same flow at noon is normal usage.
	host2 := testutil.NewFakeHost()
	w2, cleanup2 := newWater(t, testclock.NewClock(t0), host2)
	defer cleanup2()
	w2.meters.Put("m1", &Meter{ID: "m1", Name: "Main water meter", FlowRateLPM: 2.5})
	w2.checkHiddenLeak()
	if hasNotification(host2, "Possible hidden leak") {
		t.Fatal("alert outside the night window")
	}
}

func TestConsumptionAccumulatesDaily(t *testing.T) {
	clk := testclock.NewClock(t0)
	host := testutil.NewFakeHost()
	host.AddDevice("meter-1", "Main water meter", "Utility", map[string]any{
		facade.CapMeasureWater: 0.0,
		facade.CapMeterWater:   100.0,
	})
	w, cleanup := newWater(t, clk, host)
	defer cleanup()
	w.classifyDevices(context.Background())

	// First read only sets the baseline.
	if err := w.consumptionTick(); err != nil {
		t.Fatal(err)
	}
	m, err := w.MeterState("meter-1")
	if err != nil {
		t.Fatal(err)
	}
	if m.TotalLiters != 100 || m.DailyLiters != 0 {
		t.Fatalf("baseline: total=%.0f daily=%.0f", m.TotalLiters, m.DailyLiters)
	}

	mdev, _ := w.meters.Get("meter-1")
	mdev.dev.(*testutil.FakeDevice).SetCap(facade.CapMeterWater, 150.0)
	if err := w.consumptionTick(); err != nil {
		t.Fatal(err)
	}
	m, _ = w.MeterState("meter-1")
	if math.Abs(m.DailyLiters-50) > 1e-9 {
		t.Fatalf("daily = %.0f, want 50", m.DailyLiters)
	}

	// The daily report resets the counter.
	if err := w.dailyReportTick(); err != nil {
		t.Fatal(err)
	}
	if !hasNotification(host, "Daily water report") {
		t.Fatal("no daily report notification")
	}
	m, _ = w.MeterState("meter-1")
	if m.DailyLiters != 0 {
		t.Fatalf("daily not reset: %.0f", m.DailyLiters)
	}
}

func TestIrrigationStartsInWindowAndAutoStops(t *testing.T) {
	morning := time.Date(2026, 2, 1, 6, 5, 0, 0, time.UTC) // Sunday 06:05
	clk := testclock.NewClock(morning)
	host := testutil.NewFakeHost()
	w, cleanup := newWater(t, clk, host)
	defer cleanup()

	if err := w.AddIrrigationZone(IrrigationZone{
		ID: "lawn", Name: "Lawn", Days: []int{0}, StartTime: "6:00", DurationMin: 20,
	}); err != nil {
		t.Fatal(err)
	}

	if err := w.irrigationTick(); err != nil {
		t.Fatal(err)
	}
	z, err := w.ZoneState("lawn")
	if err != nil {
		t.Fatal(err)
	}
	if !z.Running {
		t.Fatal("zone not started inside the window")
	}

	// The auto-stop fires after the configured duration.
	if err := clk.WaitAdvance(20*time.Minute, time.Second, 1); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		z, err := w.ZoneState("lawn")
		return err == nil && !z.Running
	})
}

func TestIrrigationOutsideWindowNotDue(t *testing.T) {
	late := time.Date(2026, 2, 1, 6, 20, 0, 0, time.UTC) // 20 min past start
	clk := testclock.NewClock(late)
	w, cleanup := newWater(t, clk, testutil.NewFakeHost())
	defer cleanup()

	if err := w.AddIrrigationZone(IrrigationZone{
		ID: "lawn", Name: "Lawn", Days: []int{0}, StartTime: "06:00", DurationMin: 20,
	}); err != nil {
		t.Fatal(err)
	}
	if err := w.irrigationTick(); err != nil {
		t.Fatal(err)
	}
	z, _ := w.ZoneState("lawn")
	if z.Running {
		t.Fatal("zone started outside the window")
	}
}

func TestIrrigationWeatherGate(t *testing.T) {
	morning := time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(morning)
	w, cleanup := newWater(t, clk, testutil.NewFakeHost())
	defer cleanup()

	if err := w.AddIrrigationZone(IrrigationZone{
		ID: "lawn", Name: "Lawn", Days: []int{0}, StartTime: "06:00", DurationMin: 20,
	}); err != nil {
		t.Fatal(err)
	}

	w.SetWeather(Weather{RecentRain: true, SoilMoisture: -1})
	if err := w.irrigationTick(); err != nil {
		t.Fatal(err)
	}
	if z, _ := w.ZoneState("lawn"); z.Running {
		t.Fatal("started despite recent rain")
	}

	w.SetWeather(Weather{ExpectedRain: true, SoilMoisture: -1})
	if err := w.irrigationTick(); err != nil {
		t.Fatal(err)
	}
	if z, _ := w.ZoneState("lawn"); z.Running {
		t.Fatal("started despite expected rain")
	}

	w.SetWeather(Weather{SoilMoisture: 75})
	if err := w.irrigationTick(); err != nil {
		t.Fatal(err)
	}
	if z, _ := w.ZoneState("lawn"); z.Running {
		t.Fatal("started on saturated soil")
	}

	// Unknown moisture passes the gate.
	w.SetWeather(Weather{SoilMoisture: -1})
	if err := w.irrigationTick(); err != nil {
		t.Fatal(err)
	}
	if z, _ := w.ZoneState("lawn"); !z.Running {
		t.Fatal("not started under clear weather")
	}
}

func TestSavingModeSuspendsIrrigation(t *testing.T) {
	morning := time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(morning)
	host := testutil.NewFakeHost()
	w, cleanup := newWater(t, clk, host)
	defer cleanup()

	if err := w.AddIrrigationZone(IrrigationZone{
		ID: "lawn", Name: "Lawn", Days: []int{0}, StartTime: "06:00", DurationMin: 20,
	}); err != nil {
		t.Fatal(err)
	}
	w.SetSavingMode(true)
	if err := w.irrigationTick(); err != nil {
		t.Fatal(err)
	}
	if z, _ := w.ZoneState("lawn"); z.Running {
		t.Fatal("started in saving mode")
	}
	if !host.HasSetting("waterSavingMode") {
		t.Fatal("saving mode not persisted")
	}
}

func TestStopIrrigationEarly(t *testing.T) {
	morning := time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(morning)
	host := testutil.NewFakeHost()
	valve := host.AddDevice("valve-1", "Garden sprinkler", "Garden", map[string]any{
		facade.CapOnOff: false,
	})
	w, cleanup := newWater(t, clk, host)
	defer cleanup()
	w.classifyDevices(context.Background())

	if err := w.AddIrrigationZone(IrrigationZone{
		ID: "lawn", Name: "Lawn", Days: []int{0}, StartTime: "06:00", DurationMin: 20,
	}); err != nil {
		t.Fatal(err)
	}
	if err := w.irrigationTick(); err != nil {
		t.Fatal(err)
	}
	if valve.Cap(facade.CapOnOff) != true {
		t.Fatal("valve not opened on start")
	}

	if err := w.StopIrrigation("lawn"); err != nil {
		t.Fatal(err)
	}
	z, _ := w.ZoneState("lawn")
	if z.Running {
		t.Fatal("zone still running after early stop")
	}
	if valve.Cap(facade.CapOnOff) != false {
		t.Fatal("valve not closed on stop")
	}

	// Stopping an idle zone is a no-op.
	if err := w.StopIrrigation("lawn"); err != nil {
		t.Fatal(err)
	}
	if err := w.StopIrrigation("ghost"); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("unknown zone: %v", err)
	}
}

func TestLeakStopsIrrigationAndClosesValves(t *testing.T) {
	morning := time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(morning)
	host := testutil.NewFakeHost()
	valve := host.AddDevice("valve-1", "Garden sprinkler", "Garden", map[string]any{
		facade.CapOnOff: false,
	})
	w, cleanup := newWater(t, clk, host)
	defer cleanup()
	w.classifyDevices(context.Background())

	if err := w.AddIrrigationZone(IrrigationZone{
		ID: "lawn", Name: "Lawn", Days: []int{0}, StartTime: "06:00", DurationMin: 20,
	}); err != nil {
		t.Fatal(err)
	}
	if err := w.irrigationTick(); err != nil {
		t.Fatal(err)
	}
	if valve.Cap(facade.CapOnOff) != true {
		t.Fatal("valve not opened on start")
	}

	w.onLeakDetected(bus.LeakDetected{DeviceID: "leak-1", AtMs: clk.Now().UnixMilli()})
	z, _ := w.ZoneState("lawn")
	if z.Running {
		t.Fatal("irrigation still running after leak")
	}
	if valve.Cap(facade.CapOnOff) != false {
		t.Fatal("valve not closed after leak")
	}
}

func TestLeakEventTriggersShutoffThroughBus(t *testing.T) {
	clk := testclock.NewClock(t0)
	host := testutil.NewFakeHost()
	valve := host.AddDevice("valve-1", "Garden water valve", "Garden", map[string]any{
		facade.CapOnOff: true,
	})
	dev := host.AddDevice("leak-1", "Basement leak sensor", "Basement", map[string]any{
		facade.CapAlarmWater: false,
	})
	w, cleanup := newWater(t, clk, host)
	defer cleanup()
	if err := w.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Destroy()

	// Baseline pass, then a rising edge.
	if err := w.leakTick(); err != nil {
		t.Fatal(err)
	}
	dev.SetCap(facade.CapAlarmWater, true)
	if err := w.leakTick(); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		return valve.Cap(facade.CapOnOff) == false
	})
}

func TestAddIrrigationZoneValidation(t *testing.T) {
	clk := testclock.NewClock(t0)
	w, cleanup := newWater(t, clk, testutil.NewFakeHost())
	defer cleanup()

	cases := []IrrigationZone{
		{Name: "no id", Days: []int{0}, StartTime: "06:00", DurationMin: 20},
		{ID: "z", Days: []int{0}, StartTime: "06:00", DurationMin: 0},
		{ID: "z", StartTime: "06:00", DurationMin: 20},
		{ID: "z", Days: []int{0}, StartTime: "25:99", DurationMin: 20},
	}
	for i, z := range cases {
		if err := w.AddIrrigationZone(z); !errors.Is(err, fault.ErrInvalidArgument) {
			t.Errorf("case %d: %v", i, err)
		}
	}
}
