package facade_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
	"github.com/halcyon-home/halcyon/internal/testutil"
)

func addDevice(name string, caps map[string]any) *testutil.FakeDevice {
	host := testutil.NewFakeHost()
	return host.AddDevice("dev-1", name, "zone", caps)
}

func TestClassifyPredicates(t *testing.T) {
	cases := []struct {
		name string
		caps map[string]any
		pred func(facade.DeviceRef) bool
		want bool
	}{
		{"Front door camera", nil, facade.IsCamera, true},
		{"Front door sensor", nil, facade.IsCamera, false},
		{"Hallway sensor", map[string]any{facade.CapAlarmMotion: false}, facade.IsMotionSensor, true},
		{"Hallway sensor", nil, facade.IsMotionSensor, false},
		{"Balcony door", map[string]any{facade.CapAlarmContact: false}, facade.IsContactSensor, true},
		{"Front door lock", nil, facade.IsLock, true},
		{"Ytterdörr lås", nil, facade.IsLock, true},
		{"Front door", map[string]any{facade.CapLocked: true}, facade.IsLock, true},
		{"Front door", nil, facade.IsLock, false},
		{"Main water meter", nil, facade.IsWaterMeter, true},
		{"Power meter", nil, facade.IsWaterMeter, false},
		{"Basement leak sensor", nil, facade.IsLeakDetector, true},
		{"Kitchen water sensor", nil, facade.IsLeakDetector, true},
		{"Kitchen water valve", nil, facade.IsLeakDetector, false},
		{"Garden sprinkler", nil, facade.IsIrrigation, true},
		{"Drip irrigation west", nil, facade.IsIrrigation, true},
		{"Kitchen water valve", nil, facade.IsIrrigation, true},
		{"Garden hose", nil, facade.IsIrrigation, false},
		{"Outdoor siren", nil, facade.IsSiren, true},
		{"Alarm horn", nil, facade.IsSiren, true},
		{"Doorbell", nil, facade.IsSiren, false},
		{"Remote", map[string]any{facade.CapMeasureBattery: 80.0}, facade.HasBattery, true},
	}
	for _, tc := range cases {
		if got := tc.pred(addDevice(tc.name, tc.caps)); got != tc.want {
			t.Errorf("classify %q (caps %v) = %v, want %v", tc.name, tc.caps, got, tc.want)
		}
	}
}

func TestCapReaderFallsBackToLastKnownValue(t *testing.T) {
	ctx := context.Background()
	dev := addDevice("Hallway sensor", map[string]any{facade.CapMeasureTemp: 21.5})
	r := facade.NewCapReader(time.Second, time.Minute)

	got, err := r.Float(ctx, dev, facade.CapMeasureTemp)
	if err != nil || got != 21.5 {
		t.Fatalf("first read = %v, %v", got, err)
	}

	// Successful reads always hit the device, never the cache.
	dev.SetCap(facade.CapMeasureTemp, 22.0)
	got, err = r.Float(ctx, dev, facade.CapMeasureTemp)
	if err != nil || got != 22.0 {
		t.Fatalf("second read = %v, %v", got, err)
	}

	// A failing device degrades to the last known value.
	dev.FailCaps = map[string]bool{facade.CapMeasureTemp: true}
	got, err = r.Float(ctx, dev, facade.CapMeasureTemp)
	if err != nil || got != 22.0 {
		t.Fatalf("fallback read = %v, %v", got, err)
	}
}

func TestCapReaderErrorsWithoutCache(t *testing.T) {
	ctx := context.Background()
	dev := addDevice("Hallway sensor", map[string]any{facade.CapMeasureTemp: 21.5})
	dev.FailCaps = map[string]bool{facade.CapMeasureTemp: true}
	r := facade.NewCapReader(time.Second, time.Minute)

	if _, err := r.Read(ctx, dev, facade.CapMeasureTemp); !errors.Is(err, fault.ErrDeviceUnavailable) {
		t.Fatalf("uncached failed read: %v", err)
	}
}

func TestCapReaderTypedConversions(t *testing.T) {
	ctx := context.Background()
	dev := addDevice("Mixed", map[string]any{
		"b":   true,
		"f64": 1.5,
		"f32": float32(2.5),
		"i":   3,
		"i64": int64(4),
		"s":   "nope",
	})
	r := facade.NewCapReader(time.Second, time.Minute)

	if v, err := r.Bool(ctx, dev, "b"); err != nil || !v {
		t.Fatalf("Bool = %v, %v", v, err)
	}
	if _, err := r.Bool(ctx, dev, "f64"); err == nil {
		t.Fatal("Bool accepted a float")
	}
	for name, want := range map[string]float64{"f64": 1.5, "f32": 2.5, "i": 3, "i64": 4} {
		v, err := r.Float(ctx, dev, name)
		if err != nil || v != want {
			t.Fatalf("Float(%s) = %v, %v; want %v", name, v, err, want)
		}
	}
	if _, err := r.Float(ctx, dev, "s"); err == nil {
		t.Fatal("Float accepted a string")
	}
}

func TestCapReaderWritePrimesCache(t *testing.T) {
	ctx := context.Background()
	dev := addDevice("Valve", map[string]any{facade.CapOnOff: false})
	r := facade.NewCapReader(time.Second, time.Minute)

	if err := r.Write(ctx, dev, facade.CapOnOff, true); err != nil {
		t.Fatal(err)
	}
	writes := dev.Writes()
	if len(writes) != 1 || writes[0].Value != true {
		t.Fatalf("writes = %+v", writes)
	}

	// The written value survives a device outage.
	dev.FailCaps = map[string]bool{facade.CapOnOff: true}
	v, err := r.Bool(ctx, dev, facade.CapOnOff)
	if err != nil || !v {
		t.Fatalf("read after write = %v, %v", v, err)
	}

	if err := r.Write(ctx, dev, facade.CapOnOff, false); !errors.Is(err, fault.ErrDeviceUnavailable) {
		t.Fatalf("failed write: %v", err)
	}
}

func TestSettingsJSONRoundtrip(t *testing.T) {
	host := testutil.NewFakeHost()

	type prefs struct {
		Mode  string `json:"mode"`
		Limit int    `json:"limit"`
	}
	if err := facade.SaveJSON(host, "prefs", prefs{Mode: "away", Limit: 3}); err != nil {
		t.Fatal(err)
	}
	var got prefs
	found, err := facade.LoadJSON(host, "prefs", &got)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if got.Mode != "away" || got.Limit != 3 {
		t.Fatalf("roundtrip = %+v", got)
	}

	found, err = facade.LoadJSON(host, "missing", &got)
	if err != nil || found {
		t.Fatalf("missing key: found=%v err=%v", found, err)
	}

	host.SettingsErr = errors.New("store offline")
	if _, err := facade.LoadJSON(host, "prefs", &got); err == nil {
		t.Fatal("settings error swallowed on load")
	}
	if err := facade.SaveJSON(host, "prefs", got); err == nil {
		t.Fatal("settings error swallowed on save")
	}
}
