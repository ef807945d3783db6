// Package water implements the water management subsystem: leak edge
// detection with a night-flow hidden-leak rule, meter consumption tracking,
// irrigation scheduling with timed auto-stop, and the daily water report.
package water

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/clock"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
	"github.com/halcyon-home/halcyon/internal/store"
	"github.com/halcyon-home/halcyon/internal/subsys"
)

// Cadences.
const (
	consumptionCadence = 300 * time.Second
	leakCadence        = 60 * time.Second
	irrigationCadence  = 600 * time.Second

	dailyReportCron = "0 8 * * *"
)

// Hidden-leak rule: sustained night flow above this rate.
const (
	hiddenLeakRateLPM = 2.0
	nightStartHour    = 0
	nightEndHour      = 5
)

// Meter is one water meter.
type Meter struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	FlowRateLPM float64 `json:"flowRateLpm"`
	TotalLiters float64 `json:"totalLiters"`
	DailyLiters float64 `json:"dailyLiters"`

	dev facade.DeviceRef
}

// Weather is the irrigation weather gate input.
type Weather struct {
	RecentRain   bool    `json:"recentRain"`
	ExpectedRain bool    `json:"expectedRain"`
	SoilMoisture float64 `json:"soilMoisture"` // percent; <0 means unknown
}

// Water is the subsystem instance.
type Water struct {
	*subsys.Base

	mu         sync.Mutex
	weather    Weather
	savingMode bool
	prevAlarm  map[string]bool

	meters    *store.Table[string, *Meter]
	detectors []facade.DeviceRef
	valves    []facade.DeviceRef // irrigation actuators

	zones *store.Table[string, *IrrigationZone]
}

// New constructs the subsystem.
func New(rt *subsys.Runtime) *Water {
	return &Water{
		Base:      subsys.NewBase("water", rt),
		weather:   Weather{SoilMoisture: -1},
		prevAlarm: make(map[string]bool),
		meters:    store.NewTable[string, *Meter](),
		zones:     store.NewTable[string, *IrrigationZone](),
	}
}

// Init loads persisted state, classifies water devices, and registers the
// water tasks.
func (w *Water) Init(ctx context.Context) error {
	if err := w.BeginInit(); err != nil {
		return err
	}
	rt := w.Runtime()

	if _, err := facade.LoadJSON(rt.Host, "waterSavingMode", &w.savingMode); err != nil {
		log.Printf("[water] load saving mode: %v", err)
	}
	w.loadZones()
	w.classifyDevices(ctx)

	w.RegisterTask("consumption", consumptionCadence, w.consumptionTick)
	w.RegisterTask("leakDetection", leakCadence, w.leakTick)
	w.RegisterTask("irrigation", irrigationCadence, w.irrigationTick)
	w.RegisterCronTask("dailyReport", dailyReportCron, w.dailyReportTick)

	w.Subscribe(bus.TagLeakDetected, func(ev bus.Event) {
		leak := ev.(bus.LeakDetected)
		w.onLeakDetected(leak)
	})

	w.FinishInit()
	return nil
}

func (w *Water) classifyDevices(ctx context.Context) {
	devices, err := w.Runtime().Host.ListDevices(ctx)
	if err != nil {
		log.Printf("[water] device discovery: %v", err)
		return
	}
	for _, dev := range devices {
		if facade.IsWaterMeter(dev) {
			w.meters.Put(dev.ID(), &Meter{ID: dev.ID(), Name: dev.Name(), dev: dev})
		}
		if facade.IsLeakDetector(dev) {
			w.detectors = append(w.detectors, dev)
		}
		if facade.IsIrrigation(dev) {
			w.valves = append(w.valves, dev)
		}
	}
	log.Printf("[water] classified devices: %d meters, %d leak detectors, %d irrigation",
		w.meters.Len(), len(w.detectors), len(w.valves))
}

func (w *Water) nowMs() int64 {
	return clock.UnixMillis(w.Runtime().Clock)
}

// SetWeather feeds the irrigation weather gate.
func (w *Water) SetWeather(weather Weather) {
	w.mu.Lock()
	w.weather = weather
	w.mu.Unlock()
}

// SetSavingMode toggles water-saving mode, which suspends irrigation.
func (w *Water) SetSavingMode(on bool) {
	w.mu.Lock()
	w.savingMode = on
	w.mu.Unlock()
	if err := facade.SaveJSON(w.Runtime().Host, "waterSavingMode", on); err != nil {
		log.Printf("[water] persist saving mode: %v", err)
	}
}

// consumptionTick is the 300 s meter sweep: read flow rate and cumulative
// volume, accumulating daily consumption.
func (w *Water) consumptionTick() error {
	ctx, cancel := context.WithTimeout(context.Background(), w.Runtime().Env.DeviceIOTimeout)
	defer cancel()

	for _, m := range w.meters.Values() {
		if m.dev == nil {
			continue
		}
		if rate, err := w.Runtime().Caps.Float(ctx, m.dev, facade.CapMeasureWater); err == nil {
			w.mu.Lock()
			m.FlowRateLPM = rate
			w.mu.Unlock()
		} else {
			log.Printf("[water] flow read %s: %v", m.ID, err)
		}
		if total, err := w.Runtime().Caps.Float(ctx, m.dev, facade.CapMeterWater); err == nil {
			w.mu.Lock()
			if m.TotalLiters > 0 && total > m.TotalLiters {
				m.DailyLiters += total - m.TotalLiters
			}
			m.TotalLiters = total
			w.mu.Unlock()
		} else {
			log.Printf("[water] meter read %s: %v", m.ID, err)
		}
	}
	return nil
}

// leakTick is the 60 s leak sweep: alarm edges on every detector, plus the
// hidden-leak night-flow rule over the meters.
func (w *Water) leakTick() error {
	ctx, cancel := context.WithTimeout(context.Background(), w.Runtime().Env.DeviceIOTimeout)
	defer cancel()
	rt := w.Runtime()

	for _, dev := range w.detectors {
		value, err := rt.Caps.Bool(ctx, dev, facade.CapAlarmWater)
		if err != nil {
			log.Printf("[water] alarm read %s: %v", dev.ID(), err)
			continue
		}
		w.mu.Lock()
		prev, seen := w.prevAlarm[dev.ID()]
		w.prevAlarm[dev.ID()] = value
		w.mu.Unlock()
		if !seen {
			continue
		}
		switch {
		case !prev && value:
			rt.Bus.Publish(bus.LeakDetected{DeviceID: dev.ID(), DeviceName: dev.Name(), AtMs: w.nowMs()})
			rt.Host.Notify(facade.Notification{
				Title:    "Water leak detected",
				Message:  dev.Name() + " reports water",
				Priority: facade.PriorityCritical,
				Category: "water",
			})
			log.Printf("[water] leak detected on %s", dev.ID())
		case prev && !value:
			rt.Bus.Publish(bus.LeakResolved{DeviceID: dev.ID(), AtMs: w.nowMs()})
			log.Printf("[water] leak resolved on %s", dev.ID())
		}
	}

	w.checkHiddenLeak()
	return nil
}

// checkHiddenLeak flags sustained flow during the night window when no tap
// should be running.
func (w *Water) checkHiddenLeak() {
	hour := w.Runtime().Clock.Now().Hour()
	if hour < nightStartHour || hour >= nightEndHour {
		return
	}
	total := 0.0
	for _, m := range w.meters.Values() {
		w.mu.Lock()
		total += m.FlowRateLPM
		w.mu.Unlock()
	}
	if total <= hiddenLeakRateLPM {
		return
	}
	w.Runtime().Bus.Publish(bus.LeakDetected{Hidden: true, AtMs: w.nowMs()})
	w.Runtime().Host.Notify(facade.Notification{
		Title:    "Possible hidden leak",
		Message:  fmt.Sprintf("Night water flow of %.1f L/min with no expected usage", total),
		Priority: facade.PriorityNormal,
		Category: "water",
	})
	log.Printf("[water] hidden leak suspected: %.1f L/min at night", total)
}

// onLeakDetected is the shutoff path: stop any running irrigation, cancel
// the pending auto-stops, and drive every classified valve closed.
func (w *Water) onLeakDetected(leak bus.LeakDetected) {
	stopped := false
	for _, z := range w.zones.Values() {
		w.mu.Lock()
		running := z.Running
		z.Running = false
		w.mu.Unlock()
		if running {
			w.CancelTimedGroup("irr:" + z.ID)
			stopped = true
		}
	}
	if stopped {
		w.persistZones()
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.Runtime().Env.DeviceIOTimeout)
	defer cancel()
	for _, dev := range w.valves {
		if err := w.Runtime().Caps.Write(ctx, dev, facade.CapOnOff, false); err != nil {
			log.Printf("[water] valve %s shutoff: %v", dev.ID(), err)
		}
	}
	log.Printf("[water] water shut off after leak (device %q, hidden %v)", leak.DeviceID, leak.Hidden)
}

// dailyReportTick summarizes per-meter daily consumption and resets the
// daily counters.
func (w *Water) dailyReportTick() error {
	report := ""
	for _, m := range w.meters.Values() {
		w.mu.Lock()
		report += fmt.Sprintf("%s: %.0f L\n", m.Name, m.DailyLiters)
		m.DailyLiters = 0
		w.mu.Unlock()
	}
	if report == "" {
		return nil
	}
	w.Runtime().Host.Notify(facade.Notification{
		Title:    "Daily water report",
		Message:  report,
		Priority: facade.PriorityLow,
		Category: "water",
	})
	return nil
}

// MeterState returns a copy of one meter.
func (w *Water) MeterState(id string) (Meter, error) {
	m, ok := w.meters.Get(id)
	if !ok {
		return Meter{}, fault.NotFound("water meter", id)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return *m, nil
}

// Destroy tears the subsystem down; safe to call more than once.
func (w *Water) Destroy() {
	w.Base.Destroy(func() {
		w.persistZones()
	})
}
