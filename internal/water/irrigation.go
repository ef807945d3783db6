package water

import (
	"context"
	"log"
	"time"

	"github.com/halcyon-home/halcyon/internal/config"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
)

// Irrigation gates.
const (
	startWindow     = 10 * time.Minute
	maxSoilMoisture = 60.0
)

// IrrigationZone is one scheduled watering zone. StartTime is zero-padded
// "HH:MM".
type IrrigationZone struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Days        []int  `json:"days"` // 0=Sunday .. 6=Saturday
	StartTime   string `json:"startTime"`
	DurationMin int    `json:"durationMin"`
	Enabled     bool   `json:"enabled"`
	Running     bool   `json:"running"`
	LastRunMs   int64  `json:"lastRunMs"`
	DeviceID    string `json:"deviceId,omitempty"`
}

func (w *Water) loadZones() {
	rt := w.Runtime()
	var persisted map[string]*IrrigationZone
	if found, err := facade.LoadJSON(rt.Host, "irrigationZones", &persisted); err != nil {
		log.Printf("[water] load irrigation zones: %v", err)
	} else if found {
		for id, z := range persisted {
			z.Running = false // stale across restarts
			w.zones.Put(id, z)
		}
		return
	}
	for _, sz := range rt.Seed.Irrigation {
		start, err := config.NormalizeHHMM(sz.StartTime)
		if err != nil {
			log.Printf("[water] seed zone %s: %v", sz.ID, err)
			continue
		}
		w.zones.Put(sz.ID, &IrrigationZone{
			ID:          sz.ID,
			Name:        sz.Name,
			Days:        sz.Days,
			StartTime:   start,
			DurationMin: sz.DurationMin,
			Enabled:     true,
		})
	}
	if w.zones.Len() > 0 {
		w.persistZones()
	}
}

func (w *Water) persistZones() {
	snapshot := make(map[string]*IrrigationZone)
	w.zones.Range(func(id string, z *IrrigationZone) bool {
		snapshot[id] = z
		return true
	})
	if err := facade.SaveJSON(w.Runtime().Host, "irrigationZones", snapshot); err != nil {
		log.Printf("[water] persist irrigation zones: %v", err)
	}
}

// AddIrrigationZone validates and stores a zone.
func (w *Water) AddIrrigationZone(z IrrigationZone) error {
	if z.ID == "" {
		return fault.InvalidArgument("irrigation zone needs an id")
	}
	if z.DurationMin <= 0 {
		return fault.InvalidArgument("irrigation duration must be positive")
	}
	if len(z.Days) == 0 {
		return fault.InvalidArgument("irrigation zone needs at least one day")
	}
	var err error
	if z.StartTime, err = config.NormalizeHHMM(z.StartTime); err != nil {
		return err
	}
	z.Enabled = true
	w.zones.Put(z.ID, &z)
	w.persistZones()
	return nil
}

// ZoneState returns a copy of one irrigation zone.
func (w *Water) ZoneState(id string) (IrrigationZone, error) {
	z, ok := w.zones.Get(id)
	if !ok {
		return IrrigationZone{}, fault.NotFound("irrigation zone", id)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return *z, nil
}

// irrigationTick is the 600 s schedule pass: start every due zone whose
// weather gate holds. Each start schedules its own auto-stop.
func (w *Water) irrigationTick() error {
	w.mu.Lock()
	saving := w.savingMode
	w.mu.Unlock()
	if saving {
		return nil
	}

	now := w.Runtime().Clock.Now()
	day := int(now.Weekday())

	for _, z := range w.zones.Values() {
		w.mu.Lock()
		due := z.Enabled && !z.Running && w.dueLocked(z, now, day)
		w.mu.Unlock()
		if !due {
			continue
		}
		if !w.weatherOK() {
			log.Printf("[water] irrigation %s skipped: weather gate", z.ID)
			continue
		}
		w.startIrrigation(z)
	}
	return nil
}

// dueLocked reports whether the zone's start time falls within the window
// around now. Caller holds w.mu.
func (w *Water) dueLocked(z *IrrigationZone, now time.Time, day int) bool {
	dayOK := false
	for _, d := range z.Days {
		if d == day {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}
	sched, err := time.Parse("15:04", z.StartTime)
	if err != nil {
		return false
	}
	schedToday := time.Date(now.Year(), now.Month(), now.Day(), sched.Hour(), sched.Minute(), 0, 0, now.Location())
	diff := now.Sub(schedToday)
	if diff < 0 {
		diff = -diff
	}
	return diff <= startWindow
}

// weatherOK holds when there was no recent rain, none is expected, and the
// soil is not already wet (unknown moisture passes).
func (w *Water) weatherOK() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.weather.RecentRain || w.weather.ExpectedRain {
		return false
	}
	if w.weather.SoilMoisture >= 0 && w.weather.SoilMoisture > maxSoilMoisture {
		return false
	}
	return true
}

func (w *Water) startIrrigation(z *IrrigationZone) {
	w.mu.Lock()
	z.Running = true
	z.LastRunMs = w.nowMs()
	duration := time.Duration(z.DurationMin) * time.Minute
	w.mu.Unlock()

	w.setValve(z, true)
	w.ScheduleAfter(duration, "irr:"+z.ID, func() {
		w.stopIrrigation(z)
	})
	w.persistZones()
	log.Printf("[water] irrigation %s started for %d min", z.ID, z.DurationMin)
}

func (w *Water) stopIrrigation(z *IrrigationZone) {
	w.mu.Lock()
	z.Running = false
	w.mu.Unlock()
	w.setValve(z, false)
	w.persistZones()
	log.Printf("[water] irrigation %s stopped", z.ID)
}

// StopIrrigation stops a running zone early and cancels its auto-stop.
func (w *Water) StopIrrigation(id string) error {
	z, ok := w.zones.Get(id)
	if !ok {
		return fault.NotFound("irrigation zone", id)
	}
	w.mu.Lock()
	running := z.Running
	w.mu.Unlock()
	if !running {
		return nil
	}
	w.CancelTimedGroup("irr:" + z.ID)
	w.stopIrrigation(z)
	return nil
}

// setValve drives the zone's actuator, falling back to the first classified
// irrigation device when the zone names none.
func (w *Water) setValve(z *IrrigationZone, on bool) {
	var dev facade.DeviceRef
	for _, v := range w.valves {
		if v.ID() == z.DeviceID {
			dev = v
			break
		}
	}
	if dev == nil && z.DeviceID == "" && len(w.valves) > 0 {
		dev = w.valves[0]
	}
	if dev == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.Runtime().Env.DeviceIOTimeout)
	defer cancel()
	if err := w.Runtime().Caps.Write(ctx, dev, facade.CapOnOff, on); err != nil {
		log.Printf("[water] valve %s: %v", dev.ID(), err)
	}
}
