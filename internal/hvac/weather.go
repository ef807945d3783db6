package hvac

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/halcyon-home/halcyon/internal/facade"
)

// Underfloor flow compensation.
const (
	underfloorMinFlowC       = 25.0
	underfloorMaxFlowC       = 45.0
	underfloorBaseFlowC      = 28.0
	underfloorCompReferenceC = 18.0
	underfloorCompPerDegree  = 0.7
	underfloorApproachFrac   = 0.2
)

// Outdoor is the last known outdoor reading.
type Outdoor struct {
	TempC     float64 `json:"tempC"`
	Known     bool    `json:"known"`
	UpdatedMs int64   `json:"updatedMs"`
}

// Underfloor is the floor-heating circuit state. The flow temperature chases
// a weather-compensated target instead of jumping to it.
type Underfloor struct {
	Active      bool    `json:"active"`
	FlowTempC   float64 `json:"flowTempC"`
	TargetFlowC float64 `json:"targetFlowC"`
}

func isOutdoorSensor(dev facade.DeviceRef) bool {
	if !dev.HasCapability(facade.CapMeasureTemp) || dev.HasCapability(facade.CapTargetTemp) {
		return false
	}
	name := strings.ToLower(dev.Name())
	return strings.Contains(name, "outdoor") || strings.Contains(name, "utetemp")
}

func (h *HVAC) discoverOutdoorSensor(ctx context.Context) {
	devices, err := h.Runtime().Host.ListDevices(ctx)
	if err != nil {
		log.Printf("[hvac] device discovery: %v", err)
		return
	}
	for _, dev := range devices {
		if isOutdoorSensor(dev) {
			h.outdoorDev = dev
			log.Printf("[hvac] outdoor sensor %s", dev.ID())
			return
		}
	}
}

// SetOutdoorTemperature feeds the outdoor reading directly, for hosts
// without a discoverable outdoor sensor.
func (h *HVAC) SetOutdoorTemperature(tempC float64) {
	h.mu.Lock()
	h.outdoor = Outdoor{TempC: tempC, Known: true, UpdatedMs: h.nowMs()}
	h.mu.Unlock()
}

// OutdoorState returns the last known outdoor reading.
func (h *HVAC) OutdoorState() Outdoor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outdoor
}

// weatherTick is the 300 s outdoor pass: refresh the outdoor temperature
// from the discovered sensor.
func (h *HVAC) weatherTick() error {
	if h.outdoorDev == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.Runtime().Env.DeviceIOTimeout)
	defer cancel()
	temp, err := h.Runtime().Caps.Float(ctx, h.outdoorDev, facade.CapMeasureTemp)
	if err != nil {
		log.Printf("[hvac] outdoor read %s: %v", h.outdoorDev.ID(), err)
		return nil
	}
	h.SetOutdoorTemperature(temp)
	return nil
}

// underfloorTick is the 120 s floor-circuit pass: pick a weather-compensated
// flow target while any zone has heating demand and move the flow temperature
// a fraction of the way there.
func (h *HVAC) underfloorTick() error {
	now := h.Runtime().Clock.Now()

	demand := false
	for _, z := range h.zones.Values() {
		h.mu.Lock()
		if z.Mode != ModeOff && h.effectiveTargetLocked(z, now) > z.CurrentTemp {
			demand = true
		}
		h.mu.Unlock()
		if demand {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.underfloor.Active = demand
	target := underfloorMinFlowC
	if demand {
		target = underfloorBaseFlowC
		if h.outdoor.Known {
			target += (underfloorCompReferenceC - h.outdoor.TempC) * underfloorCompPerDegree
		}
		target = clampPct(target, underfloorMinFlowC, underfloorMaxFlowC)
	}
	h.underfloor.TargetFlowC = target
	h.underfloor.FlowTempC += (target - h.underfloor.FlowTempC) * underfloorApproachFrac
	return nil
}

// UnderfloorState returns a copy of the floor-circuit state.
func (h *HVAC) UnderfloorState() Underfloor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.underfloor
}

func seasonForMonth(m time.Month) string {
	switch m {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "autumn"
	}
}

// seasonTick is the daily pass: track the meteorological season and roll the
// per-day counters.
func (h *HVAC) seasonTick() error {
	season := seasonForMonth(h.Runtime().Clock.Now().Month())
	h.mu.Lock()
	changed := season != h.season
	h.season = season
	h.heat.SwitchesToday = 0
	h.cost.TodayEstimate = 0
	h.mu.Unlock()
	if changed {
		log.Printf("[hvac] season is now %s", season)
	}
	return nil
}

// Season returns the current meteorological season; empty before the first
// daily pass.
func (h *HVAC) Season() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.season
}
