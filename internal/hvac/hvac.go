// Package hvac implements the climate subsystem: zone targets from weekly
// schedules with setback, boost, vacation, and demand-response adjustments,
// occupancy learning, zone-to-zone thermal transfer, heat-source switching,
// and TRV valve policy.
package hvac

import (
	"context"
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

// Zone modes.
const (
	ModeHeat = "heat"
	ModeCool = "cool"
	ModeAuto = "auto"
	ModeOff  = "off"
	ModeEco  = "eco"
)

// Cadences.
const (
	zoneCadence        = 30 * time.Second
	occupancyCadence   = 60 * time.Second
	climateCadence     = 120 * time.Second
	weatherCadence     = 300 * time.Second
	energyCadence      = 180 * time.Second
	costCadence        = 600 * time.Second
	maintenanceCadence = 3600 * time.Second
	comfortCadence     = 120 * time.Second
	ventilationCadence = 60 * time.Second
	trvCadence         = 60 * time.Second
	underfloorCadence  = 120 * time.Second
	historyCadence     = 3600 * time.Second
	seasonCadence      = 86400 * time.Second
	dependencyCadence  = 120 * time.Second
)

// Target bounds and adjustments.
const (
	targetFloorC        = 5.0
	targetCeilingC      = 30.0
	defaultFrostC       = 8.0
	boostBonusC         = 2.0
	deviationThresholdC = 2.0
)

// Occupancy holds a zone's presence picture.
type Occupancy struct {
	Detected   bool  `json:"detected"`
	Count      int   `json:"count"`
	LastSeenMs int64 `json:"lastSeenMs"`
}

// Boost is a temporary comfort bump that expires at a scheduled instant.
type Boost struct {
	Active  bool  `json:"active"`
	UntilMs int64 `json:"untilMs"`
}

// Zone is one climate zone.
type Zone struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	AreaM2        float64   `json:"areaM2"`
	CeilingM      float64   `json:"ceilingM"`
	CurrentTemp   float64   `json:"currentTemp"`
	TargetTemp    float64   `json:"targetTemp"`
	Humidity      float64   `json:"humidity"`
	CO2           float64   `json:"co2"`
	Mode          string    `json:"mode"`
	FanSpeed      int       `json:"fanSpeed"`
	Occupancy     Occupancy `json:"occupancy"`
	WindowOpen    bool      `json:"windowOpen"`
	DoorOpen      bool      `json:"doorOpen"`
	SetbackActive bool      `json:"setbackActive"`
	SetbackTemp   float64   `json:"setbackTemp"`
	Boost         Boost     `json:"boost"`
	Insulation    string    `json:"insulation"`
	SunExposure   string    `json:"sunExposure"`
	ComfortScore  float64   `json:"comfortScore"`

	Schedule []SchedulePeriod `json:"schedule,omitempty"`

	// learned occupancy probability per hour-of-week bucket
	Learned [168]float64 `json:"learned"`
}

// DemandResponse reduces setpoints during peak grid hours.
type DemandResponse struct {
	Active           bool    `json:"active"`
	ReductionPercent float64 `json:"reductionPercent"`
}

// Vacation overrides every zone to frost protection.
type Vacation struct {
	Active     bool    `json:"active"`
	FrostTempC float64 `json:"frostTempC"`
}

// HeatSource state for switching between the heat pump and district heating.
type HeatSource struct {
	HeatPumpCOP          float64 `json:"heatPumpCop"`
	HeatPumpRunning      bool    `json:"heatPumpRunning"`
	DistrictPriceKWh     float64 `json:"districtPriceKwh"`
	DistrictRunning      bool    `json:"districtRunning"`
	ElectricityPriceKWh  float64 `json:"electricityPriceKwh"`
	LastSwitchMs         int64   `json:"lastSwitchMs"`
	SwitchesToday        int     `json:"switchesToday"`
	EffectiveHeatCostKWh float64 `json:"effectiveHeatCostKwh"`
}

// Dependency couples two zones for thermal transfer.
type Dependency struct {
	From string  `json:"from"`
	To   string  `json:"to"`
	Kind string  `json:"kind"` // "open_plan", "door", "stairwell"
	Rate float64 `json:"rate"`
}

// HVAC is the subsystem instance.
type HVAC struct {
	*subsys.Base

	mu           sync.Mutex
	vacation     Vacation
	dr           DemandResponse
	heat         HeatSource
	dependencies []Dependency
	outdoor      Outdoor
	underfloor   Underfloor
	maint        Maintenance
	cost         HeatingCost
	season       string

	zones   *store.Table[string, *Zone]
	valves  *store.Table[string, *TRV]
	history *store.BoundedLog[HistorySample]

	outdoorDev facade.DeviceRef
}

// New constructs the subsystem.
func New(rt *subsys.Runtime) *HVAC {
	return &HVAC{
		Base:       subsys.NewBase("hvac", rt),
		zones:      store.NewTable[string, *Zone](),
		valves:     store.NewTable[string, *TRV](),
		history:    store.NewBoundedLog[HistorySample](historyCapacity),
		heat:       HeatSource{HeatPumpCOP: 3.5, HeatPumpRunning: true},
		underfloor: Underfloor{FlowTempC: underfloorMinFlowC},
	}
}

// Init loads persisted zones (seeding from the seed file when empty),
// discovers TRVs, and registers the climate tasks.
func (h *HVAC) Init(ctx context.Context) error {
	if err := h.BeginInit(); err != nil {
		return err
	}
	rt := h.Runtime()

	var snapshot persistedState
	if found, err := facade.LoadJSON(rt.Host, "hvacState", &snapshot); err != nil {
		log.Printf("[hvac] load state: %v", err)
	} else if found {
		for _, z := range snapshot.Zones {
			h.zones.Put(z.ID, z)
		}
		h.vacation = snapshot.Vacation
		h.dr = snapshot.DemandResponse
		h.heat = snapshot.HeatSource
		h.dependencies = snapshot.Dependencies
	} else {
		h.seedZones()
	}

	h.discoverValves(ctx)
	h.discoverOutdoorSensor(ctx)

	h.RegisterTask("zone", zoneCadence, h.zoneTick)
	h.RegisterTask("occupancy", occupancyCadence, h.occupancyTick)
	h.RegisterTask("climate", climateCadence, h.climateTick)
	h.RegisterTask("weather", weatherCadence, h.weatherTick)
	h.RegisterTask("energy", energyCadence, h.energyTick)
	h.RegisterTask("cost", costCadence, h.costTick)
	h.RegisterTask("maintenance", maintenanceCadence, h.maintenanceTick)
	h.RegisterTask("comfort", comfortCadence, h.comfortTick)
	h.RegisterTask("ventilation", ventilationCadence, h.ventilationTick)
	h.RegisterTask("trv", trvCadence, h.trvTick)
	h.RegisterTask("underfloor", underfloorCadence, h.underfloorTick)
	h.RegisterTask("history", historyCadence, h.historyTick)
	h.RegisterTask("season", seasonCadence, h.seasonTick)
	h.RegisterTask("dependency", dependencyCadence, h.dependencyTick)

	h.FinishInit()
	return nil
}

type persistedState struct {
	Zones          []*Zone        `json:"zones"`
	Vacation       Vacation       `json:"vacation"`
	DemandResponse DemandResponse `json:"demandResponse"`
	HeatSource     HeatSource     `json:"heatSource"`
	Dependencies   []Dependency   `json:"dependencies"`
}

func (h *HVAC) seedZones() {
	for _, sz := range h.Runtime().Seed.ClimateZones {
		z := &Zone{
			ID:          sz.ID,
			Name:        sz.Name,
			AreaM2:      sz.AreaM2,
			CeilingM:    sz.CeilingM,
			TargetTemp:  sz.TargetC,
			SetbackTemp: sz.SetbackTempC,
			Mode:        ModeAuto,
			Insulation:  sz.Insulation,
			SunExposure: sz.SunExposure,
			CurrentTemp: sz.TargetC,
		}
		if z.SetbackTemp == 0 {
			z.SetbackTemp = z.TargetTemp - 3
		}
		h.zones.Put(z.ID, z)
	}
	if h.zones.Len() > 0 {
		h.persist()
	}
}

func (h *HVAC) persist() {
	h.mu.Lock()
	snapshot := persistedState{
		Zones:          h.zones.Values(),
		Vacation:       h.vacation,
		DemandResponse: h.dr,
		HeatSource:     h.heat,
		Dependencies:   h.dependencies,
	}
	h.mu.Unlock()
	if err := facade.SaveJSON(h.Runtime().Host, "hvacState", snapshot); err != nil {
		log.Printf("[hvac] persist state: %v", err)
	}
}

func (h *HVAC) nowMs() int64 {
	return clock.UnixMillis(h.Runtime().Clock)
}

// AddZone registers a zone at runtime.
func (h *HVAC) AddZone(z *Zone) error {
	if z.ID == "" {
		return fault.InvalidArgument("zone needs an id")
	}
	if z.Mode == "" {
		z.Mode = ModeAuto
	}
	if !validZoneMode(z.Mode) {
		return fault.InvalidArgument("zone mode %q", z.Mode)
	}
	h.zones.Put(z.ID, z)
	h.persist()
	return nil
}

func validZoneMode(m string) bool {
	switch m {
	case ModeHeat, ModeCool, ModeAuto, ModeOff, ModeEco:
		return true
	}
	return false
}

// SetZoneMode changes a zone's operating mode.
func (h *HVAC) SetZoneMode(zoneID, mode string) error {
	if !validZoneMode(mode) {
		return fault.InvalidArgument("zone mode %q", mode)
	}
	z, ok := h.zones.Get(zoneID)
	if !ok {
		return fault.NotFound("zone", zoneID)
	}
	h.mu.Lock()
	z.Mode = mode
	h.mu.Unlock()
	h.persist()
	return nil
}

// SetZoneTarget changes a zone's base target temperature.
func (h *HVAC) SetZoneTarget(zoneID string, target float64) error {
	if target < targetFloorC || target > targetCeilingC {
		return fault.InvalidArgument("target %.1f outside [%.0f, %.0f]", target, targetFloorC, targetCeilingC)
	}
	z, ok := h.zones.Get(zoneID)
	if !ok {
		return fault.NotFound("zone", zoneID)
	}
	h.mu.Lock()
	z.TargetTemp = target
	h.mu.Unlock()
	h.persist()
	return nil
}

// ReportTemperature feeds a zone's measured temperature.
func (h *HVAC) ReportTemperature(zoneID string, tempC float64) error {
	z, ok := h.zones.Get(zoneID)
	if !ok {
		return fault.NotFound("zone", zoneID)
	}
	h.mu.Lock()
	z.CurrentTemp = tempC
	h.mu.Unlock()
	return nil
}

// ReportOccupancy feeds a zone's presence detection.
func (h *HVAC) ReportOccupancy(zoneID string, detected bool, count int) error {
	z, ok := h.zones.Get(zoneID)
	if !ok {
		return fault.NotFound("zone", zoneID)
	}
	h.mu.Lock()
	z.Occupancy.Detected = detected
	z.Occupancy.Count = count
	if detected {
		z.Occupancy.LastSeenMs = h.nowMs()
	}
	h.mu.Unlock()
	return nil
}

// SetVacationMode toggles vacation frost protection across every zone.
// frostTempC of 0 keeps the 8 degree default.
func (h *HVAC) SetVacationMode(active bool, frostTempC float64) {
	if frostTempC == 0 {
		frostTempC = defaultFrostC
	}
	h.mu.Lock()
	h.vacation = Vacation{Active: active, FrostTempC: frostTempC}
	h.mu.Unlock()
	h.persist()
	log.Printf("[hvac] vacation mode %v (frost %.1f)", active, frostTempC)
}

// AddDependency couples two zones for thermal transfer.
func (h *HVAC) AddDependency(dep Dependency) error {
	if _, ok := h.zones.Get(dep.From); !ok {
		return fault.NotFound("zone", dep.From)
	}
	if _, ok := h.zones.Get(dep.To); !ok {
		return fault.NotFound("zone", dep.To)
	}
	if dep.Rate <= 0 {
		return fault.InvalidArgument("dependency rate must be positive")
	}
	switch dep.Kind {
	case "open_plan", "door", "stairwell":
	default:
		return fault.InvalidArgument("dependency kind %q", dep.Kind)
	}
	h.mu.Lock()
	h.dependencies = append(h.dependencies, dep)
	h.mu.Unlock()
	h.persist()
	return nil
}

// ZoneState returns a copy of one zone.
func (h *HVAC) ZoneState(zoneID string) (Zone, error) {
	z, ok := h.zones.Get(zoneID)
	if !ok {
		return Zone{}, fault.NotFound("zone", zoneID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return *z, nil
}

// climateTick checks every zone for large deviation from its effective
// target and publishes diagnostics.
func (h *HVAC) climateTick() error {
	now := h.Runtime().Clock.Now()
	for _, z := range h.zones.Values() {
		h.mu.Lock()
		target := h.effectiveTargetLocked(z, now)
		current := z.CurrentTemp
		off := z.Mode == ModeOff
		h.mu.Unlock()
		if off {
			continue
		}
		if diff := current - target; diff > deviationThresholdC || diff < -deviationThresholdC {
			h.Runtime().Bus.Publish(bus.ZoneDeviation{
				ZoneID:  z.ID,
				Current: current,
				Target:  target,
				AtMs:    h.nowMs(),
			})
		}
	}
	return nil
}

// Destroy tears the subsystem down; safe to call more than once.
func (h *HVAC) Destroy() {
	h.Base.Destroy(func() {
		h.persist()
	})
}
