// Package solar implements the solar energy subsystem: per-panel production
// modelling, battery pack dispatch, energy flow allocation between home,
// battery, and grid, and peak shaving.
package solar

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
	"github.com/halcyon-home/halcyon/internal/store"
	"github.com/halcyon-home/halcyon/internal/subsys"
)

// Cadences.
const (
	productionCadence  = 60 * time.Second
	batteryCadence     = 120 * time.Second
	gridCadence        = 180 * time.Second
	weatherCadence     = 300 * time.Second
	peakShavingCadence = 30 * time.Second
	maintenanceCadence = 3600 * time.Second
	forecastCadence    = 900 * time.Second
	healthCadence      = 600 * time.Second
)

// Dispatch thresholds.
const (
	peakThresholdKW    = 5.0
	dischargePriceFrac = 0.8
)

// Conditions are the environmental inputs to the production model.
type Conditions struct {
	CloudCover   float64 `json:"cloudCover"` // [0,1]
	AmbientTempC float64 `json:"ambientTempC"`
	SpotPriceKWh float64 `json:"spotPriceKwh"`
	MidPriceKWh  float64 `json:"midPriceKwh"`
	HomeLoadKW   float64 `json:"homeLoadKw"`
	GridDemandKW float64 `json:"gridDemandKw"`
}

// Grid tracks the meter-point state.
type Grid struct {
	CurrentFlowDirection string  `json:"currentFlowDirection"` // "export", "import", "neutral"
	ExportedKWh          float64 `json:"exportedKwh"`
	ImportedKWh          float64 `json:"importedKwh"`
	PeaksShavedToday     int     `json:"peaksShavedToday"`
	EnergySavedKWh       float64 `json:"energySavedKwh"`
}

// Solar is the subsystem instance.
type Solar struct {
	*subsys.Base

	mu           sync.Mutex
	conditions   Conditions
	grid         Grid
	productionKW float64
	forecast     []float64

	arrays    *store.Table[string, *PanelArray]
	batteries *store.Table[string, *BatteryPack]
}

// New constructs the subsystem.
func New(rt *subsys.Runtime) *Solar {
	return &Solar{
		Base:      subsys.NewBase("solar", rt),
		arrays:    store.NewTable[string, *PanelArray](),
		batteries: store.NewTable[string, *BatteryPack](),
		grid:      Grid{CurrentFlowDirection: "neutral"},
	}
}

// Init loads the persisted snapshot and registers the energy tasks.
func (s *Solar) Init(ctx context.Context) error {
	if err := s.BeginInit(); err != nil {
		return err
	}
	var snapshot persistedState
	if found, err := facade.LoadJSON(s.Runtime().Host, "solarState", &snapshot); err != nil {
		log.Printf("[solar] load state: %v", err)
	} else if found {
		for _, a := range snapshot.Arrays {
			s.arrays.Put(a.ID, a)
		}
		for _, b := range snapshot.Batteries {
			s.batteries.Put(b.ID, b)
		}
		s.grid = snapshot.Grid
	}

	s.RegisterTask("production", productionCadence, s.productionTick)
	s.RegisterTask("battery", batteryCadence, s.batteryTick)
	s.RegisterTask("grid", gridCadence, s.gridTick)
	s.RegisterTask("weather", weatherCadence, s.weatherTick)
	s.RegisterTask("peakShaving", peakShavingCadence, s.peakShavingTick)
	s.RegisterTask("maintenance", maintenanceCadence, s.maintenanceTick)
	s.RegisterTask("forecast", forecastCadence, s.forecastTick)
	s.RegisterTask("health", healthCadence, s.healthTick)

	s.FinishInit()
	return nil
}

type persistedState struct {
	Arrays    []*PanelArray  `json:"arrays"`
	Batteries []*BatteryPack `json:"batteries"`
	Grid      Grid           `json:"grid"`
}

func (s *Solar) persist() {
	s.mu.Lock()
	snapshot := persistedState{
		Arrays:    s.arrays.Values(),
		Batteries: s.batteries.Values(),
		Grid:      s.grid,
	}
	s.mu.Unlock()
	if err := facade.SaveJSON(s.Runtime().Host, "solarState", snapshot); err != nil {
		log.Printf("[solar] persist state: %v", err)
	}
}

// SetConditions feeds the environmental inputs.
func (s *Solar) SetConditions(c Conditions) {
	s.mu.Lock()
	s.conditions = c
	s.mu.Unlock()
}

// AddArray registers a panel array.
func (s *Solar) AddArray(a *PanelArray) error {
	if a.ID == "" {
		return fault.InvalidArgument("array needs an id")
	}
	if a.CurrentEfficiency <= 0 || a.CurrentEfficiency > 1 {
		return fault.InvalidArgument("array efficiency %.2f outside (0, 1]", a.CurrentEfficiency)
	}
	s.arrays.Put(a.ID, a)
	s.persist()
	return nil
}

// AddBattery registers a battery pack.
func (s *Solar) AddBattery(b *BatteryPack) error {
	if b.ID == "" {
		return fault.InvalidArgument("battery needs an id")
	}
	if b.MinLevel < 0 || b.MaxLevel > 1 || b.MinLevel >= b.MaxLevel {
		return fault.InvalidArgument("battery levels [%.2f, %.2f]", b.MinLevel, b.MaxLevel)
	}
	if b.ChargeLevel < b.MinLevel {
		b.ChargeLevel = b.MinLevel
	}
	if b.ChargeLevel > b.MaxLevel {
		b.ChargeLevel = b.MaxLevel
	}
	if b.HealthPercent == 0 {
		b.HealthPercent = 100
	}
	b.Mode = ModeStandby
	s.batteries.Put(b.ID, b)
	s.persist()
	return nil
}

// ProductionKW returns the last computed total production.
func (s *Solar) ProductionKW() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.productionKW
}

// GridState returns a copy of the grid accounting.
func (s *Solar) GridState() Grid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid
}

// BatteryState returns a copy of one pack.
func (s *Solar) BatteryState(id string) (BatteryPack, error) {
	b, ok := s.batteries.Get(id)
	if !ok {
		return BatteryPack{}, fault.NotFound("battery", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return *b, nil
}

// gridTick is the 180 s persistence and accounting pass.
func (s *Solar) gridTick() error {
	s.persist()
	return nil
}

// Destroy tears the subsystem down; safe to call more than once.
func (s *Solar) Destroy() {
	s.Base.Destroy(func() {
		s.persist()
	})
}
