package hvac

import (
	"log"

	"github.com/halcyon-home/halcyon/internal/facade"
)

// Cost and maintenance constants.
const (
	heatDemandKWPerDegree = 0.5
	filterServiceHours    = 2160.0
	historyCapacity       = 1000
)

// HeatingCost is the running estimate of today's heating spend.
type HeatingCost struct {
	TodayEstimate float64 `json:"todayEstimate"`
	DemandKW      float64 `json:"demandKw"`
}

// Maintenance tracks heat pump runtime and the ventilation filter interval.
type Maintenance struct {
	HeatPumpHours float64 `json:"heatPumpHours"`
	FilterHours   float64 `json:"filterHours"`
	ServiceDue    bool    `json:"serviceDue"`
}

// HistorySample is one hourly zone record.
type HistorySample struct {
	ZoneID  string  `json:"zoneId"`
	TempC   float64 `json:"tempC"`
	TargetC float64 `json:"targetC"`
	AtMs    int64   `json:"atMs"`
}

// costTick is the 600 s accounting pass: estimate the current heat demand
// from zone deficits and accumulate today's spend at the active source's
// effective cost.
func (h *HVAC) costTick() error {
	now := h.Runtime().Clock.Now()

	demandKW := 0.0
	for _, z := range h.zones.Values() {
		h.mu.Lock()
		if z.Mode != ModeOff {
			if deficit := h.effectiveTargetLocked(z, now) - z.CurrentTemp; deficit > 0 {
				demandKW += deficit * heatDemandKWPerDegree
			}
		}
		h.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	hs := &h.heat
	switch {
	case hs.HeatPumpRunning && hs.HeatPumpCOP > 0:
		hs.EffectiveHeatCostKWh = hs.ElectricityPriceKWh / hs.HeatPumpCOP
	case hs.DistrictRunning:
		hs.EffectiveHeatCostKWh = hs.DistrictPriceKWh
	}
	h.cost.DemandKW = demandKW
	h.cost.TodayEstimate += hs.EffectiveHeatCostKWh * demandKW * costCadence.Hours()
	return nil
}

// HeatingCostState returns a copy of the cost estimate.
func (h *HVAC) HeatingCostState() HeatingCost {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cost
}

// maintenanceTick is the hourly wear pass: accrue heat pump runtime and
// filter hours, and raise the service notification once when the filter
// interval is spent.
func (h *HVAC) maintenanceTick() error {
	h.mu.Lock()
	if h.heat.HeatPumpRunning {
		h.maint.HeatPumpHours += maintenanceCadence.Hours()
	}
	h.maint.FilterHours += maintenanceCadence.Hours()
	due := h.maint.FilterHours >= filterServiceHours && !h.maint.ServiceDue
	if due {
		h.maint.ServiceDue = true
	}
	h.mu.Unlock()

	if due {
		h.Runtime().Host.Notify(facade.Notification{
			Title:    "Ventilation filter service due",
			Message:  "The ventilation filter has reached its service interval",
			Priority: facade.PriorityNormal,
			Category: "hvac",
		})
		log.Printf("[hvac] filter service due after %.0f hours", filterServiceHours)
	}
	return nil
}

// ResetFilterService clears the filter interval after a service.
func (h *HVAC) ResetFilterService() {
	h.mu.Lock()
	h.maint.FilterHours = 0
	h.maint.ServiceDue = false
	h.mu.Unlock()
}

// MaintenanceState returns a copy of the wear counters.
func (h *HVAC) MaintenanceState() Maintenance {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maint
}

// historyTick is the hourly sampling pass: record every active zone's
// temperature against its effective target.
func (h *HVAC) historyTick() error {
	now := h.Runtime().Clock.Now()
	for _, z := range h.zones.Values() {
		h.mu.Lock()
		if z.Mode == ModeOff {
			h.mu.Unlock()
			continue
		}
		sample := HistorySample{
			ZoneID:  z.ID,
			TempC:   z.CurrentTemp,
			TargetC: h.effectiveTargetLocked(z, now),
			AtMs:    now.UnixMilli(),
		}
		h.mu.Unlock()
		h.history.Append(sample)
	}
	return nil
}

// ZoneHistory returns up to limit of the newest samples for one zone,
// newest first.
func (h *HVAC) ZoneHistory(zoneID string, limit int) []HistorySample {
	return h.history.Query(func(s HistorySample) bool { return s.ZoneID == zoneID }, limit)
}
