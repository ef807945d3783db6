package hvac

import "log"

// Thermal transfer constants.
const (
	transferCoeff      = 0.01
	doorClosedFactor   = 0.1
	stairwellStackFac  = 1.2
	drReductionPercent = 15.0
)

var peakHours = map[int]bool{7: true, 8: true, 9: true, 17: true, 18: true, 19: true, 20: true}

// dependencyTick is the 120 s zone-to-zone thermal transfer pass. Open-plan
// couplings are always active; door couplings run at a tenth of their rate
// when both doors are shut; stairwells carry a stack multiplier when heat
// rises from the lower zone.
func (h *HVAC) dependencyTick() error {
	h.mu.Lock()
	deps := append([]Dependency(nil), h.dependencies...)
	h.mu.Unlock()

	for _, dep := range deps {
		from, okF := h.zones.Get(dep.From)
		to, okT := h.zones.Get(dep.To)
		if !okF || !okT {
			continue
		}
		h.mu.Lock()
		rate := dep.Rate
		switch dep.Kind {
		case "door":
			if !from.DoorOpen && !to.DoorOpen {
				rate *= doorClosedFactor
			}
		case "stairwell":
			if from.CurrentTemp > to.CurrentTemp {
				rate *= stairwellStackFac
			}
		}
		delta := (from.CurrentTemp - to.CurrentTemp) * rate * transferCoeff
		from.CurrentTemp -= delta
		to.CurrentTemp += delta
		h.mu.Unlock()
	}
	return nil
}

// SetEnergyPrices feeds the current electricity and district-heating prices.
func (h *HVAC) SetEnergyPrices(electricityKWh, districtKWh float64) {
	h.mu.Lock()
	h.heat.ElectricityPriceKWh = electricityKWh
	h.heat.DistrictPriceKWh = districtKWh
	h.mu.Unlock()
}

// energyTick is the 180 s heat-source and demand-response pass: switch to
// whichever source heats cheaper, and trim setpoints during peak hours.
func (h *HVAC) energyTick() error {
	now := h.Runtime().Clock.Now()

	h.mu.Lock()
	hs := &h.heat
	if hs.HeatPumpCOP > 0 && hs.ElectricityPriceKWh > 0 && hs.DistrictPriceKWh > 0 {
		hpCost := hs.ElectricityPriceKWh / hs.HeatPumpCOP
		dhCost := hs.DistrictPriceKWh
		switch {
		case hpCost > dhCost && hs.HeatPumpRunning:
			hs.HeatPumpRunning = false
			hs.DistrictRunning = true
			hs.LastSwitchMs = now.UnixMilli()
			hs.SwitchesToday++
			hs.EffectiveHeatCostKWh = dhCost
			log.Printf("[hvac] switched to district heating (%.3f vs %.3f /kWh)", dhCost, hpCost)
		case hpCost <= dhCost && !hs.HeatPumpRunning:
			hs.HeatPumpRunning = true
			hs.DistrictRunning = false
			hs.LastSwitchMs = now.UnixMilli()
			hs.SwitchesToday++
			hs.EffectiveHeatCostKWh = hpCost
			log.Printf("[hvac] switched to heat pump (%.3f vs %.3f /kWh)", hpCost, dhCost)
		}
	}

	if peakHours[now.Hour()] {
		h.dr = DemandResponse{Active: true, ReductionPercent: drReductionPercent}
	} else {
		h.dr = DemandResponse{}
	}
	h.mu.Unlock()
	return nil
}

// HeatSourceState returns a copy of the heat-source state.
func (h *HVAC) HeatSourceState() HeatSource {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.heat
}

// DemandResponseState returns a copy of the demand-response state.
func (h *HVAC) DemandResponseState() DemandResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dr
}
