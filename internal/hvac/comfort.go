package hvac

import (
	"math"

	"github.com/halcyon-home/halcyon/internal/fault"
)

// Comfort scoring bands.
const (
	comfortHumidityLo = 30.0
	comfortHumidityHi = 60.0
	comfortCO2Ppm     = 800.0
)

// Ventilation CO2 thresholds.
const (
	ventCO2HighPpm  = 1200.0
	ventCO2RaisePpm = 1000.0
	ventCO2LowPpm   = 600.0
	ventMaxSpeed    = 3
)

// comfortScore grades one zone 0..100: temperature deviation from the
// effective target costs the most, humidity outside 30..60% and CO2 above
// 800 ppm cost the rest. A zone reporting no humidity or CO2 is not
// penalized for it.
func comfortScore(currentTemp, target, humidity, co2 float64) float64 {
	score := 100.0
	score -= math.Min(math.Abs(currentTemp-target)*10, 40)
	if humidity > 0 {
		switch {
		case humidity < comfortHumidityLo:
			score -= math.Min((comfortHumidityLo-humidity)*0.5, 20)
		case humidity > comfortHumidityHi:
			score -= math.Min((humidity-comfortHumidityHi)*0.5, 20)
		}
	}
	if co2 > comfortCO2Ppm {
		score -= math.Min((co2-comfortCO2Ppm)*0.02, 30)
	}
	if score < 0 {
		return 0
	}
	return score
}

// comfortTick is the 120 s scoring pass over every active zone.
func (h *HVAC) comfortTick() error {
	now := h.Runtime().Clock.Now()
	for _, z := range h.zones.Values() {
		h.mu.Lock()
		if z.Mode == ModeOff {
			h.mu.Unlock()
			continue
		}
		target := h.effectiveTargetLocked(z, now)
		z.ComfortScore = comfortScore(z.CurrentTemp, target, z.Humidity, z.CO2)
		h.mu.Unlock()
	}
	return nil
}

// fanSpeedForCO2 steps the fan: force full speed on high CO2, raise to at
// least 2 above the raise threshold, step down when the air is fresh.
func fanSpeedForCO2(co2 float64, current int) int {
	switch {
	case co2 >= ventCO2HighPpm:
		return ventMaxSpeed
	case co2 >= ventCO2RaisePpm:
		if current < 2 {
			return 2
		}
		return current
	case co2 > 0 && co2 < ventCO2LowPpm && current > 0:
		return current - 1
	default:
		return current
	}
}

// ventilationTick is the 60 s air-quality pass: drive each zone's fan speed
// from its CO2 reading.
func (h *HVAC) ventilationTick() error {
	for _, z := range h.zones.Values() {
		h.mu.Lock()
		if z.Mode != ModeOff {
			z.FanSpeed = fanSpeedForCO2(z.CO2, z.FanSpeed)
		}
		h.mu.Unlock()
	}
	return nil
}

// ReportAirQuality feeds a zone's humidity and CO2 readings.
func (h *HVAC) ReportAirQuality(zoneID string, humidity, co2 float64) error {
	z, ok := h.zones.Get(zoneID)
	if !ok {
		return fault.NotFound("zone", zoneID)
	}
	h.mu.Lock()
	z.Humidity = humidity
	z.CO2 = co2
	h.mu.Unlock()
	return nil
}
