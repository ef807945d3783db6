package solar

import (
	"log"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/clock"
)

// Battery modes.
const (
	ModeStandby   = "standby"
	ModeCharge    = "charge"
	ModeDischarge = "discharge"
)

// Battery health and alerting constants.
const (
	healthLossPerCycle = 0.005
	lowChargeAlertFrac = 0.15
)

// BatteryPack is one storage unit. ChargeLevel stays within
// [MinLevel, MaxLevel] after every dispatch step.
type BatteryPack struct {
	ID             string  `json:"id"`
	CapacityKWh    float64 `json:"capacityKwh"`
	ChargeLevel    float64 `json:"chargeLevel"` // [0,1]
	MinLevel       float64 `json:"minLevel"`
	MaxLevel       float64 `json:"maxLevel"`
	MaxChargeKW    float64 `json:"maxChargeKw"`
	MaxDischargeKW float64 `json:"maxDischargeKw"`
	Mode           string  `json:"mode"`
	CycleCount     float64 `json:"cycleCount"`
	HealthPercent  float64 `json:"healthPercent"`
	HealthAlerted  bool    `json:"healthAlerted"`
	ThroughputKWh  float64 `json:"throughputKwh"`
}

// chargeKWh stores up to kWh, bounded by headroom, and returns how much was
// actually absorbed. Caller holds s.mu.
func (b *BatteryPack) chargeKWh(kWh float64) float64 {
	headroom := (b.MaxLevel - b.ChargeLevel) * b.CapacityKWh
	if kWh > headroom {
		kWh = headroom
	}
	if kWh <= 0 {
		b.Mode = ModeStandby
		return 0
	}
	b.ChargeLevel += kWh / b.CapacityKWh
	b.Mode = ModeCharge
	b.account(kWh)
	return kWh
}

// dischargeKWh draws up to kWh, bounded by the usable floor, and returns how
// much was actually delivered. Caller holds s.mu.
func (b *BatteryPack) dischargeKWh(kWh float64) float64 {
	available := (b.ChargeLevel - b.MinLevel) * b.CapacityKWh
	if kWh > available {
		kWh = available
	}
	if kWh <= 0 {
		b.Mode = ModeStandby
		return 0
	}
	b.ChargeLevel -= kWh / b.CapacityKWh
	b.Mode = ModeDischarge
	b.account(kWh)
	return kWh
}

// account tracks full-equivalent cycles on throughput and degrades health.
func (b *BatteryPack) account(kWh float64) {
	if b.CapacityKWh <= 0 {
		return
	}
	prevCycles := b.CycleCount
	b.ThroughputKWh += kWh
	b.CycleCount = b.ThroughputKWh / b.CapacityKWh
	b.HealthPercent -= (b.CycleCount - prevCycles) * healthLossPerCycle
}

// batteryTick is the 120 s energy flow allocation: charge packs on solar
// surplus and export the rest; on deficit, discharge when the spot price
// justifies it and import the rest.
func (s *Solar) batteryTick() error {
	dtHours := batteryCadence.Hours()

	s.mu.Lock()
	cond := s.conditions
	surplusKW := s.productionKW - cond.HomeLoadKW
	s.mu.Unlock()

	switch {
	case surplusKW > 0:
		remaining := surplusKW * dtHours
		for _, b := range s.batteries.Values() {
			if remaining <= 0 {
				break
			}
			s.mu.Lock()
			step := b.MaxChargeKW * dtHours
			if step > remaining {
				step = remaining
			}
			remaining -= b.chargeKWh(step)
			s.mu.Unlock()
		}
		s.mu.Lock()
		if remaining > 0 {
			s.grid.CurrentFlowDirection = "export"
			s.grid.ExportedKWh += remaining
		} else {
			s.grid.CurrentFlowDirection = "neutral"
		}
		s.mu.Unlock()

	case surplusKW < 0:
		deficit := -surplusKW * dtHours
		if s.shouldDischarge(cond) {
			for _, b := range s.batteries.Values() {
				if deficit <= 0 {
					break
				}
				s.mu.Lock()
				step := b.MaxDischargeKW * dtHours
				if step > deficit {
					step = deficit
				}
				deficit -= b.dischargeKWh(step)
				s.mu.Unlock()
			}
		}
		s.mu.Lock()
		if deficit > 0 {
			s.grid.CurrentFlowDirection = "import"
			s.grid.ImportedKWh += deficit
		} else {
			s.grid.CurrentFlowDirection = "neutral"
		}
		s.mu.Unlock()

	default:
		s.mu.Lock()
		s.grid.CurrentFlowDirection = "neutral"
		s.mu.Unlock()
	}

	s.alertLowBatteries()
	return nil
}

// shouldDischarge holds when the spot price is at least 80% of the mid price.
func (s *Solar) shouldDischarge(c Conditions) bool {
	if c.MidPriceKWh <= 0 {
		return false
	}
	return c.SpotPriceKWh >= c.MidPriceKWh*dischargePriceFrac
}

func (s *Solar) alertLowBatteries() {
	for _, b := range s.batteries.Values() {
		s.mu.Lock()
		low := b.ChargeLevel < lowChargeAlertFrac
		level := b.ChargeLevel
		s.mu.Unlock()
		if low {
			s.Runtime().Bus.Publish(bus.BatteryLow{
				DeviceID: b.ID,
				Level:    level * 100,
				AtMs:     clock.UnixMillis(s.Runtime().Clock),
			})
		}
	}
}

// peakShavingTick is the 30 s demand guard: when grid demand exceeds the
// threshold, discharge packs to bring it below and account the savings.
func (s *Solar) peakShavingTick() error {
	dtHours := peakShavingCadence.Hours()

	s.mu.Lock()
	demand := s.conditions.GridDemandKW
	s.mu.Unlock()
	if demand <= peakThresholdKW {
		return nil
	}

	needKWh := (demand - peakThresholdKW) * dtHours
	shavedKWh := 0.0
	for _, b := range s.batteries.Values() {
		if needKWh <= 0 {
			break
		}
		s.mu.Lock()
		step := b.MaxDischargeKW * dtHours
		if step > needKWh {
			step = needKWh
		}
		got := b.dischargeKWh(step)
		s.mu.Unlock()
		needKWh -= got
		shavedKWh += got
	}
	if shavedKWh > 0 {
		s.mu.Lock()
		s.grid.PeaksShavedToday++
		s.grid.EnergySavedKWh += shavedKWh
		s.mu.Unlock()
		log.Printf("[solar] peak shaved: %.2f kWh from %.2f kW demand", shavedKWh, demand)
	}
	return nil
}
