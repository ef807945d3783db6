package hvac

import (
	"context"
	"log"

	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
)

// TRV thresholds.
const (
	trvWindowOpenDeltaC = 3.0
	trvFrostOnC         = 5.0
	trvFrostOffC        = 7.0
	trvFrostOpenPct     = 30.0
)

// TRV is one thermostatic radiator valve.
type TRV struct {
	ID                 string  `json:"id"`
	ZoneID             string  `json:"zoneId"`
	Battery            float64 `json:"battery"`
	OpenPercent        float64 `json:"openPercent"`
	WindowOpenDetected bool    `json:"windowOpenDetected"`
	Boost              Boost   `json:"boost"`
	FrostProtection    bool    `json:"frostProtection"`
	MeasuredTemp       float64 `json:"measuredTemp"`

	dev facade.DeviceRef
}

// discoverValves maps temperature-capable devices whose zone matches a
// climate zone onto TRV records.
func (h *HVAC) discoverValves(ctx context.Context) {
	devices, err := h.Runtime().Host.ListDevices(ctx)
	if err != nil {
		log.Printf("[hvac] device discovery: %v", err)
		return
	}
	count := 0
	for _, dev := range devices {
		if !dev.HasCapability(facade.CapTargetTemp) || !dev.HasCapability(facade.CapMeasureTemp) {
			continue
		}
		zoneID := ""
		h.zones.Range(func(id string, z *Zone) bool {
			if z.Name == dev.Zone() {
				zoneID = id
				return false
			}
			return true
		})
		h.valves.Put(dev.ID(), &TRV{ID: dev.ID(), ZoneID: zoneID, OpenPercent: 40, dev: dev})
		count++
	}
	if count > 0 {
		log.Printf("[hvac] discovered %d TRVs", count)
	}
}

// AddValve registers a valve directly (used when the host exposes valves
// outside device discovery).
func (h *HVAC) AddValve(v *TRV) error {
	if v.ID == "" {
		return fault.InvalidArgument("valve needs an id")
	}
	h.valves.Put(v.ID, v)
	return nil
}

// ValveState returns a copy of one valve.
func (h *HVAC) ValveState(id string) (TRV, error) {
	v, ok := h.valves.Get(id)
	if !ok {
		return TRV{}, fault.NotFound("valve", id)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return *v, nil
}

// valveOpenPercent is the open-percentage policy for one control step.
func valveOpenPercent(delta float64, boost, windowOpen, frost bool) float64 {
	switch {
	case windowOpen:
		return 0
	case boost:
		return 100
	case frost:
		return trvFrostOpenPct
	case delta > 1:
		return clampPct(50+delta*25, 0, 100)
	case delta > 0.2:
		return clampPct(30+delta*30, 0, 80)
	case delta < -0.5:
		return clampPct(10+delta*20, 0, 100)
	default:
		return 40
	}
}

func clampPct(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// trvTick is the 60 s valve control pass: read the measured temperature,
// update window-open and frost flags, compute the open percentage, and
// push the zone's effective target to the valve.
func (h *HVAC) trvTick() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.Runtime().Env.DeviceIOTimeout)
	defer cancel()
	now := h.Runtime().Clock.Now()

	for _, v := range h.valves.Values() {
		if v.dev != nil {
			measured, err := h.Runtime().Caps.Float(ctx, v.dev, facade.CapMeasureTemp)
			if err != nil {
				log.Printf("[hvac] trv read %s: %v", v.ID, err)
				continue
			}
			h.mu.Lock()
			v.MeasuredTemp = measured
			h.mu.Unlock()
		}

		target := 0.0
		if z, ok := h.zones.Get(v.ZoneID); ok {
			h.mu.Lock()
			target = h.effectiveTargetLocked(z, now)
			h.mu.Unlock()
		}

		h.mu.Lock()
		delta := target - v.MeasuredTemp

		// frost protection latches below 5 and releases at 7
		if v.MeasuredTemp < trvFrostOnC {
			v.FrostProtection = true
		} else if v.MeasuredTemp >= trvFrostOffC {
			v.FrostProtection = false
		}

		// a sudden large deficit means an open window; cleared when the
		// deficit closes
		if delta > trvWindowOpenDeltaC {
			v.WindowOpenDetected = true
		} else if v.WindowOpenDetected && delta <= trvWindowOpenDeltaC {
			v.WindowOpenDetected = false
		}

		boost := v.Boost.Active && now.UnixMilli() < v.Boost.UntilMs
		if v.Boost.Active && !boost {
			v.Boost = Boost{}
		}
		v.OpenPercent = valveOpenPercent(delta, boost, v.WindowOpenDetected, v.FrostProtection)
		h.mu.Unlock()

		if v.dev != nil && target > 0 {
			if err := h.Runtime().Caps.Write(ctx, v.dev, facade.CapTargetTemp, target); err != nil {
				log.Printf("[hvac] trv write %s: %v", v.ID, err)
			}
		}
	}
	return nil
}
