package hvac

import (
	"time"

	"github.com/halcyon-home/halcyon/internal/config"
	"github.com/halcyon-home/halcyon/internal/fault"
)

// SchedulePeriod is one weekly schedule entry. Times are zero-padded "HH:MM";
// a period with End < Start wraps across midnight.
type SchedulePeriod struct {
	Days    []int   `json:"days"` // 0=Sunday .. 6=Saturday
	Start   string  `json:"start"`
	End     string  `json:"end"`
	TargetC float64 `json:"targetC"`
}

// SetZoneSchedule replaces a zone's weekly schedule.
func (h *HVAC) SetZoneSchedule(zoneID string, periods []SchedulePeriod) error {
	for i := range periods {
		var err error
		if periods[i].Start, err = config.NormalizeHHMM(periods[i].Start); err != nil {
			return err
		}
		if periods[i].End, err = config.NormalizeHHMM(periods[i].End); err != nil {
			return err
		}
		if periods[i].TargetC < targetFloorC || periods[i].TargetC > targetCeilingC {
			return fault.InvalidArgument("schedule target %.1f outside [%.0f, %.0f]",
				periods[i].TargetC, targetFloorC, targetCeilingC)
		}
	}
	z, ok := h.zones.Get(zoneID)
	if !ok {
		return fault.NotFound("zone", zoneID)
	}
	h.mu.Lock()
	z.Schedule = periods
	h.mu.Unlock()
	h.persist()
	return nil
}

// scheduledTarget returns the active schedule period's target, falling back
// to the zone's base target. A wrapping period matches the evening of its
// listed day and the following morning.
func scheduledTarget(z *Zone, now time.Time) float64 {
	hhmm := now.Format("15:04")
	day := int(now.Weekday())
	prevDay := (day + 6) % 7
	for _, p := range z.Schedule {
		wraps := p.End < p.Start
		for _, d := range p.Days {
			switch {
			case !wraps && d == day && hhmm >= p.Start && hhmm <= p.End:
				return p.TargetC
			case wraps && d == day && hhmm >= p.Start:
				return p.TargetC
			case wraps && d == prevDay && hhmm <= p.End:
				return p.TargetC
			}
		}
	}
	return z.TargetTemp
}

// EffectiveTarget computes a zone's target after schedule, vacation,
// setback, boost, and demand-response adjustments, clamped to 5..30 degrees.
func (h *HVAC) EffectiveTarget(zoneID string) (float64, error) {
	z, ok := h.zones.Get(zoneID)
	if !ok {
		return 0, fault.NotFound("zone", zoneID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.effectiveTargetLocked(z, h.Runtime().Clock.Now()), nil
}

// effectiveTargetLocked is the target pipeline. Vacation overrides every
// other adjustment; an expired boost is cleared in place. Caller holds h.mu.
func (h *HVAC) effectiveTargetLocked(z *Zone, now time.Time) float64 {
	if h.vacation.Active {
		return clampTarget(h.vacation.FrostTempC)
	}
	target := scheduledTarget(z, now)
	if z.SetbackActive {
		target = z.SetbackTemp
	}
	if z.Boost.Active {
		if now.UnixMilli() >= z.Boost.UntilMs {
			z.Boost = Boost{}
		} else {
			target += boostBonusC
		}
	}
	if h.dr.Active {
		target -= h.dr.ReductionPercent * 0.05
	}
	return clampTarget(target)
}

func clampTarget(t float64) float64 {
	if t < targetFloorC {
		return targetFloorC
	}
	if t > targetCeilingC {
		return targetCeilingC
	}
	return t
}

// SetBoost arms a zone boost expiring after d; a running boost is replaced
// and its pending expiry cancelled.
func (h *HVAC) SetBoost(zoneID string, d time.Duration) error {
	if d <= 0 {
		return fault.InvalidArgument("boost duration must be positive")
	}
	z, ok := h.zones.Get(zoneID)
	if !ok {
		return fault.NotFound("zone", zoneID)
	}
	group := "boost:" + zoneID
	h.CancelTimedGroup(group)

	until := h.Runtime().Clock.Now().Add(d).UnixMilli()
	h.mu.Lock()
	z.Boost = Boost{Active: true, UntilMs: until}
	h.mu.Unlock()

	h.ScheduleAfter(d, group, func() {
		h.mu.Lock()
		z.Boost = Boost{}
		h.mu.Unlock()
	})
	return nil
}

// ClearBoost disarms a zone boost and cancels its expiry.
func (h *HVAC) ClearBoost(zoneID string) error {
	z, ok := h.zones.Get(zoneID)
	if !ok {
		return fault.NotFound("zone", zoneID)
	}
	h.CancelTimedGroup("boost:" + zoneID)
	h.mu.Lock()
	z.Boost = Boost{}
	h.mu.Unlock()
	return nil
}

// zoneTick is the 30 s control sweep: recompute every zone's effective
// target so expired boosts are cleared. The valve write happens in trvTick.
func (h *HVAC) zoneTick() error {
	now := h.Runtime().Clock.Now()
	for _, z := range h.zones.Values() {
		h.mu.Lock()
		if z.Mode == ModeOff {
			h.mu.Unlock()
			continue
		}
		_ = h.effectiveTargetLocked(z, now) // clears expired boost
		h.mu.Unlock()
	}
	return nil
}
