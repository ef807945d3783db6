package hvac

import (
	"time"

	"github.com/halcyon-home/halcyon/internal/bus"
)

// Occupancy learning constants.
const (
	unoccupiedSetbackAfter = 30 * time.Minute
	learnDecay             = 0.95
	learnGain              = 0.05
	preheatThreshold       = 0.6
	preheatBandC           = 1.0
)

// hourOfWeek maps an instant to its learned-pattern bucket.
func hourOfWeek(t time.Time) int {
	return int(t.Weekday())*24 + t.Hour()
}

// occupancyTick is the 60 s presence sweep: activate setback on prolonged
// absence, resume comfort on detection, update the learned hour-of-week
// pattern, and pre-heat ahead of predicted occupancy.
func (h *HVAC) occupancyTick() error {
	now := h.Runtime().Clock.Now()
	nowMs := now.UnixMilli()
	bucket := hourOfWeek(now)
	nextBucket := hourOfWeek(now.Add(time.Hour))

	for _, z := range h.zones.Values() {
		h.mu.Lock()
		occupied := z.Occupancy.Detected

		// learned pattern EMA for the current bucket
		p := z.Learned[bucket] * learnDecay
		if occupied {
			p += learnGain
		}
		z.Learned[bucket] = p

		switch {
		case occupied && z.SetbackActive:
			z.SetbackActive = false
			h.mu.Unlock()
			h.Runtime().Bus.Publish(bus.ComfortResumed{ZoneID: z.ID, AtMs: nowMs})
			continue
		case !occupied && !z.SetbackActive &&
			z.Occupancy.LastSeenMs > 0 &&
			nowMs-z.Occupancy.LastSeenMs > unoccupiedSetbackAfter.Milliseconds():
			z.SetbackActive = true
			h.mu.Unlock()
			h.Runtime().Bus.Publish(bus.SetbackActivated{ZoneID: z.ID, AtMs: nowMs})
			continue
		}

		// predictive pre-heat: likely occupancy next hour and the zone is
		// cold relative to its base target
		if z.SetbackActive && z.Learned[nextBucket] > preheatThreshold &&
			z.CurrentTemp < z.TargetTemp-preheatBandC {
			z.SetbackActive = false
			h.mu.Unlock()
			h.Runtime().Bus.Publish(bus.ComfortResumed{ZoneID: z.ID, AtMs: nowMs})
			continue
		}
		h.mu.Unlock()
	}
	return nil
}
