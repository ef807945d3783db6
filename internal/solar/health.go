package solar

import (
	"fmt"
	"log"

	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
)

// Wear and alert thresholds.
const (
	soilingPerHour     = 0.0002
	cleaningThreshold  = 0.2
	healthAlertPercent = 80.0
)

// maintenanceTick is the hourly wear pass: accrue panel soiling and raise a
// cleaning notification once per array when the average crosses the
// threshold.
func (s *Solar) maintenanceTick() error {
	for _, a := range s.arrays.Values() {
		s.mu.Lock()
		total := 0.0
		for i := range a.Panels {
			p := &a.Panels[i]
			p.Soiling += soilingPerHour * maintenanceCadence.Hours()
			if p.Soiling > 1 {
				p.Soiling = 1
			}
			total += p.Soiling
		}
		avg := 0.0
		if len(a.Panels) > 0 {
			avg = total / float64(len(a.Panels))
		}
		alert := avg >= cleaningThreshold && !a.CleaningAlerted
		if alert {
			a.CleaningAlerted = true
		}
		s.mu.Unlock()
		if alert {
			s.Runtime().Host.Notify(facade.Notification{
				Title:    "Solar panels need cleaning",
				Message:  fmt.Sprintf("Array %s averages %.0f%% soiling", a.ID, avg*100),
				Priority: facade.PriorityNormal,
				Category: "solar",
			})
			log.Printf("[solar] array %s needs cleaning (%.0f%% soiling)", a.ID, avg*100)
		}
	}
	return nil
}

// CleanArray zeroes soiling after a wash and re-arms the cleaning alert.
func (s *Solar) CleanArray(id string) error {
	a, ok := s.arrays.Get(id)
	if !ok {
		return fault.NotFound("array", id)
	}
	s.mu.Lock()
	for i := range a.Panels {
		a.Panels[i].Soiling = 0
	}
	a.CleaningAlerted = false
	s.mu.Unlock()
	s.persist()
	return nil
}

// healthTick is the 600 s degradation pass: flag packs whose health has
// dropped below the alert threshold, once per pack.
func (s *Solar) healthTick() error {
	for _, b := range s.batteries.Values() {
		s.mu.Lock()
		alert := b.HealthPercent < healthAlertPercent && !b.HealthAlerted
		if alert {
			b.HealthAlerted = true
		}
		health := b.HealthPercent
		s.mu.Unlock()
		if alert {
			s.Runtime().Host.Notify(facade.Notification{
				Title:    "Battery health degraded",
				Message:  fmt.Sprintf("Pack %s is at %.1f%% health", b.ID, health),
				Priority: facade.PriorityNormal,
				Category: "solar",
			})
			log.Printf("[solar] battery %s health %.1f%%", b.ID, health)
		}
	}
	return nil
}
