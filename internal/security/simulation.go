package security

import (
	"context"
	"log"
	"math/rand/v2"
	"time"

	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
)

const simulationGroup = "sim"

// simulation drives away-mode presence simulation: at random intervals a
// random participating light toggles, and each firing schedules the next.
type simulation struct {
	deviceIDs []string
	minGap    time.Duration
	maxGap    time.Duration
	lit       map[string]bool // deviceId -> last commanded state side-table
}

// StartSimulation begins presence simulation over the named devices with a
// random inter-action gap in [minGapMin, maxGapMin] minutes.
func (s *Security) StartSimulation(deviceIDs []string, minGapMin, maxGapMin int) error {
	if len(deviceIDs) == 0 {
		return fault.InvalidArgument("presence simulation needs at least one device")
	}
	if minGapMin <= 0 || maxGapMin < minGapMin {
		return fault.InvalidArgument("simulation gap [%d, %d] minutes", minGapMin, maxGapMin)
	}
	s.mu.Lock()
	if s.sim != nil {
		s.mu.Unlock()
		return fault.InvalidArgument("presence simulation already running")
	}
	s.sim = &simulation{
		deviceIDs: append([]string(nil), deviceIDs...),
		minGap:    time.Duration(minGapMin) * time.Minute,
		maxGap:    time.Duration(maxGapMin) * time.Minute,
		lit:       make(map[string]bool),
	}
	s.mu.Unlock()

	s.auditAppend(AuditEntry{AtMs: s.nowMs(), Action: "simulation_started"})
	log.Printf("[security] presence simulation started over %d devices", len(deviceIDs))
	s.scheduleSimAction()
	return nil
}

// StopSimulation ends presence simulation and cancels the pending action.
func (s *Security) StopSimulation() {
	s.mu.Lock()
	running := s.sim != nil
	s.sim = nil
	s.mu.Unlock()
	if !running {
		return
	}
	s.CancelTimedGroup(simulationGroup)
	s.auditAppend(AuditEntry{AtMs: s.nowMs(), Action: "simulation_stopped"})
	log.Printf("[security] presence simulation stopped")
}

// SimulationRunning reports whether presence simulation is active.
func (s *Security) SimulationRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sim != nil
}

func (s *Security) scheduleSimAction() {
	s.mu.Lock()
	sim := s.sim
	s.mu.Unlock()
	if sim == nil {
		return
	}
	gap := sim.minGap
	if spread := sim.maxGap - sim.minGap; spread > 0 {
		gap += time.Duration(rand.Int64N(int64(spread)))
	}
	s.ScheduleAfter(gap, simulationGroup, s.runSimAction)
}

// runSimAction toggles one random participating device, then re-schedules.
func (s *Security) runSimAction() {
	s.mu.Lock()
	sim := s.sim
	s.mu.Unlock()
	if sim == nil {
		return
	}

	id := sim.deviceIDs[rand.IntN(len(sim.deviceIDs))]
	s.mu.Lock()
	next := !sim.lit[id]
	sim.lit[id] = next
	s.mu.Unlock()

	if dev := s.deviceByID(id); dev != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.Runtime().Env.DeviceIOTimeout)
		if err := s.Runtime().Caps.Write(ctx, dev, facade.CapOnOff, next); err != nil {
			log.Printf("[security] simulation toggle %s: %v", id, err)
		}
		cancel()
	}
	s.scheduleSimAction()
}

// deviceByID searches the discovered device list.
func (s *Security) deviceByID(id string) facade.DeviceRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.all {
		if d.ID() == id {
			return d
		}
	}
	return nil
}
