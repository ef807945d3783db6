package security

import (
	"context"
	"log"
	"sync"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/clock"
	"github.com/halcyon-home/halcyon/internal/facade"
)

// Escalation stages, in firing order.
const (
	StagePending        = "pending"
	StageWarning        = "warning"
	StageSiren          = "siren"
	StagePoliceNotified = "police_notified"
)

// Escalation tracks one active three-stage alarm response.
type Escalation struct {
	EventID   string
	StartedMs int64

	mu        sync.Mutex
	stage     string
	cancelled bool
}

// Stage returns the last fired stage.
func (e *Escalation) Stage() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stage
}

// Cancelled reports whether the chain was stopped.
func (e *Escalation) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// advance moves to the next stage unless the chain was cancelled.
func (e *Escalation) advance(stage string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelled {
		return false
	}
	e.stage = stage
	return true
}

func escalationGroup(eventID string) string { return "esc:" + eventID }

// startEscalation schedules the three response stages as one timed-action
// group. Disarming or explicit cancellation discards the remaining stages.
func (s *Security) startEscalation(eventID, source string) {
	s.mu.Lock()
	cfg := s.settings.Escalation
	s.mu.Unlock()

	esc := &Escalation{
		EventID:   eventID,
		StartedMs: clock.UnixMillis(s.Runtime().Clock),
		stage:     StagePending,
	}
	s.escalations.Put(eventID, esc)

	group := escalationGroup(eventID)
	s.ScheduleAfter(cfg.WarningDelay.Std(), group, func() {
		if esc.advance(StageWarning) {
			s.fireWarning(esc, source)
		}
	})
	s.ScheduleAfter(cfg.SirenDelay.Std(), group, func() {
		if esc.advance(StageSiren) {
			s.fireSiren(esc)
		}
	})
	s.ScheduleAfter(cfg.PoliceDelay.Std(), group, func() {
		if esc.advance(StagePoliceNotified) {
			s.firePolice(esc)
		}
	})
	log.Printf("[security] escalation %s started (%s, %s, %s)",
		eventID, cfg.WarningDelay.Std(), cfg.SirenDelay.Std(), cfg.PoliceDelay.Std())
}

func (s *Security) fireWarning(esc *Escalation, source string) {
	s.Runtime().Host.Notify(facade.Notification{
		Title:    "Alarm warning",
		Message:  "Intrusion alarm from " + source + "; disarm to cancel escalation",
		Priority: facade.PriorityCritical,
		Category: "security",
	})
	s.auditAppend(AuditEntry{
		AtMs:    clock.UnixMillis(s.Runtime().Clock),
		Action:  "escalation_stage",
		EventID: esc.EventID,
		Stage:   StageWarning,
	})
}

func (s *Security) fireSiren(esc *Escalation) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Runtime().Env.DeviceIOTimeout)
	defer cancel()

	s.mu.Lock()
	sirens := append([]facade.DeviceRef(nil), s.sirens...)
	s.mu.Unlock()
	for _, siren := range sirens {
		if err := s.Runtime().Caps.Write(ctx, siren, facade.CapOnOff, true); err != nil {
			log.Printf("[security] siren %s: %v", siren.ID(), err)
		}
	}
	s.auditAppend(AuditEntry{
		AtMs:    clock.UnixMillis(s.Runtime().Clock),
		Action:  "escalation_stage",
		EventID: esc.EventID,
		Stage:   StageSiren,
	})
}

func (s *Security) firePolice(esc *Escalation) {
	s.Runtime().Host.Notify(facade.Notification{
		Title:    "Police notified",
		Message:  "Alarm escalation reached the final stage",
		Priority: facade.PriorityCritical,
		Category: "security",
	})
	s.auditAppend(AuditEntry{
		AtMs:    clock.UnixMillis(s.Runtime().Clock),
		Action:  "escalation_stage",
		EventID: esc.EventID,
		Stage:   StagePoliceNotified,
	})
	s.escalations.Delete(esc.EventID)
}

// CancelEscalation stops one active escalation chain.
func (s *Security) CancelEscalation(eventID, reason string) bool {
	esc, ok := s.escalations.Get(eventID)
	if !ok {
		return false
	}
	s.cancelEscalation(esc, reason)
	return true
}

func (s *Security) cancelEscalation(esc *Escalation, reason string) {
	esc.mu.Lock()
	if esc.cancelled {
		esc.mu.Unlock()
		return
	}
	esc.cancelled = true
	stage := esc.stage
	esc.mu.Unlock()

	s.CancelTimedGroup(escalationGroup(esc.EventID))
	s.escalations.Delete(esc.EventID)

	now := clock.UnixMillis(s.Runtime().Clock)
	s.auditAppend(AuditEntry{
		AtMs:    now,
		Action:  "escalation_cancelled",
		EventID: esc.EventID,
		Stage:   stage,
		Trigger: reason,
	})
	s.Runtime().Bus.Publish(bus.EscalationCancelled{EventID: esc.EventID, Stage: stage, AtMs: now})
	log.Printf("[security] escalation %s cancelled at stage %s (%s)", esc.EventID, stage, reason)
}

func (s *Security) cancelAllEscalations(reason string) {
	var active []*Escalation
	s.escalations.Range(func(id string, esc *Escalation) bool {
		active = append(active, esc)
		return true
	})
	for _, esc := range active {
		s.cancelEscalation(esc, reason)
	}
}

// ActiveEscalations returns how many chains have stages still pending.
func (s *Security) ActiveEscalations() int {
	return s.escalations.Len()
}
