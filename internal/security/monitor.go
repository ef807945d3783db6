package security

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/clock"
	"github.com/halcyon-home/halcyon/internal/facade"
)

// monitorTick is the 10 s security sweep: poll every motion and contact
// sensor, detect alarm edges, and run the intrusion pipeline for edges on
// armed sensors.
func (s *Security) monitorTick() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.Runtime().Env.DeviceIOTimeout)
	defer cancel()

	s.mu.Lock()
	s.unreachable = make(map[string]bool)
	motion := append([]facade.DeviceRef(nil), s.motion...)
	contact := append([]facade.DeviceRef(nil), s.contact...)
	s.mu.Unlock()

	for _, dev := range motion {
		s.pollSensor(ctx, dev, facade.CapAlarmMotion, "motion")
	}
	for _, dev := range contact {
		s.pollSensor(ctx, dev, facade.CapAlarmContact, "contact")
	}
	return nil
}

func (s *Security) pollSensor(ctx context.Context, dev facade.DeviceRef, capName, kind string) {
	value, err := s.Runtime().Caps.Bool(ctx, dev, capName)
	if err != nil {
		s.mu.Lock()
		s.unreachable[dev.ID()] = true
		s.mu.Unlock()
		log.Printf("[security] read %s on %s: %v", capName, dev.ID(), err)
		return
	}

	s.mu.Lock()
	prev, seen := s.prevAlarm[dev.ID()]
	s.prevAlarm[dev.ID()] = value
	s.mu.Unlock()

	if !seen || prev || !value {
		return // not a false->true edge
	}
	if !s.sensorArmed(dev, kind) {
		return
	}
	s.raiseIntrusion(dev.ID(), dev.Name(), kind)
}

// sensorArmed reports whether an alarm edge on this device counts as an
// intrusion: the device sits in an armed zone, or the mode is armed_away for
// door/window sensors regardless of zone membership.
func (s *Security) sensorArmed(dev facade.DeviceRef, kind string) bool {
	if kind == "contact" && s.Mode() == ModeArmedAway {
		return true
	}
	armed := false
	s.zones.Range(func(id string, z *Zone) bool {
		if z.Armed && z.Devices[dev.ID()] {
			armed = true
			return false
		}
		return true
	})
	return armed
}

// raiseIntrusion runs the intrusion pipeline for one triggering device.
func (s *Security) raiseIntrusion(deviceID, deviceName, kind string) {
	rt := s.Runtime()
	now := clock.UnixMillis(rt.Clock)
	eventID := uuid.NewString()
	zoneID := s.zoneOf(deviceID)

	rt.Bus.Publish(bus.IntrusionDetected{
		EventID:    eventID,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		ZoneID:     zoneID,
		SensorKind: kind,
		AtMs:       now,
	})

	s.startAllRecordings()
	s.mu.Lock()
	evidence := make([]string, 0, len(s.cameras))
	for _, cam := range s.cameras {
		evidence = append(evidence, cam.ID())
	}
	silent := s.settings.SilentAlarmActive
	contacts := s.settings.SilentAlarmContact
	s.mu.Unlock()

	s.timeline.Append(TimelineEntry{
		AtMs:       now,
		Category:   "intrusion",
		DeviceID:   deviceID,
		DeviceName: deviceName,
		ZoneID:     zoneID,
		Detail:     kind,
		Evidence:   evidence,
	})
	log.Printf("[security] intrusion %s: %s (%s) zone=%s", eventID, deviceName, kind, zoneID)

	if silent {
		s.silentAlert("Intrusion detected: "+deviceName, contacts)
		return
	}

	rt.Host.Notify(facade.Notification{
		Title:    "Intrusion detected",
		Message:  deviceName + " triggered while armed",
		Priority: facade.PriorityCritical,
		Category: "security",
	})
	s.startEscalation(eventID, deviceName)
}

func (s *Security) zoneOf(deviceID string) string {
	found := ""
	s.zones.Range(func(id string, z *Zone) bool {
		if z.Devices[deviceID] {
			found = id
			return false
		}
		return true
	})
	return found
}

// sensorHealthTick is the 300 s battery sweep over every classified sensor.
func (s *Security) sensorHealthTick() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.Runtime().Env.DeviceIOTimeout)
	defer cancel()

	s.mu.Lock()
	devices := append([]facade.DeviceRef(nil), s.batteries...)
	s.mu.Unlock()

	for _, dev := range devices {
		level, err := s.Runtime().Caps.Float(ctx, dev, facade.CapMeasureBattery)
		if err != nil {
			log.Printf("[security] battery read %s: %v", dev.ID(), err)
			continue
		}
		if level < lowBatteryThreshold {
			s.Runtime().Bus.Publish(bus.BatteryLow{
				DeviceID: dev.ID(),
				Level:    level,
				AtMs:     clock.UnixMillis(s.Runtime().Clock),
			})
			s.Runtime().Host.Notify(facade.Notification{
				Title:    "Low battery",
				Message:  dev.Name() + " battery is low",
				Priority: facade.PriorityNormal,
				Category: "maintenance",
			})
		}
	}
	return nil
}
