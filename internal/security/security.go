// Package security implements the home security subsystem: arm/disarm modes,
// zone membership, geofence auto-arm, the intrusion detection pipeline with
// three-stage escalation, duress codes, silent alarm, visitor schedules, and
// away-mode presence simulation.
package security

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/clock"
	"github.com/halcyon-home/halcyon/internal/config"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
	"github.com/halcyon-home/halcyon/internal/store"
	"github.com/halcyon-home/halcyon/internal/subsys"
)

// Modes of the security subsystem.
const (
	ModeDisarmed   = "disarmed"
	ModeArmedHome  = "armed_home"
	ModeArmedAway  = "armed_away"
	ModeArmedNight = "armed_night"
)

// Cadences.
const (
	monitorCadence      = 10 * time.Second
	sensorHealthCadence = 300 * time.Second
)

const lowBatteryThreshold = 15.0

// Zone is a security zone with its member devices.
type Zone struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Armed   bool            `json:"armed"`
	Devices map[string]bool `json:"devices"`
}

// Settings is the persisted securitySettings snapshot.
type Settings struct {
	Geofence           GeofenceConfig   `json:"geofenceConfig"`
	SilentAlarmActive  bool             `json:"silentAlarmActive"`
	SilentAlarmContact []string         `json:"silentAlarmContacts"`
	Escalation         EscalationConfig `json:"escalationConfig"`
}

// EscalationConfig sets the stage delays of the intrusion response.
type EscalationConfig struct {
	WarningDelay config.Duration `json:"warningDelay"`
	SirenDelay   config.Duration `json:"sirenDelay"`
	PoliceDelay  config.Duration `json:"policeDelay"`
}

func defaultSettings() Settings {
	return Settings{
		Geofence: GeofenceConfig{
			RadiusM:              200,
			AutoArmOnLeave:       false,
			AutoDisarmOnArrive:   false,
			RequireKnownLocation: true,
		},
		Escalation: EscalationConfig{
			WarningDelay: config.Duration(30 * time.Second),
			SirenDelay:   config.Duration(60 * time.Second),
			PoliceDelay:  config.Duration(180 * time.Second),
		},
	}
}

// DuressCode unlocks normally while raising a silent alarm.
type DuressCode struct {
	Code        string   `json:"code"`
	Description string   `json:"description,omitempty"`
	SilentAlert bool     `json:"silentAlert"`
	Contacts    []string `json:"contacts,omitempty"`
}

// Security is the subsystem instance.
type Security struct {
	*subsys.Base

	mu       sync.Mutex
	mode     string
	settings Settings
	duress   map[string]DuressCode
	visitors map[string]*VisitorSchedule
	persons  map[string]AuthorizedPerson

	locations map[string]UserLocation // userId -> last reported position

	zones *store.Table[string, *Zone]

	// classified device sets, rebuilt on init
	all       []facade.DeviceRef
	motion    []facade.DeviceRef
	contact   []facade.DeviceRef
	cameras   []facade.DeviceRef
	sirens    []facade.DeviceRef
	batteries []facade.DeviceRef

	prevAlarm   map[string]bool // sensor id -> last observed alarm value
	unreachable map[string]bool // sensor id -> failed this cycle
	recording   map[string]bool // camera id -> recording flag side-table

	escalations *store.Table[string, *Escalation]

	audit    *store.BoundedLog[AuditEntry]
	timeline *store.BoundedLog[TimelineEntry]

	sim *simulation
}

// AuthorizedPerson is a known household member for geofencing and reports.
type AuthorizedPerson struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// New constructs the subsystem. Call Init before use.
func New(rt *subsys.Runtime) *Security {
	s := &Security{
		Base:        subsys.NewBase("security", rt),
		mode:        ModeDisarmed,
		settings:    defaultSettings(),
		duress:      make(map[string]DuressCode),
		visitors:    make(map[string]*VisitorSchedule),
		persons:     make(map[string]AuthorizedPerson),
		locations:   make(map[string]UserLocation),
		zones:       store.NewTable[string, *Zone](),
		prevAlarm:   make(map[string]bool),
		unreachable: make(map[string]bool),
		recording:   make(map[string]bool),
		escalations: store.NewTable[string, *Escalation](),
	}
	env := rt.Env
	s.audit = store.NewBoundedLog[AuditEntry](env.AuditTrailCapacity).
		WithPersist(env.AuditPersistTail, func(tail []AuditEntry) error {
			return facade.SaveJSON(rt.Host, "securityAuditTrail", tail)
		})
	s.timeline = store.NewBoundedLog[TimelineEntry](env.TimelineCapacity)
	return s
}

// Init loads persisted state, classifies devices, and starts the tasks.
func (s *Security) Init(ctx context.Context) error {
	if err := s.BeginInit(); err != nil {
		return err
	}
	rt := s.Runtime()

	if found, err := facade.LoadJSON(rt.Host, "securitySettings", &s.settings); err != nil {
		log.Printf("[security] load settings: %v", err)
	} else if !found {
		s.settings = defaultSettings()
	}
	if _, err := facade.LoadJSON(rt.Host, "duressCodes", &s.duress); err != nil {
		log.Printf("[security] load duress codes: %v", err)
	}
	if _, err := facade.LoadJSON(rt.Host, "visitorSchedules", &s.visitors); err != nil {
		log.Printf("[security] load visitor schedules: %v", err)
	}
	if _, err := facade.LoadJSON(rt.Host, "authorizedPersons", &s.persons); err != nil {
		log.Printf("[security] load authorized persons: %v", err)
	}

	// Reload keeps the persisted tail; the in-memory cap is larger.
	var tail []AuditEntry
	if found, err := facade.LoadJSON(rt.Host, "securityAuditTrail", &tail); err != nil {
		log.Printf("[security] load audit trail: %v", err)
	} else if found {
		s.audit.Replace(tail)
	}

	s.loadZones()
	if err := s.classifyDevices(ctx); err != nil {
		log.Printf("[security] device discovery: %v", err)
	}

	s.RegisterTask("monitor", monitorCadence, s.monitorTick)
	s.RegisterTask("sensorHealth", sensorHealthCadence, s.sensorHealthTick)

	s.Subscribe(bus.TagTamper, func(ev bus.Event) {
		t := ev.(bus.Tamper)
		s.onTamper(t)
	})

	s.FinishInit()
	return nil
}

// loadZones reads persisted zones, falling back to the seed file.
func (s *Security) loadZones() {
	rt := s.Runtime()
	var persisted map[string]*Zone
	if found, err := facade.LoadJSON(rt.Host, "securityZones", &persisted); err != nil {
		log.Printf("[security] load zones: %v", err)
	} else if found {
		for id, z := range persisted {
			s.zones.Put(id, z)
		}
		return
	}
	for _, sz := range rt.Seed.SecurityZones {
		z := &Zone{ID: sz.ID, Name: sz.Name, Devices: make(map[string]bool)}
		for _, d := range sz.Devices {
			z.Devices[d] = true
		}
		s.zones.Put(z.ID, z)
	}
	if s.zones.Len() > 0 {
		s.persistZones()
	}
}

func (s *Security) persistZones() {
	snapshot := make(map[string]*Zone)
	s.zones.Range(func(id string, z *Zone) bool {
		snapshot[id] = z
		return true
	})
	if err := facade.SaveJSON(s.Runtime().Host, "securityZones", snapshot); err != nil {
		log.Printf("[security] persist zones: %v", err)
	}
}

func (s *Security) classifyDevices(ctx context.Context) error {
	devices, err := s.Runtime().Host.ListDevices(ctx)
	if err != nil {
		return err
	}
	s.all = devices
	s.motion = s.motion[:0]
	s.contact = s.contact[:0]
	s.cameras = s.cameras[:0]
	s.sirens = s.sirens[:0]
	s.batteries = s.batteries[:0]
	for _, d := range devices {
		switch {
		case facade.IsMotionSensor(d):
			s.motion = append(s.motion, d)
		case facade.IsContactSensor(d):
			s.contact = append(s.contact, d)
		}
		if facade.IsCamera(d) {
			s.cameras = append(s.cameras, d)
		}
		if facade.IsSiren(d) {
			s.sirens = append(s.sirens, d)
		}
		if facade.HasBattery(d) {
			s.batteries = append(s.batteries, d)
		}
	}
	log.Printf("[security] classified devices: %d motion, %d contact, %d cameras, %d sirens",
		len(s.motion), len(s.contact), len(s.cameras), len(s.sirens))
	return nil
}

func (s *Security) nowMs() int64 {
	return clock.UnixMillis(s.Runtime().Clock)
}

// Mode returns the current security mode.
func (s *Security) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func validMode(m string) bool {
	switch m {
	case ModeDisarmed, ModeArmedHome, ModeArmedAway, ModeArmedNight:
		return true
	}
	return false
}

// SetMode performs an arm/disarm transition. trigger names the initiator
// ("user", "geofence", "schedule"). Disarming cancels every active escalation.
func (s *Security) SetMode(mode, trigger string) error {
	if !validMode(mode) {
		return fault.InvalidArgument("security mode %q", mode)
	}
	s.mu.Lock()
	from := s.mode
	if from == mode {
		s.mu.Unlock()
		return nil
	}
	s.mode = mode
	s.mu.Unlock()

	armed := mode != ModeDisarmed
	s.zones.Range(func(id string, z *Zone) bool {
		z.Armed = armed
		return true
	})

	now := clock.UnixMillis(s.Runtime().Clock)
	s.auditAppend(AuditEntry{
		AtMs:    now,
		Action:  "mode_changed",
		From:    from,
		To:      mode,
		Trigger: trigger,
	})
	s.Runtime().Bus.Publish(bus.SecurityModeChanged{From: from, To: mode, Trigger: trigger, AtMs: now})
	log.Printf("[security] mode %s -> %s (%s)", from, mode, trigger)

	if mode == ModeDisarmed {
		s.cancelAllEscalations("mode_disarmed")
	}
	return nil
}

// ArmZone toggles one zone independently of the global mode.
func (s *Security) ArmZone(zoneID string, armed bool) error {
	z, ok := s.zones.Get(zoneID)
	if !ok {
		return fault.NotFound("security zone", zoneID)
	}
	z.Armed = armed
	s.persistZones()
	return nil
}

// SetSilentAlarm toggles silent-alarm mode. While active, intrusions alert the
// configured contacts without starting escalation.
func (s *Security) SetSilentAlarm(active bool) {
	s.mu.Lock()
	s.settings.SilentAlarmActive = active
	s.mu.Unlock()
	s.persistSettings()
}

func (s *Security) persistSettings() {
	s.mu.Lock()
	snapshot := s.settings
	s.mu.Unlock()
	if err := facade.SaveJSON(s.Runtime().Host, "securitySettings", snapshot); err != nil {
		log.Printf("[security] persist settings: %v", err)
	}
}

// AddDuressCode registers a duress code.
func (s *Security) AddDuressCode(dc DuressCode) error {
	if dc.Code == "" {
		return fault.InvalidArgument("duress code is empty")
	}
	s.mu.Lock()
	s.duress[dc.Code] = dc
	snapshot := make(map[string]DuressCode, len(s.duress))
	for k, v := range s.duress {
		snapshot[k] = v
	}
	s.mu.Unlock()
	if err := facade.SaveJSON(s.Runtime().Host, "duressCodes", snapshot); err != nil {
		log.Printf("[security] persist duress codes: %v", err)
	}
	return nil
}

// HandleDuress checks a code against the duress registry. A match raises the
// silent duress response (audit, silent alert, cameras recording) and reports
// true; the caller still performs its normal unlock. No escalation starts.
func (s *Security) HandleDuress(code, lockID string) bool {
	s.mu.Lock()
	dc, ok := s.duress[code]
	s.mu.Unlock()
	if !ok {
		return false
	}
	now := clock.UnixMillis(s.Runtime().Clock)
	s.auditAppend(AuditEntry{
		AtMs:    now,
		Action:  "duress_code_entered",
		Trigger: "lock:" + lockID,
	})
	if dc.SilentAlert {
		contacts := dc.Contacts
		if len(contacts) == 0 {
			s.mu.Lock()
			contacts = s.settings.SilentAlarmContact
			s.mu.Unlock()
		}
		s.silentAlert("Duress code entered at lock "+lockID, contacts)
	}
	s.startAllRecordings()
	return true
}

// Recording reports whether a camera's recording flag is set.
func (s *Security) Recording(cameraID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording[cameraID]
}

func (s *Security) startAllRecordings() {
	s.mu.Lock()
	for _, cam := range s.cameras {
		s.recording[cam.ID()] = true
	}
	s.mu.Unlock()
}

func (s *Security) silentAlert(message string, contacts []string) {
	for _, c := range contacts {
		s.Runtime().Host.Notify(facade.Notification{
			Title:     "Silent alarm",
			Message:   message,
			Priority:  facade.PriorityCritical,
			Category:  "security",
			Recipient: c,
		})
	}
	if len(contacts) == 0 {
		log.Printf("[security] silent alert with no configured contacts: %s", message)
	}
}

// onTamper treats a tamper report from another subsystem as an intrusion.
func (s *Security) onTamper(t bus.Tamper) {
	if s.Mode() == ModeDisarmed {
		log.Printf("[security] tamper on %s while disarmed (%s)", t.DeviceID, t.Kind)
		return
	}
	s.raiseIntrusion(t.DeviceID, "tamper:"+t.Kind, "tamper")
}

// Audit returns the most recent audit entries, newest first.
func (s *Security) Audit(limit int) []AuditEntry {
	return s.audit.Query(nil, limit)
}

// Timeline returns the most recent timeline entries, newest first.
func (s *Security) Timeline(limit int) []TimelineEntry {
	return s.timeline.Query(nil, limit)
}

func (s *Security) auditAppend(e AuditEntry) {
	s.audit.Append(e)
	if err := s.audit.Persist(); err != nil {
		log.Printf("[security] persist audit trail: %v", err)
	}
}

// Destroy tears the subsystem down; safe to call more than once.
func (s *Security) Destroy() {
	s.Base.Destroy(func() {
		if err := s.audit.Persist(); err != nil {
			log.Printf("[security] final audit persist: %v", err)
		}
		s.persistSettings()
	})
}
