package bus

// Tag identifies an event type. Every payload struct carries exactly one tag.
type Tag string

const (
	TagSecurityModeChanged Tag = "security_mode_changed"
	TagIntrusionDetected   Tag = "intrusion_detected"
	TagEscalationCancelled Tag = "escalation_cancelled"
	TagTamper              Tag = "tamper"
	TagLeakDetected        Tag = "leak_detected"
	TagLeakResolved        Tag = "leak_resolved"
	TagZoneDeviation       Tag = "zone_deviation"
	TagSetbackActivated    Tag = "setback_activated"
	TagComfortResumed      Tag = "comfort_resumed"
	TagBatteryLow          Tag = "battery_low"
	TagLockUnlocked        Tag = "lock_unlocked"
	TagLockLocked          Tag = "lock_locked"
	TagAnomalyDetected     Tag = "anomaly_detected"
	TagPackageUpdate       Tag = "package_update"
	TagWebhookReceived     Tag = "webhook_received"
	TagIntegrationEvent    Tag = "integration_event"
	TagEventDropped        Tag = "event_dropped"
	TagTaskOverlap         Tag = "task_overlap"
)

// Event is implemented by every payload struct.
type Event interface {
	EventTag() Tag
}

// SecurityModeChanged reports an arm/disarm transition.
type SecurityModeChanged struct {
	From    string
	To      string
	Trigger string // "user", "geofence", "schedule"
	AtMs    int64
}

func (SecurityModeChanged) EventTag() Tag { return TagSecurityModeChanged }

// IntrusionDetected reports an alarm edge on an armed sensor.
type IntrusionDetected struct {
	EventID    string
	DeviceID   string
	DeviceName string
	ZoneID     string
	SensorKind string // "motion" or "contact"
	AtMs       int64
}

func (IntrusionDetected) EventTag() Tag { return TagIntrusionDetected }

// EscalationCancelled reports that an escalation chain was stopped.
type EscalationCancelled struct {
	EventID string
	Stage   string
	AtMs    int64
}

func (EscalationCancelled) EventTag() Tag { return TagEscalationCancelled }

// Tamper reports a tamper condition on a lock or sensor.
type Tamper struct {
	DeviceID string
	Kind     string // "alarm_tamper" or "multiple_failed_attempts"
	AtMs     int64
}

func (Tamper) EventTag() Tag { return TagTamper }

// LeakDetected reports a water-alarm edge.
type LeakDetected struct {
	DeviceID   string
	DeviceName string
	Hidden     bool // true for the night-flow hidden-leak rule
	AtMs       int64
}

func (LeakDetected) EventTag() Tag { return TagLeakDetected }

// LeakResolved reports a water alarm clearing.
type LeakResolved struct {
	DeviceID string
	AtMs     int64
}

func (LeakResolved) EventTag() Tag { return TagLeakResolved }

// ZoneDeviation reports a zone temperature far from its effective target.
type ZoneDeviation struct {
	ZoneID  string
	Current float64
	Target  float64
	AtMs    int64
}

func (ZoneDeviation) EventTag() Tag { return TagZoneDeviation }

// SetbackActivated reports an unoccupied zone entering setback.
type SetbackActivated struct {
	ZoneID string
	AtMs   int64
}

func (SetbackActivated) EventTag() Tag { return TagSetbackActivated }

// ComfortResumed reports occupancy returning to a setback zone.
type ComfortResumed struct {
	ZoneID string
	AtMs   int64
}

func (ComfortResumed) EventTag() Tag { return TagComfortResumed }

// BatteryLow reports a device battery under threshold.
type BatteryLow struct {
	DeviceID string
	Level    float64
	AtMs     int64
}

func (BatteryLow) EventTag() Tag { return TagBatteryLow }

// LockUnlocked reports a successful unlock.
type LockUnlocked struct {
	LockID      string
	UserID      string
	TriggeredBy string // "user", "code", "sync", "emergency"
	AtMs        int64
}

func (LockUnlocked) EventTag() Tag { return TagLockUnlocked }

// LockLocked reports a lock action.
type LockLocked struct {
	LockID      string
	TriggeredBy string // "user", "auto_timer", "sync", "lock_behind_me"
	AtMs        int64
}

func (LockLocked) EventTag() Tag { return TagLockLocked }

// AnomalyDetected reports a consumption-stream z-score excursion.
type AnomalyDetected struct {
	StreamID string
	Value    float64
	ZScore   float64
	Severity string // "medium", "high", "critical"
	AtMs     int64
}

func (AnomalyDetected) EventTag() Tag { return TagAnomalyDetected }

// PackageUpdate reports a tracked delivery changing status.
type PackageUpdate struct {
	TrackingNumber string
	Status         string
	AtMs           int64
}

func (PackageUpdate) EventTag() Tag { return TagPackageUpdate }

// WebhookReceived reports a verified webhook delivery.
type WebhookReceived struct {
	WebhookID  string
	DeliveryID string
	AtMs       int64
}

func (WebhookReceived) EventTag() Tag { return TagWebhookReceived }

// IntegrationEvent is a named event raised by an integration-hub webhook
// action, carrying the parsed delivery payload.
type IntegrationEvent struct {
	Name    string
	Payload map[string]any
	AtMs    int64
}

func (IntegrationEvent) EventTag() Tag { return TagIntegrationEvent }

// EventDropped is the back-pressure diagnostic published when a subscriber's
// mailbox overflows. It is queued against a separate diagnostic budget and is
// never itself head-evicted.
type EventDropped struct {
	Tag        Tag
	Subscriber string
}

func (EventDropped) EventTag() Tag { return TagEventDropped }

// TaskOverlap is the scheduler diagnostic published when a tick is dropped
// because the previous invocation of the task is still running.
type TaskOverlap struct {
	Task string
}

func (TaskOverlap) EventTag() Tag { return TagTaskOverlap }
