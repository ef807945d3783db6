package security

// AuditEntry records one security-relevant action in the bounded audit trail.
type AuditEntry struct {
	AtMs    int64  `json:"atMs"`
	Action  string `json:"action"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Trigger string `json:"trigger,omitempty"`
	EventID string `json:"eventId,omitempty"`
	Stage   string `json:"stage,omitempty"`
}

// TimelineEntry records one observable security event with linked evidence.
type TimelineEntry struct {
	AtMs       int64    `json:"atMs"`
	Category   string   `json:"category"`
	DeviceID   string   `json:"deviceId,omitempty"`
	DeviceName string   `json:"deviceName,omitempty"`
	ZoneID     string   `json:"zoneId,omitempty"`
	Detail     string   `json:"detail,omitempty"`
	Evidence   []string `json:"evidence,omitempty"` // camera ids recording at the time
}
