// Package facade defines the narrow contract the runtime consumes from the
// external smart-home host: device discovery, typed capability I/O, settings
// persistence, notifications, and flow triggers. Implementations adapt to the
// host SDK; the standalone adapter lives in internal/hostdb.
package facade

import (
	"context"
	"errors"
)

// Capability names read and written through DeviceRef.
const (
	CapAlarmMotion    = "alarm_motion"
	CapAlarmContact   = "alarm_contact"
	CapAlarmWater     = "alarm_water"
	CapAlarmTamper    = "alarm_tamper"
	CapLocked         = "locked"
	CapOnOff          = "onoff"
	CapDim            = "dim"
	CapMeasureBattery = "measure_battery"
	CapMeasureWater   = "measure_water"
	CapMeterWater     = "meter_water"
	CapMeasureTemp    = "measure_temperature"
	CapTargetTemp     = "target_temperature"
)

// ErrCapability reports a failed capability read or write. Callers log it,
// mark the device unreachable for the cycle, and continue.
var ErrCapability = errors.New("capability unavailable")

// ErrIO reports a failed settings read or write.
var ErrIO = errors.New("settings i/o failure")

// DeviceRef is a handle to one external device.
type DeviceRef interface {
	ID() string
	Name() string
	Zone() string
	HasCapability(name string) bool
	GetCapability(ctx context.Context, name string) (any, error)
	SetCapability(ctx context.Context, name string, value any) error
}

// Devices lists the host's known devices.
type Devices interface {
	ListDevices(ctx context.Context) ([]DeviceRef, error)
}

// Settings is the persisted key/value store behind every subsystem snapshot.
// Get returns (nil, nil) for an absent key.
type Settings interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

// Priority of a notification.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Notification is the envelope delivered through the host's notification
// channel. Delivery is fire-and-forget: failures log but never abort callers.
type Notification struct {
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Priority  Priority       `json:"priority"`
	Category  string         `json:"category"`
	Recipient string         `json:"recipient,omitempty"`
	Actions   []string       `json:"actions,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(n Notification)
}

// FlowTrigger fires a host flow card by name.
type FlowTrigger interface {
	TriggerFlow(name string, payload map[string]any) error
}

// Facade is the full host contract.
type Facade interface {
	Devices
	Settings
	Notifier
	FlowTrigger
}
