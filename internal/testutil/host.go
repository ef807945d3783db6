// Package testutil provides the in-memory host stub shared by subsystem tests.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/halcyon-home/halcyon/internal/facade"
)

// FakeHost implements facade.Facade entirely in memory.
type FakeHost struct {
	mu            sync.Mutex
	settings      map[string][]byte
	devices       []*FakeDevice
	notifications []facade.Notification
	flows         []FlowCall

	// SettingsErr, when set, is returned by every Get/Set.
	SettingsErr error
}

// FlowCall records one TriggerFlow invocation.
type FlowCall struct {
	Name    string
	Payload map[string]any
}

// NewFakeHost creates an empty FakeHost.
func NewFakeHost() *FakeHost {
	return &FakeHost{settings: make(map[string][]byte)}
}

// AddDevice registers a fake device and returns it for capability seeding.
func (h *FakeHost) AddDevice(id, name, zone string, caps map[string]any) *FakeDevice {
	if caps == nil {
		caps = map[string]any{}
	}
	d := &FakeDevice{id: id, name: name, zone: zone, caps: caps}
	h.mu.Lock()
	h.devices = append(h.devices, d)
	h.mu.Unlock()
	return d
}

func (h *FakeHost) ListDevices(ctx context.Context) ([]facade.DeviceRef, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]facade.DeviceRef, len(h.devices))
	for i, d := range h.devices {
		out[i] = d
	}
	return out, nil
}

func (h *FakeHost) Get(key string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.SettingsErr != nil {
		return nil, h.SettingsErr
	}
	v, ok := h.settings[key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (h *FakeHost) Set(key string, value []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.SettingsErr != nil {
		return h.SettingsErr
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	h.settings[key] = cp
	return nil
}

func (h *FakeHost) Notify(n facade.Notification) {
	h.mu.Lock()
	h.notifications = append(h.notifications, n)
	h.mu.Unlock()
}

func (h *FakeHost) TriggerFlow(name string, payload map[string]any) error {
	h.mu.Lock()
	h.flows = append(h.flows, FlowCall{Name: name, Payload: payload})
	h.mu.Unlock()
	return nil
}

// Notifications returns a snapshot of all delivered notifications.
func (h *FakeHost) Notifications() []facade.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]facade.Notification, len(h.notifications))
	copy(out, h.notifications)
	return out
}

// Flows returns a snapshot of all flow triggers.
func (h *FakeHost) Flows() []FlowCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]FlowCall, len(h.flows))
	copy(out, h.flows)
	return out
}

// HasSetting reports whether a key has been persisted.
func (h *FakeHost) HasSetting(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.settings[key]
	return ok
}

// FakeDevice implements facade.DeviceRef with settable capability values.
type FakeDevice struct {
	id, name, zone string

	mu   sync.Mutex
	caps map[string]any

	// FailCaps lists capabilities whose reads and writes fail.
	FailCaps map[string]bool

	writes []CapWrite
}

// CapWrite records one SetCapability call.
type CapWrite struct {
	Capability string
	Value      any
}

func (d *FakeDevice) ID() string   { return d.id }
func (d *FakeDevice) Name() string { return d.name }
func (d *FakeDevice) Zone() string { return d.zone }

func (d *FakeDevice) HasCapability(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.caps[name]
	return ok
}

func (d *FakeDevice) GetCapability(ctx context.Context, name string) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailCaps[name] {
		return nil, fmt.Errorf("%w: %s on %s", facade.ErrCapability, name, d.id)
	}
	v, ok := d.caps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", facade.ErrCapability, name, d.id)
	}
	return v, nil
}

func (d *FakeDevice) SetCapability(ctx context.Context, name string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailCaps[name] {
		return fmt.Errorf("%w: %s on %s", facade.ErrCapability, name, d.id)
	}
	d.caps[name] = value
	d.writes = append(d.writes, CapWrite{Capability: name, Value: value})
	return nil
}

// SetCap updates a capability value directly (simulating the device itself).
func (d *FakeDevice) SetCap(name string, value any) {
	d.mu.Lock()
	d.caps[name] = value
	d.mu.Unlock()
}

// Cap reads a capability value directly.
func (d *FakeDevice) Cap(name string) any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps[name]
}

// Writes returns a snapshot of recorded capability writes.
func (d *FakeDevice) Writes() []CapWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]CapWrite, len(d.writes))
	copy(out, d.writes)
	return out
}
