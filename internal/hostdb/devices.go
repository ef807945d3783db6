package hostdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/halcyon-home/halcyon/internal/facade"
)

// DeviceRecord is the stored form of a registered device.
type DeviceRecord struct {
	ID           string
	Name         string
	Zone         string
	Capabilities map[string]any
}

// UpsertDevice registers or updates a device and its capability values.
func (h *Host) UpsertDevice(rec DeviceRecord) error {
	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities for %q: %w", rec.ID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.db.Exec(`
		INSERT INTO devices (id, name, zone, capabilities_json, updated_at_ns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name              = excluded.name,
			zone              = excluded.zone,
			capabilities_json = excluded.capabilities_json,
			updated_at_ns     = excluded.updated_at_ns
	`, rec.ID, rec.Name, rec.Zone, string(caps), h.clk.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert device %q: %w", rec.ID, err)
	}
	return nil
}

// ListDevices returns a DeviceRef for every registered device.
func (h *Host) ListDevices(ctx context.Context) ([]facade.DeviceRef, error) {
	rows, err := h.db.QueryContext(ctx, "SELECT id, name, zone, capabilities_json FROM devices ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []facade.DeviceRef
	for rows.Next() {
		var id, name, zone, capsJSON string
		if err := rows.Scan(&id, &name, &zone, &capsJSON); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		caps := map[string]any{}
		if err := json.Unmarshal([]byte(capsJSON), &caps); err != nil {
			log.Printf("[hostdb] device %q: bad capabilities json, skipping: %v", id, err)
			continue
		}
		out = append(out, &dbDevice{host: h, id: id, name: name, zone: zone, caps: caps})
	}
	return out, rows.Err()
}

// Notify logs the notification. The standalone adapter has no delivery channel.
func (h *Host) Notify(n facade.Notification) {
	log.Printf("[hostdb] notify [%s/%s] %s: %s", n.Priority, n.Category, n.Title, n.Message)
}

// TriggerFlow logs the flow trigger.
func (h *Host) TriggerFlow(name string, payload map[string]any) error {
	log.Printf("[hostdb] trigger flow %q payload=%v", name, payload)
	return nil
}

// dbDevice implements facade.DeviceRef over the devices table.
type dbDevice struct {
	host *Host
	id   string
	name string
	zone string
	caps map[string]any
}

func (d *dbDevice) ID() string   { return d.id }
func (d *dbDevice) Name() string { return d.name }
func (d *dbDevice) Zone() string { return d.zone }

func (d *dbDevice) HasCapability(name string) bool {
	_, ok := d.caps[name]
	return ok
}

func (d *dbDevice) GetCapability(ctx context.Context, name string) (any, error) {
	v, ok := d.caps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", facade.ErrCapability, name, d.id)
	}
	return v, nil
}

func (d *dbDevice) SetCapability(ctx context.Context, name string, value any) error {
	if _, ok := d.caps[name]; !ok {
		return fmt.Errorf("%w: %s on %s", facade.ErrCapability, name, d.id)
	}
	d.caps[name] = value
	return d.host.UpsertDevice(DeviceRecord{ID: d.id, Name: d.name, Zone: d.zone, Capabilities: d.caps})
}
