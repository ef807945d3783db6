// Package mirror drives the hallway mirror dashboard: a presence tick that
// wakes and sleeps the display, and a widget tick that refreshes the data
// snapshot the display renders.
package mirror

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/halcyon-home/halcyon/internal/clock"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/subsys"
)

const (
	presenceCadence = 5 * time.Second
	widgetCadence   = 10 * time.Second

	idleTimeout = 2 * time.Minute
)

// WidgetProvider supplies one widget's data for the dashboard snapshot.
type WidgetProvider func() any

// Mirror is the subsystem instance.
type Mirror struct {
	*subsys.Base

	mu           sync.Mutex
	motion       []facade.DeviceRef
	displayOn    bool
	lastMotionMs int64
	providers    map[string]WidgetProvider
	snapshot     map[string]any
	refreshedMs  int64
}

// New constructs the subsystem.
func New(rt *subsys.Runtime) *Mirror {
	return &Mirror{
		Base:      subsys.NewBase("mirror", rt),
		providers: make(map[string]WidgetProvider),
		snapshot:  make(map[string]any),
	}
}

// Init discovers the hallway motion sensors and registers the ticks.
func (m *Mirror) Init(ctx context.Context) error {
	if err := m.BeginInit(); err != nil {
		return err
	}
	devices, err := m.Runtime().Host.ListDevices(ctx)
	if err != nil {
		log.Printf("[mirror] list devices: %v", err)
	}
	for _, d := range devices {
		if facade.IsMotionSensor(d) {
			m.motion = append(m.motion, d)
		}
	}

	m.RegisterTask("presence", presenceCadence, m.presenceTick)
	m.RegisterTask("widget", widgetCadence, m.widgetTick)

	m.FinishInit()
	return nil
}

// RegisterWidget attaches a named data provider; the widget tick polls it.
func (m *Mirror) RegisterWidget(name string, provider WidgetProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[name] = provider
}

// presenceTick wakes the display on motion and sleeps it after the idle
// timeout.
func (m *Mirror) presenceTick() error {
	ctx := context.Background()
	now := clock.UnixMillis(m.Runtime().Clock)

	seen := false
	for _, dev := range m.motion {
		v, err := m.Runtime().Caps.Bool(ctx, dev, facade.CapAlarmMotion)
		if err != nil {
			continue
		}
		if v {
			seen = true
			break
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if seen {
		m.lastMotionMs = now
		if !m.displayOn {
			m.displayOn = true
			log.Printf("[mirror] display on")
		}
		return nil
	}
	if m.displayOn && now-m.lastMotionMs > idleTimeout.Milliseconds() {
		m.displayOn = false
		log.Printf("[mirror] display off after idle timeout")
	}
	return nil
}

// widgetTick refreshes the snapshot from every registered provider. A
// provider panic is isolated to its own widget.
func (m *Mirror) widgetTick() error {
	m.mu.Lock()
	providers := make(map[string]WidgetProvider, len(m.providers))
	for name, p := range m.providers {
		providers[name] = p
	}
	m.mu.Unlock()

	fresh := make(map[string]any, len(providers))
	for name, provider := range providers {
		fresh[name] = safeProvide(name, provider)
	}

	m.mu.Lock()
	m.snapshot = fresh
	m.refreshedMs = clock.UnixMillis(m.Runtime().Clock)
	m.mu.Unlock()
	return nil
}

func safeProvide(name string, provider WidgetProvider) (v any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[mirror] widget %q panicked: %v", name, r)
			v = nil
		}
	}()
	return provider()
}

// DisplayOn reports whether the display is awake.
func (m *Mirror) DisplayOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayOn
}

// Snapshot returns the last widget refresh and its instant.
func (m *Mirror) Snapshot() (map[string]any, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.snapshot))
	for k, v := range m.snapshot {
		out[k] = v
	}
	return out, m.refreshedMs
}

// Destroy tears the subsystem down; safe to call more than once.
func (m *Mirror) Destroy() {
	m.Base.Destroy(nil)
}
