package locks

import (
	"context"
	"log"
	"time"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
)

// UsageAnalytics is the persisted lockUsageAnalytics snapshot: action counts
// by hour of day and by day of week.
type UsageAnalytics struct {
	HourlyUsage [24]int64 `json:"hourlyUsage"`
	DailyUsage  [7]int64  `json:"dailyUsage"`
}

func (l *Locks) recordUsage(atMs int64) {
	at := time.UnixMilli(atMs)
	l.mu.Lock()
	l.analytics.HourlyUsage[at.Hour()]++
	l.analytics.DailyUsage[int(at.Weekday())]++
	l.mu.Unlock()
}

func (l *Locks) persistAnalytics() {
	l.mu.Lock()
	snapshot := l.analytics
	l.mu.Unlock()
	if err := facade.SaveJSON(l.Runtime().Host, "lockUsageAnalytics", snapshot); err != nil {
		log.Printf("[locks] persist usage analytics: %v", err)
	}
}

// Analytics returns a copy of the usage counters.
func (l *Locks) Analytics() UsageAnalytics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.analytics
}

// monitorTick is the 60 s lock sweep: auto-lock overdue locks, poll tamper
// and battery, sweep expired codes, and persist the usage counters.
func (l *Locks) monitorTick() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.Runtime().Env.DeviceIOTimeout)
	defer cancel()

	l.mu.Lock()
	settings := l.settings
	l.mu.Unlock()

	for _, lk := range l.locks.Values() {
		l.autoLock(lk, settings)
		l.pollTamper(ctx, lk)
		l.pollBattery(ctx, lk, settings.LowBatteryThreshold)
	}
	l.sweepExpiredCodes()
	l.persistAnalytics()
	return nil
}

// autoLock locks an unlocked lock once its idle time exceeds the delay.
func (l *Locks) autoLock(lk *Lock, settings Settings) {
	if !settings.AutoLockEnabled {
		return
	}
	l.mu.Lock()
	locked := lk.Locked
	lastAccess := lk.LastAccessMs
	delay := lk.AutoLockDelayMs
	l.mu.Unlock()
	if locked || lastAccess == 0 {
		return
	}
	if delay == 0 {
		delay = settings.AutoLockDelayMs
	}
	if l.nowMs()-lastAccess <= delay {
		return
	}
	if err := l.doLock(lk, "auto_timer"); err != nil {
		log.Printf("[locks] auto-lock %s: %v", lk.ID, err)
	}
}

func (l *Locks) pollTamper(ctx context.Context, lk *Lock) {
	if lk.dev == nil || !lk.dev.HasCapability(facade.CapAlarmTamper) {
		return
	}
	value, err := l.Runtime().Caps.Bool(ctx, lk.dev, facade.CapAlarmTamper)
	if err != nil {
		log.Printf("[locks] tamper read %s: %v", lk.ID, err)
		return
	}
	l.mu.Lock()
	prev, seen := lk.prevTamp, lk.tampSeen
	lk.prevTamp, lk.tampSeen = value, true
	l.mu.Unlock()
	if seen && !prev && value {
		l.raiseTamper(lk, "alarm_tamper")
	}
	if !value {
		l.mu.Lock()
		lk.TamperAlerted = false
		l.mu.Unlock()
	}
}

func (l *Locks) pollBattery(ctx context.Context, lk *Lock, threshold float64) {
	if lk.dev == nil || !lk.dev.HasCapability(facade.CapMeasureBattery) {
		return
	}
	level, err := l.Runtime().Caps.Float(ctx, lk.dev, facade.CapMeasureBattery)
	if err != nil {
		log.Printf("[locks] battery read %s: %v", lk.ID, err)
		return
	}
	l.mu.Lock()
	lk.Battery = level
	l.mu.Unlock()
	if level < threshold {
		l.Runtime().Bus.Publish(bus.BatteryLow{DeviceID: lk.ID, Level: level, AtMs: l.nowMs()})
	}
}

// SetAutoLock updates the global auto-lock policy.
func (l *Locks) SetAutoLock(enabled bool, delayMs int64) {
	l.mu.Lock()
	l.settings.AutoLockEnabled = enabled
	if delayMs > 0 {
		l.settings.AutoLockDelayMs = delayMs
	}
	l.mu.Unlock()
	l.persistSettings()
}

// SetAutoLockOverride sets one lock's auto-lock delay override; 0 clears it.
func (l *Locks) SetAutoLockOverride(lockID string, delayMs int64) error {
	lk, ok := l.locks.Get(lockID)
	if !ok {
		return fault.NotFound("lock", lockID)
	}
	l.mu.Lock()
	lk.AutoLockDelayMs = delayMs
	l.mu.Unlock()
	return nil
}

func (l *Locks) persistSettings() {
	l.mu.Lock()
	snapshot := l.settings
	l.mu.Unlock()
	if err := facade.SaveJSON(l.Runtime().Host, "lockSettings", snapshot); err != nil {
		log.Printf("[locks] persist settings: %v", err)
	}
}
