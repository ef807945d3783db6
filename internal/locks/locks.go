// Package locks implements the smart lock subsystem: lock/unlock with
// layered validation (access schedules, access codes, temporary grants),
// lock sync groups, auto-lock, tamper detection, emergency unlock, and
// usage analytics.
package locks

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/clock"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
	"github.com/halcyon-home/halcyon/internal/store"
	"github.com/halcyon-home/halcyon/internal/subsys"
)

const monitorCadence = 60 * time.Second

// failed-attempt tamper rule
const (
	tamperAttempts = 3
	tamperWindow   = 300 * time.Second
)

// Lock is one managed lock device.
type Lock struct {
	ID              string
	Name            string
	Zone            string
	Locked          bool
	LastAccessMs    int64
	AutoLockDelayMs int64 // 0 means use the global default
	Battery         float64
	TamperAlerted   bool

	dev       facade.DeviceRef
	prevTamp  bool
	tampSeen  bool
	unlockCap string // "locked" or "onoff" fallback
}

// Settings is the persisted lockSettings snapshot.
type Settings struct {
	AutoLockEnabled     bool    `json:"autoLockEnabled"`
	AutoLockDelayMs     int64   `json:"autoLockDelay"`
	LockBehindMeEnabled bool    `json:"lockBehindMeEnabled"`
	SyncGroupsEnabled   bool    `json:"syncGroupsEnabled"`
	LowBatteryThreshold float64 `json:"lowBatteryThreshold"`
}

func defaultSettings() Settings {
	return Settings{
		AutoLockEnabled:     true,
		AutoLockDelayMs:     300000,
		LockBehindMeEnabled: false,
		SyncGroupsEnabled:   true,
		LowBatteryThreshold: 20,
	}
}

// DuressChecker is the narrow security-subsystem hook consulted on every
// code-bearing unlock. A true result means the code was a duress code: the
// unlock proceeds normally while security raises the silent response.
type DuressChecker interface {
	HandleDuress(code, lockID string) bool
}

// AccessEntry is one access-log record.
type AccessEntry struct {
	AtMs        int64  `json:"atMs"`
	LockID      string `json:"lockId"`
	UserID      string `json:"userId,omitempty"`
	Action      string `json:"action"` // "unlock", "lock", "emergency_unlock"
	Success     bool   `json:"success"`
	Reason      string `json:"reason,omitempty"`
	TriggeredBy string `json:"triggeredBy,omitempty"`
}

// Locks is the subsystem instance.
type Locks struct {
	*subsys.Base

	duress DuressChecker // optional, wired at composition

	mu        sync.Mutex
	settings  Settings
	codes     map[string]*AccessCode
	groups    map[string]*SyncGroup
	schedules map[string]*AccessSchedule // keyed by userId
	grants    map[string]*TemporaryGrant // keyed by userId
	keys      map[string]*RegisteredKey
	analytics UsageAnalytics
	failures  map[string][]int64 // lockId -> failed-unlock instants (ms)

	locks *store.Table[string, *Lock]

	accessLog *store.BoundedLog[AccessEntry]
}

// New constructs the subsystem. duress may be nil.
func New(rt *subsys.Runtime, duress DuressChecker) *Locks {
	l := &Locks{
		Base:      subsys.NewBase("locks", rt),
		duress:    duress,
		settings:  defaultSettings(),
		codes:     make(map[string]*AccessCode),
		groups:    make(map[string]*SyncGroup),
		schedules: make(map[string]*AccessSchedule),
		grants:    make(map[string]*TemporaryGrant),
		keys:      make(map[string]*RegisteredKey),
		failures:  make(map[string][]int64),
		locks:     store.NewTable[string, *Lock](),
	}
	l.accessLog = store.NewBoundedLog[AccessEntry](rt.Env.AccessLogCapacity)
	return l
}

// Init loads persisted collections, discovers lock devices, and starts the
// monitoring task.
func (l *Locks) Init(ctx context.Context) error {
	if err := l.BeginInit(); err != nil {
		return err
	}
	rt := l.Runtime()

	if found, err := facade.LoadJSON(rt.Host, "lockSettings", &l.settings); err != nil {
		log.Printf("[locks] load settings: %v", err)
	} else if !found {
		l.settings = defaultSettings()
	}
	if _, err := facade.LoadJSON(rt.Host, "accessCodes", &l.codes); err != nil {
		log.Printf("[locks] load access codes: %v", err)
	}
	if _, err := facade.LoadJSON(rt.Host, "lockSyncGroups", &l.groups); err != nil {
		log.Printf("[locks] load sync groups: %v", err)
	}
	if _, err := facade.LoadJSON(rt.Host, "accessSchedules", &l.schedules); err != nil {
		log.Printf("[locks] load access schedules: %v", err)
	}
	if _, err := facade.LoadJSON(rt.Host, "keyRegistry", &l.keys); err != nil {
		log.Printf("[locks] load key registry: %v", err)
	}
	if _, err := facade.LoadJSON(rt.Host, "lockUsageAnalytics", &l.analytics); err != nil {
		log.Printf("[locks] load usage analytics: %v", err)
	}

	if err := l.discoverLocks(ctx); err != nil {
		log.Printf("[locks] device discovery: %v", err)
	}

	l.RegisterTask("monitor", monitorCadence, l.monitorTick)

	l.Subscribe(bus.TagSecurityModeChanged, func(ev bus.Event) {
		change := ev.(bus.SecurityModeChanged)
		l.onSecurityModeChanged(change)
	})

	l.FinishInit()
	return nil
}

func (l *Locks) discoverLocks(ctx context.Context) error {
	rt := l.Runtime()
	devices, err := rt.Host.ListDevices(ctx)
	if err != nil {
		return err
	}
	count := 0
	for _, dev := range devices {
		if !facade.IsLock(dev) {
			continue
		}
		lk := &Lock{
			ID:        dev.ID(),
			Name:      dev.Name(),
			Zone:      dev.Zone(),
			Locked:    true,
			dev:       dev,
			unlockCap: facade.CapLocked,
		}
		if !dev.HasCapability(facade.CapLocked) {
			lk.unlockCap = facade.CapOnOff
		}
		if v, err := rt.Caps.Bool(ctx, dev, lk.unlockCap); err == nil {
			lk.Locked = v
		}
		l.locks.Put(lk.ID, lk)
		count++
	}
	log.Printf("[locks] discovered %d locks", count)
	return nil
}

func (l *Locks) nowMs() int64 {
	return clock.UnixMillis(l.Runtime().Clock)
}

// LockState returns a copy of one lock's state.
func (l *Locks) LockState(lockID string) (Lock, error) {
	lk, ok := l.locks.Get(lockID)
	if !ok {
		return Lock{}, fault.NotFound("lock", lockID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return *lk, nil
}

// AccessLog returns the most recent access entries, newest first.
func (l *Locks) AccessLog(limit int) []AccessEntry {
	return l.accessLog.Query(nil, limit)
}

func (l *Locks) logAccess(e AccessEntry) {
	e.AtMs = l.nowMs()
	l.accessLog.Append(e)
}

// onSecurityModeChanged locks every unlocked lock when the house arms to
// away mode, if lock-behind-me is enabled.
func (l *Locks) onSecurityModeChanged(change bus.SecurityModeChanged) {
	l.mu.Lock()
	enabled := l.settings.LockBehindMeEnabled
	l.mu.Unlock()
	if !enabled || change.To != "armed_away" {
		return
	}
	for _, lk := range l.locks.Values() {
		l.mu.Lock()
		unlocked := !lk.Locked
		l.mu.Unlock()
		if unlocked {
			if err := l.doLock(lk, "lock_behind_me"); err != nil {
				log.Printf("[locks] lock-behind-me %s: %v", lk.ID, err)
			}
		}
	}
}

// Destroy tears the subsystem down; safe to call more than once.
func (l *Locks) Destroy() {
	l.Base.Destroy(func() {
		l.persistAnalytics()
	})
}
