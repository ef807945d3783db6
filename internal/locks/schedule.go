package locks

import (
	"log"

	"github.com/google/uuid"

	"github.com/halcyon-home/halcyon/internal/config"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
)

// AccessSchedule restricts when a user may unlock. Times are zero-padded
// "HH:MM"; comparisons are lexicographic. An empty AllowedLocks set means
// every lock.
type AccessSchedule struct {
	UserID       string   `json:"userId"`
	AllowedDays  []int    `json:"allowedDays"` // 0=Sunday .. 6=Saturday
	StartTime    string   `json:"allowedStartTime"`
	EndTime      string   `json:"allowedEndTime"`
	AllowedLocks []string `json:"allowedLocks,omitempty"`
}

// TemporaryGrant gives a user unrestricted unlock until it expires.
type TemporaryGrant struct {
	UserID      string   `json:"userId"`
	ExpiresAtMs int64    `json:"expiresAtMs"`
	LockIDs     []string `json:"lockIds,omitempty"`
}

// RegisteredKey is one physical or digital key in the registry.
type RegisteredKey struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Holder     string `json:"holder"`
	Kind       string `json:"kind"` // "physical", "fob", "digital"
	IssuedAtMs int64  `json:"issuedAtMs"`
	Active     bool   `json:"active"`
}

// SetAccessSchedule stores a user's schedule, normalizing the window times.
func (l *Locks) SetAccessSchedule(sched AccessSchedule) error {
	if sched.UserID == "" {
		return fault.InvalidArgument("access schedule needs a user id")
	}
	if len(sched.AllowedDays) == 0 {
		return fault.InvalidArgument("access schedule needs at least one allowed day")
	}
	for _, d := range sched.AllowedDays {
		if d < 0 || d > 6 {
			return fault.InvalidArgument("allowed day %d out of range", d)
		}
	}
	var err error
	if sched.StartTime, err = config.NormalizeHHMM(sched.StartTime); err != nil {
		return err
	}
	if sched.EndTime, err = config.NormalizeHHMM(sched.EndTime); err != nil {
		return err
	}
	l.mu.Lock()
	l.schedules[sched.UserID] = &sched
	l.mu.Unlock()
	l.persistSchedules()
	return nil
}

// RemoveAccessSchedule deletes a user's schedule.
func (l *Locks) RemoveAccessSchedule(userID string) error {
	l.mu.Lock()
	_, ok := l.schedules[userID]
	delete(l.schedules, userID)
	l.mu.Unlock()
	if !ok {
		return fault.NotFound("access schedule", userID)
	}
	l.persistSchedules()
	return nil
}

// IsAccessAllowed reports whether a user's schedule admits an unlock of the
// given lock right now. A user without a schedule is unrestricted.
func (l *Locks) IsAccessAllowed(userID, lockID string) bool {
	l.mu.Lock()
	sched, ok := l.schedules[userID]
	l.mu.Unlock()
	if !ok {
		return true
	}
	now := l.Runtime().Clock.Now()
	day := int(now.Weekday())
	dayOK := false
	for _, d := range sched.AllowedDays {
		if d == day {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}
	if !config.TimeOfDayWithin(now.Format("15:04"), sched.StartTime, sched.EndTime) {
		return false
	}
	if len(sched.AllowedLocks) == 0 {
		return true
	}
	for _, id := range sched.AllowedLocks {
		if id == lockID {
			return true
		}
	}
	return false
}

// GrantTemporaryAccess gives a user unlock rights until expiresAtMs.
func (l *Locks) GrantTemporaryAccess(userID string, expiresAtMs int64, lockIDs []string) error {
	if userID == "" {
		return fault.InvalidArgument("temporary grant needs a user id")
	}
	if expiresAtMs <= l.nowMs() {
		return fault.InvalidArgument("temporary grant expiry is in the past")
	}
	l.mu.Lock()
	l.grants[userID] = &TemporaryGrant{UserID: userID, ExpiresAtMs: expiresAtMs, LockIDs: lockIDs}
	l.mu.Unlock()
	return nil
}

// RevokeTemporaryAccess removes a user's grant.
func (l *Locks) RevokeTemporaryAccess(userID string) {
	l.mu.Lock()
	delete(l.grants, userID)
	l.mu.Unlock()
}

// expiredGrant reports and removes an expired grant for the user, if any.
func (l *Locks) expiredGrant(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.grants[userID]
	if !ok {
		return false
	}
	if l.nowMs() > g.ExpiresAtMs {
		delete(l.grants, userID)
		return true
	}
	return false
}

// RegisterKey adds a key to the registry and returns its id.
func (l *Locks) RegisterKey(key RegisteredKey) (string, error) {
	if key.Name == "" {
		return "", fault.InvalidArgument("key needs a name")
	}
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	key.IssuedAtMs = l.nowMs()
	key.Active = true
	l.mu.Lock()
	l.keys[key.ID] = &key
	l.mu.Unlock()
	l.persistKeys()
	return key.ID, nil
}

// DeactivateKey marks a key inactive without deleting its record.
func (l *Locks) DeactivateKey(id string) error {
	l.mu.Lock()
	key, ok := l.keys[id]
	if ok {
		key.Active = false
	}
	l.mu.Unlock()
	if !ok {
		return fault.NotFound("key", id)
	}
	l.persistKeys()
	return nil
}

func (l *Locks) persistSchedules() {
	l.mu.Lock()
	snapshot := make(map[string]*AccessSchedule, len(l.schedules))
	for k, v := range l.schedules {
		snapshot[k] = v
	}
	l.mu.Unlock()
	if err := facade.SaveJSON(l.Runtime().Host, "accessSchedules", snapshot); err != nil {
		log.Printf("[locks] persist access schedules: %v", err)
	}
}

func (l *Locks) persistKeys() {
	l.mu.Lock()
	snapshot := make(map[string]*RegisteredKey, len(l.keys))
	for k, v := range l.keys {
		snapshot[k] = v
	}
	l.mu.Unlock()
	if err := facade.SaveJSON(l.Runtime().Host, "keyRegistry", snapshot); err != nil {
		log.Printf("[locks] persist key registry: %v", err)
	}
}
