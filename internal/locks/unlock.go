package locks

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
)

// UnlockRequest carries the optional credentials of an unlock command.
type UnlockRequest struct {
	UserID     string
	AccessCode string
}

// Unlock validates and performs an unlock. Validation short-circuits in
// order: access schedule, access code, temporary-grant expiry. Denials are
// access-logged and counted toward the failed-attempt tamper rule. A duress
// code unlocks normally while security raises its silent response.
func (l *Locks) Unlock(lockID string, req UnlockRequest) error {
	lk, ok := l.locks.Get(lockID)
	if !ok {
		return fault.NotFound("lock", lockID)
	}

	if req.UserID != "" && l.hasSchedule(req.UserID) {
		if !l.IsAccessAllowed(req.UserID, lockID) {
			l.denyUnlock(lk, req.UserID, ReasonScheduleRestricted)
			return fault.Denied(ReasonScheduleRestricted)
		}
	}

	triggeredBy := "user"
	if req.AccessCode != "" {
		if l.duress != nil && l.duress.HandleDuress(req.AccessCode, lockID) {
			triggeredBy = "code"
		} else if err := l.ValidateAccessCode(req.AccessCode, lockID); err != nil {
			l.denyUnlock(lk, req.UserID, fault.DeniedReason(err))
			return err
		} else {
			triggeredBy = "code"
		}
	}

	if req.UserID != "" && l.expiredGrant(req.UserID) {
		l.denyUnlock(lk, req.UserID, ReasonGrantExpired)
		return fault.Denied(ReasonGrantExpired)
	}

	return l.doUnlock(lk, req.UserID, triggeredBy, true)
}

func (l *Locks) hasSchedule(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.schedules[userID]
	return ok
}

// denyUnlock records a failed attempt and applies the repeated-failure
// tamper rule.
func (l *Locks) denyUnlock(lk *Lock, userID, reason string) {
	l.logAccess(AccessEntry{LockID: lk.ID, UserID: userID, Action: "unlock", Success: false, Reason: reason})
	l.Runtime().Host.Notify(facade.Notification{
		Title:    "Unlock denied",
		Message:  fmt.Sprintf("Unlock of %s denied: %s", lk.Name, reason),
		Priority: facade.PriorityHigh,
		Category: "security",
	})
	l.recordFailedAttempt(lk)
}

func (l *Locks) recordFailedAttempt(lk *Lock) {
	now := l.nowMs()
	cutoff := now - tamperWindow.Milliseconds()

	l.mu.Lock()
	recent := l.failures[lk.ID][:0]
	for _, at := range l.failures[lk.ID] {
		if at >= cutoff {
			recent = append(recent, at)
		}
	}
	recent = append(recent, now)
	l.failures[lk.ID] = recent
	tripped := len(recent) >= tamperAttempts
	l.mu.Unlock()

	if tripped {
		l.raiseTamper(lk, "multiple_failed_attempts")
		l.mu.Lock()
		l.failures[lk.ID] = nil
		l.mu.Unlock()
	}
}

func (l *Locks) raiseTamper(lk *Lock, kind string) {
	l.mu.Lock()
	lk.TamperAlerted = true
	l.mu.Unlock()
	l.Runtime().Bus.Publish(bus.Tamper{DeviceID: lk.ID, Kind: kind, AtMs: l.nowMs()})
	l.Runtime().Host.Notify(facade.Notification{
		Title:    "Lock tamper",
		Message:  fmt.Sprintf("Tamper detected on %s (%s)", lk.Name, kind),
		Priority: facade.PriorityCritical,
		Category: "security",
	})
	log.Printf("[locks] tamper on %s: %s", lk.ID, kind)
}

// doUnlock performs the device write and bookkeeping of a granted unlock.
// propagate guards sync recursion: peer unlocks run with propagate=false.
func (l *Locks) doUnlock(lk *Lock, userID, triggeredBy string, propagate bool) error {
	if err := l.writeLockState(lk, false); err != nil {
		l.logAccess(AccessEntry{LockID: lk.ID, UserID: userID, Action: "unlock", Success: false, Reason: "device_error"})
		return err
	}
	now := l.nowMs()
	l.mu.Lock()
	lk.Locked = false
	lk.LastAccessMs = now
	l.mu.Unlock()

	l.logAccess(AccessEntry{LockID: lk.ID, UserID: userID, Action: "unlock", Success: true, TriggeredBy: triggeredBy})
	l.recordUsage(now)
	l.Runtime().Bus.Publish(bus.LockUnlocked{LockID: lk.ID, UserID: userID, TriggeredBy: triggeredBy, AtMs: now})
	log.Printf("[locks] %s unlocked (%s)", lk.ID, triggeredBy)

	if propagate {
		l.propagateUnlock(lk.ID)
	}
	return nil
}

// Lock locks one lock on user request.
func (l *Locks) Lock(lockID string) error {
	lk, ok := l.locks.Get(lockID)
	if !ok {
		return fault.NotFound("lock", lockID)
	}
	if err := l.doLock(lk, "user"); err != nil {
		return err
	}
	l.propagateLock(lk.ID)
	return nil
}

// doLock performs the device write and bookkeeping of a lock action without
// sync propagation.
func (l *Locks) doLock(lk *Lock, triggeredBy string) error {
	return l.lockDevice(lk, triggeredBy)
}

func (l *Locks) lockDevice(lk *Lock, triggeredBy string) error {
	if err := l.writeLockState(lk, true); err != nil {
		return err
	}
	now := l.nowMs()
	l.mu.Lock()
	lk.Locked = true
	l.mu.Unlock()

	l.logAccess(AccessEntry{LockID: lk.ID, Action: "lock", Success: true, TriggeredBy: triggeredBy})
	l.recordUsage(now)
	l.Runtime().Bus.Publish(bus.LockLocked{LockID: lk.ID, TriggeredBy: triggeredBy, AtMs: now})
	log.Printf("[locks] %s locked (%s)", lk.ID, triggeredBy)
	return nil
}

// writeLockState writes the lock capability. Locks driven through the onoff
// fallback treat on=true as locked.
func (l *Locks) writeLockState(lk *Lock, locked bool) error {
	if lk.dev == nil {
		return nil // state-only lock, used by tests and sync bookkeeping
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.Runtime().Env.DeviceIOTimeout)
	defer cancel()
	if err := l.Runtime().Caps.Write(ctx, lk.dev, lk.unlockCap, locked); err != nil {
		return fault.DeviceUnavailable(lk.ID, err)
	}
	return nil
}

// EmergencyResult reports the per-lock outcome of an emergency unlock.
type EmergencyResult struct {
	LockID string `json:"lockId"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// EmergencyUnlockAll unlocks every lock, collecting per-lock outcomes and
// never aborting on a single failure.
func (l *Locks) EmergencyUnlockAll(reason string) []EmergencyResult {
	var results []EmergencyResult
	for _, lk := range l.locks.Values() {
		res := EmergencyResult{LockID: lk.ID, OK: true}
		if err := l.writeLockState(lk, false); err != nil {
			res.OK = false
			res.Error = err.Error()
		} else {
			now := l.nowMs()
			l.mu.Lock()
			lk.Locked = false
			lk.LastAccessMs = now
			l.mu.Unlock()
			l.Runtime().Bus.Publish(bus.LockUnlocked{LockID: lk.ID, TriggeredBy: "emergency", AtMs: now})
		}
		results = append(results, res)
	}
	l.logAccess(AccessEntry{LockID: "ALL", Action: "emergency_unlock", Success: true, Reason: reason})
	l.Runtime().Host.Notify(facade.Notification{
		Title:    "Emergency unlock",
		Message:  fmt.Sprintf("All locks released: %s", reason),
		Priority: facade.PriorityCritical,
		Category: "security",
	})
	log.Printf("[locks] emergency unlock: %d locks, reason %q", len(results), reason)
	return results
}

// IsDenied reports whether an unlock error was a validation denial rather
// than a device or lookup failure.
func IsDenied(err error) bool {
	return errors.Is(err, fault.ErrDenied)
}
