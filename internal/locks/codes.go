package locks

import (
	"log"

	"github.com/halcyon-home/halcyon/internal/config"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
)

// Access-code types.
const (
	CodePermanent = "permanent"
	CodeTemporary = "temporary"
)

// Validation outcomes surfaced as Denied reasons.
const (
	ReasonCodeNotFound       = "code_not_found"
	ReasonCodeDisabled       = "code_disabled"
	ReasonCodeExpired        = "expired"
	ReasonLockNotAllowed     = "lock_not_allowed"
	ReasonMaxUsesReached     = "max_uses_reached"
	ReasonScheduleRestricted = "schedule_restricted"
	ReasonGrantExpired       = "grant_expired"
)

// AccessCode is a persisted unlock credential. A nil UsesRemaining means
// unlimited uses; an empty AllowedLocks set means every lock.
type AccessCode struct {
	Code          string   `json:"code"`
	Type          string   `json:"type"`
	Enabled       bool     `json:"enabled"`
	CreatedAtMs   int64    `json:"createdAtMs"`
	ExpiresAtMs   int64    `json:"expiresAtMs,omitempty"`
	AllowedLocks  []string `json:"allowedLocks,omitempty"`
	UsesRemaining *int     `json:"usesRemaining,omitempty"`
}

func (c *AccessCode) allowsLock(lockID string) bool {
	if len(c.AllowedLocks) == 0 {
		return true
	}
	for _, id := range c.AllowedLocks {
		if id == lockID {
			return true
		}
	}
	return false
}

// CreateAccessCode validates and stores a code. Temporary codes must carry an
// expiry; permanent codes are strength-checked.
func (l *Locks) CreateAccessCode(code AccessCode) error {
	if code.Code == "" {
		return fault.InvalidArgument("access code is empty")
	}
	switch code.Type {
	case CodePermanent:
		if config.IsWeakAccessCode(code.Code) {
			return fault.InvalidArgument("access code %q is too weak", code.Code)
		}
	case CodeTemporary:
		if code.ExpiresAtMs == 0 {
			return fault.InvalidArgument("temporary access code needs an expiry")
		}
	default:
		return fault.InvalidArgument("access code type %q", code.Type)
	}
	if code.UsesRemaining != nil && *code.UsesRemaining < 0 {
		return fault.InvalidArgument("uses remaining must be >= 0")
	}
	code.Enabled = true
	code.CreatedAtMs = l.nowMs()

	l.mu.Lock()
	l.codes[code.Code] = &code
	l.mu.Unlock()
	l.persistCodes()
	return nil
}

// RemoveAccessCode deletes a code.
func (l *Locks) RemoveAccessCode(code string) error {
	l.mu.Lock()
	_, ok := l.codes[code]
	delete(l.codes, code)
	l.mu.Unlock()
	if !ok {
		return fault.NotFound("access code", code)
	}
	l.persistCodes()
	return nil
}

// ValidateAccessCode checks a code against one lock and consumes a use on
// success. Expired and exhausted codes are disabled and persisted; a wrong
// lock leaves the code untouched.
func (l *Locks) ValidateAccessCode(code, lockID string) error {
	l.mu.Lock()
	c, ok := l.codes[code]
	if !ok {
		l.mu.Unlock()
		return fault.Denied(ReasonCodeNotFound)
	}
	if !c.Enabled {
		l.mu.Unlock()
		return fault.Denied(ReasonCodeDisabled)
	}
	if c.ExpiresAtMs != 0 && l.nowMs() >= c.ExpiresAtMs {
		c.Enabled = false
		l.mu.Unlock()
		l.persistCodes()
		return fault.Denied(ReasonCodeExpired)
	}
	if !c.allowsLock(lockID) {
		l.mu.Unlock()
		return fault.Denied(ReasonLockNotAllowed)
	}
	if c.UsesRemaining != nil {
		if *c.UsesRemaining <= 0 {
			c.Enabled = false
			l.mu.Unlock()
			l.persistCodes()
			return fault.Denied(ReasonMaxUsesReached)
		}
		*c.UsesRemaining--
		if *c.UsesRemaining == 0 {
			c.Enabled = false
		}
	}
	l.mu.Unlock()
	l.persistCodes()
	return nil
}

// AccessCodeState returns a copy of one code's state.
func (l *Locks) AccessCodeState(code string) (AccessCode, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.codes[code]
	if !ok {
		return AccessCode{}, fault.NotFound("access code", code)
	}
	cp := *c
	if c.UsesRemaining != nil {
		uses := *c.UsesRemaining
		cp.UsesRemaining = &uses
	}
	return cp, nil
}

// sweepExpiredCodes disables every code past its expiry. Runs on the
// monitoring cadence rather than a per-code timer.
func (l *Locks) sweepExpiredCodes() {
	now := l.nowMs()
	changed := false
	l.mu.Lock()
	for _, c := range l.codes {
		if c.Enabled && c.ExpiresAtMs != 0 && now > c.ExpiresAtMs {
			c.Enabled = false
			changed = true
		}
	}
	l.mu.Unlock()
	if changed {
		l.persistCodes()
	}
}

func (l *Locks) persistCodes() {
	l.mu.Lock()
	snapshot := make(map[string]*AccessCode, len(l.codes))
	for k, v := range l.codes {
		snapshot[k] = v
	}
	l.mu.Unlock()
	if err := facade.SaveJSON(l.Runtime().Host, "accessCodes", snapshot); err != nil {
		log.Printf("[locks] persist access codes: %v", err)
	}
}
