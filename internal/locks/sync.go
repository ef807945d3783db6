package locks

import (
	"log"

	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
)

// SyncGroup is a named set of locks whose lock/unlock actions propagate to
// each other.
type SyncGroup struct {
	Name    string   `json:"name"`
	LockIDs []string `json:"lockIds"`
	Enabled bool     `json:"enabled"`
}

// CreateSyncGroup validates and stores a group. At least two of the named
// locks must exist.
func (l *Locks) CreateSyncGroup(name string, lockIDs []string) error {
	if name == "" {
		return fault.InvalidArgument("sync group needs a name")
	}
	valid := make([]string, 0, len(lockIDs))
	for _, id := range lockIDs {
		if _, ok := l.locks.Get(id); ok {
			valid = append(valid, id)
		}
	}
	if len(valid) < 2 {
		return fault.InvalidArgument("sync group %q needs at least 2 valid locks, got %d", name, len(valid))
	}
	l.mu.Lock()
	l.groups[name] = &SyncGroup{Name: name, LockIDs: valid, Enabled: true}
	l.mu.Unlock()
	l.persistGroups()
	return nil
}

// RemoveSyncGroup deletes a group.
func (l *Locks) RemoveSyncGroup(name string) error {
	l.mu.Lock()
	_, ok := l.groups[name]
	delete(l.groups, name)
	l.mu.Unlock()
	if !ok {
		return fault.NotFound("sync group", name)
	}
	l.persistGroups()
	return nil
}

// SetSyncGroupEnabled toggles one group.
func (l *Locks) SetSyncGroupEnabled(name string, enabled bool) error {
	l.mu.Lock()
	g, ok := l.groups[name]
	if ok {
		g.Enabled = enabled
	}
	l.mu.Unlock()
	if !ok {
		return fault.NotFound("sync group", name)
	}
	l.persistGroups()
	return nil
}

// syncPeers returns the other members of every enabled group containing the
// lock. Empty when sync groups are globally disabled.
func (l *Locks) syncPeers(lockID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.settings.SyncGroupsEnabled {
		return nil
	}
	seen := map[string]bool{lockID: true}
	var peers []string
	for _, g := range l.groups {
		if !g.Enabled {
			continue
		}
		member := false
		for _, id := range g.LockIDs {
			if id == lockID {
				member = true
				break
			}
		}
		if !member {
			continue
		}
		for _, id := range g.LockIDs {
			if !seen[id] {
				seen[id] = true
				peers = append(peers, id)
			}
		}
	}
	return peers
}

// propagateUnlock unlocks the peers of a lock that was just unlocked. The
// propagate flag has already been consumed by the caller, so peer unlocks
// never re-enter propagation.
func (l *Locks) propagateUnlock(lockID string) {
	for _, peer := range l.syncPeers(lockID) {
		lk, ok := l.locks.Get(peer)
		if !ok {
			continue
		}
		if err := l.doUnlock(lk, "", "sync", false); err != nil {
			log.Printf("[locks] sync unlock %s: %v", peer, err)
		}
	}
}

// propagateLock mirrors propagateUnlock for lock actions.
func (l *Locks) propagateLock(lockID string) {
	for _, peer := range l.syncPeers(lockID) {
		lk, ok := l.locks.Get(peer)
		if !ok {
			continue
		}
		l.mu.Lock()
		locked := lk.Locked
		l.mu.Unlock()
		if !locked {
			if err := l.lockDevice(lk, "sync"); err != nil {
				log.Printf("[locks] sync lock %s: %v", peer, err)
			}
		}
	}
}

func (l *Locks) persistGroups() {
	l.mu.Lock()
	snapshot := make(map[string]*SyncGroup, len(l.groups))
	for k, v := range l.groups {
		snapshot[k] = v
	}
	l.mu.Unlock()
	if err := facade.SaveJSON(l.Runtime().Host, "lockSyncGroups", snapshot); err != nil {
		log.Printf("[locks] persist sync groups: %v", err)
	}
}
