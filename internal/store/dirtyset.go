package store

import "sync"

// DirtyOp is the pending persistence operation for a key.
type DirtyOp int

const (
	// OpUpsert marks a key whose current value is read from memory at flush time.
	OpUpsert DirtyOp = iota
	// OpDelete marks a key for removal from persistence.
	OpDelete
)

// DirtySet tracks keys whose persisted form is stale. Values are never stored
// here; the flusher reads the current in-memory value when it drains.
type DirtySet[K comparable] struct {
	mu sync.Mutex
	m  map[K]DirtyOp
}

// NewDirtySet creates an empty DirtySet.
func NewDirtySet[K comparable]() *DirtySet[K] {
	return &DirtySet[K]{m: make(map[K]DirtyOp)}
}

// MarkUpsert marks a key for upsert.
func (d *DirtySet[K]) MarkUpsert(key K) {
	d.mu.Lock()
	d.m[key] = OpUpsert
	d.mu.Unlock()
}

// MarkDelete marks a key for deletion.
func (d *DirtySet[K]) MarkDelete(key K) {
	d.mu.Lock()
	d.m[key] = OpDelete
	d.mu.Unlock()
}

// Drain swaps the internal map for a fresh one and returns the old map as a
// stable snapshot. Marks arriving after Drain land in the new map.
func (d *DirtySet[K]) Drain() map[K]DirtyOp {
	d.mu.Lock()
	old := d.m
	d.m = make(map[K]DirtyOp, len(old)/2)
	d.mu.Unlock()
	return old
}

// Merge restores a drained snapshot after a failed flush. Keys re-dirtied
// since the drain keep their newer mark.
func (d *DirtySet[K]) Merge(old map[K]DirtyOp) {
	d.mu.Lock()
	for k, v := range old {
		if _, exists := d.m[k]; !exists {
			d.m[k] = v
		}
	}
	d.mu.Unlock()
}

// Len returns the current number of dirty keys.
func (d *DirtySet[K]) Len() int {
	d.mu.Lock()
	n := len(d.m)
	d.mu.Unlock()
	return n
}
