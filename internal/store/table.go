// Package store provides the shared state-store primitives: concurrent typed
// tables, bounded append-only logs, and dirty-key tracking for deferred
// persistence. Each subsystem owns its own tables; cross-subsystem access is
// by id through a narrow query interface, never by shared mutable reference.
package store

import "github.com/puzpuzpuz/xsync/v4"

// Table is a concurrent mapping of unique keys to entity values.
type Table[K comparable, V any] struct {
	m *xsync.Map[K, V]
}

// NewTable creates an empty Table.
func NewTable[K comparable, V any]() *Table[K, V] {
	return &Table[K, V]{m: xsync.NewMap[K, V]()}
}

// Get retrieves a value by key.
func (t *Table[K, V]) Get(key K) (V, bool) {
	return t.m.Load(key)
}

// Put stores a value under key, replacing any existing value.
func (t *Table[K, V]) Put(key K, value V) {
	t.m.Store(key, value)
}

// Delete removes a key. Deleting an absent key is a no-op.
func (t *Table[K, V]) Delete(key K) {
	t.m.Delete(key)
}

// Range iterates all entries. Return false from fn to stop early.
func (t *Table[K, V]) Range(fn func(key K, value V) bool) {
	t.m.Range(fn)
}

// Len returns the number of entries.
func (t *Table[K, V]) Len() int {
	return t.m.Size()
}

// Keys returns a snapshot of all keys.
func (t *Table[K, V]) Keys() []K {
	keys := make([]K, 0, t.m.Size())
	t.m.Range(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Values returns a snapshot of all values.
func (t *Table[K, V]) Values() []V {
	values := make([]V, 0, t.m.Size())
	t.m.Range(func(_ K, v V) bool {
		values = append(values, v)
		return true
	})
	return values
}

// Compute atomically reads, transforms, and writes the value for key.
// fn receives the current value (zero value if absent) and returns the new
// value; returning keep=false deletes the key instead.
func (t *Table[K, V]) Compute(key K, fn func(cur V, exists bool) (next V, keep bool)) {
	t.m.Compute(key, func(cur V, loaded bool) (V, xsync.ComputeOp) {
		next, keep := fn(cur, loaded)
		if !keep {
			return next, xsync.DeleteOp
		}
		return next, xsync.UpdateOp
	})
}
