package store

import (
	"sync"

	"github.com/gammazero/deque"
)

// BoundedLog is an append-only log with head-eviction at capacity.
// When an append would push the size past capacity C, the oldest entries are
// discarded in one batch so the log shrinks to the high-water mark 0.8*C.
// All queries return copies; internal storage is never aliased.
type BoundedLog[T any] struct {
	mu       sync.Mutex
	entries  deque.Deque[T]
	capacity int
	hiWater  int

	// persist, when set, receives the newest persistTail entries on Persist.
	persist     func(tail []T) error
	persistTail int
}

// NewBoundedLog creates a BoundedLog with the given capacity.
// Capacity must be at least 5 so the 0.8 high-water mark stays below it.
func NewBoundedLog[T any](capacity int) *BoundedLog[T] {
	if capacity < 5 {
		capacity = 5
	}
	return &BoundedLog[T]{
		capacity: capacity,
		hiWater:  capacity * 8 / 10,
	}
}

// WithPersist attaches a persistence hook invoked by Persist with the newest
// tail entries (at most persistTail). Returns the log for chaining.
func (l *BoundedLog[T]) WithPersist(persistTail int, fn func(tail []T) error) *BoundedLog[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	if persistTail <= 0 || persistTail > l.capacity {
		persistTail = l.capacity
	}
	l.persist = fn
	l.persistTail = persistTail
	return l
}

// Append adds an entry, evicting the oldest batch if capacity is exceeded.
func (l *BoundedLog[T]) Append(entry T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.PushBack(entry)
	if l.entries.Len() > l.capacity {
		for l.entries.Len() > l.hiWater {
			l.entries.PopFront()
		}
	}
}

// Len returns the current number of entries.
func (l *BoundedLog[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Len()
}

// Query returns up to limit of the most recent entries matching filter,
// newest first. A nil filter matches everything; limit <= 0 means no limit.
func (l *BoundedLog[T]) Query(filter func(T) bool, limit int) []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []T
	for i := l.entries.Len() - 1; i >= 0; i-- {
		e := l.entries.At(i)
		if filter != nil && !filter(e) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Tail returns a copy of the newest n entries in insertion order.
// n <= 0 or n >= Len returns the full log.
func (l *BoundedLog[T]) Tail(n int) []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	size := l.entries.Len()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]T, 0, n)
	for i := size - n; i < size; i++ {
		out = append(out, l.entries.At(i))
	}
	return out
}

// Replace discards all entries and loads the given ones in order.
// Used on boot to reload a persisted tail.
func (l *BoundedLog[T]) Replace(entries []T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Clear()
	for _, e := range entries {
		l.entries.PushBack(e)
	}
	for l.entries.Len() > l.capacity {
		l.entries.PopFront()
	}
}

// Persist writes the newest persistTail entries through the attached hook.
// Without a hook it is a no-op.
func (l *BoundedLog[T]) Persist() error {
	l.mu.Lock()
	fn := l.persist
	n := l.persistTail
	l.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(l.Tail(n))
}
