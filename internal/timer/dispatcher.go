// Package timer implements the one-shot timed action dispatcher. Actions are
// scheduled at an absolute instant, optionally under a group tag, and fire in
// non-decreasing time order. A cancellation observed as true guarantees the
// handler never runs, even when cancel races with firing.
package timer

import (
	"container/heap"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-home/halcyon/internal/clock"
)

// Handle identifies a scheduled action. Handles outlive firing: cancelling a
// fired or unknown handle returns false.
type Handle string

type actionState int

const (
	statePending actionState = iota
	stateFired
	stateCancelled
)

type action struct {
	handle Handle
	at     time.Time
	seq    uint64 // FIFO among equal instants
	group  string
	fn     func()
	state  actionState
}

// Dispatcher owns all scheduled one-shot actions.
type Dispatcher struct {
	clk clock.Clock

	mu      sync.Mutex
	queue   actionHeap
	byID    map[Handle]*action
	byGroup map[string]map[Handle]*action
	seq     uint64
	stopped bool

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Dispatcher and starts its dispatch loop.
func New(clk clock.Clock) *Dispatcher {
	d := &Dispatcher{
		clk:     clk,
		byID:    make(map[Handle]*action),
		byGroup: make(map[string]map[Handle]*action),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d
}

// Schedule registers fn to run at the given instant. An instant in the past
// fires on the next dispatch pass. group may be empty.
func (d *Dispatcher) Schedule(at time.Time, group string, fn func()) Handle {
	a := &action{
		handle: Handle(uuid.NewString()),
		at:     at,
		group:  group,
		fn:     fn,
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return a.handle
	}
	d.seq++
	a.seq = d.seq
	heap.Push(&d.queue, a)
	d.byID[a.handle] = a
	if group != "" {
		if d.byGroup[group] == nil {
			d.byGroup[group] = make(map[Handle]*action)
		}
		d.byGroup[group][a.handle] = a
	}
	d.mu.Unlock()

	d.kick()
	return a.handle
}

// Cancel marks the action cancelled. Returns true iff the handler is
// guaranteed not to run; false for fired, already-cancelled, or unknown handles.
func (d *Dispatcher) Cancel(handle Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.byID[handle]
	if !ok || a.state != statePending {
		return false
	}
	d.cancelLocked(a)
	return true
}

// CancelGroup cancels every pending action under the group tag and returns
// how many were cancelled.
func (d *Dispatcher) CancelGroup(group string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, a := range d.byGroup[group] {
		if a.state == statePending {
			d.cancelLocked(a)
			count++
		}
	}
	return count
}

// Pending returns the number of actions not yet fired or cancelled.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byID)
}

// Stop cancels all pending actions and stops the dispatch loop.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, a := range d.byID {
		if a.state == statePending {
			a.state = stateCancelled
		}
	}
	d.byID = make(map[Handle]*action)
	d.byGroup = make(map[string]map[Handle]*action)
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()
}

// cancelLocked transitions a pending action to cancelled and forgets it.
func (d *Dispatcher) cancelLocked(a *action) {
	a.state = stateCancelled
	delete(d.byID, a.handle) // handle is now unknown: idempotent cancel returns false
	if a.group != "" {
		if g := d.byGroup[a.group]; g != nil {
			delete(g, a.handle)
			if len(g) == 0 {
				delete(d.byGroup, a.group)
			}
		}
	}
}

func (d *Dispatcher) kick() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) loop() {
	for {
		a, wait := d.nextDue()
		if a != nil {
			d.run(a)
			continue
		}

		if wait <= 0 {
			// Empty queue: sleep until whichever comes first of wake or stop.
			select {
			case <-d.wake:
			case <-d.stopCh:
				return
			}
			continue
		}

		timer := d.clk.NewTimer(wait)
		select {
		case <-timer.Chan():
		case <-d.wake:
			timer.Stop()
		case <-d.stopCh:
			timer.Stop()
			return
		}
	}
}

// nextDue pops the earliest due action, marking it fired while the lock is
// held so a racing Cancel observes exactly one of {fired, cancelled}.
// When nothing is due it returns the wait until the earliest pending action,
// or 0 when the queue is empty.
func (d *Dispatcher) nextDue() (*action, time.Duration) {
	now := d.clk.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.queue.Len() > 0 {
		head := d.queue[0]
		if head.state != statePending {
			heap.Pop(&d.queue) // lazily discard cancelled entries
			continue
		}
		if head.at.After(now) {
			return nil, head.at.Sub(now)
		}
		heap.Pop(&d.queue)
		head.state = stateFired
		delete(d.byID, head.handle) // cancel of a fired handle reports false
		if head.group != "" {
			if g := d.byGroup[head.group]; g != nil {
				delete(g, head.handle)
				if len(g) == 0 {
					delete(d.byGroup, head.group)
				}
			}
		}
		return head, 0
	}
	return nil, 0
}

func (d *Dispatcher) run(a *action) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[timer] action %s panicked: %v", a.handle, r)
		}
	}()
	a.fn()
}

// actionHeap orders by fire instant, then schedule order.
type actionHeap []*action

func (h actionHeap) Len() int { return len(h) }
func (h actionHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h actionHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *actionHeap) Push(x any) { *h = append(*h, x.(*action)) }

func (h *actionHeap) Pop() any {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return a
}
