// Package bus implements the in-process publish/subscribe channel between
// subsystems. Delivery is asynchronous with a bounded per-subscriber mailbox:
// per publisher, a subscriber sees events in publish order; on overflow the
// oldest queued event for that subscriber is dropped and an EventDropped
// diagnostic is published in its place.
package bus

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
)

const (
	// DefaultMailboxCapacity bounds each subscriber's pending ordinary events.
	DefaultMailboxCapacity = 64
	// DefaultDiagnosticBudget bounds each subscriber's pending EventDropped
	// diagnostics. Diagnostics beyond the budget only bump a counter.
	DefaultDiagnosticBudget = 16
)

// Handler consumes events delivered to a subscription.
// Handlers run on the subscriber's own dispatch goroutine; a panic is caught
// and logged without affecting other subscribers.
type Handler func(Event)

// Subscription is the cancellation handle returned by Subscribe.
type Subscription struct {
	bus    *Bus
	tag    Tag
	id     uint64
	cancel sync.Once
}

// Cancel detaches the subscription and stops its dispatch goroutine.
// Events already delivered to the handler are unaffected. Safe to call twice.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() { s.bus.unsubscribe(s.tag, s.id) })
}

// Bus fans out typed events to subscribers.
type Bus struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[Tag][]*subscriber
	mailCap int
	diagCap int
	closed  bool

	// DroppedDiagnostics counts EventDropped diagnostics that exceeded a
	// subscriber's diagnostic budget and were counted instead of queued.
	DroppedDiagnostics atomic.Int64
}

// New creates a Bus with the given mailbox capacity and diagnostic budget.
// Non-positive arguments fall back to the defaults.
func New(mailboxCapacity, diagnosticBudget int) *Bus {
	if mailboxCapacity <= 0 {
		mailboxCapacity = DefaultMailboxCapacity
	}
	if diagnosticBudget <= 0 {
		diagnosticBudget = DefaultDiagnosticBudget
	}
	return &Bus{
		subs:    make(map[Tag][]*subscriber),
		mailCap: mailboxCapacity,
		diagCap: diagnosticBudget,
	}
}

// Subscribe registers a handler for a tag and returns its cancellation handle.
// Subscribing the same handler twice delivers each event twice.
func (b *Bus) Subscribe(tag Tag, name string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := newSubscriber(b.nextID, name, handler, b.mailCap, b.diagCap, &b.DroppedDiagnostics)
	if b.closed {
		sub.stop()
	} else {
		b.subs[tag] = append(b.subs[tag], sub)
	}
	return &Subscription{bus: b, tag: tag, id: sub.id}
}

// Publish enqueues the event to every current subscriber of its tag.
// Publish never blocks on slow subscribers.
func (b *Bus) Publish(event Event) {
	tag := event.EventTag()
	b.mu.Lock()
	targets := make([]*subscriber, len(b.subs[tag]))
	copy(targets, b.subs[tag])
	b.mu.Unlock()

	for _, sub := range targets {
		if dropped, droppedTag := sub.enqueue(event); dropped {
			b.Publish(EventDropped{Tag: droppedTag, Subscriber: sub.name})
		}
	}
}

// Close cancels every subscription and stops all dispatch goroutines.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscriber
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.subs = make(map[Tag][]*subscriber)
	b.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
}

func (b *Bus) unsubscribe(tag Tag, id uint64) {
	b.mu.Lock()
	subs := b.subs[tag]
	var removed *subscriber
	for i, s := range subs {
		if s.id == id {
			removed = s
			b.subs[tag] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	if removed != nil {
		removed.stop()
	}
}

// subscriber owns one mailbox and one dispatch goroutine.
type subscriber struct {
	id      uint64
	name    string
	handler Handler

	mu      sync.Mutex
	mailbox deque.Deque[Event]
	diag    deque.Deque[Event]
	mailCap int
	diagCap int
	stopped bool

	wake     chan struct{}
	done     chan struct{}
	diagLost *atomic.Int64
}

func newSubscriber(id uint64, name string, handler Handler, mailCap, diagCap int, diagLost *atomic.Int64) *subscriber {
	s := &subscriber{
		id:       id,
		name:     name,
		handler:  handler,
		mailCap:  mailCap,
		diagCap:  diagCap,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		diagLost: diagLost,
	}
	go s.dispatchLoop()
	return s
}

// enqueue appends the event to the mailbox. When the mailbox is full the
// oldest ordinary event is discarded; the caller publishes the EventDropped
// diagnostic for it. EventDropped events go to the diagnostic queue, which is
// never head-evicted: past its budget the loss is counted instead.
func (s *subscriber) enqueue(event Event) (dropped bool, droppedTag Tag) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false, ""
	}
	if _, isDiag := event.(EventDropped); isDiag {
		if s.diag.Len() >= s.diagCap {
			s.mu.Unlock()
			s.diagLost.Add(1)
			return false, ""
		}
		s.diag.PushBack(event)
	} else {
		if s.mailbox.Len() >= s.mailCap {
			oldest := s.mailbox.PopFront()
			dropped = true
			droppedTag = oldest.EventTag()
		}
		s.mailbox.PushBack(event)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return dropped, droppedTag
}

func (s *subscriber) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.done)
}

func (s *subscriber) dispatchLoop() {
	for {
		event, ok := s.next()
		if ok {
			s.deliver(event)
			continue
		}
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

// next pops the next pending event, draining diagnostics first.
func (s *subscriber) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.diag.Len() > 0 {
		return s.diag.PopFront(), true
	}
	if s.mailbox.Len() > 0 {
		return s.mailbox.PopFront(), true
	}
	return nil, false
}

func (s *subscriber) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[bus] subscriber %q panicked on %s: %v", s.name, event.EventTag(), r)
		}
	}()
	s.handler(event)
}
