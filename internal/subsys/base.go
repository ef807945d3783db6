package subsys

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/clock"
	"github.com/halcyon-home/halcyon/internal/config"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/sched"
	"github.com/halcyon-home/halcyon/internal/timer"
)

// Runtime bundles the shared core handed to every subsystem at construction.
// The timer dispatcher and event bus are shared across subsystems; each
// subsystem owns its own periodic scheduler so destroy stops exactly its
// own tasks.
type Runtime struct {
	Clock clock.Clock
	Timer *timer.Dispatcher
	Bus   *bus.Bus
	Host  facade.Facade
	Caps  *facade.CapReader
	Env   *config.EnvConfig
	Seed  *config.Seed
}

// Base carries the lifecycle bookkeeping every subsystem embeds: state,
// the owned scheduler, bus subscriptions, and outstanding timed actions.
type Base struct {
	name  string
	rt    *Runtime
	state atomic.Int32
	tasks *sched.Scheduler

	mu      sync.Mutex
	subs    []*bus.Subscription
	handles map[timer.Handle]struct{}
	groups  map[string]struct{}
}

// NewBase creates the lifecycle base for a named subsystem.
func NewBase(name string, rt *Runtime) *Base {
	grace := sched.DefaultStopGrace
	if rt.Env != nil && rt.Env.SchedulerStopGrace > 0 {
		grace = rt.Env.SchedulerStopGrace
	}
	return &Base{
		name:    name,
		rt:      rt,
		tasks:   sched.New(rt.Clock, rt.Bus, grace),
		handles: make(map[timer.Handle]struct{}),
		groups:  make(map[string]struct{}),
	}
}

// Name returns the subsystem identity.
func (b *Base) Name() string { return b.name }

// Runtime returns the shared core.
func (b *Base) Runtime() *Runtime { return b.rt }

// State returns the current lifecycle state.
func (b *Base) State() State { return State(b.state.Load()) }

// BeginInit moves uninitialized → initializing. Fails on any other state so
// lifecycle stays monotonic.
func (b *Base) BeginInit() error {
	if !b.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return fmt.Errorf("%s: init from state %s", b.name, b.State())
	}
	return nil
}

// FinishInit starts the owned scheduler and moves initializing → running.
func (b *Base) FinishInit() {
	b.tasks.Start()
	b.state.CompareAndSwap(int32(StateInitializing), int32(StateRunning))
	log.Printf("[%s] running", b.name)
}

// RegisterTask registers a periodic task on the subsystem's scheduler.
// The task name is prefixed with the subsystem identity.
func (b *Base) RegisterTask(name string, cadence time.Duration, handler func() error) {
	if _, err := b.tasks.Register(b.name+"."+name, cadence, handler); err != nil {
		log.Printf("[%s] register task %q: %v", b.name, name, err)
	}
}

// RegisterCronTask registers a cron-phase task on the subsystem's scheduler.
func (b *Base) RegisterCronTask(name, spec string, handler func() error) {
	if _, err := b.tasks.RegisterCron(b.name+"."+name, spec, handler); err != nil {
		log.Printf("[%s] register cron task %q: %v", b.name, name, err)
	}
}

// Tasks exposes the owned scheduler for snapshots.
func (b *Base) Tasks() *sched.Scheduler { return b.tasks }

// Subscribe registers a bus handler owned by this subsystem; Destroy cancels it.
func (b *Base) Subscribe(tag bus.Tag, handler bus.Handler) {
	sub := b.rt.Bus.Subscribe(tag, b.name, handler)
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

// ScheduleAt registers a one-shot action owned by this subsystem. group may
// be empty; grouped and ungrouped actions are all cancelled on Destroy.
func (b *Base) ScheduleAt(at time.Time, group string, fn func()) timer.Handle {
	h := b.rt.Timer.Schedule(at, group, fn)
	b.mu.Lock()
	b.handles[h] = struct{}{}
	if group != "" {
		b.groups[group] = struct{}{}
	}
	b.mu.Unlock()
	return h
}

// ScheduleAfter is ScheduleAt relative to now.
func (b *Base) ScheduleAfter(d time.Duration, group string, fn func()) timer.Handle {
	return b.ScheduleAt(b.rt.Clock.Now().Add(d), group, fn)
}

// CancelTimed cancels one owned action by handle.
func (b *Base) CancelTimed(h timer.Handle) bool {
	b.mu.Lock()
	delete(b.handles, h)
	b.mu.Unlock()
	return b.rt.Timer.Cancel(h)
}

// CancelTimedGroup cancels every pending owned action under the group tag.
func (b *Base) CancelTimedGroup(group string) int {
	b.mu.Lock()
	delete(b.groups, group)
	b.mu.Unlock()
	return b.rt.Timer.CancelGroup(group)
}

// Destroy runs the symmetric teardown exactly once: stop tasks, cancel timed
// actions, drop subscriptions, then invoke flush for final persistence.
// Additional calls are no-ops.
func (b *Base) Destroy(flush func()) {
	for {
		cur := b.State()
		if cur == StateDestroying || cur == StateDestroyed {
			return
		}
		if b.state.CompareAndSwap(int32(cur), int32(StateDestroying)) {
			break
		}
	}

	b.tasks.Stop()

	b.mu.Lock()
	handles := b.handles
	groups := b.groups
	subs := b.subs
	b.handles = make(map[timer.Handle]struct{})
	b.groups = make(map[string]struct{})
	b.subs = nil
	b.mu.Unlock()

	for g := range groups {
		b.rt.Timer.CancelGroup(g)
	}
	for h := range handles {
		b.rt.Timer.Cancel(h)
	}
	for _, sub := range subs {
		sub.Cancel()
	}
	if flush != nil {
		flush()
	}

	b.state.Store(int32(StateDestroyed))
	log.Printf("[%s] destroyed", b.name)
}
