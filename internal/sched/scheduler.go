package sched

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/clock"
)

// DefaultStopGrace bounds how long Stop waits for in-flight handlers.
const DefaultStopGrace = 5 * time.Second

// Task is the runtime state of one registered periodic task.
type Task struct {
	Name    string
	Cadence time.Duration

	handler   func()
	cronSched cron.Schedule

	inFlight     atomic.Bool
	lastStartMs  atomic.Int64
	lastEndMs    atomic.Int64
	droppedTicks atomic.Int64

	errMu     sync.Mutex
	lastError error
}

// LastError returns the error recorded by the most recent failed invocation.
func (t *Task) LastError() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.lastError
}

// DroppedTicks returns how many ticks were dropped due to non-reentrancy.
func (t *Task) DroppedTicks() int64 { return t.droppedTicks.Load() }

// TaskSnapshot is a point-in-time view of a task for introspection.
type TaskSnapshot struct {
	Name         string        `json:"name"`
	Cadence      time.Duration `json:"cadence"`
	InFlight     bool          `json:"in_flight"`
	LastStartMs  int64         `json:"last_start_ms"`
	LastEndMs    int64         `json:"last_end_ms"`
	DroppedTicks int64         `json:"dropped_ticks"`
	LastError    string        `json:"last_error,omitempty"`
}

// Scheduler runs registered tasks, each on its own cadence. Registration is
// open until Start; Stop cancels all cadences and waits a bounded grace
// period for in-flight handlers.
type Scheduler struct {
	clk       clock.Clock
	eventBus  *bus.Bus
	stopGrace time.Duration

	mu      sync.Mutex
	tasks   map[string]*Task
	started bool
	stopped bool

	stopCh   chan struct{}
	loopWG   sync.WaitGroup // tick loops; exit promptly on stop
	handleWG sync.WaitGroup // in-flight handlers; waited with grace
}

// New creates a Scheduler. eventBus may be nil; diagnostics are then only logged.
func New(clk clock.Clock, eventBus *bus.Bus, stopGrace time.Duration) *Scheduler {
	if stopGrace <= 0 {
		stopGrace = DefaultStopGrace
	}
	return &Scheduler{
		clk:       clk,
		eventBus:  eventBus,
		stopGrace: stopGrace,
		tasks:     make(map[string]*Task),
		stopCh:    make(chan struct{}),
	}
}

// Register adds a named task with a fixed cadence. Names are unique; cadence
// must be positive. Registration after Start starts the task immediately.
func (s *Scheduler) Register(name string, cadence time.Duration, handler func() error) (*Task, error) {
	if name == "" {
		return nil, fmt.Errorf("sched: task name is empty")
	}
	if cadence <= 0 {
		return nil, fmt.Errorf("sched: task %q: cadence must be positive", name)
	}
	task := &Task{Name: name, Cadence: cadence}
	task.handler = func() { s.invoke(task, handler) }

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, fmt.Errorf("sched: register %q after stop", name)
	}
	if _, exists := s.tasks[name]; exists {
		return nil, fmt.Errorf("sched: task %q already registered", name)
	}
	s.tasks[name] = task
	if s.started {
		s.launch(task)
	}
	return task, nil
}

// RegisterCron adds a task driven by a cron expression (standard five-field
// spec or @every syntax) for jobs with a phase, e.g. "0 3 * * *" for daily
// trend analysis at 03:00 or "0 3 * * 0" for the weekly Sunday sweep. Firing
// instants come from the scheduler's clock, not the wall clock.
func (s *Scheduler) RegisterCron(name, spec string, handler func() error) (*Task, error) {
	if name == "" {
		return nil, fmt.Errorf("sched: cron task name is empty")
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("sched: cron task %q: invalid spec %q: %w", name, spec, err)
	}
	task := &Task{Name: name, cronSched: schedule}
	task.handler = func() { s.invoke(task, handler) }

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, fmt.Errorf("sched: register %q after stop", name)
	}
	if _, exists := s.tasks[name]; exists {
		return nil, fmt.Errorf("sched: task %q already registered", name)
	}
	s.tasks[name] = task
	if s.started {
		s.launch(task)
	}
	return task, nil
}

// Start begins ticking every registered task.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	for _, task := range s.tasks {
		if task.Cadence > 0 || task.cronSched != nil {
			s.launch(task)
		}
	}
}

// launch starts one task's tick loop. Caller holds s.mu.
func (s *Scheduler) launch(task *Task) {
	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		if task.cronSched != nil {
			RunCron(s.clk, s.stopCh, task.cronSched, func() { s.fire(task) })
			return
		}
		RunTicks(s.clk, s.stopCh, task.Cadence, 0, func() { s.fire(task) })
	}()
}

// fire dispatches one tick, dropping it when the previous invocation of the
// same task is still in flight.
func (s *Scheduler) fire(task *Task) {
	select {
	case <-s.stopCh:
		return
	default:
	}
	if !task.inFlight.CompareAndSwap(false, true) {
		task.droppedTicks.Add(1)
		log.Printf("[sched] task %q overlap: tick dropped", task.Name)
		if s.eventBus != nil {
			s.eventBus.Publish(bus.TaskOverlap{Task: task.Name})
		}
		return
	}
	s.handleWG.Add(1)
	go func() {
		defer s.handleWG.Done()
		defer task.inFlight.Store(false)
		task.handler()
	}()
}

// invoke runs a handler with panic recovery and start/end/error bookkeeping.
func (s *Scheduler) invoke(task *Task, handler func() error) {
	task.lastStartMs.Store(clock.UnixMillis(s.clk))
	defer task.lastEndMs.Store(clock.UnixMillis(s.clk))
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[sched] task %q panicked: %v", task.Name, r)
			task.errMu.Lock()
			task.lastError = fmt.Errorf("panic: %v", r)
			task.errMu.Unlock()
		}
	}()

	err := handler()
	task.errMu.Lock()
	task.lastError = err
	task.errMu.Unlock()
	if err != nil {
		log.Printf("[sched] task %q: %v", task.Name, err)
	}
}

// Stop cancels all cadences and waits up to the grace period for in-flight
// handlers. Still-running handlers are reported and abandoned. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	s.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		s.handleWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-s.clk.After(s.stopGrace):
		for _, snap := range s.Snapshot() {
			if snap.InFlight {
				log.Printf("[sched] task %q still running after %s grace, abandoning", snap.Name, s.stopGrace)
			}
		}
	}
}

// Snapshot returns a point-in-time view of all registered tasks.
func (s *Scheduler) Snapshot() []TaskSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskSnapshot, 0, len(s.tasks))
	for _, t := range s.tasks {
		snap := TaskSnapshot{
			Name:         t.Name,
			Cadence:      t.Cadence,
			InFlight:     t.inFlight.Load(),
			LastStartMs:  t.lastStartMs.Load(),
			LastEndMs:    t.lastEndMs.Load(),
			DroppedTicks: t.droppedTicks.Load(),
		}
		if err := t.LastError(); err != nil {
			snap.LastError = err.Error()
		}
		out = append(out, snap)
	}
	return out
}
