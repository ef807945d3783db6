// Package focus runs focus and pomodoro sessions. Every stage transition
// is a one-shot timed action so a teardown cancels the whole session
// deterministically.
package focus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/halcyon-home/halcyon/internal/clock"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
	"github.com/halcyon-home/halcyon/internal/subsys"
)

// Pomodoro defaults.
const (
	defaultWorkMin       = 25
	defaultShortBreakMin = 5
	defaultLongBreakMin  = 15
	defaultCyclesPerLong = 4
)

// Pomodoro stages.
const (
	StageWork       = "work"
	StageShortBreak = "short_break"
	StageLongBreak  = "long_break"
)

// PomodoroConfig shapes one pomodoro run. Zero fields take the defaults.
type PomodoroConfig struct {
	WorkMin       int `json:"workMin"`
	ShortBreakMin int `json:"shortBreakMin"`
	LongBreakMin  int `json:"longBreakMin"`
	CyclesPerLong int `json:"cyclesPerLong"`
}

func (c *PomodoroConfig) applyDefaults() {
	if c.WorkMin <= 0 {
		c.WorkMin = defaultWorkMin
	}
	if c.ShortBreakMin <= 0 {
		c.ShortBreakMin = defaultShortBreakMin
	}
	if c.LongBreakMin <= 0 {
		c.LongBreakMin = defaultLongBreakMin
	}
	if c.CyclesPerLong <= 0 {
		c.CyclesPerLong = defaultCyclesPerLong
	}
}

// PomodoroState is the observable state of one user's pomodoro run.
type PomodoroState struct {
	UserID      string         `json:"userId"`
	Stage       string         `json:"stage"`
	Cycle       int            `json:"cycle"` // completed work stages
	StageEndsMs int64          `json:"stageEndsMs"`
	StartedMs   int64          `json:"startedMs"`
	Config      PomodoroConfig `json:"config"`
}

// FocusState is the observable state of one user's focus session.
type FocusState struct {
	UserID  string `json:"userId"`
	StartMs int64  `json:"startMs"`
	EndsMs  int64  `json:"endsMs"`
	Label   string `json:"label,omitempty"`
}

// Focus is the subsystem instance.
type Focus struct {
	*subsys.Base

	mu        sync.Mutex
	pomodoros map[string]*PomodoroState
	sessions  map[string]*FocusState
	completed map[string]int // completed pomodoro work stages per user
}

// New constructs the subsystem.
func New(rt *subsys.Runtime) *Focus {
	return &Focus{
		Base:      subsys.NewBase("focus", rt),
		pomodoros: make(map[string]*PomodoroState),
		sessions:  make(map[string]*FocusState),
		completed: make(map[string]int),
	}
}

// Init brings the subsystem up. Focus keeps no persisted collections and
// no periodic tasks; everything runs on the timed dispatcher.
func (f *Focus) Init(ctx context.Context) error {
	if err := f.BeginInit(); err != nil {
		return err
	}
	f.FinishInit()
	return nil
}

func pomodoroGroup(userID string) string { return "pomodoro:" + userID }
func focusGroup(userID string) string    { return "focus:" + userID }

// StartPomodoro begins a pomodoro run for the user in the work stage.
func (f *Focus) StartPomodoro(userID string, cfg PomodoroConfig) error {
	if userID == "" {
		return fault.InvalidArgument("pomodoro needs a user id")
	}
	cfg.applyDefaults()
	now := clock.UnixMillis(f.Runtime().Clock)

	f.mu.Lock()
	if _, exists := f.pomodoros[userID]; exists {
		f.mu.Unlock()
		return fault.InvalidArgument("user %q already has a pomodoro running", userID)
	}
	f.pomodoros[userID] = &PomodoroState{UserID: userID, Stage: StageWork, StartedMs: now, Config: cfg}
	f.mu.Unlock()

	f.armStage(userID, time.Duration(cfg.WorkMin)*time.Minute)
	f.notify(userID, "Pomodoro", fmt.Sprintf("Work stage started (%d min)", cfg.WorkMin))
	log.Printf("[focus] pomodoro started for %s", userID)
	return nil
}

// StopPomodoro ends the user's pomodoro run and cancels the pending stage.
func (f *Focus) StopPomodoro(userID string) error {
	f.mu.Lock()
	_, ok := f.pomodoros[userID]
	delete(f.pomodoros, userID)
	f.mu.Unlock()
	if !ok {
		return fault.NotFound("pomodoro", userID)
	}
	f.CancelTimedGroup(pomodoroGroup(userID))
	log.Printf("[focus] pomodoro stopped for %s", userID)
	return nil
}

func (f *Focus) armStage(userID string, d time.Duration) {
	ends := clock.UnixMillis(f.Runtime().Clock) + d.Milliseconds()
	f.mu.Lock()
	if st, ok := f.pomodoros[userID]; ok {
		st.StageEndsMs = ends
	}
	f.mu.Unlock()
	f.ScheduleAfter(d, pomodoroGroup(userID), func() { f.advancePomodoro(userID) })
}

// advancePomodoro fires at each stage boundary: work alternates with
// breaks, with a long break after every CyclesPerLong completed works.
func (f *Focus) advancePomodoro(userID string) {
	f.mu.Lock()
	st, ok := f.pomodoros[userID]
	if !ok {
		f.mu.Unlock()
		return
	}
	cfg := st.Config
	var next string
	var d time.Duration
	switch st.Stage {
	case StageWork:
		st.Cycle++
		f.completed[userID]++
		if st.Cycle%cfg.CyclesPerLong == 0 {
			next, d = StageLongBreak, time.Duration(cfg.LongBreakMin)*time.Minute
		} else {
			next, d = StageShortBreak, time.Duration(cfg.ShortBreakMin)*time.Minute
		}
	default:
		next, d = StageWork, time.Duration(cfg.WorkMin)*time.Minute
	}
	st.Stage = next
	f.mu.Unlock()

	f.armStage(userID, d)
	f.notify(userID, "Pomodoro", fmt.Sprintf("%s started (%d min)", stageLabel(next), int(d.Minutes())))
}

func stageLabel(stage string) string {
	switch stage {
	case StageWork:
		return "Work stage"
	case StageShortBreak:
		return "Short break"
	case StageLongBreak:
		return "Long break"
	}
	return stage
}

// PomodoroSnapshot returns a copy of the user's pomodoro state.
func (f *Focus) PomodoroSnapshot(userID string) (PomodoroState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.pomodoros[userID]
	if !ok {
		return PomodoroState{}, false
	}
	return *st, true
}

// CompletedPomodoros returns the user's completed work-stage count.
func (f *Focus) CompletedPomodoros(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed[userID]
}

// StartFocus begins a do-not-disturb focus session that auto-ends after d.
func (f *Focus) StartFocus(userID, label string, d time.Duration) error {
	if userID == "" {
		return fault.InvalidArgument("focus session needs a user id")
	}
	if d <= 0 {
		return fault.InvalidArgument("focus session needs a positive duration")
	}
	now := clock.UnixMillis(f.Runtime().Clock)

	f.mu.Lock()
	if _, exists := f.sessions[userID]; exists {
		f.mu.Unlock()
		return fault.InvalidArgument("user %q already has a focus session", userID)
	}
	f.sessions[userID] = &FocusState{
		UserID:  userID,
		StartMs: now,
		EndsMs:  now + d.Milliseconds(),
		Label:   label,
	}
	f.mu.Unlock()

	if err := f.Runtime().Host.TriggerFlow("focus_start", map[string]any{"user": userID}); err != nil {
		log.Printf("[focus] focus start flow for %s: %v", userID, err)
	}
	f.ScheduleAfter(d, focusGroup(userID), func() { f.endFocus(userID, true) })
	log.Printf("[focus] focus session started for %s (%s)", userID, d)
	return nil
}

// EndFocus ends the user's focus session ahead of its auto-end.
func (f *Focus) EndFocus(userID string) error {
	f.mu.Lock()
	_, ok := f.sessions[userID]
	f.mu.Unlock()
	if !ok {
		return fault.NotFound("focus session", userID)
	}
	f.CancelTimedGroup(focusGroup(userID))
	f.endFocus(userID, false)
	return nil
}

func (f *Focus) endFocus(userID string, auto bool) {
	f.mu.Lock()
	st, ok := f.sessions[userID]
	delete(f.sessions, userID)
	f.mu.Unlock()
	if !ok {
		return
	}
	if err := f.Runtime().Host.TriggerFlow("focus_end", map[string]any{"user": userID}); err != nil {
		log.Printf("[focus] focus end flow for %s: %v", userID, err)
	}
	if auto {
		mins := (st.EndsMs - st.StartMs) / time.Minute.Milliseconds()
		f.notify(userID, "Focus", fmt.Sprintf("Focus session finished (%d min)", mins))
	}
	log.Printf("[focus] focus session ended for %s", userID)
}

// FocusSnapshot returns a copy of the user's focus session.
func (f *Focus) FocusSnapshot(userID string) (FocusState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.sessions[userID]
	if !ok {
		return FocusState{}, false
	}
	return *st, true
}

func (f *Focus) notify(userID, title, msg string) {
	f.Runtime().Host.Notify(facade.Notification{
		Title:     title,
		Message:   msg,
		Priority:  facade.PriorityLow,
		Category:  "focus",
		Recipient: userID,
	})
}

// Destroy tears the subsystem down; safe to call more than once.
func (f *Focus) Destroy() {
	f.Base.Destroy(nil)
}
