// Package sleep tracks per-user sleep sessions: a phase machine driven by
// movement sensing, quality scoring on close, running sleep debt, and a
// staged wake-up routine.
package sleep

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/halcyon-home/halcyon/internal/clock"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
	"github.com/halcyon-home/halcyon/internal/store"
	"github.com/halcyon-home/halcyon/internal/subsys"
)

const (
	phaseCadence = time.Minute

	fallingAsleepMax = 30 * time.Minute
	sleepCycle       = 90 * time.Minute
	movementWindow   = 5 * time.Minute

	targetSleepHours = 8.0
	qualityEMAAlpha  = 0.3
)

// Sleep phases.
const (
	PhaseFallingAsleep = "falling_asleep"
	PhaseLight         = "light"
	PhaseDeep          = "deep"
	PhaseREM           = "rem"
	PhaseAwake         = "awake"
)

// PhaseSample is one contiguous stretch of a phase within a session.
// DurationMs is zero while the sample is still open.
type PhaseSample struct {
	Phase      string `json:"phase"`
	StartMs    int64  `json:"startMs"`
	DurationMs int64  `json:"durationMs"`
}

// EnvSample is one environment observation during a session.
type EnvSample struct {
	AtMs     int64   `json:"atMs"`
	TempC    float64 `json:"tempC"`
	Humidity float64 `json:"humidity"`
	LightLux float64 `json:"lightLux"`
	NoiseDb  float64 `json:"noiseDb"`
}

// Session is one sleep session. Quality is populated on close.
type Session struct {
	UserID  string        `json:"userId"`
	StartMs int64         `json:"startMs"`
	EndMs   int64         `json:"endMs,omitempty"`
	Phases  []PhaseSample `json:"phases"`
	Env     []EnvSample   `json:"env,omitempty"`
	Quality float64       `json:"quality,omitempty"`

	movements     []int64 // movement timestamps, pruned to movementWindow
	movementTotal int
}

// Profile is the per-user running ledger.
type Profile struct {
	UserID         string  `json:"userId"`
	SleepDebtHours float64 `json:"sleepDebtHours"`
	QualityEMA     float64 `json:"qualityEma"`
	Sessions       int     `json:"sessions"`
}

// Sleep is the subsystem instance.
type Sleep struct {
	*subsys.Base

	mu       sync.Mutex
	active   map[string]*Session // by user id
	profiles *store.Table[string, *Profile]
	history  *store.BoundedLog[Session]
}

// New constructs the subsystem.
func New(rt *subsys.Runtime) *Sleep {
	return &Sleep{
		Base:     subsys.NewBase("sleep", rt),
		active:   make(map[string]*Session),
		profiles: store.NewTable[string, *Profile](),
		history:  store.NewBoundedLog[Session](100),
	}
}

// Init loads persisted profiles and registers the phase tick.
func (s *Sleep) Init(ctx context.Context) error {
	if err := s.BeginInit(); err != nil {
		return err
	}
	var persisted map[string]*Profile
	if found, err := facade.LoadJSON(s.Runtime().Host, "sleepProfiles", &persisted); err != nil {
		log.Printf("[sleep] load profiles: %v", err)
	} else if found {
		for id, p := range persisted {
			s.profiles.Put(id, p)
		}
	}

	s.RegisterTask("phase", phaseCadence, s.phaseTick)

	s.FinishInit()
	return nil
}

// StartSession opens a session for the user, beginning in falling_asleep.
func (s *Sleep) StartSession(userID string) error {
	if userID == "" {
		return fault.InvalidArgument("session needs a user id")
	}
	now := clock.UnixMillis(s.Runtime().Clock)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.active[userID]; exists {
		return fault.InvalidArgument("user %q already has an active session", userID)
	}
	s.active[userID] = &Session{
		UserID:  userID,
		StartMs: now,
		Phases:  []PhaseSample{{Phase: PhaseFallingAsleep, StartMs: now}},
	}
	log.Printf("[sleep] session started for %s", userID)
	return nil
}

// ReportMovement records one movement observation for the user's session.
func (s *Sleep) ReportMovement(userID string) {
	now := clock.UnixMillis(s.Runtime().Clock)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.active[userID]
	if !ok {
		return
	}
	sess.movements = append(sess.movements, now)
	sess.movementTotal++
}

// ReportEnvironment records one environment observation for the user's session.
func (s *Sleep) ReportEnvironment(userID string, env EnvSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.active[userID]
	if !ok {
		return
	}
	env.AtMs = clock.UnixMillis(s.Runtime().Clock)
	sess.Env = append(sess.Env, env)
}

// EndSession closes the user's session, scores it, and updates the profile.
func (s *Sleep) EndSession(userID string) (Session, error) {
	now := clock.UnixMillis(s.Runtime().Clock)

	s.mu.Lock()
	sess, ok := s.active[userID]
	if !ok {
		s.mu.Unlock()
		return Session{}, fault.NotFound("sleep session", userID)
	}
	delete(s.active, userID)

	closeSample(sess, now)
	sess.EndMs = now
	sess.Quality = scoreSession(sess)

	p, ok := s.profiles.Get(userID)
	if !ok {
		p = &Profile{UserID: userID, QualityEMA: sess.Quality}
	} else {
		p.QualityEMA = (1-qualityEMAAlpha)*p.QualityEMA + qualityEMAAlpha*sess.Quality
	}
	slept := float64(now-sess.StartMs) / float64(time.Hour.Milliseconds())
	p.SleepDebtHours += targetSleepHours - slept
	if p.SleepDebtHours < 0 {
		p.SleepDebtHours = 0
	}
	p.Sessions++
	s.profiles.Put(userID, p)
	done := *sess
	s.mu.Unlock()

	s.history.Append(done)
	s.persistProfiles()
	log.Printf("[sleep] session for %s closed: quality %.0f, debt %.1fh", userID, done.Quality, p.SleepDebtHours)
	return done, nil
}

// ActiveSession returns a copy of the user's open session.
func (s *Sleep) ActiveSession(userID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.active[userID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// UserProfile returns a copy of the user's running ledger.
func (s *Sleep) UserProfile(userID string) (Profile, bool) {
	p, ok := s.profiles.Get(userID)
	if !ok {
		return Profile{}, false
	}
	return *p, true
}

// History returns the most recent closed sessions, newest first.
func (s *Sleep) History(limit int) []Session {
	return s.history.Query(nil, limit)
}

func (s *Sleep) persistProfiles() {
	snapshot := make(map[string]*Profile)
	s.profiles.Range(func(id string, p *Profile) bool {
		snapshot[id] = p
		return true
	})
	if err := facade.SaveJSON(s.Runtime().Host, "sleepProfiles", snapshot); err != nil {
		log.Printf("[sleep] persist profiles: %v", err)
	}
}

// Destroy tears the subsystem down; safe to call more than once.
func (s *Sleep) Destroy() {
	s.Base.Destroy(func() {
		s.persistProfiles()
	})
}
