package sleep

import (
	"math"

	"github.com/halcyon-home/halcyon/internal/clock"
)

// Movement thresholds for phase inference, counted over movementWindow.
const (
	awakeMovements = 5
	lightMovements = 2

	deepCycleFraction = 0.6
)

// Quality subscore weights.
const (
	weightDuration    = 0.30
	weightEnvironment = 0.25
	weightMovement    = 0.15
	weightPhases      = 0.30
)

// phaseTick advances the phase machine for every open session.
func (s *Sleep) phaseTick() error {
	now := clock.UnixMillis(s.Runtime().Clock)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.active {
		pruneMovements(sess, now)
		next := inferPhase(sess, now)
		cur := sess.Phases[len(sess.Phases)-1].Phase
		if next != cur {
			closeSample(sess, now)
			sess.Phases = append(sess.Phases, PhaseSample{Phase: next, StartMs: now})
		}
	}
	return nil
}

func pruneMovements(sess *Session, now int64) {
	cutoff := now - movementWindow.Milliseconds()
	i := 0
	for i < len(sess.movements) && sess.movements[i] < cutoff {
		i++
	}
	sess.movements = sess.movements[i:]
}

// inferPhase maps recent movement onto the 90-minute cycle. The session
// stays in falling_asleep for at most fallingAsleepMax; after that the
// cycle clock starts.
func inferPhase(sess *Session, now int64) string {
	elapsed := now - sess.StartMs
	if elapsed < fallingAsleepMax.Milliseconds() {
		if len(sess.movements) > awakeMovements {
			return PhaseAwake
		}
		return PhaseFallingAsleep
	}

	switch n := len(sess.movements); {
	case n > awakeMovements:
		return PhaseAwake
	case n > lightMovements:
		return PhaseLight
	}

	cyclePos := float64((elapsed-fallingAsleepMax.Milliseconds())%sleepCycle.Milliseconds()) /
		float64(sleepCycle.Milliseconds())
	if cyclePos < deepCycleFraction {
		return PhaseDeep
	}
	return PhaseREM
}

func closeSample(sess *Session, now int64) {
	last := &sess.Phases[len(sess.Phases)-1]
	if last.DurationMs == 0 {
		last.DurationMs = now - last.StartMs
	}
}

// scoreSession computes the 0-100 quality score from the weighted
// subscores: duration, environment, movement, phase composition.
func scoreSession(sess *Session) float64 {
	slept := float64(sess.EndMs - sess.StartMs)
	hours := slept / 3600000.0

	duration := clamp01(hours/targetSleepHours) * 100

	environment := environmentScore(sess.Env)

	movement := 100 - float64(sess.movementTotal)*2
	if movement < 0 {
		movement = 0
	}

	phases := phaseScore(sess.Phases, slept)

	score := weightDuration*duration +
		weightEnvironment*environment +
		weightMovement*movement +
		weightPhases*phases
	return math.Round(score)
}

// environmentScore rewards a cool, dark, quiet room. Missing samples score
// a neutral 70.
func environmentScore(env []EnvSample) float64 {
	if len(env) == 0 {
		return 70
	}
	var sum float64
	for _, e := range env {
		v := 100.0
		if e.TempC < 15 || e.TempC > 21 {
			v -= 10 * math.Min(math.Abs(e.TempC-18), 4)
		}
		if e.LightLux > 10 {
			v -= math.Min((e.LightLux-10)/2, 25)
		}
		if e.NoiseDb > 35 {
			v -= math.Min(e.NoiseDb-35, 25)
		}
		if v < 0 {
			v = 0
		}
		sum += v
	}
	return sum / float64(len(env))
}

// phaseScore rewards healthy deep and REM shares (targets 20% and 25%)
// and penalizes time spent awake.
func phaseScore(phases []PhaseSample, totalMs float64) float64 {
	if totalMs <= 0 {
		return 0
	}
	var deep, rem, awake float64
	for _, p := range phases {
		switch p.Phase {
		case PhaseDeep:
			deep += float64(p.DurationMs)
		case PhaseREM:
			rem += float64(p.DurationMs)
		case PhaseAwake:
			awake += float64(p.DurationMs)
		}
	}
	deepScore := clamp01(deep / totalMs / 0.20)
	remScore := clamp01(rem / totalMs / 0.25)
	awakePenalty := clamp01(awake / totalMs * 4)
	return (deepScore*0.5 + remScore*0.5) * (1 - awakePenalty) * 100
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
