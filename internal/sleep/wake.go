package sleep

import (
	"fmt"
	"log"
	"time"

	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
)

const wakeAmbientLead = 15 * time.Minute

func wakeGroup(userID string) string { return "wake:" + userID }

// ScheduleWakeUp arms the staged wake-up routine for a user: an ambient
// ramp ahead of the wake instant and the wake report at the instant
// itself. Re-arming replaces any pending routine for the same user.
func (s *Sleep) ScheduleWakeUp(userID string, at time.Time) error {
	if userID == "" {
		return fault.InvalidArgument("wake-up needs a user id")
	}
	now := s.Runtime().Clock.Now()
	if !at.After(now) {
		return fault.InvalidArgument("wake-up instant is in the past")
	}

	group := wakeGroup(userID)
	s.CancelTimedGroup(group)

	if ramp := at.Add(-wakeAmbientLead); ramp.After(now) {
		s.ScheduleAt(ramp, group, func() { s.wakeAmbient(userID) })
	}
	s.ScheduleAt(at, group, func() { s.wakeUp(userID) })
	log.Printf("[sleep] wake-up armed for %s at %s", userID, at.Format(time.RFC3339))
	return nil
}

// CancelWakeUp discards any pending wake-up stages for the user.
func (s *Sleep) CancelWakeUp(userID string) int {
	return s.CancelTimedGroup(wakeGroup(userID))
}

func (s *Sleep) wakeAmbient(userID string) {
	if err := s.Runtime().Host.TriggerFlow("wake_ambient", map[string]any{"user": userID}); err != nil {
		log.Printf("[sleep] wake ambient flow for %s: %v", userID, err)
	}
}

func (s *Sleep) wakeUp(userID string) {
	msg := "Good morning"
	if sess, err := s.EndSession(userID); err == nil {
		hours := float64(sess.EndMs-sess.StartMs) / 3600000.0
		msg = fmt.Sprintf("Good morning. You slept %.1fh, quality %.0f/100.", hours, sess.Quality)
	}
	s.Runtime().Host.Notify(facade.Notification{
		Title:     "Wake up",
		Message:   msg,
		Priority:  facade.PriorityNormal,
		Category:  "sleep",
		Recipient: userID,
	})
}
