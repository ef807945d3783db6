package security

import (
	"log"

	"github.com/google/uuid"

	"github.com/halcyon-home/halcyon/internal/config"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
)

// VisitorSchedule grants a visitor access during recurring windows inside a
// date range. Times are zero-padded "HH:MM".
type VisitorSchedule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AllowedDays []int  `json:"allowedDays"` // 0=Sunday .. 6=Saturday
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	StartDateMs int64  `json:"startDateMs"`
	EndDateMs   int64  `json:"endDateMs"`
	Active      bool   `json:"active"`
}

// AddVisitorSchedule validates and stores a schedule, returning its id.
func (s *Security) AddVisitorSchedule(vs VisitorSchedule) (string, error) {
	if len(vs.AllowedDays) == 0 {
		return "", fault.InvalidArgument("visitor schedule needs at least one allowed day")
	}
	for _, d := range vs.AllowedDays {
		if d < 0 || d > 6 {
			return "", fault.InvalidArgument("allowed day %d out of range", d)
		}
	}
	var err error
	if vs.StartTime, err = config.NormalizeHHMM(vs.StartTime); err != nil {
		return "", err
	}
	if vs.EndTime, err = config.NormalizeHHMM(vs.EndTime); err != nil {
		return "", err
	}
	if vs.ID == "" {
		vs.ID = uuid.NewString()
	}
	s.mu.Lock()
	s.visitors[vs.ID] = &vs
	s.mu.Unlock()
	s.persistVisitors()
	return vs.ID, nil
}

// RemoveVisitorSchedule deletes a schedule.
func (s *Security) RemoveVisitorSchedule(id string) error {
	s.mu.Lock()
	_, ok := s.visitors[id]
	delete(s.visitors, id)
	s.mu.Unlock()
	if !ok {
		return fault.NotFound("visitor schedule", id)
	}
	s.persistVisitors()
	return nil
}

// VisitorAllowed reports whether the schedule admits a visit right now:
// inside the date range, today in the allowed set, and the current time of
// day within [start, end] (wrapping across midnight when end < start).
func (s *Security) VisitorAllowed(id string) (bool, error) {
	s.mu.Lock()
	vs, ok := s.visitors[id]
	s.mu.Unlock()
	if !ok {
		return false, fault.NotFound("visitor schedule", id)
	}
	if !vs.Active {
		return false, nil
	}
	now := s.Runtime().Clock.Now()
	nowMs := now.UnixMilli()
	if vs.StartDateMs > 0 && nowMs < vs.StartDateMs {
		return false, nil
	}
	if vs.EndDateMs > 0 && nowMs > vs.EndDateMs {
		return false, nil
	}
	day := int(now.Weekday())
	dayOK := false
	for _, d := range vs.AllowedDays {
		if d == day {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false, nil
	}
	return config.TimeOfDayWithin(now.Format("15:04"), vs.StartTime, vs.EndTime), nil
}

func (s *Security) persistVisitors() {
	s.mu.Lock()
	snapshot := make(map[string]*VisitorSchedule, len(s.visitors))
	for id, vs := range s.visitors {
		snapshot[id] = vs
	}
	s.mu.Unlock()
	if err := facade.SaveJSON(s.Runtime().Host, "visitorSchedules", snapshot); err != nil {
		log.Printf("[security] persist visitor schedules: %v", err)
	}
}
