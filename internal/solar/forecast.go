package solar

import "time"

// Weather and forecast constants.
const (
	snowMeltTempC   = 1.0
	snowMeltPerPass = 0.1
	forecastHours   = 24
)

// weatherTick is the 300 s weather pass: melt snow off the arrays while the
// ambient temperature is above freezing.
func (s *Solar) weatherTick() error {
	s.mu.Lock()
	ambient := s.conditions.AmbientTempC
	s.mu.Unlock()
	if ambient <= snowMeltTempC {
		return nil
	}
	for _, a := range s.arrays.Values() {
		s.mu.Lock()
		if a.SnowCoverage > 0 {
			a.SnowCoverage -= snowMeltPerPass
			if a.SnowCoverage < 0 {
				a.SnowCoverage = 0
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// forecastTick is the 900 s forecast pass: project hourly production for the
// next day by running the production model forward under current conditions.
func (s *Solar) forecastTick() error {
	now := s.Runtime().Clock.Now()
	s.mu.Lock()
	cond := s.conditions
	s.mu.Unlock()

	out := make([]float64, forecastHours)
	for i := range out {
		at := now.Add(time.Duration(i) * time.Hour)
		total := 0.0
		for _, a := range s.arrays.Values() {
			s.mu.Lock()
			total += arrayOutputKW(a, at, cond)
			s.mu.Unlock()
		}
		out[i] = total
	}

	s.mu.Lock()
	s.forecast = out
	s.mu.Unlock()
	return nil
}

// Forecast returns the hourly production projection, index 0 being the
// current hour. Empty before the first forecast pass.
func (s *Solar) Forecast() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.forecast...)
}
