package security

import (
	"log"
	"math"
)

// GeofenceConfig controls auto-arm on leave and auto-disarm on arrival.
// RequireKnownLocation keeps "everyone is away" false until at least one user
// has reported a position, so a fresh install cannot auto-arm by vacuous truth.
type GeofenceConfig struct {
	HomeLat              float64 `json:"homeLat"`
	HomeLon              float64 `json:"homeLon"`
	RadiusM              float64 `json:"radiusM"`
	AutoArmOnLeave       bool    `json:"autoArmOnLeave"`
	AutoDisarmOnArrive   bool    `json:"autoDisarmOnArrive"`
	RequireKnownLocation bool    `json:"requireKnownLocation"`
}

// UserLocation is the last reported position of one user.
type UserLocation struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	AtMs int64   `json:"atMs"`
}

const earthRadiusM = 6371000.0

// haversineM returns the great-circle distance in meters.
func haversineM(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := math.Pi / 180
	dLat := (lat2 - lat1) * toRad
	dLon := (lon2 - lon1) * toRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*toRad)*math.Cos(lat2*toRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// SetGeofence replaces the geofence configuration.
func (s *Security) SetGeofence(cfg GeofenceConfig) {
	s.mu.Lock()
	s.settings.Geofence = cfg
	s.mu.Unlock()
	s.persistSettings()
}

// ReportUserLocation records a position update and evaluates the geofence
// rules against the new picture.
func (s *Security) ReportUserLocation(userID string, lat, lon float64) {
	s.mu.Lock()
	s.locations[userID] = UserLocation{Lat: lat, Lon: lon, AtMs: s.nowMs()}
	s.mu.Unlock()
	s.evaluateGeofence()
}

func (s *Security) evaluateGeofence() {
	s.mu.Lock()
	cfg := s.settings.Geofence
	locations := make(map[string]UserLocation, len(s.locations))
	for id, loc := range s.locations {
		locations[id] = loc
	}
	s.mu.Unlock()

	if cfg.RadiusM <= 0 {
		return
	}
	anyHome := false
	allAway := true
	for _, loc := range locations {
		if haversineM(cfg.HomeLat, cfg.HomeLon, loc.Lat, loc.Lon) <= cfg.RadiusM {
			anyHome = true
			allAway = false
		}
	}
	if len(locations) == 0 && cfg.RequireKnownLocation {
		allAway = false
	}

	mode := s.Mode()
	switch {
	case allAway && cfg.AutoArmOnLeave && mode == ModeDisarmed:
		if err := s.SetMode(ModeArmedAway, "geofence"); err != nil {
			log.Printf("[security] geofence auto-arm: %v", err)
		}
	case anyHome && cfg.AutoDisarmOnArrive && mode != ModeDisarmed:
		if err := s.SetMode(ModeDisarmed, "geofence"); err != nil {
			log.Printf("[security] geofence auto-disarm: %v", err)
		}
	}
}
