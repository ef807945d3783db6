package solar

import (
	"math"
	"time"
)

// Panel is one module in an array.
type Panel struct {
	ID         string  `json:"id"`
	WattagePk  float64 `json:"wattagePk"`
	Efficiency float64 `json:"efficiency"` // (0,1]
	Soiling    float64 `json:"soiling"`    // [0,1]
}

// PanelArray is a mounted group of panels sharing orientation and shading.
type PanelArray struct {
	ID                string  `json:"id"`
	AzimuthDeg        float64 `json:"azimuthDeg"` // 180 = due south
	TiltDeg           float64 `json:"tiltDeg"`
	Panels            []Panel `json:"panels"`
	CurrentEfficiency float64 `json:"currentEfficiency"` // (0,1]
	SnowCoverage      float64 `json:"snowCoverage"`      // [0,1]
	ShadePercent      float64 `json:"shadePercent"`      // [0,100]
	CleaningAlerted   bool    `json:"cleaningAlerted"`
}

// Daylight tables for latitude 59.33, indexed by month (January first).
// Hours are local decimal time.
var (
	sunriseByMonth = [12]float64{8.7, 7.8, 6.5, 5.0, 3.8, 3.1, 3.5, 4.6, 5.8, 7.0, 8.1, 8.9}
	sunsetByMonth  = [12]float64{15.1, 16.5, 17.8, 19.2, 20.6, 21.7, 21.4, 20.2, 18.6, 17.0, 15.5, 14.7}
)

// solarFactor models the sun elevation contribution at the given local time:
// a cosine arc between sunrise and sunset peaking at solar noon, zero at
// night.
func solarFactor(t time.Time) float64 {
	month := int(t.Month()) - 1
	sunrise := sunriseByMonth[month]
	sunset := sunsetByMonth[month]
	hour := float64(t.Hour()) + 0.5
	if hour < sunrise || hour > sunset {
		return 0
	}
	solarNoon := (sunrise + sunset) / 2
	halfDay := (sunset - sunrise) / 2
	return math.Max(0, math.Cos(math.Abs(hour-solarNoon)/halfDay*math.Pi/2))
}

// orientationFactor derates for deviation from a south-facing 35 degree
// mount.
func orientationFactor(azimuthDeg, tiltDeg float64) float64 {
	azLoss := math.Abs(azimuthDeg-180) / 180 * 0.3
	tiltLoss := math.Abs(tiltDeg-35) / 90 * 0.1
	f := 1 - azLoss - tiltLoss
	if f < 0 {
		return 0
	}
	return f
}

// temperatureFactor derates output 0.4% per degree above 25.
func temperatureFactor(ambientC float64) float64 {
	if ambientC <= 25 {
		return 1
	}
	return math.Max(0, 1-(ambientC-25)*0.004)
}

// arrayOutputKW computes one array's production under the given conditions.
func arrayOutputKW(a *PanelArray, t time.Time, c Conditions) float64 {
	sf := solarFactor(t)
	if sf == 0 {
		return 0
	}
	of := orientationFactor(a.AzimuthDeg, a.TiltDeg)
	tf := temperatureFactor(c.AmbientTempC)
	cloudF := 1 - c.CloudCover*0.75
	snowF := 1 - a.SnowCoverage
	shadeF := 1 - a.ShadePercent/100

	totalW := 0.0
	for _, p := range a.Panels {
		totalW += p.WattagePk * sf * of * p.Efficiency * tf * cloudF * snowF * shadeF * (1 - p.Soiling)
	}
	return totalW * a.CurrentEfficiency / 1000
}

// productionTick is the 60 s production pass: recompute total output across
// every array.
func (s *Solar) productionTick() error {
	now := s.Runtime().Clock.Now()
	s.mu.Lock()
	cond := s.conditions
	s.mu.Unlock()

	total := 0.0
	for _, a := range s.arrays.Values() {
		s.mu.Lock()
		total += arrayOutputKW(a, now, cond)
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.productionKW = total
	s.mu.Unlock()
	return nil
}
