package analytics

import (
	"log"
	"math"
	"sort"
	"time"

	"github.com/halcyon-home/halcyon/internal/clock"
)

const (
	trendWindow       = 7 * 24 * time.Hour
	trendStableBelow  = 5.0 // percent
	correlationMinPts = 10
	predictionHorizon = 24 // hours ahead
)

// correlationTick recomputes pairwise Pearson correlations over the last
// week of samples. Only pairings with at least correlationMinPts aligned
// points and |r| above the reporting threshold are kept.
func (a *Analytics) correlationTick() error {
	now := clock.UnixMillis(a.Runtime().Clock)
	since := now - trendWindow.Milliseconds()

	a.mu.Lock()
	defer a.mu.Unlock()

	var ids []string
	byID := make(map[string]*Stream)
	a.streams.Range(func(id string, st *Stream) bool {
		ids = append(ids, id)
		byID[id] = st
		return true
	})
	sort.Strings(ids)

	var results []Correlation
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			xs, ys := alignSamples(byID[ids[i]].Samples, byID[ids[j]].Samples, since)
			if len(xs) < correlationMinPts {
				continue
			}
			r := pearson(xs, ys)
			if math.Abs(r) > correlationMinAbsR {
				results = append(results, Correlation{
					StreamA: ids[i],
					StreamB: ids[j],
					R:       r,
					Points:  len(xs),
				})
				log.Printf("[analytics] correlation %s <-> %s: r=%.2f over %d points",
					ids[i], ids[j], r, len(xs))
			}
		}
	}
	a.correlations = results
	return nil
}

// alignSamples pairs up samples from two streams whose timestamps fall
// within the alignment tolerance, consuming each sample at most once.
func alignSamples(sa, sb []Sample, since int64) (xs, ys []float64) {
	tol := correlationTolerance.Milliseconds()
	i, j := 0, 0
	for i < len(sa) && j < len(sb) {
		if sa[i].AtMs < since {
			i++
			continue
		}
		if sb[j].AtMs < since {
			j++
			continue
		}
		diff := sa[i].AtMs - sb[j].AtMs
		switch {
		case diff < -tol:
			i++
		case diff > tol:
			j++
		default:
			xs = append(xs, sa[i].Value)
			ys = append(ys, sb[j].Value)
			i++
			j++
		}
	}
	return xs, ys
}

func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumX2, sumY2 float64
	for k := range xs {
		sumX += xs[k]
		sumY += ys[k]
		sumXY += xs[k] * ys[k]
		sumX2 += xs[k] * xs[k]
		sumY2 += ys[k] * ys[k]
	}
	denom := math.Sqrt(n*sumX2-sumX*sumX) * math.Sqrt(n*sumY2-sumY*sumY)
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// trendsTick compares each stream's trailing seven-day average against the
// seven days before that. PercentChange stays nil when the previous window
// averaged zero.
func (a *Analytics) trendsTick() error {
	now := clock.UnixMillis(a.Runtime().Clock)
	weekAgo := now - trendWindow.Milliseconds()
	twoWeeksAgo := now - 2*trendWindow.Milliseconds()

	a.mu.Lock()
	defer a.mu.Unlock()

	var results []Trend
	a.streams.Range(func(id string, st *Stream) bool {
		curAvg, curN := windowAvg(st.Samples, weekAgo, now)
		prevAvg, prevN := windowAvg(st.Samples, twoWeeksAgo, weekAgo)
		if curN == 0 {
			return true
		}
		t := Trend{StreamID: id, CurrentAvg: curAvg, PreviousAvg: prevAvg, Direction: "stable"}
		if prevN > 0 && prevAvg != 0 {
			pct := (curAvg - prevAvg) / prevAvg * 100
			t.PercentChange = &pct
			if pct > trendStableBelow {
				t.Direction = "up"
			} else if pct < -trendStableBelow {
				t.Direction = "down"
			}
		}
		results = append(results, t)
		return true
	})
	sort.Slice(results, func(i, j int) bool { return results[i].StreamID < results[j].StreamID })
	a.trends = results
	return nil
}

func windowAvg(samples []Sample, from, to int64) (avg float64, n int) {
	var sum float64
	for _, s := range samples {
		if s.AtMs >= from && s.AtMs < to {
			sum += s.Value
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// Prediction is the expected value for one stream at a future hour of day.
type Prediction struct {
	StreamID string  `json:"streamId"`
	Hour     int     `json:"hour"` // 0..23
	Expected float64 `json:"expected"`
}

// predictTick projects the next 24 hours per stream from hour-of-day
// averages over the retained samples.
func (a *Analytics) predictTick() error {
	c := a.Runtime().Clock

	a.mu.Lock()
	defer a.mu.Unlock()

	var results []Prediction
	a.streams.Range(func(id string, st *Stream) bool {
		var sums [24]float64
		var counts [24]int
		for _, s := range st.Samples {
			h := time.UnixMilli(s.AtMs).Hour()
			sums[h] += s.Value
			counts[h]++
		}
		startHour := c.Now().Hour()
		for off := 1; off <= predictionHorizon; off++ {
			h := (startHour + off) % 24
			if counts[h] == 0 {
				continue
			}
			results = append(results, Prediction{
				StreamID: id,
				Hour:     h,
				Expected: sums[h] / float64(counts[h]),
			})
		}
		return true
	})
	a.predictions = results
	return nil
}

// Predictions returns the last projection pass.
func (a *Analytics) Predictions() []Prediction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Prediction(nil), a.predictions...)
}
