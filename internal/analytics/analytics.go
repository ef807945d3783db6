// Package analytics implements the consumption analytics engine: stream
// ingest with 30-day retention and incremental statistics, z-score anomaly
// detection, weekly cross-stream Pearson correlations, and daily trends.
package analytics

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/clock"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
	"github.com/halcyon-home/halcyon/internal/store"
	"github.com/halcyon-home/halcyon/internal/subsys"
)

// Retention and scheduling.
const (
	retention = 30 * 24 * time.Hour

	correlationCron = "0 3 * * 0" // weekly, Sunday 03:00
	trendsCron      = "0 3 * * *" // daily 03:00
)

// Anomaly severities by z-score threshold.
const (
	zMedium   = 3.0
	zHigh     = 4.0
	zCritical = 5.0
)

const correlationTolerance = 5 * time.Minute
const correlationMinAbsR = 0.5

// Sample is one (time, value) observation.
type Sample struct {
	AtMs  int64   `json:"atMs"`
	Value float64 `json:"value"`
}

// Stats are the derived stream statistics, maintained incrementally.
type Stats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	StdDev float64 `json:"stddev"`
	Count  int     `json:"count"`

	sum   float64
	sumSq float64
}

// Stream is one consumption series.
type Stream struct {
	ID         string   `json:"id"`
	Unit       string   `json:"unit"`
	CadenceSec int      `json:"cadenceSec"`
	Samples    []Sample `json:"samples"`
	Stats      Stats    `json:"stats"`
}

// AlertEntry records one anomaly in the bounded alert log.
type AlertEntry struct {
	AtMs     int64   `json:"atMs"`
	StreamID string  `json:"streamId"`
	Value    float64 `json:"value"`
	ZScore   float64 `json:"zScore"`
	Severity string  `json:"severity"`
}

// Trend is one stream's daily trend result. PercentChange is nil when the
// previous window average is zero.
type Trend struct {
	StreamID      string   `json:"streamId"`
	Direction     string   `json:"direction"` // "up", "down", "stable"
	PercentChange *float64 `json:"percentChange,omitempty"`
	CurrentAvg    float64  `json:"currentAvg"`
	PreviousAvg   float64  `json:"previousAvg"`
}

// Correlation is one significant stream pairing.
type Correlation struct {
	StreamA string  `json:"streamA"`
	StreamB string  `json:"streamB"`
	R       float64 `json:"r"`
	Points  int     `json:"points"`
}

// Analytics is the subsystem instance.
type Analytics struct {
	*subsys.Base

	mu           sync.Mutex
	streams      *store.Table[string, *Stream]
	correlations []Correlation
	trends       []Trend
	predictions  []Prediction

	alerts *store.BoundedLog[AlertEntry]
}

// New constructs the subsystem.
func New(rt *subsys.Runtime) *Analytics {
	return &Analytics{
		Base:    subsys.NewBase("analytics", rt),
		streams: store.NewTable[string, *Stream](),
		alerts:  store.NewBoundedLog[AlertEntry](rt.Env.AnomalyLogCapacity),
	}
}

// Init loads persisted streams and registers the cron-phase jobs.
func (a *Analytics) Init(ctx context.Context) error {
	if err := a.BeginInit(); err != nil {
		return err
	}
	var persisted map[string]*Stream
	if found, err := facade.LoadJSON(a.Runtime().Host, "analyticsStreams", &persisted); err != nil {
		log.Printf("[analytics] load streams: %v", err)
	} else if found {
		for id, st := range persisted {
			recomputeStats(st)
			a.streams.Put(id, st)
		}
	}

	a.RegisterCronTask("correlation", correlationCron, a.correlationTick)
	a.RegisterCronTask("trends", trendsCron, a.trendsTick)
	a.RegisterTask("predict", 6*time.Hour, a.predictTick)

	a.FinishInit()
	return nil
}

// CreateStream registers a consumption series.
func (a *Analytics) CreateStream(id, unit string, cadenceSec int) error {
	if id == "" {
		return fault.InvalidArgument("stream needs an id")
	}
	if _, exists := a.streams.Get(id); exists {
		return fault.InvalidArgument("stream %q already exists", id)
	}
	a.streams.Put(id, &Stream{ID: id, Unit: unit, CadenceSec: cadenceSec})
	return nil
}

// Ingest appends a sample, prunes past retention, updates the statistics,
// and runs the anomaly check against the pre-ingest distribution.
func (a *Analytics) Ingest(streamID string, value float64) error {
	st, ok := a.streams.Get(streamID)
	if !ok {
		return fault.NotFound("stream", streamID)
	}
	now := clock.UnixMillis(a.Runtime().Clock)

	a.mu.Lock()
	z := 0.0
	if st.Stats.Count >= 2 && st.Stats.StdDev > 0 {
		z = math.Abs(value-st.Stats.Avg) / st.Stats.StdDev
	}

	st.Samples = append(st.Samples, Sample{AtMs: now, Value: value})
	st.Stats.ingest(value)
	cutoff := now - retention.Milliseconds()
	if len(st.Samples) > 0 && st.Samples[0].AtMs < cutoff {
		i := 0
		for i < len(st.Samples) && st.Samples[i].AtMs < cutoff {
			i++
		}
		st.Samples = append(st.Samples[:0], st.Samples[i:]...)
		recomputeStats(st)
	}
	a.mu.Unlock()

	if severity := severityFor(z); severity != "" {
		a.raiseAnomaly(st, value, z, severity, now)
	}
	return nil
}

func (s *Stats) ingest(v float64) {
	if s.Count == 0 || v < s.Min {
		s.Min = v
	}
	if s.Count == 0 || v > s.Max {
		s.Max = v
	}
	s.Count++
	s.sum += v
	s.sumSq += v * v
	s.Avg = s.sum / float64(s.Count)
	if s.Count >= 2 {
		variance := (s.sumSq - s.sum*s.sum/float64(s.Count)) / float64(s.Count)
		if variance < 0 {
			variance = 0
		}
		s.StdDev = math.Sqrt(variance)
	}
}

func recomputeStats(st *Stream) {
	st.Stats = Stats{}
	for _, smp := range st.Samples {
		st.Stats.ingest(smp.Value)
	}
}

func severityFor(z float64) string {
	switch {
	case z > zCritical:
		return "critical"
	case z > zHigh:
		return "high"
	case z > zMedium:
		return "medium"
	}
	return ""
}

func (a *Analytics) raiseAnomaly(st *Stream, value, z float64, severity string, now int64) {
	a.alerts.Append(AlertEntry{AtMs: now, StreamID: st.ID, Value: value, ZScore: z, Severity: severity})
	a.Runtime().Bus.Publish(bus.AnomalyDetected{
		StreamID: st.ID,
		Value:    value,
		ZScore:   z,
		Severity: severity,
		AtMs:     now,
	})
	priority := facade.PriorityNormal
	if severity == "critical" {
		priority = facade.PriorityCritical
	} else if severity == "high" {
		priority = facade.PriorityHigh
	}
	a.Runtime().Host.Notify(facade.Notification{
		Title:    "Consumption anomaly",
		Message:  fmt.Sprintf("%s: %.2f %s (z=%.1f)", st.ID, value, st.Unit, z),
		Priority: priority,
		Category: "analytics",
	})
	log.Printf("[analytics] anomaly on %s: value %.2f z %.1f (%s)", st.ID, value, z, severity)
}

// StreamStats returns a copy of one stream's statistics.
func (a *Analytics) StreamStats(id string) (Stats, error) {
	st, ok := a.streams.Get(id)
	if !ok {
		return Stats{}, fault.NotFound("stream", id)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return st.Stats, nil
}

// Alerts returns the most recent anomaly entries, newest first.
func (a *Analytics) Alerts(limit int) []AlertEntry {
	return a.alerts.Query(nil, limit)
}

// Correlations returns the last weekly correlation results.
func (a *Analytics) Correlations() []Correlation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Correlation(nil), a.correlations...)
}

// Trends returns the last daily trend results.
func (a *Analytics) Trends() []Trend {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Trend(nil), a.trends...)
}

func (a *Analytics) persist() {
	snapshot := make(map[string]*Stream)
	a.mu.Lock()
	a.streams.Range(func(id string, st *Stream) bool {
		snapshot[id] = st
		return true
	})
	a.mu.Unlock()
	if err := facade.SaveJSON(a.Runtime().Host, "analyticsStreams", snapshot); err != nil {
		log.Printf("[analytics] persist streams: %v", err)
	}
}

// Destroy tears the subsystem down; safe to call more than once.
func (a *Analytics) Destroy() {
	a.Base.Destroy(func() {
		a.persist()
	})
}
