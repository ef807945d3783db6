package analytics

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
	"github.com/halcyon-home/halcyon/internal/testutil"
)

var t0 = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func newAnalytics(t *testing.T, clk *testclock.Clock, host *testutil.FakeHost) (*Analytics, func()) {
	t.Helper()
	rt, cleanup := testutil.NewRuntime(clk, host)
	return New(rt), cleanup
}

func mustCreate(t *testing.T, a *Analytics, id string) *Stream {
	t.Helper()
	if err := a.CreateStream(id, "kWh", 3600); err != nil {
		t.Fatal(err)
	}
	st, _ := a.streams.Get(id)
	return st
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestStatsIncremental(t *testing.T) {
	clk := testclock.NewClock(t0)
	a, cleanup := newAnalytics(t, clk, testutil.NewFakeHost())
	defer cleanup()
	mustCreate(t, a, "power")

	for _, v := range []float64{1, 2, 3, 4, 5} {
		if err := a.Ingest("power", v); err != nil {
			t.Fatal(err)
		}
	}
	s, err := a.StreamStats("power")
	if err != nil {
		t.Fatal(err)
	}
	if s.Count != 5 || s.Min != 1 || s.Max != 5 || !near(s.Avg, 3) {
		t.Fatalf("stats = %+v", s)
	}
	if !near(s.StdDev, math.Sqrt(2)) {
		t.Fatalf("stddev = %.4f, want %.4f", s.StdDev, math.Sqrt(2))
	}
}

func TestCreateStreamValidation(t *testing.T) {
	clk := testclock.NewClock(t0)
	a, cleanup := newAnalytics(t, clk, testutil.NewFakeHost())
	defer cleanup()

	if err := a.CreateStream("", "kWh", 60); !errors.Is(err, fault.ErrInvalidArgument) {
		t.Fatalf("empty id: %v", err)
	}
	mustCreate(t, a, "power")
	if err := a.CreateStream("power", "kWh", 60); !errors.Is(err, fault.ErrInvalidArgument) {
		t.Fatalf("duplicate id: %v", err)
	}
	if err := a.Ingest("ghost", 1); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("unknown stream: %v", err)
	}
}

// seedBaseline ingests ten alternating samples averaging 11 with unit
// standard deviation.
func seedBaseline(t *testing.T, a *Analytics, id string) {
	t.Helper()
	for i := 0; i < 10; i++ {
		v := 10.0
		if i%2 == 1 {
			v = 12.0
		}
		if err := a.Ingest(id, v); err != nil {
			t.Fatal(err)
		}
	}
}

func TestAnomalySeverityThresholds(t *testing.T) {
	clk := testclock.NewClock(t0)
	host := testutil.NewFakeHost()
	a, cleanup := newAnalytics(t, clk, host)
	defer cleanup()

	cases := []struct {
		stream   string
		value    float64 // z = |value - 11| against the baseline
		severity string
	}{
		{"medium", 14.5, "medium"},
		{"high", 15.5, "high"},
		{"critical", 18, "critical"},
	}
	for _, tc := range cases {
		mustCreate(t, a, tc.stream)
		seedBaseline(t, a, tc.stream)
		if err := a.Ingest(tc.stream, tc.value); err != nil {
			t.Fatal(err)
		}
	}

	alerts := a.Alerts(10)
	if len(alerts) != 3 {
		t.Fatalf("alerts = %d, want 3", len(alerts))
	}
	bySeverity := make(map[string]AlertEntry)
	for _, e := range alerts {
		bySeverity[e.StreamID] = e
	}
	for _, tc := range cases {
		e, ok := bySeverity[tc.stream]
		if !ok || e.Severity != tc.severity {
			t.Fatalf("stream %s: entry %+v, want severity %s", tc.stream, e, tc.severity)
		}
	}

	critical := false
	for _, n := range host.Notifications() {
		if n.Title == "Consumption anomaly" && n.Priority == facade.PriorityCritical {
			critical = true
		}
	}
	if !critical {
		t.Fatal("no critical anomaly notification")
	}
}

func TestNoAnomalyOnFlatSeries(t *testing.T) {
	clk := testclock.NewClock(t0)
	a, cleanup := newAnalytics(t, clk, testutil.NewFakeHost())
	defer cleanup()
	mustCreate(t, a, "power")

	// Zero variance yields no z-score, so even a large jump stays silent.
	for i := 0; i < 10; i++ {
		if err := a.Ingest("power", 10); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Ingest("power", 1000); err != nil {
		t.Fatal(err)
	}
	if alerts := a.Alerts(10); len(alerts) != 0 {
		t.Fatalf("alerts on flat series: %+v", alerts)
	}
}

func TestRetentionPrunesAndRecomputes(t *testing.T) {
	clk := testclock.NewClock(t0)
	a, cleanup := newAnalytics(t, clk, testutil.NewFakeHost())
	defer cleanup()
	st := mustCreate(t, a, "power")

	if err := a.Ingest("power", 100); err != nil {
		t.Fatal(err)
	}
	clk.Advance(31 * 24 * time.Hour)
	if err := a.Ingest("power", 4); err != nil {
		t.Fatal(err)
	}

	a.mu.Lock()
	samples := len(st.Samples)
	a.mu.Unlock()
	if samples != 1 {
		t.Fatalf("samples after prune = %d, want 1", samples)
	}
	s, _ := a.StreamStats("power")
	if s.Count != 1 || s.Avg != 4 || s.Min != 4 || s.Max != 4 {
		t.Fatalf("stats after prune = %+v", s)
	}
}

func seedSamples(a *Analytics, st *Stream, atMs []int64, values []float64) {
	a.mu.Lock()
	for i := range atMs {
		st.Samples = append(st.Samples, Sample{AtMs: atMs[i], Value: values[i]})
	}
	recomputeStats(st)
	a.mu.Unlock()
}

func TestTrendDirections(t *testing.T) {
	clk := testclock.NewClock(t0)
	a, cleanup := newAnalytics(t, clk, testutil.NewFakeHost())
	defer cleanup()
	now := t0.UnixMilli()
	day := int64(24 * time.Hour / time.Millisecond)

	prevAt := []int64{now - 10*day, now - 9*day, now - 8*day}
	curAt := []int64{now - 3*day, now - 2*day, now - 1*day}

	up := mustCreate(t, a, "up")
	seedSamples(a, up, append(prevAt, curAt...), []float64{10, 10, 10, 12, 12, 12})

	down := mustCreate(t, a, "down")
	seedSamples(a, down, append(prevAt, curAt...), []float64{10, 10, 10, 8, 8, 8})

	stable := mustCreate(t, a, "stable")
	seedSamples(a, stable, append(prevAt, curAt...), []float64{10, 10, 10, 10.4, 10.4, 10.4})

	// No previous-window data: direction stays stable with nil change.
	fresh := mustCreate(t, a, "fresh")
	seedSamples(a, fresh, curAt, []float64{5, 5, 5})

	if err := a.trendsTick(); err != nil {
		t.Fatal(err)
	}
	trends := a.Trends()
	if len(trends) != 4 {
		t.Fatalf("trends = %d, want 4", len(trends))
	}
	byID := make(map[string]Trend)
	for _, tr := range trends {
		byID[tr.StreamID] = tr
	}

	if tr := byID["up"]; tr.Direction != "up" || tr.PercentChange == nil || !near(*tr.PercentChange, 20) {
		t.Fatalf("up trend = %+v", tr)
	}
	if tr := byID["down"]; tr.Direction != "down" || tr.PercentChange == nil || !near(*tr.PercentChange, -20) {
		t.Fatalf("down trend = %+v", tr)
	}
	if tr := byID["stable"]; tr.Direction != "stable" || tr.PercentChange == nil || !near(*tr.PercentChange, 4) {
		t.Fatalf("stable trend = %+v", tr)
	}
	if tr := byID["fresh"]; tr.Direction != "stable" || tr.PercentChange != nil {
		t.Fatalf("fresh trend = %+v", tr)
	}
}

func TestCorrelationPairsAlignedStreams(t *testing.T) {
	clk := testclock.NewClock(t0)
	a, cleanup := newAnalytics(t, clk, testutil.NewFakeHost())
	defer cleanup()
	now := t0.UnixMilli()
	hour := int64(time.Hour / time.Millisecond)

	var at []int64
	var xs, ys []float64
	for i := 0; i < 12; i++ {
		at = append(at, now-int64(12-i)*hour)
		xs = append(xs, float64(i))
		ys = append(ys, 2*float64(i)+1)
	}
	sa := mustCreate(t, a, "a")
	seedSamples(a, sa, at, xs)
	sb := mustCreate(t, a, "b")
	seedSamples(a, sb, at, ys)

	// Too few points to qualify.
	sc := mustCreate(t, a, "c")
	seedSamples(a, sc, at[:5], xs[:5])

	if err := a.correlationTick(); err != nil {
		t.Fatal(err)
	}
	cs := a.Correlations()
	if len(cs) != 1 {
		t.Fatalf("correlations = %+v, want one pair", cs)
	}
	c := cs[0]
	if c.StreamA != "a" || c.StreamB != "b" || c.Points != 12 {
		t.Fatalf("pair = %+v", c)
	}
	if math.Abs(c.R-1) > 1e-9 {
		t.Fatalf("r = %.4f, want 1", c.R)
	}
}

func TestAlignSamplesTolerance(t *testing.T) {
	base := t0.UnixMilli()
	minMs := int64(time.Minute / time.Millisecond)

	sa := []Sample{{AtMs: base, Value: 1}, {AtMs: base + 60*minMs, Value: 2}}
	sb := []Sample{{AtMs: base + 4*minMs, Value: 10}, {AtMs: base + 70*minMs, Value: 20}}

	// First pair is 4 minutes apart (within tolerance), second is 10 apart.
	xs, ys := alignSamples(sa, sb, 0)
	if len(xs) != 1 || xs[0] != 1 || ys[0] != 10 {
		t.Fatalf("aligned xs=%v ys=%v", xs, ys)
	}
}

func TestPredictionsFromHourOfDayAverages(t *testing.T) {
	clk := testclock.NewClock(t0)
	a, cleanup := newAnalytics(t, clk, testutil.NewFakeHost())
	defer cleanup()
	now := t0.UnixMilli()
	hour := int64(time.Hour / time.Millisecond)

	st := mustCreate(t, a, "power")
	var at []int64
	var vs []float64
	for i := 1; i <= 48; i++ { // two full days, every hour twice
		at = append(at, now-int64(i)*hour)
		vs = append(vs, 5)
	}
	seedSamples(a, st, at, vs)

	if err := a.predictTick(); err != nil {
		t.Fatal(err)
	}
	ps := a.Predictions()
	if len(ps) != 24 {
		t.Fatalf("predictions = %d, want 24", len(ps))
	}
	for _, p := range ps {
		if p.StreamID != "power" || p.Expected != 5 {
			t.Fatalf("prediction = %+v", p)
		}
		if p.Hour < 0 || p.Hour > 23 {
			t.Fatalf("hour out of range: %+v", p)
		}
	}
}
