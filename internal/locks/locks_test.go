package locks

import (
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/halcyon-home/halcyon/internal/fault"
	"github.com/halcyon-home/halcyon/internal/testutil"
)

// Sunday noon.
var t0 = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

type fakeDuress struct {
	code  string
	calls int
}

func (d *fakeDuress) HandleDuress(code, lockID string) bool {
	d.calls++
	return code == d.code
}

func newLocks(t *testing.T, clk *testclock.Clock, duress DuressChecker) (*Locks, *testutil.FakeHost, func()) {
	t.Helper()
	host := testutil.NewFakeHost()
	rt, cleanup := testutil.NewRuntime(clk, host)
	return New(rt, duress), host, cleanup
}

func putLock(l *Locks, id string, locked bool) *Lock {
	lk := &Lock{ID: id, Name: id, Locked: locked}
	l.locks.Put(id, lk)
	return lk
}

func wantDenied(t *testing.T, err error, reason string) {
	t.Helper()
	if !IsDenied(err) {
		t.Fatalf("error %v is not a denial", err)
	}
	if got := fault.DeniedReason(err); got != reason {
		t.Fatalf("denial reason = %q, want %q", got, reason)
	}
}

func intp(v int) *int { return &v }

func TestAccessCodeValidation(t *testing.T) {
	clk := testclock.NewClock(t0)
	l, _, cleanup := newLocks(t, clk, nil)
	defer cleanup()
	putLock(l, "front", true)
	putLock(l, "back", true)

	if err := l.CreateAccessCode(AccessCode{
		Code:          "739204",
		Type:          CodeTemporary,
		ExpiresAtMs:   t0.Add(time.Hour).UnixMilli(),
		AllowedLocks:  []string{"front"},
		UsesRemaining: intp(2),
	}); err != nil {
		t.Fatal(err)
	}

	wantDenied(t, l.ValidateAccessCode("000000", "front"), ReasonCodeNotFound)

	// Wrong lock leaves the use count untouched.
	wantDenied(t, l.ValidateAccessCode("739204", "back"), ReasonLockNotAllowed)
	st, err := l.AccessCodeState("739204")
	if err != nil {
		t.Fatal(err)
	}
	if *st.UsesRemaining != 2 {
		t.Fatalf("uses after wrong-lock attempt = %d, want 2", *st.UsesRemaining)
	}

	if err := l.ValidateAccessCode("739204", "front"); err != nil {
		t.Fatal(err)
	}
	if err := l.ValidateAccessCode("739204", "front"); err != nil {
		t.Fatal(err)
	}
	st, _ = l.AccessCodeState("739204")
	if *st.UsesRemaining != 0 || st.Enabled {
		t.Fatalf("exhausted code: uses=%d enabled=%v, want 0/false", *st.UsesRemaining, st.Enabled)
	}
	wantDenied(t, l.ValidateAccessCode("739204", "front"), ReasonCodeDisabled)
}

func TestExpiredCodeIsDisabledOnValidation(t *testing.T) {
	clk := testclock.NewClock(t0)
	l, _, cleanup := newLocks(t, clk, nil)
	defer cleanup()
	putLock(l, "front", true)

	if err := l.CreateAccessCode(AccessCode{
		Code:        "739204",
		Type:        CodeTemporary,
		ExpiresAtMs: t0.Add(time.Hour).UnixMilli(),
	}); err != nil {
		t.Fatal(err)
	}

	clk.Advance(2 * time.Hour)
	wantDenied(t, l.ValidateAccessCode("739204", "front"), ReasonCodeExpired)
	st, _ := l.AccessCodeState("739204")
	if st.Enabled {
		t.Fatal("expired code still enabled")
	}
}

func TestCreateAccessCodeValidation(t *testing.T) {
	clk := testclock.NewClock(t0)
	l, _, cleanup := newLocks(t, clk, nil)
	defer cleanup()

	if err := l.CreateAccessCode(AccessCode{Code: "1234", Type: CodePermanent}); err == nil {
		t.Fatal("weak permanent code accepted")
	}
	if err := l.CreateAccessCode(AccessCode{Code: "739204", Type: CodeTemporary}); err == nil {
		t.Fatal("temporary code without expiry accepted")
	}
	if err := l.CreateAccessCode(AccessCode{Code: "739204", Type: "seasonal"}); err == nil {
		t.Fatal("unknown code type accepted")
	}
}

func TestSweepDisablesExpiredCodes(t *testing.T) {
	clk := testclock.NewClock(t0)
	l, _, cleanup := newLocks(t, clk, nil)
	defer cleanup()

	if err := l.CreateAccessCode(AccessCode{
		Code:        "739204",
		Type:        CodeTemporary,
		ExpiresAtMs: t0.Add(time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatal(err)
	}
	clk.Advance(2 * time.Minute)
	l.sweepExpiredCodes()
	st, _ := l.AccessCodeState("739204")
	if st.Enabled {
		t.Fatal("sweep left expired code enabled")
	}
}

func TestAutoLockAfterIdleDelay(t *testing.T) {
	clk := testclock.NewClock(t0)
	l, _, cleanup := newLocks(t, clk, nil)
	defer cleanup()
	lk := putLock(l, "front", true)

	if err := l.Unlock("front", UnlockRequest{UserID: "alice"}); err != nil {
		t.Fatal(err)
	}
	if lk.Locked {
		t.Fatal("lock still locked after unlock")
	}

	// Inside the delay nothing happens.
	clk.Advance(4 * time.Minute)
	if err := l.monitorTick(); err != nil {
		t.Fatal(err)
	}
	if lk.Locked {
		t.Fatal("auto-lock fired before the delay elapsed")
	}

	clk.Advance(2 * time.Minute)
	if err := l.monitorTick(); err != nil {
		t.Fatal(err)
	}
	if !lk.Locked {
		t.Fatal("auto-lock did not fire after the delay")
	}

	found := false
	for _, e := range l.AccessLog(0) {
		if e.LockID == "front" && e.Action == "lock" && e.TriggeredBy == "auto_timer" {
			found = true
		}
	}
	if !found {
		t.Fatal("auto-lock not access-logged")
	}
}

func TestPerLockAutoLockOverride(t *testing.T) {
	clk := testclock.NewClock(t0)
	l, _, cleanup := newLocks(t, clk, nil)
	defer cleanup()
	lk := putLock(l, "front", true)
	if err := l.SetAutoLockOverride("front", (30 * time.Second).Milliseconds()); err != nil {
		t.Fatal(err)
	}

	if err := l.Unlock("front", UnlockRequest{}); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Minute)
	if err := l.monitorTick(); err != nil {
		t.Fatal(err)
	}
	if !lk.Locked {
		t.Fatal("override delay not honored")
	}
}

func TestRepeatedFailedUnlocksRaiseTamper(t *testing.T) {
	clk := testclock.NewClock(t0)
	l, _, cleanup := newLocks(t, clk, nil)
	defer cleanup()
	lk := putLock(l, "front", true)

	for i := 0; i < 2; i++ {
		if err := l.Unlock("front", UnlockRequest{AccessCode: "000000"}); !IsDenied(err) {
			t.Fatalf("attempt %d: %v", i, err)
		}
		clk.Advance(30 * time.Second)
	}
	if lk.TamperAlerted {
		t.Fatal("tamper raised before the third failure")
	}
	if err := l.Unlock("front", UnlockRequest{AccessCode: "000000"}); !IsDenied(err) {
		t.Fatal("third attempt not denied")
	}
	if !lk.TamperAlerted {
		t.Fatal("tamper not raised after three failures")
	}
}

func TestFailedUnlocksOutsideWindowDoNotTrip(t *testing.T) {
	clk := testclock.NewClock(t0)
	l, _, cleanup := newLocks(t, clk, nil)
	defer cleanup()
	lk := putLock(l, "front", true)

	for i := 0; i < 3; i++ {
		if err := l.Unlock("front", UnlockRequest{AccessCode: "000000"}); !IsDenied(err) {
			t.Fatalf("attempt %d: %v", i, err)
		}
		clk.Advance(4 * time.Minute)
	}
	if lk.TamperAlerted {
		t.Fatal("tamper raised from failures spread past the window")
	}
}

func TestDuressCodeBypassesValidation(t *testing.T) {
	clk := testclock.NewClock(t0)
	duress := &fakeDuress{code: "9999"}
	l, _, cleanup := newLocks(t, clk, duress)
	defer cleanup()
	lk := putLock(l, "front", true)

	// The code is not registered as an access code; duress alone admits it.
	if err := l.Unlock("front", UnlockRequest{AccessCode: "9999"}); err != nil {
		t.Fatal(err)
	}
	if lk.Locked {
		t.Fatal("duress unlock did not open the lock")
	}
	if duress.calls != 1 {
		t.Fatalf("duress checker consulted %d times, want 1", duress.calls)
	}
}

func TestAccessScheduleRestriction(t *testing.T) {
	clk := testclock.NewClock(t0) // Sunday 12:00
	l, _, cleanup := newLocks(t, clk, nil)
	defer cleanup()
	putLock(l, "front", true)
	putLock(l, "back", true)

	if err := l.SetAccessSchedule(AccessSchedule{
		UserID:       "cleaner",
		AllowedDays:  []int{0}, // Sunday
		StartTime:    "8:00",
		EndTime:      "17:00",
		AllowedLocks: []string{"front"},
	}); err != nil {
		t.Fatal(err)
	}

	if err := l.Unlock("front", UnlockRequest{UserID: "cleaner"}); err != nil {
		t.Fatal(err)
	}
	wantDenied(t, l.Unlock("back", UnlockRequest{UserID: "cleaner"}), ReasonScheduleRestricted)

	// Out of the time window.
	clk.Advance(8 * time.Hour) // 20:00
	wantDenied(t, l.Unlock("front", UnlockRequest{UserID: "cleaner"}), ReasonScheduleRestricted)

	// Users without schedules stay unrestricted.
	if err := l.Unlock("back", UnlockRequest{UserID: "owner"}); err != nil {
		t.Fatal(err)
	}
}

func TestAccessScheduleWrapsMidnight(t *testing.T) {
	clk := testclock.NewClock(t0)
	l, _, cleanup := newLocks(t, clk, nil)
	defer cleanup()

	if err := l.SetAccessSchedule(AccessSchedule{
		UserID:      "nightshift",
		AllowedDays: []int{0, 1, 2, 3, 4, 5, 6},
		StartTime:   "22:00",
		EndTime:     "06:00",
	}); err != nil {
		t.Fatal(err)
	}
	if l.IsAccessAllowed("nightshift", "front") {
		t.Fatal("noon admitted by a 22:00-06:00 window")
	}
	clk.Advance(11 * time.Hour) // 23:00
	if !l.IsAccessAllowed("nightshift", "front") {
		t.Fatal("23:00 rejected by a 22:00-06:00 window")
	}
}

func TestExpiredTemporaryGrantDenies(t *testing.T) {
	clk := testclock.NewClock(t0)
	l, _, cleanup := newLocks(t, clk, nil)
	defer cleanup()
	putLock(l, "front", true)

	if err := l.GrantTemporaryAccess("guest", t0.Add(time.Hour).UnixMilli(), []string{"front"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Unlock("front", UnlockRequest{UserID: "guest"}); err != nil {
		t.Fatal(err)
	}

	if err := l.Lock("front"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(2 * time.Hour)
	wantDenied(t, l.Unlock("front", UnlockRequest{UserID: "guest"}), ReasonGrantExpired)

	// The expired grant is gone; the user is plain unrestricted afterwards.
	if err := l.Unlock("front", UnlockRequest{UserID: "guest"}); err != nil {
		t.Fatal(err)
	}
}

func TestSyncGroupValidation(t *testing.T) {
	clk := testclock.NewClock(t0)
	l, _, cleanup := newLocks(t, clk, nil)
	defer cleanup()
	putLock(l, "front", true)

	if err := l.CreateSyncGroup("doors", []string{"front"}); !errors.Is(err, fault.ErrInvalidArgument) {
		t.Fatalf("single-lock group: %v", err)
	}
	if err := l.CreateSyncGroup("doors", []string{"front", "ghost"}); !errors.Is(err, fault.ErrInvalidArgument) {
		t.Fatalf("group with unknown lock: %v", err)
	}
}

func TestSyncGroupPropagatesBothWays(t *testing.T) {
	clk := testclock.NewClock(t0)
	l, _, cleanup := newLocks(t, clk, nil)
	defer cleanup()
	front := putLock(l, "front", true)
	back := putLock(l, "back", true)
	if err := l.CreateSyncGroup("doors", []string{"front", "back"}); err != nil {
		t.Fatal(err)
	}

	if err := l.Unlock("front", UnlockRequest{UserID: "alice"}); err != nil {
		t.Fatal(err)
	}
	if front.Locked || back.Locked {
		t.Fatalf("after sync unlock: front=%v back=%v, want both unlocked", front.Locked, back.Locked)
	}

	if err := l.Lock("back"); err != nil {
		t.Fatal(err)
	}
	if !front.Locked || !back.Locked {
		t.Fatalf("after sync lock: front=%v back=%v, want both locked", front.Locked, back.Locked)
	}
}

func TestDisabledSyncGroupsDoNotPropagate(t *testing.T) {
	clk := testclock.NewClock(t0)
	l, _, cleanup := newLocks(t, clk, nil)
	defer cleanup()
	front := putLock(l, "front", true)
	back := putLock(l, "back", true)
	if err := l.CreateSyncGroup("doors", []string{"front", "back"}); err != nil {
		t.Fatal(err)
	}
	l.mu.Lock()
	l.settings.SyncGroupsEnabled = false
	l.mu.Unlock()

	if err := l.Unlock("front", UnlockRequest{}); err != nil {
		t.Fatal(err)
	}
	if front.Locked {
		t.Fatal("primary lock not unlocked")
	}
	if !back.Locked {
		t.Fatal("peer unlocked while sync groups disabled")
	}
}

func TestEmergencyUnlockAllCollectsResults(t *testing.T) {
	clk := testclock.NewClock(t0)
	l, host, cleanup := newLocks(t, clk, nil)
	defer cleanup()
	front := putLock(l, "front", true)
	back := putLock(l, "back", true)

	results := l.EmergencyUnlockAll("fire alarm")
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		if !r.OK {
			t.Fatalf("lock %s failed: %s", r.LockID, r.Error)
		}
	}
	if front.Locked || back.Locked {
		t.Fatal("locks still locked after emergency unlock")
	}
	critical := false
	for _, n := range host.Notifications() {
		if n.Title == "Emergency unlock" {
			critical = true
		}
	}
	if !critical {
		t.Fatal("emergency notification missing")
	}
}

func TestUsageAnalyticsBuckets(t *testing.T) {
	clk := testclock.NewClock(t0) // Sunday 12:00
	l, _, cleanup := newLocks(t, clk, nil)
	defer cleanup()
	putLock(l, "front", true)

	if err := l.Unlock("front", UnlockRequest{}); err != nil {
		t.Fatal(err)
	}
	if err := l.Lock("front"); err != nil {
		t.Fatal(err)
	}

	a := l.Analytics()
	if a.HourlyUsage[12] != 2 {
		t.Fatalf("hour bucket 12 = %d, want 2", a.HourlyUsage[12])
	}
	if a.DailyUsage[0] != 2 {
		t.Fatalf("day bucket 0 = %d, want 2", a.DailyUsage[0])
	}
}
