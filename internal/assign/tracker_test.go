package assign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackerFixture struct {
	scorer  *Scorer
	tracker *Tracker
	sink    *captureSink
	metrics *captureMetrics
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()
	sched := newTestSchedule(t)
	cfg := DefaultTunables()
	scorer := NewScorer(sched, cfg)
	sink := &captureSink{}
	metrics := newCaptureMetrics()
	return &trackerFixture{
		scorer:  scorer,
		tracker: NewTracker(sched, scorer, cfg, sink, metrics),
		sink:    sink,
		metrics: metrics,
	}
}

func (f *trackerFixture) feed(p RawPosition) {
	f.scorer.AddPosition(p)
	f.scorer.SetClock(p.TimeMillis)
	f.tracker.OnNewPosition(p.fix())
}

func TestAssignmentBacktrackBoundary(t *testing.T) {
	a := &Assignment{}
	a.setPost(1.0)
	a.setPost(0.75)
	assert.InDelta(t, 1.0, a.MaxPostKm(), 1e-9)
	// Exactly at the limit is retained; past it is not.
	assert.False(t, a.hasBacktracked(0.25))

	a.setPost(0.7499)
	assert.True(t, a.hasBacktracked(0.25))
}

func TestTripExclusivity(t *testing.T) {
	f := newTrackerFixture(t)
	sched := f.tracker.sched
	trip := sched.Trip("T1")
	block := sched.Block("B1")

	require.True(t, f.tracker.AssignIfUnclaimed("v1", tripStart, trip, block, 0))
	assert.False(t, f.tracker.AssignIfUnclaimed("v2", tripStart, trip, block, 0))
	assert.True(t, f.tracker.IsAssigned("v1"))
	assert.False(t, f.tracker.IsAssigned("v2"))
	assert.Equal(t, 1, f.metrics.committed)
}

func TestOnNewPositionEmitsArrivalWithDelay(t *testing.T) {
	f := newTrackerFixture(t)
	sched := f.tracker.sched

	f.feed(pos("v1", tripStart, 0.1))
	f.tracker.Assign("v1", tripStart, sched.Trip("T1"), sched.Block("B1"), 0.1)

	// On-time arrival at the second stop, scheduled five minutes in.
	f.feed(pos("v1", tripStart+300_000, 1.0))

	require.Len(t, f.sink.events, 1)
	ev := f.sink.events[0]
	assert.Equal(t, Arrival, ev.Type)
	assert.Equal(t, "S2", ev.StopID)
	assert.Equal(t, 2, ev.StopSequence)
	assert.Equal(t, "T1", ev.TripID)
	assert.Equal(t, "v1", ev.VehicleID)
	assert.InDelta(t, 0, float64(ev.DelayMillis), 1000)
	assert.Equal(t, 1, f.metrics.events["arrival"])

	// Every accepted fix of an assigned vehicle publishes its projection.
	require.NotEmpty(t, f.sink.fixes)
	last := f.sink.fixes[len(f.sink.fixes)-1]
	assert.InDelta(t, 1000, last.PostMeters, 10)
	assert.Equal(t, "T1", last.TripID)
}

func TestLateArrivalHasPositiveDelay(t *testing.T) {
	f := newTrackerFixture(t)
	sched := f.tracker.sched

	f.tracker.Assign("v1", tripStart+120_000, sched.Trip("T1"), sched.Block("B1"), 0.1)

	// Two minutes behind schedule the whole way.
	f.feed(pos("v1", tripStart+420_000, 1.0))

	require.Len(t, f.sink.events, 1)
	assert.InDelta(t, 120_000, float64(f.sink.events[0].DelayMillis), 1000)
}

func TestDepartingFinalStopSequencesNextTrip(t *testing.T) {
	f := newTrackerFixture(t)
	sched := f.tracker.sched

	f.tracker.Assign("v1", tripStart, sched.Trip("T1"), sched.Block("B1"), 0.9)

	// Drive well past the last stop: arrival and departure both fire and
	// the assignment rolls onto T2 with the leftover distance negative.
	f.feed(pos("v1", tripStart+180_000, 1.5))

	a := f.tracker.Assignment("v1")
	require.NotNil(t, a)
	assert.Equal(t, "T2", a.Trip.TripID)
	assert.InDelta(t, -0.5, a.PostKm(), 0.01)

	require.Len(t, f.sink.events, 2)
	assert.Equal(t, Arrival, f.sink.events[0].Type)
	assert.Equal(t, Departure, f.sink.events[1].Type)
}

func TestEndOfBlockRemovesAssignment(t *testing.T) {
	f := newTrackerFixture(t)
	sched := f.tracker.sched

	// T2 is the block's final trip.
	startT2 := monday.Add(8*time.Hour + 30*time.Minute).UnixMilli()
	f.tracker.Assign("v1", startT2, sched.Trip("T2"), sched.Block("B1"), 0.9)
	f.feed(pos("v1", startT2+180_000, 1.5))

	assert.False(t, f.tracker.IsAssigned("v1"))
	assert.Equal(t, 1, f.metrics.removed["end_of_block"])
}

func TestOnNewPositionIgnoresStaleFix(t *testing.T) {
	f := newTrackerFixture(t)
	sched := f.tracker.sched

	f.tracker.Assign("v1", tripStart+300_000, sched.Trip("T1"), sched.Block("B1"), 1.0)
	f.feed(pos("v1", tripStart, 0)) // older than the assignment

	a := f.tracker.Assignment("v1")
	require.NotNil(t, a)
	assert.InDelta(t, 1.0, a.PostKm(), 1e-9)
	assert.Empty(t, f.sink.fixes)
}

func TestRemovalSweepStale(t *testing.T) {
	f := newTrackerFixture(t)
	sched := f.tracker.sched

	f.feed(pos("v1", tripStart, 0))
	f.tracker.Assign("v1", tripStart, sched.Trip("T1"), sched.Block("B1"), 0)

	// Advance the clock past the window with no new fixes.
	f.scorer.SetClock(tripStart + DefaultTunables().WindowMillis + 1)
	f.tracker.RemovalSweep()

	assert.False(t, f.tracker.IsAssigned("v1"))
	assert.Equal(t, 1, f.metrics.removed["stale"])
}

func TestRemovalSweepInaccurate(t *testing.T) {
	f := newTrackerFixture(t)
	sched := f.tracker.sched

	// Fresh fixes far off every route: the assigned block scores out.
	p1 := pos("v1", tripStart, 0)
	p1.Lon = ptr(-0.05)
	p2 := pos("v1", tripStart+150_000, 0)
	p2.Lon = ptr(-0.05)
	f.feed(p1)
	f.tracker.Assign("v1", tripStart, sched.Trip("T1"), sched.Block("B1"), 0)
	f.feed(p2)
	f.scorer.ScoreAll()
	f.tracker.RemovalSweep()

	assert.False(t, f.tracker.IsAssigned("v1"))
	assert.Equal(t, 1, f.metrics.removed["inaccurate"])
}

func TestRemovalSweepBacktracked(t *testing.T) {
	f := newTrackerFixture(t)
	sched := f.tracker.sched

	f.feed(pos("v1", tripStart, 0))
	f.feed(pos("v1", tripStart+150_000, 0.5))
	f.tracker.Assign("v1", tripStart+150_000, sched.Trip("T1"), sched.Block("B1"), 0.8)

	// Fallen well behind the furthest point reached.
	f.tracker.Assignment("v1").setPost(0.4)
	f.scorer.ScoreAll()
	f.tracker.RemovalSweep()

	assert.False(t, f.tracker.IsAssigned("v1"))
	assert.Equal(t, 1, f.metrics.removed["backtracked"])
}
