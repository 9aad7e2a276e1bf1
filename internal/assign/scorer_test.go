package assign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	return NewScorer(newTestSchedule(t), DefaultTunables())
}

func TestScorerSentinelWithSingleFix(t *testing.T) {
	s := newTestScorer(t)
	require.True(t, s.AddPosition(pos("v1", tripStart, 0)))
	s.SetClock(tripStart)
	s.ScoreAll()

	assert.Empty(t, s.Candidates("v1"))
}

func TestScorerOnScheduleVehicleMatchesItsBlock(t *testing.T) {
	s := newTestScorer(t)
	s.AddPosition(pos("v1", tripStart, 0))
	s.AddPosition(pos("v1", tripStart+150_000, 0.5))
	s.SetClock(tripStart + 150_000)
	s.ScoreAll()

	cands := s.Candidates("v1")
	require.Len(t, cands, 1) // B2 starts 90 minutes later and scores out
	assert.Equal(t, "B1", cands[0].Block.BlockID)
	assert.InDelta(t, 0.5, cands[0].PostKm, 0.01)
	assert.Greater(t, cands[0].Confidence, 0.5)
}

func TestScorerRejectsVehicleFarOffRoute(t *testing.T) {
	s := newTestScorer(t)
	// ~5.5 km west of the route the whole window.
	p1 := pos("v1", tripStart, 0)
	p1.Lon = ptr(-0.05)
	p2 := pos("v1", tripStart+150_000, 0.5)
	p2.Lon = ptr(-0.05)
	s.AddPosition(p1)
	s.AddPosition(p2)
	s.SetClock(tripStart + 150_000)
	s.ScoreAll()

	assert.Empty(t, s.Candidates("v1"))
}

// A score exactly at the cutoff is excluded.
func TestCandidateCutoffBoundary(t *testing.T) {
	s := newTestScorer(t)
	cutoff := DefaultTunables().CandidateCutoffMillis
	assert.False(t, s.retainCandidate(cutoff))
	assert.False(t, s.retainCandidate(cutoff+1))
	assert.True(t, s.retainCandidate(cutoff-1))
}

func TestConfidenceSymmetricAboutFitLocation(t *testing.T) {
	s := newTestScorer(t)
	cfg := DefaultTunables()

	peak := s.Confidence(cfg.TLoc * 1000)
	assert.InDelta(t, 1.0, peak, 1e-9)

	for _, offsetSec := range []float64{10, 100, 500} {
		lo := s.Confidence((cfg.TLoc - offsetSec) * 1000)
		hi := s.Confidence((cfg.TLoc + offsetSec) * 1000)
		assert.InDelta(t, lo, hi, 1e-9)
		assert.Less(t, hi, peak)
	}

	// Monotone in deviation magnitude above the location.
	assert.Greater(t, s.Confidence((cfg.TLoc+100)*1000), s.Confidence((cfg.TLoc+500)*1000))
}

func TestWrapPostDistance(t *testing.T) {
	assert.InDelta(t, 0.2, wrapPostDistance(1.8, 2.0), 1e-9)
	assert.InDelta(t, 0.9, wrapPostDistance(0.9, 2.0), 1e-9)
	// Exactly half the route stays put.
	assert.InDelta(t, 1.0, wrapPostDistance(1.0, 2.0), 1e-9)
}

func TestExpectedPostKm(t *testing.T) {
	s := newTestScorer(t)
	s.SetClock(tripStart)
	trip := s.sched.Trip("T1")

	// Dwelling at the first stop.
	assert.InDelta(t, 0.0, s.expectedPostKm(trip, tripStart), 1e-6)
	// Halfway between the stops in time is halfway in postmile.
	assert.InDelta(t, 0.5, s.expectedPostKm(trip, tripStart+150_000), 0.01)
	// Before the trip starts the vehicle should be waiting at the first stop.
	assert.InDelta(t, 0.0, s.expectedPostKm(trip, tripStart-600_000), 1e-6)
}

func TestBestTripPrefersCurrentTrip(t *testing.T) {
	s := newTestScorer(t)
	block := s.sched.Block("B1")

	s.AddPosition(pos("v1", tripStart+150_000, 0.5))
	s.SetClock(tripStart + 150_000)

	best := s.BestTrip("v1", block)
	require.NotNil(t, best)
	assert.Equal(t, "T1", best.TripID)

	// Half an hour later the same spot belongs to the block's second trip.
	s.AddPosition(pos("v1", tripStart+1_950_000, 0.5))
	s.SetClock(tripStart + 1_950_000)

	best = s.BestTrip("v1", block)
	require.NotNil(t, best)
	assert.Equal(t, "T2", best.TripID)
}

func TestIntegrateSeriesPair(t *testing.T) {
	// Two points fall back to the trapezoid: area of a 2x1 ramp.
	assert.InDelta(t, 1.0, integrateSeries([]float64{0, 2}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, 2.0, integrateSeries([]float64{0, 1, 2}, []float64{1, 1, 1}), 1e-9)
}
