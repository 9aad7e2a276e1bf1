package gtfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapePostmilesMonotonic(t *testing.T) {
	s := straightShape()
	require.Len(t, s.Points, 5)
	for i := 1; i < len(s.Points); i++ {
		assert.Greater(t, s.Points[i].PostKm, s.Points[i-1].PostKm)
	}
	assert.InDelta(t, 2.0, s.TotalKm(), 1e-6)
}

func TestTripAddStopTimeSortsAndDedupes(t *testing.T) {
	trip := &Trip{TripID: "T"}
	trip.AddStopTime(StopTime{TripID: "T", StopID: "B", StopSequence: 2, ArrivalMillis: 2000})
	trip.AddStopTime(StopTime{TripID: "T", StopID: "A", StopSequence: 1, ArrivalMillis: 1000})
	trip.AddStopTime(StopTime{TripID: "T", StopID: "B", StopSequence: 2, ArrivalMillis: 9999})

	require.Len(t, trip.StopTimes, 2)
	assert.Equal(t, "A", trip.StopTimes[0].StopID)
	assert.Equal(t, "B", trip.StopTimes[1].StopID)
	assert.Equal(t, int64(2000), trip.StopTimes[1].ArrivalMillis)
	assert.Equal(t, 2, trip.LastStopSequence())
}

func TestStopSequencesForPost(t *testing.T) {
	trip := &Trip{TripID: "T"}
	trip.AddStopTime(StopTime{TripID: "T", StopID: "A", StopSequence: 1, PostKm: 0})
	trip.AddStopTime(StopTime{TripID: "T", StopID: "B", StopSequence: 2, PostKm: 1.0})

	arr, dep := trip.StopSequencesForPost(0.5, 0.025)
	assert.Equal(t, 1, arr)
	assert.Equal(t, 1, dep)

	// Within the threshold band of the second stop: arrived but not departed.
	arr, dep = trip.StopSequencesForPost(1.01, 0.025)
	assert.Equal(t, 2, arr)
	assert.Equal(t, 1, dep)

	arr, dep = trip.StopSequencesForPost(1.05, 0.025)
	assert.Equal(t, 2, arr)
	assert.Equal(t, 2, dep)

	// Before the route: no stop passed at all.
	arr, dep = trip.StopSequencesForPost(-0.5, 0.025)
	assert.Equal(t, -1, arr)
	assert.Equal(t, -1, dep)
}

func blockWithTrips(starts ...int64) *Block {
	b := NewBlock("B", "SVC")
	for i, start := range starts {
		trip := &Trip{TripID: string(rune('a' + i)), BlockID: "B"}
		trip.AddStopTime(StopTime{TripID: trip.TripID, StopID: "S1", StopSequence: 1,
			ArrivalMillis: start, DepartureMillis: start})
		trip.AddStopTime(StopTime{TripID: trip.TripID, StopID: "S2", StopSequence: 2,
			ArrivalMillis: start + 600_000, DepartureMillis: start + 600_000})
		b.AddTrip(trip)
	}
	return b
}

func TestBlockSortedTrips(t *testing.T) {
	b := blockWithTrips(3_600_000, 1_800_000, 7_200_000)
	trips := b.SortedTrips()
	require.Len(t, trips, 3)
	assert.Equal(t, int64(1_800_000), trips[0].FirstDepartureMillis())
	assert.Equal(t, int64(7_200_000), trips[2].FirstDepartureMillis())
}

func TestBlockTripForTimeClamps(t *testing.T) {
	b := blockWithTrips(1_800_000, 3_600_000)
	trips := b.SortedTrips()

	// Before the first departure and after the last start: clamp.
	assert.Same(t, trips[0], b.TripForTime(0))
	assert.Same(t, trips[1], b.TripForTime(10_000_000))

	assert.Same(t, trips[0], b.TripForTime(2_000_000))
	assert.Same(t, trips[1], b.TripForTime(3_600_000))
}
