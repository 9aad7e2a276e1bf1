package assign

import (
	"testing"
	"time"

	"transit-assigner/internal/gtfs"
)

// one km of latitude, in degrees
const latPerKm = 1.0 / 111.19492664455873

// 2026-08-24 is a Monday; trips below run its weekday service.
var monday = time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC)

// tripStart is T1's first departure as an absolute timestamp.
var tripStart = monday.Add(8 * time.Hour).UnixMilli()

// newTestSchedule builds a two-stop straight route heading north:
// stop S1 at postmile 0, stop S2 at 1.0 km, shape 2.0 km long. Trips
// cover the kilometer in five minutes, matching the fiducial speed.
// Block B1 runs T1 (08:00-08:05) then T2 (08:30-08:35); block B2 runs T3
// an hour and a half later; block B3 is weekend-only.
func newTestSchedule(t *testing.T) *gtfs.Schedule {
	t.Helper()

	shapeRows := make([]gtfs.ShapePointRow, 0, 5)
	for i, km := range []float64{0, 0.5, 1.0, 1.5, 2.0} {
		shapeRows = append(shapeRows, gtfs.ShapePointRow{ShapeID: "SH1", Sequence: i + 1, Lat: km * latPerKm, Lon: 0})
	}

	stopTimes := func(tripID string, dep1, arr2 int64) []gtfs.StopTimeRow {
		return []gtfs.StopTimeRow{
			{TripID: tripID, StopID: "S1", StopSequence: 1, ArrivalSec: dep1, DepartureSec: dep1},
			{TripID: tripID, StopID: "S2", StopSequence: 2, ArrivalSec: arr2, DepartureSec: arr2 + 60},
		}
	}

	src := gtfs.Source{
		Stops: []gtfs.StopRow{
			{StopID: "S1", Lat: 0, Lon: 0, Name: "First"},
			{StopID: "S2", Lat: 1.0 * latPerKm, Lon: 0, Name: "Second"},
		},
		Shapes: shapeRows,
		Services: []gtfs.ServiceRow{
			{ServiceID: "WK", StartDate: "20260101", EndDate: "20261231",
				Weekdays: [7]bool{true, true, true, true, true, false, false}},
			{ServiceID: "WE", StartDate: "20260101", EndDate: "20261231",
				Weekdays: [7]bool{false, false, false, false, false, true, true}},
		},
		Trips: []gtfs.TripRow{
			{TripID: "T1", RouteID: "R1", BlockID: "B1", ServiceID: "WK", ShapeID: "SH1"},
			{TripID: "T2", RouteID: "R1", BlockID: "B1", ServiceID: "WK", ShapeID: "SH1"},
			{TripID: "T3", RouteID: "R2", BlockID: "B2", ServiceID: "WK", ShapeID: "SH1"},
			{TripID: "T4", RouteID: "R1", BlockID: "B3", ServiceID: "WE", ShapeID: "SH1"},
		},
	}
	src.StopTimes = append(src.StopTimes, stopTimes("T1", 28800, 29100)...)
	src.StopTimes = append(src.StopTimes, stopTimes("T2", 30600, 30900)...)
	src.StopTimes = append(src.StopTimes, stopTimes("T3", 34200, 34500)...)
	src.StopTimes = append(src.StopTimes, stopTimes("T4", 28800, 29100)...)

	return gtfs.NewSchedule(src, time.UTC, 4)
}

func ptr(v float64) *float64 { return &v }

// pos places a vehicle latKm kilometers up the test route.
func pos(vehicleID string, tsMillis int64, latKm float64) RawPosition {
	return RawPosition{
		VehicleID:  vehicleID,
		TimeMillis: tsMillis,
		Lat:        ptr(latKm * latPerKm),
		Lon:        ptr(0),
	}
}

type captureSink struct {
	events []StopEvent
	fixes  []ProjectedFix
}

func (c *captureSink) PublishStopEvent(ev StopEvent) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) PublishProjectedFix(fix ProjectedFix) error {
	c.fixes = append(c.fixes, fix)
	return nil
}

type captureMetrics struct {
	received  int
	dropped   int
	committed int
	removed   map[string]int
	events    map[string]int
	tracked   int
	assigned  int
	accuracy  float64
}

func newCaptureMetrics() *captureMetrics {
	return &captureMetrics{removed: make(map[string]int), events: make(map[string]int)}
}

func (m *captureMetrics) PositionReceived()                 { m.received++ }
func (m *captureMetrics) PositionDropped()                  { m.dropped++ }
func (m *captureMetrics) AssignmentCommitted()              { m.committed++ }
func (m *captureMetrics) AssignmentRemoved(reason string)   { m.removed[reason]++ }
func (m *captureMetrics) StopEventEmitted(eventType string) { m.events[eventType]++ }
func (m *captureMetrics) EvaluationObserve(seconds float64) {}
func (m *captureMetrics) SetVehicles(tracked, assigned int) { m.tracked, m.assigned = tracked, assigned }
func (m *captureMetrics) SetAccuracy(fraction float64)      { m.accuracy = fraction }
