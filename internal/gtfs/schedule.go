package gtfs

import (
	"log"
	"slices"
	"time"
)

// Source carries the raw schedule rows fetched from the relational store.
type Source struct {
	Stops     []StopRow
	Shapes    []ShapePointRow
	Services  []ServiceRow
	Trips     []TripRow
	StopTimes []StopTimeRow
}

type StopRow struct {
	StopID string
	Lat    float64
	Lon    float64
	Name   string
}

type ShapePointRow struct {
	ShapeID  string
	Sequence int
	Lat      float64
	Lon      float64
}

type ServiceRow struct {
	ServiceID string
	StartDate string // YYYYMMDD
	EndDate   string // YYYYMMDD
	Weekdays  [7]bool
}

type TripRow struct {
	TripID    string
	RouteID   string
	BlockID   string
	ServiceID string
	ShapeID   string
}

type StopTimeRow struct {
	TripID       string
	StopID       string
	StopSequence int
	ArrivalSec   int64
	DepartureSec int64
}

// Schedule is the immutable in-memory schedule: stops, shapes, services and
// blocks of trips, read-only after construction.
type Schedule struct {
	blocks   map[string]*Block
	stops    map[string]*Stop
	shapes   map[string]*Shape
	services map[string]*Service

	tripIndex  map[string]*Trip
	blockIndex map[string]*Block // trip id -> owning block

	loc          *time.Location
	dayStartHour int
}

// NewSchedule builds the schedule once from source rows. Shape postmiles
// accumulate as points are added in sequence order, and every stop of every
// trip is projected onto the trip's shape so stop postmiles are computed
// exactly once. A trip referencing a missing stop or shape is skipped with
// a warning; the rest of the schedule still loads.
func NewSchedule(src Source, loc *time.Location, dayStartHour int) *Schedule {
	s := &Schedule{
		blocks:       make(map[string]*Block),
		stops:        make(map[string]*Stop),
		shapes:       make(map[string]*Shape),
		services:     make(map[string]*Service),
		tripIndex:    make(map[string]*Trip),
		blockIndex:   make(map[string]*Block),
		loc:          loc,
		dayStartHour: dayStartHour,
	}

	for _, row := range src.Stops {
		stop := &Stop{StopID: row.StopID, Lat: row.Lat, Lon: row.Lon, Name: row.Name}
		if _, exists := s.stops[stop.StopID]; !exists {
			s.stops[stop.StopID] = stop
		}
	}

	points := slices.Clone(src.Shapes)
	slices.SortStableFunc(points, func(a, b ShapePointRow) int {
		if a.ShapeID != b.ShapeID {
			if a.ShapeID < b.ShapeID {
				return -1
			}
			return 1
		}
		return a.Sequence - b.Sequence
	})
	for _, row := range points {
		shape, ok := s.shapes[row.ShapeID]
		if !ok {
			shape = &Shape{ShapeID: row.ShapeID}
			s.shapes[row.ShapeID] = shape
		}
		shape.AddPoint(row.Lat, row.Lon, row.Sequence)
	}

	for _, row := range src.Services {
		svc := &Service{
			ServiceID: row.ServiceID,
			StartDate: row.StartDate,
			EndDate:   row.EndDate,
			Weekdays:  row.Weekdays,
		}
		if _, exists := s.services[svc.ServiceID]; !exists {
			s.services[svc.ServiceID] = svc
		}
	}

	stopTimesByTrip := make(map[string][]StopTimeRow)
	for _, row := range src.StopTimes {
		stopTimesByTrip[row.TripID] = append(stopTimesByTrip[row.TripID], row)
	}

	for _, row := range src.Trips {
		block, ok := s.blocks[row.BlockID]
		if !ok {
			block = NewBlock(row.BlockID, row.ServiceID)
			s.blocks[row.BlockID] = block
		}
		trip, err := s.buildTrip(row, stopTimesByTrip[row.TripID])
		if err != nil {
			log.Printf("schedule: skipping trip %s: %v", row.TripID, err)
			continue
		}
		block.AddTrip(trip)
		s.tripIndex[trip.TripID] = trip
		s.blockIndex[trip.TripID] = block
	}

	// Drop blocks whose every trip failed to build.
	for id, block := range s.blocks {
		if len(block.Trips) == 0 {
			delete(s.blocks, id)
		}
	}

	return s
}

func (s *Schedule) buildTrip(row TripRow, stRows []StopTimeRow) (*Trip, error) {
	shape, ok := s.shapes[row.ShapeID]
	if !ok {
		return nil, &missingRefError{kind: "shape", id: row.ShapeID}
	}
	if len(stRows) == 0 {
		return nil, &missingRefError{kind: "stop_times", id: row.TripID}
	}
	trip := &Trip{TripID: row.TripID, BlockID: row.BlockID, RouteID: row.RouteID, ShapeID: row.ShapeID}
	for _, st := range stRows {
		stop, ok := s.stops[st.StopID]
		if !ok {
			return nil, &missingRefError{kind: "stop", id: st.StopID}
		}
		proj := Project(shape, stop.Lat, stop.Lon)
		trip.AddStopTime(StopTime{
			TripID:          st.TripID,
			StopID:          st.StopID,
			StopSequence:    st.StopSequence,
			ArrivalMillis:   st.ArrivalSec * 1000,
			DepartureMillis: st.DepartureSec * 1000,
			PostKm:          proj.PostKm,
		})
	}
	return trip, nil
}

type missingRefError struct {
	kind string
	id   string
}

func (e *missingRefError) Error() string { return "missing " + e.kind + " " + e.id }

func (s *Schedule) BlockCount() int { return len(s.blocks) }

func (s *Schedule) Stop(stopID string) *Stop      { return s.stops[stopID] }
func (s *Schedule) Shape(shapeID string) *Shape   { return s.shapes[shapeID] }
func (s *Schedule) Block(blockID string) *Block   { return s.blocks[blockID] }
func (s *Schedule) Trip(tripID string) *Trip      { return s.tripIndex[tripID] }
func (s *Schedule) BlockForTrip(id string) *Block { return s.blockIndex[id] }

// NextTrip returns the chronological successor of the given trip within its
// block, or nil if the trip is last (or unknown).
func (s *Schedule) NextTrip(tripID string) *Trip {
	block := s.blockIndex[tripID]
	if block == nil {
		return nil
	}
	trips := block.SortedTrips()
	for i, t := range trips {
		if t.TripID == tripID {
			if i < len(trips)-1 {
				return trips[i+1]
			}
			return nil
		}
	}
	return nil
}

// ActiveBlocks lists the blocks whose service runs on the service day
// containing the given timestamp. The service day rolls over at the
// configured day-start hour rather than midnight, so predawn timestamps
// match the previous calendar day's services.
func (s *Schedule) ActiveBlocks(tsMillis int64) []*Block {
	day := s.serviceDay(tsMillis)
	dateStr := day.Format("20060102")
	weekday := (int(day.Weekday()) + 6) % 7 // Monday first

	var active []*Block
	for _, block := range s.blocks {
		svc, ok := s.services[block.ServiceID]
		if !ok {
			continue
		}
		if svc.Weekdays[weekday] && svc.StartDate <= dateStr && dateStr <= svc.EndDate {
			active = append(active, block)
		}
	}
	slices.SortStableFunc(active, func(a, b *Block) int {
		if a.BlockID < b.BlockID {
			return -1
		}
		if a.BlockID > b.BlockID {
			return 1
		}
		return 0
	})
	return active
}

// DayStartMillis is midnight of the service day containing the timestamp,
// in epoch milliseconds. Schedule offsets count from this instant, so a
// 25:30:00 departure lands at 1:30 AM on the following calendar day.
func (s *Schedule) DayStartMillis(tsMillis int64) int64 {
	day := s.serviceDay(tsMillis)
	return day.UnixMilli()
}

// serviceDay returns midnight (local) of the service day for a timestamp.
func (s *Schedule) serviceDay(tsMillis int64) time.Time {
	t := time.UnixMilli(tsMillis).In(s.loc)
	shifted := t.Add(-time.Duration(s.dayStartHour) * time.Hour)
	y, m, d := shifted.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}
