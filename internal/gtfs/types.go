package gtfs

import "slices"

// Stop is a scheduled stop location.
type Stop struct {
	StopID string
	Lat    float64
	Lon    float64
	Name   string
}

// ShapePoint is one vertex of a route polyline. PostKm is the cumulative
// distance from the shape's first point, in km.
type ShapePoint struct {
	Lat      float64
	Lon      float64
	Sequence int
	PostKm   float64
}

// Shape is the published polyline geometry of a route variant.
type Shape struct {
	ShapeID string
	Points  []ShapePoint
}

// AddPoint appends a vertex, accumulating the postmile from the previous
// point via great-circle distance. Points must be added in sequence order.
func (s *Shape) AddPoint(lat, lon float64, seq int) {
	post := 0.0
	if n := len(s.Points); n > 0 {
		prev := s.Points[n-1]
		post = prev.PostKm + KmBetween(lat, lon, prev.Lat, prev.Lon)
	}
	s.Points = append(s.Points, ShapePoint{Lat: lat, Lon: lon, Sequence: seq, PostKm: post})
}

// TotalKm is the postmile of the last vertex.
func (s *Shape) TotalKm() float64 {
	if len(s.Points) == 0 {
		return 0
	}
	return s.Points[len(s.Points)-1].PostKm
}

// StopTime is one scheduled stop within a trip. Arrival and departure are
// milliseconds since the service day start. PostKm is the stop's projected
// position on the trip's shape, precomputed at load time.
type StopTime struct {
	TripID          string
	StopID          string
	StopSequence    int
	ArrivalMillis   int64
	DepartureMillis int64
	PostKm          float64
}

// Trip is one scheduled run along a shape. StopTimes is kept sorted by
// stop sequence and deduplicated by (trip, stop) identity.
type Trip struct {
	TripID    string
	BlockID   string
	RouteID   string
	ShapeID   string
	StopTimes []StopTime
}

// AddStopTime inserts a stop time, keeping the list sorted by sequence.
func (t *Trip) AddStopTime(st StopTime) {
	for _, have := range t.StopTimes {
		if have.TripID == st.TripID && have.StopID == st.StopID {
			return
		}
	}
	t.StopTimes = append(t.StopTimes, st)
	slices.SortStableFunc(t.StopTimes, func(a, b StopTime) int {
		return a.StopSequence - b.StopSequence
	})
}

// FirstDepartureMillis is the departure offset of the first stop.
func (t *Trip) FirstDepartureMillis() int64 {
	return t.StopTimes[0].DepartureMillis
}

// LastArrivalMillis is the arrival offset of the final stop.
func (t *Trip) LastArrivalMillis() int64 {
	return t.StopTimes[len(t.StopTimes)-1].ArrivalMillis
}

func (t *Trip) LastStopSequence() int {
	return t.StopTimes[len(t.StopTimes)-1].StopSequence
}

// StopTimeForSequence returns the stop time with the given sequence number.
func (t *Trip) StopTimeForSequence(seq int) (StopTime, bool) {
	for _, st := range t.StopTimes {
		if st.StopSequence == seq {
			return st, true
		}
	}
	return StopTime{}, false
}

// StopSequencesForPost returns the highest stop sequence the vehicle has
// arrived at (stop postmile below post+threshKm) and departed from (stop
// postmile below post-threshKm). Returns -1 when no stop qualifies.
func (t *Trip) StopSequencesForPost(postKm, threshKm float64) (arrived, departed int) {
	arrived, departed = -1, -1
	for _, st := range t.StopTimes {
		if st.PostKm < postKm+threshKm {
			arrived = st.StopSequence
		}
	}
	for _, st := range t.StopTimes {
		if st.PostKm < postKm-threshKm {
			departed = st.StopSequence
		}
	}
	return arrived, departed
}

// Block is one vehicle's full sequence of scheduled trips for a service day.
type Block struct {
	BlockID   string
	ServiceID string
	Trips     map[string]*Trip
}

func NewBlock(blockID, serviceID string) *Block {
	return &Block{BlockID: blockID, ServiceID: serviceID, Trips: make(map[string]*Trip)}
}

func (b *Block) AddTrip(t *Trip) {
	if _, exists := b.Trips[t.TripID]; !exists {
		b.Trips[t.TripID] = t
	}
}

// SortedTrips returns the block's trips ordered by first departure.
func (b *Block) SortedTrips() []*Trip {
	trips := make([]*Trip, 0, len(b.Trips))
	for _, t := range b.Trips {
		trips = append(trips, t)
	}
	slices.SortStableFunc(trips, func(a, c *Trip) int {
		d := a.FirstDepartureMillis() - c.FirstDepartureMillis()
		switch {
		case d < 0:
			return -1
		case d > 0:
			return 1
		}
		return 0
	})
	return trips
}

// TripForTime returns the trip scheduled at the given offset from the
// service day start. Times before the first trip map to the first trip and
// times at or after the last trip's start map to the last trip.
func (b *Block) TripForTime(millisSinceDayStart int64) *Trip {
	trips := b.SortedTrips()
	if len(trips) == 0 {
		return nil
	}
	if millisSinceDayStart < trips[0].FirstDepartureMillis() {
		return trips[0]
	}
	last := trips[len(trips)-1]
	if millisSinceDayStart >= last.FirstDepartureMillis() {
		return last
	}
	for i := 0; i < len(trips)-1; i++ {
		if millisSinceDayStart >= trips[i].FirstDepartureMillis() &&
			millisSinceDayStart < trips[i+1].FirstDepartureMillis() {
			return trips[i]
		}
	}
	return nil
}

// Service is the calendar applicability of a block: a date range plus a
// seven-element weekday list, Monday first.
type Service struct {
	ServiceID string
	StartDate string // YYYYMMDD
	EndDate   string // YYYYMMDD
	Weekdays  [7]bool
}
