package assign

// EventType distinguishes stop arrivals from departures.
type EventType int

const (
	Arrival   EventType = 0
	Departure EventType = 1
)

func (t EventType) String() string {
	if t == Arrival {
		return "arrival"
	}
	return "departure"
}

// StopEvent is emitted when an assigned vehicle passes a scheduled stop.
// StopPostMeters is the stop's postmile in meters; Delay is the observed
// time minus the scheduled time for the event type.
type StopEvent struct {
	VehicleID      string    `json:"device_id"`
	StopID         string    `json:"stop_id"`
	StopLat        float64   `json:"stop_latitude"`
	StopLon        float64   `json:"stop_longitude"`
	StopSequence   int       `json:"stop_sequence"`
	StopPostMeters float64   `json:"stop_postmile"`
	TripID         string    `json:"trip_id"`
	RouteID        string    `json:"route_id"`
	TimeMillis     int64     `json:"time"`
	DelayMillis    int64     `json:"delay"`
	Type           EventType `json:"type"`
}

// ProjectedFix is the map-matched position of an assigned vehicle,
// published on every accepted fix.
type ProjectedFix struct {
	VehicleID  string  `json:"device_id"`
	TimeMillis int64   `json:"time"`
	Lat        float64 `json:"latitude"`
	Lon        float64 `json:"longitude"`
	PostMeters float64 `json:"postmile"`
	TripID     string  `json:"trip_id"`
	RouteID    string  `json:"route_id"`
}

// EventSink receives the engine's outputs. Implementations serialize at
// the boundary; the engine itself never touches the wire format.
type EventSink interface {
	PublishStopEvent(ev StopEvent) error
	PublishProjectedFix(fix ProjectedFix) error
}

// Metrics is the engine's view of the instrumentation collector. A nil
// Metrics disables instrumentation.
type Metrics interface {
	PositionReceived()
	PositionDropped()
	AssignmentCommitted()
	AssignmentRemoved(reason string)
	StopEventEmitted(eventType string)
	EvaluationObserve(seconds float64)
	SetVehicles(tracked, assigned int)
	SetAccuracy(fraction float64)
}
