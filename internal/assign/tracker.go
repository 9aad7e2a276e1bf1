package assign

import (
	"log"
	"slices"

	"transit-assigner/internal/gtfs"
)

// Assignment is one vehicle's live match: the trip and block it is
// running, its postmile, and the stop sequences it has already passed.
type Assignment struct {
	Trip  *gtfs.Trip
	Block *gtfs.Block

	postKm    float64
	maxPostKm float64

	ArrivedStopSeq  int
	DepartedStopSeq int
	UpdatedMillis   int64
}

func (a *Assignment) PostKm() float64    { return a.postKm }
func (a *Assignment) MaxPostKm() float64 { return a.maxPostKm }

// setPost updates the postmile, tracking the maximum ever reached.
func (a *Assignment) setPost(postKm float64) {
	if postKm > a.maxPostKm {
		a.maxPostKm = postKm
	}
	a.postKm = postKm
}

// hasBacktracked reports whether the vehicle has fallen too far behind the
// furthest point it reached on this trip.
func (a *Assignment) hasBacktracked(backtrackKm float64) bool {
	return a.maxPostKm-a.postKm > backtrackKm
}

// Tracker is the per-vehicle assignment state machine. It owns the live
// assignment table; schedule entities are referenced by the store's
// pointers, never copied.
type Tracker struct {
	sched   *gtfs.Schedule
	scorer  *Scorer
	cfg     Tunables
	sink    EventSink
	metrics Metrics

	assignments map[string]*Assignment
}

func NewTracker(sched *gtfs.Schedule, scorer *Scorer, cfg Tunables, sink EventSink, m Metrics) *Tracker {
	return &Tracker{
		sched:       sched,
		scorer:      scorer,
		cfg:         cfg,
		sink:        sink,
		metrics:     m,
		assignments: make(map[string]*Assignment),
	}
}

func (tr *Tracker) IsAssigned(vehicleID string) bool {
	_, ok := tr.assignments[vehicleID]
	return ok
}

func (tr *Tracker) Assignment(vehicleID string) *Assignment {
	return tr.assignments[vehicleID]
}

func (tr *Tracker) AssignedCount() int { return len(tr.assignments) }

// assignedTripIDs is the set of trips currently claimed by any vehicle.
func (tr *Tracker) assignedTripIDs() map[string]bool {
	ids := make(map[string]bool, len(tr.assignments))
	for _, a := range tr.assignments {
		ids[a.Trip.TripID] = true
	}
	return ids
}

// AssignedBlockIDs is the set of blocks currently claimed by any vehicle.
func (tr *Tracker) AssignedBlockIDs() map[string]bool {
	ids := make(map[string]bool, len(tr.assignments))
	for _, a := range tr.assignments {
		ids[a.Block.BlockID] = true
	}
	return ids
}

// Assign replaces any existing assignment for the vehicle unconditionally.
func (tr *Tracker) Assign(vehicleID string, startMillis int64, trip *gtfs.Trip, block *gtfs.Block, postKm float64) {
	arr, dep := trip.StopSequencesForPost(postKm, tr.cfg.StopThresholdKm)
	a := &Assignment{
		Trip:            trip,
		Block:           block,
		ArrivedStopSeq:  arr,
		DepartedStopSeq: dep,
		UpdatedMillis:   startMillis,
	}
	a.postKm = postKm
	a.maxPostKm = postKm
	tr.assignments[vehicleID] = a
	if tr.metrics != nil {
		tr.metrics.AssignmentCommitted()
	}
}

// AssignIfUnclaimed assigns unless the trip is already claimed by another
// vehicle: each trip belongs to at most one vehicle at a time.
func (tr *Tracker) AssignIfUnclaimed(vehicleID string, startMillis int64, trip *gtfs.Trip, block *gtfs.Block, postKm float64) bool {
	if tr.assignedTripIDs()[trip.TripID] {
		return false
	}
	log.Printf("assign: vehicle %s -> trip %s (block %s) at post %.3f km", vehicleID, trip.TripID, block.BlockID, postKm)
	tr.Assign(vehicleID, startMillis, trip, block, postKm)
	return true
}

// Remove drops the vehicle's assignment, returning it to the unassigned
// pool.
func (tr *Tracker) Remove(vehicleID, reason string) {
	if _, ok := tr.assignments[vehicleID]; !ok {
		return
	}
	delete(tr.assignments, vehicleID)
	if tr.metrics != nil {
		tr.metrics.AssignmentRemoved(reason)
	}
}

// OnNewPosition advances an assigned vehicle along its trip. Fixes for
// unassigned vehicles, or not strictly newer than the last applied one,
// are ignored.
//
// The target postmile extrapolates the previous postmile at the fiducial
// speed so the biased projection stays stable across self-intersecting
// geometry. Passing a stop emits an arrival and/or departure event, and
// departing the trip's final stop rolls the assignment onto the block's
// next trip, carrying the leftover distance as a negative starting
// postmile.
func (tr *Tracker) OnNewPosition(fix Fix) {
	a := tr.assignments[fix.VehicleID]
	if a == nil || fix.TimeMillis <= a.UpdatedMillis {
		return
	}

	trip := a.Trip
	shape := tr.sched.Shape(trip.ShapeID)

	dt := fix.TimeMillis - a.UpdatedMillis
	target := a.PostKm() + float64(dt)*tr.cfg.FiducialKmPerMillis
	proj := gtfs.ProjectWithTarget(shape, fix.Lat, fix.Lon, target)
	proj.TripID = trip.TripID
	proj.RouteID = trip.RouteID

	a.setPost(proj.PostKm)
	a.UpdatedMillis = fix.TimeMillis

	arr, dep := trip.StopSequencesForPost(proj.PostKm, tr.cfg.StopThresholdKm)
	if arr > a.ArrivedStopSeq {
		a.ArrivedStopSeq = arr
		tr.sendEvent(trip, arr, proj, fix, Arrival)
	}
	if dep > a.DepartedStopSeq {
		a.DepartedStopSeq = dep
		tr.sendEvent(trip, dep, proj, fix, Departure)

		if dep == trip.LastStopSequence() {
			log.Printf("track: vehicle %s finished trip %s, sequencing next", fix.VehicleID, trip.TripID)
			remainingKm := shape.TotalKm() - proj.PostKm
			tr.sequenceNextTrip(fix.VehicleID, -remainingKm)
		}
	}

	if tr.sink != nil {
		_ = tr.sink.PublishProjectedFix(ProjectedFix{
			VehicleID:  fix.VehicleID,
			TimeMillis: fix.TimeMillis,
			Lat:        proj.Lat,
			Lon:        proj.Lon,
			PostMeters: proj.PostKm * 1000,
			TripID:     proj.TripID,
			RouteID:    proj.RouteID,
		})
	}
}

// sequenceNextTrip moves the vehicle onto the chronological successor of
// its current trip, or drops the assignment at the end of the block.
func (tr *Tracker) sequenceNextTrip(vehicleID string, initPostKm float64) {
	a := tr.assignments[vehicleID]
	next := tr.sched.NextTrip(a.Trip.TripID)
	if next == nil {
		log.Printf("track: vehicle %s reached end of block %s", vehicleID, a.Block.BlockID)
		tr.Remove(vehicleID, "end_of_block")
		return
	}
	tr.AssignIfUnclaimed(vehicleID, a.UpdatedMillis, next, a.Block, initPostKm)
}

// RemovalSweep clears assignments that have gone bad: stale (no fix within
// the window), inaccurate (assigned block no longer a candidate), or
// backtracked. The removal set is computed over a snapshot and applied
// afterwards so the scan never mutates what it iterates.
func (tr *Tracker) RemovalSweep() {
	type removal struct {
		vehicleID string
		reason    string
	}
	var removals []removal

	ids := make([]string, 0, len(tr.assignments))
	for id := range tr.assignments {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		a := tr.assignments[id]
		switch {
		case len(tr.scorer.Recent(id)) == 0:
			removals = append(removals, removal{id, "stale"})
		case !tr.blockIsCandidate(id, a.Block.BlockID):
			removals = append(removals, removal{id, "inaccurate"})
		case a.hasBacktracked(tr.cfg.BacktrackKm):
			removals = append(removals, removal{id, "backtracked"})
		}
	}

	for _, r := range removals {
		log.Printf("track: removing assignment for vehicle %s (%s)", r.vehicleID, r.reason)
		tr.Remove(r.vehicleID, r.reason)
	}
}

func (tr *Tracker) blockIsCandidate(vehicleID, blockID string) bool {
	for _, c := range tr.scorer.Candidates(vehicleID) {
		if c.Block.BlockID == blockID {
			return true
		}
	}
	return false
}

// sendEvent emits one stop-passage event. An event missing any required
// field is dropped with a warning rather than published.
func (tr *Tracker) sendEvent(trip *gtfs.Trip, stopSeq int, proj gtfs.ProjectedPosition, fix Fix, typ EventType) {
	st, ok := trip.StopTimeForSequence(stopSeq)
	if !ok {
		log.Printf("track: no stop time for trip %s sequence %d, dropping event", trip.TripID, stopSeq)
		return
	}
	stop := tr.sched.Stop(st.StopID)
	if stop == nil || proj.TripID == "" || proj.RouteID == "" || fix.VehicleID == "" || fix.TimeMillis == 0 {
		log.Printf("track: incomplete %s event for trip %s, dropping", typ, trip.TripID)
		return
	}

	schedMillis := st.ArrivalMillis
	if typ == Departure {
		schedMillis = st.DepartureMillis
	}
	dayStart := tr.sched.DayStartMillis(fix.TimeMillis)

	ev := StopEvent{
		VehicleID:      fix.VehicleID,
		StopID:         st.StopID,
		StopLat:        stop.Lat,
		StopLon:        stop.Lon,
		StopSequence:   stopSeq,
		StopPostMeters: st.PostKm * 1000,
		TripID:         proj.TripID,
		RouteID:        proj.RouteID,
		TimeMillis:     fix.TimeMillis,
		DelayMillis:    fix.TimeMillis - (dayStart + schedMillis),
		Type:           typ,
	}
	log.Printf("track: vehicle %s %s stop seq %d on trip %s (delay %dms)", fix.VehicleID, typ, stopSeq, trip.TripID, ev.DelayMillis)
	if tr.metrics != nil {
		tr.metrics.StopEventEmitted(typ.String())
	}
	if tr.sink != nil {
		if err := tr.sink.PublishStopEvent(ev); err != nil {
			log.Printf("track: publish %s event failed: %v", typ, err)
		}
	}
}
