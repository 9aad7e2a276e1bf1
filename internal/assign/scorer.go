package assign

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"transit-assigner/internal/gtfs"
)

// Candidate is a block whose deviation score for a vehicle fell below the
// acceptance cutoff.
type Candidate struct {
	Block *gtfs.Block
	// ScoreMillis is the time-integrated deviation, in milliseconds of
	// schedule-equivalent distance. Lower is better.
	ScoreMillis float64
	// PostKm is the projected postmile of the vehicle's most recent fix
	// against this block's current trip shape.
	PostKm float64
	// Confidence is the probability-like value from the two-tailed
	// Student-t CDF over the score. Higher is better.
	Confidence float64
}

// Scorer owns the per-vehicle position buffers and computes, on demand,
// each vehicle's candidate block list against the schedule-valid blocks.
type Scorer struct {
	sched *gtfs.Schedule
	cfg   Tunables

	buffers    map[string]*PositionBuffer
	candidates map[string][]Candidate

	dist distuv.StudentsT

	clock          int64
	dayStartMillis int64
}

func NewScorer(sched *gtfs.Schedule, cfg Tunables) *Scorer {
	return &Scorer{
		sched:      sched,
		cfg:        cfg,
		buffers:    make(map[string]*PositionBuffer),
		candidates: make(map[string][]Candidate),
		dist:       distuv.StudentsT{Mu: cfg.TLoc, Sigma: cfg.TScale, Nu: cfg.TDof},
	}
}

// AddPosition buffers a report, lazily creating the vehicle's buffer.
// Returns whether the position was accepted.
func (s *Scorer) AddPosition(p RawPosition) bool {
	b, ok := s.buffers[p.VehicleID]
	if !ok {
		if p.Lat == nil || p.Lon == nil {
			return false
		}
		b = NewPositionBuffer(p.VehicleID)
		b.SetClock(s.clock)
		s.buffers[p.VehicleID] = b
	}
	return b.Add(p)
}

// SetClock advances the scorer's derived clock and the service day start,
// both monotonically, and pushes the clock into every buffer, discarding
// fixes that have aged out of the window.
func (s *Scorer) SetClock(tsMillis int64) {
	if tsMillis > s.clock {
		s.clock = tsMillis
	}
	if ds := s.sched.DayStartMillis(s.clock); ds > s.dayStartMillis {
		s.dayStartMillis = ds
	}
	for _, b := range s.buffers {
		b.SetClock(s.clock)
		b.Prune(s.cfg.WindowMillis)
	}
}

func (s *Scorer) Clock() int64 { return s.clock }

// VehicleIDs lists every vehicle with a buffer, sorted for determinism.
func (s *Scorer) VehicleIDs() []string {
	ids := make([]string, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Recent returns the vehicle's fixes within the scoring window.
func (s *Scorer) Recent(vehicleID string) []Fix {
	b, ok := s.buffers[vehicleID]
	if !ok {
		return nil
	}
	return b.Recent(s.cfg.WindowMillis)
}

// Candidates returns the vehicle's candidate list from the last scoring
// pass, sorted by score ascending.
func (s *Scorer) Candidates(vehicleID string) []Candidate {
	return s.candidates[vehicleID]
}

// ScoreAll recomputes the candidate list for every tracked vehicle against
// the blocks valid for the current service day. All vehicles are scored,
// not only unassigned ones: the tracker's inaccurate-assignment rule reads
// the assigned vehicle's list too.
func (s *Scorer) ScoreAll() {
	active := s.sched.ActiveBlocks(s.clock)
	for id := range s.buffers {
		s.scoreVehicle(id, active)
	}
}

func (s *Scorer) scoreVehicle(vehicleID string, active []*gtfs.Block) {
	var cands []Candidate
	for _, block := range active {
		score, postKm := s.scoreBlock(vehicleID, block)
		if s.retainCandidate(score) {
			cands = append(cands, Candidate{
				Block:       block,
				ScoreMillis: score,
				PostKm:      postKm,
				Confidence:  s.Confidence(score),
			})
		}
	}
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		switch {
		case a.ScoreMillis < b.ScoreMillis:
			return -1
		case a.ScoreMillis > b.ScoreMillis:
			return 1
		}
		return 0
	})
	s.candidates[vehicleID] = cands
}

// retainCandidate applies the acceptance cutoff; a score exactly at the
// cutoff is excluded.
func (s *Scorer) retainCandidate(scoreMillis float64) bool {
	return scoreMillis < s.cfg.CandidateCutoffMillis
}

// scoreBlock integrates the vehicle's recent window against one block.
//
// Every fix contributes a scalar deviation combining along-route distance,
// lateral distance (both converted to time via the fiducial rates) and any
// literal schedule clamping penalty. The series is Simpson-integrated and
// normalized by the observed span; the integral of |deviation - mean|
// ("flatness") is weighted in on top, since an erratic match disqualifies
// harder than a constant offset. Shrinking observed spans scale the result
// up quadratically. Returns the score and the last fix's projected
// postmile.
func (s *Scorer) scoreBlock(vehicleID string, block *gtfs.Block) (float64, float64) {
	locs := s.Recent(vehicleID)
	if len(locs) <= 1 {
		return s.cfg.SentinelMillis, 0
	}

	distSeries := make([]float64, 0, len(locs))
	timeSeries := make([]float64, 0, len(locs))
	finalPost := 0.0

	for _, loc := range locs {
		trip := block.TripForTime(loc.TimeMillis - s.dayStartMillis)
		if trip == nil {
			return s.cfg.SentinelMillis, 0
		}
		next := s.sched.NextTrip(trip.TripID)

		firstDep := trip.FirstDepartureMillis() + s.dayStartMillis
		lastArr := trip.LastArrivalMillis() + s.dayStartMillis

		var postTrip float64
		var timeDist float64
		switch {
		case loc.TimeMillis > firstDep && loc.TimeMillis < lastArr:
			postTrip = s.expectedPostKm(trip, loc.TimeMillis)
		case loc.TimeMillis <= firstDep:
			postTrip = s.expectedPostKm(trip, firstDep)
			timeDist = float64(firstDep - loc.TimeMillis)
		default: // at or past the last arrival
			if next != nil {
				// Between this trip's last stop and the next trip's first
				// departure: interpolate into the gap, no time penalty.
				postTrip = s.expectedPostKm(trip, loc.TimeMillis)
			} else {
				postTrip = s.expectedPostKm(trip, lastArr)
				timeDist = float64(loc.TimeMillis - lastArr)
			}
		}

		shape := s.sched.Shape(trip.ShapeID)
		proj := gtfs.Project(shape, loc.Lat, loc.Lon)
		postDist := wrapPostDistance(math.Abs(postTrip-proj.PostKm), shape.TotalKm())
		finalPost = proj.PostKm

		d := math.Sqrt(sq(postDist/s.cfg.FiducialKmPerMillis) +
			sq(timeDist) +
			sq(proj.PerpKm/s.cfg.PerpFiducialKmPerMillis))
		distSeries = append(distSeries, d)
		timeSeries = append(timeSeries, float64(loc.TimeMillis))
	}

	totTime := timeSeries[len(timeSeries)-1] - timeSeries[0]
	if totTime <= 0 {
		return s.cfg.SentinelMillis, finalPost
	}

	// Scoring a thin slice of the window is unreliable; scale up
	// quadratically as the observed span shrinks.
	increaseFactor := sq(float64(s.cfg.WindowMillis) / totTime)

	dInt := integrateSeries(timeSeries, distSeries)

	distAvg := stat.Mean(distSeries, nil)
	flatSeries := make([]float64, len(distSeries))
	for i, d := range distSeries {
		flatSeries[i] = math.Abs(d - distAvg)
	}
	fInt := integrateSeries(timeSeries, flatSeries)

	score := (dInt + s.cfg.FlatnessWeight*fInt) / totTime * increaseFactor
	return score, finalPost
}

// expectedPostKm interpolates where along the trip the schedule says the
// vehicle should be at the given absolute time: the stop's own postmile
// while dwelling, linear interpolation between adjacent stops while
// moving, and past the final stop an interpolation toward the next trip's
// first stop at that stop's postmile plus the full shape length.
func (s *Scorer) expectedPostKm(trip *gtfs.Trip, tsMillis int64) float64 {
	tRel := tsMillis - s.dayStartMillis
	sts := trip.StopTimes

	for i, st := range sts {
		if tRel >= st.ArrivalMillis && tRel <= st.DepartureMillis {
			return st.PostKm
		}
		if i+1 < len(sts) {
			nst := sts[i+1]
			if st.DepartureMillis < tRel && tRel < nst.ArrivalMillis {
				pct := float64(tRel-st.DepartureMillis) / float64(nst.ArrivalMillis-st.DepartureMillis)
				return st.PostKm + pct*(nst.PostKm-st.PostKm)
			}
			continue
		}
		if next := s.sched.NextTrip(trip.TripID); next != nil && tRel > st.DepartureMillis {
			nst := next.StopTimes[0]
			denom := nst.ArrivalMillis - st.DepartureMillis
			if denom <= 0 {
				return st.PostKm
			}
			pct := float64(tRel-st.DepartureMillis) / float64(denom)
			nextPost := nst.PostKm + s.sched.Shape(trip.ShapeID).TotalKm()
			return st.PostKm + pct*(nextPost-st.PostKm)
		}
	}

	if tRel < sts[0].ArrivalMillis {
		return sts[0].PostKm
	}
	return sts[len(sts)-1].PostKm
}

// BestTrip picks the closest trip within an already-chosen block using the
// vehicle's single latest fix. Deliberately narrower than the windowed
// block scoring: once the block is settled, a coarse tie-break between its
// trips suffices.
func (s *Scorer) BestTrip(vehicleID string, block *gtfs.Block) *gtfs.Trip {
	locs := s.Recent(vehicleID)
	if len(locs) == 0 {
		return nil
	}
	last := locs[len(locs)-1]

	var best *gtfs.Trip
	bestDist := math.Inf(1)
	for _, trip := range block.SortedTrips() {
		firstDep := trip.FirstDepartureMillis() + s.dayStartMillis
		lastArr := trip.LastArrivalMillis() + s.dayStartMillis

		var postTrip float64
		var timeDist float64
		switch {
		case last.TimeMillis > firstDep && last.TimeMillis < lastArr:
			postTrip = s.expectedPostKm(trip, last.TimeMillis)
		case last.TimeMillis <= firstDep:
			postTrip = s.expectedPostKm(trip, firstDep)
			timeDist = float64(firstDep - last.TimeMillis)
		default:
			postTrip = s.expectedPostKm(trip, lastArr)
			timeDist = float64(last.TimeMillis - lastArr)
		}

		shape := s.sched.Shape(trip.ShapeID)
		proj := gtfs.Project(shape, last.Lat, last.Lon)
		d := math.Sqrt(sq((postTrip-proj.PostKm)/s.cfg.FiducialKmPerMillis) +
			sq(timeDist) +
			sq(proj.PerpKm/s.cfg.PerpFiducialKmPerMillis))
		if d < bestDist {
			bestDist = d
			best = trip
		}
	}
	return best
}

// Confidence maps a deviation score to a probability-like value via the
// two-tailed CDF of the fitted Student-t distribution: symmetric about the
// fit location and decreasing monotonically with deviation magnitude.
func (s *Scorer) Confidence(scoreMillis float64) float64 {
	cdf := s.dist.CDF(scoreMillis / 1000.0)
	if cdf > 0.5 {
		return (1.0 - cdf) * 2.0
	}
	return cdf * 2.0
}

// wrapPostDistance applies the half-route correction: on a shape of total
// length L, a naive difference beyond L/2 really is the shorter way
// around (the distance between 11 and 1 on a clock face).
func wrapPostDistance(postDist, totalKm float64) float64 {
	if postDist > totalKm/2 {
		return totalKm - postDist
	}
	return postDist
}

// integrateSeries integrates f over the (strictly increasing) sample
// points x, Simpson's rule when there are enough points and trapezoidal
// for a bare pair.
func integrateSeries(x, f []float64) float64 {
	if len(x) < 3 {
		return integrate.Trapezoidal(x, f)
	}
	return integrate.Simpsons(x, f)
}

func sq(v float64) float64 { return v * v }
