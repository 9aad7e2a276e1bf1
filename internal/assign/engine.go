package assign

import (
	"log"
	"time"

	"transit-assigner/internal/gtfs"
)

// Engine combines the scorer and the tracker into the live assignment
// loop. It is driven entirely by incoming positions: the engine clock is
// the maximum timestamp seen across all vehicles, and the periodic
// re-evaluation fires off that clock, never wall time. Processing is
// strictly serial — the decision rule reads every vehicle's state, so one
// fix must fully apply before the next begins.
type Engine struct {
	sched   *gtfs.Schedule
	cfg     Tunables
	scorer  *Scorer
	tracker *Tracker
	metrics Metrics

	// manual block overrides, vehicle id -> allowed block ids
	overrides map[string][]string

	clock          int64
	lastEvalMillis int64
}

func NewEngine(sched *gtfs.Schedule, cfg Tunables, sink EventSink, m Metrics, overrides []ManualOverride) *Engine {
	scorer := NewScorer(sched, cfg)
	e := &Engine{
		sched:     sched,
		cfg:       cfg,
		scorer:    scorer,
		tracker:   NewTracker(sched, scorer, cfg, sink, m),
		metrics:   m,
		overrides: make(map[string][]string, len(overrides)),
	}
	for _, o := range overrides {
		e.overrides[o.VehicleID] = o.BlockIDs
	}
	return e
}

func (e *Engine) Scorer() *Scorer   { return e.scorer }
func (e *Engine) Tracker() *Tracker { return e.tracker }

// ProcessPosition applies one raw position: buffer it, advance the
// vehicle's assignment if it has one, and advance the engine clock
// (possibly triggering a re-evaluation). Positions without coordinates are
// dropped.
func (e *Engine) ProcessPosition(p RawPosition) {
	if e.metrics != nil {
		e.metrics.PositionReceived()
	}
	if !e.scorer.AddPosition(p) {
		if e.metrics != nil {
			e.metrics.PositionDropped()
		}
		return
	}
	e.tracker.OnNewPosition(p.fix())
	e.Tick(p.TimeMillis)
}

// Tick advances the engine clock to the max of itself and the given
// timestamp and runs the periodic re-evaluation if it is due.
func (e *Engine) Tick(tsMillis int64) {
	if tsMillis > e.clock {
		e.clock = tsMillis
	}
	e.scorer.SetClock(e.clock)
	if e.clock-e.lastEvalMillis > e.cfg.EvalIntervalMillis {
		e.lastEvalMillis = e.clock
		e.evaluate()
	}
}

// evaluate is the periodic pass: rescore every vehicle, sweep bad
// assignments, then run the decision rule for each unassigned vehicle.
func (e *Engine) evaluate() {
	started := time.Now()

	e.scorer.ScoreAll()
	e.tracker.RemovalSweep()

	for _, vehicleID := range e.scorer.VehicleIDs() {
		if e.tracker.IsAssigned(vehicleID) {
			a := e.tracker.Assignment(vehicleID)
			log.Printf("engine: vehicle %s on trip %s at post %.3f km (arrived seq %d)",
				vehicleID, a.Trip.TripID, a.PostKm(), a.ArrivedStopSeq)
			continue
		}

		if blockIDs, ok := e.overrides[vehicleID]; ok {
			trip, postKm := e.chooseTripFromManualBlocks(vehicleID, blockIDs)
			if trip != nil {
				e.tracker.AssignIfUnclaimed(vehicleID, e.clock, trip, e.sched.BlockForTrip(trip.TripID), postKm)
			}
			continue
		}

		block, postKm := e.chooseObviousBlock(vehicleID)
		if block == nil {
			continue
		}
		trip := e.scorer.BestTrip(vehicleID, block)
		if trip == nil {
			continue
		}
		e.tracker.AssignIfUnclaimed(vehicleID, e.clock, trip, block, postKm)
	}

	if e.metrics != nil {
		e.metrics.EvaluationObserve(time.Since(started).Seconds())
		e.metrics.SetVehicles(len(e.scorer.VehicleIDs()), e.tracker.AssignedCount())
		e.metrics.SetAccuracy(e.assignmentAccuracy())
	}
}

// chooseObviousBlock applies the decision rule to a vehicle's candidate
// list. A single candidate commits only if its confidence beats the best
// competing claim on the same block among other unassigned vehicles by
// the margin; with several candidates the best must additionally beat the
// best unclaimed runner-up by the same margin. Ambiguity is not an error —
// returning no block defers the decision until more data arrives. The
// cross-vehicle check keeps two vehicles idling near the same shift-start
// stop from both claiming the same early block.
func (e *Engine) chooseObviousBlock(vehicleID string) (*gtfs.Block, float64) {
	cands := e.scorer.Candidates(vehicleID)
	switch {
	case len(cands) == 0:
		return nil, 0
	case len(cands) == 1:
		best := cands[0]
		if best.Confidence-e.maxOtherConfidence(best.Block, vehicleID) > e.cfg.ConfidenceMargin {
			return best.Block, best.PostKm
		}
	default:
		best := cands[0]
		runnerUp := 0.0
		claimed := e.tracker.AssignedBlockIDs()
		for _, c := range cands[1:] {
			if !claimed[c.Block.BlockID] {
				runnerUp = c.Confidence
				break
			}
		}
		if best.Confidence-runnerUp > e.cfg.ConfidenceMargin &&
			best.Confidence-e.maxOtherConfidence(best.Block, vehicleID) > e.cfg.ConfidenceMargin {
			return best.Block, best.PostKm
		}
	}
	return nil, 0
}

// maxOtherConfidence is the strongest claim any other unassigned vehicle
// holds on the given block.
func (e *Engine) maxOtherConfidence(block *gtfs.Block, vehicleID string) float64 {
	maxOther := 0.0
	for _, otherID := range e.scorer.VehicleIDs() {
		if otherID == vehicleID || e.tracker.IsAssigned(otherID) {
			continue
		}
		for _, c := range e.scorer.Candidates(otherID) {
			if c.Block.BlockID == block.BlockID && c.Confidence > maxOther {
				maxOther = c.Confidence
			}
		}
	}
	return maxOther
}

// chooseTripFromManualBlocks picks the best-scoring trip confined to the
// vehicle's manually designated blocks, at the lower manual confidence
// floor.
func (e *Engine) chooseTripFromManualBlocks(vehicleID string, blockIDs []string) (*gtfs.Trip, float64) {
	for _, c := range e.scorer.Candidates(vehicleID) {
		if c.Confidence < e.cfg.ManualConfidenceFloor {
			continue
		}
		for _, blockID := range blockIDs {
			if c.Block.BlockID == blockID {
				return e.scorer.BestTrip(vehicleID, c.Block), c.PostKm
			}
		}
	}
	return nil, 0
}

// assignmentAccuracy is the fraction of assigned vehicles whose block is
// still in their candidate list. Diagnostic only.
func (e *Engine) assignmentAccuracy() float64 {
	total, good := 0, 0
	for _, vehicleID := range e.scorer.VehicleIDs() {
		if !e.tracker.IsAssigned(vehicleID) {
			continue
		}
		total++
		a := e.tracker.Assignment(vehicleID)
		if e.tracker.blockIsCandidate(vehicleID, a.Block.BlockID) {
			good++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(good) / float64(total)
}
