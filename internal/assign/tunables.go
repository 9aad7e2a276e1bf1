package assign

// Tunables are the engine's calibration parameters. The defaults are
// empirically tuned per deployment rather than derived; treat them as
// configuration, not constants.
type Tunables struct {
	// WindowMillis is the recent-position window the scorer integrates over.
	WindowMillis int64
	// EvalIntervalMillis is how often the engine re-evaluates unassigned
	// vehicles, measured on the engine clock.
	EvalIntervalMillis int64
	// CandidateCutoffMillis: blocks scoring at or above this deviation are
	// not candidates.
	CandidateCutoffMillis float64
	// SentinelMillis is returned when a vehicle has too few fixes to score.
	SentinelMillis float64
	// FlatnessWeight scales the volatility integral relative to the plain
	// deviation integral.
	FlatnessWeight float64
	// ConfidenceMargin is how much a candidate's confidence must beat both
	// the runner-up and every competing vehicle's claim on the same block.
	ConfidenceMargin float64
	// ManualConfidenceFloor is the minimum confidence accepted when a
	// manual block override bypasses the normal decision rule.
	ManualConfidenceFloor float64
	// BacktrackKm: an assignment whose postmile falls more than this far
	// behind its maximum is removed.
	BacktrackKm float64
	// StopThresholdKm is the distance band around a stop's postmile that
	// counts as arrived (behind) or departed (ahead).
	StopThresholdKm float64
	// FiducialKmPerMillis converts along-route deviation into time units
	// and extrapolates the target postmile between fixes.
	FiducialKmPerMillis float64
	// PerpFiducialKmPerMillis converts lateral deviation into time units.
	// Stricter than the along-route rate: straying sideways off a route is
	// a stronger disqualifier than running early or late.
	PerpFiducialKmPerMillis float64
	// TDof, TLoc, TScale parameterize the fitted Student-t distribution
	// behind the confidence function (over deviation seconds).
	TDof   float64
	TLoc   float64
	TScale float64
}

// DefaultTunables returns the calibration the engine ships with.
func DefaultTunables() Tunables {
	return Tunables{
		WindowMillis:            10 * 60 * 1000,
		EvalIntervalMillis:      60 * 1000,
		CandidateCutoffMillis:   40 * 60 * 1000,
		SentinelMillis:          4 * 60 * 60 * 1000,
		FlatnessWeight:          6.0,
		ConfidenceMargin:        0.25,
		ManualConfidenceFloor:   0.05,
		BacktrackKm:             0.25,
		StopThresholdKm:         0.025,
		FiducialKmPerMillis:     12.0 / 60.0 / 60.0 / 1000.0, // 12 km/h
		PerpFiducialKmPerMillis: 2.0 / 60.0 / 60.0 / 1000.0,  // 2 km/h
		TDof:                    3.761,
		TLoc:                    56.431,
		TScale:                  150.738,
	}
}

// ManualOverride pins a vehicle to a set of allowed blocks: scoring still
// runs, but the decision rule only considers the listed blocks, at the
// lower manual confidence floor.
type ManualOverride struct {
	VehicleID string
	BlockIDs  []string
}
