package assign

import "slices"

// RawPosition is one position report as it arrives from the feed. Lat and
// Lon are pointers because the feed may omit them; such reports are
// rejected at the buffer boundary.
type RawPosition struct {
	VehicleID  string   `json:"device_id"`
	TimeMillis int64    `json:"time"`
	Lat        *float64 `json:"latitude"`
	Lon        *float64 `json:"longitude"`
	Speed      *float64 `json:"speed"`
	Bearing    *float64 `json:"bearing"`
	Accuracy   *float64 `json:"accuracy"`
}

// Fix is a validated position with coordinates present.
type Fix struct {
	VehicleID  string
	TimeMillis int64
	Lat        float64
	Lon        float64
	Speed      float64
	Bearing    float64
	Accuracy   float64
}

func (p RawPosition) fix() Fix {
	f := Fix{VehicleID: p.VehicleID, TimeMillis: p.TimeMillis, Lat: *p.Lat, Lon: *p.Lon}
	if p.Speed != nil {
		f.Speed = *p.Speed
	}
	if p.Bearing != nil {
		f.Bearing = *p.Bearing
	}
	if p.Accuracy != nil {
		f.Accuracy = *p.Accuracy
	}
	return f
}

// PositionBuffer is one vehicle's rolling window of recent fixes, kept
// sorted by timestamp and deduplicated by exact timestamp. Its clock is
// the engine's derived clock, never wall time, so replays of historical
// data behave deterministically.
type PositionBuffer struct {
	VehicleID string

	fixes []Fix
	clock int64
}

func NewPositionBuffer(vehicleID string) *PositionBuffer {
	return &PositionBuffer{VehicleID: vehicleID}
}

// Add inserts a position. Reports without coordinates and reports whose
// timestamp was already seen are dropped; returns whether the position was
// kept.
func (b *PositionBuffer) Add(p RawPosition) bool {
	if p.Lat == nil || p.Lon == nil {
		return false
	}
	for _, old := range b.fixes {
		if old.TimeMillis == p.TimeMillis {
			return false
		}
	}
	b.fixes = append(b.fixes, p.fix())
	slices.SortStableFunc(b.fixes, func(a, c Fix) int {
		switch {
		case a.TimeMillis < c.TimeMillis:
			return -1
		case a.TimeMillis > c.TimeMillis:
			return 1
		}
		return 0
	})
	return true
}

// SetClock advances the buffer's notion of now.
func (b *PositionBuffer) SetClock(tsMillis int64) {
	if tsMillis > b.clock {
		b.clock = tsMillis
	}
}

// Recent returns the fixes within [clock-windowMillis, clock], oldest
// first.
func (b *PositionBuffer) Recent(windowMillis int64) []Fix {
	oldest := b.clock - windowMillis
	var out []Fix
	for _, f := range b.fixes {
		if f.TimeMillis >= oldest {
			out = append(out, f)
		}
	}
	return out
}

// Prune discards fixes older than the window.
func (b *PositionBuffer) Prune(windowMillis int64) {
	oldest := b.clock - windowMillis
	b.fixes = slices.DeleteFunc(b.fixes, func(f Fix) bool {
		return f.TimeMillis < oldest
	})
}

// Latest returns the newest fix, if any.
func (b *PositionBuffer) Latest() (Fix, bool) {
	if len(b.fixes) == 0 {
		return Fix{}, false
	}
	return b.fixes[len(b.fixes)-1], true
}
