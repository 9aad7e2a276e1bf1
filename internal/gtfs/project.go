package gtfs

import "math"

// KmPerDeg is the length of one degree of latitude, used to fold a
// postmile deviation into the target-biased projection criterion.
const KmPerDeg = 111.0

const earthRadiusKm = 6371.0

// ProjectedPosition is a position snapped onto a shape. PostKm is the
// along-route postmile of the snapped point and PerpKm the real-world
// distance between the raw point and the shape.
type ProjectedPosition struct {
	Lat     float64
	Lon     float64
	PostKm  float64
	PerpKm  float64
	TripID  string
	RouteID string
}

// KmBetween is the great-circle distance between two points, in km.
func KmBetween(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := degToRad(lat2 - lat1)
	dLon := degToRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(degToRad(lat1))*math.Cos(degToRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func degToRad(deg float64) float64 { return deg * math.Pi / 180 }

// Project snaps a point onto the shape's nearest segment.
//
// Each segment is converted to a planar frame centered on the query point,
// with longitudes scaled by cos(lat) so both axes carry real distance. The
// winning segment is the one with the smallest perpendicular distance; the
// postmile interpolates between the segment's endpoint postmiles.
func Project(shape *Shape, lat, lon float64) ProjectedPosition {
	return project(shape, lat, lon, false, 0)
}

// ProjectWithTarget is Project with the selection criterion biased toward
// targetPostKm: the winning segment minimizes perpendicular distance plus
// |postmile - target|/KmPerDeg. Pure nearest-point projection is unstable
// where a geometry loops back near itself; the bias keeps the match near
// the last known or predicted postmile.
func ProjectWithTarget(shape *Shape, lat, lon, targetPostKm float64) ProjectedPosition {
	return project(shape, lat, lon, true, targetPostKm)
}

func project(shape *Shape, lat, lon float64, useTarget bool, targetPostKm float64) ProjectedPosition {
	convFactor := math.Cos(degToRad(lat))

	var critMin, xMin, yMin, postMin float64
	for i := 0; i < len(shape.Points)-1; i++ {
		p0 := shape.Points[i]
		p1 := shape.Points[i+1]
		y0 := p0.Lat - lat
		y1 := p1.Lat - lat
		x0 := (p0.Lon - lon) * convFactor
		x1 := (p1.Lon - lon) * convFactor

		xProj, yProj := closestPointOnSegment(x0, y0, x1, y1)
		perpDist := math.Hypot(xProj, yProj)

		postKm := p0.PostKm
		if segLen := math.Hypot(x1-x0, y1-y0); segLen > 0 {
			frac := math.Hypot(xProj-x0, yProj-y0) / segLen
			postKm += frac * (p1.PostKm - p0.PostKm)
		}

		crit := perpDist
		if useTarget {
			crit += math.Abs(postKm-targetPostKm) / KmPerDeg
		}
		if i == 0 || crit < critMin {
			critMin = crit
			xMin, yMin = xProj, yProj
			postMin = postKm
		}
	}

	latProj := yMin + lat
	lonProj := xMin/convFactor + lon
	return ProjectedPosition{
		Lat:    latProj,
		Lon:    lonProj,
		PostKm: postMin,
		PerpKm: KmBetween(lat, lon, latProj, lonProj),
	}
}

// closestPointOnSegment returns the point on the segment (x0,y0)-(x1,y1)
// closest to the origin. A zero-length segment yields its start point.
func closestPointOnSegment(x0, y0, x1, y1 float64) (float64, float64) {
	dx := x1 - x0
	dy := y1 - y0
	segLen2 := dx*dx + dy*dy
	if segLen2 == 0 {
		return x0, y0
	}
	t := -(x0*dx + y0*dy) / segLen2
	if t < 0 {
		return x0, y0
	}
	if t > 1 {
		return x1, y1
	}
	return x0 + t*dx, y0 + t*dy
}
