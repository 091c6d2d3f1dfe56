// Package geo provides distance and projection helpers on the sphere.
package geo

import (
	"math"

	"github.com/golang/geo/s2"
)

const earthRadiusMeters = 6_371_000.0

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1r := lat1 * math.Pi / 180
	lat2r := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

func point(lat, lon float64) s2.Point {
	return s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon))
}

// PointToSegmentDist projects P onto the geodesic segment AB. It returns the
// distance in meters from P to the projection and the projection's position
// along AB in [0, 1].
func PointToSegmentDist(pLat, pLon, aLat, aLon, bLat, bLon float64) (dist float64, ratio float64) {
	p, a, b := point(pLat, pLon), point(aLat, aLon), point(bLat, bLon)
	if a == b {
		return p.Distance(a).Radians() * earthRadiusMeters, 0
	}
	proj := s2.Project(p, a, b)
	dist = p.Distance(proj).Radians() * earthRadiusMeters
	if total := a.Distance(b).Radians(); total > 0 {
		ratio = min(max(a.Distance(proj).Radians()/total, 0), 1)
	}
	return dist, ratio
}

// Interpolate returns the point at fraction t along the geodesic from A to B.
func Interpolate(t, aLat, aLon, bLat, bLon float64) (lat, lon float64) {
	ll := s2.LatLngFromPoint(s2.Interpolate(t, point(aLat, aLon), point(bLat, bLon)))
	return ll.Lat.Degrees(), ll.Lng.Degrees()
}

// TurnAngle returns the deflection in degrees when travelling A->B->C:
// 0 for straight on, 180 for a U-turn. The sign is positive for left turns.
func TurnAngle(aLat, aLon, bLat, bLon, cLat, cLon float64) float64 {
	a, b, c := point(aLat, aLon), point(bLat, bLon), point(cLat, cLon)
	if a == b || b == c {
		return 0
	}
	return s2.TurnAngle(a, b, c).Degrees()
}

// PolylineLength returns the length in meters of a polyline.
func PolylineLength(lat, lon []float64) float64 {
	var total float64
	for i := 1; i < len(lat); i++ {
		total += Haversine(lat[i-1], lon[i-1], lat[i], lon[i])
	}
	return total
}
