// Package geo holds the short-range geometry used to lay out trails.
//
// Distances use a planar approximation of 111 km per degree with a cosine
// correction on longitude. It is accurate to a few metres over the handful of
// kilometres a trail spans and is not meant for anything larger.
package geo

import (
	"math"

	"github.com/hellenic/wildtrails/internal/wildtrails"
)

// KmPerDegree is the planar scale for one degree of latitude.
const KmPerDegree = 111.0

var directions = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

type Point = wildtrails.Point

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

func normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Bearing returns the initial great-circle bearing from one point to another
// in degrees, normalised to [0,360).
func Bearing(from, to Point) float64 {
	phi1 := toRad(from.Lat)
	phi2 := toRad(to.Lat)
	dLambda := toRad(to.Lng - from.Lng)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	return normalize(toDeg(math.Atan2(y, x)))
}

// Cardinal maps a bearing onto one of the eight compass points. Halfway
// values round up, so 22.5 is NE.
func Cardinal(bearing float64) string {
	idx := int(math.Floor(normalize(bearing)/45+0.5)) % 8
	return directions[idx]
}

// DistanceKm is the planar distance between two points. The longitude term
// is scaled by cos(p1.Lat), so DistanceKm(a, b) and DistanceKm(b, a) differ
// slightly when the latitudes differ. Callers tolerate that error.
func DistanceKm(p1, p2 Point) float64 {
	dLat := (p2.Lat - p1.Lat) * KmPerDegree
	dLng := (p2.Lng - p1.Lng) * KmPerDegree * math.Cos(toRad(p1.Lat))
	return math.Sqrt(dLat*dLat + dLng*dLng)
}

// Interpolate returns the point at fraction t along the straight lat/lng
// line from start to end.
func Interpolate(start, end Point, t float64) Point {
	return Point{
		Lat: start.Lat + (end.Lat-start.Lat)*t,
		Lng: start.Lng + (end.Lng-start.Lng)*t,
	}
}

// PerpendicularOffset interpolates at t and then shifts the result offsetKm
// at right angles to the line. Positive offsets go 90° counter-clockwise of
// the direction of travel.
func PerpendicularOffset(lineStart, lineEnd Point, t, offsetKm float64) Point {
	base := Interpolate(lineStart, lineEnd, t)
	perp := Bearing(lineStart, lineEnd) - 90
	return Destination(base, perp, offsetKm)
}

// Destination moves distKm from origin along bearingDeg using the same
// planar scale as DistanceKm.
func Destination(origin Point, bearingDeg, distKm float64) Point {
	theta := toRad(bearingDeg)
	dLat := distKm * math.Cos(theta) / KmPerDegree
	dLng := distKm * math.Sin(theta) / (KmPerDegree * math.Cos(toRad(origin.Lat)))
	return Point{Lat: origin.Lat + dLat, Lng: origin.Lng + dLng}
}
