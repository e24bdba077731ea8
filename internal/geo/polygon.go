package geo

import "math"

// PointInPolygon reports whether p lies inside ring using the even-odd rule.
// The ring may or may not repeat its first vertex.
func PointInPolygon(p Point, ring []Point) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lng-a.Lng)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lng
			if p.Lng < x {
				inside = !inside
			}
		}
	}
	return inside
}

// DistanceToSegmentKm returns the distance from p to the segment ab. The
// points are projected onto a local plane centred on p.
func DistanceToSegmentKm(p, a, b Point) float64 {
	scale := KmPerDegree * math.Cos(toRad(p.Lat))
	ax, ay := (a.Lng-p.Lng)*scale, (a.Lat-p.Lat)*KmPerDegree
	bx, by := (b.Lng-p.Lng)*scale, (b.Lat-p.Lat)*KmPerDegree

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	t := 0.0
	if lenSq > 1e-18 {
		t = -(ax*dx + ay*dy) / lenSq
		t = math.Max(0, math.Min(1, t))
	}
	cx, cy := ax+t*dx, ay+t*dy
	return math.Hypot(cx, cy)
}

// DistanceToPathKm returns the smallest distance from p to any segment of
// path. When closed is true the last vertex connects back to the first.
func DistanceToPathKm(p Point, path []Point, closed bool) float64 {
	switch len(path) {
	case 0:
		return math.Inf(1)
	case 1:
		return DistanceKm(p, path[0])
	}
	best := math.Inf(1)
	for i := 0; i+1 < len(path); i++ {
		best = math.Min(best, DistanceToSegmentKm(p, path[i], path[i+1]))
	}
	if closed {
		best = math.Min(best, DistanceToSegmentKm(p, path[len(path)-1], path[0]))
	}
	return best
}

// Bounds is an axis-aligned lat/lng rectangle.
type Bounds struct {
	MinLat, MinLng, MaxLat, MaxLng float64
}

// BoundsOf returns the bounding rectangle of pts.
func BoundsOf(pts []Point) Bounds {
	b := Bounds{
		MinLat: math.Inf(1), MinLng: math.Inf(1),
		MaxLat: math.Inf(-1), MaxLng: math.Inf(-1),
	}
	for _, p := range pts {
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
		b.MinLng = math.Min(b.MinLng, p.Lng)
		b.MaxLng = math.Max(b.MaxLng, p.Lng)
	}
	return b
}

// Expand grows the rectangle by marginKm on every side.
func (b Bounds) Expand(marginKm float64) Bounds {
	dLat := marginKm / KmPerDegree
	mid := (b.MinLat + b.MaxLat) / 2
	dLng := marginKm / (KmPerDegree * math.Max(math.Cos(toRad(mid)), 1e-6))
	return Bounds{
		MinLat: b.MinLat - dLat, MinLng: b.MinLng - dLng,
		MaxLat: b.MaxLat + dLat, MaxLng: b.MaxLng + dLng,
	}
}

func (b Bounds) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}
