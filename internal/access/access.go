// Package access decides whether a coordinate can be reached on foot, i.e.
// whether it stays clear of water, buildings and private or restricted land.
package access

import (
	"github.com/hellenic/wildtrails/internal/geo"
	"github.com/hellenic/wildtrails/internal/wildtrails"
)

// BufferKm is how close a point may come to forbidden geometry before it is
// rejected. Roughly 22 m, enough to keep clues off shorelines and walls.
const BufferKm = 0.022

// forbidden lists tag values that make an area off limits. An empty value
// set means any value of the key qualifies.
var forbidden = map[string]map[string]bool{
	"natural":  {"water": true, "wetland": true},
	"waterway": nil,
	"building": nil,
	"landuse": {
		"reservoir":   true,
		"basin":       true,
		"residential": true,
		"industrial":  true,
		"commercial":  true,
		"cemetery":    true,
	},
	"amenity": {"grave_yard": true},
	"leisure": {"swimming_pool": true, "garden": true},
}

// Forbidden reports whether f is terrain a player must not be sent into.
func Forbidden(f wildtrails.Feature) bool {
	for key, values := range forbidden {
		v, ok := f.Tags[key]
		if !ok || v == "no" {
			continue
		}
		if values == nil || values[v] {
			return true
		}
	}
	return false
}

type area struct {
	shape  wildtrails.Shape
	ring   []wildtrails.Point
	bounds geo.Bounds
}

// Filter is a precomputed accessibility predicate over a fixed feature set.
// The zero value accepts every point.
type Filter struct {
	areas []area
}

// New keeps the forbidden line and polygon features and indexes their
// buffered bounding boxes.
func New(features []wildtrails.Feature) *Filter {
	f := &Filter{}
	for _, feat := range features {
		if feat.Shape == wildtrails.ShapePoint || len(feat.Geometry) < 2 || !Forbidden(feat) {
			continue
		}
		f.areas = append(f.areas, area{
			shape:  feat.Shape,
			ring:   feat.Geometry,
			bounds: geo.BoundsOf(feat.Geometry).Expand(BufferKm),
		})
	}
	return f
}

// Len returns the number of forbidden areas the filter checks against.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.areas)
}

// Accessible reports whether p is outside every forbidden area and at least
// BufferKm away from its boundary.
func (f *Filter) Accessible(p wildtrails.Point) bool {
	if f == nil {
		return true
	}
	for _, a := range f.areas {
		if !a.bounds.Contains(p) {
			continue
		}
		if a.shape == wildtrails.ShapePolygon && geo.PointInPolygon(p, a.ring) {
			return false
		}
		if geo.DistanceToPathKm(p, a.ring, a.shape == wildtrails.ShapePolygon) <= BufferKm {
			return false
		}
	}
	return true
}

// IsAccessible is the one-shot form of New(features).Accessible(p).
func IsAccessible(p wildtrails.Point, features []wildtrails.Feature) bool {
	return New(features).Accessible(p)
}
