// Package landmark picks identifiable real-world features near a point.
package landmark

import (
	"cmp"
	"slices"

	"github.com/hellenic/wildtrails/internal/geo"
	"github.com/hellenic/wildtrails/internal/wildtrails"
)

type rule struct {
	key, value string // empty value matches any value of key
	typ        string
	priority   int
}

// rules is checked top to bottom; the first match wins. Specific historic
// values come before the generic historic fallback.
var rules = []rule{
	{"natural", "peak", "peak", 1},
	{"man_made", "tower", "tower", 1},
	{"historic", "monument", "monument", 1},
	{"historic", "memorial", "memorial", 1},
	{"historic", "ruins", "ruins", 1},
	{"tourism", "viewpoint", "viewpoint", 1},

	{"natural", "rock", "rock", 2},
	{"natural", "stone", "stone", 2},
	{"tourism", "attraction", "attraction", 2},
	{"amenity", "shelter", "shelter", 2},
	{"historic", "castle", "castle", 2},
	{"historic", "archaeological_site", "archaeological site", 2},
	{"man_made", "mast", "mast", 2},

	{"building", "church", "church", 3},
	{"building", "chapel", "chapel", 3},
	{"amenity", "place_of_worship", "church", 3},
	{"amenity", "parking", "parking", 3},
	{"natural", "tree", "tree", 3},
	{"tourism", "information", "tourist info", 3},
	{"historic", "", "historic site", 3},
}

// Classify maps a feature's tags onto a landmark type and priority tier.
// Trees only count when they carry a name.
func Classify(f wildtrails.Feature) (typ string, priority int, ok bool) {
	for _, r := range rules {
		v, has := f.Tags[r.key]
		if !has || (r.value != "" && v != r.value) {
			continue
		}
		if r.typ == "tree" && f.Name() == "" {
			continue
		}
		return r.typ, r.priority, true
	}
	return "", 0, false
}

// Nearby returns every classifiable feature within radiusKm of target,
// nearest first, truncated to limit when limit > 0.
func Nearby(target wildtrails.Point, features []wildtrails.Feature, radiusKm float64, limit int) []wildtrails.Landmark {
	var out []wildtrails.Landmark
	for _, f := range features {
		typ, prio, ok := Classify(f)
		if !ok || len(f.Geometry) == 0 {
			continue
		}
		pos := f.Position()
		d := geo.DistanceKm(target, pos)
		if d > radiusKm {
			continue
		}
		out = append(out, wildtrails.Landmark{
			Type:       typ,
			Name:       f.Name(),
			Position:   pos,
			Priority:   prio,
			DistanceKm: d,
		})
	}
	slices.SortStableFunc(out, func(a, b wildtrails.Landmark) int {
		return cmp.Compare(a.DistanceKm, b.DistanceKm)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Select returns the best landmark within radiusKm of target. When fewer
// than minCount candidates qualify it returns false, so sparse regions do
// not funnel every game onto the same feature.
func Select(target wildtrails.Point, features []wildtrails.Feature, radiusKm float64, minCount int) (wildtrails.Landmark, bool) {
	candidates := Nearby(target, features, radiusKm, 0)
	if len(candidates) == 0 || len(candidates) < minCount {
		return wildtrails.Landmark{}, false
	}
	best := slices.MinFunc(candidates, func(a, b wildtrails.Landmark) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.DistanceKm, b.DistanceKm)
	})
	return best, true
}
