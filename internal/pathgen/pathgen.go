// Package pathgen lays out the waypoints of a trail.
//
// A trail runs from a start point to a goal. Clues are spaced evenly along
// the straight line between them and pushed sideways by a random amount
// inside a corridor whose width scales with the trail length. When map
// geometry is available each clue is nudged onto accessible ground and the
// goal may snap to a nearby landmark.
package pathgen

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/hellenic/wildtrails/internal/access"
	"github.com/hellenic/wildtrails/internal/geo"
	"github.com/hellenic/wildtrails/internal/hint"
	"github.com/hellenic/wildtrails/internal/landmark"
	"github.com/hellenic/wildtrails/internal/wildtrails"
)

const (
	StartHint = "Starting point"
	EndHint   = "Ending point"
)

// Kind selects a Strategy.
type Kind string

const (
	KindOSM    Kind = "osm"
	KindRandom Kind = "random"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindOSM, KindRandom:
		return k, nil
	case "":
		return KindOSM, nil
	default:
		return "", fmt.Errorf("unknown path strategy %q", s)
	}
}

// Strategy produces the full ordered waypoint list for a game.
type Strategy interface {
	Kind() Kind
	Generate(ctx context.Context, game wildtrails.Game, features []wildtrails.Feature) ([]wildtrails.Waypoint, error)
}

// HintWriter is satisfied by *hint.Synthesizer.
type HintWriter interface {
	Hint(ctx context.Context, req hint.Request) string
}

type Deps struct {
	Hints  HintWriter
	Logger *slog.Logger
	Params Params
	// NewRand returns the random source for one generation run. Runs may
	// execute concurrently, so each gets its own.
	NewRand func() *rand.Rand
}

func New(kind Kind, deps Deps) (Strategy, error) {
	c := newCorridor(deps)
	switch kind {
	case KindOSM:
		return &OSMStrategy{c}, nil
	case KindRandom:
		return &RandomStrategy{c}, nil
	default:
		return nil, fmt.Errorf("unknown path strategy %q", kind)
	}
}

// OSMStrategy uses map geometry to keep waypoints accessible and to snap
// the goal onto a landmark.
type OSMStrategy struct{ c *corridor }

func (s *OSMStrategy) Kind() Kind { return KindOSM }

func (s *OSMStrategy) Generate(ctx context.Context, game wildtrails.Game, features []wildtrails.Feature) ([]wildtrails.Waypoint, error) {
	return s.c.generate(ctx, game, features, true)
}

// RandomStrategy ignores map geometry entirely.
type RandomStrategy struct{ c *corridor }

func (s *RandomStrategy) Kind() Kind { return KindRandom }

func (s *RandomStrategy) Generate(ctx context.Context, game wildtrails.Game, _ []wildtrails.Feature) ([]wildtrails.Waypoint, error) {
	return s.c.generate(ctx, game, nil, false)
}

type corridor struct {
	hints   HintWriter
	logger  *slog.Logger
	params  Params
	newRand func() *rand.Rand
}

func newCorridor(deps Deps) *corridor {
	c := &corridor{
		hints:   deps.Hints,
		logger:  deps.Logger,
		params:  deps.Params.withDefaults(),
		newRand: deps.NewRand,
	}
	if c.hints == nil {
		c.hints = hint.New(nil, deps.Logger)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.newRand == nil {
		c.newRand = func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
	}
	return c
}

// run holds the state of a single generation.
type run struct {
	*corridor
	rng      *rand.Rand
	filter   *access.Filter
	features []wildtrails.Feature
	logger   *slog.Logger
}

func (c *corridor) generate(ctx context.Context, game wildtrails.Game, features []wildtrails.Feature, useTerrain bool) ([]wildtrails.Waypoint, error) {
	if game.MaxRadiusKm <= 0 {
		return nil, fmt.Errorf("%w: max radius must be positive, got %v", wildtrails.ErrGenerationFailure, game.MaxRadiusKm)
	}

	r := &run{
		corridor: c,
		rng:      c.newRand(),
		logger:   c.logger.With("game_id", game.ID),
	}
	if useTerrain {
		r.features = features
		r.filter = access.New(features)
	}
	r.logger.Debug("generating trail",
		"features", len(r.features),
		"forbidden_areas", r.filter.Len(),
		"difficulty", game.Difficulty,
	)

	start := r.pickStart(game)

	end, err := r.findEnd(game)
	if err != nil {
		return nil, err
	}
	if useTerrain {
		if lm, ok := landmark.Select(end, r.features, c.params.LandmarkRadiusKm, c.params.LandmarkMinCount); ok {
			r.logger.Debug("goal snapped to landmark", "type", lm.Type, "name", lm.Name, "distance_km", lm.DistanceKm)
			end = lm.Position
		}
	}

	width := geo.DistanceKm(start, end) * c.params.WidthFraction(game.Difficulty)
	count := c.params.MinClues + r.rng.IntN(c.params.MaxClues-c.params.MinClues+1)

	waypoints := make([]wildtrails.Waypoint, 0, count+2)
	waypoints = append(waypoints, wildtrails.Waypoint{
		GameID: game.ID,
		Lat:    start.Lat,
		Lng:    start.Lng,
		Type:   wildtrails.WaypointStart,
		Status: wildtrails.WaypointUnvisited,
		Hint:   StartHint,
	})

	degraded := 0
	for i := 1; i <= count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress := float64(i) / float64(count+1)
		lateral := (r.rng.Float64()*2 - 1) * width
		candidate := geo.PerpendicularOffset(start, end, progress, lateral)

		p, ok := r.accessibleNear(candidate, width/2)
		if !ok {
			degraded++
			r.logger.Warn("no accessible point near clue candidate, using raw candidate",
				"clue", i, "lat", candidate.Lat, "lng", candidate.Lng)
		}

		var nearby []wildtrails.Landmark
		if useTerrain {
			nearby = landmark.Nearby(p, r.features, c.params.HintRadiusKm, c.params.HintMaxFeatures)
		}
		text := c.hints.Hint(ctx, hint.Request{
			Tier:     hint.TierFor(i, count),
			Waypoint: p,
			Start:    start,
			Goal:     end,
			Nearby:   nearby,
		})

		waypoints = append(waypoints, wildtrails.Waypoint{
			GameID: game.ID,
			Lat:    p.Lat,
			Lng:    p.Lng,
			Type:   wildtrails.WaypointClue,
			Status: wildtrails.WaypointUnvisited,
			Hint:   text,
		})
	}

	waypoints = append(waypoints, wildtrails.Waypoint{
		GameID: game.ID,
		Lat:    end.Lat,
		Lng:    end.Lng,
		Type:   wildtrails.WaypointEnd,
		Status: wildtrails.WaypointUnvisited,
		Hint:   EndHint,
	})
	for i := range waypoints {
		waypoints[i].Sequence = i
	}

	r.logger.Info("trail generated",
		"clues", count,
		"degraded_clues", degraded,
		"length_km", geo.DistanceKm(start, end),
		"corridor_km", width,
	)
	return waypoints, nil
}

func (r *run) pickStart(game wildtrails.Game) wildtrails.Point {
	if game.Start != nil {
		return *game.Start
	}
	b := game.Bounds
	return wildtrails.Point{
		Lat: b.South() + r.rng.Float64()*(b.North()-b.South()),
		Lng: b.West() + r.rng.Float64()*(b.East()-b.West()),
	}
}

// findEnd samples the disc around the box centre, then once more at a wider
// radius. Giving up here fails the whole generation: the goal must sit
// somewhere a player can actually reach.
func (r *run) findEnd(game wildtrails.Game) (wildtrails.Point, error) {
	center := game.Bounds.Center()
	radii := []float64{game.MaxRadiusKm, game.MaxRadiusKm * r.params.EndRadiusWiden}
	for _, radius := range radii {
		for range r.params.EndSearchAttempts {
			p := r.randomInDisk(center, radius)
			if r.filter.Accessible(p) {
				return p, nil
			}
		}
		r.logger.Warn("no accessible goal found", "radius_km", radius, "attempts", r.params.EndSearchAttempts)
	}
	return wildtrails.Point{}, fmt.Errorf("%w: no accessible goal within %.2fkm of (%.5f, %.5f)",
		wildtrails.ErrGenerationFailure, radii[len(radii)-1], center.Lat, center.Lng)
}

// accessibleNear returns candidate when it is accessible, otherwise the
// first accessible sample from progressively wider discs around it. If all
// samples fail it returns candidate and false.
func (r *run) accessibleNear(candidate wildtrails.Point, maxRadiusKm float64) (wildtrails.Point, bool) {
	if r.filter.Accessible(candidate) {
		return candidate, true
	}
	for _, step := range r.params.LocalSearchSteps {
		radius := maxRadiusKm * step
		for range r.params.LocalSearchAttempts {
			p := r.randomInDisk(candidate, radius)
			if r.filter.Accessible(p) {
				return p, true
			}
		}
	}
	return candidate, false
}

// randomInDisk draws a point uniformly from the disc of radiusKm around
// center.
func (r *run) randomInDisk(center wildtrails.Point, radiusKm float64) wildtrails.Point {
	dist := radiusKm * math.Sqrt(r.rng.Float64())
	bearing := r.rng.Float64() * 360
	return geo.Destination(center, bearing, dist)
}

// SearchArea is the box to request map geometry for: the game bounds plus
// the widest disc the goal search may sample.
func SearchArea(game wildtrails.Game, params Params) wildtrails.BoundingBox {
	params = params.withDefaults()
	center := game.Bounds.Center()
	radius := game.MaxRadiusKm * params.EndRadiusWiden

	pts := []wildtrails.Point{game.Bounds.NW, game.Bounds.SE}
	if radius > 0 {
		for _, b := range []float64{0, 90, 180, 270} {
			pts = append(pts, geo.Destination(center, b, radius))
		}
	}
	if game.Start != nil {
		pts = append(pts, *game.Start)
	}
	bb := geo.BoundsOf(pts)
	return wildtrails.BoundingBox{
		NW: wildtrails.Point{Lat: bb.MaxLat, Lng: bb.MinLng},
		SE: wildtrails.Point{Lat: bb.MinLat, Lng: bb.MaxLng},
	}
}
