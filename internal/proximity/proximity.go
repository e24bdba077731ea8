// Package proximity turns a player's location fix into visit events for the
// waypoints within trigger range.
package proximity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hellenic/wildtrails/internal/geo"
	"github.com/hellenic/wildtrails/internal/wildtrails"
)

// DefaultRadiusM is the trigger radius used when the caller passes none.
const DefaultRadiusM = 50.0

// Boundary tolerance, so a point placed exactly on the radius triggers
// despite float rounding.
const epsilonM = 1e-6

type Store interface {
	// MarkVisited flips a waypoint from unvisited to visited and reports the
	// rows changed. Zero means someone else got there first.
	MarkVisited(ctx context.Context, waypointID string) (int64, error)
	ListUnvisited(ctx context.Context, gameID string) ([]wildtrails.Waypoint, error)
}

type Publisher interface {
	Publish(gameID string, ev wildtrails.ProximityEvent)
}

type Engine struct {
	store     Store
	publisher Publisher
	radiusM   float64
	logger    *slog.Logger
}

type Option func(*Engine)

func WithPublisher(p Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithRadius overrides the default trigger radius. Non-positive values are ignored.
func WithRadius(m float64) Option {
	return func(e *Engine) {
		if m > 0 {
			e.radiusM = m
		}
	}
}

func New(store Store, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{store: store, radiusM: DefaultRadiusM, logger: logger}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Radius() float64 { return e.radiusM }

// Evaluate checks the fix against points and returns an event for each one
// this call flipped to visited. radiusM <= 0 uses the engine radius.
//
// Evaluate may run concurrently for the same points; the conditional update
// in the store decides which caller reports the visit.
func (e *Engine) Evaluate(ctx context.Context, lat, lng float64, points []wildtrails.Waypoint, radiusM float64) ([]wildtrails.ProximityEvent, error) {
	if radiusM <= 0 {
		radiusM = e.radiusM
	}
	player := wildtrails.Point{Lat: lat, Lng: lng}

	var events []wildtrails.ProximityEvent
	var errs []error
	for _, p := range points {
		if p.Type == wildtrails.WaypointStart || p.Status == wildtrails.WaypointVisited {
			continue
		}
		distM := geo.DistanceKm(player, p.Point()) * 1000
		if distM > radiusM+epsilonM {
			continue
		}

		n, err := e.store.MarkVisited(ctx, p.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("marking waypoint %s visited: %w", p.ID, err))
			continue
		}
		if n == 0 {
			e.logger.Debug("waypoint already visited", "waypoint_id", p.ID)
			continue
		}

		ev := wildtrails.ProximityEvent{
			PointID:   p.ID,
			PointType: p.Type,
			Hint:      p.Hint,
			DistanceM: distM,
		}
		events = append(events, ev)
		e.logger.Info("waypoint reached",
			"game_id", p.GameID,
			"waypoint_id", p.ID,
			"type", p.Type,
			"distance_m", distM,
		)
		if e.publisher != nil {
			e.publisher.Publish(p.GameID, ev)
		}
	}
	return events, errors.Join(errs...)
}

// EvaluateGame loads the game's unvisited waypoints and evaluates the fix
// against them with the engine radius.
func (e *Engine) EvaluateGame(ctx context.Context, gameID string, lat, lng float64) ([]wildtrails.ProximityEvent, error) {
	points, err := e.store.ListUnvisited(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing unvisited waypoints: %w", err)
	}
	return e.Evaluate(ctx, lat, lng, points, 0)
}
