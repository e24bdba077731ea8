// Package wildtrails defines the core domain types shared by trail generation,
// persistence and the proximity engine. It has zero external dependencies.
package wildtrails

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrGenerationFailure = errors.New("generation failure")
	ErrLocked            = errors.New("game is locked by another attempt")
	ErrNotPending        = errors.New("game is not awaiting generation")
	ErrWaypointsExist    = errors.New("waypoints already generated")
)

// MaxAttempts is the generation attempt budget per game.
const MaxAttempts = 3

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type BoundingBox struct {
	NW Point `json:"nw"`
	SE Point `json:"se"`
}

func (b BoundingBox) Center() Point {
	return Point{
		Lat: (b.NW.Lat + b.SE.Lat) / 2,
		Lng: (b.NW.Lng + b.SE.Lng) / 2,
	}
}

// South, West, North, East return the box edges regardless of how the
// corners were supplied.
func (b BoundingBox) South() float64 { return min(b.NW.Lat, b.SE.Lat) }
func (b BoundingBox) North() float64 { return max(b.NW.Lat, b.SE.Lat) }
func (b BoundingBox) West() float64  { return min(b.NW.Lng, b.SE.Lng) }
func (b BoundingBox) East() float64  { return max(b.NW.Lng, b.SE.Lng) }

func (b BoundingBox) Contains(p Point) bool {
	return p.Lat >= b.South() && p.Lat <= b.North() && p.Lng >= b.West() && p.Lng <= b.East()
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

type GameStatus string

const (
	GameStatusSetup     GameStatus = "setup"
	GameStatusReady     GameStatus = "ready"
	GameStatusActive    GameStatus = "active"
	GameStatusCompleted GameStatus = "completed"
	GameStatusFailed    GameStatus = "failed"
)

type Game struct {
	ID                  string
	Bounds              BoundingBox
	MaxRadiusKm         float64
	Start               *Point
	Difficulty          Difficulty
	Status              GameStatus
	ProcessingAttempts  int
	LastProcessingError string
	ProcessingLockedAt  *time.Time
	CreatedAt           time.Time
}

// StatusUpdate carries the only game fields the generation pipeline writes.
type StatusUpdate struct {
	Status    GameStatus
	Attempts  int
	LastError string
	LockedAt  *time.Time
}

type WaypointType string

const (
	WaypointStart WaypointType = "start"
	WaypointClue  WaypointType = "clue"
	WaypointEnd   WaypointType = "end"
)

type WaypointStatus string

const (
	WaypointUnvisited WaypointStatus = "unvisited"
	WaypointVisited   WaypointStatus = "visited"
)

type Waypoint struct {
	ID        string
	GameID    string
	Lat       float64
	Lng       float64
	Sequence  int
	Type      WaypointType
	Status    WaypointStatus
	Hint      string
	VisitedAt *time.Time
}

func (w Waypoint) Point() Point {
	return Point{Lat: w.Lat, Lng: w.Lng}
}

type Shape string

const (
	ShapePoint   Shape = "point"
	ShapeLine    Shape = "line"
	ShapePolygon Shape = "polygon"
)

// Feature is a tagged piece of map geometry from the Geometry Source.
// Geometry holds one point for ShapePoint, a polyline for ShapeLine and a
// ring (closing vertex optional) for ShapePolygon.
type Feature struct {
	ID       int64             `json:"id"`
	Shape    Shape             `json:"shape"`
	Tags     map[string]string `json:"tags"`
	Geometry []Point           `json:"geometry"`
}

func (f Feature) Name() string {
	return f.Tags["name"]
}

// Position returns a representative point: the node itself, the centroid of
// a polygon's vertices, or the middle vertex of a line.
func (f Feature) Position() Point {
	switch len(f.Geometry) {
	case 0:
		return Point{}
	case 1:
		return f.Geometry[0]
	}
	if f.Shape == ShapeLine {
		return f.Geometry[len(f.Geometry)/2]
	}
	ring := f.Geometry
	if ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}
	var lat, lng float64
	for _, p := range ring {
		lat += p.Lat
		lng += p.Lng
	}
	n := float64(len(ring))
	return Point{Lat: lat / n, Lng: lng / n}
}

// Landmark is an identifiable feature chosen near a target point.
type Landmark struct {
	Type       string
	Name       string
	Position   Point
	Priority   int
	DistanceKm float64
}

// ProximityEvent records that a player reached a waypoint.
type ProximityEvent struct {
	PointID   string       `json:"pointId"`
	PointType WaypointType `json:"pointType"`
	Hint      string       `json:"hint,omitempty"`
	DistanceM float64      `json:"distanceM"`
}
