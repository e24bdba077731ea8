package server

import (
	"time"

	"github.com/hellenic/wildtrails/internal/wildtrails"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateGameRequest struct {
	Bounds      wildtrails.BoundingBox `json:"bounds" required:"true"`
	MaxRadiusKm float64                `json:"maxRadiusKm" required:"true" minimum:"0" exclusiveMinimum:"true"`
	Start       *wildtrails.Point      `json:"start,omitempty"`
	Difficulty  wildtrails.Difficulty  `json:"difficulty,omitempty" enum:"easy,medium,hard"`
}

type GameResponse struct {
	ID                  string                 `json:"id"`
	Bounds              wildtrails.BoundingBox `json:"bounds"`
	MaxRadiusKm         float64                `json:"maxRadiusKm"`
	Start               *wildtrails.Point      `json:"start,omitempty"`
	Difficulty          wildtrails.Difficulty  `json:"difficulty"`
	Status              wildtrails.GameStatus  `json:"status"`
	ProcessingAttempts  int                    `json:"processingAttempts"`
	LastProcessingError string                 `json:"lastProcessingError,omitempty"`
	CreatedAt           time.Time              `json:"createdAt"`
}

func gameResponse(g wildtrails.Game) GameResponse {
	return GameResponse{
		ID:                  g.ID,
		Bounds:              g.Bounds,
		MaxRadiusKm:         g.MaxRadiusKm,
		Start:               g.Start,
		Difficulty:          g.Difficulty,
		Status:              g.Status,
		ProcessingAttempts:  g.ProcessingAttempts,
		LastProcessingError: g.LastProcessingError,
		CreatedAt:           g.CreatedAt,
	}
}

type GenerateResponse struct {
	Outcome string       `json:"outcome"`
	Error   string       `json:"error,omitempty"`
	Game    GameResponse `json:"game"`
}

type WaypointItem struct {
	ID        string                    `json:"id"`
	Sequence  int                       `json:"sequence"`
	Type      wildtrails.WaypointType   `json:"type"`
	Status    wildtrails.WaypointStatus `json:"status"`
	Lat       float64                   `json:"lat"`
	Lng       float64                   `json:"lng"`
	Hint      string                    `json:"hint"`
	VisitedAt *time.Time                `json:"visitedAt,omitempty"`
}

type WaypointsResponse struct {
	GameID    string         `json:"gameId"`
	Waypoints []WaypointItem `json:"waypoints"`
}

// LocationRequest is a single GPS fix. It is also the WebSocket message
// format on /track.
type LocationRequest struct {
	Lat float64 `json:"lat" required:"true" minimum:"-90" maximum:"90"`
	Lng float64 `json:"lng" required:"true" minimum:"-180" maximum:"180"`
}

func (l LocationRequest) valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

type LocationResponse struct {
	Status wildtrails.GameStatus       `json:"status"`
	Events []wildtrails.ProximityEvent `json:"events"`
}
