// Package store persists games and waypoints. SQLite (libSQL) and Postgres
// back the same Store contract; both rely on conditional updates rather
// than in-process locking, so several instances may share one database.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hellenic/wildtrails/internal/wildtrails"
)

type Store interface {
	CreateGame(ctx context.Context, g wildtrails.Game) (wildtrails.Game, error)
	GetGame(ctx context.Context, id string) (wildtrails.Game, error)
	UpdateGameStatus(ctx context.Context, id string, u wildtrails.StatusUpdate) error
	// AdvanceGameStatus moves the game from one status to another and
	// reports false if it was no longer in from.
	AdvanceGameStatus(ctx context.Context, id string, from, to wildtrails.GameStatus) (bool, error)

	// AcquireLock stamps the processing lock with now if the game is in
	// setup and its lock is empty or older than staleBefore.
	AcquireLock(ctx context.Context, id string, now, staleBefore time.Time) (bool, error)
	ListPendingGames(ctx context.Context, staleBefore time.Time, maxAttempts int) ([]wildtrails.Game, error)

	// InsertWaypoints stores the full trail in one transaction, or returns
	// wildtrails.ErrWaypointsExist if the game already has one.
	InsertWaypoints(ctx context.Context, gameID string, waypoints []wildtrails.Waypoint) error
	ListWaypoints(ctx context.Context, gameID string) ([]wildtrails.Waypoint, error)
	ListUnvisited(ctx context.Context, gameID string) ([]wildtrails.Waypoint, error)
	MarkVisited(ctx context.Context, waypointID string) (int64, error)

	Ping(ctx context.Context) error
}

// newGame fills the fields a freshly created game always starts with.
func newGame(g wildtrails.Game, now time.Time) wildtrails.Game {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Difficulty == "" {
		g.Difficulty = wildtrails.DifficultyEasy
	}
	g.Status = wildtrails.GameStatusSetup
	g.ProcessingAttempts = 0
	g.LastProcessingError = ""
	g.ProcessingLockedAt = nil
	g.CreatedAt = now.UTC()
	return g
}

// prepareWaypoints returns a copy of waypoints with IDs, game and status set.
func prepareWaypoints(gameID string, waypoints []wildtrails.Waypoint) []wildtrails.Waypoint {
	out := make([]wildtrails.Waypoint, len(waypoints))
	for i, w := range waypoints {
		if w.ID == "" {
			w.ID = uuid.NewString()
		}
		w.GameID = gameID
		w.Status = wildtrails.WaypointUnvisited
		w.VisitedAt = nil
		out[i] = w
	}
	return out
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
