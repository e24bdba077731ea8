package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hellenic/wildtrails/internal/wildtrails"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateGame(ctx context.Context, g wildtrails.Game) (wildtrails.Game, error) {
	g = newGame(g, time.Now())

	var startLat, startLng *float64
	if g.Start != nil {
		startLat, startLng = &g.Start.Lat, &g.Start.Lng
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO games (id, nw_lat, nw_lng, se_lat, se_lng, max_radius_km,
			start_lat, start_lng, difficulty, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		g.ID, g.Bounds.NW.Lat, g.Bounds.NW.Lng, g.Bounds.SE.Lat, g.Bounds.SE.Lng, g.MaxRadiusKm,
		startLat, startLng, string(g.Difficulty), string(g.Status), g.CreatedAt)
	if err != nil {
		return wildtrails.Game{}, fmt.Errorf("insert game: %w", err)
	}
	return g, nil
}

const pgGameColumns = `id, nw_lat, nw_lng, se_lat, se_lng, max_radius_km, start_lat, start_lng,
	difficulty, status, processing_attempts, last_processing_error, processing_locked_at, created_at`

func scanPgGame(row pgx.Row) (wildtrails.Game, error) {
	var (
		g                  wildtrails.Game
		startLat, startLng *float64
		lastErr            *string
		difficulty, status string
	)
	err := row.Scan(&g.ID, &g.Bounds.NW.Lat, &g.Bounds.NW.Lng, &g.Bounds.SE.Lat, &g.Bounds.SE.Lng,
		&g.MaxRadiusKm, &startLat, &startLng, &difficulty, &status,
		&g.ProcessingAttempts, &lastErr, &g.ProcessingLockedAt, &g.CreatedAt)
	if err != nil {
		return g, err
	}
	g.Difficulty = wildtrails.Difficulty(difficulty)
	g.Status = wildtrails.GameStatus(status)
	if startLat != nil && startLng != nil {
		g.Start = &wildtrails.Point{Lat: *startLat, Lng: *startLng}
	}
	if lastErr != nil {
		g.LastProcessingError = *lastErr
	}
	return g, nil
}

func (s *PostgresStore) GetGame(ctx context.Context, id string) (wildtrails.Game, error) {
	g, err := scanPgGame(s.pool.QueryRow(ctx, `SELECT `+pgGameColumns+` FROM games WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return g, wildtrails.ErrNotFound
	}
	if err != nil {
		return g, fmt.Errorf("query game %s: %w", id, err)
	}
	return g, nil
}

func (s *PostgresStore) UpdateGameStatus(ctx context.Context, id string, u wildtrails.StatusUpdate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE games
		 SET status = $1, processing_attempts = $2, last_processing_error = $3, processing_locked_at = $4
		 WHERE id = $5`,
		string(u.Status), u.Attempts, nullString(u.LastError), u.LockedAt, id)
	if err != nil {
		return fmt.Errorf("update game %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return wildtrails.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AdvanceGameStatus(ctx context.Context, id string, from, to wildtrails.GameStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE games SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("advance game %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) AcquireLock(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE games SET processing_locked_at = $1
		 WHERE id = $2 AND status = 'setup'
		   AND (processing_locked_at IS NULL OR processing_locked_at < $3)`,
		now, id, staleBefore)
	if err != nil {
		return false, fmt.Errorf("lock game %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListPendingGames(ctx context.Context, staleBefore time.Time, maxAttempts int) ([]wildtrails.Game, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgGameColumns+`
		 FROM games
		 WHERE status = 'setup' AND processing_attempts < $1
		   AND (processing_locked_at IS NULL OR processing_locked_at < $2)
		 ORDER BY created_at`,
		maxAttempts, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("query pending games: %w", err)
	}
	defer rows.Close()

	var games []wildtrails.Game
	for rows.Next() {
		g, err := scanPgGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

func (s *PostgresStore) InsertWaypoints(ctx context.Context, gameID string, waypoints []wildtrails.Waypoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialises concurrent inserts for the same game.
	if _, err := tx.Exec(ctx, `SELECT 1 FROM games WHERE id = $1 FOR UPDATE`, gameID); err != nil {
		return fmt.Errorf("lock game row: %w", err)
	}

	var existing int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM waypoints WHERE game_id = $1`, gameID).Scan(&existing); err != nil {
		return fmt.Errorf("count waypoints: %w", err)
	}
	if existing > 0 {
		return wildtrails.ErrWaypointsExist
	}

	batch := &pgx.Batch{}
	for _, w := range prepareWaypoints(gameID, waypoints) {
		batch.Queue(
			`INSERT INTO waypoints (id, game_id, lat, lng, sequence, type, status, hint)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			w.ID, w.GameID, w.Lat, w.Lng, w.Sequence, string(w.Type), string(w.Status), w.Hint)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert waypoints: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit waypoints: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWaypoints(ctx context.Context, gameID string) ([]wildtrails.Waypoint, error) {
	return s.queryWaypoints(ctx,
		`SELECT id, game_id, lat, lng, sequence, type, status, hint, visited_at
		 FROM waypoints WHERE game_id = $1 ORDER BY sequence`, gameID)
}

func (s *PostgresStore) ListUnvisited(ctx context.Context, gameID string) ([]wildtrails.Waypoint, error) {
	return s.queryWaypoints(ctx,
		`SELECT id, game_id, lat, lng, sequence, type, status, hint, visited_at
		 FROM waypoints
		 WHERE game_id = $1 AND status = 'unvisited' AND type <> 'start'
		 ORDER BY sequence`, gameID)
}

func (s *PostgresStore) queryWaypoints(ctx context.Context, query string, args ...any) ([]wildtrails.Waypoint, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query waypoints: %w", err)
	}
	defer rows.Close()

	var waypoints []wildtrails.Waypoint
	for rows.Next() {
		var w wildtrails.Waypoint
		var typ, status string
		if err := rows.Scan(&w.ID, &w.GameID, &w.Lat, &w.Lng, &w.Sequence, &typ, &status, &w.Hint, &w.VisitedAt); err != nil {
			return nil, fmt.Errorf("scan waypoint: %w", err)
		}
		w.Type = wildtrails.WaypointType(typ)
		w.Status = wildtrails.WaypointStatus(status)
		waypoints = append(waypoints, w)
	}
	return waypoints, rows.Err()
}

func (s *PostgresStore) MarkVisited(ctx context.Context, waypointID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE waypoints SET status = 'visited', visited_at = NOW()
		 WHERE id = $1 AND status = 'unvisited'`, waypointID)
	if err != nil {
		return 0, fmt.Errorf("mark waypoint %s visited: %w", waypointID, err)
	}
	return tag.RowsAffected(), nil
}
