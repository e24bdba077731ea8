package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hellenic/wildtrails/internal/wildtrails"
)

// Fixed-width UTC so timestamps compare correctly as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp %q: %w", s.String, err)
	}
	return &t, nil
}

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) CreateGame(ctx context.Context, g wildtrails.Game) (wildtrails.Game, error) {
	g = newGame(g, s.now())

	var startLat, startLng sql.NullFloat64
	if g.Start != nil {
		startLat = sql.NullFloat64{Float64: g.Start.Lat, Valid: true}
		startLng = sql.NullFloat64{Float64: g.Start.Lng, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO games (id, nw_lat, nw_lng, se_lat, se_lng, max_radius_km,
			start_lat, start_lng, difficulty, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.Bounds.NW.Lat, g.Bounds.NW.Lng, g.Bounds.SE.Lat, g.Bounds.SE.Lng, g.MaxRadiusKm,
		startLat, startLng, string(g.Difficulty), string(g.Status), formatTime(g.CreatedAt))
	if err != nil {
		return wildtrails.Game{}, fmt.Errorf("inserting game: %w", err)
	}
	return g, nil
}

const sqliteGameColumns = `id, nw_lat, nw_lng, se_lat, se_lng, max_radius_km, start_lat, start_lng,
	difficulty, status, processing_attempts, last_processing_error, processing_locked_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteGame(row rowScanner) (wildtrails.Game, error) {
	var (
		g                  wildtrails.Game
		startLat, startLng sql.NullFloat64
		lastErr, lockedAt  sql.NullString
		createdAt          string
	)
	err := row.Scan(&g.ID, &g.Bounds.NW.Lat, &g.Bounds.NW.Lng, &g.Bounds.SE.Lat, &g.Bounds.SE.Lng,
		&g.MaxRadiusKm, &startLat, &startLng, &g.Difficulty, &g.Status,
		&g.ProcessingAttempts, &lastErr, &lockedAt, &createdAt)
	if err != nil {
		return g, err
	}
	if startLat.Valid && startLng.Valid {
		g.Start = &wildtrails.Point{Lat: startLat.Float64, Lng: startLng.Float64}
	}
	g.LastProcessingError = lastErr.String
	if g.ProcessingLockedAt, err = parseTime(lockedAt); err != nil {
		return g, err
	}
	created, err := parseTime(sql.NullString{String: createdAt, Valid: true})
	if err != nil {
		return g, err
	}
	g.CreatedAt = *created
	return g, nil
}

func (s *SQLiteStore) GetGame(ctx context.Context, id string) (wildtrails.Game, error) {
	g, err := scanSQLiteGame(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteGameColumns+` FROM games WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return g, wildtrails.ErrNotFound
	}
	if err != nil {
		return g, fmt.Errorf("fetching game %s: %w", id, err)
	}
	return g, nil
}

func (s *SQLiteStore) UpdateGameStatus(ctx context.Context, id string, u wildtrails.StatusUpdate) error {
	var lockedAt sql.NullString
	if u.LockedAt != nil {
		lockedAt = sql.NullString{String: formatTime(*u.LockedAt), Valid: true}
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE games
		SET status = ?, processing_attempts = ?, last_processing_error = ?, processing_locked_at = ?
		WHERE id = ?
	`, string(u.Status), u.Attempts, nullString(u.LastError), lockedAt, id)
	if err != nil {
		return fmt.Errorf("updating game %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating game %s: %w", id, err)
	}
	if n == 0 {
		return wildtrails.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AdvanceGameStatus(ctx context.Context, id string, from, to wildtrails.GameStatus) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE games SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("advancing game %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advancing game %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) AcquireLock(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE games SET processing_locked_at = ?
		WHERE id = ? AND status = 'setup'
			AND (processing_locked_at IS NULL OR processing_locked_at < ?)
	`, formatTime(now), id, formatTime(staleBefore))
	if err != nil {
		return false, fmt.Errorf("locking game %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("locking game %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListPendingGames(ctx context.Context, staleBefore time.Time, maxAttempts int) ([]wildtrails.Game, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteGameColumns+`
		FROM games
		WHERE status = 'setup' AND processing_attempts < ?
			AND (processing_locked_at IS NULL OR processing_locked_at < ?)
		ORDER BY created_at
	`, maxAttempts, formatTime(staleBefore))
	if err != nil {
		return nil, fmt.Errorf("listing pending games: %w", err)
	}
	defer rows.Close()

	var games []wildtrails.Game
	for rows.Next() {
		g, err := scanSQLiteGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

func (s *SQLiteStore) InsertWaypoints(ctx context.Context, gameID string, waypoints []wildtrails.Waypoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM waypoints WHERE game_id = ?`, gameID,
	).Scan(&existing); err != nil {
		return fmt.Errorf("counting waypoints: %w", err)
	}
	if existing > 0 {
		return wildtrails.ErrWaypointsExist
	}

	for _, w := range prepareWaypoints(gameID, waypoints) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO waypoints (id, game_id, lat, lng, sequence, type, status, hint)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, w.ID, w.GameID, w.Lat, w.Lng, w.Sequence, string(w.Type), string(w.Status), w.Hint)
		if err != nil {
			return fmt.Errorf("inserting waypoint %d: %w", w.Sequence, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing waypoints: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListWaypoints(ctx context.Context, gameID string) ([]wildtrails.Waypoint, error) {
	return s.queryWaypoints(ctx, `
		SELECT id, game_id, lat, lng, sequence, type, status, hint, visited_at
		FROM waypoints WHERE game_id = ? ORDER BY sequence
	`, gameID)
}

func (s *SQLiteStore) ListUnvisited(ctx context.Context, gameID string) ([]wildtrails.Waypoint, error) {
	return s.queryWaypoints(ctx, `
		SELECT id, game_id, lat, lng, sequence, type, status, hint, visited_at
		FROM waypoints
		WHERE game_id = ? AND status = 'unvisited' AND type <> 'start'
		ORDER BY sequence
	`, gameID)
}

func (s *SQLiteStore) queryWaypoints(ctx context.Context, query string, args ...any) ([]wildtrails.Waypoint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing waypoints: %w", err)
	}
	defer rows.Close()

	var waypoints []wildtrails.Waypoint
	for rows.Next() {
		var w wildtrails.Waypoint
		var visitedAt sql.NullString
		if err := rows.Scan(&w.ID, &w.GameID, &w.Lat, &w.Lng, &w.Sequence, &w.Type, &w.Status, &w.Hint, &visitedAt); err != nil {
			return nil, fmt.Errorf("scanning waypoint: %w", err)
		}
		if w.VisitedAt, err = parseTime(visitedAt); err != nil {
			return nil, err
		}
		waypoints = append(waypoints, w)
	}
	return waypoints, rows.Err()
}

func (s *SQLiteStore) MarkVisited(ctx context.Context, waypointID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE waypoints SET status = 'visited', visited_at = ?
		WHERE id = ? AND status = 'unvisited'
	`, formatTime(s.now()), waypointID)
	if err != nil {
		return 0, fmt.Errorf("marking waypoint %s visited: %w", waypointID, err)
	}
	return result.RowsAffected()
}
