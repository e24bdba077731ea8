package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hellenic/wildtrails/internal/database"
	"github.com/hellenic/wildtrails/internal/migrations"
	"github.com/hellenic/wildtrails/internal/wildtrails"
)

func newSQLite(t *testing.T) Store {
	t.Helper()
	db, err := database.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Run(db))
	return NewSQLiteStore(db)
}

func newPostgres(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv("WILDTRAILS_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("WILDTRAILS_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	pool, err := database.OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, migrations.RunPostgres(ctx, pool))
	_, err = pool.Exec(ctx, "TRUNCATE waypoints, games CASCADE")
	require.NoError(t, err)
	return NewPostgresStore(pool)
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLite(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, newPostgres(t)) })
}

func sampleGame() wildtrails.Game {
	return wildtrails.Game{
		Bounds:      wildtrails.BoundingBox{NW: wildtrails.Point{Lat: 60.21, Lng: 24.88}, SE: wildtrails.Point{Lat: 60.19, Lng: 24.92}},
		MaxRadiusKm: 1.5,
	}
}

func sampleTrail() []wildtrails.Waypoint {
	return []wildtrails.Waypoint{
		{Lat: 60.20, Lng: 24.90, Sequence: 0, Type: wildtrails.WaypointStart, Hint: "Starting point"},
		{Lat: 60.201, Lng: 24.901, Sequence: 1, Type: wildtrails.WaypointClue, Hint: "Look for the old oak."},
		{Lat: 60.202, Lng: 24.902, Sequence: 2, Type: wildtrails.WaypointClue, Hint: "Follow the stream."},
		{Lat: 60.203, Lng: 24.903, Sequence: 3, Type: wildtrails.WaypointEnd, Hint: "Ending point"},
	}
}

func TestCreateAndGetGame(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		in := sampleGame()
		in.Start = &wildtrails.Point{Lat: 60.2, Lng: 24.9}
		in.Difficulty = wildtrails.DifficultyHard

		created, err := s.CreateGame(ctx, in)
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		assert.Equal(t, wildtrails.GameStatusSetup, created.Status)

		got, err := s.GetGame(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, in.Bounds, got.Bounds)
		assert.Equal(t, 1.5, got.MaxRadiusKm)
		require.NotNil(t, got.Start)
		assert.Equal(t, *in.Start, *got.Start)
		assert.Equal(t, wildtrails.DifficultyHard, got.Difficulty)
		assert.Equal(t, wildtrails.GameStatusSetup, got.Status)
		assert.Zero(t, got.ProcessingAttempts)
		assert.Nil(t, got.ProcessingLockedAt)
		assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Millisecond)
	})
}

func TestGetGameNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetGame(context.Background(), "nope")
		assert.ErrorIs(t, err, wildtrails.ErrNotFound)
	})
}

func TestUpdateGameStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		g, err := s.CreateGame(ctx, sampleGame())
		require.NoError(t, err)

		require.NoError(t, s.UpdateGameStatus(ctx, g.ID, wildtrails.StatusUpdate{
			Status:    wildtrails.GameStatusSetup,
			Attempts:  2,
			LastError: "generation failure: no goal",
		}))
		got, err := s.GetGame(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.ProcessingAttempts)
		assert.Equal(t, "generation failure: no goal", got.LastProcessingError)

		require.NoError(t, s.UpdateGameStatus(ctx, g.ID, wildtrails.StatusUpdate{Status: wildtrails.GameStatusReady}))
		got, err = s.GetGame(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, wildtrails.GameStatusReady, got.Status)
		assert.Zero(t, got.ProcessingAttempts)
		assert.Empty(t, got.LastProcessingError)

		err = s.UpdateGameStatus(ctx, "nope", wildtrails.StatusUpdate{Status: wildtrails.GameStatusReady})
		assert.ErrorIs(t, err, wildtrails.ErrNotFound)
	})
}

func TestAdvanceGameStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		g, err := s.CreateGame(ctx, sampleGame())
		require.NoError(t, err)
		require.NoError(t, s.UpdateGameStatus(ctx, g.ID, wildtrails.StatusUpdate{Status: wildtrails.GameStatusReady}))

		ok, err := s.AdvanceGameStatus(ctx, g.ID, wildtrails.GameStatusReady, wildtrails.GameStatusActive)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.AdvanceGameStatus(ctx, g.ID, wildtrails.GameStatusActive, wildtrails.GameStatusCompleted)
		require.NoError(t, err)
		assert.True(t, ok)

		// A stale writer still thinking the game is ready must not undo completion.
		ok, err = s.AdvanceGameStatus(ctx, g.ID, wildtrails.GameStatusReady, wildtrails.GameStatusActive)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetGame(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, wildtrails.GameStatusCompleted, got.Status)
	})
}

func TestAcquireLock(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		g, err := s.CreateGame(ctx, sampleGame())
		require.NoError(t, err)

		now := time.Now()
		ok, err := s.AcquireLock(ctx, g.ID, now, now.Add(-5*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		// Fresh lock holds.
		ok, err = s.AcquireLock(ctx, g.ID, now.Add(time.Second), now.Add(-5*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)

		// Stale lock is taken over.
		later := now.Add(10 * time.Minute)
		ok, err = s.AcquireLock(ctx, g.ID, later, later.Add(-5*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetGame(ctx, g.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ProcessingLockedAt)
		assert.WithinDuration(t, later, *got.ProcessingLockedAt, time.Millisecond)
	})
}

func TestAcquireLockOnlyInSetup(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		g, err := s.CreateGame(ctx, sampleGame())
		require.NoError(t, err)
		require.NoError(t, s.UpdateGameStatus(ctx, g.ID, wildtrails.StatusUpdate{Status: wildtrails.GameStatusFailed, Attempts: 3}))

		now := time.Now()
		ok, err := s.AcquireLock(ctx, g.ID, now, now)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestAcquireLockConcurrent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		g, err := s.CreateGame(ctx, sampleGame())
		require.NoError(t, err)

		now := time.Now()
		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.AcquireLock(ctx, g.ID, now, now.Add(-time.Minute))
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})
}

func TestListPendingGames(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now()

		fresh, err := s.CreateGame(ctx, sampleGame())
		require.NoError(t, err)

		retrying, err := s.CreateGame(ctx, sampleGame())
		require.NoError(t, err)
		require.NoError(t, s.UpdateGameStatus(ctx, retrying.ID, wildtrails.StatusUpdate{Status: wildtrails.GameStatusSetup, Attempts: 2, LastError: "x"}))

		locked, err := s.CreateGame(ctx, sampleGame())
		require.NoError(t, err)
		_, err = s.AcquireLock(ctx, locked.ID, now, now.Add(-time.Minute))
		require.NoError(t, err)

		failed, err := s.CreateGame(ctx, sampleGame())
		require.NoError(t, err)
		require.NoError(t, s.UpdateGameStatus(ctx, failed.ID, wildtrails.StatusUpdate{Status: wildtrails.GameStatusFailed, Attempts: 3}))

		games, err := s.ListPendingGames(ctx, now.Add(-time.Minute), wildtrails.MaxAttempts)
		require.NoError(t, err)
		var ids []string
		for _, g := range games {
			ids = append(ids, g.ID)
		}
		assert.ElementsMatch(t, []string{fresh.ID, retrying.ID}, ids)

		// Once the lock is stale the game is pending again.
		games, err = s.ListPendingGames(ctx, now.Add(time.Minute), wildtrails.MaxAttempts)
		require.NoError(t, err)
		assert.Len(t, games, 3)
	})
}

func TestInsertWaypoints(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		g, err := s.CreateGame(ctx, sampleGame())
		require.NoError(t, err)

		require.NoError(t, s.InsertWaypoints(ctx, g.ID, sampleTrail()))

		wps, err := s.ListWaypoints(ctx, g.ID)
		require.NoError(t, err)
		require.Len(t, wps, 4)
		for i, w := range wps {
			assert.Equal(t, i, w.Sequence)
			assert.NotEmpty(t, w.ID)
			assert.Equal(t, g.ID, w.GameID)
			assert.Equal(t, wildtrails.WaypointUnvisited, w.Status)
			assert.Nil(t, w.VisitedAt)
		}
		assert.Equal(t, wildtrails.WaypointStart, wps[0].Type)
		assert.Equal(t, "Look for the old oak.", wps[1].Hint)

		err = s.InsertWaypoints(ctx, g.ID, sampleTrail())
		assert.ErrorIs(t, err, wildtrails.ErrWaypointsExist)
	})
}

func TestInsertWaypointsAllOrNothing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		g, err := s.CreateGame(ctx, sampleGame())
		require.NoError(t, err)

		trail := sampleTrail()
		trail[2].Sequence = 1 // violates the unique (game_id, sequence)
		require.Error(t, s.InsertWaypoints(ctx, g.ID, trail))

		wps, err := s.ListWaypoints(ctx, g.ID)
		require.NoError(t, err)
		assert.Empty(t, wps)
	})
}

func TestMarkVisited(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		g, err := s.CreateGame(ctx, sampleGame())
		require.NoError(t, err)
		require.NoError(t, s.InsertWaypoints(ctx, g.ID, sampleTrail()))

		unvisited, err := s.ListUnvisited(ctx, g.ID)
		require.NoError(t, err)
		require.Len(t, unvisited, 3, "start is never listed")
		for _, w := range unvisited {
			assert.NotEqual(t, wildtrails.WaypointStart, w.Type)
		}

		n, err := s.MarkVisited(ctx, unvisited[0].ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		n, err = s.MarkVisited(ctx, unvisited[0].ID)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)

		unvisited, err = s.ListUnvisited(ctx, g.ID)
		require.NoError(t, err)
		assert.Len(t, unvisited, 2)

		wps, err := s.ListWaypoints(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, wildtrails.WaypointVisited, wps[1].Status)
		assert.NotNil(t, wps[1].VisitedAt)
	})
}
