package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hellenic/wildtrails/internal/pathgen"
	"github.com/hellenic/wildtrails/internal/wildtrails"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type memStore struct {
	mu        sync.Mutex
	games     map[string]wildtrails.Game
	waypoints map[string][]wildtrails.Waypoint

	getErr    error
	insertErr error
	updates   []wildtrails.StatusUpdate
}

func newMemStore(games ...wildtrails.Game) *memStore {
	s := &memStore{games: map[string]wildtrails.Game{}, waypoints: map[string][]wildtrails.Waypoint{}}
	for _, g := range games {
		s.games[g.ID] = g
	}
	return s
}

func (s *memStore) GetGame(_ context.Context, id string) (wildtrails.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return wildtrails.Game{}, s.getErr
	}
	g, ok := s.games[id]
	if !ok {
		return g, wildtrails.ErrNotFound
	}
	return g, nil
}

func (s *memStore) AcquireLock(_ context.Context, id string, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.games[id]
	if g.ProcessingLockedAt != nil && g.ProcessingLockedAt.After(staleBefore) {
		return false, nil
	}
	g.ProcessingLockedAt = &now
	s.games[id] = g
	return true, nil
}

func (s *memStore) InsertWaypoints(_ context.Context, gameID string, wps []wildtrails.Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	if len(s.waypoints[gameID]) > 0 {
		return wildtrails.ErrWaypointsExist
	}
	s.waypoints[gameID] = wps
	return nil
}

func (s *memStore) UpdateGameStatus(_ context.Context, id string, u wildtrails.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.games[id]
	g.Status = u.Status
	g.ProcessingAttempts = u.Attempts
	g.LastProcessingError = u.LastError
	g.ProcessingLockedAt = u.LockedAt
	s.games[id] = g
	s.updates = append(s.updates, u)
	return nil
}

func (s *memStore) ListPendingGames(_ context.Context, staleBefore time.Time, maxAttempts int) ([]wildtrails.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wildtrails.Game
	for _, g := range s.games {
		if g.Status != wildtrails.GameStatusSetup || g.ProcessingAttempts >= maxAttempts {
			continue
		}
		if g.ProcessingLockedAt != nil && g.ProcessingLockedAt.After(staleBefore) {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *memStore) game(id string) wildtrails.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.games[id]
}

// scriptedStrategy fails with the queued errors, then succeeds.
type scriptedStrategy struct {
	mu       sync.Mutex
	kind     pathgen.Kind
	failures []error
	calls    int
	features [][]wildtrails.Feature
}

func (s *scriptedStrategy) Kind() pathgen.Kind {
	if s.kind == "" {
		return pathgen.KindOSM
	}
	return s.kind
}

func (s *scriptedStrategy) Generate(_ context.Context, game wildtrails.Game, features []wildtrails.Feature) ([]wildtrails.Waypoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.features = append(s.features, features)
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return nil, err
	}
	return []wildtrails.Waypoint{
		{GameID: game.ID, Sequence: 0, Type: wildtrails.WaypointStart},
		{GameID: game.ID, Sequence: 1, Type: wildtrails.WaypointClue},
		{GameID: game.ID, Sequence: 2, Type: wildtrails.WaypointEnd},
	}, nil
}

type fakeSource struct {
	features []wildtrails.Feature
	err      error
	calls    int
}

func (f *fakeSource) FetchFeatures(context.Context, wildtrails.BoundingBox) ([]wildtrails.Feature, error) {
	f.calls++
	return f.features, f.err
}

func setupGame(id string) wildtrails.Game {
	return wildtrails.Game{
		ID:          id,
		Bounds:      wildtrails.BoundingBox{NW: wildtrails.Point{Lat: 60.21, Lng: 24.88}, SE: wildtrails.Point{Lat: 60.19, Lng: 24.92}},
		MaxRadiusKm: 1,
		Status:      wildtrails.GameStatusSetup,
	}
}

func genFailure(n int) error {
	return fmt.Errorf("%w: attempt %d found no goal", wildtrails.ErrGenerationFailure, n)
}

func TestThreeFailuresEndInFailed(t *testing.T) {
	store := newMemStore(setupGame("g"))
	strat := &scriptedStrategy{failures: []error{genFailure(1), genFailure(2), genFailure(3)}}
	o := New(store, nil, strat, Config{}, discard)
	ctx := context.Background()

	wantStatus := []wildtrails.GameStatus{wildtrails.GameStatusSetup, wildtrails.GameStatusSetup, wildtrails.GameStatusFailed}
	wantOutcome := []Outcome{OutcomeRetry, OutcomeRetry, OutcomeFailed}
	for i := range 3 {
		attempt := i + 1
		outcome, err := o.RunAttempt(ctx, "g", attempt)
		require.ErrorIs(t, err, wildtrails.ErrGenerationFailure)
		assert.Equal(t, wantOutcome[i], outcome)

		g := store.game("g")
		assert.Equal(t, wantStatus[i], g.Status)
		assert.Equal(t, attempt, g.ProcessingAttempts)
		assert.Equal(t, genFailure(attempt).Error(), g.LastProcessingError)
		assert.Nil(t, g.ProcessingLockedAt)
	}

	// A failed game is never picked up again.
	_, err := o.RunAttempt(ctx, "g", 4)
	assert.ErrorIs(t, err, wildtrails.ErrNotPending)
	assert.Equal(t, 3, strat.calls)
}

func TestSuccessOnSecondAttemptClearsFields(t *testing.T) {
	store := newMemStore(setupGame("g"))
	strat := &scriptedStrategy{failures: []error{genFailure(1)}}
	o := New(store, nil, strat, Config{}, discard)
	ctx := context.Background()

	outcome, err := o.RunAttempt(ctx, "g", 1)
	require.Error(t, err)
	assert.Equal(t, OutcomeRetry, outcome)
	assert.Equal(t, 1, store.game("g").ProcessingAttempts)

	outcome, err = o.RunAttempt(ctx, "g", 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)

	g := store.game("g")
	assert.Equal(t, wildtrails.GameStatusReady, g.Status)
	assert.Zero(t, g.ProcessingAttempts)
	assert.Empty(t, g.LastProcessingError)
	assert.Nil(t, g.ProcessingLockedAt)
	assert.Len(t, store.waypoints["g"], 3)
}

func TestFreshLockIsHonoured(t *testing.T) {
	g := setupGame("g")
	locked := time.Now().Add(-time.Minute)
	g.ProcessingLockedAt = &locked
	store := newMemStore(g)
	strat := &scriptedStrategy{}
	o := New(store, nil, strat, Config{LockTTL: 5 * time.Minute}, discard)

	outcome, err := o.RunAttempt(context.Background(), "g", 1)
	assert.ErrorIs(t, err, wildtrails.ErrLocked)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Zero(t, strat.calls)
	assert.Empty(t, store.updates)
}

func TestStaleLockIsTakenOver(t *testing.T) {
	g := setupGame("g")
	locked := time.Now().Add(-time.Hour)
	g.ProcessingLockedAt = &locked
	store := newMemStore(g)
	o := New(store, nil, &scriptedStrategy{}, Config{LockTTL: 5 * time.Minute}, discard)

	outcome, err := o.RunAttempt(context.Background(), "g", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)
}

func TestNotFoundIsSkipped(t *testing.T) {
	store := newMemStore()
	o := New(store, nil, &scriptedStrategy{}, Config{}, discard)

	outcome, err := o.RunAttempt(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, wildtrails.ErrNotFound)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Empty(t, store.updates)
}

func TestFetchErrorCountsAsAttempt(t *testing.T) {
	store := newMemStore(setupGame("g"))
	store.getErr = errors.New("connection reset")
	o := New(store, nil, &scriptedStrategy{}, Config{}, discard)

	outcome, err := o.RunAttempt(context.Background(), "g", 1)
	require.Error(t, err)
	assert.Equal(t, OutcomeRetry, outcome)
	require.Len(t, store.updates, 1)
	assert.Equal(t, wildtrails.GameStatusSetup, store.updates[0].Status)
	assert.Contains(t, store.updates[0].LastError, "connection reset")
}

func TestPersistenceErrorCountsAsAttempt(t *testing.T) {
	store := newMemStore(setupGame("g"))
	store.insertErr = errors.New("disk full")
	o := New(store, nil, &scriptedStrategy{}, Config{}, discard)

	outcome, err := o.RunAttempt(context.Background(), "g", 3)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	g := store.game("g")
	assert.Equal(t, wildtrails.GameStatusFailed, g.Status)
	assert.Equal(t, 3, g.ProcessingAttempts)
	assert.Contains(t, g.LastProcessingError, "disk full")
}

func TestExistingWaypointsAreKept(t *testing.T) {
	store := newMemStore(setupGame("g"))
	store.waypoints["g"] = []wildtrails.Waypoint{{ID: "old"}}
	o := New(store, nil, &scriptedStrategy{}, Config{}, discard)

	outcome, err := o.RunAttempt(context.Background(), "g", 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)
	assert.Equal(t, "old", store.waypoints["g"][0].ID)
}

func TestGeometryFailureDegrades(t *testing.T) {
	store := newMemStore(setupGame("g"))
	src := &fakeSource{err: errors.New("overpass timeout")}
	strat := &scriptedStrategy{}
	o := New(store, src, strat, Config{}, discard)

	outcome, err := o.RunAttempt(context.Background(), "g", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)
	assert.Equal(t, 1, src.calls)
	require.Len(t, strat.features, 1)
	assert.Empty(t, strat.features[0])
}

func TestFeaturesPassedToOSMOnly(t *testing.T) {
	features := []wildtrails.Feature{{ID: 1, Shape: wildtrails.ShapePoint, Geometry: []wildtrails.Point{{Lat: 1, Lng: 1}}}}

	src := &fakeSource{features: features}
	osm := &scriptedStrategy{}
	_, err := New(newMemStore(setupGame("g")), src, osm, Config{}, discard).RunAttempt(context.Background(), "g", 1)
	require.NoError(t, err)
	assert.Equal(t, features, osm.features[0])

	src = &fakeSource{features: features}
	random := &scriptedStrategy{kind: pathgen.KindRandom}
	_, err = New(newMemStore(setupGame("g")), src, random, Config{}, discard).RunAttempt(context.Background(), "g", 1)
	require.NoError(t, err)
	assert.Zero(t, src.calls)
}

func TestRealStrategyEndToEnd(t *testing.T) {
	store := newMemStore(setupGame("g"))
	strat, err := pathgen.New(pathgen.KindOSM, pathgen.Deps{Logger: discard})
	require.NoError(t, err)
	o := New(store, &fakeSource{}, strat, Config{}, discard)

	outcome, err := o.RunAttempt(context.Background(), "g", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)

	wps := store.waypoints["g"]
	require.NotEmpty(t, wps)
	assert.Equal(t, wildtrails.WaypointStart, wps[0].Type)
	assert.Equal(t, wildtrails.WaypointEnd, wps[len(wps)-1].Type)
}

// cancellingStrategy cancels the attempt's context mid-generation, the way
// a shutdown signal would.
type cancellingStrategy struct {
	cancel context.CancelFunc
}

func (s *cancellingStrategy) Kind() pathgen.Kind { return pathgen.KindRandom }

func (s *cancellingStrategy) Generate(ctx context.Context, _ wildtrails.Game, _ []wildtrails.Feature) ([]wildtrails.Waypoint, error) {
	s.cancel()
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestShutdownDoesNotConsumeAttempt(t *testing.T) {
	g := setupGame("g")
	g.ProcessingAttempts = 2
	g.LastProcessingError = genFailure(2).Error()
	store := newMemStore(g)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := New(store, nil, &cancellingStrategy{cancel: cancel}, Config{}, discard)

	outcome, err := o.RunAttempt(ctx, "g", 3)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeSkipped, outcome)

	got := store.game("g")
	assert.Equal(t, wildtrails.GameStatusSetup, got.Status)
	assert.Equal(t, 2, got.ProcessingAttempts)
	assert.Equal(t, genFailure(2).Error(), got.LastProcessingError)
	assert.Nil(t, got.ProcessingLockedAt)

	// The worker picks it up again with the same attempt number.
	pending, err := store.ListPendingGames(context.Background(), time.Now(), wildtrails.MaxAttempts)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].ProcessingAttempts)
}

func TestTimeoutStillConsumesAttempt(t *testing.T) {
	store := newMemStore(setupGame("g"))
	strat := &scriptedStrategy{failures: []error{context.DeadlineExceeded}}
	o := New(store, nil, strat, Config{}, discard)

	outcome, err := o.RunAttempt(context.Background(), "g", 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, OutcomeRetry, outcome)
	assert.Equal(t, 1, store.game("g").ProcessingAttempts)
}
