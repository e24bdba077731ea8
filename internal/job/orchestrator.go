// Package job drives trail generation for games waiting in setup and
// records the outcome on the game, retrying up to wildtrails.MaxAttempts.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hellenic/wildtrails/internal/pathgen"
	"github.com/hellenic/wildtrails/internal/wildtrails"
)

// Store is the slice of the game store the orchestrator needs.
type Store interface {
	GetGame(ctx context.Context, id string) (wildtrails.Game, error)
	AcquireLock(ctx context.Context, id string, now, staleBefore time.Time) (bool, error)
	InsertWaypoints(ctx context.Context, gameID string, waypoints []wildtrails.Waypoint) error
	UpdateGameStatus(ctx context.Context, id string, u wildtrails.StatusUpdate) error
	ListPendingGames(ctx context.Context, staleBefore time.Time, maxAttempts int) ([]wildtrails.Game, error)
}

// FeatureSource is the geometry source, typically overpass.Cached.
type FeatureSource interface {
	FetchFeatures(ctx context.Context, bbox wildtrails.BoundingBox) ([]wildtrails.Feature, error)
}

type Outcome string

const (
	OutcomeReady   Outcome = "ready"
	OutcomeRetry   Outcome = "retry"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

type Config struct {
	// LockTTL is how long a processing lock is honoured before it is
	// considered abandoned.
	LockTTL      time.Duration
	FetchTimeout time.Duration
	Params       pathgen.Params
}

type Orchestrator struct {
	store    Store
	source   FeatureSource
	strategy pathgen.Strategy
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func New(store Store, source FeatureSource, strategy pathgen.Strategy, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 60 * time.Second
	}
	return &Orchestrator{
		store:    store,
		source:   source,
		strategy: strategy,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// RunAttempt performs generation attempt number attempt for gameID.
//
// A game that is not in setup, or whose lock is held and fresh, is left
// untouched and reported as OutcomeSkipped. Any other error is recorded on
// the game: back to setup while attempts remain, failed once the budget is
// spent. The returned error is the cause of a non-ready outcome.
func (o *Orchestrator) RunAttempt(ctx context.Context, gameID string, attempt int) (Outcome, error) {
	logger := o.logger.With("game_id", gameID, "attempt", attempt)
	now := o.now()
	staleBefore := now.Add(-o.cfg.LockTTL)

	game, err := o.store.GetGame(ctx, gameID)
	if errors.Is(err, wildtrails.ErrNotFound) {
		return OutcomeSkipped, err
	}
	if err != nil {
		return o.fail(ctx, logger, gameID, attempt, fmt.Errorf("fetching game: %w", err))
	}
	if game.Status != wildtrails.GameStatusSetup {
		return OutcomeSkipped, fmt.Errorf("%w: status is %s", wildtrails.ErrNotPending, game.Status)
	}
	if game.ProcessingLockedAt != nil && game.ProcessingLockedAt.After(staleBefore) {
		return OutcomeSkipped, wildtrails.ErrLocked
	}

	ok, err := o.store.AcquireLock(ctx, gameID, now, staleBefore)
	if err != nil {
		return o.fail(ctx, logger, gameID, attempt, fmt.Errorf("acquiring lock: %w", err))
	}
	if !ok {
		return OutcomeSkipped, wildtrails.ErrLocked
	}
	logger.Info("generation attempt started", "strategy", o.strategy.Kind())

	waypoints, err := o.strategy.Generate(ctx, game, o.features(ctx, logger, game))
	if err != nil {
		if interrupted(ctx, err) {
			return o.release(ctx, logger, game, err)
		}
		return o.fail(ctx, logger, gameID, attempt, err)
	}

	err = o.store.InsertWaypoints(ctx, gameID, waypoints)
	switch {
	case errors.Is(err, wildtrails.ErrWaypointsExist):
		// An earlier attempt stored its trail but failed before flipping
		// the status. The stored trail stands.
		logger.Warn("waypoints already stored, keeping existing trail")
	case interrupted(ctx, err):
		return o.release(ctx, logger, game, err)
	case err != nil:
		return o.fail(ctx, logger, gameID, attempt, fmt.Errorf("storing waypoints: %w", err))
	}

	if err := o.store.UpdateGameStatus(ctx, gameID, wildtrails.StatusUpdate{Status: wildtrails.GameStatusReady}); err != nil {
		return o.fail(ctx, logger, gameID, attempt, fmt.Errorf("marking game ready: %w", err))
	}
	logger.Info("generation attempt succeeded", "waypoints", len(waypoints))
	return OutcomeReady, nil
}

// features asks the geometry source for the game's search area. A failure
// only degrades the trail, so it is logged and an empty set returned.
func (o *Orchestrator) features(ctx context.Context, logger *slog.Logger, game wildtrails.Game) []wildtrails.Feature {
	if o.source == nil || o.strategy.Kind() != pathgen.KindOSM {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	features, err := o.source.FetchFeatures(ctx, pathgen.SearchArea(game, o.cfg.Params))
	if err != nil {
		logger.Warn("geometry source unavailable, generating without map data", "error", err)
		return nil
	}
	if len(features) == 0 {
		logger.Info("geometry source returned no features")
	}
	return features
}

// interrupted reports whether err comes from the caller cancelling ctx,
// as on shutdown, rather than from the attempt itself.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, context.Canceled)
}

// release drops the lock of an interrupted attempt and leaves the attempt
// count and last error as they were, so the game is picked up again
// without spending its retry budget.
func (o *Orchestrator) release(ctx context.Context, logger *slog.Logger, game wildtrails.Game, cause error) (Outcome, error) {
	u := wildtrails.StatusUpdate{
		Status:    wildtrails.GameStatusSetup,
		Attempts:  game.ProcessingAttempts,
		LastError: game.LastProcessingError,
	}
	if err := o.store.UpdateGameStatus(context.WithoutCancel(ctx), game.ID, u); err != nil {
		logger.Error("releasing interrupted attempt", "cause", cause, "error", err)
		return OutcomeSkipped, errors.Join(cause, fmt.Errorf("releasing lock: %w", err))
	}
	logger.Info("generation attempt interrupted, lock released", "error", cause)
	return OutcomeSkipped, cause
}

func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, gameID string, attempt int, cause error) (Outcome, error) {
	u := wildtrails.StatusUpdate{
		Status:    wildtrails.GameStatusSetup,
		Attempts:  attempt,
		LastError: cause.Error(),
	}
	outcome := OutcomeRetry
	if attempt >= wildtrails.MaxAttempts {
		u.Status = wildtrails.GameStatusFailed
		outcome = OutcomeFailed
	}

	// Record the failure even if the caller's context is already done.
	if err := o.store.UpdateGameStatus(context.WithoutCancel(ctx), gameID, u); err != nil {
		logger.Error("recording generation failure", "cause", cause, "error", err)
		return outcome, errors.Join(cause, fmt.Errorf("recording failure: %w", err))
	}

	if outcome == OutcomeFailed {
		logger.Error("generation failed permanently", "error", cause)
	} else {
		logger.Warn("generation attempt failed, will retry", "error", cause)
	}
	return outcome, cause
}
