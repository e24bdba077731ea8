package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hellenic/wildtrails/internal/wildtrails"
)

// Worker periodically picks up games waiting for generation, including
// those sent back to setup by a failed attempt.
type Worker struct {
	orch        *Orchestrator
	store       Store
	interval    time.Duration
	concurrency int
	logger      *slog.Logger
}

func NewWorker(orch *Orchestrator, store Store, interval time.Duration, concurrency int, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		orch:        orch,
		store:       store,
		interval:    interval,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Tick(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("generation worker tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one attempt for every pending game, at most concurrency at a
// time, and returns how many games reached ready.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	staleBefore := w.orch.now().Add(-w.orch.cfg.LockTTL)
	games, err := w.store.ListPendingGames(ctx, staleBefore, wildtrails.MaxAttempts)
	if err != nil {
		return 0, err
	}
	if len(games) == 0 {
		return 0, nil
	}
	w.logger.Debug("pending games found", "count", len(games))

	results := make([]Outcome, len(games))
	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for i, game := range games {
		g.Go(func() error {
			outcome, err := w.orch.RunAttempt(ctx, game.ID, game.ProcessingAttempts+1)
			if err != nil && !errors.Is(err, wildtrails.ErrLocked) {
				w.logger.Debug("attempt finished with error", "game_id", game.ID, "outcome", outcome, "error", err)
			}
			results[i] = outcome
			return nil
		})
	}
	g.Wait()

	ready := 0
	for _, o := range results {
		if o == OutcomeReady {
			ready++
		}
	}
	return ready, nil
}
