package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hellenic/wildtrails/internal/wildtrails"
)

var errNotPlayable = errors.New("game is not ready for play")

// applyFix evaluates one location fix and moves the game along
// ready -> active -> completed. The game is re-read for every fix and the
// status only ever advances through a conditional update, so a stale
// client cannot reopen a finished game.
func applyFix(ctx context.Context, games GameStore, tracker Tracker, logger *slog.Logger, gameID string, fix LocationRequest) (LocationResponse, error) {
	game, err := games.GetGame(ctx, gameID)
	if err != nil {
		return LocationResponse{}, fmt.Errorf("loading game: %w", err)
	}
	status := game.Status
	if !playable(status) {
		return LocationResponse{Status: status}, errNotPlayable
	}

	events, err := tracker.EvaluateGame(ctx, gameID, fix.Lat, fix.Lng)
	if err != nil {
		return LocationResponse{Status: status}, fmt.Errorf("evaluating location: %w", err)
	}

	next := wildtrails.GameStatusActive
	for _, ev := range events {
		if ev.PointType == wildtrails.WaypointEnd {
			next = wildtrails.GameStatusCompleted
		}
	}
	for status != next && playable(status) {
		ok, err := games.AdvanceGameStatus(ctx, gameID, status, next)
		if err != nil {
			return LocationResponse{Status: status, Events: events}, fmt.Errorf("advancing game status: %w", err)
		}
		if ok {
			logger.Info("game status changed", "game_id", gameID, "from", status, "to", next)
			status = next
			break
		}
		// Someone else moved the game; retry from what is stored now.
		current, err := games.GetGame(ctx, gameID)
		if err != nil {
			return LocationResponse{Status: status, Events: events}, fmt.Errorf("reloading game: %w", err)
		}
		status = current.Status
	}

	if events == nil {
		events = []wildtrails.ProximityEvent{}
	}
	return LocationResponse{Status: status, Events: events}, nil
}

func playable(s wildtrails.GameStatus) bool {
	return s == wildtrails.GameStatusReady || s == wildtrails.GameStatusActive
}

func handleLocation(games GameStore, tracker Tracker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fix LocationRequest
		if err := readJSON(w, r, &fix); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !fix.valid() {
			writeError(w, http.StatusBadRequest, "lat/lng out of range")
			return
		}

		game := gameFrom(r)
		resp, err := applyFix(r.Context(), games, tracker, logger, game.ID, fix)
		if errors.Is(err, errNotPlayable) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			logger.Error("applying location", "game_id", game.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
