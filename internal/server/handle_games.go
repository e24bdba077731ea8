package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hellenic/wildtrails/internal/wildtrails"
)

// Generation outlives the request so a dropped client does not burn an attempt.
const generateTimeout = 5 * time.Minute

func handleCreateGame(games GameStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateGameRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if msg := validateCreateGame(req); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		game, err := games.CreateGame(r.Context(), wildtrails.Game{
			Bounds:      req.Bounds,
			MaxRadiusKm: req.MaxRadiusKm,
			Start:       req.Start,
			Difficulty:  req.Difficulty,
		})
		if err != nil {
			logger.Error("creating game", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		logger.Info("game created", "game_id", game.ID, "difficulty", game.Difficulty)
		writeJSON(w, http.StatusCreated, gameResponse(game))
	}
}

func validateCreateGame(req CreateGameRequest) string {
	b := req.Bounds
	for _, p := range []wildtrails.Point{b.NW, b.SE} {
		if !(LocationRequest{Lat: p.Lat, Lng: p.Lng}).valid() {
			return "bounds are out of range"
		}
	}
	if b.North() == b.South() || b.East() == b.West() {
		return "bounds must enclose an area"
	}
	if req.MaxRadiusKm <= 0 {
		return "maxRadiusKm must be positive"
	}
	if req.Start != nil && !(LocationRequest{Lat: req.Start.Lat, Lng: req.Start.Lng}).valid() {
		return "start is out of range"
	}
	switch req.Difficulty {
	case "", wildtrails.DifficultyEasy, wildtrails.DifficultyMedium, wildtrails.DifficultyHard:
	default:
		return "difficulty must be easy, medium or hard"
	}
	return ""
}

func handleGetGame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, gameResponse(gameFrom(r)))
	}
}

func handleGenerate(games GameStore, gen Generator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		game := gameFrom(r)
		if game.Status != wildtrails.GameStatusSetup {
			writeError(w, http.StatusConflict, "game is not awaiting generation")
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), generateTimeout)
		defer cancel()

		outcome, runErr := gen.RunAttempt(ctx, game.ID, game.ProcessingAttempts+1)
		switch {
		case errors.Is(runErr, wildtrails.ErrLocked):
			writeError(w, http.StatusConflict, "generation already in progress")
			return
		case errors.Is(runErr, wildtrails.ErrNotPending):
			writeError(w, http.StatusConflict, "game is not awaiting generation")
			return
		case errors.Is(runErr, wildtrails.ErrNotFound):
			writeError(w, http.StatusNotFound, "game not found")
			return
		}

		updated, err := games.GetGame(ctx, game.ID)
		if err != nil {
			logger.Error("reloading game", "game_id", game.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		resp := GenerateResponse{Outcome: string(outcome), Game: gameResponse(updated)}
		if runErr != nil {
			resp.Error = runErr.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleWaypoints(games GameStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		game := gameFrom(r)
		wps, err := games.ListWaypoints(r.Context(), game.ID)
		if err != nil {
			logger.Error("listing waypoints", "game_id", game.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		items := make([]WaypointItem, 0, len(wps))
		for _, wp := range wps {
			items = append(items, WaypointItem{
				ID:        wp.ID,
				Sequence:  wp.Sequence,
				Type:      wp.Type,
				Status:    wp.Status,
				Lat:       wp.Lat,
				Lng:       wp.Lng,
				Hint:      wp.Hint,
				VisitedAt: wp.VisitedAt,
			})
		}
		writeJSON(w, http.StatusOK, WaypointsResponse{GameID: game.ID, Waypoints: items})
	}
}
