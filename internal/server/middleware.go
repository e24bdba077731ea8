package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hellenic/wildtrails/internal/wildtrails"
)

type ctxKey int

const ctxKeyGame ctxKey = iota

// gameMiddleware resolves {gameID} and stores the game in the request context.
func gameMiddleware(games GameStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "gameID")
			game, err := games.GetGame(r.Context(), id)
			if errors.Is(err, wildtrails.ErrNotFound) {
				writeError(w, http.StatusNotFound, "game not found")
				return
			}
			if err != nil {
				logger.Error("loading game", "game_id", id, "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyGame, game)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func gameFrom(r *http.Request) wildtrails.Game {
	return r.Context().Value(ctxKeyGame).(wildtrails.Game)
}
