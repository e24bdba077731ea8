package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/hellenic/wildtrails/internal/wildtrails"
)

const trackSessionLimit = 4 * time.Hour

// trackReply is sent for every fix received on /track.
type trackReply struct {
	LocationResponse
	Error string `json:"error,omitempty"`
}

// handleTrack streams fixes over a WebSocket: each text message is a
// LocationRequest and is answered with a trackReply. The socket closes
// normally once the game completes.
func handleTrack(games GameStore, tracker Tracker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		game := gameFrom(r)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithTimeout(r.Context(), trackSessionLimit)
		defer cancel()
		logger = logger.With("game_id", game.ID)

		for {
			var fix LocationRequest
			if err := wsjson.Read(ctx, conn, &fix); err != nil {
				logger.Debug("websocket read ended", "error", err)
				return
			}

			var reply trackReply
			if !fix.valid() {
				reply = trackReply{LocationResponse: LocationResponse{Status: game.Status}, Error: "lat/lng out of range"}
			} else {
				resp, err := applyFix(ctx, games, tracker, logger, game.ID, fix)
				reply.LocationResponse = resp
				switch {
				case errors.Is(err, errNotPlayable):
					reply.Error = err.Error()
				case err != nil:
					logger.Error("applying location", "error", err)
					reply.Error = "internal error"
				}
				if resp.Status != "" {
					game.Status = resp.Status
				}
			}

			if err := wsjson.Write(ctx, conn, reply); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
			if game.Status == wildtrails.GameStatusCompleted {
				conn.Close(websocket.StatusNormalClosure, "game completed")
				return
			}
		}
	}
}
