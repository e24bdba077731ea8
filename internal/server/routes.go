package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"

	"github.com/hellenic/wildtrails/internal/handler/health"
)

func addRoutes(r chi.Router, deps Deps) {
	logger := deps.Logger

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Wild Trails API", "/openapi.json", "/docs"))
	r.Mount("/healthz", health.NewHandler(logger, deps.Checks).Routes())

	r.Post("/api/games", handleCreateGame(deps.Games, logger))
	r.Route("/api/games/{gameID}", func(r chi.Router) {
		r.Use(gameMiddleware(deps.Games, logger))
		r.Get("/", handleGetGame())
		r.Post("/generate", handleGenerate(deps.Games, deps.Generator, logger))
		r.Get("/waypoints", handleWaypoints(deps.Games, logger))
		r.Post("/location", handleLocation(deps.Games, deps.Tracker, logger))
		r.Get("/events", handleEvents(deps.Broker))
		r.Get("/track", handleTrack(deps.Games, deps.Tracker, logger))
	})
}
