package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/hellenic/wildtrails/internal/handler/health"
)

type gamePath struct {
	GameID string `path:"gameID"`
}

type locationInput struct {
	gamePath
	LocationRequest
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Wild Trails API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Trail generation and live proximity tracking for Wild Trails games.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of backend dependencies.")
	getHealthz.AddRespStructure(health.Response{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(health.Response{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// POST /api/games
	createGame, _ := r.NewOperationContext(http.MethodPost, "/api/games")
	createGame.SetSummary("Create game")
	createGame.SetDescription("Creates a game in setup. The generation worker picks it up on its next tick.")
	createGame.AddReqStructure(CreateGameRequest{})
	createGame.AddRespStructure(GameResponse{}, openapi.WithHTTPStatus(http.StatusCreated))
	createGame.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	_ = r.AddOperation(createGame)

	// GET /api/games/{gameID}
	getGame, _ := r.NewOperationContext(http.MethodGet, "/api/games/{gameID}")
	getGame.SetSummary("Get game")
	getGame.SetDescription("Returns the game with its generation status.")
	getGame.AddReqStructure(gamePath{})
	getGame.AddRespStructure(GameResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getGame.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getGame)

	// POST /api/games/{gameID}/generate
	generate, _ := r.NewOperationContext(http.MethodPost, "/api/games/{gameID}/generate")
	generate.SetSummary("Run generation attempt")
	generate.SetDescription("Runs the next generation attempt immediately instead of waiting for the worker.")
	generate.AddReqStructure(gamePath{})
	generate.AddRespStructure(GenerateResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	generate.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	generate.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(generate)

	// GET /api/games/{gameID}/waypoints
	listWaypoints, _ := r.NewOperationContext(http.MethodGet, "/api/games/{gameID}/waypoints")
	listWaypoints.SetSummary("List waypoints")
	listWaypoints.SetDescription("Returns the trail in sequence order with visit status.")
	listWaypoints.AddReqStructure(gamePath{})
	listWaypoints.AddRespStructure(WaypointsResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	listWaypoints.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(listWaypoints)

	// POST /api/games/{gameID}/location
	postLocation, _ := r.NewOperationContext(http.MethodPost, "/api/games/{gameID}/location")
	postLocation.SetSummary("Report location")
	postLocation.SetDescription("Evaluates a GPS fix and returns the waypoints it reached. Each waypoint is reported once.")
	postLocation.AddReqStructure(locationInput{})
	postLocation.AddRespStructure(LocationResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postLocation.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postLocation.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	postLocation.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postLocation)

	// GET /api/games/{gameID}/events
	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/games/{gameID}/events")
	getEvents.SetSummary("SSE event stream")
	getEvents.SetDescription("Server-Sent Events stream of proximity events for the game.")
	getEvents.AddReqStructure(gamePath{})
	getEvents.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	_ = r.AddOperation(getEvents)

	// GET /api/games/{gameID}/track
	getTrack, _ := r.NewOperationContext(http.MethodGet, "/api/games/{gameID}/track")
	getTrack.SetSummary("WebSocket location tracking")
	getTrack.SetDescription("Upgrades to a WebSocket. Each message is a {lat, lng} fix answered with the location response.")
	getTrack.AddReqStructure(gamePath{})
	getTrack.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols),
		openapi.WithContentType("text/plain"))
	_ = r.AddOperation(getTrack)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
