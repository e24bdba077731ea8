package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hellenic/wildtrails/internal/handler/health"
	"github.com/hellenic/wildtrails/internal/job"
	"github.com/hellenic/wildtrails/internal/wildtrails"
)

// GameStore is the part of the store the HTTP layer reads and writes.
type GameStore interface {
	CreateGame(ctx context.Context, g wildtrails.Game) (wildtrails.Game, error)
	GetGame(ctx context.Context, id string) (wildtrails.Game, error)
	AdvanceGameStatus(ctx context.Context, id string, from, to wildtrails.GameStatus) (bool, error)
	ListWaypoints(ctx context.Context, gameID string) ([]wildtrails.Waypoint, error)
}

// Generator runs one generation attempt, typically *job.Orchestrator.
type Generator interface {
	RunAttempt(ctx context.Context, gameID string, attempt int) (job.Outcome, error)
}

// Tracker evaluates a location fix, typically *proximity.Engine.
type Tracker interface {
	EvaluateGame(ctx context.Context, gameID string, lat, lng float64) ([]wildtrails.ProximityEvent, error)
}

type Deps struct {
	Logger    *slog.Logger
	Games     GameStore
	Generator Generator
	Tracker   Tracker
	Broker    *Broker
	Checks    map[string]health.Checker
}

type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

func New(addr string, deps Deps) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(deps),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: deps.Logger,
	}
}

// NewHandler builds the router without binding a listener.
func NewHandler(deps Deps) http.Handler {
	if deps.Broker == nil {
		deps.Broker = NewBroker()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newStructuredLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	addRoutes(r, deps)
	return r
}

func (s *Server) Run(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func newStructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				var route string
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					route = rctx.RoutePattern()
				}
				level := slog.LevelInfo
				if ww.Status() >= http.StatusInternalServerError {
					level = slog.LevelError
				}
				logger.Log(r.Context(), level, "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"route", route,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
