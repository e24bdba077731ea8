package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hellenic/wildtrails/internal/config"
	"github.com/hellenic/wildtrails/internal/database"
	"github.com/hellenic/wildtrails/internal/handler/health"
	"github.com/hellenic/wildtrails/internal/hint"
	"github.com/hellenic/wildtrails/internal/job"
	"github.com/hellenic/wildtrails/internal/logging"
	"github.com/hellenic/wildtrails/internal/migrations"
	"github.com/hellenic/wildtrails/internal/oracle"
	"github.com/hellenic/wildtrails/internal/overpass"
	"github.com/hellenic/wildtrails/internal/pathgen"
	"github.com/hellenic/wildtrails/internal/proximity"
	"github.com/hellenic/wildtrails/internal/server"
	"github.com/hellenic/wildtrails/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, logCloser := logging.New(stdout, logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	defer logCloser.Close()

	params, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		return fmt.Errorf("loading tuning: %w", err)
	}

	checks := map[string]health.Checker{}

	// --- Database ---
	st, closeDB, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()
	checks["database"] = health.CheckerFunc(st.Ping)

	// --- Geometry source ---
	var source overpass.Source = overpass.New(cfg.OverpassURL, cfg.OverpassTimeout, logger)
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis")

		checks["redis"] = health.CheckerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		source = overpass.NewCached(source, overpass.NewRedisCache(rdb), cfg.CacheTTL, logger)
	}

	// --- Hints ---
	var hintOracle hint.Oracle
	if cfg.OracleURL != "" {
		hintOracle = oracle.New(oracle.Config{
			BaseURL:    cfg.OracleURL,
			APIKey:     cfg.OracleAPIKey,
			Model:      cfg.OracleModel,
			Timeout:    cfg.OracleTimeout,
			MaxRetries: cfg.OracleMaxRetries,
		}, logger)
		logger.Info("hint oracle enabled", "model", cfg.OracleModel)
	} else {
		logger.Info("hint oracle disabled, using fallback hints")
	}
	hints := hint.New(hintOracle, logger,
		hint.WithTimeout(cfg.OracleTimeout*time.Duration(1+max(cfg.OracleMaxRetries, 0))))

	// --- Generation ---
	kind, err := pathgen.ParseKind(cfg.Strategy)
	if err != nil {
		return err
	}
	strategy, err := pathgen.New(kind, pathgen.Deps{Hints: hints, Logger: logger, Params: params})
	if err != nil {
		return err
	}
	orch := job.New(st, source, strategy, job.Config{LockTTL: cfg.LockTTL, FetchTimeout: cfg.OverpassTimeout, Params: params}, logger)
	worker := job.NewWorker(orch, st, cfg.WorkerInterval, cfg.WorkerConcurrency, logger)

	// --- Proximity ---
	broker := server.NewBroker()
	engine := proximity.New(st, logger, proximity.WithRadius(cfg.TriggerRadiusM), proximity.WithPublisher(broker))

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, server.Deps{
		Logger:    logger,
		Games:     st,
		Generator: orch,
		Tracker:   engine,
		Broker:    broker,
		Checks:    checks,
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("starting generation worker",
			"strategy", kind,
			"interval", cfg.WorkerInterval,
			"concurrency", cfg.WorkerConcurrency,
		)
		return worker.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.DBDriver {
	case "postgres":
		pool, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := migrations.RunPostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("connected to postgres")
		return store.NewPostgresStore(pool), pool.Close, nil

	default:
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := database.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to sqlite: %w", err)
		}
		if err := migrations.Run(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("connected to sqlite", "path", cfg.DBPath)
		return store.NewSQLiteStore(db), func() { db.Close() }, nil
	}
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
