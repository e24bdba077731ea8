package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/hellenic/wildtrails/internal/pathgen"
)

type Config struct {
	HTTPAddr  string     `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"json"`
	// LogFile, when set, receives a rotated copy of every log line.
	LogFile string `env:"LOG_FILE"`

	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBPath      string `env:"DB_PATH" envDefault:"data/wildtrails.db"`
	DatabaseURL string `env:"DATABASE_URL"`
	// RedisURL is optional; without it Overpass responses are not cached.
	RedisURL string        `env:"REDIS_URL"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"24h"`

	OverpassURL     string        `env:"OVERPASS_URL" envDefault:"https://overpass-api.de/api/interpreter"`
	OverpassTimeout time.Duration `env:"OVERPASS_TIMEOUT" envDefault:"60s"`

	// OracleURL empty disables the hint oracle; hints use the fallback text.
	OracleURL        string        `env:"ORACLE_URL"`
	OracleAPIKey     string        `env:"ORACLE_API_KEY"`
	OracleModel      string        `env:"ORACLE_MODEL" envDefault:"gpt-4o-mini"`
	OracleTimeout    time.Duration `env:"ORACLE_TIMEOUT" envDefault:"20s"`
	OracleMaxRetries int           `env:"ORACLE_MAX_RETRIES" envDefault:"2"`

	Strategy   string `env:"STRATEGY" envDefault:"osm"`
	TuningFile string `env:"TUNING_FILE" envDefault:"config/tuning.yaml"`

	WorkerInterval    time.Duration `env:"WORKER_INTERVAL" envDefault:"30s"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"2"`
	LockTTL           time.Duration `env:"LOCK_TTL" envDefault:"5m"`

	TriggerRadiusM float64 `env:"TRIGGER_RADIUS_M" envDefault:"50"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	switch cfg.DBDriver {
	case "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
	return &cfg, nil
}

// LoadTuning reads generation parameters from a YAML file. Keys missing
// from the file keep their defaults, and a missing file yields the defaults.
func LoadTuning(path string) (pathgen.Params, error) {
	params := pathgen.DefaultParams()
	if path == "" {
		return params, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return params, nil
		}
		return params, fmt.Errorf("reading tuning %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("parsing tuning %s: %w", path, err)
	}
	return params, nil
}
