package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/AngelCh415/affilka-etl/internal/config"
	"github.com/AngelCh415/affilka-etl/internal/ingest"
	"github.com/AngelCh415/affilka-etl/internal/metrics"
	"github.com/AngelCh415/affilka-etl/internal/runlock"
	"github.com/AngelCh415/affilka-etl/internal/store"
)

const lockKey = "affsync:run"

// Store is everything the binaries need from a fact store.
type Store interface {
	ingest.FactStore
	metrics.FactReader
	Ping(ctx context.Context) error
}

// App is the wired pipeline. Close releases its connections.
type App struct {
	ETL    *ingest.ETL
	Store  Store
	Totals *metrics.Service
	Prom   *metrics.Pipeline

	db    *sql.DB
	redis *redis.Client
}

// NewLogger returns the JSON logger used by both binaries.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// Build connects the configured store and lock. With memory set, or when no
// database is configured, facts are kept in process only.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger, reg prometheus.Registerer, memory bool) (*App, error) {
	a := &App{Prom: metrics.NewPipeline(reg)}
	opts := store.Options{
		Table:       cfg.Database.Table,
		MappingView: cfg.Database.MappingView,
		Source:      cfg.Database.Source,
	}

	dsn := cfg.Database.DSN()
	switch {
	case memory:
		log.Info("using in-memory fact store")
		a.Store = store.NewMemoryStore(opts).WithLogger(log)
	case dsn == "":
		log.Warn("no database configured, using in-memory fact store")
		a.Store = store.NewMemoryStore(opts).WithLogger(log)
	default:
		db, err := store.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.Store = store.NewPostgresStore(db, opts, log)
	}

	var lock runlock.Locker = runlock.Noop{}
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		lock = runlock.NewRedisLock(a.redis, lockKey, cfg.LockTTL)
	}

	a.ETL = ingest.NewETL(ingest.NewHTTPClient(cfg.HTTPTimeout), a.Store, lock, log, cfg, a.Prom)
	a.Totals = metrics.NewService(a.Store)
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
