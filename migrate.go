package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-checkin/internal/cache"
	"ms-checkin/internal/config"
	"ms-checkin/internal/database/migrations"
	"ms-checkin/internal/logger"
)

const connectBackoff = 2 * time.Second

// connectPostgres opens the pool and pings it, retrying while the database
// container is still starting.
func connectPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	var sqldb *sql.DB
	var err error

	for i := 0; i < cfg.ConnRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, cfg.ConnRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			err = sqldb.PingContext(ctx)
			if err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < cfg.ConnRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(connectBackoff):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", cfg.ConnRetries, err)
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	log.Info("DATABASE", "✅ PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func runMigrations(bunDB *bun.DB, cfg config.DatabaseConfig, log *logger.Logger) error {
	opts := migrations.DefaultOptions()
	opts.AutoMigrate = cfg.AutoMigrate
	if cfg.MigrationsDir != "" {
		opts.MigrationsDir = cfg.MigrationsDir
	}
	runner := migrations.NewRunner(bunDB, opts, log)
	// Closing the migrator would close the shared *sql.DB too.
	return runner.Run()
}

// connectRedis returns the L2 backend. When Redis is disabled or unreachable
// the service keeps running on the no-op backend and every read falls
// through to the database.
func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (cache.Backend, *redis.Client) {
	if !cfg.Enabled {
		log.Warn("REDIS", "Redis disabled, caching falls through to the database")
		return cache.NoopBackend{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Error("REDIS", fmt.Sprintf("Redis connection error, using no-op cache: %v", err))
		client.Close()
		return cache.NoopBackend{}, nil
	}

	backend := cache.NewRedisBackend(client)
	if err := backend.Setup(ctx, cfg.MaxMemory); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Failed to configure eviction: %v", err))
	} else {
		log.Info("REDIS", "LRU eviction enabled")
	}
	log.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return backend, client
}
