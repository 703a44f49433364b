package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dheovanwa/serenity/internal/config"
)

// PoolConfig turns the loaded settings into a pgx pool config. Sessions run in
// the clinic timezone.
func PoolConfig(cfg config.Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	if cfg.PostgresMaxConns > 0 {
		pcfg.MaxConns = cfg.PostgresMaxConns
	}
	if cfg.PostgresMinConns >= 0 && cfg.PostgresMinConns <= pcfg.MaxConns {
		pcfg.MinConns = cfg.PostgresMinConns
	}
	pcfg.HealthCheckPeriod = 30 * time.Second
	pcfg.MaxConnLifetime = time.Hour
	pcfg.MaxConnIdleTime = 15 * time.Minute

	if cfg.Timezone != nil {
		pcfg.ConnConfig.RuntimeParams["timezone"] = cfg.Timezone.String()
	}
	pcfg.ConnConfig.RuntimeParams["application_name"] = "serenity"

	return pcfg, nil
}

// ConnectPostgres opens a pool sized from cfg and pings it within cfg.PostgresTimeout.
func ConnectPostgres(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pcfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.PostgresTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// Open connects and applies the schema. Every binary that touches the database
// starts through here.
func Open(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := ConnectPostgres(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
