package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/driftline/engine/internal/config"
)

// Fallback when the config leaves ping_timeout unset.
const defaultPingTimeout = 5 * time.Second

// DB owns the connection pool behind the snapshot store.
type DB struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

// NewDB opens a pool against cfg.DSN and proves connectivity with a
// bounded ping so a misconfigured database fails at startup, not at the
// first snapshot save.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout(cfg))
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	log.Debug("connected to snapshot store",
		zap.Int32("max_conns", poolCfg.MaxConns))
	return &DB{Pool: pool, log: log}, nil
}

func pingTimeout(cfg config.DatabaseConfig) time.Duration {
	if cfg.PingTimeout <= 0 {
		return defaultPingTimeout
	}
	return cfg.PingTimeout
}

// Close releases the pool.
func (db *DB) Close() {
	db.Pool.Close()
}
