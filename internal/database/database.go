package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 8
	}
	cfg.MaxConns = maxConns
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the queue and indexing property tables if needed. The
// content tables belong to the CMS and are never created here.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS tx_solr_indexqueue_item (
	uid BIGSERIAL PRIMARY KEY,
	root INTEGER NOT NULL DEFAULT 0,
	item_type TEXT NOT NULL,
	item_uid INTEGER NOT NULL,
	indexing_configuration TEXT NOT NULL DEFAULT '',
	has_indexing_properties BOOLEAN NOT NULL DEFAULT FALSE,
	indexing_priority INTEGER NOT NULL DEFAULT 0,
	changed BIGINT NOT NULL DEFAULT 0,
	indexed BIGINT NOT NULL DEFAULT 0,
	errors TEXT NOT NULL DEFAULT '',
	claimed_by TEXT NOT NULL DEFAULT '',
	claimed_until BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_indexqueue_item_record ON tx_solr_indexqueue_item(item_type, item_uid);
CREATE INDEX IF NOT EXISTS idx_indexqueue_item_due ON tx_solr_indexqueue_item(root, indexing_priority DESC, changed DESC);
CREATE TABLE IF NOT EXISTS tx_solr_indexqueue_indexing_property (
	uid BIGSERIAL PRIMARY KEY,
	root INTEGER NOT NULL DEFAULT 0,
	item_id BIGINT NOT NULL REFERENCES tx_solr_indexqueue_item(uid),
	property_key TEXT NOT NULL,
	property_value TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_indexqueue_property_item ON tx_solr_indexqueue_indexing_property(item_id);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
