package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/awynne3/rallyhq/go/internal/dbconfig"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// schema is applied idempotently on startup. Queues, roster, and captains
// cascade when their workspace is deleted.
const schema = `
CREATE TABLE IF NOT EXISTS workspaces (
	id UUID PRIMARY KEY,
	kingdom INTEGER NOT NULL,
	name TEXT NOT NULL,
	creator_id TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS captains (
	id UUID PRIMARY KEY,
	workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	identity_id TEXT NOT NULL,
	target TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (workspace_id, identity_id)
);

CREATE TABLE IF NOT EXISTS queues (
	workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	target TEXT NOT NULL,
	kind TEXT NOT NULL,
	slots JSONB NOT NULL,
	cadence JSONB NOT NULL,
	last_writer_id TEXT NOT NULL DEFAULT '',
	last_write_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (workspace_id, target, kind)
);

CREATE TABLE IF NOT EXISTS roster (
	id UUID PRIMARY KEY,
	workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	faction TEXT NOT NULL,
	travel_times JSONB NOT NULL,
	owner_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// setupDatabase bootstraps the schema over database/sql and returns the pgx
// pool the repositories run on.
func setupDatabase(ctx context.Context) (*sql.DB, *pgxpool.Pool, error) {
	cfg := dbconfig.NewConfigFromEnv()

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PoolDSN())
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")
	return db, pool, nil
}
