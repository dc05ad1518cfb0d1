package repo

import (
	"context"

	"archiver/internal/modkit/repokit"
	perr "archiver/internal/platform/errors"
)

// schema is applied in order; every statement is idempotent
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sites (
		site_id    BIGINT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		timezone   TEXT NOT NULL DEFAULT 'UTC'
	)`,
	`CREATE TABLE IF NOT EXISTS site_visits (
		site_id    BIGINT NOT NULL,
		visited_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS site_visits_visited_at_idx ON site_visits (visited_at, site_id)`,
	`CREATE TABLE IF NOT EXISTS archive_invalidations (
		site_id        BIGINT PRIMARY KEY,
		invalidated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS archive_segments (
		segment_id BIGSERIAL PRIMARY KEY,
		site_id    BIGINT,
		definition TEXT NOT NULL,
		enabled    BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS archive_progress (
		progress_key TEXT PRIMARY KEY,
		archived_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS archive_counters (
		namespace TEXT NOT NULL,
		name      TEXT NOT NULL,
		value     BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (namespace, name)
	)`,
	`CREATE TABLE IF NOT EXISTS archive_resolved (
		namespace   TEXT NOT NULL,
		job_key     TEXT NOT NULL,
		resolved_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (namespace, job_key)
	)`,
	`CREATE TABLE IF NOT EXISTS archive_jobs (
		job_id       BIGSERIAL PRIMARY KEY,
		payload      TEXT NOT NULL,
		attempts     INT NOT NULL DEFAULT 0,
		leased_until TIMESTAMPTZ,
		lease_owner  TEXT,
		enqueued_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS archive_jobs_leased_until_idx ON archive_jobs (leased_until, job_id)`,
}

// Migrate creates the archiver tables inside one transaction
func Migrate(ctx context.Context, tx repokit.TxRunner) error {
	return repokit.WithTx(ctx, tx, func(q repokit.Queryer) error {
		for _, stmt := range schema {
			if _, err := q.Exec(ctx, stmt); err != nil {
				return perr.FromPostgres(err, "migrate")
			}
		}
		return nil
	})
}
