package repo

import (
	"context"
	"time"

	"archiver/internal/modkit/repokit"
	perr "archiver/internal/platform/errors"
	"archiver/internal/platform/store"
	"archiver/internal/services/archiver/domain"
)

type pgProgress struct{ q repokit.Queryer }

// NewPGProgress returns a Postgres progress store
func NewPGProgress(q repokit.Queryer) domain.ProgressStore { return &pgProgress{q: q} }

func (p *pgProgress) Get(ctx context.Context, key string) (time.Time, bool, error) {
	const sql = `SELECT archived_at FROM archive_progress WHERE progress_key = $1`
	at, err := store.One(ctx, p.q, func(r store.Row) (time.Time, error) {
		var t time.Time
		err := r.Scan(&t)
		return t, err
	}, sql, key)
	if perr.IsCode(err, perr.ErrorCodeNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, perr.FromPostgres(err, "read progress")
	}
	return at, true, nil
}

func (p *pgProgress) Set(ctx context.Context, key string, at time.Time) error {
	const sql = `
		INSERT INTO archive_progress (progress_key, archived_at)
		VALUES ($1, $2)
		ON CONFLICT (progress_key) DO UPDATE SET archived_at = excluded.archived_at
	`
	_, err := p.q.Exec(ctx, sql, key, at)
	return perr.FromPostgres(err, "write progress")
}
