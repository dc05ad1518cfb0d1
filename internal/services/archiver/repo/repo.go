// Package repo provides the archiver's storage backends: Postgres, Redis,
// ClickHouse and in-memory implementations of the domain ports
package repo

import (
	"context"
	"time"

	"archiver/internal/modkit/repokit"
	perr "archiver/internal/platform/errors"
	"archiver/internal/platform/store"
	"archiver/internal/services/archiver/domain"
)

// Repo is the read side over site reference data
type Repo interface {
	domain.SiteRepo
	domain.VisitSource
	domain.InvalidationStore
	domain.SegmentSource
}

type (
	// PG is a Postgres archiver repository
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG constructs a Postgres archiver repository
func NewPG() repokit.Binder[Repo] { return PG{} }

// Bind binds a Queryer to a Postgres implementation of Repo
func (PG) Bind(q repokit.Queryer) Repo { return &queries{q: q} }

func scanSiteID(r store.Row) (domain.SiteID, error) {
	var id int64
	err := r.Scan(&id)
	return domain.SiteID(id), err
}

// AllSiteIDs lists every existing site
func (r *queries) AllSiteIDs(ctx context.Context) ([]domain.SiteID, error) {
	const sql = `SELECT site_id FROM sites ORDER BY site_id`
	ids, err := store.Many(ctx, r.q, scanSiteID, sql)
	return ids, perr.FromPostgres(err, "list sites")
}

// Site loads one site; a missing site is a NotFound error
func (r *queries) Site(ctx context.Context, id domain.SiteID) (domain.Site, error) {
	const sql = `SELECT site_id, created_at, timezone FROM sites WHERE site_id = $1`
	s, err := store.One(ctx, r.q, func(row store.Row) (domain.Site, error) {
		var s domain.Site
		var sid int64
		err := row.Scan(&sid, &s.CreatedAt, &s.Timezone)
		s.ID = domain.SiteID(sid)
		return s, err
	}, sql, int64(id))
	if perr.IsCode(err, perr.ErrorCodeNotFound) {
		return domain.Site{}, perr.NotFoundf("site %d not found", id)
	}
	return s, perr.FromPostgres(err, "load site")
}

// Timezones groups site ids by timezone
func (r *queries) Timezones(ctx context.Context) (map[string][]domain.SiteID, error) {
	const sql = `SELECT timezone, site_id FROM sites ORDER BY timezone, site_id`
	rows, err := r.q.Query(ctx, sql)
	if err != nil {
		return nil, perr.FromPostgres(err, "list timezones")
	}
	defer rows.Close()

	out := map[string][]domain.SiteID{}
	for rows.Next() {
		var tz string
		var id int64
		if err := rows.Scan(&tz, &id); err != nil {
			return nil, err
		}
		out[tz] = append(out[tz], domain.SiteID(id))
	}
	return out, rows.Err()
}

// SitesWithVisitsSince lists sites with at least one visit at or after since
func (r *queries) SitesWithVisitsSince(ctx context.Context, since time.Time) ([]domain.SiteID, error) {
	const sql = `
		SELECT v.site_id
		FROM site_visits v
		WHERE v.visited_at >= $1
		GROUP BY v.site_id
		ORDER BY MIN(v.visited_at), v.site_id
	`
	ids, err := store.Many(ctx, r.q, scanSiteID, sql, since)
	return ids, perr.FromPostgres(err, "list visited sites")
}

// Invalidated lists sites with pending invalidations, oldest first
func (r *queries) Invalidated(ctx context.Context) ([]domain.SiteID, error) {
	const sql = `SELECT site_id FROM archive_invalidations ORDER BY invalidated_at, site_id`
	ids, err := store.Many(ctx, r.q, scanSiteID, sql)
	return ids, perr.FromPostgres(err, "list invalidations")
}

// Clear drops a site's pending invalidation; clearing twice is a no-op
func (r *queries) Clear(ctx context.Context, site domain.SiteID) error {
	const sql = `DELETE FROM archive_invalidations WHERE site_id = $1`
	_, err := r.q.Exec(ctx, sql, int64(site))
	return perr.FromPostgres(err, "clear invalidation")
}

// Segments returns enabled global segments then the site's own, deduplicated
func (r *queries) Segments(ctx context.Context, site domain.SiteID) ([]string, error) {
	const sql = `
		SELECT definition
		FROM archive_segments
		WHERE enabled AND (site_id IS NULL OR site_id = $1)
		GROUP BY definition
		ORDER BY MIN(CASE WHEN site_id IS NULL THEN 0 ELSE 1 END), MIN(segment_id)
	`
	defs, err := store.Many(ctx, r.q, func(row store.Row) (string, error) {
		var s string
		err := row.Scan(&s)
		return s, err
	}, sql, int64(site))
	return defs, perr.FromPostgres(err, "list segments")
}
