package repo

import (
	"context"

	"archiver/internal/modkit/repokit"
	perr "archiver/internal/platform/errors"
	"archiver/internal/platform/store"
	"archiver/internal/services/archiver/domain"
)

// DefaultNamespace scopes counters shared by one fleet of archivers
const DefaultNamespace = "archiver"

func counterName(kind domain.CounterKind, site domain.SiteID) string {
	return string(kind) + ":" + site.String()
}

type pgCounters struct {
	q  repokit.TxRunner
	ns string
}

// NewPGCounters returns Postgres-backed counters in namespace ns
func NewPGCounters(q repokit.TxRunner, ns string) domain.Counters {
	if ns == "" {
		ns = DefaultNamespace
	}
	return &pgCounters{q: q, ns: ns}
}

func (c *pgCounters) Site(kind domain.CounterKind, site domain.SiteID) domain.Counter {
	return &pgCounter{c: c, name: counterName(kind, site)}
}

func (c *pgCounters) Global(kind domain.CounterKind) domain.Counter {
	return &pgCounter{c: c, name: string(kind)}
}

func (c *pgCounters) Reset(ctx context.Context) error {
	return repokit.WithTx(ctx, c.q, func(q repokit.Queryer) error {
		if _, err := q.Exec(ctx, `DELETE FROM archive_counters WHERE namespace = $1`, c.ns); err != nil {
			return perr.FromPostgres(err, "reset counters")
		}
		_, err := q.Exec(ctx, `DELETE FROM archive_resolved WHERE namespace = $1`, c.ns)
		return perr.FromPostgres(err, "reset resolved markers")
	})
}

func (c *pgCounters) MarkResolved(ctx context.Context, key string) (bool, error) {
	const sql = `
		INSERT INTO archive_resolved (namespace, job_key)
		VALUES ($1, $2)
		ON CONFLICT (namespace, job_key) DO NOTHING
	`
	t, err := c.q.Exec(ctx, sql, c.ns, key)
	if err != nil {
		return false, perr.FromPostgres(err, "mark resolved")
	}
	return t.RowsAffected() == 1, nil
}

type pgCounter struct {
	c    *pgCounters
	name string
}

func (p *pgCounter) Increment(ctx context.Context) (int64, error) { return p.Add(ctx, 1) }
func (p *pgCounter) Decrement(ctx context.Context) (int64, error) { return p.Add(ctx, -1) }

// Add applies n atomically and returns the new value
func (p *pgCounter) Add(ctx context.Context, n int64) (int64, error) {
	const sql = `
		INSERT INTO archive_counters (namespace, name, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (namespace, name) DO UPDATE
		SET value = archive_counters.value + excluded.value
		RETURNING value
	`
	v, err := store.Scalar[int64](ctx, p.c.q, sql, p.c.ns, p.name, n)
	return v, perr.FromPostgres(err, "update counter")
}

func (p *pgCounter) Get(ctx context.Context) (int64, error) {
	const sql = `
		SELECT COALESCE(
			(SELECT value FROM archive_counters WHERE namespace = $1 AND name = $2),
			0
		)
	`
	v, err := store.Scalar[int64](ctx, p.c.q, sql, p.c.ns, p.name)
	return v, perr.FromPostgres(err, "read counter")
}

func (p *pgCounter) IsEqual(ctx context.Context, n int64) (bool, error) {
	v, err := p.Get(ctx)
	return err == nil && v == n, err
}
