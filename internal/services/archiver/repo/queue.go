package repo

import (
	"context"
	"sort"
	"strconv"
	"time"

	"archiver/internal/modkit/repokit"
	perr "archiver/internal/platform/errors"
	"archiver/internal/platform/store"
	"archiver/internal/services/archiver/domain"

	"github.com/google/uuid"
)

type pgQueue struct {
	q     repokit.Queryer
	owner string
}

// NewPGQueue returns the Postgres job queue. Leases are taken with
// FOR UPDATE SKIP LOCKED so many consumers can share it
func NewPGQueue(q repokit.Queryer) domain.JobQueue {
	return &pgQueue{q: q, owner: uuid.NewString()}
}

func (p *pgQueue) Enqueue(ctx context.Context, j domain.Job) error {
	const sql = `INSERT INTO archive_jobs (payload) VALUES ($1)`
	_, err := p.q.Exec(ctx, sql, j.Query())
	return perr.FromPostgres(err, "enqueue job")
}

func (p *pgQueue) Peek(ctx context.Context) (int64, error) {
	n, err := store.Scalar[int64](ctx, p.q, `SELECT COUNT(*) FROM archive_jobs`)
	return n, perr.FromPostgres(err, "peek queue")
}

// Lease hands out up to n jobs in FIFO order, including jobs whose
// previous lease expired
func (p *pgQueue) Lease(ctx context.Context, n int, leaseFor time.Duration) ([]domain.Leased, error) {
	const sql = `
		WITH cte AS (
			SELECT job_id
			FROM archive_jobs
			WHERE leased_until IS NULL OR leased_until <= NOW()
			ORDER BY job_id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE archive_jobs j
		SET leased_until = NOW() + make_interval(secs => $2),
		    lease_owner = $3,
		    attempts = j.attempts + 1
		FROM cte
		WHERE j.job_id = cte.job_id
		RETURNING j.job_id, j.payload, j.attempts
	`
	rows, err := p.q.Query(ctx, sql, n, leaseFor.Seconds(), p.owner)
	if err != nil {
		return nil, perr.FromPostgres(err, "lease jobs")
	}
	defer rows.Close()

	type leasedRow struct {
		id int64
		l  domain.Leased
	}
	var got []leasedRow
	for rows.Next() {
		var (
			r        leasedRow
			attempts int32
		)
		if err := rows.Scan(&r.id, &r.l.Query, &attempts); err != nil {
			return nil, err
		}
		r.l.ID = strconv.FormatInt(r.id, 10)
		r.l.Attempts = int(attempts)
		got = append(got, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// UPDATE ... RETURNING has no defined order
	sort.Slice(got, func(i, j int) bool { return got[i].id < got[j].id })
	out := make([]domain.Leased, len(got))
	for i, r := range got {
		out[i] = r.l
	}
	return out, nil
}

// Ack removes a job after its result was handled
func (p *pgQueue) Ack(ctx context.Context, l domain.Leased) error {
	id, err := strconv.ParseInt(l.ID, 10, 64)
	if err != nil {
		return perr.InvalidArgf("bad job id %q", l.ID)
	}
	const sql = `DELETE FROM archive_jobs WHERE job_id = $1`
	_, err = p.q.Exec(ctx, sql, id)
	return perr.FromPostgres(err, "ack job")
}
