package repo

import (
	"context"
	"time"

	perr "archiver/internal/platform/errors"
	"archiver/internal/platform/store"
	"archiver/internal/services/archiver/domain"
)

// DefaultVisitsTable is the ClickHouse table read by NewCHVisits.
// Expected shape: site_id Int64, visited_at DateTime64(3)
const DefaultVisitsTable = "site_visits"

type chVisits struct {
	ch    store.Clickhouse
	table string
}

// NewCHVisits answers visit questions from a ClickHouse visit log
func NewCHVisits(ch store.Clickhouse, table string) domain.VisitSource {
	if table == "" {
		table = DefaultVisitsTable
	}
	return &chVisits{ch: ch, table: table}
}

func (c *chVisits) SitesWithVisitsSince(ctx context.Context, since time.Time) ([]domain.SiteID, error) {
	sql := `
		SELECT site_id
		FROM ` + c.table + `
		WHERE visited_at >= ?
		GROUP BY site_id
		ORDER BY min(visited_at), site_id
	`
	rows, err := c.ch.Query(ctx, sql, since)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDB, "ch: list visited sites")
	}
	defer rows.Close()

	var out []domain.SiteID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, perr.Wrap(err, perr.ErrorCodeDB, "ch: scan site id")
		}
		out = append(out, domain.SiteID(id))
	}
	return out, rows.Err()
}
