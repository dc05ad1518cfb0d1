package policy

import (
	"strconv"
	"time"

	perr "archiver/internal/platform/errors"
	"archiver/internal/platform/validate"
	"archiver/internal/services/archiver/domain"
)

// MinLast is the smallest window ever produced by the last-N computation
const MinLast = 2

// Cap is the largest N for a granularity
func Cap(g domain.Granularity) int {
	switch g {
	case domain.Week:
		return 260
	case domain.Year:
		return 7
	default:
		return 52
	}
}

// ParseForcedRange validates "YYYY-MM-DD,YYYY-MM-DD"; empty is allowed
func ParseForcedRange(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	if _, _, ok := validate.ParseDateRange(s); !ok {
		return "", perr.WithField(perr.Configurationf("invalid forced date range %q, want YYYY-MM-DD,YYYY-MM-DD", s), "force_date_range")
	}
	return s, nil
}

// DateRange computes the date expression carried by a job
type DateRange struct {
	// Forced is used verbatim for every job when set
	Forced string
	// LastForced replaces the computed N when positive
	LastForced int
}

// NewDateRange validates the forced range
func NewDateRange(forced string, lastForced int) (DateRange, error) {
	f, err := ParseForcedRange(forced)
	if err != nil {
		return DateRange{}, err
	}
	return DateRange{Forced: f, LastForced: lastForced}, nil
}

// Expr returns the forced range, last<LastForced>, or last<N> where
// N = floor(elapsed/86400)+2 clamped to [MinLast, Cap(g)]. elapsed runs
// from lastProcessed, or from siteCreated when never processed
func (d DateRange) Expr(g domain.Granularity, lastProcessed, siteCreated, now time.Time) string {
	if d.Forced != "" {
		return d.Forced
	}
	if d.LastForced > 0 {
		return "last" + strconv.Itoa(d.LastForced)
	}
	return "last" + strconv.Itoa(LastN(g, lastProcessed, siteCreated, now))
}

// LastN is the bounded window length for g
func LastN(g domain.Granularity, lastProcessed, siteCreated, now time.Time) int {
	from := lastProcessed
	if from.IsZero() {
		from = siteCreated
	}
	limit := Cap(g)
	if from.IsZero() {
		return limit
	}
	days := int64(now.Sub(from) / (24 * time.Hour))
	if days < 0 {
		days = 0
	}
	if days > int64(limit) {
		return limit
	}
	return max(MinLast, min(int(days)+2, limit))
}
