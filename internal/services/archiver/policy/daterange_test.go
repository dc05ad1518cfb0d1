package policy

import (
	"testing"
	"time"

	perr "archiver/internal/platform/errors"
	"archiver/internal/services/archiver/domain"
)

func TestForcedRangeVerbatim(t *testing.T) {
	d, err := NewDateRange("2012-01-01,2012-03-15", 0)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	now := time.Now()
	for _, g := range []domain.Granularity{domain.Day, domain.Week, domain.Month, domain.Year} {
		if got := d.Expr(g, now.Add(-time.Hour), now.AddDate(-3, 0, 0), now); got != "2012-01-01,2012-03-15" {
			t.Fatalf("%s: got %s", g, got)
		}
		if got := d.Expr(g, time.Time{}, time.Time{}, now); got != "2012-01-01,2012-03-15" {
			t.Fatalf("%s never processed: got %s", g, got)
		}
	}
}

func TestForcedRangeMalformed(t *testing.T) {
	for _, s := range []string{"2012-01-01", "2012-13-01,2012-12-31", "2012-03-15,2012-01-01", "yesterday,today"} {
		_, err := NewDateRange(s, 0)
		if !perr.IsCode(err, perr.ErrorCodeConfiguration) {
			t.Fatalf("%q: want configuration error, got %v", s, err)
		}
	}
}

func TestLastNComputation(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	d := DateRange{}
	cases := []struct {
		g    domain.Granularity
		last time.Time
		want string
	}{
		{domain.Day, now.Add(-time.Hour), "last2"},
		{domain.Day, now.Add(-36 * time.Hour), "last3"},
		{domain.Week, now.AddDate(0, 0, -10), "last12"},
		{domain.Day, now.AddDate(-1, 0, 0), "last52"},
		{domain.Month, now.AddDate(-1, 0, 0), "last52"},
		{domain.Week, now.AddDate(-1, 0, 0), "last260"},
		{domain.Year, now.AddDate(0, 0, -3), "last5"},
		{domain.Year, now.AddDate(0, 0, -30), "last7"},
		{domain.Day, now.Add(time.Hour), "last2"},
	}
	for _, tc := range cases {
		if got := d.Expr(tc.g, tc.last, time.Time{}, now); got != tc.want {
			t.Fatalf("%s %v: got %s want %s", tc.g, now.Sub(tc.last), got, tc.want)
		}
	}
}

func TestLastNFallsBackToCreation(t *testing.T) {
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	created := now.AddDate(0, 0, -4)
	if got := (DateRange{}).Expr(domain.Day, time.Time{}, created, now); got != "last6" {
		t.Fatalf("got %s", got)
	}
	if got := (DateRange{}).Expr(domain.Week, time.Time{}, time.Time{}, now); got != "last260" {
		t.Fatalf("no reference time: got %s", got)
	}
}

func TestLastNBounds(t *testing.T) {
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	for _, g := range []domain.Granularity{domain.Week, domain.Month, domain.Year} {
		for h := 0; h < 24*400; h += 7 {
			n := LastN(g, now.Add(-time.Duration(h)*time.Hour), time.Time{}, now)
			if n < MinLast || n > Cap(g) {
				t.Fatalf("%s h=%d: n=%d out of [2,%d]", g, h, n, Cap(g))
			}
		}
	}
}

func TestLastForcedOverride(t *testing.T) {
	d := DateRange{LastForced: 90}
	if got := d.Expr(domain.Year, time.Now(), time.Time{}, time.Now()); got != "last90" {
		t.Fatalf("got %s", got)
	}
}
