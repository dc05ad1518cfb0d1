// Package domain holds the archiver's types and ports
package domain

import (
	"strconv"
	"time"
)

// SiteID identifies a tracked site; valid ids are positive
type SiteID int64

// String renders the id in decimal
func (id SiteID) String() string { return strconv.FormatInt(int64(id), 10) }

// Site is read-only reference data owned by the sites store
type Site struct {
	ID        SiteID
	CreatedAt time.Time
	Timezone  string
}

// Granularity is a report time bucket
type Granularity string

// Supported granularities
const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
	Year  Granularity = "year"
)

// PeriodGranularities are the granularities archived after a successful day
var PeriodGranularities = []Granularity{Week, Month, Year}

// ParseGranularity accepts day, week, month or year
func ParseGranularity(s string) (Granularity, bool) {
	switch g := Granularity(s); g {
	case Day, Week, Month, Year:
		return g, true
	}
	return "", false
}

// GranularityClass groups granularities for progress tracking;
// week, month and year succeed or fail together as "periods"
type GranularityClass string

// Granularity classes
const (
	ClassDay     GranularityClass = "day"
	ClassPeriods GranularityClass = "periods"
)

// Class returns the progress class of g
func (g Granularity) Class() GranularityClass {
	if g == Day {
		return ClassDay
	}
	return ClassPeriods
}

// ProgressKey is the progress store key for a site and class, e.g. lastRunday_5
func ProgressKey(class GranularityClass, site SiteID) string {
	return "lastRun" + string(class) + "_" + site.String()
}

// LastRunArchiveKey stores the start time of the last fully drained fresh run
const LastRunArchiveKey = "lastRunArchive"

// CounterKind names a counter in the shared namespace
type CounterKind string

// Per-site and global counter kinds
const (
	// KindActive counts jobs dispatched for a site and not yet resolved
	KindActive CounterKind = "activeRequests"
	// KindFailed counts period and segment jobs still to resolve, plus a hold while producing
	KindFailed CounterKind = "failedRequests"
	// KindForced marks a site whose invalidation was consumed this run
	KindForced CounterKind = "forcedRun"
	// KindPeriodErrors counts invalid period or segment responses; periods
	// are only recorded as archived while it is zero
	KindPeriodErrors CounterKind = "periodErrors"

	// KindProcessed counts sites whose active counter drained to zero
	KindProcessed CounterKind = "processedSites"
	// KindSitesTotal is the number of sites that got jobs dispatched this run
	KindSitesTotal CounterKind = "sitesTotal"
)

// SiteFilter rewrites the candidate site list before jobs are produced
type SiteFilter func([]SiteID) []SiteID

// SkipReason explains why a site produced no further jobs
type SkipReason string

// Skip reasons
const (
	SkipExcluded        SkipReason = "excluded"
	SkipDayTTL          SkipReason = "day_ttl"
	SkipNoVisitsToday   SkipReason = "no_visits_today"
	SkipNoVisitsWindow  SkipReason = "no_visits_window"
	SkipPeriodsFresh    SkipReason = "periods_fresh"
	SkipInvalidResponse SkipReason = "invalid_response"
)

// RunOptions controls one orchestrator run
type RunOptions struct {
	// Seed selects sites and enqueues day jobs when the queue is empty
	Seed bool
	// FinishWhenNoJobs returns once the shared queue is drained; false runs until ctx ends
	FinishWhenNoJobs bool
}
