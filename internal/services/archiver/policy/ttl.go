package policy

import (
	"math"
	"time"
)

// Default TTLs
const (
	DefaultTodayTTL   = 900 * time.Second
	MinimumPeriodsTTL = 3600 * time.Second
)

// Never is the elapsed time of something never archived
const Never = time.Duration(math.MaxInt64)

// TTL decides whether a site was archived too recently to redo
type TTL struct {
	Today   time.Duration
	Periods time.Duration
	// OverrideActive disables TTL enforcement for the run
	OverrideActive bool
}

// NewTTL applies defaults: today falls back to DefaultTodayTTL, periods to
// max(MinimumPeriodsTTL, today), and periods is never below today
func NewTTL(today, periods time.Duration, override bool) TTL {
	if today <= 0 {
		today = DefaultTodayTTL
	}
	if periods <= 0 {
		periods = max(MinimumPeriodsTTL, today)
	}
	if periods < today {
		periods = today
	}
	return TTL{Today: today, Periods: periods, OverrideActive: override}
}

// Elapsed is now minus last, or Never when ok is false
func Elapsed(last time.Time, ok bool, now time.Time) time.Duration {
	if !ok || last.IsZero() {
		return Never
	}
	return now.Sub(last)
}

// SkipDay reports whether the day job may be skipped
func (t TTL) SkipDay(elapsed time.Duration, invalidated bool) bool {
	return !t.OverrideActive && !invalidated && elapsed < t.Today
}

// PeriodsStale reports whether periods need archiving on TTL or invalidation grounds
func (t TTL) PeriodsStale(elapsed time.Duration, invalidated bool) bool {
	return t.OverrideActive || invalidated || elapsed >= t.Periods
}

// PeriodsRequired additionally honours the force-all flag
func (t TTL) PeriodsRequired(elapsed time.Duration, invalidated, forceAll bool) bool {
	return forceAll || t.PeriodsStale(elapsed, invalidated)
}
