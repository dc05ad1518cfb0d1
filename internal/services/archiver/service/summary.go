package service

import (
	"context"
	"sort"
	"time"

	"archiver/internal/services/archiver/domain"
)

// SummaryLines renders the end-of-run report
func SummaryLines(s domain.RunSnapshot, now time.Time) []string {
	lines := []string{
		printer.Sprintf("run %s finished in %s", s.RunID, s.Elapsed(now).Round(time.Millisecond)),
		printer.Sprintf("total visits for today across archived sites: %d", s.VisitsToday),
		printer.Sprintf("archived today reports for %d sites", s.SitesArchived),
		printer.Sprintf("archived week/month/year for %d sites", s.PeriodsArchived),
		printer.Sprintf("skipped %d sites", s.SkippedTotal),
		printer.Sprintf("jobs enqueued %d, resolved %d", s.JobsEnqueued, s.JobsResolved),
	}
	if s.Continuation {
		lines = append(lines, "continuation of an earlier run; seeding was skipped")
	}
	reasons := make([]string, 0, len(s.Skipped))
	for r := range s.Skipped {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		lines = append(lines, printer.Sprintf("  %s: %d", r, s.Skipped[r]))
	}
	if n := len(s.Errors); n > 0 {
		lines = append(lines, printer.Sprintf("%d error(s) recorded", n))
	}
	return lines
}

func (s *Svc) logSummary(ctx context.Context, snap domain.RunSnapshot) {
	log := s.lg(ctx)
	for _, line := range SummaryLines(snap, s.now()) {
		log.Info().Msg(line)
	}
	for _, e := range snap.Errors {
		log.Error().Msg(e)
	}
}
