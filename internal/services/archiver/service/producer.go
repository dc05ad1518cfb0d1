package service

import (
	"context"
	"time"

	"archiver/internal/platform/metrics"
	"archiver/internal/services/archiver/domain"
	"archiver/internal/services/archiver/policy"
)

// SeedSite issues the day job for one selected site. Excluded and invalid
// ids are counted as skipped. A pending invalidation is consumed here and
// recorded in the site's forced counter so every process sees it
func (s *Svc) SeedSite(ctx context.Context, st *domain.RunState, id domain.SiteID) error {
	if _, skipped := s.skip[id]; skipped || id <= 0 {
		s.skipSite(ctx, st, id, domain.SkipExcluded)
		return nil
	}

	invalidated := false
	if st.Invalidated.Take(id) {
		if s.b.Invalidations != nil {
			if err := s.b.Invalidations.Clear(ctx, id); err != nil {
				return err
			}
		}
		if _, err := s.b.Counters.Site(domain.KindForced, id).Increment(ctx); err != nil {
			return err
		}
		invalidated = true
	}
	fullScan := invalidated || s.cfg.ForceAll
	now := s.now()

	last, ok, err := s.b.Progress.Get(ctx, domain.ProgressKey(domain.ClassDay, id))
	if err != nil {
		return err
	}
	if !s.cfg.DisableDay && s.cfg.TTL.SkipDay(policy.Elapsed(last, ok, now), invalidated) {
		s.skipSite(ctx, st, id, domain.SkipDayTTL)
		return nil
	}

	site, err := s.site(ctx, id)
	if err != nil {
		return err
	}
	since := last
	if fullScan || !ok {
		since = time.Time{}
	}
	day := domain.Job{Site: id, Granularity: domain.Day, Date: s.cfg.Dates.Expr(domain.Day, since, site.CreatedAt, now)}

	// hold: failedRequests stays above zero until period production is done
	if _, err := s.b.Counters.Site(domain.KindFailed, id).Increment(ctx); err != nil {
		return err
	}
	if s.cfg.DisableDay {
		return s.producePeriods(ctx, st, id, day.Date, fullScan, true)
	}
	if err := s.countDispatched(ctx); err != nil {
		return err
	}
	if _, err := s.b.Counters.Site(domain.KindActive, id).Increment(ctx); err != nil {
		return err
	}
	if err := s.enqueue(ctx, day); err != nil {
		return err
	}
	st.AddJobs(1)
	s.lg(ctx).Debug().Int64("site", int64(id)).Str("date", day.Date).Bool("full_scan", fullScan).Msg("day job enqueued")
	return nil
}

// ProducePeriods enqueues one job per enabled period, then per segment one
// day job and one job per period. Both counters are raised by the full
// count before the first enqueue and the hold set by SeedSite is released
// after the last, so neither reaches zero while siblings are unqueued
func (s *Svc) ProducePeriods(ctx context.Context, st *domain.RunState, id domain.SiteID, dayDate string, fullScan bool) error {
	return s.producePeriods(ctx, st, id, dayDate, fullScan, false)
}

// producePeriods with seeding set also counts the site towards the run
// total, but only when at least one job is produced
func (s *Svc) producePeriods(ctx context.Context, st *domain.RunState, id domain.SiteID, dayDate string, fullScan, seeding bool) error {
	now := s.now()
	site, err := s.site(ctx, id)
	if err != nil {
		return err
	}
	last, ok, err := s.b.Progress.Get(ctx, domain.ProgressKey(domain.ClassPeriods, id))
	if err != nil {
		return err
	}
	since := last
	if fullScan || !ok {
		since = time.Time{}
	}
	var segments []string
	if s.b.Segments != nil {
		if segments, err = s.b.Segments.Segments(ctx, id); err != nil {
			return err
		}
	}

	primaries := make([]domain.Job, 0, len(s.cfg.Periods))
	for _, g := range s.cfg.Periods {
		primaries = append(primaries, domain.Job{Site: id, Granularity: g, Date: s.cfg.Dates.Expr(g, since, site.CreatedAt, now)})
	}
	jobs := append([]domain.Job(nil), primaries...)
	for _, seg := range segments {
		jobs = append(jobs, domain.Job{Site: id, Granularity: domain.Day, Date: dayDate, Segment: seg})
		for _, p := range primaries {
			jobs = append(jobs, p.WithSegment(seg))
		}
	}

	failed := s.b.Counters.Site(domain.KindFailed, id)
	if n := int64(len(jobs)); n > 0 {
		if seeding {
			if err := s.countDispatched(ctx); err != nil {
				return err
			}
		}
		if _, err := failed.Add(ctx, n); err != nil {
			return err
		}
		if _, err := s.b.Counters.Site(domain.KindActive, id).Add(ctx, n); err != nil {
			return err
		}
	}
	for _, j := range jobs {
		if err := s.enqueue(ctx, j); err != nil {
			return err
		}
	}
	st.AddJobs(len(jobs))

	left, err := failed.Decrement(ctx)
	if err != nil {
		return err
	}
	s.lg(ctx).Debug().Int64("site", int64(id)).Int("jobs", len(jobs)).Int("segments", len(segments)).Msg("period jobs enqueued")
	if left == 0 && len(jobs) > 0 {
		// every sibling resolved before the hold was released
		return s.periodsDrained(ctx, st, id)
	}
	return nil
}

// countDispatched adds one site to the total reported by the progress line.
// Sites skipped at seeding never drain, so they are left out
func (s *Svc) countDispatched(ctx context.Context) error {
	_, err := s.b.Counters.Global(domain.KindSitesTotal).Increment(ctx)
	return err
}

func (s *Svc) enqueue(ctx context.Context, j domain.Job) error {
	if err := s.b.Queue.Enqueue(ctx, j); err != nil {
		return err
	}
	metrics.ObserveEnqueue(string(j.Granularity))
	return nil
}

func (s *Svc) skipSite(ctx context.Context, st *domain.RunState, id domain.SiteID, reason domain.SkipReason) {
	st.Skip(reason)
	metrics.ObserveSkip(string(reason))
	s.lg(ctx).Info().Int64("site", int64(id)).Str("reason", string(reason)).Msg("site skipped")
}
