package service

import (
	"context"
	"fmt"

	"archiver/internal/platform/metrics"
	"archiver/internal/services/archiver/domain"
	"archiver/internal/services/archiver/policy"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Complete handles one delivered result. Results whose key names no site,
// period or date are ignored, as are redeliveries of an already resolved
// job. The site's active counter is decremented on every first resolution,
// valid or not, after any production the result triggered
func (s *Svc) Complete(ctx context.Context, st *domain.RunState, r domain.Result) error {
	job, ok := domain.ParseJob(r.Key)
	if !ok {
		s.lg(ctx).Debug().Str("key", r.Key).Msg("unattributable result ignored")
		return nil
	}
	first, err := s.b.Counters.MarkResolved(ctx, job.Key())
	if err != nil {
		return err
	}
	if !first {
		metrics.ObserveJob(string(job.Granularity), "duplicate")
		s.lg(ctx).Debug().Str("key", r.Key).Msg("duplicate result ignored")
		return nil
	}
	st.Resolved()

	visits, bad := domain.ParseVisits(r.Body)
	if r.Err != nil {
		bad = r.Err
	}

	var outcome string
	if job.IsDay() {
		outcome, err = s.completeDay(ctx, st, job, visits, bad)
	} else {
		outcome, err = s.completePeriod(ctx, st, job, bad)
	}
	metrics.ObserveJob(string(job.Granularity), outcome)

	ev := s.lg(ctx).Info()
	if bad != nil {
		ev = s.lg(ctx).Error().Err(bad)
	}
	ev.Int64("site", int64(job.Site)).
		Str("period", string(job.Granularity)).
		Str("date", job.Date).
		Str("segment", job.Segment).
		Int64("visits_today", visits.Today).
		Int64("visits_window", visits.Window).
		Str("outcome", outcome).
		Msg("job resolved")

	if rerr := s.release(ctx, job.Site); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

func (s *Svc) completeDay(ctx context.Context, st *domain.RunState, job domain.Job, v domain.Visits, bad error) (string, error) {
	if bad != nil {
		st.Fail(fmt.Sprintf("site %d day %s: %v", job.Site, job.Date, bad))
		s.skipSite(ctx, st, job.Site, domain.SkipInvalidResponse)
		return "invalid", nil
	}

	forced, err := s.b.Counters.Site(domain.KindForced, job.Site).Get(ctx)
	if err != nil {
		return "error", err
	}
	invalidated := forced > 0
	last, ok, err := s.b.Progress.Get(ctx, domain.ProgressKey(domain.ClassPeriods, job.Site))
	if err != nil {
		return "error", err
	}
	elapsed := policy.Elapsed(last, ok, s.now())
	stale := s.cfg.TTL.PeriodsStale(elapsed, invalidated)
	required := s.cfg.TTL.PeriodsRequired(elapsed, invalidated, s.cfg.ForceAll)
	explicit := invalidated || s.cfg.ForceAll || s.cfg.TTL.OverrideActive

	switch {
	case v.Today == 0 && v.Window == 0 && !explicit:
		s.skipSite(ctx, st, job.Site, domain.SkipNoVisitsToday)
		return "skipped", nil
	case v.Today == 0 && !required:
		s.skipSite(ctx, st, job.Site, domain.SkipNoVisitsToday)
		return "skipped", nil
	case v.Window == 0 && s.cfg.ForceAll && !stale:
		s.skipSite(ctx, st, job.Site, domain.SkipNoVisitsWindow)
		return "skipped", nil
	case !required:
		s.skipSite(ctx, st, job.Site, domain.SkipPeriodsFresh)
		return "skipped", nil
	}

	if err := s.b.Progress.Set(ctx, domain.ProgressKey(domain.ClassDay, job.Site), s.now()); err != nil {
		return "error", err
	}
	st.RecordDayArchived(v.Today)
	if err := s.ProducePeriods(ctx, st, job.Site, job.Date, invalidated || s.cfg.ForceAll); err != nil {
		return "error", err
	}
	return "ok", nil
}

// completePeriod handles period jobs and every segment job. failedRequests
// counts the site's unresolved siblings, so it is decremented for invalid
// responses too; the periodErrors counter keeps such a site from being
// recorded as archived
func (s *Svc) completePeriod(ctx context.Context, st *domain.RunState, job domain.Job, bad error) (string, error) {
	outcome := "ok"
	if bad != nil {
		outcome = "invalid"
		st.Fail(fmt.Sprintf("site %d %s %s %s: %v", job.Site, job.Granularity, job.Date, job.Segment, bad))
		if _, err := s.b.Counters.Site(domain.KindPeriodErrors, job.Site).Increment(ctx); err != nil {
			return "error", err
		}
	}
	left, err := s.b.Counters.Site(domain.KindFailed, job.Site).Decrement(ctx)
	if err != nil {
		return "error", err
	}
	if left == 0 {
		if err := s.periodsDrained(ctx, st, job.Site); err != nil {
			return "error", err
		}
	}
	return outcome, nil
}

func (s *Svc) periodsDrained(ctx context.Context, st *domain.RunState, id domain.SiteID) error {
	errs, err := s.b.Counters.Site(domain.KindPeriodErrors, id).Get(ctx)
	if err != nil {
		return err
	}
	if errs > 0 {
		s.lg(ctx).Warn().Int64("site", int64(id)).Int64("failed", errs).Msg("periods not recorded, some jobs failed")
		return nil
	}
	if err := s.b.Progress.Set(ctx, domain.ProgressKey(domain.ClassPeriods, id), s.now()); err != nil {
		return err
	}
	st.RecordPeriodsArchived()
	return nil
}

// release resolves one job of the site; reaching zero counts the site as
// processed, exactly once
func (s *Svc) release(ctx context.Context, id domain.SiteID) error {
	left, err := s.b.Counters.Site(domain.KindActive, id).Decrement(ctx)
	if err != nil {
		return err
	}
	switch {
	case left < 0:
		s.lg(ctx).Warn().Int64("site", int64(id)).Int64("active", left).Msg("active counter below zero")
	case left == 0:
		done, err := s.b.Counters.Global(domain.KindProcessed).Increment(ctx)
		if err != nil {
			return err
		}
		total, err := s.b.Counters.Global(domain.KindSitesTotal).Get(ctx)
		if err != nil {
			return err
		}
		metrics.ObserveSiteProcessed()
		s.lg(ctx).Info().Int64("site", int64(id)).Int64("processed", done).Int64("total", total).
			Msg(printer.Sprintf("processed %d / %d sites", done, total))
	}
	return nil
}
