package service

import (
	"context"
	"fmt"

	perr "archiver/internal/platform/errors"
	"archiver/internal/platform/logger"
	"archiver/internal/platform/metrics"
	"archiver/internal/services/archiver/domain"
	"archiver/internal/services/archiver/policy"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Run executes one orchestrator run. A non-empty queue makes it a
// continuation: selection and seeding are skipped and the leftover queue
// is drained. Otherwise the counter namespace is reset and day jobs are
// seeded. Errors recorded along the way come back as one ErrorCodeRun
// error; the snapshot carries the individual messages
func (s *Svc) Run(ctx context.Context, opt domain.RunOptions) (domain.RunSnapshot, error) {
	runID := uuid.NewString()
	ctx = logger.WithRun(ctx, runID)
	st := domain.NewRunState(runID, s.now())
	s.setCurrent(st)
	log := s.lg(ctx)

	depth, err := s.b.Queue.Peek(ctx)
	if err != nil {
		metrics.ObserveRun("unknown", "failed")
		return st.Snapshot(), err
	}
	metrics.SetQueueDepth(depth)

	kind := "fresh"
	if depth > 0 || !opt.Seed {
		kind = "continuation"
		st.MarkContinuation()
		log.Info().Int64("queued", depth).Msg("continuing previous run, seeding skipped")
	} else if err := s.seed(ctx, st); err != nil {
		st.Finish(s.now())
		metrics.ObserveRun(kind, "failed")
		return st.Snapshot(), err
	}

	drainErr := s.drain(ctx, st, opt.FinishWhenNoJobs)
	st.Finish(s.now())
	if drainErr == nil && !st.Continuation() {
		if err := s.b.Progress.Set(ctx, domain.LastRunArchiveKey, st.StartedAt()); err != nil {
			st.Fail(fmt.Sprintf("record last run: %v", err))
		}
	}

	snap := st.Snapshot()
	s.logSummary(ctx, snap)
	switch {
	case drainErr != nil:
		metrics.ObserveRun(kind, "failed")
		return snap, drainErr
	case len(snap.Errors) > 0:
		metrics.ObserveRun(kind, "errors")
		metrics.ObserveRunError()
		return snap, perr.Newf(perr.ErrorCodeRun, "%d error(s) during run %s", len(snap.Errors), runID)
	}
	metrics.ObserveRun(kind, "ok")
	return snap, nil
}

// seed resets the shared namespace, selects sites and issues day jobs
func (s *Svc) seed(ctx context.Context, st *domain.RunState) error {
	if err := s.b.Counters.Reset(ctx); err != nil {
		return err
	}
	var invalidated []domain.SiteID
	if s.b.Invalidations != nil {
		var err error
		if invalidated, err = s.b.Invalidations.Invalidated(ctx); err != nil {
			return err
		}
	}
	st.Invalidated = domain.NewInvalidationSet(invalidated)

	ids, err := s.selectSites(ctx, invalidated)
	if err != nil {
		return err
	}
	st.SetSelected(len(ids))
	s.lg(ctx).Info().Int("sites", len(ids)).Int("invalidated", len(invalidated)).Msg("sites selected")

	for _, id := range ids {
		if err := s.SeedSite(ctx, st, id); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			st.Fail(fmt.Sprintf("seed site %d: %v", id, err))
			s.lg(ctx).Error().Err(err).Int64("site", int64(id)).Msg("seeding failed")
		}
	}
	return nil
}

func (s *Svc) selectSites(ctx context.Context, invalidated []domain.SiteID) ([]domain.SiteID, error) {
	if s.b.Sites == nil {
		return nil, perr.Configurationf("no site repository configured")
	}
	universe, err := s.b.Sites.AllSiteIDs(ctx)
	if err != nil {
		return nil, err
	}
	in := policy.SelectionInput{
		Include:     s.cfg.Include,
		AllSites:    s.cfg.ForceAll,
		Universe:    universe,
		Invalidated: invalidated,
		Filter:      s.cfg.Filter,
	}
	if len(in.Include) == 0 && !in.AllSites {
		now := s.now()
		lastRun, _, err := s.b.Progress.Get(ctx, domain.LastRunArchiveKey)
		if err != nil {
			return nil, err
		}
		window := policy.SinceWindow(lastRun, now, s.cfg.ForceSince, s.cfg.DefaultWindow)
		if s.b.Visits != nil {
			if in.Visited, err = s.b.Visits.SitesWithVisitsSince(ctx, now.Add(-window)); err != nil {
				return nil, err
			}
		}
		tzs, err := s.b.Sites.Timezones(ctx)
		if err != nil {
			return nil, err
		}
		in.RolledOver = policy.RolledOverTimezones(tzs, lastRun, now)
	}
	return policy.SelectSites(in), nil
}

// drain runs the consumer and a single processing loop until the consumer
// reports no more work. Every result is released after it was handled
func (s *Svc) drain(ctx context.Context, st *domain.RunState, finishWhenNoJobs bool) error {
	results := make(chan []domain.Result)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(results)
		return s.b.Consumer.Consume(gctx, finishWhenNoJobs, results)
	})
	g.Go(func() error {
		for batch := range results {
			for _, r := range batch {
				if err := s.Complete(gctx, st, r); err != nil {
					st.Fail(fmt.Sprintf("complete %s: %v", r.Key, err))
					s.lg(gctx).Error().Err(err).Str("key", r.Key).Msg("completion failed")
				}
				if r.Release != nil {
					r.Release()
				}
			}
		}
		return nil
	})
	return g.Wait()
}
