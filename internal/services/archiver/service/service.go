// Package service contains the archiver workflows: seeding day jobs,
// producing period and segment jobs, and the per-site completion state
// machine driven by consumer results
package service

import (
	"context"
	"sync"
	"time"

	perr "archiver/internal/platform/errors"
	"archiver/internal/platform/logger"
	"archiver/internal/services/archiver/domain"
	"archiver/internal/services/archiver/policy"
)

// Service defines the archiver service contract
type Service interface {
	domain.RunnerPort
	domain.StatusPort
}

// Backends are the ports the service drives
type Backends struct {
	Queue         domain.JobQueue
	Counters      domain.Counters
	Progress      domain.ProgressStore
	Sites         domain.SiteRepo
	Visits        domain.VisitSource
	Invalidations domain.InvalidationStore
	Segments      domain.SegmentSource
	Consumer      domain.Consumer
}

// Config carries the run policy
type Config struct {
	TTL   policy.TTL
	Dates policy.DateRange

	// Periods are the enabled period granularities, in production order
	Periods    []domain.Granularity
	DisableDay bool

	// ForceAll selects every site and archives periods regardless of TTL
	ForceAll bool
	// ForceSince, when set, is the visit window and disables TTLs
	ForceSince time.Duration
	// DefaultWindow is the visit window on the first run
	DefaultWindow time.Duration

	Include []domain.SiteID
	Skip    []domain.SiteID
	Filter  domain.SiteFilter
}

// Svc implements the archiver service
type Svc struct {
	b   Backends
	cfg Config
	log logger.Logger
	now func() time.Time

	skip map[domain.SiteID]struct{}

	sitesMu sync.Mutex
	sites   map[domain.SiteID]domain.Site

	curMu   sync.Mutex
	current *domain.RunState
}

var _ Service = (*Svc)(nil)

// New constructs the archiver service
func New(b Backends, cfg Config, log logger.Logger) *Svc {
	if b.Queue == nil || b.Counters == nil || b.Progress == nil || b.Consumer == nil {
		panic("archiver.Service requires a queue, counters, a progress store and a consumer")
	}
	if cfg.Periods == nil {
		cfg.Periods = domain.PeriodGranularities
	}
	cfg.Periods = uniquePeriods(cfg.Periods)
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = 24 * time.Hour
	}
	if cfg.TTL == (policy.TTL{}) {
		cfg.TTL = policy.NewTTL(0, 0, false)
	}
	if cfg.ForceSince > 0 {
		cfg.TTL.OverrideActive = true
	}
	skip := make(map[domain.SiteID]struct{}, len(cfg.Skip))
	for _, id := range cfg.Skip {
		skip[id] = struct{}{}
	}
	return &Svc{
		b:     b,
		cfg:   cfg,
		log:   log.With().Str("component", "archiver").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
		skip:  skip,
		sites: map[domain.SiteID]domain.Site{},
	}
}

// uniquePeriods keeps the first occurrence of each period. Two jobs with one
// canonical query share a resolved marker, so a repeat would never drain
func uniquePeriods(in []domain.Granularity) []domain.Granularity {
	out := make([]domain.Granularity, 0, len(in))
	seen := make(map[domain.Granularity]struct{}, len(in))
	for _, g := range in {
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

func (s *Svc) lg(ctx context.Context) *logger.Logger {
	l := s.log
	if id := logger.RunID(ctx); id != "" {
		l = l.With().Str("run_id", id).Logger()
	}
	return &l
}

// site loads reference data once per process; a site unknown to the
// repo is treated as created at the zero time
func (s *Svc) site(ctx context.Context, id domain.SiteID) (domain.Site, error) {
	s.sitesMu.Lock()
	cached, ok := s.sites[id]
	s.sitesMu.Unlock()
	if ok {
		return cached, nil
	}
	if s.b.Sites == nil {
		return domain.Site{ID: id}, nil
	}
	site, err := s.b.Sites.Site(ctx, id)
	if perr.IsCode(err, perr.ErrorCodeNotFound) {
		return domain.Site{ID: id}, nil
	}
	if err != nil {
		return domain.Site{}, err
	}
	s.sitesMu.Lock()
	s.sites[id] = site
	s.sitesMu.Unlock()
	return site, nil
}

// Current returns a snapshot of the running or last run
func (s *Svc) Current() (domain.RunSnapshot, bool) {
	s.curMu.Lock()
	st := s.current
	s.curMu.Unlock()
	if st == nil {
		return domain.RunSnapshot{}, false
	}
	return st.Snapshot(), true
}

func (s *Svc) setCurrent(st *domain.RunState) {
	s.curMu.Lock()
	s.current = st
	s.curMu.Unlock()
}
