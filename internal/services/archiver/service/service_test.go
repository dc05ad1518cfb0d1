package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	perr "archiver/internal/platform/errors"
	"archiver/internal/services/archiver/consumer"
	"archiver/internal/services/archiver/domain"
	"archiver/internal/services/archiver/policy"
	"archiver/internal/services/archiver/repo"

	"github.com/rs/zerolog"
)

var testNow = time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

// scriptedTransport answers by job shape and records every query
type scriptedTransport struct {
	mu      sync.Mutex
	queries []string
	answer  func(domain.Job) (string, error)
}

func (s *scriptedTransport) Fetch(_ context.Context, q string) (string, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()
	j, _ := domain.ParseJob(q)
	return s.answer(j)
}

func (s *scriptedTransport) jobs() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Job, 0, len(s.queries))
	for _, q := range s.queries {
		j, _ := domain.ParseJob(q)
		out = append(out, j)
	}
	return out
}

// floorCounters records the lowest value any active counter ever held
type floorCounters struct {
	*repo.MemoryCounters
	mu  sync.Mutex
	min int64
}

type floorCounter struct {
	domain.Counter
	f *floorCounters
}

func (f *floorCounters) Site(kind domain.CounterKind, site domain.SiteID) domain.Counter {
	c := f.MemoryCounters.Site(kind, site)
	if kind != domain.KindActive {
		return c
	}
	return floorCounter{Counter: c, f: f}
}

func (c floorCounter) observe(v int64, err error) (int64, error) {
	c.f.mu.Lock()
	if v < c.f.min {
		c.f.min = v
	}
	c.f.mu.Unlock()
	return v, err
}

func (c floorCounter) Increment(ctx context.Context) (int64, error) {
	return c.observe(c.Counter.Increment(ctx))
}
func (c floorCounter) Decrement(ctx context.Context) (int64, error) {
	return c.observe(c.Counter.Decrement(ctx))
}
func (c floorCounter) Add(ctx context.Context, n int64) (int64, error) {
	return c.observe(c.Counter.Add(ctx, n))
}

type harness struct {
	svc       *Svc
	queue     *repo.MemoryQueue
	counters  *floorCounters
	progress  *repo.MemoryProgress
	sites     *repo.MemorySites
	transport *scriptedTransport
}

func dayAnswer(body string) func(domain.Job) (string, error) {
	return func(j domain.Job) (string, error) {
		if j.IsDay() {
			return body, nil
		}
		return `{"nb_visits": 3}`, nil
	}
}

func newHarness(cfg Config, answer func(domain.Job) (string, error), sites ...domain.Site) *harness {
	h := &harness{
		queue:     repo.NewMemoryQueue(),
		counters:  &floorCounters{MemoryCounters: repo.NewMemoryCounters()},
		progress:  repo.NewMemoryProgress(),
		sites:     repo.NewMemorySites(sites...),
		transport: &scriptedTransport{answer: answer},
	}
	log := zerolog.New(io.Discard)
	cons := consumer.New(h.queue, h.transport, consumer.Options{Concurrency: 2, Poll: time.Millisecond}, log)
	h.svc = New(Backends{
		Queue:         h.queue,
		Counters:      h.counters,
		Progress:      h.progress,
		Sites:         h.sites,
		Visits:        h.sites,
		Invalidations: h.sites,
		Segments:      h.sites,
		Consumer:      cons,
	}, cfg, log)
	h.svc.now = func() time.Time { return testNow }
	return h
}

func (h *harness) run(t *testing.T) (domain.RunSnapshot, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.svc.Run(ctx, domain.RunOptions{Seed: true, FinishWhenNoJobs: true})
}

func (h *harness) counter(kind domain.CounterKind, site domain.SiteID) int64 {
	v, _ := h.counters.MemoryCounters.Site(kind, site).Get(context.Background())
	return v
}

func (h *harness) global(kind domain.CounterKind) int64 {
	v, _ := h.counters.Global(kind).Get(context.Background())
	return v
}

func site5() domain.Site {
	return domain.Site{ID: 5, CreatedAt: testNow.Add(-36 * time.Hour), Timezone: "UTC"}
}

func ttl3600() policy.TTL { return policy.NewTTL(time.Hour, time.Hour, false) }

func TestRunNeverArchivedSite(t *testing.T) {
	h := newHarness(Config{TTL: ttl3600()}, dayAnswer(`[{"date":"2024-01-01","nb_visits":12}]`), site5())
	h.sites.RecordVisit(5, testNow.Add(-time.Hour))

	snap, err := h.run(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	at, ok, _ := h.progress.Get(context.Background(), "lastRunday_5")
	if !ok || !at.Equal(testNow) {
		t.Fatalf("lastRunday_5 = %v %v", at, ok)
	}
	periods := map[domain.Granularity]int{}
	for _, j := range h.transport.jobs() {
		if j.Site != 5 {
			t.Fatalf("unexpected site %d", j.Site)
		}
		periods[j.Granularity]++
	}
	want := map[domain.Granularity]int{domain.Day: 1, domain.Week: 1, domain.Month: 1, domain.Year: 1}
	for g, n := range want {
		if periods[g] != n {
			t.Fatalf("jobs per granularity: %v", periods)
		}
	}
	if snap.VisitsToday != 12 || snap.SitesArchived != 1 || snap.PeriodsArchived != 1 || snap.JobsEnqueued != 4 {
		t.Fatalf("snapshot %+v", snap)
	}
	if _, ok, _ := h.progress.Get(context.Background(), "lastRunperiods_5"); !ok {
		t.Fatalf("periods not recorded")
	}
	if _, ok, _ := h.progress.Get(context.Background(), domain.LastRunArchiveKey); !ok {
		t.Fatalf("lastRunArchive not recorded")
	}
	if h.global(domain.KindProcessed) != 1 || h.counter(domain.KindActive, 5) != 0 || h.counter(domain.KindFailed, 5) != 0 {
		t.Fatalf("counters: processed=%d active=%d failed=%d",
			h.global(domain.KindProcessed), h.counter(domain.KindActive, 5), h.counter(domain.KindFailed, 5))
	}
	if h.counters.min < 0 {
		t.Fatalf("active counter went negative: %d", h.counters.min)
	}
}

func TestRunDayDateExpression(t *testing.T) {
	h := newHarness(Config{TTL: ttl3600()}, dayAnswer(`{"nb_visits":1}`), site5())
	h.sites.RecordVisit(5, testNow)
	if _, err := h.run(t); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, j := range h.transport.jobs() {
		if j.Date != "last3" {
			t.Fatalf("%s date %s, want last3 from site creation", j.Granularity, j.Date)
		}
	}
}

func TestRunSegmentsMultiplyJobs(t *testing.T) {
	h := newHarness(Config{TTL: ttl3600()}, dayAnswer(`{"nb_visits":4}`), site5())
	h.sites.RecordVisit(5, testNow)
	h.sites.SetSegments(0, "browserCode==FF")
	h.sites.SetSegments(5, "country==fr", "browserCode==FF")

	snap, err := h.run(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// day + 3 periods + 2 segments x (day + 3 periods)
	if snap.JobsEnqueued != 12 || len(h.transport.jobs()) != 12 {
		t.Fatalf("jobs enqueued %d fetched %d", snap.JobsEnqueued, len(h.transport.jobs()))
	}
	segDays := 0
	for _, j := range h.transport.jobs() {
		if j.Granularity == domain.Day && j.Segment != "" {
			segDays++
			if j.Date != "last3" {
				t.Fatalf("segment day job must reuse the day date: %s", j.Date)
			}
		}
	}
	if segDays != 2 {
		t.Fatalf("segment day jobs %d", segDays)
	}
	if snap.PeriodsArchived != 1 || h.global(domain.KindProcessed) != 1 {
		t.Fatalf("snapshot %+v processed %d", snap, h.global(domain.KindProcessed))
	}
}

func TestRunRepeatedPeriodsStillDrain(t *testing.T) {
	cfg := Config{TTL: ttl3600(), Periods: []domain.Granularity{domain.Week, domain.Week, domain.Month}}
	h := newHarness(cfg, dayAnswer(`{"nb_visits":2}`), site5())
	h.sites.RecordVisit(5, testNow)

	snap, err := h.run(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if snap.JobsEnqueued != 3 || len(h.transport.jobs()) != 3 {
		t.Fatalf("jobs enqueued %d fetched %d", snap.JobsEnqueued, len(h.transport.jobs()))
	}
	if h.global(domain.KindProcessed) != 1 || h.counter(domain.KindActive, 5) != 0 || h.counter(domain.KindFailed, 5) != 0 {
		t.Fatalf("counters: processed=%d active=%d failed=%d",
			h.global(domain.KindProcessed), h.counter(domain.KindActive, 5), h.counter(domain.KindFailed, 5))
	}
	if snap.PeriodsArchived != 1 {
		t.Fatalf("snapshot %+v", snap)
	}
}

func TestRunSitesTotalCountsDispatchedOnly(t *testing.T) {
	cfg := Config{TTL: ttl3600(), Include: []domain.SiteID{5, 6, 7}, Skip: []domain.SiteID{6}}
	h := newHarness(cfg, dayAnswer(`{"nb_visits":1}`), site5(), domain.Site{ID: 6}, domain.Site{ID: 7})
	_ = h.progress.Set(context.Background(), "lastRunday_7", testNow.Add(-time.Minute))

	snap, err := h.run(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if snap.SitesSelected != 3 {
		t.Fatalf("selected %d", snap.SitesSelected)
	}
	if snap.Skipped[string(domain.SkipExcluded)] != 1 || snap.Skipped[string(domain.SkipDayTTL)] != 1 {
		t.Fatalf("skips %v", snap.Skipped)
	}
	if total, done := h.global(domain.KindSitesTotal), h.global(domain.KindProcessed); total != 1 || done != total {
		t.Fatalf("processed %d / %d", done, total)
	}
}

func TestRunZeroVisitsProducesNoPeriodJobs(t *testing.T) {
	h := newHarness(Config{TTL: ttl3600()}, dayAnswer(`{"2024-01-01":{"nb_visits":0},"2024-01-02":{"nb_visits":"0"}}`), site5())
	h.sites.RecordVisit(5, testNow)

	snap, err := h.run(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := len(h.transport.jobs()); n != 1 {
		t.Fatalf("expected only the day job, fetched %d", n)
	}
	if snap.Skipped[string(domain.SkipNoVisitsToday)] != 1 {
		t.Fatalf("skips %v", snap.Skipped)
	}
	if _, ok, _ := h.progress.Get(context.Background(), "lastRunday_5"); ok {
		t.Fatalf("skipped day must not be recorded")
	}
	if h.global(domain.KindProcessed) != 1 {
		t.Fatalf("site should still drain")
	}
}

func TestRunPeriodsFreshSkip(t *testing.T) {
	h := newHarness(Config{TTL: ttl3600()}, dayAnswer(`{"nb_visits":9}`), site5())
	h.sites.RecordVisit(5, testNow)
	_ = h.progress.Set(context.Background(), "lastRunperiods_5", testNow.Add(-10*time.Minute))

	snap, err := h.run(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if snap.Skipped[string(domain.SkipPeriodsFresh)] != 1 || len(h.transport.jobs()) != 1 {
		t.Fatalf("skips %v jobs %d", snap.Skipped, len(h.transport.jobs()))
	}
}

func TestRunForceAllWithoutWindowVisitsSkips(t *testing.T) {
	h := newHarness(Config{TTL: ttl3600(), ForceAll: true}, dayAnswer(`[]`), site5())
	_ = h.progress.Set(context.Background(), "lastRunperiods_5", testNow.Add(-10*time.Minute))

	snap, err := h.run(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if snap.Skipped[string(domain.SkipNoVisitsWindow)] != 1 {
		t.Fatalf("skips %v", snap.Skipped)
	}
}

func TestRunDayTTLSkip(t *testing.T) {
	h := newHarness(Config{TTL: ttl3600()}, dayAnswer(`{"nb_visits":1}`), site5())
	h.sites.RecordVisit(5, testNow)
	_ = h.progress.Set(context.Background(), "lastRunday_5", testNow.Add(-time.Minute))

	snap, err := h.run(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.transport.jobs()) != 0 || snap.Skipped[string(domain.SkipDayTTL)] != 1 {
		t.Fatalf("expected day ttl skip, jobs=%d skips=%v", len(h.transport.jobs()), snap.Skipped)
	}
}

func TestRunInvalidationBypassesTTLAndIsCleared(t *testing.T) {
	h := newHarness(Config{TTL: ttl3600()}, dayAnswer(`{"nb_visits":2}`), site5())
	ctx := context.Background()
	_ = h.progress.Set(ctx, "lastRunday_5", testNow.Add(-time.Minute))
	_ = h.progress.Set(ctx, "lastRunperiods_5", testNow.Add(-time.Minute))
	h.sites.Invalidate(5)

	snap, err := h.run(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if inv, _ := h.sites.Invalidated(ctx); len(inv) != 0 {
		t.Fatalf("invalidation not cleared: %v", inv)
	}
	if len(h.transport.jobs()) != 4 || snap.PeriodsArchived != 1 {
		t.Fatalf("jobs %d snapshot %+v", len(h.transport.jobs()), snap)
	}
	for _, j := range h.transport.jobs() {
		if j.Date != "last3" {
			t.Fatalf("invalidation must rescan from creation, got %s", j.Date)
		}
	}
}

func TestRunForcedDateRange(t *testing.T) {
	dates, err := policy.NewDateRange("2012-01-01,2012-03-15", 0)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	h := newHarness(Config{TTL: ttl3600(), Dates: dates}, dayAnswer(`{"nb_visits":1}`), site5())
	h.sites.RecordVisit(5, testNow)
	if _, err := h.run(t); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, j := range h.transport.jobs() {
		if j.Date != "2012-01-01,2012-03-15" {
			t.Fatalf("date %s", j.Date)
		}
	}
}

func TestRunContinuationSkipsSeeding(t *testing.T) {
	h := newHarness(Config{TTL: ttl3600()}, dayAnswer(`{"nb_visits":1}`))
	ctx := context.Background()
	for _, g := range []domain.Granularity{domain.Week, domain.Month, domain.Year} {
		_ = h.queue.Enqueue(ctx, domain.Job{Site: 8, Granularity: g, Date: "last2"})
	}
	// state left behind by the interrupted run
	_, _ = h.counters.Site(domain.KindActive, 8).Add(ctx, 3)
	_, _ = h.counters.Site(domain.KindFailed, 8).Add(ctx, 3)
	_, _ = h.counters.Global(domain.KindSitesTotal).Add(ctx, 1)
	h.sites.RecordVisit(9, testNow)
	h.sites.AddSite(domain.Site{ID: 9})

	snap, err := h.run(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !snap.Continuation || snap.SitesSelected != 0 {
		t.Fatalf("expected continuation: %+v", snap)
	}
	for _, j := range h.transport.jobs() {
		if j.Site != 8 {
			t.Fatalf("seeding ran, saw site %d", j.Site)
		}
	}
	if len(h.transport.jobs()) != 3 || snap.PeriodsArchived != 1 || h.global(domain.KindProcessed) != 1 {
		t.Fatalf("jobs %d snapshot %+v", len(h.transport.jobs()), snap)
	}
	if _, ok, _ := h.progress.Get(ctx, domain.LastRunArchiveKey); ok {
		t.Fatalf("continuation must not record lastRunArchive")
	}
}

func TestRunInvalidDayResponse(t *testing.T) {
	h := newHarness(Config{TTL: ttl3600()}, dayAnswer(`{"result":"error","message":"boom"}`), site5())
	h.sites.RecordVisit(5, testNow)

	snap, err := h.run(t)
	if !perr.IsCode(err, perr.ErrorCodeRun) {
		t.Fatalf("want run error, got %v", err)
	}
	if len(snap.Errors) != 1 || !strings.Contains(snap.Errors[0], "boom") {
		t.Fatalf("errors %v", snap.Errors)
	}
	if snap.Skipped[string(domain.SkipInvalidResponse)] != 1 || len(h.transport.jobs()) != 1 {
		t.Fatalf("skips %v jobs %d", snap.Skipped, len(h.transport.jobs()))
	}
	if h.global(domain.KindProcessed) != 1 || h.counter(domain.KindActive, 5) != 0 {
		t.Fatalf("invalid responses must still drain the site")
	}
}

func TestRunFailedPeriodKeepsPeriodsUnrecorded(t *testing.T) {
	answer := func(j domain.Job) (string, error) {
		switch j.Granularity {
		case domain.Day:
			return `{"nb_visits":5}`, nil
		case domain.Month:
			return "", errors.New("timeout")
		}
		return `{"nb_visits":5}`, nil
	}
	h := newHarness(Config{TTL: ttl3600()}, answer, site5())
	h.sites.RecordVisit(5, testNow)

	snap, err := h.run(t)
	if !perr.IsCode(err, perr.ErrorCodeRun) {
		t.Fatalf("want run error, got %v", err)
	}
	if _, ok, _ := h.progress.Get(context.Background(), "lastRunperiods_5"); ok {
		t.Fatalf("periods recorded despite a failed month job")
	}
	if snap.PeriodsArchived != 0 || h.counter(domain.KindFailed, 5) != 0 || h.global(domain.KindProcessed) != 1 {
		t.Fatalf("snapshot %+v failed=%d", snap, h.counter(domain.KindFailed, 5))
	}
}

func TestRunSkipListAndDisableDay(t *testing.T) {
	cfg := Config{TTL: ttl3600(), Skip: []domain.SiteID{6}, DisableDay: true}
	h := newHarness(cfg, dayAnswer(`{"nb_visits":1}`), site5(), domain.Site{ID: 6})
	h.sites.RecordVisit(5, testNow)
	h.sites.RecordVisit(6, testNow)

	snap, err := h.run(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if snap.Skipped[string(domain.SkipExcluded)] != 1 {
		t.Fatalf("skips %v", snap.Skipped)
	}
	for _, j := range h.transport.jobs() {
		if j.Site == 6 || j.Granularity == domain.Day {
			t.Fatalf("unexpected job %+v", j)
		}
	}
	if len(h.transport.jobs()) != 3 || snap.PeriodsArchived != 1 {
		t.Fatalf("jobs %d snapshot %+v", len(h.transport.jobs()), snap)
	}
}

func TestRunIncludeListAndFilter(t *testing.T) {
	var filtered []domain.SiteID
	cfg := Config{
		TTL:     ttl3600(),
		Include: []domain.SiteID{6, 5, 42},
		Filter: func(in []domain.SiteID) []domain.SiteID {
			filtered = in
			return in[1:]
		},
	}
	h := newHarness(cfg, dayAnswer(`{"nb_visits":1}`), site5(), domain.Site{ID: 6})
	snap, err := h.run(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(filtered) != 2 || filtered[0] != 6 {
		t.Fatalf("filter saw %v", filtered)
	}
	if snap.SitesSelected != 1 || h.global(domain.KindSitesTotal) != 1 {
		t.Fatalf("selected %d", snap.SitesSelected)
	}
}

func TestCompleteIgnoresDuplicatesAndUnattributable(t *testing.T) {
	h := newHarness(Config{TTL: ttl3600()}, dayAnswer(`{"nb_visits":1}`), site5())
	ctx := context.Background()
	st := domain.NewRunState("t", testNow)
	_, _ = h.counters.Site(domain.KindActive, 5).Add(ctx, 1)
	_, _ = h.counters.Site(domain.KindFailed, 5).Add(ctx, 1)

	r := domain.Result{Key: domain.Job{Site: 5, Granularity: domain.Week, Date: "last2"}.Query(), Body: `{"nb_visits":1}`}
	for i := 0; i < 3; i++ {
		if err := h.svc.Complete(ctx, st, r); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	if err := h.svc.Complete(ctx, st, domain.Result{Key: "period=day&date=last2", Body: "{}"}); err != nil {
		t.Fatalf("unattributable: %v", err)
	}
	if h.counter(domain.KindActive, 5) != 0 || h.global(domain.KindProcessed) != 1 {
		t.Fatalf("duplicates changed counters: active=%d processed=%d", h.counter(domain.KindActive, 5), h.global(domain.KindProcessed))
	}
	if st.Snapshot().JobsResolved != 1 {
		t.Fatalf("resolved %d", st.Snapshot().JobsResolved)
	}
}

func TestProducePeriodsHoldsUntilSiblingsResolve(t *testing.T) {
	h := newHarness(Config{TTL: ttl3600(), Periods: []domain.Granularity{}}, dayAnswer(`{}`), site5())
	ctx := context.Background()
	st := domain.NewRunState("t", testNow)
	h.sites.SetSegments(5, "visitorType==new")

	// hold from seeding
	_, _ = h.counters.Site(domain.KindFailed, 5).Increment(ctx)
	if err := h.svc.ProducePeriods(ctx, st, 5, "last2", false); err != nil {
		t.Fatalf("produce: %v", err)
	}
	if h.counter(domain.KindFailed, 5) != 1 || st.Snapshot().JobsEnqueued != 1 {
		t.Fatalf("failed=%d enqueued=%d", h.counter(domain.KindFailed, 5), st.Snapshot().JobsEnqueued)
	}
	if _, ok, _ := h.progress.Get(ctx, "lastRunperiods_5"); ok {
		t.Fatalf("periods recorded before the segment job resolved")
	}

	seg := domain.Job{Site: 5, Granularity: domain.Day, Date: "last2", Segment: "visitorType==new"}
	if err := h.svc.Complete(ctx, st, domain.Result{Key: seg.Query(), Body: `{"nb_visits":0}`}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, ok, _ := h.progress.Get(ctx, "lastRunperiods_5"); !ok {
		t.Fatalf("periods not recorded after the last sibling")
	}
	if h.global(domain.KindProcessed) != 1 {
		t.Fatalf("processed %d", h.global(domain.KindProcessed))
	}
}

func TestProducePeriodsWithNothingToProduce(t *testing.T) {
	h := newHarness(Config{TTL: ttl3600(), Periods: []domain.Granularity{}}, dayAnswer(`{}`), site5())
	ctx := context.Background()
	st := domain.NewRunState("t", testNow)

	_, _ = h.counters.Site(domain.KindFailed, 5).Increment(ctx)
	if err := h.svc.ProducePeriods(ctx, st, 5, "last2", false); err != nil {
		t.Fatalf("produce: %v", err)
	}
	if _, ok, _ := h.progress.Get(ctx, "lastRunperiods_5"); ok {
		t.Fatalf("no period jobs means nothing was archived")
	}
	if st.Snapshot().JobsEnqueued != 0 {
		t.Fatalf("enqueued %d", st.Snapshot().JobsEnqueued)
	}
}

func TestCurrentSnapshot(t *testing.T) {
	h := newHarness(Config{TTL: ttl3600()}, dayAnswer(`{}`))
	if _, ok := h.svc.Current(); ok {
		t.Fatalf("no run yet")
	}
	_, _ = h.run(t)
	snap, ok := h.svc.Current()
	if !ok || snap.RunID == "" || snap.FinishedAt == nil {
		t.Fatalf("snapshot %+v", snap)
	}
	lines := SummaryLines(snap, testNow)
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "run "+snap.RunID) {
		t.Fatalf("summary %v", lines)
	}
}
