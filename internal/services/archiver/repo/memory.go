package repo

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	perr "archiver/internal/platform/errors"
	"archiver/internal/services/archiver/domain"
)

// MemoryQueue is a single-process JobQueue with lease expiry
type MemoryQueue struct {
	mu      sync.Mutex
	now     func() time.Time
	seq     int64
	pending []domain.Leased
	leased  map[string]leaseEntry
}

type leaseEntry struct {
	l       domain.Leased
	expires time.Time
}

// NewMemoryQueue returns an empty in-memory queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{now: time.Now, leased: map[string]leaseEntry{}}
}

// Enqueue appends j
func (q *MemoryQueue) Enqueue(_ context.Context, j domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.pending = append(q.pending, domain.Leased{ID: strconv.FormatInt(q.seq, 10), Query: j.Query()})
	return nil
}

// Peek counts pending and leased jobs
func (q *MemoryQueue) Peek(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending) + len(q.leased)), nil
}

// Lease hands out expired leases first, then pending jobs in FIFO order
func (q *MemoryQueue) Lease(_ context.Context, n int, leaseFor time.Duration) ([]domain.Leased, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	exp := now.Add(leaseFor)

	var expired []leaseEntry
	for _, e := range q.leased {
		if !e.expires.After(now) {
			expired = append(expired, e)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return idLess(expired[i].l.ID, expired[j].l.ID) })

	out := make([]domain.Leased, 0, n)
	for _, e := range expired {
		if len(out) == n {
			break
		}
		e.l.Attempts++
		q.leased[e.l.ID] = leaseEntry{l: e.l, expires: exp}
		out = append(out, e.l)
	}
	for len(out) < n && len(q.pending) > 0 {
		l := q.pending[0]
		q.pending = q.pending[1:]
		l.Attempts++
		q.leased[l.ID] = leaseEntry{l: l, expires: exp}
		out = append(out, l)
	}
	return out, nil
}

// Ack forgets a leased job
func (q *MemoryQueue) Ack(_ context.Context, l domain.Leased) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leased, l.ID)
	return nil
}

func idLess(a, b string) bool {
	x, _ := strconv.ParseInt(a, 10, 64)
	y, _ := strconv.ParseInt(b, 10, 64)
	return x < y
}

// MemoryCounters is a single-process Counters
type MemoryCounters struct {
	mu       sync.Mutex
	values   map[string]int64
	resolved map[string]struct{}
}

// NewMemoryCounters returns zeroed counters
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{values: map[string]int64{}, resolved: map[string]struct{}{}}
}

// Site returns the per-site counter of kind
func (c *MemoryCounters) Site(kind domain.CounterKind, site domain.SiteID) domain.Counter {
	return &memoryCounter{c: c, name: counterName(kind, site)}
}

// Global returns the global counter of kind
func (c *MemoryCounters) Global(kind domain.CounterKind) domain.Counter {
	return &memoryCounter{c: c, name: string(kind)}
}

// Reset zeroes everything
func (c *MemoryCounters) Reset(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = map[string]int64{}
	c.resolved = map[string]struct{}{}
	return nil
}

// MarkResolved is true on the first call per key
func (c *MemoryCounters) MarkResolved(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.resolved[key]; ok {
		return false, nil
	}
	c.resolved[key] = struct{}{}
	return true, nil
}

type memoryCounter struct {
	c    *MemoryCounters
	name string
}

func (m *memoryCounter) Increment(ctx context.Context) (int64, error) { return m.Add(ctx, 1) }
func (m *memoryCounter) Decrement(ctx context.Context) (int64, error) { return m.Add(ctx, -1) }

func (m *memoryCounter) Add(_ context.Context, n int64) (int64, error) {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()
	m.c.values[m.name] += n
	return m.c.values[m.name], nil
}

func (m *memoryCounter) Get(context.Context) (int64, error) {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()
	return m.c.values[m.name], nil
}

func (m *memoryCounter) IsEqual(ctx context.Context, n int64) (bool, error) {
	v, _ := m.Get(ctx)
	return v == n, nil
}

// MemoryProgress is a single-process ProgressStore
type MemoryProgress struct {
	mu sync.Mutex
	at map[string]time.Time
}

// NewMemoryProgress returns an empty store
func NewMemoryProgress() *MemoryProgress { return &MemoryProgress{at: map[string]time.Time{}} }

// Get reads key
func (p *MemoryProgress) Get(_ context.Context, key string) (time.Time, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.at[key]
	return t, ok, nil
}

// Set writes key
func (p *MemoryProgress) Set(_ context.Context, key string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.at[key] = at
	return nil
}

// MemorySites is an in-memory Repo, useful for dry runs and tests
type MemorySites struct {
	mu          sync.Mutex
	sites       map[domain.SiteID]domain.Site
	order       []domain.SiteID
	visits      map[domain.SiteID]time.Time
	invalidated []domain.SiteID
	globalSegs  []string
	siteSegs    map[domain.SiteID][]string
}

var _ Repo = (*MemorySites)(nil)

// NewMemorySites seeds the repo with sites in the given order
func NewMemorySites(sites ...domain.Site) *MemorySites {
	m := &MemorySites{
		sites:    map[domain.SiteID]domain.Site{},
		visits:   map[domain.SiteID]time.Time{},
		siteSegs: map[domain.SiteID][]string{},
	}
	for _, s := range sites {
		m.AddSite(s)
	}
	return m
}

// AddSite adds or replaces a site
func (m *MemorySites) AddSite(s domain.Site) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sites[s.ID]; !ok {
		m.order = append(m.order, s.ID)
	}
	m.sites[s.ID] = s
}

// RecordVisit notes the latest visit time of a site
func (m *MemorySites) RecordVisit(site domain.SiteID, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if at.After(m.visits[site]) {
		m.visits[site] = at
	}
}

// Invalidate marks a site's reports stale
func (m *MemorySites) Invalidate(site domain.SiteID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.invalidated {
		if id == site {
			return
		}
	}
	m.invalidated = append(m.invalidated, site)
}

// SetSegments configures global segments and, with a positive site, that site's own
func (m *MemorySites) SetSegments(site domain.SiteID, defs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if site <= 0 {
		m.globalSegs = defs
		return
	}
	m.siteSegs[site] = defs
}

// AllSiteIDs lists sites in insertion order
func (m *MemorySites) AllSiteIDs(context.Context) ([]domain.SiteID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SiteID(nil), m.order...), nil
}

// Site loads one site
func (m *MemorySites) Site(_ context.Context, id domain.SiteID) (domain.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[id]
	if !ok {
		return domain.Site{}, perr.NotFoundf("site %d not found", id)
	}
	return s, nil
}

// Timezones groups sites by zone; empty zones read as UTC
func (m *MemorySites) Timezones(context.Context) (map[string][]domain.SiteID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]domain.SiteID{}
	for _, id := range m.order {
		tz := m.sites[id].Timezone
		if tz == "" {
			tz = "UTC"
		}
		out[tz] = append(out[tz], id)
	}
	return out, nil
}

// SitesWithVisitsSince lists sites whose latest visit is at or after since
func (m *MemorySites) SitesWithVisitsSince(_ context.Context, since time.Time) ([]domain.SiteID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SiteID
	for _, id := range m.order {
		if at, ok := m.visits[id]; ok && !at.Before(since) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Invalidated lists pending invalidations
func (m *MemorySites) Invalidated(context.Context) ([]domain.SiteID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SiteID(nil), m.invalidated...), nil
}

// Clear drops a pending invalidation
func (m *MemorySites) Clear(_ context.Context, site domain.SiteID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.invalidated[:0]
	for _, id := range m.invalidated {
		if id != site {
			out = append(out, id)
		}
	}
	m.invalidated = out
	return nil
}

// Segments returns global then site segments, deduplicated
func (m *MemorySites) Segments(_ context.Context, site domain.SiteID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, list := range [][]string{m.globalSegs, m.siteSegs[site]} {
		for _, s := range list {
			if _, dup := seen[s]; dup || s == "" {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out, nil
}
