package domain

import (
	"sync"
	"time"

	ptime "archiver/internal/platform/time"
)

// InvalidationSet is the set of sites with pending invalidated reports,
// loaded once at run start and drained as sites are seeded
type InvalidationSet struct {
	mu  sync.Mutex
	ids map[SiteID]struct{}
}

// NewInvalidationSet builds a set from ids
func NewInvalidationSet(ids []SiteID) *InvalidationSet {
	s := &InvalidationSet{ids: make(map[SiteID]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Has reports membership; a nil set is empty
func (s *InvalidationSet) Has(id SiteID) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Take removes id and reports whether it was present
func (s *InvalidationSet) Take(id SiteID) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	delete(s.ids, id)
	return ok
}

// RunState is the per-run tally shared by the producer and the completion
// handler. All methods are safe for concurrent use
type RunState struct {
	mu sync.Mutex

	runID        string
	startedAt    time.Time
	finishedAt   time.Time
	continuation bool

	// Invalidated is nil on continuation runs
	Invalidated *InvalidationSet

	sitesSelected   int
	sitesArchived   int
	visitsToday     int64
	periodsArchived int
	jobsEnqueued    int
	jobsResolved    int
	skipped         map[SkipReason]int
	errors          []string
}

// NewRunState starts a tally for one run
func NewRunState(runID string, startedAt time.Time) *RunState {
	return &RunState{runID: runID, startedAt: startedAt, skipped: map[SkipReason]int{}}
}

// RunID returns the run identifier
func (r *RunState) RunID() string { return r.runID }

// StartedAt returns the run start time
func (r *RunState) StartedAt() time.Time { return r.startedAt }

// MarkContinuation flags a run that drained a queue left by an earlier run
func (r *RunState) MarkContinuation() {
	r.mu.Lock()
	r.continuation = true
	r.mu.Unlock()
}

// Continuation reports whether seeding was skipped
func (r *RunState) Continuation() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.continuation
}

// SetSelected records how many sites were chosen for seeding
func (r *RunState) SetSelected(n int) {
	r.mu.Lock()
	r.sitesSelected = n
	r.mu.Unlock()
}

// RecordDayArchived counts a site whose day report succeeded
func (r *RunState) RecordDayArchived(visitsToday int64) {
	r.mu.Lock()
	r.sitesArchived++
	r.visitsToday += visitsToday
	r.mu.Unlock()
}

// RecordPeriodsArchived counts a site whose period reports all succeeded
func (r *RunState) RecordPeriodsArchived() {
	r.mu.Lock()
	r.periodsArchived++
	r.mu.Unlock()
}

// AddJobs counts enqueued jobs
func (r *RunState) AddJobs(n int) {
	r.mu.Lock()
	r.jobsEnqueued += n
	r.mu.Unlock()
}

// Resolved counts a result that was attributed to a job
func (r *RunState) Resolved() {
	r.mu.Lock()
	r.jobsResolved++
	r.mu.Unlock()
}

// Skip counts a skipped site
func (r *RunState) Skip(reason SkipReason) {
	r.mu.Lock()
	r.skipped[reason]++
	r.mu.Unlock()
}

// Fail records an error message for the end-of-run report
func (r *RunState) Fail(msg string) {
	r.mu.Lock()
	r.errors = append(r.errors, msg)
	r.mu.Unlock()
}

// Errors returns a copy of the accumulated error messages
func (r *RunState) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

// Finish stamps the end time
func (r *RunState) Finish(at time.Time) {
	r.mu.Lock()
	r.finishedAt = at
	r.mu.Unlock()
}

// RunSnapshot is a point-in-time copy of a RunState
type RunSnapshot struct {
	RunID           string         `json:"run_id"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	Continuation    bool           `json:"continuation"`
	SitesSelected   int            `json:"sites_selected"`
	SitesArchived   int            `json:"sites_archived"`
	VisitsToday     int64          `json:"visits_today"`
	PeriodsArchived int            `json:"periods_archived"`
	JobsEnqueued    int            `json:"jobs_enqueued"`
	JobsResolved    int            `json:"jobs_resolved"`
	Skipped         map[string]int `json:"skipped"`
	SkippedTotal    int            `json:"skipped_total"`
	Errors          []string       `json:"errors"`
}

// Elapsed is the run duration, up to now while still running
func (s RunSnapshot) Elapsed(now time.Time) time.Duration {
	if s.FinishedAt != nil {
		return s.FinishedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// Snapshot copies the tally
func (r *RunState) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := RunSnapshot{
		RunID:           r.runID,
		StartedAt:       r.startedAt,
		Continuation:    r.continuation,
		SitesSelected:   r.sitesSelected,
		SitesArchived:   r.sitesArchived,
		VisitsToday:     r.visitsToday,
		PeriodsArchived: r.periodsArchived,
		JobsEnqueued:    r.jobsEnqueued,
		JobsResolved:    r.jobsResolved,
		FinishedAt:      ptime.Ptr(r.finishedAt),
		Skipped:         make(map[string]int, len(r.skipped)),
		Errors:          append([]string{}, r.errors...),
	}
	for k, v := range r.skipped {
		s.Skipped[string(k)] = v
		s.SkippedTotal += v
	}
	return s
}
