package domain

import (
	"context"
	"time"
)

// Queue

// Leased is a job handed to one consumer until its lease expires or it is acked
type Leased struct {
	ID string
	// Query is the job's wire form as stored
	Query    string
	Attempts int
}

// JobQueue is the shared FIFO of pending jobs. Delivery is at-least-once:
// a job whose lease expires before Ack is handed out again
type JobQueue interface {
	Enqueue(ctx context.Context, j Job) error
	// Peek counts jobs not yet acked, leased ones included
	Peek(ctx context.Context) (int64, error)
	Lease(ctx context.Context, n int, leaseFor time.Duration) ([]Leased, error)
	Ack(ctx context.Context, l Leased) error
}

// Result is a fetched response handed from the consumer to completion
type Result struct {
	// Key is the wire form of the job that produced Body
	Key  string
	Body string
	// Err is set when the fetch itself failed; Body is then empty
	Err error
	// Release acks the job; call exactly once after completion handling
	Release func()
}

// Consumer leases jobs, executes them and delivers results in batches
type Consumer interface {
	// Consume blocks until ctx ends or, with finishWhenNoJobs, the queue is
	// empty and every delivered result was released
	Consume(ctx context.Context, finishWhenNoJobs bool, out chan<- []Result) error
}

// Transport executes one job query against the report API
type Transport interface {
	Fetch(ctx context.Context, query string) (string, error)
}

// Shared counters

// Counter is an atomic integer in the shared namespace
type Counter interface {
	Increment(ctx context.Context) (int64, error)
	Decrement(ctx context.Context) (int64, error)
	Add(ctx context.Context, n int64) (int64, error)
	Get(ctx context.Context) (int64, error)
	IsEqual(ctx context.Context, n int64) (bool, error)
}

// Counters hands out per-site and global counters in one namespace
type Counters interface {
	Site(kind CounterKind, site SiteID) Counter
	Global(kind CounterKind) Counter
	// Reset clears every counter and resolved marker in the namespace
	Reset(ctx context.Context) error
	// MarkResolved returns true the first time key is marked since Reset
	MarkResolved(ctx context.Context, key string) (bool, error)
}

// Durable stores

// ProgressStore keeps last-success timestamps across runs
type ProgressStore interface {
	Get(ctx context.Context, key string) (time.Time, bool, error)
	Set(ctx context.Context, key string, at time.Time) error
}

// SiteRepo reads site reference data
type SiteRepo interface {
	AllSiteIDs(ctx context.Context) ([]SiteID, error)
	Site(ctx context.Context, id SiteID) (Site, error)
	// Timezones groups site ids by their timezone name
	Timezones(ctx context.Context) (map[string][]SiteID, error)
}

// VisitSource answers which sites saw traffic since a point in time
type VisitSource interface {
	SitesWithVisitsSince(ctx context.Context, since time.Time) ([]SiteID, error)
}

// InvalidationStore lists sites whose historical reports must be rebuilt
type InvalidationStore interface {
	Invalidated(ctx context.Context) ([]SiteID, error)
	Clear(ctx context.Context, site SiteID) error
}

// SegmentSource lists segment definitions to archive for a site: the
// global ones plus the site's own, deduplicated
type SegmentSource interface {
	Segments(ctx context.Context, site SiteID) ([]string, error)
}

// Ports exposed to the process

// RunnerPort runs the orchestrator
type RunnerPort interface {
	Run(ctx context.Context, opt RunOptions) (RunSnapshot, error)
}

// StatusPort reports on the current or most recent run
type StatusPort interface {
	Current() (RunSnapshot, bool)
}
