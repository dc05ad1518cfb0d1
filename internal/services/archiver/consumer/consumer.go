// Package consumer leases archive jobs from the shared queue, executes them
// through the report transport and hands result batches to the run loop
package consumer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"archiver/internal/platform/logger"
	"archiver/internal/platform/metrics"
	"archiver/internal/services/archiver/domain"

	"golang.org/x/sync/errgroup"
)

// Options tune the worker pool
type Options struct {
	Concurrency int
	BatchSize   int
	LeaseFor    time.Duration
	Poll        time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.BatchSize <= 0 {
		o.BatchSize = o.Concurrency
	}
	if o.LeaseFor <= 0 {
		o.LeaseFor = 10 * time.Minute
	}
	if o.Poll <= 0 {
		o.Poll = 500 * time.Millisecond
	}
	return o
}

// Consumer is a bounded worker pool over a JobQueue
type Consumer struct {
	queue     domain.JobQueue
	transport domain.Transport
	opt       Options
	log       logger.Logger

	// pending counts delivered results not yet released
	pending atomic.Int64
}

var _ domain.Consumer = (*Consumer)(nil)

// New constructs a consumer
func New(queue domain.JobQueue, transport domain.Transport, opt Options, log logger.Logger) *Consumer {
	return &Consumer{
		queue:     queue,
		transport: transport,
		opt:       opt.withDefaults(),
		log:       log.With().Str("component", "consumer").Logger(),
	}
}

// Consume leases, executes and delivers until ctx ends. With
// finishWhenNoJobs it returns nil once the queue is empty and every
// delivered result was released, since a released result may have
// enqueued follow-up jobs
func (c *Consumer) Consume(ctx context.Context, finishWhenNoJobs bool, out chan<- []domain.Result) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		leased, err := c.queue.Lease(ctx, c.opt.BatchSize, c.opt.LeaseFor)
		if err != nil {
			return err
		}

		if len(leased) == 0 {
			if finishWhenNoJobs && c.pending.Load() == 0 {
				n, err := c.queue.Peek(ctx)
				if err != nil {
					return err
				}
				metrics.SetQueueDepth(n)
				if n == 0 && c.pending.Load() == 0 {
					return nil
				}
			}
			if err := sleep(ctx, c.opt.Poll); err != nil {
				return err
			}
			continue
		}

		batch := c.execute(ctx, leased)
		c.pending.Add(int64(len(batch)))
		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// execute fetches every leased job with at most Concurrency in flight
func (c *Consumer) execute(ctx context.Context, leased []domain.Leased) []domain.Result {
	results := make([]domain.Result, len(leased))
	var g errgroup.Group
	g.SetLimit(c.opt.Concurrency)
	for i, l := range leased {
		g.Go(func() error {
			results[i] = c.fetch(ctx, l)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Consumer) fetch(ctx context.Context, l domain.Leased) domain.Result {
	granularity := "unknown"
	if j, ok := domain.ParseJob(l.Query); ok {
		granularity = string(j.Granularity)
	}
	start := time.Now()
	body, err := c.transport.Fetch(ctx, l.Query)
	metrics.ObserveFetch(granularity, time.Since(start))
	if err != nil {
		c.log.Warn().Err(err).Str("query", l.Query).Int("attempts", l.Attempts).Msg("fetch failed")
		body = ""
	}

	var once sync.Once
	return domain.Result{
		Key:  l.Query,
		Body: body,
		Err:  err,
		Release: func() {
			once.Do(func() {
				defer c.pending.Add(-1)
				if err := c.queue.Ack(context.WithoutCancel(ctx), l); err != nil {
					c.log.Error().Err(err).Str("id", l.ID).Msg("ack failed")
				}
			})
		},
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
