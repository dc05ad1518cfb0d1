// Package schedule runs archiver runs on a cron spec in daemon mode
package schedule

import (
	"context"
	"sync/atomic"

	"archiver/internal/platform/logger"
	"archiver/internal/platform/validate"

	"github.com/robfig/cron/v3"
)

// RunFunc performs one run
type RunFunc func(ctx context.Context) error

// Scheduler fires RunFunc on a cron spec. A tick that arrives while the
// previous run is still going is skipped
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	run     RunFunc
	log     logger.Logger
	ticks   atomic.Int64
	onStart bool
}

// Option tweaks a Scheduler
type Option func(*Scheduler)

// RunOnStart fires one run right away instead of waiting for the first tick
func RunOnStart() Option { return func(s *Scheduler) { s.onStart = true } }

// New validates spec and builds a scheduler; spec accepts an optional
// seconds field and descriptors such as @hourly
func New(spec string, run RunFunc, log logger.Logger, opts ...Option) (*Scheduler, error) {
	if _, err := validate.CronParser.Parse(spec); err != nil {
		return nil, err
	}
	l := log.With().Str("component", "schedule").Logger()
	s := &Scheduler{spec: spec, run: run, log: l}
	for _, o := range opts {
		o(s)
	}
	s.cron = cron.New(
		cron.WithParser(validate.CronParser),
		cron.WithChain(
			cron.Recover(cronLogger{l}),
			cron.SkipIfStillRunning(cronLogger{l}),
		),
	)
	return s, nil
}

// Ticks counts fired runs
func (s *Scheduler) Ticks() int64 { return s.ticks.Load() }

// Run blocks until ctx ends, then waits for an in-flight run to finish
func (s *Scheduler) Run(ctx context.Context) error {
	job := cron.FuncJob(func() {
		s.ticks.Add(1)
		if err := s.run(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("scheduled run failed")
		}
	})
	id, err := s.cron.AddJob(s.spec, job)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("spec", s.spec).Msg("scheduler started")
	if s.onStart {
		// the wrapped job shares the skip-if-running guard with cron ticks
		go s.cron.Entry(id).WrappedJob.Run()
	}

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
	return nil
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct{ l logger.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug().Fields(kv).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error().Err(err).Fields(kv).Msg(msg)
}
