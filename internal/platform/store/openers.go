package store

import (
	"context"
	"fmt"
	"time"

	chx "archiver/internal/platform/store/ch"
	"archiver/internal/platform/store/pg"

	"github.com/redis/go-redis/v9"
)

// backoff bounds for the boot ping loop
var (
	backoffStart   = 150 * time.Millisecond
	backoffCeiling = 2 * time.Second
	sleep          = time.Sleep
)

// pingWithRetry pings until success, ctx cancellation or attempts run out
func pingWithRetry(ctx context.Context, name string, attempts int, timeout time.Duration, ping func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 20
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	var lastErr error
	wait := backoffStart
	for i := 0; i < attempts; i++ {
		toCtx, cancel := context.WithTimeout(ctx, timeout)
		lastErr = ping(toCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sleep(wait)
		wait = min(wait*2, backoffCeiling)
	}
	return fmt.Errorf("%s ping failed after %d attempts: %w", name, attempts, lastErr)
}

// openPG opens the pool, waits for it to answer, then wraps it in the sql adapter
func openPG(ctx context.Context, cfg Config, s *Store) (TxRunner, error) {
	var tracer pg.QueryTracer
	if cfg.PG.LogSQL {
		tracer = pg.Tracer(s.Log)
	}
	p, err := pg.Open(ctx, pg.Config{
		URL:      cfg.PG.URL,
		MaxConns: cfg.PG.MaxConns,
		SlowMs:   cfg.PG.SlowQueryMs,
		AppName:  cfg.AppName,

		StatementTimeout: cfg.PG.StatementTimeout,
	}, tracer)
	if err != nil {
		return nil, err
	}
	if err := pingWithRetry(ctx, "postgres", cfg.PG.ConnectRetries, cfg.PG.PingTimeout, p.Pool.Ping); err != nil {
		p.Close()
		return nil, err
	}
	return newPGAdapter(p), nil
}

func openCH(ctx context.Context, cfg Config) (Clickhouse, error) {
	c, err := chx.Open(ctx, chx.Config{URL: cfg.CH.URL, Role: cfg.CH.Role})
	if err != nil {
		return nil, err
	}
	if err := pingWithRetry(ctx, "clickhouse", 5, 0, c.Ping); err != nil {
		_ = c.Close()
		return nil, err
	}
	return newCHAdapter(c), nil
}

// newRedis is a seam for tests
var newRedis = redis.NewClient

func openRedis(ctx context.Context, cfg Config) (*redis.Client, error) {
	rc := newRedis(&redis.Options{
		Addr:       cfg.RDS.Addr,
		Password:   cfg.RDS.Password,
		DB:         cfg.RDS.DB,
		ClientName: cfg.AppName,
	})
	if err := pingWithRetry(ctx, "redis", 10, 0, func(c context.Context) error { return rc.Ping(c).Err() }); err != nil {
		_ = rc.Close()
		return nil, err
	}
	return rc, nil
}
