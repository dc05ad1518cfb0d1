package repo

import (
	"context"
	"errors"
	"time"

	perr "archiver/internal/platform/errors"
	"archiver/internal/services/archiver/domain"

	"github.com/redis/go-redis/v9"
)

// ResolvedTTL bounds how long a resolved-once marker outlives its run
const ResolvedTTL = 48 * time.Hour

type redisCounters struct {
	client *redis.Client
	prefix string
}

// NewRedisCounters returns counters stored as plain integer keys under
// "<ns>:counters:"; resolved markers live under "<ns>:resolved:"
func NewRedisCounters(client *redis.Client, ns string) domain.Counters {
	if ns == "" {
		ns = DefaultNamespace
	}
	return &redisCounters{client: client, prefix: ns}
}

func (c *redisCounters) key(name string) string { return c.prefix + ":counters:" + name }

func (c *redisCounters) Site(kind domain.CounterKind, site domain.SiteID) domain.Counter {
	return &redisCounter{client: c.client, key: c.key(counterName(kind, site))}
}

func (c *redisCounters) Global(kind domain.CounterKind) domain.Counter {
	return &redisCounter{client: c.client, key: c.key(string(kind))}
}

// Reset deletes every key under the namespace with SCAN, never KEYS
func (c *redisCounters) Reset(ctx context.Context) error {
	for _, pattern := range []string{c.prefix + ":counters:*", c.prefix + ":resolved:*"} {
		iter := c.client.Scan(ctx, 0, pattern, 500).Iterator()
		batch := make([]string, 0, 500)
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == cap(batch) {
				if err := c.client.Del(ctx, batch...).Err(); err != nil {
					return perr.Wrap(err, perr.ErrorCodeUnavailable, "reset counters")
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return perr.Wrap(err, perr.ErrorCodeUnavailable, "scan counters")
		}
		if len(batch) > 0 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return perr.Wrap(err, perr.ErrorCodeUnavailable, "reset counters")
			}
		}
	}
	return nil
}

func (c *redisCounters) MarkResolved(ctx context.Context, key string) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+":resolved:"+key, "1", ResolvedTTL).Result()
	if err != nil {
		return false, perr.Wrap(err, perr.ErrorCodeUnavailable, "mark resolved")
	}
	return ok, nil
}

type redisCounter struct {
	client *redis.Client
	key    string
}

func (r *redisCounter) Increment(ctx context.Context) (int64, error) { return r.Add(ctx, 1) }
func (r *redisCounter) Decrement(ctx context.Context) (int64, error) { return r.Add(ctx, -1) }

func (r *redisCounter) Add(ctx context.Context, n int64) (int64, error) {
	v, err := r.client.IncrBy(ctx, r.key, n).Result()
	if err != nil {
		return 0, perr.Wrap(err, perr.ErrorCodeUnavailable, "update counter")
	}
	return v, nil
}

func (r *redisCounter) Get(ctx context.Context) (int64, error) {
	v, err := r.client.Get(ctx, r.key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, perr.Wrap(err, perr.ErrorCodeUnavailable, "read counter")
	}
	return v, nil
}

func (r *redisCounter) IsEqual(ctx context.Context, n int64) (bool, error) {
	v, err := r.Get(ctx)
	return err == nil && v == n, err
}
