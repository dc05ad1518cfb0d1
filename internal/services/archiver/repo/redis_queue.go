package repo

import (
	"context"
	"strconv"
	"strings"
	"time"

	perr "archiver/internal/platform/errors"
	"archiver/internal/services/archiver/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// leaseScript first re-leases expired members of the lease set, then pops
// fresh jobs off the list, all atomically.
// KEYS: list, lease zset. ARGV: now ms, expiry ms, max count
var leaseScript = redis.NewScript(`
local out = {}
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, m in ipairs(expired) do
	redis.call('ZADD', KEYS[2], ARGV[2], m)
	table.insert(out, m)
end
local left = tonumber(ARGV[3]) - #out
while left > 0 do
	local m = redis.call('LPOP', KEYS[1])
	if not m then break end
	redis.call('ZADD', KEYS[2], ARGV[2], m)
	table.insert(out, m)
	left = left - 1
end
return out
`)

type redisQueue struct {
	client *redis.Client
	list   string
	leased string
}

// NewRedisQueue returns a queue kept in a LIST of pending members and a
// ZSET of leased members scored by lease expiry. A member is
// "<uuid>|<query>" so identical jobs stay distinct
func NewRedisQueue(client *redis.Client, ns string) domain.JobQueue {
	if ns == "" {
		ns = DefaultNamespace
	}
	return &redisQueue{client: client, list: ns + ":queue", leased: ns + ":queue:leased"}
}

func (q *redisQueue) Enqueue(ctx context.Context, j domain.Job) error {
	member := uuid.NewString() + "|" + j.Query()
	if err := q.client.RPush(ctx, q.list, member).Err(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "enqueue job")
	}
	return nil
}

func (q *redisQueue) Peek(ctx context.Context) (int64, error) {
	var pending, leased *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		pending = p.LLen(ctx, q.list)
		leased = p.ZCard(ctx, q.leased)
		return nil
	})
	if err != nil {
		return 0, perr.Wrap(err, perr.ErrorCodeUnavailable, "peek queue")
	}
	return pending.Val() + leased.Val(), nil
}

func (q *redisQueue) Lease(ctx context.Context, n int, leaseFor time.Duration) ([]domain.Leased, error) {
	now := time.Now()
	res, err := leaseScript.Run(ctx, q.client, []string{q.list, q.leased},
		now.UnixMilli(), now.Add(leaseFor).UnixMilli(), n).StringSlice()
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "lease jobs")
	}
	out := make([]domain.Leased, 0, len(res))
	for _, m := range res {
		_, query, _ := strings.Cut(m, "|")
		out = append(out, domain.Leased{ID: m, Query: query, Attempts: 1})
	}
	return out, nil
}

func (q *redisQueue) Ack(ctx context.Context, l domain.Leased) error {
	if err := q.client.ZRem(ctx, q.leased, l.ID).Err(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "ack job "+strconv.Quote(l.ID))
	}
	return nil
}
