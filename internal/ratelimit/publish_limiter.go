package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// PublishLimiter enforces a minimum spacing between successful publishes per
// owner, backed by Redis so the window survives restarts. Reads and writes go
// through Lua scripts to keep the per-owner check-and-record atomic.
type PublishLimiter struct {
	client      *redis.Client
	minInterval time.Duration
}

// NewPublishLimiter constructs a limiter with the provided minimum interval.
func NewPublishLimiter(client *redis.Client, minInterval time.Duration) *PublishLimiter {
	return &PublishLimiter{
		client:      client,
		minInterval: minInterval,
	}
}

func ownerKey(ownerID string) string {
	return "publish:last:" + ownerID
}

// CanPublish reports whether a publish for ownerID is currently permitted:
// true when no publish was ever recorded, or when the last one is at least
// the minimum interval in the past.
func (l *PublishLimiter) CanPublish(ctx context.Context, ownerID string, now time.Time) (bool, error) {
	res, err := canPublishScript.Run(ctx, l.client, []string{ownerKey(ownerID)},
		now.UnixMilli(), l.minInterval.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, nil
	}
	return allowed == 1, nil
}

// RecordPublish upserts the owner's last publish timestamp. Idempotent: an
// older timestamp never overwrites a newer one.
func (l *PublishLimiter) RecordPublish(ctx context.Context, ownerID string, now time.Time) error {
	return recordPublishScript.Run(ctx, l.client, []string{ownerKey(ownerID)}, now.UnixMilli()).Err()
}

var canPublishScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
if not last then return 1 end
local now = tonumber(ARGV[1])
local min = tonumber(ARGV[2])
if now - tonumber(last) >= min then return 1 end
return 0
`)

var recordPublishScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local last = redis.call('GET', KEYS[1])
if not last or tonumber(last) < now then
  redis.call('SET', KEYS[1], now)
end
return 0
`)
