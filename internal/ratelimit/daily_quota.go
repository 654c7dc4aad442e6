package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
)

// Increments the day counter unless it already reached the limit.
// Returns 1 when a slot was taken.
const quotaAcquireScript = `
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= limit then
  return 0
end

current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return 1
`

const quotaReleaseScript = `
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current > 0 then
  return redis.call("DECR", KEYS[1])
end
return 0
`

const quotaKeyTTL = 48 * time.Hour

// DailyQuota counts reminders sent per company per calendar day.
type DailyQuota struct {
	client  *redis.Client
	acquire *redis.Script
	release *redis.Script
	loc     func() *time.Location
}

var _ domain.SendQuota = (*DailyQuota)(nil)

// NewDailyQuota buckets days in the location returned by loc, so the
// counter rolls over at local midnight.
func NewDailyQuota(client *redis.Client, loc func() *time.Location) *DailyQuota {
	if loc == nil {
		loc = func() *time.Location { return time.UTC }
	}
	return &DailyQuota{
		client:  client,
		acquire: redis.NewScript(quotaAcquireScript),
		release: redis.NewScript(quotaReleaseScript),
		loc:     loc,
	}
}

func (q *DailyQuota) key(companyID snowflake.ID, at time.Time) string {
	return fmt.Sprintf("reminder:quota:%s:%s", companyID.String(), at.In(q.loc()).Format(time.DateOnly))
}

func (q *DailyQuota) Acquire(ctx context.Context, companyID snowflake.ID, at time.Time, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	if q == nil || q.client == nil {
		return false, errors.New("quota client not configured")
	}
	res, err := q.acquire.Run(ctx, q.client, []string{q.key(companyID, at)}, limit, quotaKeyTTL.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release returns a slot taken by Acquire. Callers must not release after an
// unlimited Acquire, which takes nothing.
func (q *DailyQuota) Release(ctx context.Context, companyID snowflake.ID, at time.Time) error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.release.Run(ctx, q.client, []string{q.key(companyID, at)}).Err()
}

// NoOpQuota never limits. Used when redis is not configured.
type NoOpQuota struct{}

func (NoOpQuota) Acquire(context.Context, snowflake.ID, time.Time, int) (bool, error) {
	return true, nil
}

func (NoOpQuota) Release(context.Context, snowflake.ID, time.Time) error {
	return nil
}
