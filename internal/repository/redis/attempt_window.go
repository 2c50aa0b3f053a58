package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arklim/session-gate/internal/core/port"
)

// acquireAttemptScript trims the window, conditionally records the attempt and reports the resulting state
// in one round trip so concurrent callers cannot overshoot the limit.
//
// KEYS[1] window key
// ARGV[1] attempt score (unix ms), ARGV[2] trim threshold (unix ms), ARGV[3] limit,
// ARGV[4] member, ARGV[5] key ttl (ms)
var acquireAttemptScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < tonumber(ARGV[3]) then
	redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call("PEXPIRE", KEYS[1], ARGV[5])
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local score = ""
if oldest[2] then
	score = oldest[2]
end
return {allowed, count, score}
`)

// SlidingWindowConfig defines configuration for the sliding window limiter.
type SlidingWindowConfig struct {
	KeyPrefix string
}

// AttemptWindowRepository persists rate-limit attempts in Redis sorted sets.
type AttemptWindowRepository struct {
	client *redis.Client
	cfg    SlidingWindowConfig
}

// NewAttemptWindowRepository constructs a repository using the provided Redis client and config.
func NewAttemptWindowRepository(client *redis.Client, cfg SlidingWindowConfig) *AttemptWindowRepository {
	return &AttemptWindowRepository{client: client, cfg: cfg}
}

// Acquire records an attempt at the supplied time when the window still has room.
func (r *AttemptWindowRepository) Acquire(ctx context.Context, identifier string, limit int, window time.Duration, at time.Time) (port.AttemptWindow, error) {
	if window <= 0 {
		return port.AttemptWindow{}, errors.New("window must be positive")
	}
	if limit <= 0 {
		return port.AttemptWindow{}, errors.New("limit must be positive")
	}

	nowMs := at.UnixMilli()
	threshold := at.Add(-window).UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	values, err := acquireAttemptScript.Run(ctx, r.client, []string{r.key(identifier)},
		strconv.FormatInt(nowMs, 10),
		strconv.FormatInt(threshold, 10),
		strconv.Itoa(limit),
		member,
		strconv.FormatInt(window.Milliseconds(), 10),
	).Slice()
	if err != nil {
		return port.AttemptWindow{}, fmt.Errorf("redis acquire attempt: %w", err)
	}
	if len(values) != 3 {
		return port.AttemptWindow{}, fmt.Errorf("redis acquire attempt: unexpected reply length %d", len(values))
	}

	allowed, _ := values[0].(int64)
	count, _ := values[1].(int64)
	result := port.AttemptWindow{Allowed: allowed == 1, Count: int(count)}

	if raw, ok := values[2].(string); ok && raw != "" {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return port.AttemptWindow{}, fmt.Errorf("parse oldest attempt: %w", err)
		}
		result.Oldest = time.UnixMilli(int64(score)).UTC()
	}

	return result, nil
}

func (r *AttemptWindowRepository) key(identifier string) string {
	if r.cfg.KeyPrefix == "" {
		return identifier
	}
	return fmt.Sprintf("%s:%s", r.cfg.KeyPrefix, identifier)
}

var _ port.AttemptWindowStore = (*AttemptWindowRepository)(nil)
