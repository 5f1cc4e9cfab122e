package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
	"github.com/JakeFAU/ipo-allotment-checker/internal/clock/system"
	"github.com/JakeFAU/ipo-allotment-checker/internal/metrics"
)

// RedisConfig describes how to reach the shared Redis instance.
type RedisConfig struct {
	URL         string
	PoolSize    int
	DialTimeout time.Duration
}

// Connect parses cfg.URL, applies overrides and verifies the connection.
func Connect(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis.url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// slidingWindowScript prunes, counts and conditionally records in one round trip.
// Scores are unix milliseconds. Returns {allowed, remaining, reset_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local reset = window
  if oldest[2] then
    reset = tonumber(oldest[2]) + window - now
  end
  return {0, 0, reset}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, limit - count - 1, 0}
`)

// RedisGovernor shares sliding windows across instances through Redis sorted sets.
type RedisGovernor struct {
	client redis.Scripter
	cfg    GovernorConfig
	clock  allotment.Clock
	prefix string
}

// NewRedisGovernor builds a RedisGovernor. Keys are namespaced under prefix.
func NewRedisGovernor(client redis.Scripter, cfg GovernorConfig, clock allotment.Clock, prefix string) *RedisGovernor {
	if clock == nil {
		clock = system.New()
	}
	if prefix == "" {
		prefix = "allotment:ratelimit:"
	}
	return &RedisGovernor{client: client, cfg: cfg.withDefaults(), clock: clock, prefix: prefix}
}

// Check admits or denies one request for identifier.
func (g *RedisGovernor) Check(ctx context.Context, identifier string) (allotment.Decision, error) {
	now := g.clock.Now().UnixMilli()
	vals, err := slidingWindowScript.Run(ctx, g.client,
		[]string{g.prefix + identifier},
		now, g.cfg.Window.Milliseconds(), g.cfg.MaxRequests, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return allotment.Decision{}, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(vals) != 3 {
		return allotment.Decision{}, fmt.Errorf("redis sliding window: unexpected reply length %d", len(vals))
	}
	decision := allotment.Decision{
		Allowed:   vals[0] == 1,
		Remaining: int(vals[1]),
		ResetIn:   time.Duration(vals[2]) * time.Millisecond,
	}
	if !decision.Allowed {
		metrics.ObserveRateLimitDenied()
	}
	return decision, nil
}
