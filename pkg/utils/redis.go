package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Basic timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pool tuning
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// setTaggedScript writes a value with TTL and records its key in a tag set, so a
// whole family of keys can be dropped later without SCAN. The write is skipped
// when the epoch moved since the caller read it.
var setTaggedScript = redis.NewScript(`
-- KEYS[1] = value key
-- KEYS[2] = tag set key
-- KEYS[3] = epoch key
-- ARGV[1] = value
-- ARGV[2] = ttl_ms (int)
-- ARGV[3] = epoch observed before the value was read
local cur = redis.call('GET', KEYS[3])
if not cur then
  cur = '0'
end
if cur ~= ARGV[3] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SADD', KEYS[2], KEYS[1])
local tagTTL = redis.call('PTTL', KEYS[2])
if tagTTL < tonumber(ARGV[2]) then
  redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
return 1
`)

var invalidateTagScript = redis.NewScript(`
-- KEYS[1] = tag set key
-- KEYS[2] = epoch key
-- Returns number of value keys deleted.
redis.call('INCR', KEYS[2])
local members = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, k in ipairs(members) do
  n = n + redis.call('DEL', k)
end
redis.call('DEL', KEYS[1])
return n
`)

// TagEpoch returns the current invalidation epoch. A missing key is epoch 0.
func TagEpoch(ctx context.Context, rdb redis.Cmdable, epochKey string) (int64, error) {
	if rdb == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	n, err := rdb.Get(ctx, epochKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// SetTagged stores value under key with ttl and adds key to the tag set, but only
// if epochKey still holds epoch. Read the epoch with TagEpoch before loading the
// value; a concurrent InvalidateTag then turns this write into a no-op.
//
// Safety properties:
// - Atomic compare + write + tag using Lua.
// - The tag set never expires before its newest member.
func SetTagged(ctx context.Context, rdb redis.Scripter, key, tag, epochKey string, epoch int64, value []byte, ttl time.Duration) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if key == "" || tag == "" || epochKey == "" {
		return false, fmt.Errorf("key, tag and epoch key are required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be > 0")
	}
	n, err := setTaggedScript.Run(ctx, rdb, []string{key, tag, epochKey}, value, ttl.Milliseconds(), epoch).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// InvalidateTag bumps the epoch, then deletes every key recorded under tag and
// returns how many existed.
func InvalidateTag(ctx context.Context, rdb redis.Scripter, tag, epochKey string) (int, error) {
	if rdb == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	if tag == "" || epochKey == "" {
		return 0, fmt.Errorf("tag and epoch key are required")
	}
	return invalidateTagScript.Run(ctx, rdb, []string{tag, epochKey}).Int()
}
