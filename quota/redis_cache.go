// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Redis-backed cross-instance quota mirror. Grounded on
// agent/redis_rate_limit.go's initRedis/fail-open pattern: a best-effort
// side channel that lets several proxy replicas converge on the same
// remaining-capacity view without making Redis a hard dependency of the
// request path.
package quota

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"apikeyrouter/domain"
)

const redisKeyPrefix = "apikeyrouter:quota:"

// RedisMirror mirrors per-key quota state into Redis so that multiple
// Engine instances (one per replica) observe each other's consumption
// instead of each tracking capacity in isolation.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMirror parses redisURL (as accepted by redis.ParseURL, e.g.
// redis://host:6379/0) and verifies connectivity with a short-lived ping,
// mirroring initRedis's parse-then-ping shape.
func NewRedisMirror(redisURL string) (*RedisMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisMirror{client: client, ttl: time.Hour}, nil
}

// Close releases the underlying connection pool.
func (m *RedisMirror) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// Sync writes the quota snapshot's used/total capacity under a hash keyed
// by key id. Failures are swallowed by the caller (fail open), matching
// checkRateLimitRedis's "on Redis error, allow and log" behavior rather
// than letting a cache outage fail a request that would otherwise succeed.
func (m *RedisMirror) Sync(ctx context.Context, q *domain.QuotaState) error {
	if m == nil || m.client == nil {
		return nil
	}
	key := redisKeyPrefix + q.KeyID
	pipe := m.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"used_capacity":  q.UsedCapacity,
		"total_capacity": q.TotalCapacity,
		"capacity_state": string(q.CapacityState),
		"updated_at":     q.UpdatedAt.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, m.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Load returns the last mirrored used/total capacity for keyID, if any
// replica has synced one. A miss or error returns ok=false so EnsureState
// falls back to its own Abundant default.
func (m *RedisMirror) Load(ctx context.Context, keyID string) (usedCapacity, totalCapacity int64, ok bool) {
	if m == nil || m.client == nil {
		return 0, 0, false
	}
	vals, err := m.client.HMGet(ctx, redisKeyPrefix+keyID, "used_capacity", "total_capacity").Result()
	if err != nil || len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return 0, 0, false
	}
	usedStr, okUsed := vals[0].(string)
	totalStr, okTotal := vals[1].(string)
	if !okUsed || !okTotal {
		return 0, 0, false
	}
	used, errUsed := strconv.ParseInt(usedStr, 10, 64)
	total, errTotal := strconv.ParseInt(totalStr, 10, 64)
	if errUsed != nil || errTotal != nil {
		return 0, 0, false
	}
	return used, total, true
}
