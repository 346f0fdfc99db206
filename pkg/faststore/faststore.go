// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package faststore is the in-memory hot-path store backing the Aggregator
// and the Decision Engine. It is backed by Redis: atomic numeric ops via a
// Lua script, sorted sets for the bounded latency reservoir, key TTL, and
// pattern scan for the Snapshot worker.
package faststore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mchmarny/trafficctl/pkg/defaults"
)

// Store wraps a Redis client with the atomic primitives the Aggregator and
// Decision Engine need on the hot path.
type Store struct {
	client *redis.Client
}

// Option is a functional option for configuring a Store.
type Option func(*options)

type options struct {
	addr        string
	password    string
	db          int
	poolSize    int
	dialTimeout int // seconds, kept simple for the functional-option surface
}

// WithAddr returns an Option that sets the Redis address (host:port).
func WithAddr(addr string) Option {
	return func(o *options) { o.addr = addr }
}

// WithPassword returns an Option that sets the Redis AUTH password.
func WithPassword(password string) Option {
	return func(o *options) { o.password = password }
}

// WithDB returns an Option that selects the logical Redis database.
func WithDB(db int) Option {
	return func(o *options) { o.db = db }
}

// WithPoolSize returns an Option that overrides the default connection pool size.
func WithPoolSize(size int) Option {
	return func(o *options) { o.poolSize = size }
}

// New constructs a Store from a set of Options, applying the package
// defaults for anything not overridden.
func New(opts ...Option) *Store {
	o := &options{
		addr:     "localhost:6379",
		db:       0,
		poolSize: defaults.FastStorePoolSize,
	}
	for _, opt := range opts {
		opt(o)
	}

	client := redis.NewClient(&redis.Options{
		Addr:        o.addr,
		Password:    o.password,
		DB:          o.db,
		PoolSize:    o.poolSize,
		DialTimeout: defaults.FastStoreDialTimeout,
	})

	return &Store{client: client}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies connectivity to Redis.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// WindowCounters is the atomic (count, sumLatency, errorCount) triple for
// one aggregate key.
type WindowCounters struct {
	Count      int64
	SumLatency int64
	Errors     int64
}

// incrWindowScript atomically increments the three window counters stored
// as hash fields and refreshes the key's TTL in one round trip, matching
// the spec's single-atomic-operation contract (the original Python reads
// a JSON blob, mutates it in the application, and writes it back — a
// non-atomic read-modify-write under concurrent writers; this rewrites
// the same update as a server-side Lua script so it is genuinely atomic).
var incrWindowScript = redis.NewScript(`
redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('HINCRBY', KEYS[1], 'sum_latency', ARGV[1])
if ARGV[2] == '1' then
	redis.call('HINCRBY', KEYS[1], 'errors', 1)
end
redis.call('EXPIRE', KEYS[1], ARGV[3])
local vals = redis.call('HMGET', KEYS[1], 'count', 'sum_latency', 'errors')
return vals
`)

// IncrWindow applies one signal's contribution to the window aggregate at
// key, refreshing its TTL, and returns the updated counters.
func (s *Store) IncrWindow(ctx context.Context, key string, latencyMS int, isError bool, ttlSeconds int64) (WindowCounters, error) {
	errFlag := "0"
	if isError {
		errFlag = "1"
	}

	res, err := incrWindowScript.Run(ctx, s.client, []string{key}, latencyMS, errFlag, ttlSeconds).Result()
	if err != nil {
		return WindowCounters{}, fmt.Errorf("incr window %s: %w", key, err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return WindowCounters{}, fmt.Errorf("incr window %s: unexpected script result", key)
	}

	return WindowCounters{
		Count:      parseInt64(vals[0]),
		SumLatency: parseInt64(vals[1]),
		Errors:     parseInt64(vals[2]),
	}, nil
}

// GetWindow reads the current counters for key without mutating them.
// found is false when the key does not exist (e.g. a fresh window).
func (s *Store) GetWindow(ctx context.Context, key string) (counters WindowCounters, found bool, err error) {
	vals, err := s.client.HMGet(ctx, key, "count", "sum_latency", "errors").Result()
	if err != nil {
		return WindowCounters{}, false, fmt.Errorf("get window %s: %w", key, err)
	}
	if vals[0] == nil {
		return WindowCounters{}, false, nil
	}
	return WindowCounters{
		Count:      parseInt64(vals[0]),
		SumLatency: parseInt64(vals[1]),
		Errors:     parseInt64(vals[2]),
	}, true, nil
}

// AddLatencySample appends a latency observation to the bounded reservoir
// sorted set at key, trimming it to limit entries and refreshing its TTL.
// The set is scored by the ingest sequence, not the latency value, so
// ZRemRangeByRank always evicts the oldest-inserted sample first, matching
// spec.md §3/§4.2's "drop the oldest" reservoir invariant regardless of how
// latency values happen to correlate with arrival order. The latency itself
// rides along in the member payload and is recovered by LatencySamples.
func (s *Store) AddLatencySample(ctx context.Context, key string, seq uint64, latencyMS int, limit int64, ttlSeconds int64) error {
	member := fmt.Sprintf("%020d:%d", seq, latencyMS)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(seq), Member: member})
	pipe.ZRemRangeByRank(ctx, key, 0, -limit-1)
	pipe.Expire(ctx, key, secondsToDuration(ttlSeconds))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("add latency sample %s: %w", key, err)
	}
	return nil
}

// LatencySamples returns the reservoir's latency values in ingest order
// (ascending sequence); callers that need percentiles sort the returned
// slice by value first.
func (s *Store) LatencySamples(ctx context.Context, key string) ([]float64, error) {
	members, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("latency samples %s: %w", key, err)
	}
	out := make([]float64, 0, len(members))
	for _, member := range members {
		latencyMS, ok := parseLatencyMember(member)
		if !ok {
			continue
		}
		out = append(out, latencyMS)
	}
	return out, nil
}

// parseLatencyMember recovers the latency value encoded in an
// AddLatencySample member ("<seq>:<latencyMS>"); the seq prefix is only
// used as the ZSET score and is discarded here.
func parseLatencyMember(member string) (latencyMS float64, ok bool) {
	_, latencyPart, found := strings.Cut(member, ":")
	if !found {
		return 0, false
	}
	n, err := strconv.ParseFloat(latencyPart, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IncrPerClient increments the per-client minute bucket at key and sets its
// TTL, returning the updated count.
func (s *Store) IncrPerClient(ctx context.Context, key string, ttlSeconds int64) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, "count", 1)
	pipe.Expire(ctx, key, secondsToDuration(ttlSeconds))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr per-client %s: %w", key, err)
	}
	return incr.Val(), nil
}

// ScanKeys returns every key matching pattern, used by the Snapshot worker
// to enumerate active aggregates without blocking Redis (SCAN, not KEYS).
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Del removes one or more keys, used for read-cache invalidation.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func parseInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		var n int64
		_, _ = fmt.Sscanf(t, "%d", &n)
		return n
	default:
		return 0
	}
}

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}
