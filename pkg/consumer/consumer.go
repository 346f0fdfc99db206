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

// Package consumer is the Signal Consumer: it drains the Message Queue,
// updates the Aggregator, samples signals into the Durable Store, and
// invalidates the tenant's read-cache key prefix (spec.md §4.1). A signal
// is acked only once every step it cannot tolerate failing has succeeded;
// any other failure nacks the message for redelivery.
package consumer

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mchmarny/trafficctl/pkg/defaults"
	"github.com/mchmarny/trafficctl/pkg/durable"
	"github.com/mchmarny/trafficctl/pkg/faststore"
	"github.com/mchmarny/trafficctl/pkg/queue"
	"github.com/mchmarny/trafficctl/pkg/signal"
)

type aggregatorUpdater interface {
	Update(ctx context.Context, s *signal.Signal) error
}

type signalStore interface {
	Insert(ctx context.Context, s *signal.Signal) error
}

type cacheInvalidator interface {
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	Del(ctx context.Context, keys ...string) error
}

type messageQueue interface {
	Fetch(ctx context.Context) ([]queue.Message, error)
	ReclaimStale(ctx context.Context, minIdle time.Duration) ([]queue.Message, error)
	Ack(ctx context.Context, id string) error
	Nack(ctx context.Context, msg queue.Message) error
}

// Consumer drains the signal stream, updates real-time aggregates, and
// samples signals into durable storage.
type Consumer struct {
	queue        messageQueue
	aggregator   aggregatorUpdater
	signals      signalStore
	cache        cacheInvalidator
	samplingRate float64
	poolSize     int
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithSamplingRate overrides the success-signal persistence probability.
func WithSamplingRate(rate float64) Option {
	return func(c *Consumer) { c.samplingRate = rate }
}

// WithPoolSize overrides defaults.ConsumerWorkerPoolSize.
func WithPoolSize(n int) Option {
	return func(c *Consumer) { c.poolSize = n }
}

// New builds a Consumer over an existing Queue, Aggregator, and Durable
// Store.
func New(q *queue.Queue, agg aggregatorUpdater, store *durable.Store, fast *faststore.Store, samplingRate float64, opts ...Option) *Consumer {
	c := &Consumer{
		queue:        q,
		aggregator:   agg,
		signals:      store.Signals(),
		cache:        fast,
		samplingRate: samplingRate,
		poolSize:     defaults.ConsumerWorkerPoolSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newForTest(q messageQueue, agg aggregatorUpdater, signals signalStore, cache cacheInvalidator, samplingRate float64) *Consumer {
	return &Consumer{queue: q, aggregator: agg, signals: signals, cache: cache, samplingRate: samplingRate, poolSize: defaults.ConsumerWorkerPoolSize}
}

// Run blocks, fetching and processing batches of signals until ctx is
// canceled. A background reclaim pass recovers entries abandoned by a
// consumer that died mid-processing.
func (c *Consumer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.drainLoop(gctx) })
	g.Go(func() error { return c.reclaimLoop(gctx) })

	return g.Wait()
}

func (c *Consumer) drainLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		messages, err := c.queue.Fetch(ctx)
		if err != nil {
			slog.Error("consumer: fetch failed", "error", err)
			continue
		}
		if len(messages) == 0 {
			continue
		}

		c.processBatch(ctx, messages)
	}
}

func (c *Consumer) reclaimLoop(ctx context.Context) error {
	ticker := time.NewTicker(defaults.ConsumerReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			messages, err := c.queue.ReclaimStale(ctx, defaults.ConsumerStaleMinIdle)
			if err != nil {
				slog.Error("consumer: reclaim failed", "error", err)
				continue
			}
			if len(messages) > 0 {
				slog.Info("consumer: reclaimed stale entries", "count", len(messages))
				c.processBatch(ctx, messages)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// processBatch runs up to poolSize messages concurrently, each through
// Process, acking or nacking independently so one bad message never
// blocks the rest of the batch.
func (c *Consumer) processBatch(ctx context.Context, messages []queue.Message) {
	sem := make(chan struct{}, c.poolSize)
	var wg sync.WaitGroup

	for _, msg := range messages {
		msg := msg
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.handle(ctx, msg)
		}()
	}
	wg.Wait()
}

func (c *Consumer) handle(ctx context.Context, msg queue.Message) {
	if err := c.Process(ctx, msg.Signal); err != nil {
		slog.Warn("consumer: processing failed, nacking", "id", msg.ID, "error", err)
		if nackErr := c.queue.Nack(ctx, msg); nackErr != nil {
			slog.Error("consumer: nack failed", "id", msg.ID, "error", nackErr)
		}
		return
	}
	if err := c.queue.Ack(ctx, msg.ID); err != nil {
		slog.Error("consumer: ack failed", "id", msg.ID, "error", err)
	}
}

// Process applies the four-step contract of spec.md §4.1 to a single
// signal. Step 1 (aggregator update) is reported but never fatal to the
// caller: a failed real-time aggregate never blocks persistence or cache
// invalidation, matching the Python original's "always attempt every
// step" resilience. Steps 2-4 propagate their errors so Process signals
// the caller to nack and retry the whole message.
func (c *Consumer) Process(ctx context.Context, s *signal.Signal) error {
	if err := c.aggregator.Update(ctx, s); err != nil {
		slog.Warn("consumer: aggregator update failed", "tenant", s.TenantID, "service", s.ServiceName, "endpoint", s.Endpoint, "error", err)
	}

	if c.shouldPersist(s) {
		if err := c.signals.Insert(ctx, s); err != nil {
			return err
		}
	}

	return c.invalidateCache(ctx, s.TenantID)
}

// shouldPersist implements the sampling rule: every error is stored, and
// successes are stored with probability samplingRate.
func (c *Consumer) shouldPersist(s *signal.Signal) bool {
	if s.Status == signal.StatusError {
		return true
	}
	return rand.Float64() < c.samplingRate
}

// cacheKeyPattern is the read-cache's tenant key prefix glob; pkg/httpapi
// writes under this prefix when it caches a Decision API response, and
// this is the pattern the Consumer sweeps on every signal so a stale
// cached verdict never outlives the traffic it was computed from.
func cacheKeyPattern(tenantID string) string {
	return "decision_cache:tenant:" + tenantID + ":*"
}

func (c *Consumer) invalidateCache(ctx context.Context, tenantID string) error {
	keys, err := c.cache.ScanKeys(ctx, cacheKeyPattern(tenantID))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.cache.Del(ctx, keys...)
}
