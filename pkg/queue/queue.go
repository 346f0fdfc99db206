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

// Package queue is the Message Queue between the Ingest API and the Signal
// Consumer. It is a Redis Stream with a consumer group: XADD to publish,
// XREADGROUP to claim a batch, XACK on success, and XAUTOCLAIM to recover
// entries abandoned by a dead consumer. A message is moved to the
// dead-letter stream when its QueueMaxDeliveries-th delivery fails.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mchmarny/trafficctl/pkg/defaults"
	cnserrors "github.com/mchmarny/trafficctl/pkg/errors"
	"github.com/mchmarny/trafficctl/pkg/signal"
)

const (
	streamKey     = "signals_stream"
	deadLetterKey = "signals_stream:dead"
	consumerGroup = "signal-consumers"
	payloadField  = "payload"
	deliveryField = "deliveries"
)

// Queue wraps a Redis client configured as the signal stream and its
// consumer group. It shares the faststore's Redis dependency under a
// distinct key namespace rather than opening a second connection pool.
type Queue struct {
	client       *redis.Client
	consumerName string
}

// Option is a functional option for configuring a Queue.
type Option func(*options)

type options struct {
	addr         string
	password     string
	db           int
	consumerName string
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

// WithConsumerName returns an Option that sets this process's consumer
// identity within the group, used by XREADGROUP/XCLAIM/XPENDING. Defaults
// to "worker" if unset; processes running more than one consumer instance
// must set a unique name.
func WithConsumerName(name string) Option {
	return func(o *options) { o.consumerName = name }
}

// New builds a Queue and ensures the stream and consumer group exist.
func New(ctx context.Context, opts ...Option) (*Queue, error) {
	o := &options{consumerName: "worker"}
	for _, opt := range opts {
		opt(o)
	}

	client := redis.NewClient(&redis.Options{
		Addr:        o.addr,
		Password:    o.password,
		DB:          o.db,
		DialTimeout: defaults.FastStoreDialTimeout,
	})

	q := &Queue{client: client, consumerName: o.consumerName}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) ensureGroup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaults.QueueAckTimeout)
	defer cancel()

	err := q.client.XGroupCreateMkStream(ctx, streamKey, consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("queue: ensure group: %w", err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Publish appends a Signal to the stream, trimming entries older than
// QueueMessageTTL with an approximate MINID trim. Stream-level trimming is
// the Redis-idiomatic equivalent of the per-message TTL the original queue
// enforced (see DESIGN.md); it is approximate rather than exact.
func (q *Queue) Publish(ctx context.Context, s *signal.Signal) error {
	ctx, cancel := context.WithTimeout(ctx, defaults.QueueAckTimeout)
	defer cancel()

	body, err := encode(s)
	if err != nil {
		return cnserrors.New(cnserrors.ErrCodeInternal, "encode signal for queue")
	}

	minID := fmt.Sprintf("%d", time.Now().Add(-defaults.QueueMessageTTL).UnixMilli())
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MinID:  minID,
		Approx: true,
		Values: map[string]any{
			payloadField:  body,
			deliveryField: 0,
		},
	}).Err()
	if err != nil {
		return cnserrors.New(cnserrors.ErrCodeQueueUnavailable, "publish signal to queue")
	}
	return nil
}

// Message is one claimed stream entry awaiting Ack or Nack.
type Message struct {
	ID         string
	Signal     *signal.Signal
	Deliveries int64
}

// Fetch claims up to QueuePrefetchCount unread entries for this consumer,
// blocking up to QueueReadBlockTimeout for new entries if none are pending.
func (q *Queue) Fetch(ctx context.Context) ([]Message, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: q.consumerName,
		Streams:  []string{streamKey, ">"},
		Count:    defaults.QueuePrefetchCount,
		Block:    defaults.QueueReadBlockTimeout,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, cnserrors.New(cnserrors.ErrCodeQueueUnavailable, "read from queue")
	}

	var messages []Message
	for _, stream := range res {
		for _, entry := range stream.Messages {
			msg, decodeErr := decodeEntry(entry)
			if decodeErr != nil {
				// malformed entry: ack it so it doesn't block the group forever
				q.client.XAck(ctx, streamKey, consumerGroup, entry.ID)
				continue
			}
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

// Ack acknowledges successful processing of a message, removing it from
// the pending entries list.
func (q *Queue) Ack(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaults.QueueAckTimeout)
	defer cancel()

	if err := q.client.XAck(ctx, streamKey, consumerGroup, id).Err(); err != nil {
		return fmt.Errorf("queue: ack %s: %w", id, err)
	}
	return nil
}

// Nack reports a failed processing attempt. If the message's delivery
// count is still under QueueMaxDeliveries, it is re-appended with an
// incremented counter and the original acked so the group's claim clears;
// otherwise it is moved to the dead-letter stream.
func (q *Queue) Nack(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, defaults.QueueAckTimeout)
	defer cancel()

	if msg.Deliveries+1 >= defaults.QueueMaxDeliveries {
		if err := q.deadLetter(ctx, msg); err != nil {
			return err
		}
		return q.client.XAck(ctx, streamKey, consumerGroup, msg.ID).Err()
	}

	body, err := encode(msg.Signal)
	if err != nil {
		return fmt.Errorf("queue: re-encode for retry: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{
			payloadField:  body,
			deliveryField: msg.Deliveries + 1,
		},
	})
	pipe.XAck(ctx, streamKey, consumerGroup, msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: requeue %s: %w", msg.ID, err)
	}
	return nil
}

func (q *Queue) deadLetter(ctx context.Context, msg Message) error {
	body, err := encode(msg.Signal)
	if err != nil {
		return fmt.Errorf("queue: encode for dead-letter: %w", err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: deadLetterKey,
		Values: map[string]any{
			payloadField:  body,
			deliveryField: msg.Deliveries + 1,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: dead-letter %s: %w", msg.ID, err)
	}
	return nil
}

// ReclaimStale re-delivers entries that have been pending for longer than
// minIdle without being acked, indicating their original consumer died
// mid-processing. It returns the reclaimed messages for immediate retry.
func (q *Queue) ReclaimStale(ctx context.Context, minIdle time.Duration) ([]Message, error) {
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamKey,
		Group:    consumerGroup,
		Consumer: q.consumerName,
		MinIdle:  minIdle,
		Start:    "0",
		Count:    defaults.QueuePrefetchCount,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: reclaim stale: %w", err)
	}

	var messages []Message
	for _, entry := range claimed {
		msg, decodeErr := decodeEntry(entry)
		if decodeErr != nil {
			q.client.XAck(ctx, streamKey, consumerGroup, entry.ID)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// PendingCount returns the number of entries claimed but not yet acked,
// used by the operator CLI and health checks to detect a stuck consumer.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	summary, err := q.client.XPending(ctx, streamKey, consumerGroup).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: pending count: %w", err)
	}
	return summary.Count, nil
}

// DeadLetterLen returns the number of entries in the dead-letter stream.
func (q *Queue) DeadLetterLen(ctx context.Context) (int64, error) {
	n, err := q.client.XLen(ctx, deadLetterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: dead-letter length: %w", err)
	}
	return n, nil
}
