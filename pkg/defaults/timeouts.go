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

package defaults

import "time"

// Handler timeouts for HTTP request processing.
const (
	// IngestHandlerTimeout bounds a single POST /api/signals request.
	IngestHandlerTimeout = 5 * time.Second

	// DecisionHandlerTimeout bounds a single GET /api/config/{service}/{endpoint} request.
	DecisionHandlerTimeout = 3 * time.Second

	// DecisionFallbackTimeout bounds the raw-signal fallback query used when no
	// window aggregate exists yet for the (tenant, service, endpoint) triple.
	DecisionFallbackTimeout = 2 * time.Second

	// DecisionRawSignalLimit is the number of most-recent raw signals read when
	// both the Fast Store and the Durable snapshot have nothing for an endpoint.
	DecisionRawSignalLimit = 10

	// AlertSendTimeout bounds the background SMTP send triggered by a
	// circuit-breaker verdict; the Decision API never waits on this.
	AlertSendTimeout = 5 * time.Second
)

// Server timeouts for HTTP server configuration.
const (
	// ServerReadTimeout is the maximum duration for reading request headers.
	ServerReadTimeout = 5 * time.Second

	// ServerReadHeaderTimeout prevents slow header attacks.
	ServerReadHeaderTimeout = 5 * time.Second

	// ServerWriteTimeout is the maximum duration for writing a response.
	ServerWriteTimeout = 15 * time.Second

	// ServerIdleTimeout is the maximum duration to wait for the next request.
	ServerIdleTimeout = 120 * time.Second

	// ServerShutdownTimeout is the maximum duration for graceful shutdown.
	ServerShutdownTimeout = 30 * time.Second
)

// Fast Store (Redis) timeouts and pool sizing.
const (
	// FastStoreDialTimeout bounds establishing a connection to Redis.
	FastStoreDialTimeout = 3 * time.Second

	// FastStoreOpTimeout bounds a single Redis command (INCR, ZADD, etc).
	FastStoreOpTimeout = 500 * time.Millisecond

	// FastStorePoolSize is the number of pooled Redis connections per process.
	FastStorePoolSize = 20

	// FastStoreReservoirLimit is the maximum number of latency samples kept per
	// sliding window, per the bounded-reservoir invariant.
	FastStoreReservoirLimit = 1000
)

// Durable Store (Postgres) timeouts and pool sizing.
const (
	// DurableStoreConnectTimeout bounds establishing the connection pool.
	DurableStoreConnectTimeout = 5 * time.Second

	// DurableStoreQueryTimeout bounds a single query issued against Postgres.
	DurableStoreQueryTimeout = 3 * time.Second

	// DurableStoreMaxConns is the maximum size of the pgx connection pool.
	DurableStoreMaxConns = 10
)

// Message Queue (Redis Streams) timeouts and concurrency limits.
const (
	// QueueReadBlockTimeout bounds how long XREADGROUP blocks waiting for new entries.
	QueueReadBlockTimeout = 2 * time.Second

	// QueueAckTimeout bounds acknowledging a processed message.
	QueueAckTimeout = 1 * time.Second

	// QueuePrefetchCount is the number of unacked messages a single consumer may
	// hold at once (the COUNT argument to XREADGROUP).
	QueuePrefetchCount = 10

	// QueueMaxDeliveries is the number of delivery attempts before a message is
	// moved to the dead-letter stream.
	QueueMaxDeliveries = 5

	// QueueMessageTTL is the maximum age of a message before it is trimmed from
	// the stream, approximated via MINID trimming (see DESIGN.md).
	QueueMessageTTL = 24 * time.Hour

	// ConsumerWorkerPoolSize is the number of concurrent goroutines draining the
	// signal stream within a single consumer process.
	ConsumerWorkerPoolSize = 8

	// ConsumerReclaimInterval is how often the Consumer scans for entries
	// abandoned by a dead consumer.
	ConsumerReclaimInterval = 30 * time.Second

	// ConsumerStaleMinIdle is how long an entry may sit unacked before
	// ReclaimStale treats its original consumer as dead.
	ConsumerStaleMinIdle = 1 * time.Minute
)

// Advisor (LLM collaborator) timeouts.
const (
	// AdvisorRequestTimeout bounds a single call to the Advisor.
	AdvisorRequestTimeout = 20 * time.Second

	// AdvisorMinConfidence is the minimum confidence score the Tuner will accept
	// before applying a threshold change the Advisor recommends.
	AdvisorMinConfidence = 0.6
)

// Background worker intervals.
const (
	// TunerInterval is how often the Tuner evaluates whether thresholds need
	// retuning for an endpoint.
	TunerInterval = 15 * time.Minute

	// RollupHourlyInterval is how often the hourly rollup worker runs.
	RollupHourlyInterval = 1 * time.Hour

	// RollupDailyInterval is how often the daily rollup worker runs.
	RollupDailyInterval = 24 * time.Hour

	// SnapshotInterval is how often the Fast Store is snapshotted to the
	// Durable Store for crash recovery.
	SnapshotInterval = 30 * time.Minute

	// RetentionPeriod is how long raw signal rows are kept in the Durable Store
	// before the cleanup pass deletes them.
	RetentionPeriod = 7 * 24 * time.Hour

	// SnapshotRetentionPeriod is how long aggregate snapshot rows are kept.
	SnapshotRetentionPeriod = 30 * 24 * time.Hour

	// HourlyRollupRetentionPeriod is how long hourly rollup rows are kept;
	// daily rollups are retained indefinitely.
	HourlyRollupRetentionPeriod = 90 * 24 * time.Hour

	// CleanupInterval is how often the worker binary runs the retention
	// pass over raw signals, snapshots, and hourly rollups.
	CleanupInterval = 24 * time.Hour
)

// CLI timeouts for operator tool commands.
const (
	// CLIRequestTimeout is the default timeout for controlplanectl commands.
	CLIRequestTimeout = 10 * time.Second
)
