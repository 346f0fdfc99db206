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

package durable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mchmarny/trafficctl/pkg/defaults"
)

// Snapshot is a point-in-time copy of a Fast Store window, written
// periodically so the Decision Engine has a durable fallback when Redis is
// unreachable (spec.md §4.4).
type Snapshot struct {
	TenantID     string    `db:"tenant_id"`
	ServiceName  string    `db:"service_name"`
	Endpoint     string    `db:"endpoint"`
	Window       string    `db:"window"`
	SnapshotAt   time.Time `db:"snapshot_at"`
	Count        int       `db:"count"`
	SumLatencyMS float64   `db:"sum_latency_ms"`
	ErrorCount   int       `db:"error_count"`
	P50LatencyMS float64   `db:"p50_latency_ms"`
	P95LatencyMS float64   `db:"p95_latency_ms"`
	P99LatencyMS float64   `db:"p99_latency_ms"`
}

// SnapshotRepo persists Fast Store snapshots for the Decision Engine's
// durable-fallback path.
type SnapshotRepo struct {
	db *sqlx.DB
}

// Insert records one snapshot row.
func (r *SnapshotRepo) Insert(ctx context.Context, s Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO aggregate_snapshots (
			tenant_id, service_name, endpoint, window, snapshot_at,
			count, sum_latency_ms, error_count, p50_latency_ms, p95_latency_ms, p99_latency_ms
		) VALUES (
			:tenant_id, :service_name, :endpoint, :window, :snapshot_at,
			:count, :sum_latency_ms, :error_count, :p50_latency_ms, :p95_latency_ms, :p99_latency_ms
		)
	`, s)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// ErrNoSnapshot is returned by Latest when no snapshot exists for the window.
var ErrNoSnapshot = errors.New("durable: no snapshot for window")

// Latest returns the most recent snapshot for (tenant, service, endpoint,
// window), the second rung of the Decision Engine's fallback chain
// (spec.md §4.6: Fast Store, then latest Durable snapshot, then raw signals).
func (r *SnapshotRepo) Latest(ctx context.Context, tenantID, service, endpoint, window string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	var s Snapshot
	err := r.db.GetContext(ctx, &s, `
		SELECT tenant_id, service_name, endpoint, window, snapshot_at,
		       count, sum_latency_ms, error_count, p50_latency_ms, p95_latency_ms, p99_latency_ms
		FROM aggregate_snapshots
		WHERE tenant_id = $1 AND service_name = $2 AND endpoint = $3 AND window = $4
		ORDER BY snapshot_at DESC
		LIMIT 1
	`, tenantID, service, endpoint, window)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}
	return s, nil
}

// DeleteOlderThan removes snapshot rows recorded before cutoff (30-day
// retention, spec.md §4.4).
func (r *SnapshotRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM aggregate_snapshots WHERE snapshot_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old snapshots: %w", err)
	}
	return res.RowsAffected()
}
