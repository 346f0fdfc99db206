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
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mchmarny/trafficctl/pkg/defaults"
)

// Rollup is one hourly or daily precomputed summary row.
type Rollup struct {
	TenantID     string    `db:"tenant_id"`
	ServiceName  string    `db:"service_name"`
	Endpoint     string    `db:"endpoint"`
	BucketStart  time.Time `db:"bucket_start"`
	Count        int       `db:"count"`
	ErrorCount   int       `db:"error_count"`
	AvgLatencyMS float64   `db:"avg_latency_ms"`
	MinLatencyMS float64   `db:"min_latency_ms"`
	MaxLatencyMS float64   `db:"max_latency_ms"`
	P50LatencyMS float64   `db:"p50_latency_ms"`
	P95LatencyMS float64   `db:"p95_latency_ms"`
	P99LatencyMS float64   `db:"p99_latency_ms"`
	ErrorRate    float64   `db:"error_rate"`
}

// RollupRepo persists hourly and daily rollups. Upserts are keyed on the
// bucket so re-running a rollup job is idempotent (spec.md §4.4).
type RollupRepo struct {
	db *sqlx.DB
}

// UpsertHourly inserts or replaces one hourly rollup row.
func (r *RollupRepo) UpsertHourly(ctx context.Context, row Rollup) error {
	return r.upsert(ctx, "hourly_rollups", row)
}

// UpsertDaily inserts or replaces one daily rollup row.
func (r *RollupRepo) UpsertDaily(ctx context.Context, row Rollup) error {
	return r.upsert(ctx, "daily_rollups", row)
}

func (r *RollupRepo) upsert(ctx context.Context, table string, row Rollup) error {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (
			tenant_id, service_name, endpoint, bucket_start,
			count, error_count, avg_latency_ms, min_latency_ms, max_latency_ms,
			p50_latency_ms, p95_latency_ms, p99_latency_ms, error_rate
		) VALUES (
			:tenant_id, :service_name, :endpoint, :bucket_start,
			:count, :error_count, :avg_latency_ms, :min_latency_ms, :max_latency_ms,
			:p50_latency_ms, :p95_latency_ms, :p99_latency_ms, :error_rate
		)
		ON CONFLICT (tenant_id, service_name, endpoint, bucket_start) DO UPDATE SET
			count = EXCLUDED.count,
			error_count = EXCLUDED.error_count,
			avg_latency_ms = EXCLUDED.avg_latency_ms,
			min_latency_ms = EXCLUDED.min_latency_ms,
			max_latency_ms = EXCLUDED.max_latency_ms,
			p50_latency_ms = EXCLUDED.p50_latency_ms,
			p95_latency_ms = EXCLUDED.p95_latency_ms,
			p99_latency_ms = EXCLUDED.p99_latency_ms,
			error_rate = EXCLUDED.error_rate
	`, table)

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

// DeleteHourlyOlderThan deletes hourly rollup rows recorded before cutoff
// and returns how many were deleted; used by the retention worker (90-day
// retention, spec.md §4.4).
func (r *RollupRepo) DeleteHourlyOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM hourly_rollups WHERE bucket_start < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old hourly rollups: %w", err)
	}
	return res.RowsAffected()
}

// HourlyForDay returns the hourly rollups belonging to one day, used as
// the input to the daily fold.
func (r *RollupRepo) HourlyForDay(ctx context.Context, tenantID, service, endpoint string, dayStart, dayEnd time.Time) ([]Rollup, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	var rows []Rollup
	err := r.db.SelectContext(ctx, &rows, `
		SELECT tenant_id, service_name, endpoint, bucket_start,
		       count, error_count, avg_latency_ms, min_latency_ms, max_latency_ms,
		       p50_latency_ms, p95_latency_ms, p99_latency_ms, error_rate
		FROM hourly_rollups
		WHERE tenant_id = $1 AND service_name = $2 AND endpoint = $3
		  AND bucket_start >= $4 AND bucket_start < $5
		ORDER BY bucket_start
	`, tenantID, service, endpoint, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("hourly rollups for day: %w", err)
	}
	return rows, nil
}

// DistinctEndpoints returns the (tenant, service, endpoint) triples that
// received raw signals within [from, to), the candidate set for the hourly
// rollup job.
func (r *RollupRepo) DistinctEndpoints(ctx context.Context, from, to time.Time) ([]EndpointKey, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	var rows []EndpointKey
	err := r.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT tenant_id, service_name, endpoint
		FROM signals
		WHERE recorded_at >= $1 AND recorded_at < $2
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("distinct endpoints: %w", err)
	}
	return rows, nil
}

// RawInWindow returns every raw signal for one endpoint within [from, to),
// used to compute exact percentiles for the hourly rollup.
func (r *RollupRepo) RawInWindow(ctx context.Context, tenantID, service, endpoint string, from, to time.Time) ([]RawSignal, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	var rows []RawSignal
	err := r.db.SelectContext(ctx, &rows, `
		SELECT latency_ms, status, recorded_at
		FROM signals
		WHERE tenant_id = $1 AND service_name = $2 AND endpoint = $3
		  AND recorded_at >= $4 AND recorded_at < $5
	`, tenantID, service, endpoint, from, to)
	if err != nil {
		return nil, fmt.Errorf("raw signals in window: %w", err)
	}
	return rows, nil
}

// EndpointKey identifies one (tenant, service, endpoint) triple.
type EndpointKey struct {
	TenantID string `db:"tenant_id"`
	Service  string `db:"service_name"`
	Endpoint string `db:"endpoint"`
}
