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

// Threshold holds the tunable knobs the Decision Engine reads for one
// endpoint. The shed>queue invariant (spec.md §4.3) is enforced by
// pkg/threshold before Upsert is called, not here — this repository only
// persists rows it is handed.
type Threshold struct {
	TenantID     string    `db:"tenant_id"`
	ServiceName  string    `db:"service_name"`
	Endpoint     string    `db:"endpoint"`
	CacheMS      int       `db:"cache_latency_ms"`
	BreakerRate  float64   `db:"breaker_error_rate"`
	QueueRPM     int       `db:"queue_rpm"`
	ShedRPM      int       `db:"shed_rpm"`
	PerClientRPM int       `db:"per_client_rpm"`
	Confidence   *float64  `db:"confidence"`
	Reasoning    *string   `db:"reasoning"`
	Source       string    `db:"source"`
	LastUpdated  time.Time `db:"last_updated"`
}

// DefaultThreshold returns the factory-default thresholds for an endpoint
// with no tuning history, per spec.md §4.3: cache 500ms, breaker 30%,
// queue 80rpm, shed 150rpm, per-client 15rpm.
func DefaultThreshold(tenantID, service, endpoint string) Threshold {
	return Threshold{
		TenantID:     tenantID,
		ServiceName:  service,
		Endpoint:     endpoint,
		CacheMS:      500,
		BreakerRate:  0.30,
		QueueRPM:     80,
		ShedRPM:      150,
		PerClientRPM: 15,
		Source:       "default",
	}
}

// ThresholdRepo persists per-endpoint Decision Engine thresholds.
type ThresholdRepo struct {
	db *sqlx.DB
}

// ReadOne returns the threshold row for an endpoint, or the factory default
// (source="default", not persisted) if none exists yet.
func (r *ThresholdRepo) ReadOne(ctx context.Context, tenantID, service, endpoint string) (Threshold, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	var th Threshold
	err := r.db.GetContext(ctx, &th, `
		SELECT tenant_id, service_name, endpoint, cache_latency_ms, breaker_error_rate,
		       queue_rpm, shed_rpm, per_client_rpm, confidence, reasoning, source, last_updated
		FROM ai_thresholds
		WHERE tenant_id = $1 AND service_name = $2 AND endpoint = $3
	`, tenantID, service, endpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultThreshold(tenantID, service, endpoint), nil
	}
	if err != nil {
		return Threshold{}, fmt.Errorf("read threshold: %w", err)
	}
	return th, nil
}

// Upsert inserts or replaces the threshold row for an endpoint. Callers
// (pkg/threshold) must have already validated shed>queue and the field
// ranges from spec.md §4.3.
func (r *ThresholdRepo) Upsert(ctx context.Context, th Threshold) error {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO ai_thresholds (
			tenant_id, service_name, endpoint, cache_latency_ms, breaker_error_rate,
			queue_rpm, shed_rpm, per_client_rpm, confidence, reasoning, source, last_updated
		) VALUES (
			:tenant_id, :service_name, :endpoint, :cache_latency_ms, :breaker_error_rate,
			:queue_rpm, :shed_rpm, :per_client_rpm, :confidence, :reasoning, :source, now()
		)
		ON CONFLICT (tenant_id, service_name, endpoint) DO UPDATE SET
			cache_latency_ms = EXCLUDED.cache_latency_ms,
			breaker_error_rate = EXCLUDED.breaker_error_rate,
			queue_rpm = EXCLUDED.queue_rpm,
			shed_rpm = EXCLUDED.shed_rpm,
			per_client_rpm = EXCLUDED.per_client_rpm,
			confidence = EXCLUDED.confidence,
			reasoning = EXCLUDED.reasoning,
			source = EXCLUDED.source,
			last_updated = now()
	`, th)
	if err != nil {
		return fmt.Errorf("upsert threshold: %w", err)
	}
	return nil
}

// AllTuned returns every endpoint with a persisted (non-default) threshold
// row, the candidate set the Tuner re-evaluates each pass.
func (r *ThresholdRepo) AllTuned(ctx context.Context) ([]EndpointKey, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	var rows []EndpointKey
	err := r.db.SelectContext(ctx, &rows, `
		SELECT tenant_id, service_name, endpoint FROM ai_thresholds
	`)
	if err != nil {
		return nil, fmt.Errorf("all tuned endpoints: %w", err)
	}
	return rows, nil
}
