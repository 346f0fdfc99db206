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

// InsightKind enumerates the categories of Tuner output.
type InsightKind string

const (
	InsightPattern        InsightKind = "pattern"
	InsightAnomaly        InsightKind = "anomaly"
	InsightRecommendation InsightKind = "recommendation"
)

// Insight is one append-only Tuner observation for an endpoint.
type Insight struct {
	TenantID    string      `db:"tenant_id"`
	ServiceName string      `db:"service_name"`
	Endpoint    string      `db:"endpoint"`
	Kind        InsightKind `db:"kind"`
	Summary     string      `db:"summary"`
	Confidence  *float64    `db:"confidence"`
	CreatedAt   time.Time   `db:"created_at"`
}

// InsightRepo appends Tuner output. Rows are never updated or deleted by
// this package; retention of ai_insights is out of scope (spec.md Non-goals
// do not name a retention period for it, unlike signals/rollups/snapshots).
type InsightRepo struct {
	db *sqlx.DB
}

// Insert appends one Insight row. The Tuner writes one of these for every
// endpoint it skips for an open breaker or has enough signals to tune,
// regardless of whether it also upserted a Threshold (spec.md §4.7).
func (r *InsightRepo) Insert(ctx context.Context, in Insight) error {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO ai_insights (tenant_id, service_name, endpoint, kind, summary, confidence, created_at)
		VALUES (:tenant_id, :service_name, :endpoint, :kind, :summary, :confidence, now())
	`, in)
	if err != nil {
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}

// Recent returns the most recent insights for an endpoint, newest first,
// used to seed the Advisor prompt with prior reasoning (spec.md §4.7 FULL).
func (r *InsightRepo) Recent(ctx context.Context, tenantID, service, endpoint string, limit int) ([]Insight, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	var rows []Insight
	err := r.db.SelectContext(ctx, &rows, `
		SELECT tenant_id, service_name, endpoint, kind, summary, confidence, created_at
		FROM ai_insights
		WHERE tenant_id = $1 AND service_name = $2 AND endpoint = $3
		ORDER BY created_at DESC
		LIMIT $4
	`, tenantID, service, endpoint, limit)
	if err != nil {
		return nil, fmt.Errorf("recent insights: %w", err)
	}
	return rows, nil
}
