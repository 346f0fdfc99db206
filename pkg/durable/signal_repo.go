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
	"github.com/mchmarny/trafficctl/pkg/signal"
)

// SignalRepo persists the sampled subset of Signals (errors always, a
// configurable fraction of successes).
type SignalRepo struct {
	db *sqlx.DB
}

// Insert stores one Signal.
func (r *SignalRepo) Insert(ctx context.Context, s *signal.Signal) error {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signals (id, tenant_id, service_name, endpoint, status, latency_ms, priority, customer_identifier, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ID, s.TenantID, s.ServiceName, s.Endpoint, s.Status, s.LatencyMS, s.Priority, nullIfEmpty(s.CustomerIdentifier), s.Timestamp)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// RawSignal is the shape used by RecentRaw's fallback query.
type RawSignal struct {
	LatencyMS float64   `db:"latency_ms"`
	Status    string    `db:"status"`
	Timestamp time.Time `db:"recorded_at"`
}

// RecentRaw returns the last limit raw signals for (tenant, service,
// endpoint), newest first. It is the Decision Engine's last-resort
// fallback when both the Fast Store and the Durable snapshot are missing.
func (r *SignalRepo) RecentRaw(ctx context.Context, tenantID, service, endpoint string, limit int) ([]RawSignal, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	var rows []RawSignal
	err := r.db.SelectContext(ctx, &rows, `
		SELECT latency_ms, status, recorded_at
		FROM signals
		WHERE tenant_id = $1 AND service_name = $2 AND endpoint = $3
		ORDER BY recorded_at DESC
		LIMIT $4
	`, tenantID, service, endpoint, limit)
	if err != nil {
		return nil, fmt.Errorf("recent raw signals: %w", err)
	}
	return rows, nil
}

// DeleteOlderThan removes raw signals recorded before cutoff, returning the
// number of rows deleted. Used by the daily cleanup worker (spec.md §4.4).
func (r *SignalRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM signals WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old signals: %w", err)
	}
	return res.RowsAffected()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
