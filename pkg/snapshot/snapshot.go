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

// Package snapshot runs the Snapshot Worker: it periodically copies the
// Fast Store's 1h and 24h window aggregates into the Durable Store, so the
// Decision Engine's fallback chain has a recent durable copy to read from
// if Redis is ever unreachable or restarted (spec.md §4.4). The 1m window
// is never snapshotted: it rolls over every minute and a 30-minute-old
// copy of it would already be stale by the time anything read it back.
package snapshot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mchmarny/trafficctl/pkg/aggregator"
	"github.com/mchmarny/trafficctl/pkg/defaults"
	"github.com/mchmarny/trafficctl/pkg/durable"
	"github.com/mchmarny/trafficctl/pkg/faststore"
)

// snapshottedWindows are the only windows this worker persists; see the
// package doc for why 1m is excluded.
var snapshottedWindows = []aggregator.Window{aggregator.Window1h, aggregator.Window24h}

// Worker periodically copies Fast Store aggregates into the Durable
// Store's aggregate_snapshots table.
type Worker struct {
	store      *faststore.Store
	aggregator *aggregator.Aggregator
	snapshots  *durable.SnapshotRepo
	interval   time.Duration
	retention  time.Duration
}

// Option configures a Worker.
type Option func(*Worker)

// WithInterval overrides defaults.SnapshotInterval.
func WithInterval(d time.Duration) Option {
	return func(w *Worker) { w.interval = d }
}

// New builds a Worker over an existing Fast Store, Aggregator, and
// Durable Store.
func New(store *faststore.Store, agg *aggregator.Aggregator, durableStore *durable.Store) *Worker {
	return &Worker{
		store:      store,
		aggregator: agg,
		snapshots:  durableStore.Snapshots(),
		interval:   defaults.SnapshotInterval,
		retention:  30 * 24 * time.Hour,
	}
}

// Run blocks, snapshotting every interval until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx, time.Now())
	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx, time.Now())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce scans the Fast Store for every endpoint currently tracked in
// each snapshotted window, persists one row per (endpoint, window), then
// deletes snapshots older than the 30-day retention window.
func (w *Worker) RunOnce(ctx context.Context, now time.Time) {
	created, skipped := 0, 0
	for _, window := range snapshottedWindows {
		keys, err := w.store.ScanKeys(ctx, windowScanPattern(window))
		if err != nil {
			slog.Error("snapshot: scan failed", "window", window, "error", err)
			continue
		}

		for _, key := range keys {
			tenantID, service, endpoint, ok := parseWindowKey(key, window)
			if !ok {
				skipped++
				continue
			}

			metrics, found, err := w.aggregator.Read(ctx, tenantID, service, endpoint, window)
			if err != nil {
				slog.Error("snapshot: read aggregate failed",
					"tenant", tenantID, "service", service, "endpoint", endpoint, "window", window, "error", err)
				skipped++
				continue
			}
			if !found {
				skipped++
				continue
			}

			row := durable.Snapshot{
				TenantID:     tenantID,
				ServiceName:  service,
				Endpoint:     endpoint,
				Window:       string(window),
				SnapshotAt:   now,
				Count:        int(metrics.Count),
				SumLatencyMS: metrics.AvgLatencyMS * float64(metrics.Count),
				ErrorCount:   int(metrics.ErrorRate * float64(metrics.Count)),
				P50LatencyMS: metrics.P50,
				P95LatencyMS: metrics.P95,
				P99LatencyMS: metrics.P99,
			}
			if err := w.snapshots.Insert(ctx, row); err != nil {
				slog.Error("snapshot: insert failed",
					"tenant", tenantID, "service", service, "endpoint", endpoint, "window", window, "error", err)
				skipped++
				continue
			}
			created++
		}
	}

	deleted, err := w.snapshots.DeleteOlderThan(ctx, now.Add(-w.retention))
	if err != nil {
		slog.Error("snapshot: cleanup failed", "error", err)
	}

	slog.Info("snapshot: pass complete", "created", created, "skipped", skipped, "deleted", deleted)
}

// windowScanPattern is the Fast Store key glob for one window's base keys.
// 1h and 24h keys carry no trailing time-bucket (unlike 1m), so this
// pattern matches exactly the aggregate keys and none of their
// ":latencies" reservoir siblings or per-client counters.
func windowScanPattern(w aggregator.Window) string {
	return "rt_agg:tenant:*:service:*:endpoint:*:" + string(w)
}

// parseWindowKey extracts (tenant, service, endpoint) from one Fast Store
// aggregate key for the given window, the inverse of
// pkg/aggregator's unexported windowKey. Because the window suffix is
// known up front (the caller only scans one window's pattern at a time),
// this never has to guess where the endpoint ends and the window begins.
func parseWindowKey(key string, w aggregator.Window) (tenantID, service, endpoint string, ok bool) {
	rest, ok := strings.CutPrefix(key, "rt_agg:tenant:")
	if !ok {
		return "", "", "", false
	}
	tenantID, rest, ok = strings.Cut(rest, ":service:")
	if !ok {
		return "", "", "", false
	}
	service, rest, ok = strings.Cut(rest, ":endpoint:")
	if !ok {
		return "", "", "", false
	}
	endpoint, ok = strings.CutSuffix(rest, ":"+string(w))
	if !ok || tenantID == "" || service == "" || endpoint == "" {
		return "", "", "", false
	}
	return tenantID, service, endpoint, true
}
