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

package httpapi

import (
	"context"
	"sort"

	"github.com/mchmarny/trafficctl/pkg/aggregator"
	"github.com/mchmarny/trafficctl/pkg/decision"
	"github.com/mchmarny/trafficctl/pkg/defaults"
	"github.com/mchmarny/trafficctl/pkg/durable"
)

// windowReader is the Aggregator's read-side contract, narrowed so tests
// substitute a fake instead of a live Redis connection.
type windowReader interface {
	Read(ctx context.Context, tenantID, service, endpoint string, w aggregator.Window) (aggregator.Metrics, bool, error)
	ClientRate(ctx context.Context, tenantID, service, endpoint, clientID string) (int64, error)
}

// snapshotReader is the Durable Snapshot fallback tier's contract.
type snapshotReader interface {
	Latest(ctx context.Context, tenantID, service, endpoint, window string) (durable.Snapshot, error)
}

// rawSignalReader is the last-resort raw-signal fallback tier's contract.
type rawSignalReader interface {
	RecentRaw(ctx context.Context, tenantID, service, endpoint string, limit int) ([]durable.RawSignal, error)
}

// metricsResolver assembles decision.Metrics through the Aggregator's
// fallback chain referenced by pkg/decision's package doc: Fast Store
// first, then the latest Durable Snapshot, then raw signal rows. Each
// tier is tried only when the one before it found nothing, not when it
// errored — a live query error is reported to the caller rather than
// silently falling through to stale data.
type metricsResolver struct {
	aggregator windowReader
	snapshots  snapshotReader
	signals    rawSignalReader
}

func newMetricsResolver(agg windowReader, snapshots snapshotReader, signals rawSignalReader) *metricsResolver {
	return &metricsResolver{aggregator: agg, snapshots: snapshots, signals: signals}
}

// resolve returns the best-available Metrics for (tenantID, service,
// endpoint) plus the tier name it came from ("fast_store",
// "durable_snapshot", "raw_signals", or "none"). clientID may be empty,
// in which case ClientRPM is left at zero.
func (m *metricsResolver) resolve(ctx context.Context, tenantID, service, endpoint, clientID string) (decision.Metrics, string, error) {
	metrics, source, err := m.resolveWindow(ctx, tenantID, service, endpoint)
	if err != nil {
		return decision.Metrics{}, "", err
	}

	if clientID != "" {
		rate, err := m.aggregator.ClientRate(ctx, tenantID, service, endpoint, clientID)
		if err != nil {
			return decision.Metrics{}, "", err
		}
		metrics.ClientRPM = float64(rate)
	}
	return metrics, source, nil
}

func (m *metricsResolver) resolveWindow(ctx context.Context, tenantID, service, endpoint string) (decision.Metrics, string, error) {
	fast, found, err := m.aggregator.Read(ctx, tenantID, service, endpoint, aggregator.Window1m)
	if err != nil {
		return decision.Metrics{}, "", err
	}
	if found && fast.Count > 0 {
		return fromAggregatorMetrics(fast), "fast_store", nil
	}

	snap, err := m.snapshots.Latest(ctx, tenantID, service, endpoint, string(aggregator.Window1h))
	if err == nil {
		return fromSnapshot(snap), "durable_snapshot", nil
	}
	if err != durable.ErrNoSnapshot {
		return decision.Metrics{}, "", err
	}

	rows, err := m.signals.RecentRaw(ctx, tenantID, service, endpoint, defaults.DecisionRawSignalLimit)
	if err != nil {
		return decision.Metrics{}, "", err
	}
	if len(rows) == 0 {
		return decision.Metrics{}, "none", nil
	}
	return fromRawSignals(rows), "raw_signals", nil
}

func fromAggregatorMetrics(a aggregator.Metrics) decision.Metrics {
	return decision.Metrics{
		Count:        int(a.Count),
		AvgLatencyMS: a.AvgLatencyMS,
		ErrorRate:    a.ErrorRate,
		GlobalRPM:    a.RequestsPerMinute,
		P50:          a.P50,
		P95:          a.P95,
		P99:          a.P99,
	}
}

func fromSnapshot(s durable.Snapshot) decision.Metrics {
	if s.Count == 0 {
		return decision.Metrics{}
	}
	return decision.Metrics{
		Count:        s.Count,
		AvgLatencyMS: s.SumLatencyMS / float64(s.Count),
		ErrorRate:    float64(s.ErrorCount) / float64(s.Count),
		GlobalRPM:    float64(s.Count) / windowMinutes(s.Window),
		P50:          s.P50LatencyMS,
		P95:          s.P95LatencyMS,
		P99:          s.P99LatencyMS,
	}
}

func windowMinutes(window string) float64 {
	switch aggregator.Window(window) {
	case aggregator.Window1h:
		return 60
	case aggregator.Window24h:
		return 24 * 60
	default:
		return 1
	}
}

// fromRawSignals computes the last-resort tier directly from recent raw
// rows. GlobalRPM is left at zero: ten rows give no reliable rate signal,
// and the engine's rate-based rules (queue, shed, per-client) are
// intentionally conservative when working off this tier.
func fromRawSignals(rows []durable.RawSignal) decision.Metrics {
	latencies := make([]float64, len(rows))
	errorCount := 0
	var sumLatency float64
	for i, r := range rows {
		latencies[i] = r.LatencyMS
		sumLatency += r.LatencyMS
		if r.Status == "error" {
			errorCount++
		}
	}
	sort.Float64s(latencies)

	return decision.Metrics{
		Count:        len(rows),
		AvgLatencyMS: sumLatency / float64(len(rows)),
		ErrorRate:    float64(errorCount) / float64(len(rows)),
		P50:          aggregator.Percentile(latencies, 50),
		P95:          aggregator.Percentile(latencies, 95),
		P99:          aggregator.Percentile(latencies, 99),
	}
}
