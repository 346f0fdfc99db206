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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchmarny/trafficctl/pkg/aggregator"
	"github.com/mchmarny/trafficctl/pkg/durable"
)

type fakeWindowReader struct {
	metrics   aggregator.Metrics
	found     bool
	readErr   error
	rate      int64
	rateErr   error
	readCalls []aggregator.Window
}

func (f *fakeWindowReader) Read(ctx context.Context, tenantID, service, endpoint string, w aggregator.Window) (aggregator.Metrics, bool, error) {
	f.readCalls = append(f.readCalls, w)
	return f.metrics, f.found, f.readErr
}

func (f *fakeWindowReader) ClientRate(ctx context.Context, tenantID, service, endpoint, clientID string) (int64, error) {
	return f.rate, f.rateErr
}

type fakeSnapshotReader struct {
	snapshot durable.Snapshot
	err      error
}

func (f *fakeSnapshotReader) Latest(ctx context.Context, tenantID, service, endpoint, window string) (durable.Snapshot, error) {
	return f.snapshot, f.err
}

type fakeRawSignalReader struct {
	rows []durable.RawSignal
	err  error
}

func (f *fakeRawSignalReader) RecentRaw(ctx context.Context, tenantID, service, endpoint string, limit int) ([]durable.RawSignal, error) {
	return f.rows, f.err
}

func TestResolveUsesFastStoreWhenPresent(t *testing.T) {
	agg := &fakeWindowReader{found: true, metrics: aggregator.Metrics{Count: 10, AvgLatencyMS: 120, ErrorRate: 0.1, RequestsPerMinute: 300, P50: 100, P95: 200, P99: 250}}
	snaps := &fakeSnapshotReader{err: durable.ErrNoSnapshot}
	raws := &fakeRawSignalReader{}
	r := newMetricsResolver(agg, snaps, raws)

	m, source, err := r.resolve(context.Background(), "tenant-a", "checkout", "/v1/cart", "")

	require.NoError(t, err)
	assert.Equal(t, "fast_store", source)
	assert.Equal(t, 10, m.Count)
	assert.Equal(t, 300.0, m.GlobalRPM)
	assert.Equal(t, []aggregator.Window{aggregator.Window1m}, agg.readCalls)
}

func TestResolveFallsBackToDurableSnapshotWhenFastStoreEmpty(t *testing.T) {
	agg := &fakeWindowReader{found: false}
	snaps := &fakeSnapshotReader{snapshot: durable.Snapshot{
		Count: 60, SumLatencyMS: 6000, ErrorCount: 6, Window: "1h",
		P50LatencyMS: 90, P95LatencyMS: 180, P99LatencyMS: 220,
	}}
	raws := &fakeRawSignalReader{}
	r := newMetricsResolver(agg, snaps, raws)

	m, source, err := r.resolve(context.Background(), "tenant-a", "checkout", "/v1/cart", "")

	require.NoError(t, err)
	assert.Equal(t, "durable_snapshot", source)
	assert.Equal(t, 60, m.Count)
	assert.InDelta(t, 100.0, m.AvgLatencyMS, 0.01)
	assert.InDelta(t, 0.1, m.ErrorRate, 0.001)
	assert.InDelta(t, 1.0, m.GlobalRPM, 0.001) // 60 signals over a 1h window = 1 rpm
}

func TestResolveFallsBackToRawSignalsWhenNoSnapshotEither(t *testing.T) {
	agg := &fakeWindowReader{found: false}
	snaps := &fakeSnapshotReader{err: durable.ErrNoSnapshot}
	raws := &fakeRawSignalReader{rows: []durable.RawSignal{
		{LatencyMS: 100, Status: "success"},
		{LatencyMS: 200, Status: "error"},
		{LatencyMS: 150, Status: "success"},
	}}
	r := newMetricsResolver(agg, snaps, raws)

	m, source, err := r.resolve(context.Background(), "tenant-a", "checkout", "/v1/cart", "")

	require.NoError(t, err)
	assert.Equal(t, "raw_signals", source)
	assert.Equal(t, 3, m.Count)
	assert.InDelta(t, 1.0/3.0, m.ErrorRate, 0.001)
	// Percentile takes a 0-100 scale; sorted latencies are [100, 150, 200].
	assert.InDelta(t, 150, m.P50, 0.01)
	assert.InDelta(t, 195, m.P95, 0.01)
	assert.InDelta(t, 199, m.P99, 0.01)
}

func TestResolveReturnsNoneWhenAllTiersEmpty(t *testing.T) {
	agg := &fakeWindowReader{found: false}
	snaps := &fakeSnapshotReader{err: durable.ErrNoSnapshot}
	raws := &fakeRawSignalReader{}
	r := newMetricsResolver(agg, snaps, raws)

	m, source, err := r.resolve(context.Background(), "tenant-a", "checkout", "/v1/cart", "")

	require.NoError(t, err)
	assert.Equal(t, "none", source)
	assert.Equal(t, 0, m.Count)
}

func TestResolvePropagatesFastStoreError(t *testing.T) {
	agg := &fakeWindowReader{readErr: errors.New("redis down")}
	r := newMetricsResolver(agg, &fakeSnapshotReader{}, &fakeRawSignalReader{})

	_, _, err := r.resolve(context.Background(), "tenant-a", "checkout", "/v1/cart", "")

	assert.Error(t, err)
}

func TestResolvePropagatesSnapshotErrorOtherThanNotFound(t *testing.T) {
	agg := &fakeWindowReader{found: false}
	snaps := &fakeSnapshotReader{err: errors.New("postgres down")}
	r := newMetricsResolver(agg, snaps, &fakeRawSignalReader{})

	_, _, err := r.resolve(context.Background(), "tenant-a", "checkout", "/v1/cart", "")

	assert.Error(t, err)
}

func TestResolveFillsClientRPMWhenClientIDProvided(t *testing.T) {
	agg := &fakeWindowReader{found: true, metrics: aggregator.Metrics{Count: 5}, rate: 42}
	r := newMetricsResolver(agg, &fakeSnapshotReader{}, &fakeRawSignalReader{})

	m, _, err := r.resolve(context.Background(), "tenant-a", "checkout", "/v1/cart", "customer-9")

	require.NoError(t, err)
	assert.Equal(t, 42.0, m.ClientRPM)
}

func TestResolveSkipsClientRateLookupWhenClientIDEmpty(t *testing.T) {
	agg := &fakeWindowReader{found: true, metrics: aggregator.Metrics{Count: 5}, rateErr: errors.New("should not be called")}
	r := newMetricsResolver(agg, &fakeSnapshotReader{}, &fakeRawSignalReader{})

	m, _, err := r.resolve(context.Background(), "tenant-a", "checkout", "/v1/cart", "")

	require.NoError(t, err)
	assert.Equal(t, 0.0, m.ClientRPM)
}
