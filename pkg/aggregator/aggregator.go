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

// Package aggregator maintains the multi-tier sliding-window statistics
// (1m/1h/24h, plus per-client 1m) the Decision Engine reads. It is a thin
// key-naming and percentile layer over pkg/faststore: every exported method
// maps an (tenant, service, endpoint, window) tuple onto a Redis key and
// delegates the atomic work to the Fast Store.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mchmarny/trafficctl/pkg/defaults"
	"github.com/mchmarny/trafficctl/pkg/faststore"
	"github.com/mchmarny/trafficctl/pkg/signal"
)

// Window identifies one of the three tracked aggregation periods.
type Window string

const (
	Window1m  Window = "1m"
	Window1h  Window = "1h"
	Window24h Window = "24h"
)

var allWindows = []Window{Window1m, Window1h, Window24h}

const reservoirLimit = int64(defaults.FastStoreReservoirLimit)

// Aggregator updates and queries window aggregates over the Fast Store.
type Aggregator struct {
	store *faststore.Store
}

// New builds an Aggregator over an existing Fast Store connection.
func New(store *faststore.Store) *Aggregator {
	return &Aggregator{store: store}
}

// Metrics is the read-side snapshot the Decision Engine consumes.
type Metrics struct {
	Count             int64
	AvgLatencyMS      float64
	ErrorRate         float64
	RequestsPerMinute float64
	P50, P95, P99     float64
}

// Update applies one Signal's contribution to every tracked window, plus
// the per-client minute bucket when a customer identifier is present.
// Aggregator failures are reported to the caller (the Consumer treats them
// as non-fatal per spec.md §4.1 step 1, but that decision belongs there,
// not here).
func (a *Aggregator) Update(ctx context.Context, s *signal.Signal) error {
	isError := s.Status == signal.StatusError

	for _, w := range allWindows {
		key := windowKey(s.TenantID, s.ServiceName, s.Endpoint, w, time.Now())
		ttl := windowTTLSeconds(w)

		if _, err := a.store.IncrWindow(ctx, key, s.LatencyMS, isError, ttl); err != nil {
			return fmt.Errorf("aggregator: update window %s: %w", w, err)
		}
		if err := a.store.AddLatencySample(ctx, reservoirKey(key), s.IngestSeq, s.LatencyMS, reservoirLimit, ttl); err != nil {
			return fmt.Errorf("aggregator: update reservoir %s: %w", w, err)
		}
	}

	if s.CustomerIdentifier != "" {
		key := perClientKey(s.TenantID, s.ServiceName, s.Endpoint, s.CustomerIdentifier, time.Now())
		if _, err := a.store.IncrPerClient(ctx, key, 120); err != nil {
			return fmt.Errorf("aggregator: update per-client: %w", err)
		}
	}
	return nil
}

// Read returns the Metrics for (tenant, service, endpoint, window), or
// found=false if the window has no data yet (a fresh endpoint).
func (a *Aggregator) Read(ctx context.Context, tenantID, service, endpoint string, w Window) (metrics Metrics, found bool, err error) {
	key := windowKey(tenantID, service, endpoint, w, time.Now())

	counters, ok, err := a.store.GetWindow(ctx, key)
	if err != nil {
		return Metrics{}, false, fmt.Errorf("aggregator: read window %s: %w", w, err)
	}
	if !ok || counters.Count == 0 {
		return Metrics{}, false, nil
	}

	samples, err := a.store.LatencySamples(ctx, reservoirKey(key))
	if err != nil {
		return Metrics{}, false, fmt.Errorf("aggregator: read reservoir %s: %w", w, err)
	}
	sort.Float64s(samples)

	m := Metrics{
		Count:        counters.Count,
		AvgLatencyMS: float64(counters.SumLatency) / float64(counters.Count),
		ErrorRate:    float64(counters.Errors) / float64(counters.Count),
		P50:          Percentile(samples, 50),
		P95:          Percentile(samples, 95),
		P99:          Percentile(samples, 99),
	}

	rpm, err := a.requestsPerMinute(ctx, tenantID, service, endpoint, w, counters.Count)
	if err != nil {
		return Metrics{}, false, err
	}
	m.RequestsPerMinute = rpm

	return m, true, nil
}

// ClientRate returns the per-client request count in the current minute
// bucket for (tenant, service, endpoint, client).
func (a *Aggregator) ClientRate(ctx context.Context, tenantID, service, endpoint, clientID string) (int64, error) {
	key := perClientKey(tenantID, service, endpoint, clientID, time.Now())
	counters, found, err := a.store.GetWindow(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("aggregator: client rate: %w", err)
	}
	if !found {
		return 0, nil
	}
	return counters.Count, nil
}

// requestsPerMinute implements spec.md §4.2's rate query: the 1m window
// returns its bucket count directly; 1h/24h return the count of the live
// current-minute bucket when that bucket exists, and otherwise fall back
// to count/60 or count/1440.
func (a *Aggregator) requestsPerMinute(ctx context.Context, tenantID, service, endpoint string, w Window, count int64) (float64, error) {
	if w == Window1m {
		return float64(count), nil
	}

	minuteKey := windowKey(tenantID, service, endpoint, Window1m, time.Now())
	minuteCounters, found, err := a.store.GetWindow(ctx, minuteKey)
	if err != nil {
		return 0, fmt.Errorf("aggregator: current minute rate: %w", err)
	}
	if found {
		return float64(minuteCounters.Count), nil
	}

	windowMinutes := 60.0
	if w == Window24h {
		windowMinutes = 1440.0
	}
	return float64(count) / windowMinutes, nil
}

// Percentile computes the q-th percentile (q in 0..100) of a pre-sorted
// ascending slice using linear interpolation between the bracketing
// samples, per spec.md §4.2 and §8's percentile property. Returns 0 for an
// empty slice.
func Percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	k := (q / 100) * float64(n-1)
	f := int(k)
	c := f + 1
	if c >= n {
		c = f
	}
	d := k - float64(f)
	return sorted[f] + d*(sorted[c]-sorted[f])
}

func windowTTLSeconds(w Window) int64 {
	switch w {
	case Window1m:
		return 120
	case Window1h:
		return 3600
	case Window24h:
		return 86400
	default:
		return 60
	}
}

// windowKey builds the 1m time-bucketed key or the accumulating 1h/24h key,
// per spec.md §4.2 (bucket id = floor(epoch/60) for 1m).
func windowKey(tenantID, service, endpoint string, w Window, now time.Time) string {
	base := fmt.Sprintf("rt_agg:tenant:%s:service:%s:endpoint:%s:%s", tenantID, service, endpoint, w)
	if w == Window1m {
		bucket := now.Unix() / 60
		return fmt.Sprintf("%s:%d", base, bucket)
	}
	return base
}

func reservoirKey(windowKeyStr string) string {
	return windowKeyStr + ":latencies"
}

func perClientKey(tenantID, service, endpoint, clientID string, now time.Time) string {
	bucket := now.Unix() / 60
	return fmt.Sprintf("rt_agg:tenant:%s:service:%s:endpoint:%s:customer:%s:1m:%d", tenantID, service, endpoint, clientID, bucket)
}
